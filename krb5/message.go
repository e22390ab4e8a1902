// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"github.com/golang-auth/go-gssapi-krb5"
)

// protection returns the suite and state for a per-message call on an established
// context.
func (c *SecContext) protection(qop gssapi.QoP) (MessageSuite, *Protection, error) {
	switch {
	case c.deleted || !c.isOpen():
		return nil, nil, fatal(gssapi.ErrNoContext, "context is not established")
	case c.expired():
		return nil, nil, fatal(gssapi.ErrContextExpired, "context expired at %s", c.expiry)
	case qop != 0:
		return nil, nil, fatal(gssapi.ErrBadQop, "unsupported QoP %d", qop)
	}

	key, acceptorSubkey := c.ac.protectionKey(c.isInitiator())
	if key == nil {
		return nil, nil, fatal(gssapi.ErrNoContext, "context has no key")
	}

	s, err := c.mech.suite(key.KeyType)
	if err != nil {
		return nil, nil, err
	}

	return s, &Protection{
		Key:            *key,
		Initiator:      c.isInitiator(),
		SendSeq:        c.ac.LocalSeq,
		RecvSeq:        c.ac.RemoteSeq,
		AcceptorSubkey: acceptorSubkey,
		Crypto:         c.mech.crypto,
	}, nil
}

// GetMIC returns a token carrying a signature over msg.
func (c *SecContext) GetMIC(msg []byte, qop gssapi.QoP) ([]byte, error) {
	s, p, err := c.protection(qop)
	if err != nil {
		return nil, err
	}

	tok, err := s.GetMIC(p, msg)
	if err != nil {
		return nil, asStatus(gssapi.ErrFailure, err)
	}

	c.ac.LocalSeq++
	return tok, nil
}

// VerifyMIC checks a token from GetMIC against msg.  The expected sequence number
// only advances when the token is good.
func (c *SecContext) VerifyMIC(msg, tok []byte) (gssapi.QoP, error) {
	s, p, err := c.protection(0)
	if err != nil {
		return 0, err
	}

	if err := s.VerifyMIC(p, msg, tok); err != nil {
		return 0, asStatus(gssapi.ErrBadMic, err)
	}

	c.ac.RemoteSeq++
	return 0, nil
}

// Wrap protects msg and returns the token for the peer.  Confidentiality is applied if
// requested and available on the context, as reported by confState.
func (c *SecContext) Wrap(msg []byte, conf bool, qop gssapi.QoP) (tok []byte, confState bool, err error) {
	s, p, err := c.protection(qop)
	if err != nil {
		return nil, false, err
	}

	conf = conf && c.flags&gssapi.ContextFlagConf != 0

	tok, err = s.Wrap(p, msg, conf)
	if err != nil {
		return nil, false, asStatus(gssapi.ErrFailure, err)
	}

	c.ac.LocalSeq++
	return tok, conf, nil
}

// Unwrap verifies a token from Wrap and returns the message.  The expected sequence
// number only advances when the token is good.
func (c *SecContext) Unwrap(tok []byte) (msg []byte, confState bool, qop gssapi.QoP, err error) {
	s, p, err := c.protection(0)
	if err != nil {
		return nil, false, 0, err
	}

	msg, confState, err = s.Unwrap(p, tok)
	if err != nil {
		return nil, false, 0, asStatus(gssapi.ErrBadMic, err)
	}

	c.ac.RemoteSeq++
	return msg, confState, 0, nil
}

// WrapSizeLimit returns the largest message that Wrap turns into a token of no more
// than maxOut bytes.
func (c *SecContext) WrapSizeLimit(conf bool, maxOut uint, qop gssapi.QoP) (uint, error) {
	s, p, err := c.protection(qop)
	if err != nil {
		return 0, err
	}

	conf = conf && c.flags&gssapi.ContextFlagConf != 0
	return s.WrapSizeLimit(p, conf, maxOut), nil
}
