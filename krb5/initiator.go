// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"time"

	"github.com/jcmturner/gokrb5/v8/messages"

	"github.com/golang-auth/go-gssapi-krb5"
)

type initOptions struct {
	cred     *Credential
	flags    gssapi.ContextFlag
	cb       *gssapi.ChannelBinding
	lifetime time.Duration
}

// InitSecContextOption configures InitSecContext.
type InitSecContextOption func(o *initOptions)

// WithInitiatorCredential sets the initiator credential.  By default a credential is
// acquired from the mechanism's ticket cache.
func WithInitiatorCredential(cred *Credential) InitSecContextOption {
	return func(o *initOptions) {
		o.cred = cred
	}
}

// WithInitiatorFlags requests context facilities.  Confidentiality and integrity are
// always provided.
func WithInitiatorFlags(flags gssapi.ContextFlag) InitSecContextOption {
	return func(o *initOptions) {
		o.flags = flags
	}
}

// WithInitiatorChannelBinding binds the context to the channel described by cb.
func WithInitiatorChannelBinding(cb *gssapi.ChannelBinding) InitSecContextOption {
	return func(o *initOptions) {
		o.cb = cb
	}
}

// WithInitiatorLifetime limits the lifetime of the context.
func WithInitiatorLifetime(d time.Duration) InitSecContextOption {
	return func(o *initOptions) {
		o.lifetime = d
	}
}

// Requested flags the initiator can negotiate
const initiatorFlags = gssapi.ContextFlagDeleg | gssapi.ContextFlagMutual |
	gssapi.ContextFlagReplay | gssapi.ContextFlagSequence

// InitSecContext starts a context with target and returns the token to send to the
// acceptor.  If mutual authentication was requested the context then needs the
// acceptor's reply, passed to Continue; otherwise it is ready for use.
func (m *Mech) InitSecContext(target *Name, opts ...InitSecContextOption) (*SecContext, []byte, error) {
	o := initOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if target == nil {
		return nil, nil, fatal(gssapi.ErrBadName, "no target name")
	}

	cred := o.cred
	if cred == nil {
		var err error
		if cred, err = m.AcquireCredential(nil, gssapi.CredUsageInitiateOnly, 0); err != nil {
			return nil, nil, err
		}
	}
	switch {
	case cred.released || cred.cache == nil || !cred.usage.CanInitiate():
		return nil, nil, fatal(gssapi.ErrNoCred, "credential cannot be used to initiate a context")
	case cred.expired():
		return nil, nil, fatal(gssapi.ErrCredentialsExpired, "initiator credential has expired")
	}

	c := &SecContext{
		mech:       m,
		ac:         newAuthContext(),
		target:     target.Clone(),
		localFlags: localFlagInitiator,
		cred:       cred,
	}

	tok, err := c.initiate(&o)
	if err != nil {
		return nil, nil, c.fail(err)
	}
	return c, tok, nil
}

func (c *SecContext) initiate(o *initOptions) ([]byte, error) {
	m := c.mech

	if err := c.ac.setAddresses(o.cb, true); err != nil {
		return nil, err
	}

	sc, err := m.tickets.AcquireServiceCredential(c.cred, c.target, o.lifetime)
	if err != nil {
		return nil, asStatus(gssapi.ErrFailure, err)
	}

	sessionKey := sc.SessionKey
	c.ac.SessionKey = &sessionKey
	c.source = sc.Client.Clone()
	c.expiry = sc.EndTime
	if e := expiryAfter(o.lifetime); !e.IsZero() && (c.expiry.IsZero() || e.Before(c.expiry)) {
		c.expiry = e
	}

	subkey, err := m.tickets.GenerateSubkey(sessionKey)
	if err != nil {
		return nil, asStatus(gssapi.ErrFailure, err)
	}
	c.ac.LocalSubkey = &subkey

	flags := o.flags&initiatorFlags | gssapi.ContextFlagConf | gssapi.ContextFlagInteg

	var deleg []byte
	if flags&gssapi.ContextFlagDeleg != 0 {
		deleg, err = m.tickets.RequestForwardedTicket(c.ac, c.cred, c.target)
		if err != nil || len(deleg) == 0 {
			m.logf("gssapi: krb5: not delegating credentials: %v", err)
			flags &^= gssapi.ContextFlagDeleg
			deleg = nil
		}
	}

	cksum, err := BuildChecksum(m.crypto, o.cb, flags, deleg)
	if err != nil {
		return nil, err
	}

	req, err := m.tickets.BuildAuthenticator(c.ac, sc, cksum, flags)
	if err != nil {
		return nil, asStatus(gssapi.ErrFailure, err)
	}

	// the context can always be exported; that is not negotiated
	c.flags = flags | gssapi.ContextFlagTrans
	c.channelBound = o.cb != nil

	if flags&gssapi.ContextFlagMutual != 0 {
		c.continueNeeded = true
	} else {
		// both directions start from the authenticator's sequence number
		c.ac.RemoteSeq = c.ac.LocalSeq
		c.open()
	}

	m.logf("gssapi: krb5: initiated context %s -> %s, flags [%s]", c.source, c.target, c.flags)
	return Encapsulate(req, TokenAPReq), nil
}

// Continue processes the acceptor's mutual authentication reply.  A failure destroys
// the context.
func (c *SecContext) Continue(tok []byte) ([]byte, error) {
	if c.deleted {
		return nil, fatal(gssapi.ErrNoContext, "context has been deleted")
	}
	if !c.continueNeeded {
		return nil, fatal(gssapi.ErrFailure, "context is not waiting for a reply token")
	}

	if t, ok := PeekTokenType(tok); ok && t == TokenKRBError {
		return nil, c.fail(krbErrorStatus(tok))
	}

	rep, err := Decapsulate(tok, TokenAPRep)
	if err != nil {
		return nil, c.fail(err)
	}

	if err := c.mech.tickets.ValidateReply(c.ac, rep); err != nil {
		return nil, c.fail(asStatus(gssapi.ErrFailure, err))
	}

	c.open()
	return nil, nil
}

// krbErrorStatus returns the error carried by a KRB-ERROR token.
func krbErrorStatus(tok []byte) error {
	b, err := Decapsulate(tok, TokenKRBError)
	if err != nil {
		return err
	}

	var krbErr messages.KRBError
	if err := krbErr.Unmarshal(b); err != nil {
		return fatalErr(gssapi.ErrDefectiveToken, err)
	}
	return fatalErr(gssapi.ErrFailure, krbErr)
}
