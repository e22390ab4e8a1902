// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"time"

	"github.com/jcmturner/gokrb5/v8/messages"

	"github.com/golang-auth/go-gssapi-krb5"
)

// Local context state, kept apart from the negotiated flags
const (
	localFlagInitiator uint32 = 1 << iota
	localFlagOpen
)

// SecContext is a Kerberos security context.  A SecContext must not be used by
// more than one goroutine at a time.
type SecContext struct {
	mech           *Mech
	ac             *AuthContext
	source         *Name
	target         *Name
	flags          gssapi.ContextFlag
	localFlags     uint32
	continueNeeded bool
	deleted        bool
	expiry         time.Time // zero for indefinite
	ticket         *messages.Ticket
	cred           *Credential
	delegated      *Credential
	channelBound   bool
}

// SecContextInfo describes a security context.
type SecContextInfo struct {
	InitiatorName    *Name
	AcceptorName     *Name
	Mech             gssapi.Oid
	Flags            gssapi.ContextFlag
	ExpiresAt        gssapi.GssLifetime
	LocallyInitiated bool
	FullyEstablished bool
	ProtectionReady  bool
	Transferrable    bool
}

func (c *SecContext) isInitiator() bool {
	return c.localFlags&localFlagInitiator != 0
}

func (c *SecContext) isOpen() bool {
	return c.localFlags&localFlagOpen != 0
}

// open marks the context established and fixes the key used for messages.
func (c *SecContext) open() {
	if key, _ := c.ac.protectionKey(c.isInitiator()); key != nil {
		c.ac.KeyType = key.KeyType
		c.ac.CksumType = checksumTypeFor(key.KeyType)
	}

	c.flags |= gssapi.ContextFlagProtReady
	c.localFlags |= localFlagOpen
	c.continueNeeded = false
}

// fail destroys a context that could not be established.
func (c *SecContext) fail(err error) error {
	c.mech.logf("gssapi: krb5: context establishment failed: %s", err)
	_, _ = c.Delete()
	return err
}

// ContinueNeeded reports whether the initiator is waiting for a reply token.
func (c *SecContext) ContinueNeeded() bool {
	return c.continueNeeded && !c.deleted
}

// Flags returns the negotiated context flags.
func (c *SecContext) Flags() gssapi.ContextFlag {
	return c.flags
}

// Ticket returns the ticket an acceptor context was established with.
func (c *SecContext) Ticket() *messages.Ticket {
	return c.ticket
}

// ChannelBound reports whether both parties bound the context to the same channel.
// An initiator cannot know whether the acceptor checked its bindings, so this only
// reports that bindings were sent.
func (c *SecContext) ChannelBound() bool {
	return c.channelBound
}

// DelegatedCredential returns the credential the initiator delegated to the
// acceptor, if any.
func (c *SecContext) DelegatedCredential() *Credential {
	return c.delegated
}

// Delete destroys the context.  Deleting a context more than once is harmless.
// No token is produced for the peer.
func (c *SecContext) Delete() ([]byte, error) {
	if c.deleted {
		return nil, nil
	}

	c.ac = nil
	c.source = nil
	c.target = nil
	c.ticket = nil
	c.cred = nil
	c.delegated = nil
	c.channelBound = false
	c.localFlags &^= localFlagOpen
	c.continueNeeded = false
	c.deleted = true
	return nil, nil
}

// ProcessToken handles a context token from the peer.  A delete token, RFC 1964
// § 1.2.2, destroys the context once its checksum and sequence number verify.
// Contexts with RFC 4121 keys have no delete tokens.
func (c *SecContext) ProcessToken(tok []byte) error {
	if c.deleted {
		return fatal(gssapi.ErrNoContext, "context has been deleted")
	}

	if t, ok := PeekTokenType(tok); !ok || t != TokenDelete {
		return fatal(gssapi.ErrDefectiveToken, "not a context token")
	}

	s, p, err := c.protection(0)
	if err != nil {
		return err
	}
	v, ok := s.(DeleteTokenVerifier)
	if !ok {
		return fatal(gssapi.ErrDefectiveToken, "no context deletion tokens for encryption type %d", p.Key.KeyType)
	}
	if err := v.VerifyDeleteToken(p, tok); err != nil {
		return asStatus(gssapi.ErrBadMic, err)
	}

	_, err = c.Delete()
	return err
}

// ExpiresAt returns the lifetime of the context.
func (c *SecContext) ExpiresAt() (*gssapi.GssLifetime, error) {
	if c.deleted {
		return nil, fatal(gssapi.ErrNoContext, "context has been deleted")
	}

	l := gssapi.LifetimeUntil(c.expiry)
	return &l, nil
}

// Inquire returns information about the context.
func (c *SecContext) Inquire() (*SecContextInfo, error) {
	if c.deleted {
		return nil, fatal(gssapi.ErrNoContext, "context has been deleted")
	}

	info := &SecContextInfo{
		Mech:             gssapi.OidMechKrb5,
		Flags:            c.flags,
		ExpiresAt:        gssapi.LifetimeUntil(c.expiry),
		LocallyInitiated: c.isInitiator(),
		FullyEstablished: c.isOpen(),
		ProtectionReady:  c.flags&gssapi.ContextFlagProtReady != 0,
		Transferrable:    c.flags&gssapi.ContextFlagTrans != 0,
	}

	info.InitiatorName, info.AcceptorName = c.source.Clone(), c.target.Clone()
	return info, nil
}

func (c *SecContext) expired() bool {
	return !c.expiry.IsZero() && !time.Now().Before(c.expiry)
}
