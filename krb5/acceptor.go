// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/golang-auth/go-gssapi-krb5"
)

type acceptOptions struct {
	cred       *Credential
	cb         *gssapi.ChannelBinding
	delegCache *MemoryCCache
}

// AcceptSecContextOption configures AcceptSecContext.
type AcceptSecContextOption func(o *acceptOptions)

// WithAcceptorCredential sets the acceptor credential, overriding the mechanism's
// default keytab.
func WithAcceptorCredential(cred *Credential) AcceptSecContextOption {
	return func(o *acceptOptions) {
		o.cred = cred
	}
}

// WithAcceptorChannelBinding requires the initiator to have bound the context to the
// channel described by cb.
func WithAcceptorChannelBinding(cb *gssapi.ChannelBinding) AcceptSecContextOption {
	return func(o *acceptOptions) {
		o.cb = cb
	}
}

// WithDelegationCache stores delegated credentials in cache instead of a new memory
// cache.
func WithDelegationCache(cache *MemoryCCache) AcceptSecContextOption {
	return func(o *acceptOptions) {
		o.delegCache = cache
	}
}

// AcceptSecContext processes the initiator's token.  Kerberos contexts are accepted
// in one step: the returned context is ready for use, and the returned token, if not
// empty, is the mutual authentication reply for the initiator.
func (m *Mech) AcceptSecContext(tok []byte, opts ...AcceptSecContextOption) (*SecContext, []byte, error) {
	o := acceptOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	req, err := Decapsulate(tok, TokenAPReq)
	if err != nil {
		return nil, nil, err
	}

	acceptor, kt, err := m.acceptorKeys(o.cred)
	if err != nil {
		return nil, nil, err
	}

	c := &SecContext{
		mech: m,
		ac:   newAuthContext(),
		cred: o.cred,
	}

	out, err := c.accept(&o, req, acceptor, kt)
	if err != nil {
		return nil, nil, c.fail(err)
	}
	return c, out, nil
}

// acceptorKeys picks the keys to accept with: those of the supplied credential, else
// the mechanism default.
func (m *Mech) acceptorKeys(cred *Credential) (*Name, *keytab.Keytab, error) {
	if cred != nil {
		switch {
		case cred.released || cred.keytab == nil || !cred.usage.CanAccept():
			return nil, nil, fatal(gssapi.ErrNoCred, "credential cannot be used to accept a context")
		case cred.expired():
			return nil, nil, fatal(gssapi.ErrCredentialsExpired, "acceptor credential has expired")
		}
		return cred.name, cred.keytab, nil
	}

	kt, err := m.defaultKeytab()
	if err != nil {
		return nil, nil, err
	}
	return nil, kt, nil
}

func (c *SecContext) accept(o *acceptOptions, req []byte, acceptor *Name, kt *keytab.Keytab) ([]byte, error) {
	m := c.mech

	if err := c.ac.setAddresses(o.cb, false); err != nil {
		return nil, err
	}

	ar, err := m.tickets.ReadAndValidateRequest(c.ac, req, acceptor, kt)
	if err != nil {
		return nil, asStatus(gssapi.ErrFailure, err)
	}

	flags, deleg, err := VerifyChecksum(m.crypto, ar.Authenticator.Cksum, o.cb)
	if err != nil {
		return nil, err
	}
	c.channelBound = o.cb != nil && !allZero(ar.Authenticator.Cksum.Checksum[4:20])

	ticket := ar.Ticket
	c.ticket = &ticket
	c.source = ar.Client.Clone()
	c.target = ar.Server.Clone()
	c.expiry = ar.EndTime

	if ar.MutualRequired {
		flags |= gssapi.ContextFlagMutual
	}

	// a delegation failure is not fatal, the context just has no delegated credential
	if flags&gssapi.ContextFlagDeleg != 0 {
		if err := c.importDelegation(o.delegCache, deleg); err != nil {
			m.logf("gssapi: krb5: ignoring delegated credentials: %s", err)
			flags &^= gssapi.ContextFlagDeleg
		}
	}

	c.flags = flags | gssapi.ContextFlagTrans

	var out []byte
	if flags&gssapi.ContextFlagMutual != 0 {
		// RFC 4121 § 2: the acceptor may assert a subkey for the newer token formats
		if usesCFX(c.ac.SessionKey.KeyType) {
			subkey, err := m.tickets.GenerateSubkey(*c.ac.SessionKey)
			if err != nil {
				return nil, asStatus(gssapi.ErrFailure, err)
			}
			c.ac.LocalSubkey = &subkey
		}

		rep, err := m.tickets.BuildReply(c.ac)
		if err != nil {
			return nil, asStatus(gssapi.ErrFailure, err)
		}
		out = Encapsulate(rep, TokenAPRep)
	} else {
		c.ac.LocalSeq = c.ac.RemoteSeq
	}

	c.open()

	m.logf("gssapi: krb5: accepted context %s -> %s, flags [%s]", c.source, c.target, c.flags)
	return out, nil
}

func (c *SecContext) importDelegation(cache *MemoryCCache, deleg []byte) error {
	if len(deleg) == 0 {
		return fatal(gssapi.ErrDefectiveCredential, "no forwarded credentials in the checksum")
	}

	if cache == nil {
		cache = NewMemoryCCache()
	}

	name, err := c.mech.tickets.ImportForwardedTicket(c.ac, cache, deleg)
	if err != nil {
		return err
	}

	c.delegated = &Credential{
		name:   name,
		usage:  gssapi.CredUsageInitiateOnly,
		expiry: c.expiry,
		cache:  cache,
		mechs:  []gssapi.Oid{gssapi.OidMechKrb5},
	}
	return nil
}
