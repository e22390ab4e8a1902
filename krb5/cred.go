// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/golang-auth/go-gssapi-krb5"
)

// Credential is a Kerberos identity usable to initiate contexts (a ticket cache),
// accept them (a keytab) or both.  The cache and keytab are shared with whoever
// supplied them and are never modified.
type Credential struct {
	name     *Name
	usage    gssapi.CredUsage
	expiry   time.Time // zero for indefinite
	cache    TicketCache
	keytab   *keytab.Keytab
	mechs    []gssapi.Oid
	released bool
}

// CredInfo describes a credential.
type CredInfo struct {
	Name     *Name
	Usage    gssapi.CredUsage
	Lifetime gssapi.GssLifetime
	Mechs    []gssapi.Oid
}

func expiryAfter(lifetime time.Duration) time.Time {
	if lifetime <= 0 {
		return time.Time{}
	}
	return time.Now().Add(lifetime)
}

// AcquireCredential returns a credential for name from the mechanism's default ticket
// cache and keytab.  name may be nil to use the cache's principal, or for an acceptor,
// any principal in the keytab.  A zero lifetime means as long as the underlying
// tickets or keys allow.
func (m *Mech) AcquireCredential(name *Name, usage gssapi.CredUsage, lifetime time.Duration) (*Credential, error) {
	cred := &Credential{
		name:   name.Clone(),
		usage:  usage,
		expiry: expiryAfter(lifetime),
		mechs:  []gssapi.Oid{gssapi.OidMechKrb5},
	}

	if usage.CanInitiate() {
		cache, err := m.ticketCache()
		if err != nil {
			return nil, err
		}

		principal, err := cache.Principal()
		if err != nil {
			return nil, asStatus(gssapi.ErrNoCred, err)
		}
		if name != nil && !name.Equal(principal) {
			return nil, fatal(gssapi.ErrNoCred, "credentials cache %s holds %s, not %s", cache.Name(), principal, name)
		}

		cred.cache = cache
		cred.name = principal
	}

	if usage.CanAccept() {
		kt, err := m.defaultKeytab()
		if err != nil {
			return nil, err
		}
		if name != nil && !keytabHas(kt, name) {
			return nil, fatal(gssapi.ErrNoCred, "no keys for %s in the keytab", name)
		}

		cred.keytab = kt
	}

	m.logf("gssapi: krb5: acquired %s credential for %v", usage, cred.name)
	return cred, nil
}

// keytabHas reports whether the keytab holds a key for the principal.
func keytabHas(kt *keytab.Keytab, name *Name) bool {
	for _, e := range kt.Entries {
		n := Name{Realm: e.Principal.Realm}
		n.NameString = e.Principal.Components
		if n.Equal(name) {
			return true
		}
	}
	return false
}

// NewInitiatorCredential returns an initiator credential for the default principal
// of cache.
func NewInitiatorCredential(cache TicketCache) (*Credential, error) {
	principal, err := cache.Principal()
	if err != nil {
		return nil, asStatus(gssapi.ErrNoCred, err)
	}

	return &Credential{
		name:  principal,
		usage: gssapi.CredUsageInitiateOnly,
		cache: cache,
		mechs: []gssapi.Oid{gssapi.OidMechKrb5},
	}, nil
}

// NewAcceptorCredential returns an acceptor credential using the keys in kt.  name
// may be nil to accept for any principal in the keytab.
func NewAcceptorCredential(name *Name, kt *keytab.Keytab) *Credential {
	return &Credential{
		name:   name.Clone(),
		usage:  gssapi.CredUsageAcceptOnly,
		keytab: kt,
		mechs:  []gssapi.Oid{gssapi.OidMechKrb5},
	}
}

// Add returns a copy of the credential restricted to usage and, if lifetime is not
// zero, to no more than lifetime from now.  A credential cannot be widened.
func (c *Credential) Add(usage gssapi.CredUsage, lifetime time.Duration) (*Credential, error) {
	if c.released {
		return nil, fatal(gssapi.ErrNoCred, "credential has been released")
	}
	if !c.usage.Covers(usage) {
		return nil, fatal(gssapi.ErrDuplicateElement, "cannot add %s usage to a %s credential", usage, c.usage)
	}

	n := &Credential{
		name:   c.name.Clone(),
		usage:  usage,
		expiry: c.expiry,
		mechs:  append([]gssapi.Oid{}, c.mechs...),
	}
	if usage.CanInitiate() {
		n.cache = c.cache
	}
	if usage.CanAccept() {
		n.keytab = c.keytab
	}

	if e := expiryAfter(lifetime); !e.IsZero() && (n.expiry.IsZero() || e.Before(n.expiry)) {
		n.expiry = e
	}

	return n, nil
}

// Inquire returns information about the credential.
func (c *Credential) Inquire() (*CredInfo, error) {
	if c.released {
		return nil, fatal(gssapi.ErrNoCred, "credential has been released")
	}

	return &CredInfo{
		Name:     c.name.Clone(),
		Usage:    c.usage,
		Lifetime: gssapi.LifetimeUntil(c.expiry),
		Mechs:    append([]gssapi.Oid{}, c.mechs...),
	}, nil
}

// Release drops the credential's references to its cache and keytab.
func (c *Credential) Release() error {
	c.cache = nil
	c.keytab = nil
	c.name = nil
	c.released = true
	return nil
}

// Name returns the credential's principal, nil for an acceptor credential that is
// not restricted to one principal.
func (c *Credential) Name() *Name {
	return c.name.Clone()
}

// Usage returns how the credential may be used.
func (c *Credential) Usage() gssapi.CredUsage {
	return c.usage
}

// Cache returns the initiator ticket cache, or nil.
func (c *Credential) Cache() TicketCache {
	return c.cache
}

// Keytab returns the acceptor keys, or nil.
func (c *Credential) Keytab() *keytab.Keytab {
	return c.keytab
}

func (c *Credential) expired() bool {
	return !c.expiry.IsZero() && !time.Now().Before(c.expiry)
}
