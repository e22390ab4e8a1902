// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssapi-krb5"
)

// TicketCache is a store of Kerberos tickets usable by an initiator.  Caches are
// shared: releasing a credential never destroys the cache behind it.
type TicketCache interface {
	// Name returns the cache name, as TYPE:residual
	Name() string

	// Principal returns the default client principal of the cache
	Principal() (*Name, error)

	// ServiceTicket returns a ticket for the target service
	ServiceTicket(target *Name) (*ServiceCredential, error)
}

// ClientCache is a TicketCache backed by a gokrb5 client, which obtains service
// tickets from the KDC using its ticket granting ticket.
type ClientCache struct {
	name string
	cl   *client.Client
}

// NewClientCache wraps an existing gokrb5 client, for example one logged in with a
// password or a keytab.
func NewClientCache(name string, cl *client.Client) *ClientCache {
	return &ClientCache{name: name, cl: cl}
}

// LoadFileCCache opens a file credentials cache and a client using its tickets.
func LoadFileCCache(path string, cfg *config.Config) (*ClientCache, error) {
	path = strings.TrimPrefix(path, "FILE:")

	ccache, err := credentials.LoadCCache(path)
	if err != nil {
		return nil, fmt.Errorf("gssapi: loading credentials cache: %w", err)
	}

	cl, err := client.NewFromCCache(ccache, cfg)
	if err != nil {
		return nil, fmt.Errorf("gssapi: creating krb5 client: %w", err)
	}

	return NewClientCache("FILE:"+path, cl), nil
}

func (c *ClientCache) Name() string {
	return c.name
}

func (c *ClientCache) Principal() (*Name, error) {
	return &Name{PrincipalName: c.cl.Credentials.CName(), Realm: c.cl.Credentials.Domain()}, nil
}

func (c *ClientCache) ServiceTicket(target *Name) (*ServiceCredential, error) {
	if err := c.cl.AffirmLogin(); err != nil {
		return nil, fmt.Errorf("gssapi: checking TGT: %s", err)
	}

	spn := target.PrincipalNameString()
	tkt, key, err := c.cl.GetServiceTicket(spn)
	if err != nil {
		return nil, fmt.Errorf("gssapi: getting service ticket for '%s': %s", spn, err)
	}

	cname, _ := c.Principal()
	return &ServiceCredential{
		Client:     cname,
		Server:     &Name{PrincipalName: tkt.SName, Realm: tkt.Realm},
		Ticket:     tkt,
		SessionKey: key,
	}, nil
}

// CCacheEntry is a ticket held in a MemoryCCache.
type CCacheEntry struct {
	Client     *Name
	Server     *Name
	Ticket     messages.Ticket
	SessionKey types.EncryptionKey
	Flags      asn1.BitString
	AuthTime   time.Time
	StartTime  time.Time
	EndTime    time.Time
	RenewTill  time.Time
}

// MemoryCCache is a process-local ticket cache.  Delegated credentials are stored in
// one of these.
type MemoryCCache struct {
	mu        sync.Mutex
	name      string
	principal *Name
	entries   []CCacheEntry
}

// NewMemoryCCache returns an empty cache with a unique MEMORY: name.
func NewMemoryCCache() *MemoryCCache {
	return &MemoryCCache{name: "MEMORY:" + uuid.NewString()}
}

func (c *MemoryCCache) Name() string {
	return c.name
}

// Initialize empties the cache and sets its default principal.
func (c *MemoryCCache) Initialize(principal *Name) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.principal = principal.Clone()
	c.entries = nil
}

func (c *MemoryCCache) Principal() (*Name, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.principal == nil {
		return nil, fatal(gssapi.ErrNoCred, "credentials cache %s has no default principal", c.name)
	}
	return c.principal.Clone(), nil
}

// Store adds a ticket, replacing any existing ticket for the same server.
func (c *MemoryCCache) Store(e CCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		if c.entries[i].Server.Equal(e.Server) {
			c.entries[i] = e
			return
		}
	}
	c.entries = append(c.entries, e)
}

// Entries returns a copy of the cache contents.
func (c *MemoryCCache) Entries() []CCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]CCacheEntry{}, c.entries...)
}

// Lookup returns the unexpired ticket for server.
func (c *MemoryCCache) Lookup(server *Name) (CCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.Server.Equal(server) && (e.EndTime.IsZero() || time.Now().Before(e.EndTime)) {
			return e, true
		}
	}
	return CCacheEntry{}, false
}

// TGT returns the cached ticket granting ticket for the principal's realm.
func (c *MemoryCCache) TGT() (CCacheEntry, bool) {
	p, err := c.Principal()
	if err != nil {
		return CCacheEntry{}, false
	}
	return c.Lookup(NewName(nametype.KRB_NT_SRV_INST, p.Realm, "krbtgt", p.Realm))
}

func (c *MemoryCCache) ServiceTicket(target *Name) (*ServiceCredential, error) {
	e, ok := c.Lookup(target)
	if !ok {
		return nil, fatal(gssapi.ErrNoCred, "no ticket for %s in %s", target, c.name)
	}

	return &ServiceCredential{
		Client:     e.Client.Clone(),
		Server:     e.Server.Clone(),
		Ticket:     e.Ticket,
		SessionKey: e.SessionKey,
		EndTime:    e.EndTime,
	}, nil
}

func krbConfFile() string {
	cfgFile, ok := os.LookupEnv("KRB5_CONFIG")
	if !ok {
		cfgFile = "/etc/krb5.conf"
	}

	return cfgFile
}

func krbCCFile() string {
	ccFile, ok := os.LookupEnv("KRB5CCNAME")
	if !ok {
		ccFile = fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
	}

	return strings.TrimPrefix(ccFile, "FILE:")
}

func krbKTFile() string {
	ktFile, ok := os.LookupEnv("KRB5_KTNAME")
	if !ok {
		ktFile = "/etc/krb5.keytab"
	}

	return strings.TrimPrefix(ktFile, "FILE:")
}
