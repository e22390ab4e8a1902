// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"log"
	"strings"
	"time"

	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/golang-auth/go-gssapi-krb5"
)

// Mech is the Kerberos V5 GSS-API mechanism.  A Mech holds configuration only and
// may be shared between goroutines; the contexts it creates may not.
type Mech struct {
	tickets      TicketService
	crypto       CryptoProvider
	suites       map[int32]MessageSuite
	keytab       *keytab.Keytab
	keytabFile   string
	cache        TicketCache
	krb5Conf     *config.Config
	defaultRealm string
	clockSkew    time.Duration
	logf         func(format string, args ...interface{})
}

// MechOption configures a Mech.
type MechOption func(m *Mech)

// WithTicketService replaces the gokrb5 based ticket service.
func WithTicketService(ts TicketService) MechOption {
	return func(m *Mech) {
		m.tickets = ts
	}
}

// WithCryptoProvider replaces the crypto primitives used by the RFC 1964 token formats.
func WithCryptoProvider(cp CryptoProvider) MechOption {
	return func(m *Mech) {
		m.crypto = cp
	}
}

// WithKeytab sets the default acceptor keys, used when AcceptSecContext is not given
// an acceptor credential.
func WithKeytab(kt *keytab.Keytab) MechOption {
	return func(m *Mech) {
		m.keytab = kt
	}
}

// WithKeytabFile sets the keytab file loaded when there is no default keytab.  The
// default is $KRB5_KTNAME or /etc/krb5.keytab.
func WithKeytabFile(path string) MechOption {
	return func(m *Mech) {
		m.keytabFile = strings.TrimPrefix(path, "FILE:")
	}
}

// WithTicketCache sets the default initiator ticket cache.  The default is the file
// cache named by $KRB5CCNAME.
func WithTicketCache(c TicketCache) MechOption {
	return func(m *Mech) {
		m.cache = c
	}
}

// WithKrb5Config supplies the Kerberos configuration instead of loading the file
// named by $KRB5_CONFIG.
func WithKrb5Config(cfg *config.Config) MechOption {
	return func(m *Mech) {
		m.krb5Conf = cfg
	}
}

// WithDefaultRealm sets the realm of names that do not include one.
func WithDefaultRealm(realm string) MechOption {
	return func(m *Mech) {
		m.defaultRealm = realm
	}
}

// WithMaxClockSkew sets the allowed difference between initiator and acceptor clocks
// for the default ticket service.
func WithMaxClockSkew(d time.Duration) MechOption {
	return func(m *Mech) {
		m.clockSkew = d
	}
}

// WithLogFunc sets a function for debug logging
func WithLogFunc(logf func(format string, args ...interface{})) MechOption {
	return func(m *Mech) {
		m.logf = logf
	}
}

// WithMessageSuite registers the per-message token implementation for an encryption
// type, for example ARCFOUR (RFC 4757) which has no built in suite.
func WithMessageSuite(keyType int32, s MessageSuite) MechOption {
	return func(m *Mech) {
		m.suites[keyType] = s
	}
}

// NewMech returns a Kerberos mechanism configured by opts.
func NewMech(opts ...MechOption) *Mech {
	m := &Mech{
		crypto:    DefaultCrypto(),
		suites:    defaultSuites(),
		clockSkew: 5 * time.Minute,
		logf:      func(string, ...interface{}) {},
	}

	for _, o := range opts {
		o(m)
	}

	if m.tickets == nil {
		m.tickets = &KerberosService{
			MaxClockSkew: m.clockSkew,
			Logger:       log.New(logWriter(m.logf), "gokrb5: ", 0),
		}
	}

	return m
}

// logWriter adapts a log function to an io.Writer for the gokrb5 logger.
type logWriter func(format string, args ...interface{})

func (w logWriter) Write(p []byte) (int, error) {
	w("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// OID returns the mechanism object identifier.
func (m *Mech) OID() gssapi.Oid {
	return gssapi.OidMechKrb5
}

func (m *Mech) config() (*config.Config, error) {
	if m.krb5Conf != nil {
		return m.krb5Conf, nil
	}

	cfg, err := config.Load(krbConfFile())
	if err != nil {
		return nil, fatal(gssapi.ErrFailure, "loading krb5.conf: %s", err)
	}
	return cfg, nil
}

// realm returns the default realm, from the options or krb5.conf.
func (m *Mech) realm() string {
	if m.defaultRealm != "" {
		return m.defaultRealm
	}
	if cfg, err := m.config(); err == nil {
		return cfg.LibDefaults.DefaultRealm
	}
	return ""
}

func (m *Mech) ticketCache() (TicketCache, error) {
	if m.cache != nil {
		return m.cache, nil
	}

	cfg, err := m.config()
	if err != nil {
		return nil, err
	}

	ccFile := krbCCFile()
	m.logf("gssapi: krb5: using credentials cache %s", ccFile)
	cc, err := LoadFileCCache(ccFile, cfg)
	if err != nil {
		return nil, fatalErr(gssapi.ErrNoCred, err)
	}
	return cc, nil
}

func (m *Mech) defaultKeytab() (*keytab.Keytab, error) {
	if m.keytab != nil {
		return m.keytab, nil
	}

	ktFile := m.keytabFile
	if ktFile == "" {
		ktFile = krbKTFile()
	}

	m.logf("gssapi: krb5: loading keytab %s", ktFile)
	kt, err := keytab.Load(ktFile)
	if err != nil {
		return nil, fatal(gssapi.ErrNoCred, "loading keytab %s: %s", ktFile, err)
	}
	return kt, nil
}

func (m *Mech) suite(keyType int32) (MessageSuite, error) {
	s, ok := m.suites[keyType]
	if !ok {
		return nil, fatal(gssapi.ErrUnavailable, "no per-message support for encryption type %d", keyType)
	}
	return s, nil
}

// ImportName parses a name of the given type.  Names without a realm get the
// default realm.
func (m *Mech) ImportName(name string, nameType gssapi.Oid) (*Name, error) {
	switch {
	case nameType == nil, nameType.Equal(gssapi.OidNameKrb5Principal), nameType.Equal(gssapi.OidNameUser):
		return ParseName(name, m.realm())
	case nameType.Equal(gssapi.OidNameHostbasedService):
		return ParseHostbasedName(name, m.realm())
	case nameType.Equal(gssapi.OidNameExport):
		return ImportExportedName([]byte(name))
	}
	return nil, fatal(gssapi.ErrBadNameType, "unsupported name type %x", []byte(nameType))
}
