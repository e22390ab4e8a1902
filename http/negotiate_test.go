// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssapi-krb5/krb5"
	"github.com/golang-auth/go-gssapi-krb5/test"
)

const (
	testRealm      = "EXAMPLE.COM"
	testServicePwd = "service password"
)

// test servers listen on the loopback address, so the default SPN is HTTP@127.0.0.1
var testService = krb5.NewName(nametype.KRB_NT_SRV_HST, testRealm, "HTTP", "127.0.0.1")

type negotiateEnv struct {
	client  *krb5.Mech
	server  *krb5.Mech
	cname   *krb5.Name
	keyPair tls.Certificate
}

func mk_ticket(t *testing.T, kt *keytab.Keytab, cname, sname *krb5.Name) krb5.CCacheEntry {
	t.Helper()

	tf := types.NewKrbFlags()
	types.SetFlag(&tf, flags.Forwardable)

	now := time.Now().UTC()
	end := now.Add(time.Hour)
	tkt, sessionKey, err := messages.NewTicket(cname.PrincipalName, testRealm, sname.PrincipalName, testRealm,
		tf, kt, etypeID.AES256_CTS_HMAC_SHA1_96, 1, now, now, end, end)
	if err != nil {
		t.Fatal(err)
	}

	return krb5.CCacheEntry{
		Client:     cname,
		Server:     sname,
		Ticket:     tkt,
		SessionKey: sessionKey,
		Flags:      tf,
		AuthTime:   now,
		EndTime:    end,
	}
}

// mk_negotiate_env creates a client with a ticket for the test service and a server
// with the service key.  The gokrb5 replay cache is process wide, so each test uses
// its own client.
func mk_negotiate_env(t *testing.T, client string, withTGT bool) *negotiateEnv {
	t.Helper()

	kt := keytab.New()
	if err := kt.AddEntry("HTTP/127.0.0.1", testRealm, testServicePwd, time.Now(), 1, etypeID.AES256_CTS_HMAC_SHA1_96); err != nil {
		t.Fatal(err)
	}

	cname := krb5.NewName(nametype.KRB_NT_PRINCIPAL, testRealm, client)
	mc := krb5.NewMemoryCCache()
	mc.Initialize(cname)
	mc.Store(mk_ticket(t, kt, cname, testService))

	if withTGT {
		tgtKt := keytab.New()
		if err := tgtKt.AddEntry("krbtgt/"+testRealm, testRealm, "krbtgt password", time.Now(), 1, etypeID.AES256_CTS_HMAC_SHA1_96); err != nil {
			t.Fatal(err)
		}
		mc.Store(mk_ticket(t, tgtKt, cname, krb5.NewName(nametype.KRB_NT_SRV_INST, testRealm, "krbtgt", testRealm)))
	}

	return &negotiateEnv{
		client:  krb5.NewMech(krb5.WithTicketCache(mc), krb5.WithDefaultRealm(testRealm), krb5.WithLogFunc(t.Logf)),
		server:  krb5.NewMech(krb5.WithKeytab(kt), krb5.WithDefaultRealm(testRealm), krb5.WithLogFunc(t.Logf)),
		cname:   cname,
		keyPair: createTestKeyPair(t),
	}
}

// newTLSServer starts h with a certificate the request handlers can find
func (e *negotiateEnv) newTLSServer(t *testing.T, h http.Handler) *httptest.Server {
	ts := httptest.NewUnstartedServer(h)
	ts.TLS = &tls.Config{Certificates: []tls.Certificate{e.keyPair}}
	ts.Config.TLSConfig = ts.TLS
	ts.StartTLS()
	t.Cleanup(ts.Close)
	return ts
}

func (e *negotiateEnv) newHandler(t *testing.T, next http.Handler, opts ...HandlerOption) *Handler {
	opts = append(opts, WithAcceptorLogFunc(t.Logf))
	h, err := NewHandler(e.server, next, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func whoami(w http.ResponseWriter, r *http.Request) {
	in, ok := GetInitiatorName(r)
	if !ok {
		http.Error(w, "no initiator", http.StatusInternalServerError)
		return
	}
	_, _ = fmt.Fprintf(w, "%s cb=%t deleg=%t", in.PrincipalName, HasChannelBindings(r), GetDelegatedCredential(r) != nil)
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body), nil
}

func TestNegotiate(t *testing.T) {
	ifAvailable := ChannelBindingDispositionIfAvailable
	require := ChannelBindingDispositionRequire

	tests := []struct {
		name       string
		clientOpts []ClientOption
		serverOpts []HandlerOption
		wantCB     bool
	}{
		{"challenge", nil, nil, false},
		{"mutual", []ClientOption{WithInitiatorMutual()}, nil, false},
		{"opportunistic", []ClientOption{WithInitiatorOpportunistic()}, nil, false},
		{"opportunistic-mutual", []ClientOption{WithInitiatorOpportunistic(), WithInitiatorMutual()}, nil, false},
		{"bindings",
			[]ClientOption{WithInitiatorChannelBindingDisposition(ifAvailable), WithInitiatorMutual()},
			[]HandlerOption{WithAcceptorChannelBindingDisposition(ifAvailable)}, true},
		{"bindings-required",
			[]ClientOption{WithInitiatorChannelBindingDisposition(require)},
			[]HandlerOption{WithAcceptorChannelBindingDisposition(require)}, true},
		{"client-bindings-only",
			[]ClientOption{WithInitiatorChannelBindingDisposition(ifAvailable)}, nil, false},
		{"server-bindings-only",
			nil, []HandlerOption{WithAcceptorChannelBindingDisposition(ifAvailable)}, false},
		// no response to take the server certificate from yet
		{"opportunistic-bindings",
			[]ClientOption{WithInitiatorOpportunistic(), WithInitiatorChannelBindingDisposition(ifAvailable)},
			[]HandlerOption{WithAcceptorChannelBindingDisposition(ifAvailable)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := test.NewAssert(t)

			env := mk_negotiate_env(t, "negotiate-"+tt.name, false)
			ts := env.newTLSServer(t, env.newHandler(t, http.HandlerFunc(whoami), tt.serverOpts...))

			opts := append([]ClientOption{WithInitiatorLogFunc(t.Logf)}, tt.clientOpts...)
			client, err := NewClient(env.client, ts.Client(), opts...)
			assert.NoErrorFatal(err)

			resp, body, err := get(t, client, ts.URL)
			assert.NoErrorFatal(err)
			assert.Equal(http.StatusOK, resp.StatusCode)
			assert.Equal(fmt.Sprintf("%s cb=%t deleg=false", env.cname, tt.wantCB), body)
		})
	}
}

func TestNegotiateBindingsTLSVersions(t *testing.T) {
	require := ChannelBindingDispositionRequire

	for _, version := range []uint16{tls.VersionTLS12, tls.VersionTLS13} {
		name := tls.VersionName(version)
		t.Run(name, func(t *testing.T) {
			assert := test.NewAssert(t)

			env := mk_negotiate_env(t, "negotiate-bindings-"+name, false)
			ts := httptest.NewUnstartedServer(env.newHandler(t, http.HandlerFunc(whoami), WithAcceptorChannelBindingDisposition(require)))
			ts.TLS = &tls.Config{Certificates: []tls.Certificate{env.keyPair}, MaxVersion: version}
			ts.Config.TLSConfig = ts.TLS
			ts.StartTLS()
			defer ts.Close()

			client, err := NewClient(env.client, ts.Client(),
				WithInitiatorChannelBindingDisposition(require), WithInitiatorMutual(), WithInitiatorLogFunc(t.Logf))
			assert.NoErrorFatal(err)

			resp, body, err := get(t, client, ts.URL)
			assert.NoErrorFatal(err)
			assert.Equal(http.StatusOK, resp.StatusCode)
			assert.Equal(version, resp.TLS.Version)
			assert.Equal(fmt.Sprintf("%s cb=true deleg=false", env.cname), body)
		})
	}
}

func TestNegotiateNoAuthorization(t *testing.T) {
	assert := test.NewAssert(t)

	env := mk_negotiate_env(t, "negotiate-no-authz", false)
	ts := env.newTLSServer(t, env.newHandler(t, http.HandlerFunc(whoami)))

	resp, _, err := get(t, ts.Client(), ts.URL)
	assert.NoErrorFatal(err)
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	assert.Equal("Negotiate", resp.Header.Get("WWW-Authenticate"))
}

func TestNegotiateUnprotected(t *testing.T) {
	assert := test.NewAssert(t)

	env := mk_negotiate_env(t, "negotiate-unprotected", false)
	ts := env.newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "authz=%q", r.Header.Get("Authorization"))
	}))

	client, err := NewClient(env.client, ts.Client(), WithInitiatorMutual())
	assert.NoErrorFatal(err)

	resp, body, err := get(t, client, ts.URL)
	assert.NoErrorFatal(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(`authz=""`, body)
}

func TestNegotiateRequireBindings(t *testing.T) {
	assert := test.NewAssert(t)

	env := mk_negotiate_env(t, "negotiate-require-bindings", false)
	h := env.newHandler(t, http.HandlerFunc(whoami), WithAcceptorChannelBindingDisposition(ChannelBindingDispositionRequire))

	// the client does not bind the context
	ts := env.newTLSServer(t, h)
	client, err := NewClient(env.client, ts.Client())
	assert.NoErrorFatal(err)
	resp, _, err := get(t, client, ts.URL)
	assert.NoErrorFatal(err)
	assert.Equal(http.StatusForbidden, resp.StatusCode)

	// there is no TLS connection to bind to
	plain := httptest.NewServer(h)
	defer plain.Close()
	client, err = NewClient(env.client, nil, WithInitiatorChannelBindingDisposition(ChannelBindingDispositionIfAvailable))
	assert.NoErrorFatal(err)
	resp, _, err = get(t, client, plain.URL)
	assert.NoErrorFatal(err)
	assert.Equal(http.StatusForbidden, resp.StatusCode)

	client, err = NewClient(env.client, nil, WithInitiatorChannelBindingDisposition(ChannelBindingDispositionRequire))
	assert.NoErrorFatal(err)
	_, _, err = get(t, client, plain.URL)
	assert.Error(err)
}

func TestNegotiateWrongKey(t *testing.T) {
	assert := test.NewAssert(t)

	env := mk_negotiate_env(t, "negotiate-wrong-key", false)

	other := keytab.New()
	err := other.AddEntry("HTTP/127.0.0.1", testRealm, "not the service password", time.Now(), 1, etypeID.AES256_CTS_HMAC_SHA1_96)
	assert.NoErrorFatal(err)

	h := env.newHandler(t, http.HandlerFunc(whoami), WithAcceptorCredential(krb5.NewAcceptorCredential(nil, other)))
	ts := env.newTLSServer(t, h)

	client, err := NewClient(env.client, ts.Client(), WithInitiatorMutual())
	assert.NoErrorFatal(err)
	resp, _, err := get(t, client, ts.URL)
	assert.NoErrorFatal(err)
	assert.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestNegotiateBadMutualReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"no-reply", ""},
		{"bad-reply", "Negotiate YWJj"},
		{"undecodable-reply", "Negotiate !!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := test.NewAssert(t)

			env := mk_negotiate_env(t, "negotiate-"+tt.name, false)
			ts := env.newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") == "" {
					w.Header().Set("WWW-Authenticate", "Negotiate")
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				if tt.reply != "" {
					w.Header().Set("WWW-Authenticate", tt.reply)
				}
			}))

			client, err := NewClient(env.client, ts.Client(), WithInitiatorMutual())
			assert.NoErrorFatal(err)
			_, _, err = get(t, client, ts.URL)
			assert.Error(err)

			// without mutual authentication the server's reply is not needed
			client, err = NewClient(env.client, ts.Client())
			assert.NoErrorFatal(err)
			resp, _, err := get(t, client, ts.URL)
			assert.NoErrorFatal(err)
			assert.Equal(http.StatusOK, resp.StatusCode)
		})
	}
}

func TestNegotiateDelegation(t *testing.T) {
	assert := test.NewAssert(t)

	env := mk_negotiate_env(t, "negotiate-delegation", true)
	ts := env.newTLSServer(t, env.newHandler(t, http.HandlerFunc(whoami), WithAcceptorDelegation()))

	client, err := NewClient(env.client, ts.Client(), WithInitiatorMutual(), WithInitiatorDelegationPolicy(DelegationPolicyAlways))
	assert.NoErrorFatal(err)
	resp, body, err := get(t, client, ts.URL)
	assert.NoErrorFatal(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(fmt.Sprintf("%s cb=false deleg=true", env.cname), body)
}

func TestNegotiateDelegationUnavailable(t *testing.T) {
	assert := test.NewAssert(t)

	env := mk_negotiate_env(t, "negotiate-no-delegation", false)
	ts := env.newTLSServer(t, env.newHandler(t, http.HandlerFunc(whoami), WithAcceptorDelegation()))

	client, err := NewClient(env.client, ts.Client(), WithInitiatorDelegationPolicy(DelegationPolicyAlways))
	assert.NoErrorFatal(err)
	_, _, err = get(t, client, ts.URL)
	assert.Error(err)

	client, err = NewClient(env.client, ts.Client(), WithInitiatorDelegationPolicy(DelegationPolicyIfAvailable))
	assert.NoErrorFatal(err)
	resp, body, err := get(t, client, ts.URL)
	assert.NoErrorFatal(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(fmt.Sprintf("%s cb=false deleg=false", env.cname), body)
}

func TestNegotiate100Continue(t *testing.T) {
	body := bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz"), 80)

	tests := []struct {
		name              string
		threshold         int64
		opportunistic     bool
		rewindable        bool
		expect100Continue bool
		expectError       bool
	}{
		{"BigBody-Opportunistic-Rewindable", 100, true, true, false, false},
		{"BigBody-Opportunistic-Non-Rewindable", 100, true, false, false, false},
		{"BigBody-Non-Opportunistic-Rewindable", 100, false, true, true, false},
		{"BigBody-Non-Opportunistic-Non-Rewindable", 100, false, false, true, false},
		{"SmallBody-Non-Opportunistic-Rewindable", 4096, false, true, false, false},
		{"SmallBody-Non-Opportunistic-Non-Rewindable", 4096, false, false, true, false},
		// the body is used up by the first request
		{"SmallBody-Non-Opportunistic-Non-Rewindable-100-disabled", 0, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := test.NewAssert(t)

			env := mk_negotiate_env(t, "negotiate-"+strings.ToLower(tt.name), false)

			bodyBytes := 0
			ts := httptest.NewServer(env.newHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				bodyBytes = len(b)
			})))
			defer ts.Close()

			opts := []ClientOption{
				WithInititorHttpLogging(),
				WithInitiatorLogFunc(t.Logf),
				WithInitiatorExpect100Threshold(tt.threshold),
			}
			if tt.opportunistic {
				opts = append(opts, WithInitiatorOpportunistic())
			}

			req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewBuffer(body))
			assert.NoErrorFatal(err)
			if !tt.rewindable {
				req.GetBody = nil
			}

			trace := &HttpTrace{}
			req = req.WithContext(WithHttpTrace(req.Context(), trace))

			client, err := NewClient(env.client, nil, opts...)
			assert.NoErrorFatal(err)
			resp, err := client.Do(req)
			if tt.expectError {
				assert.Error(err)
				assert.Equal(0, bodyBytes)
			} else {
				assert.NoErrorFatal(err)
				_ = resp.Body.Close()
				assert.Equal(http.StatusOK, resp.StatusCode)
				assert.Equal(len(body), bodyBytes)
			}
			assert.Equal(tt.expect100Continue, trace.Seen100Continue)
		})
	}
}
