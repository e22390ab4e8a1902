// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssapi-krb5"
)

// fakeRequest is what a fake AP-REQ carries from initiator to acceptor.
type fakeRequest struct {
	client     *Name
	server     *Name
	sessionKey types.EncryptionKey
	subkey     *types.EncryptionKey
	cksum      types.Checksum
	mutual     bool
	seq        uint64
	ctime      time.Time
	cusec      int
	end        time.Time
}

// fakeTickets replaces the AP-REQ exchange so contexts can be established without a
// KDC or keytab.  Everything else is the gokrb5 service.
type fakeTickets struct {
	KerberosService
	requests map[string]fakeRequest
	n        int
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{requests: map[string]fakeRequest{}}
}

func (f *fakeTickets) BuildAuthenticator(ac *AuthContext, sc *ServiceCredential, cksum types.Checksum, flags gssapi.ContextFlag) ([]byte, error) {
	f.n++
	id := fmt.Sprintf("AP-REQ %d", f.n)

	r := fakeRequest{
		client:     sc.Client.Clone(),
		server:     sc.Server.Clone(),
		sessionKey: sc.SessionKey,
		cksum:      cksum,
		mutual:     flags&gssapi.ContextFlagMutual != 0,
		seq:        uint64(0x1000 * f.n),
		ctime:      time.Now().UTC().Truncate(time.Second),
		cusec:      1234,
		end:        sc.EndTime,
	}
	if ac.LocalSubkey != nil {
		k := *ac.LocalSubkey
		r.subkey = &k
	}
	f.requests[id] = r

	ac.LocalSeq = r.seq
	ac.CTime = r.ctime
	ac.Cusec = r.cusec
	return []byte(id), nil
}

func (f *fakeTickets) ReadAndValidateRequest(ac *AuthContext, req []byte, acceptor *Name, kt *keytab.Keytab) (*AcceptedRequest, error) {
	r, ok := f.requests[string(req)]
	if !ok {
		return nil, fmt.Errorf("unknown request %q", req)
	}
	if acceptor != nil && !acceptor.Equal(r.server) {
		return nil, fatal(gssapi.ErrNoCred, "no keys for %s", r.server)
	}

	sessionKey := r.sessionKey
	ac.SessionKey = &sessionKey
	ac.RemoteSubkey = r.subkey
	ac.RemoteSeq = r.seq
	ac.CTime = r.ctime
	ac.Cusec = r.cusec

	return &AcceptedRequest{
		Ticket: messages.Ticket{TktVNO: 5, Realm: r.server.Realm, SName: r.server.PrincipalName},
		Client: r.client.Clone(),
		Server: r.server.Clone(),
		Authenticator: types.Authenticator{
			Cksum:     r.cksum,
			SeqNumber: int64(r.seq),
			CTime:     r.ctime,
			Cusec:     r.cusec,
		},
		MutualRequired: r.mutual,
		EndTime:        r.end,
	}, nil
}

var (
	testClient = NewName(nametype.KRB_NT_PRINCIPAL, "EXAMPLE.COM", "alice")
	testTarget = NewName(nametype.KRB_NT_SRV_HST, "EXAMPLE.COM", "HTTP", "www.example.com")
)

type fakeEnv struct {
	mech  *Mech
	cache *MemoryCCache
	cred  *Credential
}

// mk_fake_env returns a mechanism that can both initiate to and accept for
// testTarget, using a session key of keyType.
func mk_fake_env(t *testing.T, keyType int32, withTGT bool, opts ...MechOption) *fakeEnv {
	mc := NewMemoryCCache()
	mc.Initialize(testClient)

	entry := mk_cache_entry(t, testClient, testTarget, time.Now().Add(time.Hour).UTC().Truncate(time.Second))
	entry.SessionKey = mk_random_key(t, keyType)
	mc.Store(entry)

	if withTGT {
		krbtgt := NewName(nametype.KRB_NT_SRV_INST, "EXAMPLE.COM", "krbtgt", "EXAMPLE.COM")
		mc.Store(mk_cache_entry(t, testClient, krbtgt, time.Now().Add(8*time.Hour)))
	}

	opts = append([]MechOption{
		WithTicketService(newFakeTickets()),
		WithTicketCache(mc),
		WithKeytab(keytab.New()),
		WithDefaultRealm("EXAMPLE.COM"),
	}, opts...)

	cred, err := NewInitiatorCredential(mc)
	if err != nil {
		t.Fatal(err)
	}

	return &fakeEnv{mech: NewMech(opts...), cache: mc, cred: cred}
}

func (e *fakeEnv) establish(t *testing.T, flags gssapi.ContextFlag) (initiator, acceptor *SecContext) {
	assert := NewAssert(t)

	ic, tok, err := e.mech.InitSecContext(testTarget, WithInitiatorCredential(e.cred), WithInitiatorFlags(flags))
	assert.NoErrorFatal(err)

	ac, rep, err := e.mech.AcceptSecContext(tok)
	assert.NoErrorFatal(err)

	if flags&gssapi.ContextFlagMutual != 0 {
		assert.True(ic.ContinueNeeded())
		assert.NotEmpty(rep)

		out, err := ic.Continue(rep)
		assert.NoErrorFatal(err)
		assert.Empty(out)
	} else {
		assert.Empty(rep)
	}

	assert.False(ic.ContinueNeeded())
	return ic, ac
}

func exchange(t *testing.T, from, to *SecContext, msg string) {
	assert := NewAssert(t)

	tok, conf, err := from.Wrap([]byte(msg), true, 0)
	assert.NoErrorFatal(err)
	assert.True(conf)

	got, conf, qop, err := to.Unwrap(tok)
	assert.NoErrorFatal(err)
	assert.Equal(msg, string(got))
	assert.True(conf)
	assert.Equal(gssapi.QoP(0), qop)

	mic, err := from.GetMIC([]byte(msg), 0)
	assert.NoErrorFatal(err)
	_, err = to.VerifyMIC([]byte(msg), mic)
	assert.NoError(err)
}

func TestSecContextNoMutual(t *testing.T) {
	for _, keyType := range []int32{etypeID.AES256_CTS_HMAC_SHA1_96, etypeID.DES3_CBC_SHA1_KD} {
		t.Run(fmt.Sprintf("etype=%d", keyType), func(t *testing.T) {
			assert := NewAssert(t)

			env := mk_fake_env(t, keyType, false)
			ic, ac := env.establish(t, gssapi.ContextFlagReplay|gssapi.ContextFlagSequence)

			want := gssapi.ContextFlagReplay | gssapi.ContextFlagSequence | gssapi.ContextFlagConf |
				gssapi.ContextFlagInteg | gssapi.ContextFlagTrans | gssapi.ContextFlagProtReady
			assert.Equal(want, ic.Flags())
			assert.Equal(want, ac.Flags())
			assert.Equal(ic.ac.LocalSeq, ac.ac.RemoteSeq)
			assert.Equal(ic.ac.RemoteSeq, ac.ac.LocalSeq)

			startSeq := ic.ac.LocalSeq
			for i := 0; i < 3; i++ {
				exchange(t, ic, ac, fmt.Sprintf("to acceptor %d", i))
				exchange(t, ac, ic, fmt.Sprintf("to initiator %d", i))
			}

			// one Wrap and one GetMIC per exchange in each direction
			assert.Equal(startSeq+6, ic.ac.LocalSeq)
			assert.Equal(startSeq+6, ac.ac.RemoteSeq)
			assert.Equal(ac.ac.LocalSeq, ic.ac.RemoteSeq)
		})
	}
}

func TestSecContextMutual(t *testing.T) {
	for _, keyType := range []int32{etypeID.AES128_CTS_HMAC_SHA1_96, etypeID.DES3_CBC_SHA1_KD} {
		t.Run(fmt.Sprintf("etype=%d", keyType), func(t *testing.T) {
			assert := NewAssert(t)

			env := mk_fake_env(t, keyType, false)
			ic, ac := env.establish(t, gssapi.ContextFlagMutual)

			assert.NotZero(ic.Flags() & gssapi.ContextFlagMutual)
			assert.NotZero(ac.Flags() & gssapi.ContextFlagMutual)

			// both ends protect messages with the same key
			ik, iSub := ic.ac.protectionKey(true)
			ak, aSub := ac.ac.protectionKey(false)
			assert.Equal(*ik, *ak)
			assert.Equal(iSub, aSub)
			assert.Equal(usesCFX(keyType), iSub, "only the newer token formats get an acceptor subkey")

			exchange(t, ic, ac, "hello")
			exchange(t, ac, ic, "hello back")
		})
	}
}

func TestSecContextMutualBeforeReply(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)
	ic, _, err := env.mech.InitSecContext(testTarget, WithInitiatorCredential(env.cred), WithInitiatorFlags(gssapi.ContextFlagMutual))
	assert.NoErrorFatal(err)

	_, err = ic.GetMIC([]byte("too soon"), 0)
	assert.ErrorIs(err, gssapi.ErrNoContext)
	_, _, err = ic.Wrap([]byte("too soon"), true, 0)
	assert.ErrorIs(err, gssapi.ErrNoContext)

	info, err := ic.Inquire()
	assert.NoErrorFatal(err)
	assert.False(info.FullyEstablished)
	assert.False(info.ProtectionReady)
}

func TestSecContextContinueErrors(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)

	// not waiting for a reply
	ic, _ := env.establish(t, 0)
	_, err := ic.Continue([]byte("reply"))
	assert.ErrorIs(err, gssapi.ErrFailure)

	// a KRB-ERROR from the acceptor ends the context
	ic, _, err = env.mech.InitSecContext(testTarget, WithInitiatorCredential(env.cred), WithInitiatorFlags(gssapi.ContextFlagMutual))
	assert.NoErrorFatal(err)

	krbErr := sampleKRBError()
	b, err := krbErr.Marshal()
	assert.NoErrorFatal(err)

	_, err = ic.Continue(Encapsulate(b, TokenKRBError))
	assert.ErrorIs(err, gssapi.ErrFailure)
	var gotErr messages.KRBError
	if assert.True(errors.As(err, &gotErr)) {
		assert.Equal(int32(sampleErrorCode), gotErr.ErrorCode)
	}
	assert.False(ic.ContinueNeeded())
	_, err = ic.Inquire()
	assert.ErrorIs(err, gssapi.ErrNoContext)

	// an undecryptable reply
	ic, _, err = env.mech.InitSecContext(testTarget, WithInitiatorCredential(env.cred), WithInitiatorFlags(gssapi.ContextFlagMutual))
	assert.NoErrorFatal(err)
	sample := sampleAPRep()
	b, err = sample.marshal()
	assert.NoErrorFatal(err)
	_, err = ic.Continue(Encapsulate(b, TokenAPRep))
	assert.Error(err)
	assert.False(ic.ContinueNeeded())

	// some other token
	ic, _, err = env.mech.InitSecContext(testTarget, WithInitiatorCredential(env.cred), WithInitiatorFlags(gssapi.ContextFlagMutual))
	assert.NoErrorFatal(err)
	_, err = ic.Continue(Encapsulate([]byte("x"), TokenWrap))
	assert.ErrorIs(err, gssapi.ErrDefectiveToken)
}

func TestSecContextChannelBindings(t *testing.T) {
	cbA := &gssapi.ChannelBinding{Data: []byte("tls-server-end-point:A")}
	cbB := &gssapi.ChannelBinding{Data: []byte("tls-server-end-point:B")}

	tests := []struct {
		name      string
		initiator *gssapi.ChannelBinding
		acceptor  *gssapi.ChannelBinding
		expect    error
		bound     bool
	}{
		{"match", cbA, cbA, nil, true},
		{"mismatch", cbA, cbB, gssapi.ErrBadBindings, false},
		{"acceptor-none", cbA, nil, nil, false},
		{"initiator-none", nil, cbB, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := NewAssert(t)

			env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)
			_, tok, err := env.mech.InitSecContext(testTarget,
				WithInitiatorCredential(env.cred),
				WithInitiatorChannelBinding(tt.initiator))
			assert.NoErrorFatal(err)

			ac, _, err := env.mech.AcceptSecContext(tok, WithAcceptorChannelBinding(tt.acceptor))
			if tt.expect == nil {
				assert.NoErrorFatal(err)
				assert.Equal(tt.bound, ac.ChannelBound())
			} else {
				assert.ErrorIs(err, tt.expect)
			}
		})
	}
}

func TestSecContextDelegation(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, true)
	deleg := NewMemoryCCache()

	ic, tok, err := env.mech.InitSecContext(testTarget,
		WithInitiatorCredential(env.cred),
		WithInitiatorFlags(gssapi.ContextFlagDeleg))
	assert.NoErrorFatal(err)
	assert.NotZero(ic.Flags() & gssapi.ContextFlagDeleg)

	ac, _, err := env.mech.AcceptSecContext(tok, WithDelegationCache(deleg))
	assert.NoErrorFatal(err)
	assert.NotZero(ac.Flags() & gssapi.ContextFlagDeleg)

	dc := ac.DelegatedCredential()
	if !assert.NotNil(dc) {
		return
	}
	assert.True(testClient.Equal(dc.Name()))
	assert.Equal(gssapi.CredUsageInitiateOnly, dc.Usage())
	assert.Equal(TicketCache(deleg), dc.Cache())

	tgt, ok := deleg.TGT()
	assert.True(ok)
	assert.True(testClient.Equal(tgt.Client))
}

func TestSecContextDelegationUnavailable(t *testing.T) {
	assert := NewAssert(t)

	// no TGT to forward: the context is established without delegation
	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)
	ic, ac := env.establish(t, gssapi.ContextFlagDeleg|gssapi.ContextFlagMutual)

	assert.Zero(ic.Flags() & gssapi.ContextFlagDeleg)
	assert.Zero(ac.Flags() & gssapi.ContextFlagDeleg)
	assert.Nil(ac.DelegatedCredential())
}

func TestSecContextExportImport(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)
	ic, ac := env.establish(t, gssapi.ContextFlagMutual)
	exchange(t, ic, ac, "before export")

	want, err := ac.Inquire()
	assert.NoErrorFatal(err)

	b, err := ac.Export()
	assert.NoErrorFatal(err)

	// the exported context is gone
	_, _, err = ac.Wrap([]byte("x"), true, 0)
	assert.ErrorIs(err, gssapi.ErrNoContext)
	_, err = ac.Export()
	assert.ErrorIs(err, gssapi.ErrNoContext)

	imported, err := env.mech.ImportSecContext(b)
	assert.NoErrorFatal(err)

	got, err := imported.Inquire()
	assert.NoErrorFatal(err)
	assert.True(want.InitiatorName.Equal(got.InitiatorName))
	assert.True(want.AcceptorName.Equal(got.AcceptorName))
	assert.Equal(want.Flags, got.Flags)
	assert.Equal(want.ExpiresAt.ExpiresAt.Unix(), got.ExpiresAt.ExpiresAt.Unix())
	assert.False(got.LocallyInitiated)
	assert.True(got.FullyEstablished)

	// the sequence numbers carry on from where the exported context left off
	exchange(t, ic, imported, "after export")
	exchange(t, imported, ic, "reply after export")
}

func TestSecContextExportInitiator(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.DES3_CBC_SHA1_KD, false)
	ic, ac := env.establish(t, 0)

	b, err := ic.Export()
	assert.NoErrorFatal(err)
	imported, err := env.mech.ImportSecContext(b)
	assert.NoErrorFatal(err)

	info, err := imported.Inquire()
	assert.NoErrorFatal(err)
	assert.True(info.LocallyInitiated)

	exchange(t, imported, ac, "from the imported initiator")
}

func TestSecContextExportErrors(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)
	ic, _ := env.establish(t, 0)

	ic.flags &^= gssapi.ContextFlagTrans
	_, err := ic.Export()
	assert.ErrorIs(err, gssapi.ErrUnavailable)

	ic.flags |= gssapi.ContextFlagTrans
	b, err := ic.Export()
	assert.NoErrorFatal(err)

	for _, bad := range [][]byte{nil, b[:len(b)-1], append(clone(b), 0), []byte("garbage")} {
		_, err = env.mech.ImportSecContext(bad)
		assert.ErrorIs(err, gssapi.ErrDefectiveToken)
	}
}

func TestSecContextSequence(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)
	ic, ac := env.establish(t, gssapi.ContextFlagReplay|gssapi.ContextFlagSequence)

	tok1, _, err := ic.Wrap([]byte("one"), true, 0)
	assert.NoErrorFatal(err)
	tok2, _, err := ic.Wrap([]byte("two"), true, 0)
	assert.NoErrorFatal(err)

	_, _, _, err = ac.Unwrap(tok2)
	assert.ErrorIs(err, gssapi.ErrBadMic)
	assert.ErrorIs(err, gssapi.InfoGapToken)

	// a rejected token does not move the expected sequence number
	msg, _, _, err := ac.Unwrap(tok1)
	assert.NoErrorFatal(err)
	assert.Equal("one", string(msg))
	msg, _, _, err = ac.Unwrap(tok2)
	assert.NoErrorFatal(err)
	assert.Equal("two", string(msg))

	_, _, _, err = ac.Unwrap(tok1)
	assert.ErrorIs(err, gssapi.ErrBadMic)
	assert.ErrorIs(err, gssapi.InfoOldToken)

	// tampering
	tok3, _, err := ic.Wrap([]byte("three"), true, 0)
	assert.NoErrorFatal(err)
	bad := clone(tok3)
	bad[len(bad)-1] ^= 1
	_, _, _, err = ac.Unwrap(bad)
	assert.ErrorIs(err, gssapi.ErrBadMic)
	_, _, _, err = ac.Unwrap(tok3)
	assert.NoError(err)

	mic, err := ic.GetMIC([]byte("signed"), 0)
	assert.NoErrorFatal(err)
	_, err = ac.VerifyMIC([]byte("changed"), mic)
	assert.ErrorIs(err, gssapi.ErrBadMic)
	_, err = ac.VerifyMIC([]byte("signed"), mic)
	assert.NoError(err)
}

func TestSecContextQoP(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)
	ic, _ := env.establish(t, 0)

	_, _, err := ic.Wrap([]byte("msg"), true, 1)
	assert.ErrorIs(err, gssapi.ErrBadQop)
	_, err = ic.GetMIC([]byte("msg"), 2)
	assert.ErrorIs(err, gssapi.ErrBadQop)
	_, err = ic.WrapSizeLimit(true, 100, 3)
	assert.ErrorIs(err, gssapi.ErrBadQop)
}

func TestSecContextWrapSizeLimit(t *testing.T) {
	for _, keyType := range []int32{etypeID.AES128_CTS_HMAC_SHA1_96, etypeID.DES3_CBC_SHA1_KD} {
		t.Run(fmt.Sprintf("etype=%d", keyType), func(t *testing.T) {
			assert := NewAssert(t)

			env := mk_fake_env(t, keyType, false)
			ic, _ := env.establish(t, 0)

			for _, conf := range []bool{false, true} {
				limit, err := ic.WrapSizeLimit(conf, 1000, 0)
				assert.NoErrorFatal(err)
				assert.Greater(limit, uint(0))

				tok, _, err := ic.Wrap(make([]byte, limit), conf, 0)
				assert.NoErrorFatal(err)
				assert.LessOrEqual(len(tok), 1000)
			}
		})
	}
}

func TestSecContextExpired(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)
	ic, _ := env.establish(t, 0)

	ic.expiry = time.Now().Add(-time.Second)
	_, _, err := ic.Wrap([]byte("late"), true, 0)
	assert.ErrorIs(err, gssapi.ErrContextExpired)

	l, err := ic.ExpiresAt()
	assert.NoErrorFatal(err)
	assert.Equal(gssapi.GssLifetimeExpired, l.Status)
}

func TestSecContextLifetime(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)
	ic, _, err := env.mech.InitSecContext(testTarget, WithInitiatorCredential(env.cred), WithInitiatorLifetime(time.Minute))
	assert.NoErrorFatal(err)

	l, err := ic.ExpiresAt()
	assert.NoErrorFatal(err)
	assert.Equal(gssapi.GssLifetimeAvailable, l.Status)
	assert.LessOrEqual(l.Remaining(), time.Minute)
}

func TestSecContextDelete(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)
	ic, ac := env.establish(t, 0)

	out, err := ic.Delete()
	assert.NoError(err)
	assert.Empty(out)
	out, err = ic.Delete()
	assert.NoError(err)
	assert.Empty(out)

	_, err = ic.GetMIC([]byte("gone"), 0)
	assert.ErrorIs(err, gssapi.ErrNoContext)
	_, err = ic.Inquire()
	assert.ErrorIs(err, gssapi.ErrNoContext)

	// RFC 4121 keys have no delete tokens
	assert.ErrorIs(ac.ProcessToken([]byte("junk")), gssapi.ErrDefectiveToken)
	assert.ErrorIs(ac.ProcessToken(Encapsulate(nil, TokenDelete)), gssapi.ErrDefectiveToken)
	_, _, err = ac.Wrap([]byte("still here"), true, 0)
	assert.NoError(err)

	_, err = ac.Delete()
	assert.NoError(err)
	assert.ErrorIs(ac.ProcessToken(Encapsulate(nil, TokenDelete)), gssapi.ErrNoContext)
}

func TestSecContextDeleteClearsCredentials(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, true)
	cb := &gssapi.ChannelBinding{Data: []byte("tls-exporter:A")}

	_, tok, err := env.mech.InitSecContext(testTarget,
		WithInitiatorCredential(env.cred),
		WithInitiatorFlags(gssapi.ContextFlagDeleg),
		WithInitiatorChannelBinding(cb))
	assert.NoErrorFatal(err)
	ac, _, err := env.mech.AcceptSecContext(tok, WithAcceptorChannelBinding(cb))
	assert.NoErrorFatal(err)
	assert.NotNil(ac.DelegatedCredential())
	assert.True(ac.ChannelBound())

	_, err = ac.Delete()
	assert.NoError(err)
	assert.Nil(ac.DelegatedCredential())
	assert.False(ac.ChannelBound())
}

// deleteToken returns a context deletion token from c, signed as RFC 1964 says.
func deleteToken(t *testing.T, c *SecContext) []byte {
	t.Helper()

	_, p, err := c.protection(0)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := des3Format.signedToken(p, TokenDelete, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestSecContextProcessDeleteToken(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.DES3_CBC_SHA1_KD, false)
	ic, ac := env.establish(t, gssapi.ContextFlagMutual)

	good := deleteToken(t, ic)

	forged := []*struct {
		name string
		tok  []byte
		code error
	}{
		{"no-checksum", Encapsulate([]byte("junk, no checksum at all"), TokenDelete), gssapi.ErrDefectiveToken},
		{"bad-checksum", append([]byte(nil), good...), gssapi.ErrBadMic},
		{"mic-token", nil, gssapi.ErrDefectiveToken},
	}
	forged[1].tok[len(good)-1] ^= 0x01
	mic, err := ic.GetMIC(nil, 0)
	assert.NoErrorFatal(err)
	forged[2].tok = mic

	for _, tt := range forged {
		err := ac.ProcessToken(tt.tok)
		assert.ErrorIs(err, tt.code, tt.name)
	}

	// the context survives the forgeries
	exchange(t, ac, ic, "still here")
	_, err = ac.VerifyMIC(nil, mic)
	assert.NoError(err)

	// good carries the sequence number the MIC used
	assert.ErrorIs(ac.ProcessToken(good), gssapi.ErrBadMic)

	assert.NoError(ac.ProcessToken(deleteToken(t, ic)))
	_, _, err = ac.Wrap([]byte("gone"), true, 0)
	assert.ErrorIs(err, gssapi.ErrNoContext)
}

func TestSecContextInquire(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)
	ic, ac := env.establish(t, gssapi.ContextFlagMutual)

	for _, tt := range []struct {
		c         *SecContext
		initiator bool
	}{{ic, true}, {ac, false}} {
		info, err := tt.c.Inquire()
		assert.NoErrorFatal(err)
		assert.True(testClient.Equal(info.InitiatorName))
		assert.True(testTarget.Equal(info.AcceptorName))
		assert.Equal(gssapi.OidMechKrb5, info.Mech)
		assert.Equal(tt.initiator, info.LocallyInitiated)
		assert.True(info.FullyEstablished)
		assert.True(info.ProtectionReady)
		assert.True(info.Transferrable)
		assert.Equal(gssapi.GssLifetimeAvailable, info.ExpiresAt.Status)
	}

	assert.NotNil(ac.Ticket())
	assert.Equal("EXAMPLE.COM", ac.Ticket().Realm)
	assert.Nil(ic.Ticket())
}

func TestSecContextCredentials(t *testing.T) {
	assert := NewAssert(t)

	env := mk_fake_env(t, etypeID.AES256_CTS_HMAC_SHA1_96, false)

	_, _, err := env.mech.InitSecContext(nil, WithInitiatorCredential(env.cred))
	assert.ErrorIs(err, gssapi.ErrBadName)

	acceptOnly := NewAcceptorCredential(nil, keytab.New())
	_, _, err = env.mech.InitSecContext(testTarget, WithInitiatorCredential(acceptOnly))
	assert.ErrorIs(err, gssapi.ErrNoCred)

	// no ticket for the target
	other := NewName(nametype.KRB_NT_SRV_HST, "EXAMPLE.COM", "ldap", "www.example.com")
	_, _, err = env.mech.InitSecContext(other, WithInitiatorCredential(env.cred))
	assert.ErrorIs(err, gssapi.ErrNoCred)

	short, err := env.cred.Add(gssapi.CredUsageInitiateOnly, time.Nanosecond)
	assert.NoErrorFatal(err)
	time.Sleep(time.Millisecond)
	_, _, err = env.mech.InitSecContext(testTarget, WithInitiatorCredential(short))
	assert.ErrorIs(err, gssapi.ErrCredentialsExpired)

	_, tok, err := env.mech.InitSecContext(testTarget, WithInitiatorCredential(env.cred))
	assert.NoErrorFatal(err)

	wrongService := NewAcceptorCredential(NewName(nametype.KRB_NT_SRV_HST, "EXAMPLE.COM", "host", "other"), keytab.New())
	_, _, err = env.mech.AcceptSecContext(tok, WithAcceptorCredential(wrongService))
	assert.ErrorIs(err, gssapi.ErrNoCred)

	released := NewAcceptorCredential(nil, keytab.New())
	_ = released.Release()
	_, _, err = env.mech.AcceptSecContext(tok, WithAcceptorCredential(released))
	assert.ErrorIs(err, gssapi.ErrNoCred)

	right := NewAcceptorCredential(testTarget, keytab.New())
	_, _, err = env.mech.AcceptSecContext(tok, WithAcceptorCredential(right))
	assert.NoError(err)

	_, _, err = env.mech.AcceptSecContext(Encapsulate(tok, TokenWrap))
	assert.ErrorIs(err, gssapi.ErrDefectiveToken)
}

// seqSuite is a stand in per-message suite that only carries sequence numbers.
type seqSuite struct{}

func (seqSuite) token(p *Protection, msg []byte, tokType TokenType) []byte {
	b := binary.BigEndian.AppendUint64(nil, p.SendSeq)
	return Encapsulate(append(b, msg...), tokType)
}

func (seqSuite) check(p *Protection, tok []byte, tokType TokenType) ([]byte, error) {
	b, err := Decapsulate(tok, tokType)
	if err != nil {
		return nil, err
	}
	if len(b) < 8 {
		return nil, fatal(gssapi.ErrDefectiveToken, "short token")
	}
	if err := checkSeq(binary.BigEndian.Uint64(b), p.RecvSeq); err != nil {
		return nil, err
	}
	return b[8:], nil
}

func (s seqSuite) GetMIC(p *Protection, msg []byte) ([]byte, error) {
	return s.token(p, msg, TokenMIC), nil
}

func (s seqSuite) VerifyMIC(p *Protection, msg, tok []byte) error {
	b, err := s.check(p, tok, TokenMIC)
	if err != nil {
		return err
	}
	if !bytes.Equal(b, msg) {
		return fatal(gssapi.ErrBadMic, "message does not match")
	}
	return nil
}

func (s seqSuite) Wrap(p *Protection, msg []byte, conf bool) ([]byte, error) {
	return s.token(p, msg, TokenWrap), nil
}

func (s seqSuite) Unwrap(p *Protection, tok []byte) ([]byte, bool, error) {
	b, err := s.check(p, tok, TokenWrap)
	return b, false, err
}

func (seqSuite) WrapSizeLimit(p *Protection, conf bool, maxOut uint) uint {
	return maxOut - uint(encapsulatedLength(8))
}

func TestWithMessageSuite(t *testing.T) {
	assert := NewAssert(t)

	// no built in support for ARCFOUR
	env := mk_fake_env(t, etypeID.RC4_HMAC, false)
	ic, _ := env.establish(t, 0)
	_, _, err := ic.Wrap([]byte("msg"), true, 0)
	assert.ErrorIs(err, gssapi.ErrUnavailable)

	env = mk_fake_env(t, etypeID.RC4_HMAC, false, WithMessageSuite(etypeID.RC4_HMAC, seqSuite{}))
	ic, ac := env.establish(t, 0)
	assert.Equal(int32(etypeID.RC4_HMAC), ic.ac.KeyType)
	assert.Equal(cksumTypeHMACMD5, ic.ac.CksumType)

	tok, conf, err := ic.Wrap([]byte("msg"), true, 0)
	assert.NoErrorFatal(err)
	assert.True(conf)

	msg, conf, _, err := ac.Unwrap(tok)
	assert.NoErrorFatal(err)
	assert.Equal("msg", string(msg))
	assert.False(conf)

	_, _, _, err = ac.Unwrap(tok)
	assert.ErrorIs(err, gssapi.InfoOldToken)
}
