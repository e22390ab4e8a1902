// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"github.com/jcmturner/gokrb5/v8/crypto"
	ianaflags "github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssapi-krb5"
)

// KerberosService is the TicketService backed by gokrb5.
type KerberosService struct {
	// MaxClockSkew bounds the difference between the initiator's and the
	// acceptor's clocks.  Zero means five minutes.
	MaxClockSkew time.Duration

	// Logger, if set, receives gokrb5 service diagnostics.
	Logger *log.Logger
}

var _ TicketService = (*KerberosService)(nil)

func (s *KerberosService) AcquireServiceCredential(cred *Credential, target *Name, lifetime time.Duration) (*ServiceCredential, error) {
	if cred == nil || cred.cache == nil {
		return nil, fatal(gssapi.ErrNoCred, "no initiator credentials cache")
	}

	sc, err := cred.cache.ServiceTicket(target)
	if err != nil {
		return nil, err
	}

	if lifetime > 0 {
		end := time.Now().Add(lifetime)
		if sc.EndTime.IsZero() || end.Before(sc.EndTime) {
			sc.EndTime = end
		}
	}
	return sc, nil
}

func (s *KerberosService) BuildAuthenticator(ac *AuthContext, sc *ServiceCredential, cksum types.Checksum, flags gssapi.ContextFlag) ([]byte, error) {
	auth, err := types.NewAuthenticator(sc.Client.Realm, sc.Client.PrincipalName)
	if err != nil {
		return nil, fmt.Errorf("gssapi: generating new authenticator: %s", err)
	}

	auth.Cksum = cksum
	if ac.LocalSubkey != nil {
		auth.SubKey = *ac.LocalSubkey
	}

	apreq, err := messages.NewAPReq(sc.Ticket, sc.SessionKey, auth)
	if err != nil {
		return nil, fmt.Errorf("gssapi: %s", err)
	}

	// set the Kerberos APREQ MUTUAL-REQUIRED option if we've been asked to perform mutual auth
	if flags&gssapi.ContextFlagMutual != 0 {
		types.SetFlag(&apreq.APOptions, ianaflags.APOptionMutualRequired)
	}

	// stash the sequence number and the time for mutual authentication
	ac.LocalSeq = uint64(auth.SeqNumber)
	ac.CTime = auth.CTime
	ac.Cusec = auth.Cusec

	return apreq.Marshal()
}

func (s *KerberosService) settings(kt *keytab.Keytab, acceptor *Name, ac *AuthContext) *service.Settings {
	skew := s.MaxClockSkew
	if skew == 0 {
		skew = 5 * time.Minute
	}

	opts := []func(*service.Settings){
		service.MaxClockSkew(skew),
		service.DecodePAC(false),
	}
	if acceptor != nil {
		opts = append(opts, service.KeytabPrincipal(acceptor.PrincipalNameString()))
	}
	if ac.RemoteAddr != nil {
		opts = append(opts, service.ClientAddress(*ac.RemoteAddr))
	}
	if s.Logger != nil {
		opts = append(opts, service.Logger(s.Logger))
	}

	return service.NewSettings(kt, opts...)
}

func (s *KerberosService) ReadAndValidateRequest(ac *AuthContext, req []byte, acceptor *Name, kt *keytab.Keytab) (*AcceptedRequest, error) {
	if kt == nil {
		return nil, fatal(gssapi.ErrNoCred, "no acceptor keytab")
	}

	var apreq messages.APReq
	if err := apreq.Unmarshal(req); err != nil {
		return nil, fatalErr(gssapi.ErrDefectiveToken, err)
	}

	ok, _, err := service.VerifyAPREQ(&apreq, s.settings(kt, acceptor, ac))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("gssapi: AP-REQ was not accepted")
	}

	enc := apreq.Ticket.DecryptedEncPart
	auth := apreq.Authenticator

	sessionKey := enc.Key
	ac.SessionKey = &sessionKey
	if len(auth.SubKey.KeyValue) > 0 {
		subkey := auth.SubKey
		ac.RemoteSubkey = &subkey
	}
	ac.RemoteSeq = uint64(auth.SeqNumber)
	ac.CTime = auth.CTime
	ac.Cusec = auth.Cusec

	return &AcceptedRequest{
		Ticket:         apreq.Ticket,
		Client:         &Name{PrincipalName: enc.CName, Realm: enc.CRealm},
		Server:         &Name{PrincipalName: apreq.Ticket.SName, Realm: apreq.Ticket.Realm},
		Authenticator:  auth,
		MutualRequired: types.IsFlagSet(&apreq.APOptions, ianaflags.APOptionMutualRequired),
		EndTime:        enc.EndTime,
	}, nil
}

func (s *KerberosService) BuildReply(ac *AuthContext) ([]byte, error) {
	seq, err := randomSeq()
	if err != nil {
		return nil, err
	}
	ac.LocalSeq = seq

	return marshalReply(ac)
}

func (s *KerberosService) ValidateReply(ac *AuthContext, rep []byte) error {
	return verifyReply(ac, rep)
}

func (s *KerberosService) GenerateSubkey(sessionKey types.EncryptionKey) (types.EncryptionKey, error) {
	if et, err := crypto.GetEtype(sessionKey.KeyType); err == nil {
		return types.GenerateEncryptionKey(et)
	}

	// no gokrb5 support for the type (single DES): random bytes of the same size
	k := types.EncryptionKey{KeyType: sessionKey.KeyType, KeyValue: make([]byte, len(sessionKey.KeyValue))}
	_, err := rand.Read(k.KeyValue)
	return k, err
}

// RequestForwardedTicket forwards the TGT held in a memory cache, typically one
// delegated to this process.  gokrb5 cannot request a fresh forwarded TGT from the
// KDC, so other caches cannot delegate.
func (s *KerberosService) RequestForwardedTicket(ac *AuthContext, cred *Credential, target *Name) ([]byte, error) {
	mc, ok := cred.cache.(*MemoryCCache)
	if !ok {
		return nil, fatal(gssapi.ErrUnavailable, "credential forwarding needs a cache holding a forwardable TGT")
	}

	tgt, ok := mc.TGT()
	if !ok {
		return nil, fatal(gssapi.ErrUnavailable, "no TGT in %s to forward", mc.Name())
	}
	if !types.IsFlagSet(&tgt.Flags, ianaflags.Forwardable) {
		return nil, fatal(gssapi.ErrUnavailable, "TGT in %s is not forwardable", mc.Name())
	}

	key := ac.LocalSubkey
	if key == nil {
		key = ac.SessionKey
	}
	return marshalKRBCred([]CCacheEntry{tgt}, *key)
}

func (s *KerberosService) ImportForwardedTicket(ac *AuthContext, cache *MemoryCCache, data []byte) (*Name, error) {
	entries, err := unmarshalKRBCred(data, ac.RemoteSubkey, ac.SessionKey)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("gssapi: KRB-CRED holds no tickets")
	}

	client := entries[0].Client
	cache.Initialize(client)
	for _, e := range entries {
		cache.Store(e)
	}
	return client.Clone(), nil
}

// randomSeq returns a random initial sequence number, limited to 30 bits as MIT and
// Heimdal do for interoperability with 32 bit peers.
func randomSeq() (uint64, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return uint64(binary.BigEndian.Uint32(b[:]) & 0x3fffffff), nil
}
