// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana"
	"github.com/jcmturner/gokrb5/v8/iana/asnAppTag"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/krberror"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// krbCred is the marshalling form of RFC 4120 KRB_CRED (§ 5.8.1).  gokrb5 can
// only read these messages.
type krbCred struct {
	PVNO    int                 `asn1:"explicit,tag:0"`
	MsgType int                 `asn1:"explicit,tag:1"`
	Tickets asn1.RawValue       `asn1:"explicit,tag:2"`
	EncPart types.EncryptedData `asn1:"explicit,tag:3"`
}

// marshalKRBCred encodes the entries as a KRB-CRED encrypted in key.
func marshalKRBCred(entries []CCacheEntry, key types.EncryptionKey) ([]byte, error) {
	var tickets []byte
	part := messages.EncKrbCredPart{
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}

	for _, e := range entries {
		tb, err := e.Ticket.Marshal()
		if err != nil {
			return nil, krberror.Errorf(err, krberror.EncodingError, "marshaling forwarded ticket")
		}
		tickets = append(tickets, tb...)

		part.TicketInfo = append(part.TicketInfo, messages.KrbCredInfo{
			Key:       e.SessionKey,
			PRealm:    e.Client.Realm,
			PName:     e.Client.PrincipalName,
			Flags:     e.Flags,
			AuthTime:  e.AuthTime,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
			RenewTill: e.RenewTill,
			SRealm:    e.Server.Realm,
			SName:     e.Server.PrincipalName,
		})
	}

	pb, err := asn1.Marshal(part)
	if err != nil {
		return nil, krberror.Errorf(err, krberror.EncodingError, "marshaling KRB-CRED enc-part")
	}
	pb = asn1tools.AddASNAppTag(pb, asnAppTag.EncKrbCredPart)

	ed, err := crypto.GetEncryptedData(pb, key, uint32(keyusage.KRB_CRED_ENCPART), 0)
	if err != nil {
		return nil, krberror.Errorf(err, krberror.EncryptingError, "encrypting KRB-CRED enc-part")
	}

	seq, err := asn1.Marshal(asn1.RawValue{
		Class:      0,  // universal
		Tag:        16, // SEQUENCE OF Ticket
		IsCompound: true,
		Bytes:      tickets,
	})
	if err != nil {
		return nil, krberror.Errorf(err, krberror.EncodingError, "marshaling forwarded tickets")
	}

	// the explicit tag is not applied to RawValue fields, so it is built here as
	// gokrb5 does for AP-REQ
	msg := krbCred{
		PVNO:    iana.PVNO,
		MsgType: msgtype.KRB_CRED,
		Tickets: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        2,
			IsCompound: true,
			Bytes:      seq,
		},
		EncPart: ed,
	}

	b, err := asn1.Marshal(msg)
	if err != nil {
		return nil, krberror.Errorf(err, krberror.EncodingError, "marshaling KRB-CRED")
	}
	return asn1tools.AddASNAppTag(b, asnAppTag.KRBCred), nil
}

// unmarshalKRBCred decodes a KRB-CRED, trying each key in turn.  Unencrypted
// (etype 0) messages, as sent by some implementations, are accepted as is.
func unmarshalKRBCred(b []byte, keys ...*types.EncryptionKey) ([]CCacheEntry, error) {
	var cred messages.KRBCred
	if err := cred.Unmarshal(b); err != nil {
		return nil, err
	}

	if cred.EncPart.EType == 0 {
		if err := cred.DecryptedEncPart.Unmarshal(cred.EncPart.Cipher); err != nil {
			return nil, krberror.Errorf(err, krberror.EncodingError, "reading unencrypted KRB-CRED")
		}
	} else {
		var err error = krberror.New(krberror.DecryptingError, "no key for KRB-CRED")
		for _, k := range keys {
			if k == nil {
				continue
			}
			if err = cred.DecryptEncPart(*k); err == nil {
				break
			}
		}
		if err != nil {
			return nil, err
		}
	}

	info := cred.DecryptedEncPart.TicketInfo
	if len(info) != len(cred.Tickets) {
		return nil, krberror.NewErrorf(krberror.KRBMsgError, "KRB-CRED has %d tickets but %d ticket infos", len(cred.Tickets), len(info))
	}

	entries := make([]CCacheEntry, len(info))
	for i, ci := range info {
		srealm, sname := ci.SRealm, ci.SName
		if srealm == "" {
			srealm, sname = cred.Tickets[i].Realm, cred.Tickets[i].SName
		}

		entries[i] = CCacheEntry{
			Client:     &Name{PrincipalName: ci.PName, Realm: ci.PRealm},
			Server:     &Name{PrincipalName: sname, Realm: srealm},
			Ticket:     cred.Tickets[i],
			SessionKey: ci.Key,
			Flags:      ci.Flags,
			AuthTime:   ci.AuthTime,
			StartTime:  ci.StartTime,
			EndTime:    ci.EndTime,
			RenewTill:  ci.RenewTill,
		}
	}

	return entries, nil
}
