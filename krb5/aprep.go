// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"fmt"
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

// apRep is KRB_AP_REP, RFC 4120 § 5.5.2.  The gokrb5 version can only be decoded,
// and the acceptor has to build one.
type apRep struct {
	PVNO    int                 `asn1:"explicit,tag:0"`
	MsgType int                 `asn1:"explicit,tag:1"`
	EncPart types.EncryptedData `asn1:"explicit,tag:2"`
}

// apRepPart is EncAPRepPart, encrypted in the ticket session key.
type apRepPart struct {
	CTime          time.Time           `asn1:"generalized,explicit,tag:0"`
	Cusec          int                 `asn1:"explicit,tag:1"`
	Subkey         types.EncryptionKey `asn1:"optional,explicit,tag:2"`
	SequenceNumber int64               `asn1:"optional,explicit,tag:3"`
}

func appParams(tag int) string {
	return fmt.Sprintf("application,explicit,tag:%d", tag)
}

func (a *apRep) marshal() ([]byte, error) {
	b, err := asn1.Marshal(*a)
	if err != nil {
		return nil, err
	}
	return asn1tools.AddASNAppTag(b, asnAppTag.APREP), nil
}

// unmarshal decodes an AP-REP.  A KRB-ERROR sent in its place is returned as the
// error.
func (a *apRep) unmarshal(b []byte) error {
	if _, err := asn1.UnmarshalWithParams(b, a, appParams(asnAppTag.APREP)); err != nil {
		if _, structural := err.(asn1.StructuralError); structural {
			var krbErr messages.KRBError
			if krbErr.Unmarshal(b) == nil {
				return krbErr
			}
		}
		return krberror.Errorf(err, krberror.EncodingError, "decoding AP-REP")
	}
	if a.MsgType != msgtype.KRB_AP_REP {
		return krberror.NewErrorf(krberror.KRBMsgError, "message type %d is not KRB_AP_REP", a.MsgType)
	}
	return nil
}

func (p *apRepPart) marshal() ([]byte, error) {
	b, err := asn1.Marshal(*p)
	if err != nil {
		return nil, err
	}
	return asn1tools.AddASNAppTag(b, asnAppTag.EncAPRepPart), nil
}

func (p *apRepPart) unmarshal(b []byte) error {
	if _, err := asn1.UnmarshalWithParams(b, p, appParams(asnAppTag.EncAPRepPart)); err != nil {
		return krberror.Errorf(err, krberror.EncodingError, "decoding AP-REP enc-part")
	}
	return nil
}

// seal encrypts p into an AP-REP.  Session keys have no key version, so it is sent as
// zero.
func (p *apRepPart) seal(key types.EncryptionKey) (*apRep, error) {
	plain, err := p.marshal()
	if err != nil {
		return nil, krberror.Errorf(err, krberror.EncodingError, "encoding AP-REP enc-part")
	}

	ed, err := crypto.GetEncryptedData(plain, key, keyusage.AP_REP_ENCPART, 0)
	if err != nil {
		return nil, krberror.Errorf(err, krberror.EncryptingError, "encrypting AP-REP enc-part")
	}
	return &apRep{PVNO: iana.PVNO, MsgType: msgtype.KRB_AP_REP, EncPart: ed}, nil
}

func (a *apRep) open(key types.EncryptionKey) (*apRepPart, error) {
	plain, err := crypto.DecryptEncPart(a.EncPart, key, keyusage.AP_REP_ENCPART)
	if err != nil {
		return nil, krberror.Errorf(err, krberror.DecryptingError, "decrypting AP-REP enc-part")
	}

	p := &apRepPart{}
	if err := p.unmarshal(plain); err != nil {
		return nil, err
	}
	return p, nil
}

// marshalReply builds the AP-REP for an accepted request.  It echoes the
// authenticator time and carries the acceptor's sequence number and subkey.
func marshalReply(ac *AuthContext) ([]byte, error) {
	if ac.SessionKey == nil {
		return nil, krberror.New(krberror.EncryptingError, "no session key for AP-REP")
	}

	part := apRepPart{
		CTime:          ac.CTime,
		Cusec:          ac.Cusec,
		SequenceNumber: int64(ac.LocalSeq),
	}
	if ac.LocalSubkey != nil {
		part.Subkey = *ac.LocalSubkey
	}

	rep, err := part.seal(*ac.SessionKey)
	if err != nil {
		return nil, err
	}
	return rep.marshal()
}

// verifyReply checks an AP-REP against the request recorded in ac and stores the
// acceptor's sequence number and subkey.
func verifyReply(ac *AuthContext, b []byte) error {
	if ac.SessionKey == nil {
		return krberror.New(krberror.DecryptingError, "no session key for AP-REP")
	}

	var rep apRep
	if err := rep.unmarshal(b); err != nil {
		return err
	}
	part, err := rep.open(*ac.SessionKey)
	if err != nil {
		return err
	}

	// compare seconds: ac.CTime may carry a monotonic reading
	if part.CTime.Unix() != ac.CTime.Unix() || part.Cusec != ac.Cusec {
		return krberror.New(krberror.KRBMsgError, "mutual authentication failed: AP-REP time does not match the request")
	}

	ac.RemoteSeq = uint64(part.SequenceNumber)
	if len(part.Subkey.KeyValue) > 0 {
		subkey := part.Subkey
		ac.RemoteSubkey = &subkey
	}
	return nil
}
