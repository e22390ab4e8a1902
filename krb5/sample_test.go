// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/test/testdata"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Values behind the gokrb5 testdata encodings, which come from the MIT Kerberos
// ASN.1 tests (src/tests/asn.1/ktest.h).
const (
	sampleUsec      = 123456
	sampleSeqNumber = 17
	sampleErrorCode = 0x3C
	samplePrincipal = "hftsai/extra@ATHENA.MIT.EDU"
	sampleData      = "krb5data"
)

func sampleTime() time.Time {
	tm, _ := time.Parse(testdata.TEST_TIME_FORMAT, testdata.TEST_TIME)
	return tm
}

func sampleEncData() types.EncryptedData {
	return types.EncryptedData{EType: 0, KVNO: 5, Cipher: []byte(testdata.TEST_CIPHERTEXT)}
}

func sampleAPRepPart() apRepPart {
	return apRepPart{
		CTime:          sampleTime(),
		Cusec:          sampleUsec,
		Subkey:         types.EncryptionKey{KeyType: 1, KeyValue: []byte("12345678")},
		SequenceNumber: sampleSeqNumber,
	}
}

func sampleAPRep() apRep {
	return apRep{PVNO: 5, MsgType: msgtype.KRB_AP_REP, EncPart: sampleEncData()}
}

func sampleKRBError() messages.KRBError {
	pn, realm := types.ParseSPNString(samplePrincipal)
	tm := sampleTime()
	return messages.KRBError{
		PVNO:      5,
		MsgType:   msgtype.KRB_ERROR,
		CTime:     tm,
		Cusec:     sampleUsec,
		STime:     tm,
		Susec:     sampleUsec,
		ErrorCode: sampleErrorCode,
		CRealm:    realm,
		CName:     pn,
		Realm:     realm,
		SName:     pn,
		EText:     sampleData,
		EData:     []byte(sampleData),
	}
}
