// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"fmt"

	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssapi-krb5"
)

// Protection is the per-message state a MessageSuite works with.  Suites never
// change the sequence numbers; the security context advances them after a
// successful call.
type Protection struct {
	Key            types.EncryptionKey
	Initiator      bool   // the local party initiated the context
	SendSeq        uint64 // sequence number for the next token we send
	RecvSeq        uint64 // sequence number expected on the next token from the peer
	AcceptorSubkey bool   // Key is the acceptor's subkey
	Crypto         CryptoProvider
}

// MessageSuite produces and consumes the per-message tokens for a family of
// encryption types.
type MessageSuite interface {
	GetMIC(p *Protection, msg []byte) ([]byte, error)
	VerifyMIC(p *Protection, msg, tok []byte) error
	Wrap(p *Protection, msg []byte, conf bool) ([]byte, error)
	Unwrap(p *Protection, tok []byte) (msg []byte, conf bool, err error)

	// WrapSizeLimit returns the largest message that wraps to no more than maxOut bytes.
	WrapSizeLimit(p *Protection, conf bool, maxOut uint) uint
}

// DeleteTokenVerifier is implemented by suites whose contexts can be deleted by the
// peer with an RFC 1964 § 1.2.2 context deletion token.  RFC 4121 has no such token.
type DeleteTokenVerifier interface {
	VerifyDeleteToken(p *Protection, tok []byte) error
}

// defaultSuites returns the built in suites by encryption type.  ARCFOUR (RFC 4757)
// has no built in suite.
func defaultSuites() map[int32]MessageSuite {
	des := desSuite{}
	des3 := des3Suite{}
	cfx := cfxSuite{}

	return map[int32]MessageSuite{
		etypeID.DES_CBC_CRC:                des,
		etypeID.DES_CBC_MD4:                des,
		etypeID.DES_CBC_MD5:                des,
		etypeID.DES3_CBC_SHA1_KD:           des3,
		etypeID.AES128_CTS_HMAC_SHA1_96:    cfx,
		etypeID.AES256_CTS_HMAC_SHA1_96:    cfx,
		etypeID.AES128_CTS_HMAC_SHA256_128: cfx,
		etypeID.AES256_CTS_HMAC_SHA384_192: cfx,
	}
}

// checkSeq compares a received sequence number with the expected one.
func checkSeq(got, want uint64) error {
	if got == want {
		return nil
	}

	err := fmt.Errorf("gssapi: bad sequence number from peer, got %d, wanted %d", got, want)
	if got < want {
		return gssapi.NewFatalStatus(gssapi.ErrBadMic, err).WithInfo(gssapi.InfoOldToken)
	}
	return gssapi.NewFatalStatus(gssapi.ErrBadMic, err).WithInfo(gssapi.InfoGapToken)
}
