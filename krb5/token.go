// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"bytes"

	"github.com/golang-auth/go-gssapi-krb5"
)

// TokenType is the two byte identifier following the mechanism OID in a framed
// token, RFC 1964 § 1.1 and 1.2.
type TokenType [2]byte

// GSSAPI KRB5 token IDs.
var (
	TokenAPReq    = TokenType{0x01, 0x00} // context establishment request
	TokenAPRep    = TokenType{0x02, 0x00} // mutual authentication reply
	TokenKRBError = TokenType{0x03, 0x00} // Kerberos error in place of a reply
	TokenMIC      = TokenType{0x01, 0x01} // signature-only message
	TokenWrap     = TokenType{0x02, 0x01} // sealed message
	TokenDelete   = TokenType{0x01, 0x02} // context deletion
)

const (
	tokenTagApplication = 0x60
	tokenTagOID         = 0x06
)

// mechOID is the DER content of the Kerberos V5 mechanism OID
var mechOID = []byte(gssapi.OidMechKrb5)

func derLengthLen(n int) int {
	if n < 0x80 {
		return 1
	}

	l := 1
	for ; n > 0; n >>= 8 {
		l++
	}
	return l
}

func putDERLength(b []byte, n int) int {
	if n < 0x80 {
		b[0] = byte(n)
		return 1
	}

	l := derLengthLen(n) - 1
	b[0] = 0x80 | byte(l)
	for i := l; i > 0; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return l + 1
}

// parseDERLength decodes a definite-length field of up to four octets, returning the
// length, the number of bytes consumed and whether the field was valid.
func parseDERLength(b []byte) (int, int, bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	if b[0] < 0x80 {
		return int(b[0]), 1, true
	}

	l := int(b[0] & 0x7f)
	if l == 0 || l > 4 || len(b) < 1+l {
		return 0, 0, false
	}

	n := 0
	for _, c := range b[1 : 1+l] {
		n = n<<8 | int(c)
	}
	if n < 0 {
		return 0, 0, false
	}
	return n, 1 + l, true
}

// innerLength is the length covered by the outer DER length field for a payload of
// payloadLen bytes: the OID element, the token ID and the payload.
func innerLength(payloadLen int) int {
	return 1 + 1 + len(mechOID) + 2 + payloadLen
}

// encapsulatedLength returns the full size of a framed token carrying payloadLen bytes.
func encapsulatedLength(payloadLen int) int {
	inner := innerLength(payloadLen)
	return 1 + derLengthLen(inner) + inner
}

func putHeader(b []byte, payloadLen int, tag TokenType) int {
	b[0] = tokenTagApplication
	p := 1 + putDERLength(b[1:], innerLength(payloadLen))
	b[p] = tokenTagOID
	b[p+1] = byte(len(mechOID))
	p += 2
	p += copy(b[p:], mechOID)
	b[p] = tag[0]
	b[p+1] = tag[1]
	return p + 2
}

// EncapsulateHeader returns the framing that precedes a payload of payloadLen bytes and
// the total length of the resulting token.
func EncapsulateHeader(payloadLen int, tag TokenType) (hdr []byte, total int) {
	total = encapsulatedLength(payloadLen)
	hdr = make([]byte, total-payloadLen)
	putHeader(hdr, payloadLen, tag)
	return
}

// Encapsulate frames raw as a token of type tag.
func Encapsulate(raw []byte, tag TokenType) []byte {
	tok := make([]byte, encapsulatedLength(len(raw)))
	p := putHeader(tok, len(raw), tag)
	copy(tok[p:], raw)
	return tok
}

// VerifyHeader checks the framing of buf and returns the payload that follows it.
// The returned slice shares storage with buf.
func VerifyHeader(buf []byte, tag TokenType) ([]byte, error) {
	p, err := verifyFraming(buf)
	if err != nil {
		return nil, err
	}

	if len(p) < 2 || p[0] != tag[0] || p[1] != tag[1] {
		return nil, fatal(gssapi.ErrDefectiveToken, "bad token ID, expected %x", tag[:])
	}

	return p[2:], nil
}

// Decapsulate returns the payload of a token of type tag.
func Decapsulate(tok []byte, tag TokenType) ([]byte, error) {
	return VerifyHeader(tok, tag)
}

// PeekTokenType returns the token ID of a correctly framed token.
func PeekTokenType(tok []byte) (TokenType, bool) {
	p, err := verifyFraming(tok)
	if err != nil || len(p) < 2 {
		return TokenType{}, false
	}
	return TokenType{p[0], p[1]}, true
}

// verifyFraming checks everything up to the token ID and returns the rest.
func verifyFraming(buf []byte) ([]byte, error) {
	if len(buf) == 0 || buf[0] != tokenTagApplication {
		return nil, fatal(gssapi.ErrDefectiveToken, "token does not start with the GSS framing tag")
	}

	l, n, ok := parseDERLength(buf[1:])
	if !ok || 1+n+l != len(buf) {
		return nil, fatal(gssapi.ErrDefectiveToken, "token length field does not match the token size")
	}

	p := buf[1+n:]
	if len(p) < 2 || p[0] != tokenTagOID {
		return nil, fatal(gssapi.ErrDefectiveToken, "token does not contain a mechanism OID")
	}

	oidLen := int(p[1])
	if oidLen != len(mechOID) || len(p) < 2+oidLen || !bytes.Equal(p[2:2+oidLen], mechOID) {
		return nil, fatal(gssapi.ErrBadMech, "token is not for the Kerberos V5 mechanism")
	}

	return p[2+oidLen:], nil
}
