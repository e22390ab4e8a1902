// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"crypto/subtle"
	"encoding/binary"

	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssapi-krb5"
)

// RFC 1964 § 1.2 per-message tokens.  After the framing, both token types start
//
//	SGN_ALG (2) | SEAL_ALG (2) or filler | filler (2) | SND_SEQ (8) | SGN_CKSUM
//
// and the checksum covers the token ID and the first six bytes of that, followed by
// the data.
const (
	legacyPrefixLen = 8
	legacySeqOff    = 6
	legacyCksumOff  = 14
	legacyConfLen   = 8
	legacyBlockSize = 8
)

var (
	legacyNoSeal = [2]byte{0xff, 0xff}
	legacyFiller = [4]byte{0xff, 0xff, 0xff, 0xff}
)

// legacyFormat holds what differs between the RFC 1964 style suites.
type legacyFormat struct {
	name     string
	sgnAlg   [2]byte
	sealAlg  [2]byte
	cksumLen int

	// checksum returns SGN_CKSUM over the token prefix and data
	checksum func(p *Protection, prefix, data []byte) ([]byte, error)

	// sealKey returns the key used to encrypt wrap token data
	sealKey func(key types.EncryptionKey) types.EncryptionKey
}

func (f *legacyFormat) fixedLen() int {
	return legacyCksumOff + f.cksumLen
}

// direction returns the four bytes following the sequence number in tokens sent by
// the initiator (if initiator is true) or the acceptor.
func direction(initiator bool) []byte {
	if initiator {
		return []byte{0, 0, 0, 0}
	}
	return []byte{0xff, 0xff, 0xff, 0xff}
}

func (f *legacyFormat) seqBlock(p *Protection, cksum []byte) ([]byte, error) {
	plain := make([]byte, 8)
	binary.LittleEndian.PutUint32(plain, uint32(p.SendSeq))
	copy(plain[4:], direction(p.Initiator))

	return p.Crypto.EncryptRaw(p.Key, cksum[:legacyBlockSize], plain)
}

func (f *legacyFormat) verifySeqBlock(p *Protection, block, cksum []byte) error {
	plain, err := p.Crypto.DecryptRaw(p.Key, cksum[:legacyBlockSize], block)
	if err != nil {
		return fatalErr(gssapi.ErrFailure, err)
	}

	if subtle.ConstantTimeCompare(plain[4:8], direction(!p.Initiator)) != 1 {
		return fatal(gssapi.ErrBadMic, "%s token has the wrong direction", f.name)
	}

	return checkSeq(uint64(binary.LittleEndian.Uint32(plain[0:4])), uint64(uint32(p.RecvSeq)))
}

// sign fills in SND_SEQ and SGN_CKSUM.  tok is the framed token and body the part
// after the token ID.
func (f *legacyFormat) sign(p *Protection, tok, body, data []byte) error {
	prefix := tok[len(tok)-len(body)-2 : len(tok)-len(body)+legacySeqOff]

	cksum, err := f.checksum(p, prefix, data)
	if err != nil {
		return fatalErr(gssapi.ErrFailure, err)
	}

	seq, err := f.seqBlock(p, cksum)
	if err != nil {
		return fatalErr(gssapi.ErrFailure, err)
	}

	copy(body[legacySeqOff:], seq)
	copy(body[legacyCksumOff:], cksum)
	return nil
}

// verify checks SGN_CKSUM and then SND_SEQ.
func (f *legacyFormat) verify(p *Protection, tag TokenType, body, data []byte) error {
	prefix := make([]byte, 0, legacyPrefixLen)
	prefix = append(prefix, tag[:]...)
	prefix = append(prefix, body[:legacySeqOff]...)

	cksum, err := f.checksum(p, prefix, data)
	if err != nil {
		return fatalErr(gssapi.ErrFailure, err)
	}

	tokCksum := body[legacyCksumOff:f.fixedLen()]
	if subtle.ConstantTimeCompare(cksum, tokCksum) != 1 {
		return fatal(gssapi.ErrBadMic, "%s token checksum does not match", f.name)
	}

	return f.verifySeqBlock(p, body[legacySeqOff:legacyCksumOff], tokCksum)
}

func (f *legacyFormat) getMIC(p *Protection, msg []byte) ([]byte, error) {
	return f.signedToken(p, TokenMIC, msg)
}

// signedToken returns a MIC style token over msg.  A context deletion token, RFC 1964
// § 1.2.2, is the same as a MIC token over an empty message with its own token ID.
func (f *legacyFormat) signedToken(p *Protection, tag TokenType, msg []byte) ([]byte, error) {
	hdr, total := EncapsulateHeader(f.fixedLen(), tag)
	tok := make([]byte, total)
	copy(tok, hdr)

	body := tok[len(hdr):]
	copy(body[0:2], f.sgnAlg[:])
	copy(body[2:6], legacyFiller[:])

	if err := f.sign(p, tok, body, msg); err != nil {
		return nil, err
	}
	return tok, nil
}

func (f *legacyFormat) verifyMIC(p *Protection, msg, tok []byte) error {
	return f.verifySigned(p, TokenMIC, "MIC", msg, tok)
}

func (f *legacyFormat) verifyDelete(p *Protection, tok []byte) error {
	return f.verifySigned(p, TokenDelete, "context deletion", nil, tok)
}

func (f *legacyFormat) verifySigned(p *Protection, tag TokenType, kind string, msg, tok []byte) error {
	body, err := Decapsulate(tok, tag)
	if err != nil {
		return err
	}

	if len(body) < f.fixedLen() {
		return fatal(gssapi.ErrDefectiveToken, "%s %s token is too short", f.name, kind)
	}
	if body[0] != f.sgnAlg[0] || body[1] != f.sgnAlg[1] {
		return fatal(gssapi.ErrBadSig, "%s %s token has signing algorithm %x", f.name, kind, body[0:2])
	}
	if subtle.ConstantTimeCompare(body[2:6], legacyFiller[:]) != 1 {
		return fatal(gssapi.ErrBadMic, "%s %s token has a bad filler", f.name, kind)
	}

	return f.verify(p, tag, body, msg)
}

func (f *legacyFormat) wrap(p *Protection, msg []byte, conf bool) ([]byte, error) {
	padLen := legacyBlockSize - len(msg)%legacyBlockSize
	dataLen := legacyConfLen + len(msg) + padLen

	hdr, total := EncapsulateHeader(f.fixedLen()+dataLen, TokenWrap)
	tok := make([]byte, total)
	copy(tok, hdr)

	body := tok[len(hdr):]
	copy(body[0:2], f.sgnAlg[:])
	if conf {
		copy(body[2:4], f.sealAlg[:])
	} else {
		copy(body[2:4], legacyNoSeal[:])
	}
	copy(body[4:6], legacyFiller[:2])

	// confounder | msg | padding
	data := body[f.fixedLen():]
	if err := p.Crypto.Random(data[:legacyConfLen]); err != nil {
		return nil, fatalErr(gssapi.ErrFailure, err)
	}
	copy(data[legacyConfLen:], msg)
	for i := len(data) - padLen; i < len(data); i++ {
		data[i] = byte(padLen)
	}

	if err := f.sign(p, tok, body, data); err != nil {
		return nil, err
	}

	if conf {
		sealed, err := p.Crypto.EncryptRaw(f.sealKey(p.Key), nil, data)
		if err != nil {
			return nil, fatalErr(gssapi.ErrFailure, err)
		}
		copy(data, sealed)
	}

	return tok, nil
}

func (f *legacyFormat) unwrap(p *Protection, tok []byte) ([]byte, bool, error) {
	body, err := Decapsulate(tok, TokenWrap)
	if err != nil {
		return nil, false, err
	}

	if len(body) < f.fixedLen() {
		return nil, false, fatal(gssapi.ErrDefectiveToken, "%s wrap token is too short", f.name)
	}
	if body[0] != f.sgnAlg[0] || body[1] != f.sgnAlg[1] {
		return nil, false, fatal(gssapi.ErrBadSig, "%s wrap token has signing algorithm %x", f.name, body[0:2])
	}

	var conf bool
	switch {
	case body[2] == f.sealAlg[0] && body[3] == f.sealAlg[1]:
		conf = true
	case body[2] == legacyNoSeal[0] && body[3] == legacyNoSeal[1]:
	default:
		return nil, false, fatal(gssapi.ErrFailure, "%s wrap token has unknown sealing algorithm %x", f.name, body[2:4])
	}

	if body[4] != 0xff || body[5] != 0xff {
		return nil, false, fatal(gssapi.ErrDefectiveToken, "%s wrap token has a bad filler", f.name)
	}

	data := body[f.fixedLen():]
	if len(data) < legacyConfLen+legacyBlockSize || len(data)%legacyBlockSize != 0 {
		return nil, false, fatal(gssapi.ErrDefectiveToken, "%s wrap token data has bad length %d", f.name, len(data))
	}

	// work on a copy; the input token is left alone
	var plain []byte
	if conf {
		plain, err = p.Crypto.DecryptRaw(f.sealKey(p.Key), nil, data)
		if err != nil {
			return nil, false, fatalErr(gssapi.ErrFailure, err)
		}
	} else {
		plain = append([]byte{}, data...)
	}

	padLen := int(plain[len(plain)-1])
	if padLen < 1 || padLen > legacyBlockSize {
		return nil, false, fatal(gssapi.ErrBadMic, "%s wrap token has bad padding", f.name)
	}
	for _, b := range plain[len(plain)-padLen:] {
		if int(b) != padLen {
			return nil, false, fatal(gssapi.ErrBadMic, "%s wrap token has bad padding", f.name)
		}
	}

	if err := f.verify(p, TokenWrap, body, plain); err != nil {
		return nil, false, err
	}

	return plain[legacyConfLen : len(plain)-padLen], conf, nil
}

// wrapSizeLimit follows the Heimdal calculation.  It allows for the confounder and a
// full block of padding whether or not the message is to be sealed.
func (f *legacyFormat) wrapSizeLimit(maxOut uint) uint {
	req := int(maxOut)
	l := legacyConfLen + req + legacyBlockSize + f.fixedLen()
	total := encapsulatedLength(l) - req

	if total < req {
		return uint(req-total) &^ (legacyBlockSize - 1)
	}
	return 0
}
