// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/crypto/etype"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssapi-krb5"
)

// RFC 4121 § 4.2.6: both token types start with a 16 byte header.  Wrap tokens put
// EC and RRC where MIC tokens have filler.
const msgTokenHdrLen = 16

// cfxTokenFlag is the flags octet of RFC 4121 § 4.2.2.
type cfxTokenFlag uint8

const (
	cfxFlagSentByAcceptor cfxTokenFlag = 1 << iota
	cfxFlagSealed
	cfxFlagAcceptorSubkey
)

var (
	cfxWrapTokenID = [2]byte{0x05, 0x04}
	cfxMICTokenID  = [2]byte{0x04, 0x04}
)

var errV1Framing = errors.New("gssapi: token has GSS-API v1 framing, not used with this encryption type")

func cfxEtype(key types.EncryptionKey) (etype.EType, error) {
	et, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return nil, fmt.Errorf("gssapi: %w", err)
	}
	return et, nil
}

// cfxUsage returns the seal or sign key usage for a token with flags f.
func cfxUsage(f cfxTokenFlag, seal bool) uint32 {
	fromAcceptor := f&cfxFlagSentByAcceptor != 0
	switch {
	case seal && fromAcceptor:
		return keyusage.GSSAPI_ACCEPTOR_SEAL
	case seal:
		return keyusage.GSSAPI_INITIATOR_SEAL
	case fromAcceptor:
		return keyusage.GSSAPI_ACCEPTOR_SIGN
	default:
		return keyusage.GSSAPI_INITIATOR_SIGN
	}
}

func checkDirection(f cfxTokenFlag, wantFromAcceptor bool) error {
	if fromAcceptor := f&cfxFlagSentByAcceptor != 0; fromAcceptor != wantFromAcceptor {
		return fmt.Errorf("gssapi: token sent by acceptor is %t, want %t", fromAcceptor, wantFromAcceptor)
	}
	return nil
}

// cfxChecksum is the keyed checksum over { data | header }.
func cfxChecksum(key types.EncryptionKey, usage uint32, data, hdr []byte) ([]byte, error) {
	et, err := cfxEtype(key)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(data)+len(hdr))
	buf = append(append(buf, data...), hdr...)
	sum, err := et.GetChecksumHash(key.KeyValue, buf, usage)
	if err != nil {
		return nil, fmt.Errorf("gssapi: %w", err)
	}
	return sum, nil
}

// checkHeader validates the fixed parts of a token header against id.
func checkHeader(token []byte, id [2]byte, filler []byte) error {
	switch {
	case len(token) < msgTokenHdrLen:
		return errors.New("gssapi: token is too short")
	case token[0] == 0x60:
		return errV1Framing
	case token[0] != id[0] || token[1] != id[1]:
		return fmt.Errorf("gssapi: token ID %x, want %x", token[0:2], id)
	case !bytes.Equal(token[3:3+len(filler)], filler):
		return errors.New("gssapi: bad filler in token header")
	}
	return nil
}

// micToken is the RFC 4121 § 4.2.6.1 MIC token.
type micToken struct {
	Flags          cfxTokenFlag
	SequenceNumber uint64
	Checksum       []byte
}

var micFiller = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func (mt *micToken) header() []byte {
	hdr := make([]byte, msgTokenHdrLen)
	copy(hdr, cfxMICTokenID[:])
	hdr[2] = byte(mt.Flags)
	copy(hdr[3:8], micFiller)
	binary.BigEndian.PutUint64(hdr[8:], mt.SequenceNumber)
	return hdr
}

func (mt *micToken) sign(msg []byte, key types.EncryptionKey) (err error) {
	mt.Checksum, err = cfxChecksum(key, cfxUsage(mt.Flags, false), msg, mt.header())
	return err
}

func (mt *micToken) marshal() []byte {
	return append(mt.header(), mt.Checksum...)
}

func (mt *micToken) unmarshal(token []byte) error {
	*mt = micToken{}
	if err := checkHeader(token, cfxMICTokenID, micFiller); err != nil {
		return err
	}

	mt.Flags = cfxTokenFlag(token[2])
	mt.SequenceNumber = binary.BigEndian.Uint64(token[8:16])
	mt.Checksum = token[16:]
	return nil
}

func (mt *micToken) verify(msg []byte, key types.EncryptionKey, wantFromAcceptor bool) error {
	if err := checkDirection(mt.Flags, wantFromAcceptor); err != nil {
		return err
	}

	sum, err := cfxChecksum(key, cfxUsage(mt.Flags, false), msg, mt.header())
	if err != nil {
		return err
	}
	if !hmac.Equal(sum, mt.Checksum) {
		return errors.New("gssapi: MIC token checksum does not match")
	}
	return nil
}

// wrapToken is the RFC 4121 § 4.2.6.2 wrap token.  Payload holds the message
// before sign or seal, and the protected data after.
type wrapToken struct {
	Flags          cfxTokenFlag
	EC             uint16 // checksum length when signed, padding when sealed
	RRC            uint16 // right rotation count applied by the sender
	SequenceNumber uint64
	Payload        []byte
}

// header returns the header with EC and RRC zeroed.  This form is what the
// checksum covers and what a sealed token encrypts, RFC 4121 § 4.2.4.
func (wt *wrapToken) header() []byte {
	hdr := make([]byte, msgTokenHdrLen)
	copy(hdr, cfxWrapTokenID[:])
	hdr[2] = byte(wt.Flags)
	hdr[3] = 0xFF
	binary.BigEndian.PutUint64(hdr[8:], wt.SequenceNumber)
	return hdr
}

// sign appends the checksum to the payload.  The caller's slice is never written to.
func (wt *wrapToken) sign(key types.EncryptionKey) error {
	sum, err := cfxChecksum(key, cfxUsage(wt.Flags, true), wt.Payload, wt.header())
	if err != nil {
		return err
	}

	signed := make([]byte, 0, len(wt.Payload)+len(sum))
	wt.Payload = append(append(signed, wt.Payload...), sum...)
	wt.EC = uint16(len(sum))
	wt.RRC = 0
	return nil
}

// seal replaces the payload with the encryption of { payload | header }.  No padding
// is needed with the AES types, so EC is zero.
func (wt *wrapToken) seal(key types.EncryptionKey) error {
	wt.EC, wt.RRC = 0, 0

	et, err := cfxEtype(key)
	if err != nil {
		return err
	}

	plain := make([]byte, 0, len(wt.Payload)+msgTokenHdrLen)
	plain = append(append(plain, wt.Payload...), wt.header()...)
	_, sealed, err := et.EncryptMessage(key.KeyValue, plain, cfxUsage(wt.Flags, true))
	if err != nil {
		return fmt.Errorf("gssapi: %w", err)
	}

	wt.Payload = sealed
	return nil
}

func (wt *wrapToken) marshal() []byte {
	token := wt.header()
	binary.BigEndian.PutUint16(token[4:6], wt.EC)
	binary.BigEndian.PutUint16(token[6:8], wt.RRC)
	return append(token, wt.Payload...)
}

// unmarshal decodes token into wt.  The payload is a copy, rotated back when the
// sender used a right rotation count.
func (wt *wrapToken) unmarshal(token []byte) error {
	*wt = wrapToken{}
	if err := checkHeader(token, cfxWrapTokenID, []byte{0xFF}); err != nil {
		return err
	}

	wt.Flags = cfxTokenFlag(token[2])
	wt.EC = binary.BigEndian.Uint16(token[4:6])
	wt.RRC = binary.BigEndian.Uint16(token[6:8])
	wt.SequenceNumber = binary.BigEndian.Uint64(token[8:16])
	wt.Payload = rotateLeft(append([]byte{}, token[16:]...), uint(wt.RRC))
	return nil
}

// open checks a decoded token and leaves the message in Payload.  It reports
// whether the token was sealed.
func (wt *wrapToken) open(key types.EncryptionKey, wantFromAcceptor bool) (bool, error) {
	if err := checkDirection(wt.Flags, wantFromAcceptor); err != nil {
		return false, err
	}
	if wt.Flags&cfxFlagSealed != 0 {
		return true, wt.unseal(key)
	}
	return false, wt.checkSig(key)
}

func (wt *wrapToken) unseal(key types.EncryptionKey) error {
	et, err := cfxEtype(key)
	if err != nil {
		return err
	}

	plain, err := et.DecryptMessage(key.KeyValue, wt.Payload, cfxUsage(wt.Flags, true))
	if err != nil {
		return fmt.Errorf("gssapi: %w", err)
	}
	if len(plain) < int(wt.EC)+msgTokenHdrLen {
		return errors.New("gssapi: sealed wrap token is too short")
	}

	// the encrypted header copy must match the clear one, EC included and RRC aside
	inner := plain[len(plain)-msgTokenHdrLen:]
	outer := wt.header()
	binary.BigEndian.PutUint16(outer[4:6], wt.EC)
	copy(outer[6:8], inner[6:8])
	if !bytes.Equal(inner, outer) {
		return errors.New("gssapi: wrap token header was modified")
	}

	wt.Payload = plain[:len(plain)-msgTokenHdrLen-int(wt.EC)]
	return nil
}

func (wt *wrapToken) checkSig(key types.EncryptionKey) error {
	et, err := cfxEtype(key)
	if err != nil {
		return err
	}
	if int(wt.EC) != et.GetHMACBitLength()/8 {
		return fmt.Errorf("gssapi: wrap token checksum length %d is wrong", wt.EC)
	}
	if len(wt.Payload) < int(wt.EC) {
		return errors.New("gssapi: signed wrap token is too short")
	}

	split := len(wt.Payload) - int(wt.EC)
	msg, got := wt.Payload[:split], wt.Payload[split:]

	want, err := cfxChecksum(key, cfxUsage(wt.Flags, true), msg, wt.header())
	if err != nil {
		return err
	}
	if !hmac.Equal(got, want) {
		return errors.New("gssapi: wrap token checksum does not match")
	}

	wt.Payload = msg
	return nil
}

// rotateLeft rotates buf left by rc bytes in place and returns it.  Rotating left
// undoes the sender's right rotation.
func rotateLeft(buf []byte, rc uint) []byte {
	if len(buf) == 0 {
		return buf
	}
	rc %= uint(len(buf))
	if rc == 0 {
		return buf
	}

	head := append([]byte{}, buf[:rc]...)
	copy(buf, buf[rc:])
	copy(buf[uint(len(buf))-rc:], head)
	return buf
}

// cfxSuite protects messages with the RFC 4121 token formats.
type cfxSuite struct{}

func (cfxSuite) flags(p *Protection) cfxTokenFlag {
	var f cfxTokenFlag
	if !p.Initiator {
		f |= cfxFlagSentByAcceptor
	}
	if p.AcceptorSubkey {
		f |= cfxFlagAcceptorSubkey
	}
	return f
}

// checkSubkeyFlag makes sure the peer protected the token with the key we expect.
func (cfxSuite) checkSubkeyFlag(p *Protection, f cfxTokenFlag) error {
	if (f&cfxFlagAcceptorSubkey != 0) != p.AcceptorSubkey {
		return fatal(gssapi.ErrBadMic, "token does not use the negotiated key")
	}
	return nil
}

func (s cfxSuite) GetMIC(p *Protection, msg []byte) ([]byte, error) {
	mt := micToken{Flags: s.flags(p), SequenceNumber: p.SendSeq}
	if err := mt.sign(msg, p.Key); err != nil {
		return nil, fatalErr(gssapi.ErrFailure, err)
	}
	return mt.marshal(), nil
}

func (s cfxSuite) VerifyMIC(p *Protection, msg, tok []byte) error {
	var mt micToken
	if err := mt.unmarshal(tok); err != nil {
		return fatalErr(gssapi.ErrDefectiveToken, err)
	}
	if err := s.checkSubkeyFlag(p, mt.Flags); err != nil {
		return err
	}
	if err := mt.verify(msg, p.Key, p.Initiator); err != nil {
		return fatalErr(gssapi.ErrBadMic, err)
	}
	return checkSeq(mt.SequenceNumber, p.RecvSeq)
}

func (s cfxSuite) Wrap(p *Protection, msg []byte, conf bool) ([]byte, error) {
	wt := wrapToken{Flags: s.flags(p), SequenceNumber: p.SendSeq, Payload: msg}

	protect := wt.sign
	if conf {
		wt.Flags |= cfxFlagSealed
		protect = wt.seal
	}
	if err := protect(p.Key); err != nil {
		return nil, fatalErr(gssapi.ErrFailure, err)
	}
	return wt.marshal(), nil
}

func (s cfxSuite) Unwrap(p *Protection, tok []byte) ([]byte, bool, error) {
	var wt wrapToken
	if err := wt.unmarshal(tok); err != nil {
		return nil, false, fatalErr(gssapi.ErrDefectiveToken, err)
	}
	if err := s.checkSubkeyFlag(p, wt.Flags); err != nil {
		return nil, false, err
	}

	sealed, err := wt.open(p.Key, p.Initiator)
	if err != nil {
		return nil, false, fatalErr(gssapi.ErrBadMic, err)
	}
	if err := checkSeq(wt.SequenceNumber, p.RecvSeq); err != nil {
		return nil, false, err
	}
	return wt.Payload, sealed, nil
}

// WrapSizeLimit is the largest message whose wrap token fits in maxOut bytes.  A
// sealed token carries the confounder, an encrypted copy of the header and the
// HMAC; a signed one only the checksum.
func (cfxSuite) WrapSizeLimit(p *Protection, conf bool, maxOut uint) uint {
	et, err := crypto.GetEtype(p.Key.KeyType)
	if err != nil {
		return 0
	}

	overhead := uint(msgTokenHdrLen + et.GetHMACBitLength()/8)
	if conf {
		overhead += uint(msgTokenHdrLen + et.GetConfounderByteSize())
	}
	if maxOut <= overhead {
		return 0
	}
	return maxOut - overhead
}
