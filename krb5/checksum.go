// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"crypto/subtle"
	"encoding/binary"
	"net"

	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssapi-krb5"
)

// Authenticator checksum layout, RFC 1964 § 1.1.1 and RFC 4121 § 4.1.1
const (
	cksumBindLen  = 16
	cksumFixedLen = 24
	cksumDlgOpt   = 1
	cksumDlgHdr   = 4
)

// The checksum carries these context flags on the wire.
const wireFlags = gssapi.ContextFlagDeleg | gssapi.ContextFlagMutual | gssapi.ContextFlagReplay |
	gssapi.ContextFlagSequence | gssapi.ContextFlagConf | gssapi.ContextFlagInteg

// bindingsHash computes the MD5 digest of the channel bindings structure.
func bindingsHash(cp CryptoProvider, cb *gssapi.ChannelBinding) ([]byte, error) {
	var buf []byte

	for _, addr := range []net.Addr{cb.InitiatorAddr, cb.AcceptorAddr} {
		a, err := gssapi.AddressOf(addr)
		if err != nil {
			return nil, err
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(a.Family))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.Address)))
		buf = append(buf, a.Address...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(cb.Data)))
	buf = append(buf, cb.Data...)

	return cp.MD5(buf), nil
}

// BuildChecksum creates the GSSAPI checksum for the authenticator.  This isn't really
// a checksum: it carries the channel binding hash, the context flags and any forwarded
// credentials inside the Kerberos AP-REQ.
func BuildChecksum(cp CryptoProvider, cb *gssapi.ChannelBinding, flags gssapi.ContextFlag, deleg []byte) (types.Checksum, error) {
	withDeleg := flags&gssapi.ContextFlagDeleg != 0 && len(deleg) > 0
	if withDeleg && len(deleg) > 0xffff {
		return types.Checksum{}, fatal(gssapi.ErrFailure, "forwarded credentials too large (%d bytes)", len(deleg))
	}

	l := cksumFixedLen
	if withDeleg {
		l += cksumDlgHdr + len(deleg)
	}
	a := make([]byte, l)

	// 4-byte length of the channel binding hash, always 16 bytes
	binary.LittleEndian.PutUint32(a[:4], cksumBindLen)

	// Octets 4..19: channel binding hash, zero when there are no bindings
	if cb != nil {
		h, err := bindingsHash(cp, cb)
		if err != nil {
			return types.Checksum{}, fatalErr(gssapi.ErrBadBindings, err)
		}
		copy(a[4:20], h)
	}

	binary.LittleEndian.PutUint32(a[20:24], uint32(flags&wireFlags))

	if withDeleg {
		binary.LittleEndian.PutUint16(a[24:26], cksumDlgOpt)
		binary.LittleEndian.PutUint16(a[26:28], uint16(len(deleg)))
		copy(a[28:], deleg)
	}

	return types.Checksum{
		CksumType: chksumtype.GSSAPI,
		Checksum:  a,
	}, nil
}

// VerifyChecksum checks an authenticator checksum against the acceptor's channel
// bindings and returns the context flags and any forwarded credentials it carries.
// A nil cb, or an all-zero hash from the initiator, skips the binding comparison.
// Flag bits other than those the initiator can request are dropped.
func VerifyChecksum(cp CryptoProvider, cksum types.Checksum, cb *gssapi.ChannelBinding) (gssapi.ContextFlag, []byte, error) {
	if cksum.CksumType != chksumtype.GSSAPI {
		return 0, nil, fatal(gssapi.ErrBadBindings, "authenticator checksum type %d is not the GSSAPI type", cksum.CksumType)
	}

	b := cksum.Checksum
	if len(b) < cksumFixedLen {
		return 0, nil, fatal(gssapi.ErrBadBindings, "authenticator checksum is too short (%d bytes)", len(b))
	}

	if binary.LittleEndian.Uint32(b[:4]) != cksumBindLen {
		return 0, nil, fatal(gssapi.ErrBadBindings, "bad channel binding length in authenticator checksum")
	}

	if cb != nil && !allZero(b[4:20]) {
		h, err := bindingsHash(cp, cb)
		if err != nil {
			return 0, nil, fatalErr(gssapi.ErrBadBindings, err)
		}
		if subtle.ConstantTimeCompare(h, b[4:20]) != 1 {
			return 0, nil, fatal(gssapi.ErrBadBindings, "channel bindings do not match")
		}
	}

	flags := gssapi.ContextFlag(binary.LittleEndian.Uint32(b[20:24])) & wireFlags

	var deleg []byte
	if len(b) > cksumFixedLen && flags&gssapi.ContextFlagDeleg != 0 {
		if len(b) < cksumFixedLen+cksumDlgHdr {
			return 0, nil, fatal(gssapi.ErrBadBindings, "truncated delegation data in authenticator checksum")
		}
		if binary.LittleEndian.Uint16(b[24:26]) != cksumDlgOpt {
			return 0, nil, fatal(gssapi.ErrBadBindings, "unknown delegation option in authenticator checksum")
		}

		dl := int(binary.LittleEndian.Uint16(b[26:28]))
		if dl > len(b)-(cksumFixedLen+cksumDlgHdr) {
			return 0, nil, fatal(gssapi.ErrBadBindings, "delegation data overruns the authenticator checksum")
		}
		deleg = b[28 : 28+dl]
	}

	return flags, deleg, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
