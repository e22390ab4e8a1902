// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/addrtype"
	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssapi-krb5"
)

// AuthContextFlag records how the ticket service treats times and sequence numbers.
type AuthContextFlag uint32

const (
	AuthContextDoTime AuthContextFlag = 1 << iota
	AuthContextRetTime
	AuthContextDoSequence
	AuthContextRetSequence
)

// AuthContext is the Kerberos state shared between a security context and the
// ticket service: keys, sequence numbers and the addresses bound to the exchange.
type AuthContext struct {
	SessionKey   *types.EncryptionKey
	LocalSubkey  *types.EncryptionKey
	RemoteSubkey *types.EncryptionKey

	LocalSeq  uint64
	RemoteSeq uint64

	LocalAddr  *types.HostAddress
	RemoteAddr *types.HostAddress
	LocalPort  uint16
	RemotePort uint16

	KeyType   int32
	CksumType int32
	Flags     AuthContextFlag

	// authenticator time, echoed by the acceptor in a mutual reply
	CTime time.Time
	Cusec int
}

func newAuthContext() *AuthContext {
	return &AuthContext{Flags: AuthContextDoTime | AuthContextDoSequence}
}

// protectionKey returns the key for per-message tokens and whether it is the
// acceptor's subkey.  Both parties prefer the acceptor subkey, then the initiator
// subkey, then the ticket session key.
func (ac *AuthContext) protectionKey(initiator bool) (*types.EncryptionKey, bool) {
	acceptorKey, initiatorKey := ac.LocalSubkey, ac.RemoteSubkey
	if initiator {
		acceptorKey, initiatorKey = ac.RemoteSubkey, ac.LocalSubkey
	}

	switch {
	case acceptorKey != nil:
		return acceptorKey, true
	case initiatorKey != nil:
		return initiatorKey, false
	}
	return ac.SessionKey, false
}

// KERB-CHECKSUM-HMAC-MD5, RFC 4757 § 4
const cksumTypeHMACMD5 int32 = -138

// checksumTypeFor returns the Kerberos checksum type that goes with a key type.
func checksumTypeFor(keyType int32) int32 {
	switch keyType {
	case etypeID.DES_CBC_CRC, etypeID.DES_CBC_MD4, etypeID.DES_CBC_MD5:
		return chksumtype.RSA_MD5_DES
	case etypeID.DES3_CBC_SHA1_KD:
		return chksumtype.HMAC_SHA1_DES3_KD
	case etypeID.AES128_CTS_HMAC_SHA1_96:
		return chksumtype.HMAC_SHA1_96_AES128
	case etypeID.AES256_CTS_HMAC_SHA1_96:
		return chksumtype.HMAC_SHA1_96_AES256
	case etypeID.RC4_HMAC:
		return cksumTypeHMACMD5
	}
	return 0
}

// hostAddress converts a channel binding address to the Kerberos representation.
// Unspecified and null addresses convert to nil.
func hostAddress(addr net.Addr) (*types.HostAddress, error) {
	a, err := gssapi.AddressOf(addr)
	if err != nil {
		return nil, err
	}

	switch {
	case a.Family == gssapi.GssAddrFamilyUNSPEC || a.Family == gssapi.GssAddrFamilyNULLADDR:
		return nil, nil
	case a.Family == gssapi.GssAddrFamilyINET && len(a.Address) == 4:
		return &types.HostAddress{AddrType: addrtype.IPv4, Address: a.Address}, nil
	case a.Family == gssapi.GssAddrFamilyINET6 && len(a.Address) == 16:
		return &types.HostAddress{AddrType: addrtype.IPv6, Address: a.Address}, nil
	}

	return nil, fatal(gssapi.ErrBadBindings, "cannot use channel binding address %s", a)
}

// setAddresses attaches the channel binding addresses, and any ports packed into the
// application data, to the auth context.  Four bytes of application data hold the
// initiator port followed by the acceptor port.
func (ac *AuthContext) setAddresses(cb *gssapi.ChannelBinding, initiator bool) error {
	if cb == nil {
		return nil
	}

	initAddr, err := hostAddress(cb.InitiatorAddr)
	if err != nil {
		return asStatus(gssapi.ErrBadBindings, err)
	}
	acceptAddr, err := hostAddress(cb.AcceptorAddr)
	if err != nil {
		return asStatus(gssapi.ErrBadBindings, err)
	}

	var initPort, acceptPort uint16
	if len(cb.Data) == 4 {
		initPort = binary.BigEndian.Uint16(cb.Data[0:2])
		acceptPort = binary.BigEndian.Uint16(cb.Data[2:4])
	}

	if initiator {
		ac.LocalAddr, ac.RemoteAddr = initAddr, acceptAddr
		ac.LocalPort, ac.RemotePort = initPort, acceptPort
	} else {
		ac.LocalAddr, ac.RemoteAddr = acceptAddr, initAddr
		ac.LocalPort, ac.RemotePort = acceptPort, initPort
	}

	return nil
}

// usesCFX reports whether the key type uses the RFC 4121 token formats.
func usesCFX(keyType int32) bool {
	switch keyType {
	case etypeID.AES128_CTS_HMAC_SHA1_96, etypeID.AES256_CTS_HMAC_SHA1_96,
		etypeID.AES128_CTS_HMAC_SHA256_128, etypeID.AES256_CTS_HMAC_SHA384_192:
		return true
	}
	return false
}
