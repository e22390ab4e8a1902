// SPDX-License-Identifier: Apache-2.0

package gssapi

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"

	cb "github.com/golang-auth/go-channelbinding"
)

// GssAddressFamily is the address type of a channel binding address.  Values are the
// same as the C bindings, RFC 2744 § 3.11.
type GssAddressFamily int

const (
	GssAddrFamilyUNSPEC    GssAddressFamily = 0
	GssAddrFamilyLOCAL     GssAddressFamily = 1
	GssAddrFamilyINET      GssAddressFamily = 2
	GssAddrFamilyIMPLINK   GssAddressFamily = 3
	GssAddrFamilyPUP       GssAddressFamily = 4
	GssAddrFamilyCHAOS     GssAddressFamily = 5
	GssAddrFamilyNS        GssAddressFamily = 6
	GssAddrFamilyNBS       GssAddressFamily = 7
	GssAddrFamilyECMA      GssAddressFamily = 8
	GssAddrFamilyDATAKIT   GssAddressFamily = 9
	GssAddrFamilyCCITT     GssAddressFamily = 10
	GssAddrFamilySNA       GssAddressFamily = 11
	GssAddrFamilyDECnet    GssAddressFamily = 12
	GssAddrFamilyDLI       GssAddressFamily = 13
	GssAddrFamilyLAT       GssAddressFamily = 14
	GssAddrFamilyHYLINK    GssAddressFamily = 15
	GssAddrFamilyAPPLETALK GssAddressFamily = 16
	GssAddrFamilyBSC       GssAddressFamily = 17
	GssAddrFamilyDSS       GssAddressFamily = 18
	GssAddrFamilyOSI       GssAddressFamily = 19
	GssAddrFamilyNETBIOS   GssAddressFamily = 20
	GssAddrFamilyX25       GssAddressFamily = 21
	GssAddrFamilyINET6     GssAddressFamily = 24
	GssAddrFamilyNULLADDR  GssAddressFamily = 255
)

// ChannelBinding carries the caller-supplied data bound into context establishment,
// RFC 2743 § 1.1.6.  Either address may be nil.
type ChannelBinding struct {
	InitiatorAddr net.Addr
	AcceptorAddr  net.Addr
	Data          []byte
}

// GssAddress is a channel binding address in its on-the-wire form.  It implements
// net.Addr so that addresses of any family can be placed in a ChannelBinding.
type GssAddress struct {
	Family  GssAddressFamily
	Address []byte
}

func (a GssAddress) Network() string {
	return "gss"
}

func (a GssAddress) String() string {
	return fmt.Sprintf("%d:%s", a.Family, hex.EncodeToString(a.Address))
}

// AddressOf converts addr to its address family and raw bytes.  IP based addresses map
// to GssAddrFamilyINET or GssAddrFamilyINET6; a nil address maps to GssAddrFamilyUNSPEC
// with no bytes.
func AddressOf(addr net.Addr) (GssAddress, error) {
	var ip net.IP

	switch a := addr.(type) {
	case nil:
		return GssAddress{Family: GssAddrFamilyUNSPEC}, nil
	case GssAddress:
		return a, nil
	case *GssAddress:
		return *a, nil
	case *net.IPAddr:
		ip = a.IP
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	default:
		return GssAddress{}, fmt.Errorf("gssapi: unsupported channel binding address type %T", addr)
	}

	if ip4 := ip.To4(); ip4 != nil {
		return GssAddress{Family: GssAddrFamilyINET, Address: []byte(ip4)}, nil
	}
	if ip16 := ip.To16(); ip16 != nil {
		return GssAddress{Family: GssAddrFamilyINET6, Address: []byte(ip16)}, nil
	}

	return GssAddress{}, fmt.Errorf("gssapi: invalid IP address in channel binding: %v", addr)
}

// TLSChannelBinding returns a channel binding for a TLS connection.  TLS 1.3
// connections use the RFC 9266 tls-exporter data, which is unique to the
// connection.  Earlier versions use the RFC 5929 tls-server-end-point data: servers
// supply their own certificate, clients pass nil and the peer's leaf certificate
// is used.
func TLSChannelBinding(tlsState *tls.ConnectionState, serverCert *x509.Certificate) (*ChannelBinding, error) {
	if tlsState == nil {
		return nil, fmt.Errorf("no TLS connection state, needed for channel binding")
	}

	var bindingType cb.TLSChannelBindingType = cb.TLSChannelBindingEndpoint
	switch {
	case tlsState.Version >= tls.VersionTLS13:
		// tls-server-end-point is not defined for TLS 1.3
		bindingType = cb.TLSChannelBindingExporter
		serverCert = nil
	case serverCert == nil:
		// must be the client then -- the server cert is in the peer certificates list
		if len(tlsState.PeerCertificates) == 0 {
			return nil, fmt.Errorf("no server certificate found in TLS connection state, needed for channel binding")
		}
		serverCert = tlsState.PeerCertificates[0]
	}

	data, err := cb.MakeTLSChannelBinding(*tlsState, serverCert, bindingType)
	if err != nil {
		return nil, fmt.Errorf("channel binding: %w", err)
	}

	return &ChannelBinding{Data: data}, nil
}
