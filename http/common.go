// SPDX-License-Identifier: Apache-2.0

package http

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"

	"github.com/golang-auth/go-gssapi-krb5"
)

// ChannelBindingDisposition controls the use of TLS channel bindings.
type ChannelBindingDisposition int

const (
	// ChannelBindingDispositionIgnore never uses channel bindings.
	ChannelBindingDispositionIgnore ChannelBindingDisposition = iota
	// ChannelBindingDispositionIfAvailable uses channel bindings on TLS connections
	// but accepts peers that do not.
	ChannelBindingDispositionIfAvailable
	// ChannelBindingDispositionRequire fails authentication unless the context is
	// bound to the TLS connection.
	ChannelBindingDispositionRequire
)

// clientChannelBinding returns the bindings for the connection a response
// arrived on.
func clientChannelBinding(resp *http.Response) (*gssapi.ChannelBinding, error) {
	if resp == nil || resp.TLS == nil {
		return nil, fmt.Errorf("channel bindings need a TLS connection")
	}
	return gssapi.TLSChannelBinding(resp.TLS, nil)
}

// serverCertificate finds the certificate the server presented on a connection.
func serverCertificate(r *http.Request) (*x509.Certificate, error) {
	server := getServerContext(r.Context())
	if server == nil || server.TLSConfig == nil {
		return nil, fmt.Errorf("no server TLS configuration found")
	}
	config := server.TLSConfig

	var cert *tls.Certificate
	switch {
	case len(config.Certificates) > 0:
		cert = &config.Certificates[0]
	case config.GetCertificate != nil:
		conn, ok := getConnContext(r.Context()).(*tls.Conn)
		if !ok {
			return nil, fmt.Errorf("no TLS connection found: use ServerWithStashConn")
		}
		state := conn.ConnectionState()
		var err error
		cert, err = config.GetCertificate(&tls.ClientHelloInfo{
			ServerName: state.ServerName,
			Conn:       conn,
		})
		if err != nil {
			return nil, fmt.Errorf("getting server certificate: %w", err)
		}
	}
	if cert == nil || len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("no server certificate configured")
	}

	if cert.Leaf != nil {
		return cert.Leaf, nil
	}
	return x509.ParseCertificate(cert.Certificate[0])
}

// serverChannelBinding returns the bindings for the connection a request arrived
// on.  Only TLS 1.2 and earlier bind to the server certificate.
func serverChannelBinding(r *http.Request) (*gssapi.ChannelBinding, error) {
	if r.TLS == nil {
		return nil, fmt.Errorf("channel bindings need a TLS connection")
	}
	if r.TLS.Version >= tls.VersionTLS13 {
		return gssapi.TLSChannelBinding(r.TLS, nil)
	}
	cert, err := serverCertificate(r)
	if err != nil {
		return nil, err
	}
	return gssapi.TLSChannelBinding(r.TLS, cert)
}
