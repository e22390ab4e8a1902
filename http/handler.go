// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"

	"github.com/golang-auth/go-gssapi-krb5/krb5"
)

// InitiatorName is the name of the initiator of the GSSAPI context.
type InitiatorName struct {
	// PrincipalName is the fully qualified name of the initiator
	PrincipalName string

	// LocalName is the local name of the initiator if available.  It is set
	// for single component principals.
	LocalName string
}

// GetInitiatorName returns the initiator name from the request context if available
// This can be used by the 'next' http handler called by [Handler.ServeHTTP]
func GetInitiatorName(r *http.Request) (*InitiatorName, bool) {
	initiatorName := getInitiatorNameContext(r.Context())
	return initiatorName, initiatorName != nil
}

// HasChannelBindings reports whether the initiator bound the context to the TLS
// connection of the request.
func HasChannelBindings(r *http.Request) bool {
	return getHasCBContext(r.Context())
}

// GetDelegatedCredential returns the credential the initiator delegated, if any.
func GetDelegatedCredential(r *http.Request) *krb5.Credential {
	return getDelegatedCredentialContext(r.Context())
}

// ServerWithStashConn sets up the server to make the connection available to the
// handler.  Channel bindings need it when the server picks its certificate with
// [tls.Config.GetCertificate].
func ServerWithStashConn(server *http.Server) *http.Server {
	parent := server.ConnContext
	server.ConnContext = func(ctx context.Context, c net.Conn) context.Context {
		if parent != nil {
			ctx = parent(ctx, c)
		}
		return stashConnContext(ctx, c)
	}
	return server
}

// Handler is a http.Handler that performs Kerberos authentication and passes the initiator name to the next handler
type Handler struct {
	mech                      *krb5.Mech
	credential                *krb5.Credential
	next                      http.Handler
	channelBindingDisposition ChannelBindingDisposition
	delegation                bool
	logFunc                   func(format string, args ...interface{})
}

// HandlerOption is a function that can be used to configure the Handler
type HandlerOption func(s *Handler)

// WithAcceptorCredential sets the acceptor credential for the Handler
func WithAcceptorCredential(credential *krb5.Credential) HandlerOption {
	return func(s *Handler) {
		s.credential = credential
	}
}

// WithAcceptorChannelBindingDisposition sets whether the handler checks that the
// context is bound to the TLS connection.
func WithAcceptorChannelBindingDisposition(disposition ChannelBindingDisposition) HandlerOption {
	return func(s *Handler) {
		s.channelBindingDisposition = disposition
	}
}

// WithAcceptorDelegation makes credentials delegated by the client available to the
// next handler through [GetDelegatedCredential].
func WithAcceptorDelegation() HandlerOption {
	return func(s *Handler) {
		s.delegation = true
	}
}

// WithAcceptorLogFunc sets a function used to log authentication failures
func WithAcceptorLogFunc(logFunc func(format string, args ...interface{})) HandlerOption {
	return func(s *Handler) {
		s.logFunc = logFunc
	}
}

// NewHandler creates a new Handler with the given mechanism and next handler.  A nil
// mech uses one with the default configuration.
func NewHandler(mech *krb5.Mech, next http.Handler, options ...HandlerOption) (*Handler, error) {
	if next == nil {
		return nil, errors.New("no next handler")
	}
	if mech == nil {
		mech = krb5.NewMech()
	}

	h := &Handler{
		mech:    mech,
		next:    next,
		logFunc: func(string, ...interface{}) {},
	}
	for _, option := range options {
		option(h)
	}
	return h, nil
}

// ServeHTTP performs the Kerberos authentication and passes the initiator name to the next handler
// It doesn't seem possible to support any more than one GSSAPI round trip per request with
// the Go [http.Server] implementation without hijacking the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authzType, authzToken := parseAuthzHeader(&r.Header)
	if authzType != "negotiate" || len(authzToken) == 0 {
		w.Header().Set("WWW-Authenticate", "Negotiate")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	outToken, secCtx, err := h.negotiateOnce(r, authzToken)
	if err != nil {
		h.logFunc("negotiate authentication failed: %s", err)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	defer secCtx.Delete() //nolint:errcheck

	ctx := r.Context()
	info, err := secCtx.Inquire()
	if err != nil {
		h.logFunc("negotiate authentication failed: %s", err)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	ctx = stashInitiatorName(ctx, initiatorName(info.InitiatorName))
	ctx = stashHasChannelBindings(ctx, secCtx.ChannelBound())
	if cred := secCtx.DelegatedCredential(); h.delegation && cred != nil {
		ctx = stashDelegatedCredential(ctx, cred)
	}

	if outToken != "" {
		w.Header().Set("WWW-Authenticate", "Negotiate "+outToken)
	}

	h.next.ServeHTTP(w, r.WithContext(ctx))
}

func initiatorName(name *krb5.Name) *InitiatorName {
	in := &InitiatorName{}
	if name == nil {
		return in
	}
	in.PrincipalName = name.String()
	if len(name.NameString) == 1 {
		in.LocalName = name.NameString[0]
	}
	return in
}

// negotiateOnce accepts the initiator's token and returns the encoded reply token.
func (h *Handler) negotiateOnce(r *http.Request, negotiateToken string) (string, *krb5.SecContext, error) {
	rawToken, err := base64.StdEncoding.DecodeString(negotiateToken)
	if err != nil {
		return "", nil, err
	}

	opts := []krb5.AcceptSecContextOption{}
	if h.credential != nil {
		opts = append(opts, krb5.WithAcceptorCredential(h.credential))
	}

	if h.channelBindingDisposition != ChannelBindingDispositionIgnore {
		cb, err := serverChannelBinding(r)
		switch {
		case err == nil:
			opts = append(opts, krb5.WithAcceptorChannelBinding(cb))
		case h.channelBindingDisposition == ChannelBindingDispositionRequire:
			return "", nil, err
		default:
			h.logFunc("not checking channel bindings: %s", err)
		}
	}

	secCtx, respToken, err := h.mech.AcceptSecContext(rawToken, opts...)
	if err != nil {
		return "", nil, err
	}

	if h.channelBindingDisposition == ChannelBindingDispositionRequire && !secCtx.ChannelBound() {
		_, _ = secCtx.Delete()
		return "", nil, errors.New("initiator did not provide channel bindings")
	}

	outToken := ""
	if len(respToken) > 0 {
		outToken = base64.StdEncoding.EncodeToString(respToken)
	}
	return outToken, secCtx, nil
}
