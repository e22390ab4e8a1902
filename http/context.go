// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"net"
	"net/http"

	"github.com/golang-auth/go-gssapi-krb5/krb5"
)

type contextKey string

func (k contextKey) String() string { return "gssapi/http context value " + string(k) }

const (
	connContextKey          contextKey = "conn"
	initiatorContextKey     contextKey = "initiator"
	hasCBContextKey         contextKey = "has-cb"
	delegatedCredContextKey contextKey = "delegated-cred"
)

// contextValue returns the value stored under key, or the zero value if there is none
// of type T.
func contextValue[T any](ctx context.Context, key any) T {
	v, _ := ctx.Value(key).(T)
	return v
}

// stashConnContext records the connection in its context, which the server passes on
// to handlers in the request context.
func stashConnContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connContextKey, c)
}

func getConnContext(ctx context.Context) net.Conn {
	return contextValue[net.Conn](ctx, connContextKey)
}

// getServerContext returns the server that received the request.
func getServerContext(ctx context.Context) *http.Server {
	return contextValue[*http.Server](ctx, http.ServerContextKey)
}

func stashInitiatorName(ctx context.Context, name *InitiatorName) context.Context {
	return context.WithValue(ctx, initiatorContextKey, name)
}

func getInitiatorNameContext(ctx context.Context) *InitiatorName {
	return contextValue[*InitiatorName](ctx, initiatorContextKey)
}

func stashHasChannelBindings(ctx context.Context, has bool) context.Context {
	return context.WithValue(ctx, hasCBContextKey, has)
}

func getHasCBContext(ctx context.Context) bool {
	return contextValue[bool](ctx, hasCBContextKey)
}

func stashDelegatedCredential(ctx context.Context, cred *krb5.Credential) context.Context {
	return context.WithValue(ctx, delegatedCredContextKey, cred)
}

func getDelegatedCredentialContext(ctx context.Context) *krb5.Credential {
	return contextValue[*krb5.Credential](ctx, delegatedCredContextKey)
}
