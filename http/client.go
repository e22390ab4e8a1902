// SPDX-License-Identifier: Apache-2.0

package http

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/golang-auth/go-gssapi-krb5"
	"github.com/golang-auth/go-gssapi-krb5/krb5"
)

// SpnFunc is a function that returns the Service Principal Name (SPN) for a given URL.
type SpnFunc func(url url.URL) string

func defaultSpnFunc(url url.URL) string {
	return "HTTP@" + url.Hostname()
}

// DefaultSpnFunc is the default SPN function used for new clients.
var DefaultSpnFunc SpnFunc = defaultSpnFunc

// OpportunisticFunc is a function that returns true if opportunistic authentication should be used for a given URL.
type OpportunisticFunc func(url url.URL) bool

func opportunisticsFuncAlways(url url.URL) bool {
	return true
}

// DelegationPolicy is the policy for delegation of credentials to the server.
type DelegationPolicy int

const (
	// DelegationPolicyNever means that credentials will not be delegated to the server.
	DelegationPolicyNever DelegationPolicy = iota
	// DelegationPolicyAlways means that credentials will be delegated to the server,
	// and the request fails if they cannot be.
	DelegationPolicyAlways
	// DelegationPolicyIfAvailable requests delegation but carries on without it when
	// the credential has no forwardable ticket.
	DelegationPolicyIfAvailable
)

// DefaultDelegationPolicy is the default delegation policy used for new clients.
var DefaultDelegationPolicy DelegationPolicy = DelegationPolicyNever

// Transport is a http.RoundTripper implementation that includes Kerberos
// (HTTP Negotiate) authentication.
type Transport struct {
	transport http.RoundTripper

	mech                      *krb5.Mech
	credential                *krb5.Credential
	spnFunc                   SpnFunc
	opportunisticFunc         OpportunisticFunc
	delegationPolicy          DelegationPolicy
	mutual                    bool
	expect100Threshold        int64
	channelBindingDisposition ChannelBindingDisposition

	httpLogging bool
	logFunc     func(format string, args ...interface{})
}

// ClientOption is a function that configures a Transport
type ClientOption func(c *Transport)

// WithInitiatorOpportunistic configures the client to opportunisticly authenticate
//
// Opportunistic authentication means that the client does not wait for the server to
// respond with a 401 status code before sending an authentication token.  This
// is a performance optimization that can be used to reduce the number of round trips
// between the client and server, at the cost of initializing the security context and
// potentially exposing authentcation credentials to the server unnecessarily.
func WithInitiatorOpportunistic() ClientOption {
	return func(c *Transport) {
		c.opportunisticFunc = opportunisticsFuncAlways
	}
}

// WithInitiatorOpportunisticFunc configures the client to use a custom function to determine
// if opportunistic authentication should be used for a given URL.
func WithInitiatorOpportunisticFunc(opportunisticFunc OpportunisticFunc) ClientOption {
	return func(c *Transport) {
		c.opportunisticFunc = opportunisticFunc
	}
}

// WithInitiatorMutual configures the client to request mutual authentication
//
// The server then returns a Kerberos AP-REP in the WWW-Authenticate header of its
// final response, which the client uses to verify the server's identity.
func WithInitiatorMutual() ClientOption {
	return func(c *Transport) {
		c.mutual = true
	}
}

// WithInitiatorCredential configures the client to use a specific credential
func WithInitiatorCredential(cred *krb5.Credential) ClientOption {
	return func(c *Transport) {
		c.credential = cred
	}
}

// WithInitiatorSpnFunc provides a custom function to provide the Service Principal Name (SPN) for a given URL.
//
// The default uses "HTTP@" + the host name of the URL.
func WithInitiatorSpnFunc(spnFunc SpnFunc) ClientOption {
	return func(c *Transport) {
		c.spnFunc = spnFunc
	}
}

// WithInitiatorDelegationPolicy configures the client to use a custom credential delegation policy.
func WithInitiatorDelegationPolicy(delegationPolicy DelegationPolicy) ClientOption {
	return func(c *Transport) {
		c.delegationPolicy = delegationPolicy
	}
}

// WithInitiatorExpect100Threshold configures the client to use the Expect: Continue header
// if the request body is larger than the threshold.
//
// Use of the Expect: Continue header is disabled by default due to concerns about the
// correct implementation by some servers.
func WithInitiatorExpect100Threshold(threshold int64) ClientOption {
	return func(c *Transport) {
		c.expect100Threshold = threshold
	}
}

// WithInitiatorRoundTripper configures the client to use a custom round tripper
func WithInitiatorRoundTripper(transport http.RoundTripper) ClientOption {
	return func(c *Transport) {
		c.transport = transport
	}
}

// WithInitiatorChannelBindingDisposition sets whether the client binds the context to
// the TLS connection.  Bindings come from the TLS state of the server's challenge, so they
// are only available once the server has challenged the client.
func WithInitiatorChannelBindingDisposition(disposition ChannelBindingDisposition) ClientOption {
	return func(c *Transport) {
		c.channelBindingDisposition = disposition
	}
}

// WithInititorHttpLogging configures the client to log the HTTP requests and responses
// Does nothing without a log function
func WithInititorHttpLogging() ClientOption {
	return func(c *Transport) {
		c.httpLogging = true
	}
}

// WithInitiatorLogFunc configures the client to use a custom log function
func WithInitiatorLogFunc(logFunc func(format string, args ...interface{})) ClientOption {
	return func(c *Transport) {
		c.logFunc = logFunc
	}
}

// NewTransport creates a new Negotiate transport using the Kerberos mechanism.  A nil
// mech uses one with the default configuration.
//
// The transport is a wrapper around the standard [http.Transport] that adds Negotiate
// authentication support. By default it wraps [http.DefaultTransport] - this can be
// overridden by passing a custom round tripper with [WithInitiatorRoundTripper].
func NewTransport(mech *krb5.Mech, options ...ClientOption) (*Transport, error) {
	if mech == nil {
		mech = krb5.NewMech()
	}

	t := &Transport{
		transport:        http.DefaultTransport,
		mech:             mech,
		spnFunc:          DefaultSpnFunc,
		delegationPolicy: DefaultDelegationPolicy,
		logFunc:          func(string, ...interface{}) {},
	}
	for _, option := range options {
		option(t)
	}

	if t.channelBindingDisposition == ChannelBindingDispositionRequire && t.opportunisticFunc != nil {
		return nil, errors.New("channel bindings cannot be required with opportunistic authentication")
	}

	return t, nil
}

// NewClient returns a [http.Client] that uses [Transport] to enable Negotiate authentication.
//
// If an existing client is provided, it will be copied and the [http.RoundTripper] will be replaced with a
// new [Transport].  Otherwise the default [http.Client] will be used. The [http.RoundTripper] in the
// returned client will wrap the transport from the supplied client or [http.DefaultTransport].
func NewClient(mech *krb5.Mech, client *http.Client, options ...ClientOption) (*http.Client, error) {
	if client == nil {
		client = http.DefaultClient
	}

	if client.Transport != nil {
		options = append(options, WithInitiatorRoundTripper(client.Transport))
	}

	t, err := NewTransport(mech, options...)
	if err != nil {
		return nil, err
	}

	// Copy the client to avoid modifying the original
	newClient := *client
	newClient.Transport = t
	return &newClient, nil
}

// initSecContext starts a context with the server and sets the request's
// Authorization header.
func (t *Transport) initSecContext(req *http.Request, resp *http.Response) (*krb5.SecContext, error) {
	spn := t.spnFunc(*req.URL)
	target, err := t.mech.ImportName(spn, gssapi.OidNameHostbasedService)
	if err != nil {
		return nil, err
	}

	var flags gssapi.ContextFlag
	if t.mutual {
		flags |= gssapi.ContextFlagMutual
	}
	if t.delegationPolicy != DelegationPolicyNever {
		flags |= gssapi.ContextFlagDeleg
	}

	opts := []krb5.InitSecContextOption{
		krb5.WithInitiatorFlags(flags),
	}
	if t.credential != nil {
		opts = append(opts, krb5.WithInitiatorCredential(t.credential))
	}

	if t.channelBindingDisposition != ChannelBindingDispositionIgnore {
		cb, err := clientChannelBinding(resp)
		switch {
		case err == nil:
			opts = append(opts, krb5.WithInitiatorChannelBinding(cb))
		case t.channelBindingDisposition == ChannelBindingDispositionRequire:
			return nil, err
		default:
			t.logFunc("not using channel bindings: %s", err)
		}
	}

	secCtx, tok, err := t.mech.InitSecContext(target, opts...)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Negotiate "+base64.StdEncoding.EncodeToString(tok))
	return secCtx, nil
}

// rewindBody prepares the request to be sent again.  A body that cannot be rewound is
// left for the underlying transport, which has not sent it if the server refused an
// Expect: 100-continue request.
func rewindBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("rewinding request body: %w", err)
	}
	req.Body = body
	return nil
}

// Use the underlying transport's RoundTripper wrapped in HTTP logging
// if enabled.
func (t *Transport) roundTrip(req *http.Request) (*http.Response, error) {
	if t.httpLogging {
		err := t.requestLogging(req)
		if err != nil {
			return nil, err
		}
	}

	resp, err := t.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if t.httpLogging {
		err := t.responseLogging(resp)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// negotiateChallenge returns the single Negotiate challenge in a response, if any.
func negotiateChallenge(resp *http.Response) (*authChallenge, error) {
	challenges := findSchemeChallenges(&resp.Header, "Negotiate")
	switch len(challenges) {
	case 0:
		return nil, nil
	case 1:
		// Negotiate doesn't use parameters
		if len(challenges[0].Parameters) > 0 {
			return nil, fmt.Errorf("negotiate challenge must not have parameters")
		}
		return &challenges[0], nil
	}
	return nil, fmt.Errorf("multiple negotiate challenges found in response")
}

// RoundTrip implements the [http.RoundTripper] interface and performs one HTTP
// request, with a second round trip if the server challenges the client to
// authenticate.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.httpLogging {
		req = t.setupLogging(req)
	}

	// We are not meant to modify the request, so we need to create a new one
	req = req.Clone(req.Context())

	var secCtx *krb5.SecContext
	defer func() {
		if secCtx != nil {
			_, _ = secCtx.Delete()
		}
	}()

	// Should we opportunistically set the initial token?
	useOpportunistic := t.opportunisticFunc != nil && t.opportunisticFunc(*req.URL)

	// use Expect: Continue for large requests or if we can't rewind the body, when we're not doing opportunistic authentication
	if !useOpportunistic && t.expect100Threshold > 0 {
		useExpect100 := false
		if req.ContentLength > t.expect100Threshold {
			t.logFunc("Using Expect: Continue header because request body is larger than %d bytes", t.expect100Threshold)
			useExpect100 = true
		} else if req.GetBody == nil {
			t.logFunc("Using Expect: Continue header because request body is not rewindable and opportunistic authentication is not requested")
			useExpect100 = true
		}
		if useExpect100 {
			req.Header.Set("Expect", "100-continue")
		}
	}

	var err error
	if useOpportunistic {
		if secCtx, err = t.initSecContext(req, nil); err != nil {
			return nil, err
		}
	}

	resp, err := t.roundTrip(req)
	if err != nil {
		return nil, err
	}

	if secCtx == nil {
		challenge, err := negotiateChallenge(resp)
		if err != nil {
			return nil, err
		}

		// no challenge, or not a request to authenticate: the URL doesn't need auth
		if challenge == nil || resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		if secCtx, err = t.initSecContext(req, resp); err != nil {
			return nil, err
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if err := rewindBody(req); err != nil {
			return nil, err
		}
		if resp, err = t.roundTrip(req); err != nil {
			return nil, err
		}
	}

	// the server rejected the token: let the caller see the response
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return resp, nil
	}

	if secCtx.ContinueNeeded() {
		challenge, err := negotiateChallenge(resp)
		if err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		if challenge == nil || challenge.Token68 == "" {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("mutual authentication requested but the server sent no reply token")
		}

		tok, err := base64.StdEncoding.DecodeString(challenge.Token68)
		if err == nil {
			_, err = secCtx.Continue(tok)
		}
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("verifying the server: %w", err)
		}
	}

	if t.mutual && secCtx.Flags()&gssapi.ContextFlagMutual == 0 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("mutual authentication requested but not available")
	}

	if t.delegationPolicy == DelegationPolicyAlways && secCtx.Flags()&gssapi.ContextFlagDeleg == 0 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("delegation requested but not available")
	}

	return resp, nil
}
