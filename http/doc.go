// SPDX-License-Identifier: Apache-2.0

/*
Package http adds SPNEGO-less Kerberos "Negotiate" authentication (RFC 4559) to
[net/http] clients and servers, using the mechanism in package krb5.

	import (
		"net/http"

		ghttp "github.com/golang-auth/go-gssapi-krb5/http"
		"github.com/golang-auth/go-gssapi-krb5/krb5"
	)

	mech := krb5.NewMech()

# Clients

[NewClient] returns an [http.Client] whose transport answers Negotiate
challenges with a token for the HTTP@host service:

	client, err := ghttp.NewClient(mech, nil)
	...
	resp, err := client.Get("https://www.example.com/private")

Build a [Transport] directly to change how authentication is done:

	transport, err := ghttp.NewTransport(mech,
		ghttp.WithInitiatorMutual(),
		ghttp.WithInitiatorCredential(cred),
		ghttp.WithInitiatorDelegationPolicy(ghttp.DelegationPolicyIfAvailable),
	)
	...
	client := &http.Client{Transport: transport}

The transport sends requests through another [http.RoundTripper],
[http.DefaultTransport] unless [WithInitiatorRoundTripper] says otherwise.

A request is first sent without credentials.  When the reply is a 401 carrying
a Negotiate challenge, the transport creates a security context, adds the
Authorization header and sends the request again.  Any other reply is returned
as is.  With mutual authentication the token in the final WWW-Authenticate
header must verify, or RoundTrip fails.

# Opportunistic authentication

[WithInitiatorOpportunistic] puts the token on the first request (RFC 4559 §
4.2), saving a round trip.  The token goes to the server even when the resource
is not protected.  [WithInitiatorOpportunisticFunc] limits this to chosen URLs.

# Request bodies

Answering a challenge means sending the request twice.  Bodies that
[http.Request.GetBody] can rewind are sent again; other bodies cannot be.

[WithInitiatorExpect100Threshold] makes the transport add Expect: 100-continue
to requests whose body is larger than the threshold, or cannot be rewound.  The
server can then refuse the request before the body is sent.  This is off by
default, as not every server handles 100-continue well, and it never applies to
opportunistic requests.  The lower transport decides how long to wait for the
100 Continue; [http.DefaultTransport] waits one second.

The [net/http] server closes the connection after refusing an Expect:
100-continue request, so the retry opens a new one.

# Channel bindings

Both ends can bind the context to the TLS connection, which stops a token being
relayed through another TLS server.  See [WithInitiatorChannelBindingDisposition]
and [WithAcceptorChannelBindingDisposition].

TLS 1.3 connections use the tls-exporter bindings of RFC 9266.  These are
unique to the connection, so the retried request must be sent on the
connection that carried the 401 reply, as it is when the lower transport keeps
connections alive.

TLS 1.2 connections use the tls-server-end-point bindings of RFC 5929.  The
client reads the server certificate from the TLS state of the 401 reply.  The
server reads its certificate from the [http.Server] TLS configuration.  A
server that picks certificates with GetCertificate must be set up with
[ServerWithStashConn].

The bindings come from the 401 reply, so opportunistic requests are never bound.

# Servers

[Handler] authenticates each request and passes it to the next handler, which
can call [GetInitiatorName], [HasChannelBindings] and [GetDelegatedCredential].
Requests without a Negotiate token get a 401 challenge; tokens that fail to
verify get a 403.

	private, err := ghttp.NewHandler(mech, privateHandler,
		ghttp.WithAcceptorCredential(cred))
	...
	http.Handle("/private/", private)
	http.HandleFunc("/public/", publicHandler)

	log.Fatal(http.ListenAndServe(":8080", nil))

A handler can also wrap a whole mux:

	h, err := ghttp.NewHandler(mech, http.DefaultServeMux)
	...
	log.Fatal(http.ListenAndServe(":8080", h))

Each request is authenticated on its own; the handler does not keep contexts
between requests on the same connection.
*/
package http
