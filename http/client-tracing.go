// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"
)

// HttpTrace records what happened on the wire during a request made with
// [WithInititorHttpLogging] enabled.
type HttpTrace struct {
	WaitedFor100Continue bool // request headers went out with Expect: 100-continue
	Seen100Continue      bool // the server answered with 100 Continue
}

type clientContextKey struct{}

// WithHttpTrace returns a copy of ctx that collects trace information into trace.
func WithHttpTrace(ctx context.Context, trace *HttpTrace) context.Context {
	return context.WithValue(ctx, clientContextKey{}, trace)
}

// GetHttpTrace returns the trace stored in ctx by [WithHttpTrace], or nil.
func GetHttpTrace(ctx context.Context) *HttpTrace {
	trace, _ := ctx.Value(clientContextKey{}).(*HttpTrace)
	return trace
}

// setupLogging attaches an HttpTrace and a client trace that logs connection
// events.  A client trace already present on the request is left alone.
func (t *Transport) setupLogging(req *http.Request) *http.Request {
	ctx := req.Context()

	trace := GetHttpTrace(ctx)
	if trace == nil {
		trace = &HttpTrace{}
		ctx = WithHttpTrace(ctx, trace)
	}

	if httptrace.ContextClientTrace(ctx) == nil {
		ctx = httptrace.WithClientTrace(ctx, t.clientTrace(trace))
	}

	return req.WithContext(ctx)
}

func (t *Transport) clientTrace(trace *HttpTrace) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(hostPort string) {
			t.logFunc("<> dialing %s", hostPort)
		},
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn.LocalAddr() == nil {
				t.logFunc("<> connected (not network), reused=%t", info.Reused)
				return
			}
			t.logFunc("<> connected %s -> %s, reused=%t", info.Conn.LocalAddr(), info.Conn.RemoteAddr(), info.Reused)
		},
		WroteHeaders: func() {
			t.logFunc("<> request headers written")
		},
		Wait100Continue: func() {
			t.logFunc("<> waiting for 100 Continue")
			trace.WaitedFor100Continue = true
		},
		Got100Continue: func() {
			t.logFunc("<> got 100 Continue")
			trace.Seen100Continue = true
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err != nil {
				t.logFunc("<> writing request failed: %s", info.Err)
				return
			}
			t.logFunc("<> request written")
		},
		GotFirstResponseByte: func() {
			t.logFunc("<> response started")
		},
	}
}

// requestLogging logs the outgoing request headers.  The body is not logged as
// reading it would consume it.
func (t *Transport) requestLogging(req *http.Request) error {
	dump, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		return fmt.Errorf("dumping request: %w", err)
	}
	t.logLines("> ", dump)
	return nil
}

func (t *Transport) responseLogging(resp *http.Response) error {
	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return fmt.Errorf("dumping response: %w", err)
	}
	t.logLines("< ", dump)
	return nil
}

func (t *Transport) logLines(prefix string, dump []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(dump))
	for scanner.Scan() {
		t.logFunc("%s%s", prefix, scanner.Text())
	}
}
