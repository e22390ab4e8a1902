// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"
	"strings"
)

// parseAuthzHeader returns the lower-cased scheme and the credentials of the
// Authorization header.
func parseAuthzHeader(headers *http.Header) (string, string) {
	scheme, creds, ok := strings.Cut(strings.TrimSpace(headers.Get("Authorization")), " ")
	if !ok {
		return "", ""
	}
	return strings.ToLower(scheme), strings.TrimSpace(creds)
}

// authChallenge is one challenge from a WWW-Authenticate header, RFC 9110 § 11.6.1.
// A challenge carries either a token68 or auth parameters, never both.
type authChallenge struct {
	// Scheme is the authentication scheme as sent (e.g., "Negotiate", "Basic")
	Scheme string

	// Token68 is the bare token following the scheme, used by Negotiate
	Token68 string

	// Parameters holds auth-params keyed by their lower-cased name
	Parameters map[string]string
}

// findSchemeChallenges returns the challenges for scheme, compared case-insensitively,
// from all the WWW-Authenticate headers in order.
func findSchemeChallenges(headers *http.Header, scheme string) []authChallenge {
	var found []authChallenge
	for _, value := range headers.Values("WWW-Authenticate") {
		for _, c := range parseChallenges(value) {
			if strings.EqualFold(c.Scheme, scheme) {
				found = append(found, c)
			}
		}
	}
	return found
}

// parseChallenges splits a WWW-Authenticate value into its challenges.  Parsing stops
// at the first malformed element.
func parseChallenges(value string) []authChallenge {
	l := &challengeLexer{s: value}

	var out []authChallenge
	for {
		l.skip(" \t,")
		scheme := l.token()
		if scheme == "" {
			return out
		}

		c := authChallenge{Scheme: scheme, Parameters: map[string]string{}}
		l.skip(" \t")
		if tok, ok := l.token68(); ok {
			c.Token68 = tok
		} else {
			l.params(c.Parameters)
		}
		out = append(out, c)
	}
}

type challengeLexer struct {
	s   string
	pos int
}

func isTchar(b byte) bool {
	switch {
	case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", b) >= 0
}

func isToken68Char(b byte) bool {
	switch {
	case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		return true
	}
	return strings.IndexByte("-._~+/", b) >= 0
}

func (l *challengeLexer) eof() bool {
	return l.pos >= len(l.s)
}

func (l *challengeLexer) peek() byte {
	if l.eof() {
		return 0
	}
	return l.s[l.pos]
}

func (l *challengeLexer) skip(chars string) {
	for !l.eof() && strings.IndexByte(chars, l.s[l.pos]) >= 0 {
		l.pos++
	}
}

func (l *challengeLexer) token() string {
	start := l.pos
	for !l.eof() && isTchar(l.s[l.pos]) {
		l.pos++
	}
	return l.s[start:l.pos]
}

// token68 reads a token68 if one ends the challenge, leaving the position alone
// otherwise.
func (l *challengeLexer) token68() (string, bool) {
	start := l.pos
	for !l.eof() && isToken68Char(l.s[l.pos]) {
		l.pos++
	}
	if l.pos == start {
		return "", false
	}
	for l.peek() == '=' {
		l.pos++
	}
	end := l.pos

	l.skip(" \t")
	if l.eof() || l.peek() == ',' {
		return l.s[start:end], true
	}

	l.pos = start
	return "", false
}

func (l *challengeLexer) quoted() string {
	var b strings.Builder

	l.pos++ // opening quote
	for !l.eof() {
		ch := l.s[l.pos]
		l.pos++
		switch {
		case ch == '"':
			return b.String()
		case ch == '\\' && !l.eof():
			b.WriteByte(l.s[l.pos])
			l.pos++
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// params reads the comma separated auth-params of a challenge.  A name not followed
// by '=' starts the next challenge and is left unread.
func (l *challengeLexer) params(into map[string]string) {
	for {
		start := l.pos
		name := l.token()
		l.skip(" \t")
		if name == "" || l.peek() != '=' {
			l.pos = start
			return
		}
		l.pos++
		l.skip(" \t")

		var value string
		if l.peek() == '"' {
			value = l.quoted()
		} else {
			value = l.token()
		}
		into[strings.ToLower(name)] = value

		l.skip(" \t")
		if l.peek() != ',' {
			return
		}
		l.pos++
		l.skip(" \t,")
	}
}
