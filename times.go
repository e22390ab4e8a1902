// SPDX-License-Identifier: Apache-2.0

package gssapi

import "time"

// GssLifetimeStatus says how to read a GssLifetime.
type GssLifetimeStatus int

const (
	GssLifetimeAvailable  GssLifetimeStatus = iota // ExpiresAt holds the expiry time
	GssLifetimeExpired                             // already expired
	GssLifetimeIndefinite                          // never expires, ExpiresAt is unused
)

// GssLifetime is the lifetime of a context or credential.  RFC 2744 encodes expired
// and indefinite as special second counts; here they are explicit states.
type GssLifetime struct {
	Status    GssLifetimeStatus
	ExpiresAt time.Time
}

// MakeGssLifetime returns a lifetime ending d from now.  A zero d is expired.
func MakeGssLifetime(d time.Duration) *GssLifetime {
	l := LifetimeUntil(time.Now().Add(d))
	if d == 0 {
		l.Status = GssLifetimeExpired
	}
	return &l
}

// LifetimeUntil returns the lifetime of something that expires at t, where the zero
// time means indefinite.
func LifetimeUntil(t time.Time) GssLifetime {
	l := GssLifetime{ExpiresAt: t}
	switch {
	case t.IsZero():
		l.Status = GssLifetimeIndefinite
	case !t.After(time.Now()):
		l.Status = GssLifetimeExpired
	default:
		l.Status = GssLifetimeAvailable
	}
	return l
}

// Remaining returns the time left before expiry: zero once expired, -1 when
// indefinite.
func (l GssLifetime) Remaining() time.Duration {
	switch l.Status {
	case GssLifetimeIndefinite:
		return -1
	case GssLifetimeExpired:
		return 0
	}
	return max(time.Until(l.ExpiresAt), 0)
}
