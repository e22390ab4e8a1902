// SPDX-License-Identifier: Apache-2.0

// Package test holds assertion helpers shared by the package tests.
package test

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Assert extends testify's assertions with ones that stop the test.
type Assert struct {
	*assert.Assertions

	t *testing.T
}

// NewAssert returns assertions bound to t.
func NewAssert(t *testing.T) *Assert {
	return &Assert{Assertions: assert.New(t), t: t}
}

// NoErrorFatal asserts that err is nil and stops the test if it is not.
func (a *Assert) NoErrorFatal(err error) {
	if !a.NoError(err) {
		a.t.Logf("stopping %s: fatal error", a.t.Name())
		a.t.FailNow()
	}
}
