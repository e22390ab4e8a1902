// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"testing"

	"github.com/golang-auth/go-gssapi-krb5/test"
)

func NewAssert(t *testing.T) *test.Assert {
	return test.NewAssert(t)
}
