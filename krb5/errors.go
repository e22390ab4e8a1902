// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"errors"
	"fmt"

	"github.com/golang-auth/go-gssapi-krb5"
)

// fatal returns a GSS status for one of the gssapi fatal error variables, with a
// mechanism error built from the format string.
func fatal(code error, format string, args ...interface{}) error {
	return gssapi.NewFatalStatus(code, fmt.Errorf("gssapi: "+format, args...))
}

// fatalErr is like fatal but carries an existing mechanism error.  A nil
// err yields a status with no mechanism error.
func fatalErr(code error, err error) error {
	if err == nil {
		return gssapi.NewFatalStatus(code)
	}
	return gssapi.NewFatalStatus(code, err)
}

// asStatus returns err unchanged if it already carries a GSS status, otherwise a
// status for code with err as the mechanism error.
func asStatus(code error, err error) error {
	var fs gssapi.FatalStatus
	if errors.As(err, &fs) {
		return err
	}
	return fatalErr(code, err)
}
