// SPDX-License-Identifier: Apache-2.0

package gssapi

import (
	"errors"
	"strings"
)

// InfoStatus carries the supplementary information bits of RFC 2743 § 1.2.1.1.  It is
// returned on its own by the per-message methods, such as VerifyMIC and Unwrap, when a
// token was accepted but is out of sequence or a duplicate.
type InfoStatus struct {
	InformationCode InformationCode // supplementary bits
	MechErrors      []error         // mechanism (minor) status
}

// FatalStatus is the error returned when a call fails.  It stands in for the major
// status code of RFC 2743 and may carry supplementary bits from the embedded InfoStatus.
// Use errors.Is with the Err* and Info* variables to test for a particular condition.
type FatalStatus struct {
	InfoStatus
	FatalErrorCode FatalErrorCode
}

// FatalErrorCode is a routine error code.  The values match the C bindings, shifted
// down to start at 1 (RFC 2744 § 3.9.1).
type FatalErrorCode uint32

// InformationCode is a set of supplementary status bits, with the C binding values
// (RFC 2744 § 3.9.1).
type InformationCode uint32

const (
	complete FatalErrorCode = iota
	errBadMech
	errBadName
	errBadNameType
	errBadBindings
	errBadStatus
	errBadMic
	errNoCred
	errNoContext
	errDefectiveToken
	errDefectiveCredential
	errCredentialsExpired
	errContextExpired
	errFailure
	errBadQop
	errUnauthorized
	errUnavailable
	errDuplicateElement
	errNameNotMn
	errBadMechAttr

	errBadSig = errBadMic
)

const (
	infoContinueNeeded InformationCode = 1 << iota
	infoDuplicateToken
	infoOldToken
	infoUnseqToken
	infoGapToken
)

// Routine errors.
var (
	ErrBadMech             = errors.New("an unsupported mechanism was requested")
	ErrBadName             = errors.New("an invalid name was supplied")
	ErrBadNameType         = errors.New("a supplied name was of an unsupported type")
	ErrBadBindings         = errors.New("incorrect channel bindings were supplied")
	ErrBadStatus           = errors.New("an invalid status code was supplied")
	ErrBadMic              = errors.New("a token had an invalid signature")
	ErrNoCred              = errors.New("no credentials were supplied, or the credentials were unavailable or inaccessible")
	ErrNoContext           = errors.New("no context has been established")
	ErrDefectiveToken      = errors.New("invalid token was supplied")
	ErrDefectiveCredential = errors.New("invalid credential was supplied")
	ErrCredentialsExpired  = errors.New("the referenced credentials have expired")
	ErrContextExpired      = errors.New("the context has expired")
	ErrFailure             = errors.New("unspecified GSS failure.  Minor code may provide more information")
	ErrBadQop              = errors.New("the quality-of-protection (QOP) requested could not be provided")
	ErrUnauthorized        = errors.New("the operation is forbidden by local security policy")
	ErrUnavailable         = errors.New("the operation or option is not available or supported")
	ErrDuplicateElement    = errors.New("the requested credential element already exists")
	ErrNameNotMn           = errors.New("the provided name was not mechanism specific (MN)")
	ErrBadMechAttr         = errors.New("an unsupported mechanism attribute was requested")

	// ErrBadSig is the RFC 1964 name for ErrBadMic.
	ErrBadSig = ErrBadMic
)

// Supplementary information, reported through Unwrap so that errors.Is works.
//
//nolint:staticcheck // ST1012 these aren't actually errors
var (
	InfoContinueNeeded = errors.New("the routine must be called again to complete its function")
	InfoDuplicateToken = errors.New("the token was a duplicate of an earlier token")
	InfoOldToken       = errors.New("the token's validity period has expired")
	InfoUnseqToken     = errors.New("a later token has already been processed")
	InfoGapToken       = errors.New("an expected per-message token was not received")
)

// fatalErrors is indexed by FatalErrorCode.
var fatalErrors = [...]error{
	complete:               nil,
	errBadMech:             ErrBadMech,
	errBadName:             ErrBadName,
	errBadNameType:         ErrBadNameType,
	errBadBindings:         ErrBadBindings,
	errBadStatus:           ErrBadStatus,
	errBadMic:              ErrBadMic,
	errNoCred:              ErrNoCred,
	errNoContext:           ErrNoContext,
	errDefectiveToken:      ErrDefectiveToken,
	errDefectiveCredential: ErrDefectiveCredential,
	errCredentialsExpired:  ErrCredentialsExpired,
	errContextExpired:      ErrContextExpired,
	errFailure:             ErrFailure,
	errBadQop:              ErrBadQop,
	errUnauthorized:        ErrUnauthorized,
	errUnavailable:         ErrUnavailable,
	errDuplicateElement:    ErrDuplicateElement,
	errNameNotMn:           ErrNameNotMn,
	errBadMechAttr:         ErrBadMechAttr,
}

// infoErrors is in bit order.
var infoErrors = [...]error{
	InfoContinueNeeded,
	InfoDuplicateToken,
	InfoOldToken,
	InfoUnseqToken,
	InfoGapToken,
}

func fatalCode(err error) (FatalErrorCode, bool) {
	for code, e := range fatalErrors {
		if e != nil && e == err {
			return FatalErrorCode(code), true
		}
	}
	return 0, false
}

// NewFatalStatus returns a FatalStatus for one of the Err* variables, carrying
// mechErrs as the mechanism (minor) status.  Any other error is reported as ErrFailure
// with the error itself prepended to the mechanism errors.
func NewFatalStatus(fatal error, mechErrs ...error) FatalStatus {
	if s, ok := fatal.(FatalStatus); ok {
		s.MechErrors = append(s.MechErrors, mechErrs...)
		return s
	}

	code, ok := fatalCode(fatal)
	if !ok {
		code = errFailure
		if fatal != nil {
			mechErrs = append([]error{fatal}, mechErrs...)
		}
	}

	return FatalStatus{
		FatalErrorCode: code,
		InfoStatus:     InfoStatus{MechErrors: mechErrs},
	}
}

// WithInfo sets supplementary bits on the status.  Errors that are not one of the
// Info* variables are ignored.
func (s FatalStatus) WithInfo(info ...error) FatalStatus {
	for _, i := range info {
		for bit, e := range infoErrors {
			if e == i {
				s.InformationCode |= 1 << bit
			}
		}
	}
	return s
}

// Fatal returns the Err* variable for the routine error code.  Unknown codes map to
// ErrBadStatus.
func (s FatalStatus) Fatal() error {
	if s.FatalErrorCode == complete || int(s.FatalErrorCode) >= len(fatalErrors) {
		return ErrBadStatus
	}
	return fatalErrors[s.FatalErrorCode]
}

func (s InfoStatus) Unwrap() []error {
	ret := []error{}
	for bit, e := range infoErrors {
		if s.InformationCode&(1<<bit) != 0 {
			ret = append(ret, e)
		}
	}
	return ret
}

func (s InfoStatus) Error() string {
	return joinErrors(s.Unwrap())
}

func (s FatalStatus) Unwrap() []error {
	ret := []error{}
	if s.FatalErrorCode != complete {
		ret = append(ret, s.Fatal())
	}
	ret = append(ret, s.InfoStatus.Unwrap()...)
	return append(ret, s.MechErrors...)
}

func (s FatalStatus) Error() string {
	var parts []string

	// the generic failure text only adds noise when there is a minor status
	if fatal := s.Fatal(); s.FatalErrorCode != complete && (fatal != ErrFailure || len(s.MechErrors) == 0) {
		parts = append(parts, fatal.Error())
	}
	if len(s.MechErrors) > 0 {
		parts = append(parts, joinErrors(s.MechErrors))
	}
	if info := s.InfoStatus.Error(); info != "" {
		parts = append(parts, "Additionally: "+info)
	}

	return strings.Join(parts, ".  ")
}

func joinErrors(errs []error) string {
	strs := make([]string, len(errs))
	for i, e := range errs {
		strs[i] = e.Error()
	}
	return strings.Join(strs, "; ")
}
