// SPDX-License-Identifier: Apache-2.0

package gssapi

// CredUsage defines the intended usage for credentials as specified in RFC 2743 § 2.1.1.
type CredUsage int

// Credential usage values as defined in RFC 2743 § 2.1.1
const (
	// CredUsageInitiateAndAccept indicates the credential may be used for both initiating and accepting contexts
	CredUsageInitiateAndAccept CredUsage = iota
	// CredUsageInitiateOnly indicates the credential may only be used for initiating contexts
	CredUsageInitiateOnly
	// CredUsageAcceptOnly indicates the credential may only be used for accepting contexts
	CredUsageAcceptOnly
)

// CanInitiate reports whether credentials of this usage may start a context.
func (u CredUsage) CanInitiate() bool {
	return u == CredUsageInitiateAndAccept || u == CredUsageInitiateOnly
}

// CanAccept reports whether credentials of this usage may accept a context.
func (u CredUsage) CanAccept() bool {
	return u == CredUsageInitiateAndAccept || u == CredUsageAcceptOnly
}

// Covers reports whether u permits everything other permits.
func (u CredUsage) Covers(other CredUsage) bool {
	return u == other || u == CredUsageInitiateAndAccept
}

func (u CredUsage) String() string {
	switch u {
	case CredUsageInitiateAndAccept:
		return "initiate and accept"
	case CredUsageInitiateOnly:
		return "initiate"
	case CredUsageAcceptOnly:
		return "accept"
	}
	return "unknown"
}

// QoP represents quality of protection values used in various security context operations
// like GetMIC, VerifyMIC, Wrap, Unwrap, and WrapSizeLimit. A zero value represents the
// default quality of protection.
type QoP uint
