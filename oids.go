// SPDX-License-Identifier: Apache-2.0

package gssapi

import "bytes"

// Oid represents an Object Identifier as used throughout GSSAPI. Elements of the byte slice
// represent the DER encoding of the object identifier, excluding the ASN.1 header (two bytes:
// tag value 0x06 and length) as per the Microsoft documentation on object identifiers.
//
// In the Go bindings, OID sets are represented as slices of Oid types ([]Oid).
type Oid []byte

// Well known object identifiers.
var (
	// Kerberos V5 mechanism, RFC 1964 § 1 (1.2.840.113554.1.2.2)
	OidMechKrb5 = Oid{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x01, 0x02, 0x02}

	// Kerberos principal name syntax, RFC 1964 § 2.1.1 (1.2.840.113554.1.2.2.1)
	OidNameKrb5Principal = Oid{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x01, 0x02, 0x02, 0x01}

	// service@host names, RFC 2743 § 4.1 (1.2.840.113554.1.2.1.4)
	OidNameHostbasedService = Oid{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x01, 0x02, 0x01, 0x04}

	// user names, RFC 2743 § 4.2 (1.2.840.113554.1.2.1.1)
	OidNameUser = Oid{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x01, 0x02, 0x01, 0x01}

	// exported mechanism names, RFC 2743 § 4.7 (1.3.6.1.5.6.4)
	OidNameExport = Oid{0x2b, 0x06, 0x01, 0x05, 0x06, 0x04}
)

// Equal reports whether two OIDs have the same encoding.
func (o Oid) Equal(other Oid) bool {
	return bytes.Equal(o, other)
}

// OidSetContains reports whether oid is a member of set.
func OidSetContains(set []Oid, oid Oid) bool {
	for _, o := range set {
		if o.Equal(oid) {
			return true
		}
	}
	return false
}
