// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"bytes"
	"strings"

	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/types"
	"golang.org/x/crypto/cryptobyte"

	"github.com/golang-auth/go-gssapi-krb5"
)

// Name is a Kerberos principal name qualified by its realm.  It is the mechanism
// name (MN) form of GSSAPI names for this mechanism.
type Name struct {
	types.PrincipalName
	Realm string
}

// exported name token ID, RFC 2743 § 3.2
var exportedNameTokID = []byte{0x04, 0x01}

// NewName returns the name with the supplied components in realm.
func NewName(nameType int32, realm string, components ...string) *Name {
	return &Name{
		PrincipalName: types.PrincipalName{NameType: nameType, NameString: append([]string{}, components...)},
		Realm:         realm,
	}
}

func splitEscaped(s string, sep byte) []string {
	var parts []string
	var cur strings.Builder

	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case c == sep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}

	return append(parts, cur.String())
}

// lastUnescaped returns the index of the last unescaped sep in s, or -1.
func lastUnescaped(s string, sep byte) int {
	idx := -1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			idx = i
		}
	}
	return idx
}

// ParseName parses a Kerberos principal in the usual "comp1/comp2@REALM" syntax.
// Backslash escapes a following separator.  The default realm is used when the
// string has none.
func ParseName(s string, defaultRealm string) (*Name, error) {
	if s == "" {
		return nil, fatal(gssapi.ErrBadName, "empty principal name")
	}

	realm := defaultRealm
	if at := lastUnescaped(s, '@'); at >= 0 {
		realm = strings.Join(splitEscaped(s[at+1:], 0), "")
		s = s[:at]
	}

	comps := splitEscaped(s, '/')
	for _, c := range comps {
		if c == "" {
			return nil, fatal(gssapi.ErrBadName, "principal name has an empty component")
		}
	}

	nt := nametype.KRB_NT_PRINCIPAL
	if len(comps) > 1 {
		nt = nametype.KRB_NT_SRV_INST
	}

	return NewName(nt, realm, comps...), nil
}

// ParseHostbasedName parses a GSSAPI host based service name ("service@host" or just
// "service") into a service principal in realm.
func ParseHostbasedName(s string, realm string) (*Name, error) {
	service, host, found := strings.Cut(s, "@")
	if service == "" || (found && host == "") {
		return nil, fatal(gssapi.ErrBadName, "invalid host based service name %q", s)
	}
	if !found {
		host = "localhost"
	}

	return NewName(nametype.KRB_NT_SRV_HST, realm, service, strings.ToLower(host)), nil
}

func escapeComponent(c string) string {
	r := strings.NewReplacer(`\`, `\\`, `/`, `\/`, `@`, `\@`)
	return r.Replace(c)
}

// String returns the name in "comp1/comp2@REALM" form.
func (n *Name) String() string {
	comps := make([]string, len(n.NameString))
	for i, c := range n.NameString {
		comps[i] = escapeComponent(c)
	}

	s := strings.Join(comps, "/")
	if n.Realm != "" {
		s += "@" + strings.ReplaceAll(n.Realm, "@", `\@`)
	}
	return s
}

// Equal reports whether the names refer to the same principal.  Name types are
// not significant, RFC 4120 § 6.2.
func (n *Name) Equal(other *Name) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Realm != other.Realm || len(n.NameString) != len(other.NameString) {
		return false
	}
	for i := range n.NameString {
		if n.NameString[i] != other.NameString[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the name.
func (n *Name) Clone() *Name {
	if n == nil {
		return nil
	}
	return NewName(n.NameType, n.Realm, n.NameString...)
}

// Export returns the RFC 2743 § 3.2 exported form of the name.
func (n *Name) Export() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddBytes(exportedNameTokID)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(tokenTagOID)
		b.AddUint8(uint8(len(mechOID)))
		b.AddBytes(mechOID)
	})
	b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(n.String()))
	})

	out, err := b.Bytes()
	if err != nil {
		return nil, fatalErr(gssapi.ErrFailure, err)
	}
	return out, nil
}

// ImportExportedName parses the output of Name.Export.
func ImportExportedName(b []byte) (*Name, error) {
	s := cryptobyte.String(b)

	var tokID []byte
	if !s.ReadBytes(&tokID, 2) || !bytes.Equal(tokID, exportedNameTokID) {
		return nil, fatal(gssapi.ErrBadName, "not an exported name token")
	}

	var oid cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&oid) {
		return nil, fatal(gssapi.ErrBadName, "truncated exported name token")
	}
	var tag, l uint8
	if !oid.ReadUint8(&tag) || !oid.ReadUint8(&l) || tag != tokenTagOID ||
		int(l) != len(oid) || !bytes.Equal(oid, mechOID) {
		return nil, fatal(gssapi.ErrBadMech, "exported name is not a Kerberos V5 name")
	}

	var nameLen uint32
	var name []byte
	if !s.ReadUint32(&nameLen) || !s.ReadBytes(&name, int(nameLen)) || !s.Empty() {
		return nil, fatal(gssapi.ErrBadName, "malformed exported name token")
	}

	return ParseName(string(name), "")
}
