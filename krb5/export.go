// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"time"

	"github.com/jcmturner/gokrb5/v8/types"
	"golang.org/x/crypto/cryptobyte"

	"github.com/golang-auth/go-gssapi-krb5"
)

// Which optional parts of the auth context are in an exported context
const (
	exportLocalAddr uint32 = 1 << iota
	exportRemoteAddr
	exportSessionKey
	exportLocalSubkey
	exportRemoteSubkey
)

func addBytes32(b *cryptobyte.Builder, v []byte) {
	b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(v)
	})
}

func addAddress(b *cryptobyte.Builder, a *types.HostAddress) {
	b.AddUint32(uint32(a.AddrType))
	addBytes32(b, a.Address)
}

func addKey(b *cryptobyte.Builder, k *types.EncryptionKey) {
	b.AddUint32(uint32(k.KeyType))
	addBytes32(b, k.KeyValue)
}

func exportName(n *Name) ([]byte, error) {
	if n == nil {
		return nil, nil
	}
	return n.Export()
}

// Export serializes the context so that it can be imported by another process with
// ImportSecContext.  The context is deleted.
func (c *SecContext) Export() ([]byte, error) {
	if c.deleted || !c.isOpen() {
		return nil, fatal(gssapi.ErrNoContext, "context is not established")
	}
	if c.flags&gssapi.ContextFlagTrans == 0 {
		return nil, fatal(gssapi.ErrUnavailable, "context is not transferable")
	}

	ac := c.ac

	var mask uint32
	for _, p := range []struct {
		present bool
		bit     uint32
	}{
		{ac.LocalAddr != nil, exportLocalAddr},
		{ac.RemoteAddr != nil, exportRemoteAddr},
		{ac.SessionKey != nil, exportSessionKey},
		{ac.LocalSubkey != nil, exportLocalSubkey},
		{ac.RemoteSubkey != nil, exportRemoteSubkey},
	} {
		if p.present {
			mask |= p.bit
		}
	}

	source, err := exportName(c.source)
	if err != nil {
		return nil, err
	}
	target, err := exportName(c.target)
	if err != nil {
		return nil, err
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddUint32(mask)
	b.AddUint32(uint32(ac.Flags))

	for _, a := range []*types.HostAddress{ac.LocalAddr, ac.RemoteAddr} {
		if a != nil {
			addAddress(b, a)
		}
	}
	b.AddUint16(ac.LocalPort)
	b.AddUint16(ac.RemotePort)

	for _, k := range []*types.EncryptionKey{ac.SessionKey, ac.LocalSubkey, ac.RemoteSubkey} {
		if k != nil {
			addKey(b, k)
		}
	}

	b.AddUint64(ac.LocalSeq)
	b.AddUint64(ac.RemoteSeq)
	b.AddUint32(uint32(ac.KeyType))
	b.AddUint32(uint32(ac.CksumType))

	addBytes32(b, source)
	addBytes32(b, target)

	b.AddUint32(uint32(c.flags))
	b.AddUint32(c.localFlags)

	var expiry uint64
	if !c.expiry.IsZero() {
		expiry = uint64(c.expiry.Unix())
	}
	b.AddUint64(expiry)

	out, err := b.Bytes()
	if err != nil {
		return nil, fatalErr(gssapi.ErrFailure, err)
	}

	_, _ = c.Delete()
	return out, nil
}

// contextReader reads an exported context.  Reads after a failure return zero values.
type contextReader struct {
	s  cryptobyte.String
	ok bool
}

func (r *contextReader) u16() (v uint16) {
	r.ok = r.ok && r.s.ReadUint16(&v)
	return
}

func (r *contextReader) u32() (v uint32) {
	r.ok = r.ok && r.s.ReadUint32(&v)
	return
}

func (r *contextReader) u64() (v uint64) {
	r.ok = r.ok && r.s.ReadUint64(&v)
	return
}

func (r *contextReader) bytes32() []byte {
	l := r.u32()
	var v []byte
	r.ok = r.ok && r.s.ReadBytes(&v, int(l))
	return append([]byte{}, v...)
}

func (r *contextReader) address() *types.HostAddress {
	return &types.HostAddress{AddrType: int32(r.u32()), Address: r.bytes32()}
}

func (r *contextReader) key() *types.EncryptionKey {
	return &types.EncryptionKey{KeyType: int32(r.u32()), KeyValue: r.bytes32()}
}

// ImportSecContext recreates a context from the output of Export.
func (m *Mech) ImportSecContext(b []byte) (*SecContext, error) {
	r := &contextReader{s: cryptobyte.String(b), ok: true}
	ac := &AuthContext{}

	mask := r.u32()
	ac.Flags = AuthContextFlag(r.u32())

	if mask&exportLocalAddr != 0 {
		ac.LocalAddr = r.address()
	}
	if mask&exportRemoteAddr != 0 {
		ac.RemoteAddr = r.address()
	}
	ac.LocalPort = r.u16()
	ac.RemotePort = r.u16()

	if mask&exportSessionKey != 0 {
		ac.SessionKey = r.key()
	}
	if mask&exportLocalSubkey != 0 {
		ac.LocalSubkey = r.key()
	}
	if mask&exportRemoteSubkey != 0 {
		ac.RemoteSubkey = r.key()
	}

	ac.LocalSeq = r.u64()
	ac.RemoteSeq = r.u64()
	ac.KeyType = int32(r.u32())
	ac.CksumType = int32(r.u32())

	source := r.bytes32()
	target := r.bytes32()

	flags := gssapi.ContextFlag(r.u32())
	localFlags := r.u32()
	expiry := r.u64()

	if !r.ok || !r.s.Empty() {
		return nil, fatal(gssapi.ErrDefectiveToken, "malformed exported context")
	}

	c := &SecContext{
		mech:       m,
		ac:         ac,
		flags:      flags,
		localFlags: localFlags,
	}
	if expiry != 0 {
		c.expiry = time.Unix(int64(expiry), 0)
	}

	var err error
	if c.source, err = m.importContextName(source); err != nil {
		return nil, err
	}
	if c.target, err = m.importContextName(target); err != nil {
		return nil, err
	}

	return c, nil
}

// importContextName reads a name from an exported context.  Names that are not in
// the exported form are parsed as plain principal names.
func (m *Mech) importContextName(b []byte) (*Name, error) {
	if len(b) == 0 {
		return nil, nil
	}

	n, err := ImportExportedName(b)
	if err == nil {
		return n, nil
	}

	n, err = ParseName(string(b), m.realm())
	if err != nil {
		return nil, fatal(gssapi.ErrDefectiveToken, "bad name in exported context: %s", err)
	}
	return n, nil
}
