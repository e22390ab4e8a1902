// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"github.com/jcmturner/gokrb5/v8/types"
)

// desFormat is RFC 1964 with single DES keys: DES MAC of MD5 signatures (SGN_ALG 0)
// and DES CBC sealing (SEAL_ALG 0).
var desFormat = &legacyFormat{
	name:     "DES",
	sgnAlg:   [2]byte{0x00, 0x00},
	sealAlg:  [2]byte{0x00, 0x00},
	cksumLen: 8,
	checksum: desChecksum,
	sealKey:  desSealKey,
}

// desChecksum is the last block of the DES CBC encryption, zero IV, of the MD5 digest.
func desChecksum(p *Protection, prefix, data []byte) ([]byte, error) {
	buf := make([]byte, 0, len(prefix)+len(data))
	buf = append(buf, prefix...)
	buf = append(buf, data...)

	enc, err := p.Crypto.EncryptRaw(p.Key, nil, p.Crypto.MD5(buf))
	if err != nil {
		return nil, err
	}
	return enc[len(enc)-8:], nil
}

// desSealKey XORs each byte of the context key with 0xF0.  Only sealing uses the
// modified key; signatures and sequence numbers use the key as is.
func desSealKey(key types.EncryptionKey) types.EncryptionKey {
	k := types.EncryptionKey{KeyType: key.KeyType, KeyValue: make([]byte, len(key.KeyValue))}
	for i, b := range key.KeyValue {
		k.KeyValue[i] = b ^ 0xf0
	}
	return k
}

type desSuite struct{}

func (desSuite) GetMIC(p *Protection, msg []byte) ([]byte, error) {
	return desFormat.getMIC(p, msg)
}

func (desSuite) VerifyMIC(p *Protection, msg, tok []byte) error {
	return desFormat.verifyMIC(p, msg, tok)
}

func (desSuite) VerifyDeleteToken(p *Protection, tok []byte) error {
	return desFormat.verifyDelete(p, tok)
}

func (desSuite) Wrap(p *Protection, msg []byte, conf bool) ([]byte, error) {
	return desFormat.wrap(p, msg, conf)
}

func (desSuite) Unwrap(p *Protection, tok []byte) ([]byte, bool, error) {
	return desFormat.unwrap(p, tok)
}

func (desSuite) WrapSizeLimit(p *Protection, conf bool, maxOut uint) uint {
	return desFormat.wrapSizeLimit(maxOut)
}
