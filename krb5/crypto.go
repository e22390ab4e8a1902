// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/md5"
	"crypto/rand"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/types"
)

// CryptoProvider supplies the primitives used by the legacy RFC 1964 message
// formats and the channel binding checksum.
type CryptoProvider interface {
	// EncryptRaw encrypts data in CBC mode without padding, key derivation or
	// confounding.  len(data) must be a multiple of the cipher block size.
	EncryptRaw(key types.EncryptionKey, iv, data []byte) ([]byte, error)

	// DecryptRaw is the inverse of EncryptRaw.
	DecryptRaw(key types.EncryptionKey, iv, data []byte) ([]byte, error)

	// Checksum returns the keyed checksum of data for the key's encryption type,
	// using a key derived for usage where the type calls for it.
	Checksum(key types.EncryptionKey, usage uint32, data []byte) ([]byte, error)

	// MD5 returns the unkeyed MD5 digest of data.
	MD5(data []byte) []byte

	// Random fills b with random bytes.
	Random(b []byte) error
}

// usageSign is the key usage for DES3 MIC and wrap checksums, from
// draft-raeburn-cat-gssapi-krb5-3des § 2.  Sealing and sequence numbers use the raw
// context key, as MIT does, so that draft's usages 22 and 24 are never derived.
const usageSign uint32 = 23

// DefaultCrypto returns the CryptoProvider used when none is configured.  Single and
// triple DES block operations come from the standard library; keyed checksums come
// from the gokrb5 implementation of the key's encryption type.
func DefaultCrypto() CryptoProvider {
	return stdCrypto{}
}

type stdCrypto struct{}

func isDESKey(keyType int32) bool {
	switch keyType {
	case etypeID.DES_CBC_CRC, etypeID.DES_CBC_MD4, etypeID.DES_CBC_MD5:
		return true
	}
	return false
}

func isDES3Key(keyType int32) bool {
	return keyType == etypeID.DES3_CBC_SHA1_KD
}

func blockCipher(key types.EncryptionKey) (cipher.Block, error) {
	switch {
	case isDESKey(key.KeyType):
		return des.NewCipher(key.KeyValue)
	case isDES3Key(key.KeyType):
		return des.NewTripleDESCipher(key.KeyValue)
	}
	return nil, fmt.Errorf("gssapi: no raw cipher for encryption type %d", key.KeyType)
}

func (stdCrypto) EncryptRaw(key types.EncryptionKey, iv, data []byte) ([]byte, error) {
	block, err := blockCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("gssapi: data length %d is not a multiple of the block size", len(data))
	}
	if iv == nil {
		iv = make([]byte, block.BlockSize())
	}

	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv[:block.BlockSize()]).CryptBlocks(out, data)
	return out, nil
}

func (stdCrypto) DecryptRaw(key types.EncryptionKey, iv, data []byte) ([]byte, error) {
	block, err := blockCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("gssapi: data length %d is not a multiple of the block size", len(data))
	}
	if iv == nil {
		iv = make([]byte, block.BlockSize())
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv[:block.BlockSize()]).CryptBlocks(out, data)
	return out, nil
}

func (stdCrypto) Checksum(key types.EncryptionKey, usage uint32, data []byte) ([]byte, error) {
	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return nil, fmt.Errorf("gssapi: %s", err)
	}

	return encType.GetChecksumHash(key.KeyValue, data, usage)
}

func (stdCrypto) MD5(data []byte) []byte {
	h := md5.Sum(data)
	return h[:]
}

func (stdCrypto) Random(b []byte) error {
	_, err := rand.Read(b)
	return err
}
