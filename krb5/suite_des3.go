// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"fmt"

	"github.com/jcmturner/gokrb5/v8/types"
)

// des3Format is RFC 1964 with triple DES keys, draft-raeburn-cat-gssapi-krb5-3des:
// HMAC SHA1 DES3 KD signatures (SGN_ALG 4) and DES3 CBC sealing (SEAL_ALG 2).  The
// sequence number and the sealed data are encrypted with the key as is.
var des3Format = &legacyFormat{
	name:     "DES3",
	sgnAlg:   [2]byte{0x04, 0x00},
	sealAlg:  [2]byte{0x02, 0x00},
	cksumLen: 20,
	checksum: des3Checksum,
	sealKey:  func(key types.EncryptionKey) types.EncryptionKey { return key },
}

func des3Checksum(p *Protection, prefix, data []byte) ([]byte, error) {
	buf := make([]byte, 0, len(prefix)+len(data))
	buf = append(buf, prefix...)
	buf = append(buf, data...)

	cksum, err := p.Crypto.Checksum(p.Key, usageSign, buf)
	if err != nil {
		return nil, err
	}
	if len(cksum) < 20 {
		return nil, fmt.Errorf("gssapi: DES3 checksum is only %d bytes", len(cksum))
	}
	return cksum[:20], nil
}

type des3Suite struct{}

func (des3Suite) GetMIC(p *Protection, msg []byte) ([]byte, error) {
	return des3Format.getMIC(p, msg)
}

func (des3Suite) VerifyMIC(p *Protection, msg, tok []byte) error {
	return des3Format.verifyMIC(p, msg, tok)
}

func (des3Suite) VerifyDeleteToken(p *Protection, tok []byte) error {
	return des3Format.verifyDelete(p, tok)
}

func (des3Suite) Wrap(p *Protection, msg []byte, conf bool) ([]byte, error) {
	return des3Format.wrap(p, msg, conf)
}

func (des3Suite) Unwrap(p *Protection, tok []byte) ([]byte, bool, error) {
	return des3Format.unwrap(p, tok)
}

func (des3Suite) WrapSizeLimit(p *Protection, conf bool, maxOut uint) uint {
	return des3Format.wrapSizeLimit(maxOut)
}
