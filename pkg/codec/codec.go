// Package codec implements the envelope format used for every encrypted
// column in the storage backend: a versioned, authenticated, compressed
// blob built from AES-256-GCM over a dictionary-compressed plaintext.
//
// Layout (bit-exact): version(1 byte) || iv(12 bytes) || tag(16 bytes) ||
// ciphertext. The AEAD has no associated data. version is currently 1;
// any other leading byte fails decode with a format error.
//
// Grounded on the teacher's pkg/security.SecretsManager (AES-256-GCM
// seal/open with crypto/aes + crypto/cipher + crypto/rand), generalized
// with explicit IV/tag framing and a compression stage so the same
// primitive can be reused for every sensitive column instead of one
// fixed-purpose secret store.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/erprx/datastore/pkg/errs"
)

const (
	// Version is the only blob format version this codec emits or
	// accepts. A future format must bump this and keep decoding old blobs
	// by branching on the leading byte.
	Version byte = 1

	keySize     = 32 // AES-256
	ivSize      = 12 // 96-bit GCM nonce
	tagSize     = 16 // 128-bit GCM authentication tag
	headerSize  = 1 + ivSize + tagSize
	minEncLen   = headerSize
	versionOff  = 0
	ivOff       = 1
	tagOff      = ivOff + ivSize
	cipherOff   = tagOff + tagSize
)

// DictSelector picks the pre-trained compression dictionary a column
// convention uses. The selector is never stored in the blob — callers
// must use the same selector on encode and decode for a given column.
type DictSelector int

const (
	// DictNone disables dictionary compression (e.g. already-compact
	// binary payloads, or signed CAdES blobs where a JSON dictionary
	// would not help).
	DictNone DictSelector = iota
	// DictDefaultJSON is used for JSON domain payloads (Task bundles,
	// Communication payloads, AuditEvent metadata).
	DictDefaultJSON
	// DictDefaultXML is used for XML/CAdES blobs (prescriptions,
	// receipts, ChargeItem signed documents).
	DictDefaultXML
)

// RandReader abstracts the IV source so tests can inject a deterministic
// reader; production code leaves it nil and gets crypto/rand.
type RandReader io.Reader

// Codec encodes and decodes envelope blobs for one compression
// convention. A process normally holds one Codec per dictionary family.
type Codec struct {
	compress   Compressor
	randReader io.Reader
}

// Compressor trains/loads per-selector dictionaries and performs the
// compress/decompress step sandwiched between plaintext and AEAD.
type Compressor interface {
	Compress(plaintext []byte, sel DictSelector) ([]byte, error)
	Decompress(compressed []byte, sel DictSelector) ([]byte, error)
}

// New builds a Codec. randReader is usually nil (crypto/rand.Reader);
// tests pass a seeded reader to make IVs deterministic.
func New(compressor Compressor, randReader io.Reader) *Codec {
	if randReader == nil {
		randReader = rand.Reader
	}
	return &Codec{compress: compressor, randReader: randReader}
}

// Encode compresses plaintext with the given dictionary selector, then
// AEAD-seals it under key with a fresh random IV, and frames the result
// as version || iv || tag || ciphertext.
func (c *Codec) Encode(plaintext []byte, key []byte, sel DictSelector) ([]byte, error) {
	const op = "codec.Encode"
	if len(key) != keySize {
		return nil, errs.New(errs.LogicError, op, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key)))
	}

	compressed, err := c.compress.Compress(plaintext, sel)
	if err != nil {
		return nil, errs.New(errs.CryptoFailure, op, fmt.Errorf("compress: %w", err))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New(errs.CryptoFailure, op, fmt.Errorf("new cipher: %w", err))
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, errs.New(errs.CryptoFailure, op, fmt.Errorf("new gcm: %w", err))
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.randReader, iv); err != nil {
		return nil, errs.New(errs.CryptoFailure, op, fmt.Errorf("generate iv: %w", err))
	}

	// Seal appends ciphertext||tag; we reframe into version||iv||tag||ciphertext below.
	sealed := gcm.Seal(nil, iv, compressed, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, headerSize+len(ciphertext))
	blob = append(blob, Version)
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// Decode reverses Encode: verifies the version, AEAD-opens the blob under
// key, and decompresses the result with sel (which must match the
// selector used on encode).
func (c *Codec) Decode(blob []byte, key []byte, sel DictSelector) ([]byte, error) {
	const op = "codec.Decode"
	if len(key) != keySize {
		return nil, errs.New(errs.LogicError, op, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key)))
	}
	if len(blob) < minEncLen {
		return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("blob too short: %d bytes", len(blob)))
	}
	if blob[versionOff] != Version {
		return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("unknown blob version: %d", blob[versionOff]))
	}

	iv := blob[ivOff:tagOff]
	tag := blob[tagOff:cipherOff]
	ciphertext := blob[cipherOff:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New(errs.CryptoFailure, op, fmt.Errorf("new cipher: %w", err))
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, errs.New(errs.CryptoFailure, op, fmt.Errorf("new gcm: %w", err))
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	compressed, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, errs.New(errs.CryptoFailure, op, fmt.Errorf("aead verify: %w", err))
	}

	plaintext, err := c.compress.Decompress(compressed, sel)
	if err != nil {
		return nil, errs.New(errs.CryptoFailure, op, fmt.Errorf("decompress: %w", err))
	}
	return plaintext, nil
}
