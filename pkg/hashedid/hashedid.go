// Package hashedid computes the deterministic, one-way HMAC-SHA256 hashes
// used for the indexed identifier columns (KVNR, TelematikId) so the
// storage backend can look rows up by identifier without ever holding
// the identifier in plaintext.
//
// Grounded on original_source's KeyDerivation::hashKvnr /
// hashTelematikId / hashIdentity, and on the teacher's
// pkg/security.SecretsManager for the idiom of wrapping a raw hash
// primitive behind a small typed manager that lazily loads its key.
package hashedid

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"

	"github.com/erprx/datastore/pkg/errs"
)

// KeySource supplies the two HMAC keys from the HSM. Implemented by
// hsm.Client; declared narrowly here so this package doesn't import hsm.
type KeySource interface {
	KvnrHmacKey(ctx context.Context) ([]byte, error)
	TelematikIdHmacKey(ctx context.Context) ([]byte, error)
}

// Hasher computes hashed identifiers, caching each HMAC key after its
// first use. A process holds exactly one Hasher.
type Hasher struct {
	keys KeySource

	mu          sync.Mutex
	kvnrKey     []byte
	telematikKey []byte
}

func New(keys KeySource) *Hasher {
	return &Hasher{keys: keys}
}

func (h *Hasher) loadKvnrKey(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.kvnrKey != nil {
		return h.kvnrKey, nil
	}
	k, err := h.keys.KvnrHmacKey(ctx)
	if err != nil {
		return nil, err
	}
	h.kvnrKey = k
	return k, nil
}

func (h *Hasher) loadTelematikKey(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.telematikKey != nil {
		return h.telematikKey, nil
	}
	k, err := h.keys.TelematikIdHmacKey(ctx)
	if err != nil {
		return nil, err
	}
	h.telematikKey = k
	return k, nil
}

// HashKvnr returns HMAC-SHA256(kvnrKey, kvnr).
func (h *Hasher) HashKvnr(ctx context.Context, kvnr string) ([]byte, error) {
	const op = "hashedid.HashKvnr"
	key, err := h.loadKvnrKey(ctx)
	if err != nil {
		return nil, errs.New(errs.TransientIO, op, fmt.Errorf("load kvnr hmac key: %w", err))
	}
	return hmacSum(key, kvnr), nil
}

// HashTelematikId returns HMAC-SHA256(telematikKey, telematikId).
func (h *Hasher) HashTelematikId(ctx context.Context, telematikID string) ([]byte, error) {
	const op = "hashedid.HashTelematikId"
	key, err := h.loadTelematikKey(ctx)
	if err != nil {
		return nil, errs.New(errs.TransientIO, op, fmt.Errorf("load telematik hmac key: %w", err))
	}
	return hmacSum(key, telematikID), nil
}

// HashIdentity dispatches to the right hash for a Communication
// endpoint: a TelematikId contains a structural dot (e.g. an LEI
// "3-01.2.2023001.16.103"), a KVNR never does. This mirrors
// original_source's hashIdentity structural predicate rather than
// requiring the caller to know which kind of identity it holds.
func (h *Hasher) HashIdentity(ctx context.Context, identity string) ([]byte, error) {
	if strings.Contains(identity, ".") {
		return h.HashTelematikId(ctx, identity)
	}
	return h.HashKvnr(ctx, identity)
}

func hmacSum(key []byte, value string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return mac.Sum(nil)
}
