// Package hsm specifies the set of operations the core invokes on the
// hardware security module and implements the higher-level key-derivation
// routines (including the concurrent-insert salt-coordination race
// protocol) built on top of them. The HSM itself is out of scope; this
// package only owns the Client contract and the derivation logic that
// consumes it.
//
// Grounded on original_source's erp/hsm/KeyDerivation.cxx for the
// derivation-data layouts and the initial/subsequent derivation split,
// and on the pack's HSMProvider interface
// (other_examples/.../custody/ports/out/hsm_provider.go) for the idiom of
// specifying an HSM boundary as a narrow Go interface with typed
// request/response structs.
//
// A production Client talks to hardware over a session that can drop;
// reconnection there is expected to use github.com/cenkalti/backoff/v4,
// the same retry helper pkg/storage uses for its initial Postgres
// connect. That client lives outside this module — Client is a contract,
// not an implementation — so this package imports no HSM transport.
package hsm

import (
	"context"
	"encoding/binary"
	"time"
)

// Purpose identifies which HSM key-derivation operation and which
// derivation-data layout applies.
type Purpose int

const (
	PurposeTask Purpose = iota
	PurposeMedicationDispense
	PurposeAuditEvent
	PurposeCommunication
	PurposeChargeItem
)

func (p Purpose) String() string {
	switch p {
	case PurposeTask:
		return "task"
	case PurposeMedicationDispense:
		return "medicationDispense"
	case PurposeAuditEvent:
		return "auditEvent"
	case PurposeCommunication:
		return "communication"
	case PurposeChargeItem:
		return "chargeItem"
	default:
		return "unknown"
	}
}

// BlobID refers to a generation of a master key held by the HSM.
// Monotonically non-decreasing over time.
type BlobID int32

// Generation is the (blob-id, salt) pair returned by an initial
// derivation and required as input by the matching subsequent one.
type Generation struct {
	BlobID BlobID
	Salt   []byte
}

// Client is the set of HSM operations the core actually invokes. A
// production implementation talks to the HSM over its session protocol;
// tests use the in-memory fake in memory.go.
type Client interface {
	DeriveTaskPersistenceKey(ctx context.Context, derivationData []byte, existing *Generation) (key []byte, gen *Generation, err error)
	DeriveAuditLogPersistenceKey(ctx context.Context, derivationData []byte, existing *Generation) (key []byte, gen *Generation, err error)
	DeriveCommunicationPersistenceKey(ctx context.Context, derivationData []byte, existing *Generation) (key []byte, gen *Generation, err error)
	DeriveChargeItemPersistenceKey(ctx context.Context, derivationData []byte, existing *Generation) (key []byte, gen *Generation, err error)

	// LatestBlobID returns the generation the HSM currently prefers for
	// new derivations of the given purpose.
	LatestBlobID(ctx context.Context, purpose Purpose) (BlobID, error)

	KvnrHmacKey(ctx context.Context) ([]byte, error)
	TelematikIdHmacKey(ctx context.Context) ([]byte, error)

	// Cmac returns the 256-bit VAU-tunnel key for (validDate, category),
	// generating one on first use for that (date, category) pair.
	Cmac(ctx context.Context, validDate time.Time, category string) ([]byte, error)
}

// TaskDerivationData assembles the bytes fed to HKDF inside the HSM for a
// Task key: big-endian u64 serial ‖ 1-byte flow-type ‖ big-endian i64
// seconds-since-epoch(authored-on). Verbatim layout from
// original_source's KeyDerivation::taskKeyDerivationData.
func TaskDerivationData(serial uint64, flowType byte, authoredOn time.Time) []byte {
	buf := make([]byte, 8+1+8)
	binary.BigEndian.PutUint64(buf[0:8], serial)
	buf[8] = flowType
	binary.BigEndian.PutUint64(buf[9:17], uint64(authoredOn.UTC().Unix()))
	return buf
}

// AccountDerivationData is the derivation data for MedicationDispense and
// AuditEvent keys: the raw hashed-KVNR bytes.
func AccountDerivationData(hashedKvnr []byte) []byte {
	out := make([]byte, len(hashedKvnr))
	copy(out, hashedKvnr)
	return out
}

// CommunicationDerivationData concatenates the plaintext identity with
// its hash, per original_source's communicationKeyDerivationData.
func CommunicationDerivationData(identity string, hashedIdentity []byte) []byte {
	out := make([]byte, 0, len(identity)+len(hashedIdentity))
	out = append(out, []byte(identity)...)
	out = append(out, hashedIdentity...)
	return out
}

// ChargeItemDerivationData is the UTF-8 prescription-id string.
func ChargeItemDerivationData(prescriptionID string) []byte {
	return []byte(prescriptionID)
}
