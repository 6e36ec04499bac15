package hsm

import (
	"context"
	"fmt"
	"time"

	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/metrics"
)

// SaltStore is the narrow slice of the storage backend the race protocol
// needs: read-then-maybe-insert access to the account-salt coordination
// table for a (account-hash, purpose, blob-id) row. Passed in by the
// caller on every call so this package never imports pkg/storage.
type SaltStore interface {
	// GetGeneration returns the salt on file for (account, purpose) at
	// exactly blobID, if that row exists yet. The caller always scopes
	// this to the HSM's current latest blob id for purpose, so once the
	// HSM rotates to a new generation, a stale (account, purpose) row at
	// the old blob id no longer satisfies the lookup and a fresh
	// derivation is forced — this is how key rotation takes effect for
	// an account that already has salt on file.
	GetGeneration(ctx context.Context, account []byte, purpose Purpose, blobID BlobID) (gen Generation, ok bool, err error)

	// InsertGeneration attempts to create the first row for
	// (account, purpose, gen.BlobID). If a concurrent writer already won,
	// it returns that winning generation instead and won=false — the
	// "first insert wins" idempotent race protocol from original_source's
	// getOrCreateSalt.
	InsertGeneration(ctx context.Context, account []byte, purpose Purpose, gen Generation) (winner Generation, won bool, err error)
}

// KeyDerivation wraps a raw HSM Client with the higher-level per-purpose
// routines the domain layer calls, including derivation-data assembly and
// the account-salt race protocol for the purposes that share a key across
// many rows.
//
// Grounded on original_source's erp/hsm/KeyDerivation.cxx, which plays
// the identical role over the C++ HsmClient.
type KeyDerivation struct {
	client Client
}

func New(client Client) *KeyDerivation {
	return &KeyDerivation{client: client}
}

// TaskKey derives the persistence key for a freshly created task
// (re-derivation from a stored generation is TaskKeyForGeneration). Tasks own their (blob-id, salt) outright — no other
// writer can see the row before this call returns it — so this is a
// single HSM round trip with no race protocol.
func (kd *KeyDerivation) TaskKey(ctx context.Context, serial uint64, flowType byte, authoredOn time.Time) (key []byte, gen Generation, err error) {
	const op = "hsm.TaskKey"
	data := TaskDerivationData(serial, flowType, authoredOn)
	k, g, err := kd.client.DeriveTaskPersistenceKey(ctx, data, nil)
	if err != nil {
		return nil, Generation{}, errs.New(errs.TransientIO, op, err)
	}
	if g == nil {
		return nil, Generation{}, errs.New(errs.LogicError, op, fmt.Errorf("HSM returned no generation for an initial derivation"))
	}
	metrics.KeyDerivationsTotal.WithLabelValues(PurposeTask.String(), "initial").Inc()
	return k, *g, nil
}

// TaskKeyForGeneration re-derives a task's key from its stored generation
// (read path: the task row already carries blob-id and salt).
func (kd *KeyDerivation) TaskKeyForGeneration(ctx context.Context, serial uint64, flowType byte, authoredOn time.Time, gen Generation) ([]byte, error) {
	const op = "hsm.TaskKeyForGeneration"
	data := TaskDerivationData(serial, flowType, authoredOn)
	k, _, err := kd.client.DeriveTaskPersistenceKey(ctx, data, &gen)
	if err != nil {
		return nil, errs.New(errs.TransientIO, op, err)
	}
	metrics.KeyDerivationsTotal.WithLabelValues(PurposeTask.String(), "subsequent").Inc()
	return k, nil
}

// ChargeItemKey mirrors TaskKey: a ChargeItem owns its own generation,
// derived once at creation.
func (kd *KeyDerivation) ChargeItemKey(ctx context.Context, prescriptionID string) ([]byte, Generation, error) {
	const op = "hsm.ChargeItemKey"
	data := ChargeItemDerivationData(prescriptionID)
	k, g, err := kd.client.DeriveChargeItemPersistenceKey(ctx, data, nil)
	if err != nil {
		return nil, Generation{}, errs.New(errs.TransientIO, op, err)
	}
	if g == nil {
		return nil, Generation{}, errs.New(errs.LogicError, op, fmt.Errorf("HSM returned no generation for an initial derivation"))
	}
	metrics.KeyDerivationsTotal.WithLabelValues(PurposeChargeItem.String(), "initial").Inc()
	return k, *g, nil
}

func (kd *KeyDerivation) ChargeItemKeyForGeneration(ctx context.Context, prescriptionID string, gen Generation) ([]byte, error) {
	const op = "hsm.ChargeItemKeyForGeneration"
	data := ChargeItemDerivationData(prescriptionID)
	k, _, err := kd.client.DeriveChargeItemPersistenceKey(ctx, data, &gen)
	if err != nil {
		return nil, errs.New(errs.TransientIO, op, err)
	}
	metrics.KeyDerivationsTotal.WithLabelValues(PurposeChargeItem.String(), "subsequent").Inc()
	return k, nil
}

// MedicationDispenseKey derives the persistence key shared by every
// MedicationDispense belonging to hashedKvnr, running the account-salt
// race protocol against store. MedicationDispense rows are persisted
// under the same HSM operation as AuditEvent rows (both are append-only
// account logs); only the account-salt row's Purpose tag tells them
// apart, per original_source's KeyDerivation. The returned Generation is
// the one the caller must record on the row it is about to write, so a
// later reader re-derives the identical key.
func (kd *KeyDerivation) MedicationDispenseKey(ctx context.Context, store SaltStore, hashedKvnr []byte) ([]byte, Generation, error) {
	return kd.deriveRace(ctx, store, hashedKvnr, PurposeMedicationDispense, AccountDerivationData(hashedKvnr), kd.client.DeriveAuditLogPersistenceKey)
}

// AuditEventKey derives the persistence key shared by every AuditEvent
// belonging to hashedKvnr.
func (kd *KeyDerivation) AuditEventKey(ctx context.Context, store SaltStore, hashedKvnr []byte) ([]byte, Generation, error) {
	return kd.deriveRace(ctx, store, hashedKvnr, PurposeAuditEvent, AccountDerivationData(hashedKvnr), kd.client.DeriveAuditLogPersistenceKey)
}

// CommunicationKey derives the persistence key shared by every
// Communication addressed to/from identity (a KVNR or TelematikId).
func (kd *KeyDerivation) CommunicationKey(ctx context.Context, store SaltStore, identity string, hashedIdentity []byte) ([]byte, Generation, error) {
	return kd.deriveRace(ctx, store, hashedIdentity, PurposeCommunication, CommunicationDerivationData(identity, hashedIdentity), kd.client.DeriveCommunicationPersistenceKey)
}

// MedicationDispenseKeyForGeneration re-derives a MedicationDispense key
// from a row's already-recorded generation, without touching the
// account-salt race protocol at all. Read paths must use this instead of
// MedicationDispenseKey: the row was encrypted under one specific
// generation, which may no longer be the HSM's current latest (an
// account-salt rotation can have happened since), so re-deriving through
// the race protocol could hand back a different key than the one the
// bytes on disk were sealed with.
func (kd *KeyDerivation) MedicationDispenseKeyForGeneration(ctx context.Context, hashedKvnr []byte, gen Generation) ([]byte, error) {
	const op = "hsm.MedicationDispenseKeyForGeneration"
	k, _, err := kd.client.DeriveAuditLogPersistenceKey(ctx, AccountDerivationData(hashedKvnr), &gen)
	if err != nil {
		return nil, errs.New(errs.TransientIO, op, err)
	}
	metrics.KeyDerivationsTotal.WithLabelValues(PurposeMedicationDispense.String(), "subsequent").Inc()
	return k, nil
}

// AuditEventKeyForGeneration mirrors MedicationDispenseKeyForGeneration
// for AuditEvent rows: re-derives under a generation already on file
// rather than the race protocol's current-latest lookup, for the same
// reason.
func (kd *KeyDerivation) AuditEventKeyForGeneration(ctx context.Context, hashedKvnr []byte, gen Generation) ([]byte, error) {
	const op = "hsm.AuditEventKeyForGeneration"
	k, _, err := kd.client.DeriveAuditLogPersistenceKey(ctx, AccountDerivationData(hashedKvnr), &gen)
	if err != nil {
		return nil, errs.New(errs.TransientIO, op, err)
	}
	metrics.KeyDerivationsTotal.WithLabelValues(PurposeAuditEvent.String(), "subsequent").Inc()
	return k, nil
}

// CommunicationKeyForGeneration mirrors the above for Communication rows.
func (kd *KeyDerivation) CommunicationKeyForGeneration(ctx context.Context, identity string, hashedIdentity []byte, gen Generation) ([]byte, error) {
	const op = "hsm.CommunicationKeyForGeneration"
	k, _, err := kd.client.DeriveCommunicationPersistenceKey(ctx, CommunicationDerivationData(identity, hashedIdentity), &gen)
	if err != nil {
		return nil, errs.New(errs.TransientIO, op, err)
	}
	metrics.KeyDerivationsTotal.WithLabelValues(PurposeCommunication.String(), "subsequent").Inc()
	return k, nil
}

type derivePersistenceKeyFn func(ctx context.Context, derivationData []byte, existing *Generation) (key []byte, gen *Generation, err error)

// deriveRace implements the account-salt coordination protocol shared by
// MedicationDispense, AuditEvent and Communication keys:
//
//  1. Ask the HSM which blob id it currently prefers for purpose.
//  2. Read the (blob-id, salt) generation on file for (account, purpose)
//     scoped to exactly that blob id.
//  3. If one exists, re-derive the key from it directly (subsequent
//     derivation) — no HSM-side state is created.
//  4. If none exists — either a brand new account, or an existing one
//     whose salt predates the HSM's latest blob id — ask the HSM for a
//     fresh generation (initial derivation).
//  5. Attempt to insert that generation as the first row. If another
//     writer raced us and already inserted a different generation, ours
//     is discarded and we re-derive the key from the winning generation
//     instead, so two concurrent first-insert callers always converge on
//     the same key (original_source's getOrCreateSalt race rule).
//
// Scoping step 2's read to the HSM's current latest blob id (rather than
// whatever generation happens to be on file) is what lets an HSM-side
// key rotation actually take effect for accounts that already have salt
// on file, per original_source's DatabaseFrontend::medicationDispenseKey/
// communicationKeyAndId, which call getLatest*PersistenceId() before
// ever touching the account-salt table.
func (kd *KeyDerivation) deriveRace(ctx context.Context, store SaltStore, account []byte, purpose Purpose, data []byte, fn derivePersistenceKeyFn) ([]byte, Generation, error) {
	const op = "hsm.deriveRace"

	latest, err := kd.client.LatestBlobID(ctx, purpose)
	if err != nil {
		return nil, Generation{}, errs.New(errs.TransientIO, op, fmt.Errorf("latest blob id: %w", err))
	}

	existing, ok, err := store.GetGeneration(ctx, account, purpose, latest)
	if err != nil {
		return nil, Generation{}, errs.New(errs.TransientIO, op, fmt.Errorf("read salt: %w", err))
	}
	if ok {
		key, _, err := fn(ctx, data, &existing)
		if err != nil {
			return nil, Generation{}, errs.New(errs.TransientIO, op, fmt.Errorf("subsequent derivation: %w", err))
		}
		metrics.KeyDerivationsTotal.WithLabelValues(purpose.String(), "subsequent").Inc()
		return key, existing, nil
	}

	key, gen, err := fn(ctx, data, nil)
	if err != nil {
		return nil, Generation{}, errs.New(errs.TransientIO, op, fmt.Errorf("initial derivation: %w", err))
	}
	if gen == nil {
		return nil, Generation{}, errs.New(errs.LogicError, op, fmt.Errorf("HSM returned no generation for an initial derivation"))
	}

	winner, won, err := store.InsertGeneration(ctx, account, purpose, *gen)
	if err != nil {
		return nil, Generation{}, errs.New(errs.TransientIO, op, fmt.Errorf("insert salt: %w", err))
	}
	if won {
		metrics.KeyDerivationsTotal.WithLabelValues(purpose.String(), "initial").Inc()
		return key, winner, nil
	}

	// Lost the race: someone else's row is now authoritative. Re-derive
	// under their generation so both callers end up with the same key.
	key, _, err = fn(ctx, data, &winner)
	if err != nil {
		return nil, Generation{}, errs.New(errs.TransientIO, op, fmt.Errorf("post-race derivation: %w", err))
	}
	metrics.KeyDerivationsTotal.WithLabelValues(purpose.String(), "lost-race").Inc()
	return key, winner, nil
}
