/*
Package storage provides Postgres-backed persistence for encrypted
prescription, communication, audit, and charge-item rows.

The storage package implements the Store interface over PostgreSQL via
pgx/sqlx, providing one transaction per request across the five
flow-type-partitioned task tables plus communication, auditevent,
charge_item, consent, account, and vau_cmac. Every column Store touches
is already encrypted (or a plaintext index column such as kvnr_hashed);
this package never sees plaintext clinical data, that translation
belongs to pkg/domain.

# Architecture

	┌─────────────────── POSTGRES STORAGE ─────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            PostgresBackend                   │          │
	│  │  - DSN-configured *sqlx.DB connection pool   │          │
	│  │  - Driver: jackc/pgx/v5/stdlib               │          │
	│  │  - Begin() opens one *sqlx.Tx per request    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Table Structure                  │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ task_160, task_162, task_169│             │          │
	│  │  │ task_200, task_209 (PKV)     │             │          │
	│  │  │ communication                │             │          │
	│  │  │ auditevent                   │             │          │
	│  │  │ charge_item   (PKV only)     │             │          │
	│  │  │ consent                      │             │          │
	│  │  │ account       (salt coord.)  │             │          │
	│  │  │ vau_cmac                     │             │          │
	│  │  └────────────────────────────┘             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - pgStore wraps exactly one *sqlx.Tx        │          │
	│  │  - Commit/Close idempotent, both set closed  │          │
	│  │  - Any op after either returns LogicError    │          │
	│  │  - FOR UPDATE on read-then-mutate paths      │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

A second, map-backed implementation of the same Store interface lives
in memory.go: MemoryBackend/memStore. It exists for tests that need
deterministic storage without a live database — pkg/domain's suite runs
against it exclusively. Both backends are exercised by the same
behavioral expectations; neither is a privileged reference.

# Core Components

PostgresBackend:
  - Implements Backend, opening pgStore transactions against one pool
  - One process per component instance, pool sized by maxOpenConns
  - Table selection for Task rows goes through taskTableName, keeping
    the flow-type-to-table mapping in one place (tasktable.go)

pgStore:
  - Implements Store over a single *sqlx.Tx
  - guard(op) rejects any call once committed or closed (LogicError)
  - execExpectingOneRow turns a zero-rows-affected UPDATE/DELETE into
    NotFound, distinguishing "nothing to do" from "row vanished"
  - applyPaging[T] is the generic OverFetch helper used once SQL results
    from all five task tables have been merged and sorted

MemoryBackend / memStore:
  - Implements the identical Store interface over plain Go maps plus one
    mutex, for use in tests
  - accountKey/cmacKey compose the same (account, purpose, blob-id) /
    (date, category) idempotency keys the Postgres account and vau_cmac tables
    enforce via unique constraints

# CRUD Operations

Task Operations:

CreateTask:
  - Allocates the next serial for the flow-type's table via a
    per-backend sequence, returns (prescriptionID, authoredOn)
  - Row starts in TaskStatusDraft; ActivateTask later fills in the
    encrypted columns and transitions to TaskStatusReady

RetrieveTask / RetrieveTaskForUpdate:
  - Both route through retrieveTask; the latter appends FOR UPDATE so a
    subsequent status transition in the same transaction is race-free

RetrieveTasksByKvnrHash:
  - Fans out across all five task_<flowtype> tables, merges, sorts by
    authored_on, then applies Paging in Go via applyPaging

DeleteTask:
  - Cascades into DeleteCommunicationsForTask per spec.md §9
  - Idempotent: deleting an already-deleted prescription ID is a no-op,
    not NotFound (mirrors the teacher's idempotent-delete convention)

Communication / Audit / ChargeItem / Consent Operations:
  - Same upsert-or-insert, idempotent-delete shape as Task, scaled down
    to each table's narrower column set (see rows.go for exact columns)

Account Salt & CMAC Operations:

GetGeneration / InsertGeneration:
  - Implement hsm.SaltStore: read is scoped to the exact (account_id,
    master_key_type, blob_id) the caller asks for — always the HSM's
    current latest blob id for that purpose, never a bare "most recent
    row on file" — so an HSM-side key rotation is visible the next time
    an account's key is derived. Insert is ON CONFLICT (account_id,
    master_key_type, blob_id) DO NOTHING with a read-back so the losing
    side of a race learns the generation the winner actually persisted

GetCmac / InsertCmac:
  - Same idempotent-insert-or-read-back shape, keyed by (valid_date,
    cmac_type) instead of (account_id, master_key_type, blob_id)

# Usage

Creating a Backend:

	backend, err := storage.OpenPostgresBackend(ctx, dsn, 10)
	if err != nil {
		log.Fatal(err)
	}
	defer backend.Close()

Per-request transaction:

	store, err := backend.Begin(ctx)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	id, authoredOn, err := store.CreateTask(ctx, dbmodel.FlowTypePharmacyOnly)
	if err != nil {
		return err
	}
	return store.Commit(ctx)

Tests against the in-memory double:

	backend := storage.NewMemoryBackend()
	store, _ := backend.Begin(ctx)
	defer store.Close(ctx)
	// exercise Store exactly as a caller against Postgres would

# Integration Points

This package integrates with:

  - pkg/hsm: Store embeds hsm.SaltStore so a KeyDerivation can drive
    account-salt coordination directly off a transaction
  - pkg/dbmodel: every row type, FlowType, TaskStatus, and
    PrescriptionID this package returns or accepts
  - pkg/domain: the only caller that decrypts/encrypts the columns this
    package treats as opaque bytea
  - pkg/search: UrlArguments compiles to the WHERE/ORDER BY/paging
    fragments the List* methods apply

# Design Patterns

Idempotent Upserts:
  - Account-salt and CMAC inserts use ON CONFLICT DO NOTHING plus a
    read-back, so two concurrent first-derivations agree on one winner
  - See pkg/hsm's KeyDerivation.deriveRace for the caller-side protocol
    this pattern exists to support

Idempotent Deletes:
  - Delete returns no error if the row doesn't exist
  - Safe to call multiple times, matches cascading deletes across
    Task/Communication/ChargeItem

Guard Pattern:
  - Every Store method begins by calling guard(op), which returns
    LogicError once Commit or Close has run
  - Makes "transaction already finished" a programming error, not a
    retryable condition

Over-fetch Paging:
  - List operations that support Paging.OverFetch fetch limit+1 rows so
    the caller can answer has-more without a second COUNT query

# Troubleshooting

Common Issues:

Serialization Failures:
  - Symptom: pgx reports a serialization or deadlock error on Commit
  - Cause: concurrent transactions racing on the same account-salt or
    CMAC row outside the ON CONFLICT path
  - Solution: retry the whole transaction; the race protocol is
    designed to be safe to retry

LogicError on Commit/Close:
  - Symptom: Store method returns errs.LogicError after a prior Commit
  - Cause: caller reused a Store past its transaction's lifetime
  - Solution: acquire a fresh Store per request via Backend.Begin

# See Also

  - pkg/hsm for the account-salt race protocol this package's
    GetGeneration/InsertGeneration pair implements
  - pkg/dbmodel for row and enum definitions
  - pkg/domain for the plaintext-facing layer built on top of Store
*/
package storage
