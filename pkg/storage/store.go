// Package storage owns the SQL schema, transactions and per-purpose
// tables described in spec.md §4.4/§6, and exposes typed CRUD over
// *encrypted* rows only — it never sees plaintext domain values, that
// translation belongs to pkg/domain.
//
// Grounded on the teacher's pkg/storage.Store interface (typed CRUD
// methods returning (*T, error) plus a Close() error) and its doc.go's
// documented CRUD idioms (upsert pattern, idempotent deletes, error
// wrapping with fmt.Errorf("op failed: %w", err)), generalized from an
// embedded bbolt store to a transactional Postgres backend per
// original_source's PostgresBackend/PostgresBackendTask.
package storage

import (
	"context"
	"time"

	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/hsm"
)

// Paging carries the offset/limit a list operation should apply. When
// OverFetch is true the backend fetches Limit+1 rows so the caller can
// answer has-more without a second count query (spec.md §4.4).
type Paging struct {
	Offset    int
	Limit     int
	OverFetch bool
}

// Store is one transaction's worth of encrypted-row CRUD. A caller
// acquires a Store per request, performs one or more operations, and
// calls Commit or Close exactly once; every operation after either is a
// LogicError.
type Store interface {
	// Task CRUD.
	CreateTask(ctx context.Context, flowType dbmodel.FlowType) (prescriptionID uint64, authoredOn time.Time, err error)
	SetAccessCode(ctx context.Context, id dbmodel.PrescriptionID, accessCode []byte) error
	SetTaskKey(ctx context.Context, id dbmodel.PrescriptionID, blobID hsm.BlobID, salt []byte) error
	ActivateTask(ctx context.Context, id dbmodel.PrescriptionID, row dbmodel.TaskRow) error
	UpdateStatusAndSecret(ctx context.Context, id dbmodel.PrescriptionID, status dbmodel.TaskStatus, secret []byte) error
	UpdateReceipt(ctx context.Context, id dbmodel.PrescriptionID, receipt []byte) error
	UpdateMedicationDispense(ctx context.Context, id dbmodel.PrescriptionID, bundle []byte, blobID hsm.BlobID, salt []byte, performer []byte, whenHandedOver, whenPrepared time.Time) error
	CloseMedicationDispense(ctx context.Context, id dbmodel.PrescriptionID, receipt []byte) error
	DeleteMedicationDispense(ctx context.Context, id dbmodel.PrescriptionID) error
	ClearPersonalData(ctx context.Context, id dbmodel.PrescriptionID) error
	RetrieveTask(ctx context.Context, id dbmodel.PrescriptionID) (*dbmodel.TaskRow, error)
	RetrieveTaskForUpdate(ctx context.Context, id dbmodel.PrescriptionID) (*dbmodel.TaskRow, error)
	RetrieveTasksByKvnrHash(ctx context.Context, kvnrHash []byte, paging Paging) ([]dbmodel.TaskRow, error)
	DeleteTask(ctx context.Context, id dbmodel.PrescriptionID) error

	// Communication CRUD.
	InsertCommunication(ctx context.Context, row dbmodel.CommunicationRow) error
	CommunicationExists(ctx context.Context, id [16]byte) (bool, error)
	CountCommunications(ctx context.Context, identityHash []byte) (int, error)
	RetrieveCommunication(ctx context.Context, identityHash []byte, id *[16]byte, paging Paging) ([]dbmodel.CommunicationRow, error)
	RetrieveCommunicationIDs(ctx context.Context, identityHash []byte) ([][16]byte, error)
	DeleteCommunication(ctx context.Context, id [16]byte, senderHash []byte) error
	MarkRetrieved(ctx context.Context, id [16]byte, at time.Time) error
	DeleteCommunicationsForTask(ctx context.Context, prescriptionID uint64) error
	DeleteCommunicationsForChargeItem(ctx context.Context, prescriptionID uint64) error
	DeleteChargeItemCommunicationsForKvnr(ctx context.Context, kvnrHash []byte) error

	// MedicationDispense read (stored inline on the task row; this lists
	// across tasks for a given account).
	ListMedicationDispenses(ctx context.Context, kvnrHash []byte, prescriptionID *uint64, paging Paging) ([]dbmodel.TaskRow, error)

	// Audit.
	AppendAuditEvent(ctx context.Context, row dbmodel.AuditEventRow) error
	ListAuditEvents(ctx context.Context, kvnrHash []byte, id *[16]byte, prescriptionID *uint64, paging Paging) ([]dbmodel.AuditEventRow, error)

	// ChargeItem (PKV only; callers must check FlowType.RequirePKV first).
	StoreChargeItem(ctx context.Context, row dbmodel.ChargeItemRow) error
	UpdateChargeItem(ctx context.Context, row dbmodel.ChargeItemRow) error
	RetrieveChargeItem(ctx context.Context, prescriptionID uint64) (*dbmodel.ChargeItemRow, error)
	ListChargeItems(ctx context.Context, kvnrHash []byte, paging Paging) ([]dbmodel.ChargeItemRow, error)
	CountChargeItems(ctx context.Context, kvnrHash []byte) (int, error)
	DeleteChargeItem(ctx context.Context, prescriptionID uint64) error
	ClearChargeItemsForKvnr(ctx context.Context, kvnrHash []byte) error

	// Consent.
	StoreConsent(ctx context.Context, row dbmodel.ConsentRow) error
	RetrieveConsentCreationTime(ctx context.Context, kvnrHash []byte) (*time.Time, error)
	ClearConsent(ctx context.Context, kvnrHash []byte) error

	// Salt & CMAC idempotent upserts — Store itself satisfies
	// hsm.SaltStore so a KeyDerivation can be driven directly off one.
	hsm.SaltStore
	GetCmac(ctx context.Context, validDate time.Time, category string) ([]byte, bool, error)
	InsertCmac(ctx context.Context, validDate time.Time, category string, cmac []byte) (winner []byte, won bool, err error)

	// Maintenance.
	SchemaVersion(ctx context.Context) (int, error)
	Healthcheck(ctx context.Context) error
	IsBlobUsed(ctx context.Context, purpose hsm.Purpose, blobID hsm.BlobID) (bool, error)

	// Transaction lifecycle. Both are idempotent w.r.t. double-invocation
	// within one instance; any operation after either returns LogicError.
	Commit(ctx context.Context) error
	Close(ctx context.Context) error
}

// Backend opens one Store per request, pool-acquiring one connection for
// its duration (spec.md §5).
type Backend interface {
	Begin(ctx context.Context) (Store, error)
	Close() error
}
