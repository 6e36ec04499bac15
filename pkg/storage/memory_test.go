package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/hsm"
	"github.com/erprx/datastore/pkg/storage"
)

func openStore(t *testing.T) storage.Store {
	t.Helper()
	backend := storage.NewMemoryBackend()
	store, err := backend.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

// TestCreateActivateRetrieveTask covers scenario S1: creating a task,
// activating it with encrypted content, and retrieving it back.
func TestCreateActivateRetrieveTask(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	serial, authoredOn, err := store.CreateTask(ctx, dbmodel.FlowTypePharmacyOnly)
	require.NoError(t, err)
	require.NotZero(t, serial)

	id := dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePharmacyOnly, Serial: serial}

	draft, err := store.RetrieveTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dbmodel.TaskStatusDraft, draft.Status)
	assert.WithinDuration(t, authoredOn, draft.AuthoredOn, time.Second)

	blobID := hsm.BlobID(1)
	err = store.ActivateTask(ctx, id, dbmodel.TaskRow{
		KvnrHashed:                     []byte("kvnr-hash"),
		TaskKeyBlobID:                  &blobID,
		Salt:                           []byte("salt"),
		HealthcareProviderPrescription: []byte("encrypted-hcpp"),
	})
	require.NoError(t, err)

	active, err := store.RetrieveTaskForUpdate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dbmodel.TaskStatusReady, active.Status)
	assert.Equal(t, []byte("encrypted-hcpp"), active.HealthcareProviderPrescription)
	assert.Equal(t, []byte("kvnr-hash"), active.KvnrHashed)
}

// TestRetrieveTaskNotFound ensures an unknown prescription ID surfaces
// as NotFound, not a zero-value row.
func TestRetrieveTaskNotFound(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_, err := store.RetrieveTask(ctx, dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePharmacyOnly, Serial: 999})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

// TestOperationAfterCloseIsLogicError enforces the "any op after
// Commit/Close is a programming error" contract.
func TestOperationAfterCloseIsLogicError(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	store, err := backend.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Close(ctx))

	_, _, err = store.CreateTask(ctx, dbmodel.FlowTypePharmacyOnly)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LogicError))
}

// TestClearPersonalDataWipesEncryptedColumns covers scenario S5:
// cancelling a task must clear every encrypted column while preserving
// the identity/status trail.
func TestClearPersonalDataWipesEncryptedColumns(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	serial, _, err := store.CreateTask(ctx, dbmodel.FlowTypePharmacyOnly)
	require.NoError(t, err)
	id := dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePharmacyOnly, Serial: serial}

	blobID := hsm.BlobID(7)
	require.NoError(t, store.ActivateTask(ctx, id, dbmodel.TaskRow{
		KvnrHashed:                     []byte("kvnr-hash"),
		TaskKeyBlobID:                  &blobID,
		Salt:                           []byte("salt"),
		HealthcareProviderPrescription: []byte("encrypted-hcpp"),
	}))

	require.NoError(t, store.ClearPersonalData(ctx, id))

	cleared, err := store.RetrieveTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dbmodel.TaskStatusCancelled, cleared.Status)
	assert.Nil(t, cleared.HealthcareProviderPrescription)
	assert.Nil(t, cleared.KvnrHashed)
	assert.Nil(t, cleared.TaskKeyBlobID)
	assert.Equal(t, serial, cleared.PrescriptionID)
}

// TestIllegalStatusTransitionRejected covers the TaskStatus transition
// DAG: completing a still-draft task must be rejected.
func TestIllegalStatusTransitionRejected(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	serial, _, err := store.CreateTask(ctx, dbmodel.FlowTypePharmacyOnly)
	require.NoError(t, err)
	id := dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePharmacyOnly, Serial: serial}

	err = store.UpdateReceipt(ctx, id, []byte("receipt"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LogicError))
}

// TestRetrieveTasksByKvnrHashPaging covers scenario S4: listing a
// kvnr-hash's tasks applies offset/limit and an over-fetched row
// signals more results remain.
func TestRetrieveTasksByKvnrHashPaging(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	const kvnrHash = "kvnr-hash-paging"
	for i := 0; i < 5; i++ {
		serial, _, err := store.CreateTask(ctx, dbmodel.FlowTypePharmacyOnly)
		require.NoError(t, err)
		id := dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePharmacyOnly, Serial: serial}
		require.NoError(t, store.ActivateTask(ctx, id, dbmodel.TaskRow{KvnrHashed: []byte(kvnrHash)}))
	}

	page, err := store.RetrieveTasksByKvnrHash(ctx, []byte(kvnrHash), storage.Paging{Offset: 0, Limit: 2, OverFetch: true})
	require.NoError(t, err)
	assert.Len(t, page, 3) // limit+1 rows signal more remain

	last, err := store.RetrieveTasksByKvnrHash(ctx, []byte(kvnrHash), storage.Paging{Offset: 4, Limit: 2, OverFetch: true})
	require.NoError(t, err)
	assert.Len(t, last, 1) // only one row left, no more-rows signal
}

// TestChargeItemRoundTrip covers scenario S6's storage half: ChargeItem
// rows can be stored, updated and retrieved; RequirePKV itself is
// enforced by the caller, not by Store (see DESIGN.md).
func TestChargeItemRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	blobID := hsm.BlobID(3)
	row := dbmodel.ChargeItemRow{
		PrescriptionID: 12345,
		EnteredDate:    time.Now().UTC(),
		BlobID:         &blobID,
		Salt:           []byte("salt"),
		Kvnr:           []byte("kvnr-hash"),
		MarkingFlags:   []byte("encrypted-flags"),
	}
	require.NoError(t, store.StoreChargeItem(ctx, row))

	row.MarkingFlags = []byte("updated-flags")
	require.NoError(t, store.UpdateChargeItem(ctx, row))

	got, err := store.RetrieveChargeItem(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, []byte("updated-flags"), got.MarkingFlags)
}

// TestAccountSaltIdempotentInsert exercises the Store-level half of the
// C2 race protocol: InsertGeneration is first-insert-wins for a given
// (account, purpose, blob-id), but a later generation at a *different*
// blob id (e.g. after an HSM-side key rotation) is not a conflict at all
// — it coexists as its own row, since the unique key is the full triple.
func TestAccountSaltIdempotentInsert(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	account := []byte("account-hash")
	first, won, err := store.InsertGeneration(ctx, account, hsm.PurposeAuditEvent, hsm.Generation{BlobID: 1, Salt: []byte("salt-a")})
	require.NoError(t, err)
	assert.True(t, won)

	// A concurrent caller racing to insert the same generation loses and
	// reads back the winner's salt instead of its own.
	second, won, err := store.InsertGeneration(ctx, account, hsm.PurposeAuditEvent, hsm.Generation{BlobID: 1, Salt: []byte("salt-b")})
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, first, second)

	gen, ok, err := store.GetGeneration(ctx, account, hsm.PurposeAuditEvent, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, gen)

	// A rotated generation at a new blob id is its own row, and the
	// original generation stays retrievable at its own blob id.
	third, won, err := store.InsertGeneration(ctx, account, hsm.PurposeAuditEvent, hsm.Generation{BlobID: 2, Salt: []byte("salt-c")})
	require.NoError(t, err)
	assert.True(t, won)
	assert.NotEqual(t, first.Salt, third.Salt)

	rotated, ok, err := store.GetGeneration(ctx, account, hsm.PurposeAuditEvent, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, third, rotated)

	stillFirst, ok, err := store.GetGeneration(ctx, account, hsm.PurposeAuditEvent, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, stillFirst)
}

// TestIsBlobUsedScansAllTables ensures blob-usage lookup covers task,
// account-salt, and audit rows alike.
func TestIsBlobUsedScansAllTables(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	used, err := store.IsBlobUsed(ctx, hsm.PurposeTask, hsm.BlobID(42))
	require.NoError(t, err)
	assert.False(t, used)

	serial, _, err := store.CreateTask(ctx, dbmodel.FlowTypePharmacyOnly)
	require.NoError(t, err)
	id := dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePharmacyOnly, Serial: serial}
	blobID := hsm.BlobID(42)
	require.NoError(t, store.ActivateTask(ctx, id, dbmodel.TaskRow{TaskKeyBlobID: &blobID}))

	used, err = store.IsBlobUsed(ctx, hsm.PurposeTask, hsm.BlobID(42))
	require.NoError(t, err)
	assert.True(t, used)

	_, _, err = store.InsertGeneration(ctx, []byte("account"), hsm.PurposeAuditEvent, hsm.Generation{BlobID: 43, Salt: []byte("salt")})
	require.NoError(t, err)
	used, err = store.IsBlobUsed(ctx, hsm.PurposeAuditEvent, hsm.BlobID(43))
	require.NoError(t, err)
	assert.True(t, used)

	auditBlobID := hsm.BlobID(44)
	require.NoError(t, store.AppendAuditEvent(ctx, dbmodel.AuditEventRow{ID: [16]byte{4, 4}, BlobID: &auditBlobID}))
	used, err = store.IsBlobUsed(ctx, hsm.PurposeAuditEvent, auditBlobID)
	require.NoError(t, err)
	assert.True(t, used)
}

// TestDeleteTaskCascadesCommunications covers spec.md §9's cascade:
// deleting a task must also delete its associated communications.
func TestDeleteTaskCascadesCommunications(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	serial, _, err := store.CreateTask(ctx, dbmodel.FlowTypePharmacyOnly)
	require.NoError(t, err)
	id := dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePharmacyOnly, Serial: serial}

	commID := [16]byte{1, 2, 3}
	require.NoError(t, store.InsertCommunication(ctx, dbmodel.CommunicationRow{
		ID:             commID,
		Sender:         []byte("sender-hash"),
		PrescriptionID: &serial,
	}))

	exists, err := store.CommunicationExists(ctx, commID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.DeleteTask(ctx, id))

	exists, err = store.CommunicationExists(ctx, commID)
	require.NoError(t, err)
	assert.False(t, exists)
}
