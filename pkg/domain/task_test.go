package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/audit"
	"github.com/erprx/datastore/pkg/codec"
	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/domain"
	"github.com/erprx/datastore/pkg/hashedid"
	"github.com/erprx/datastore/pkg/hsm"
	"github.com/erprx/datastore/pkg/storage"
)

func newTestFrontend(t *testing.T) (*domain.Frontend, storage.Store, *hashedid.Hasher) {
	t.Helper()
	backend := storage.NewMemoryBackend()
	store, err := backend.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	client := hsm.NewMemoryClient()
	hasher := hashedid.New(client)
	kd := hsm.New(client)
	c := codec.New(codec.NopCompressor{}, nil)
	w := audit.New(kd, c)
	return domain.New(hasher, kd, c, w), store, hasher
}

func TestStoreThenActivateThenRetrieveTask(t *testing.T) {
	f, store, _ := newTestFrontend(t)
	ctx := context.Background()

	task, accessCode, err := f.StoreTask(ctx, store, dbmodel.FlowTypePharmacyOnly)
	require.NoError(t, err)
	assert.NotEmpty(t, accessCode)
	assert.Equal(t, dbmodel.TaskStatusDraft, task.Status)

	doctor := domain.AccessTokenIdentity{TelematikID: "1-2.3.4.doctor", Name: "Dr. House", OID: "1.2.276.0.76.4.30"}
	prescription := []byte("<Bundle>signed</Bundle>")
	expiry := time.Now().Add(28 * 24 * time.Hour).UTC()
	err = f.ActivateTask(ctx, store, task.ID, "X123456789", prescription, doctor, &expiry, nil,
		domain.NewAuditContext(1, 2, "doctor-client"))
	require.NoError(t, err)

	got, err := f.RetrieveTaskAndPrescriptionAndReceipt(ctx, store, task.ID, domain.NewAuditContext(2, 2, "pharmacy-client"))
	require.NoError(t, err)
	assert.Equal(t, dbmodel.TaskStatusReady, got.Status)
	assert.Equal(t, "X123456789", got.Kvnr)
	assert.Equal(t, prescription, got.Prescription)
	require.NotNil(t, got.DoctorIdentity)
	assert.Equal(t, doctor, *got.DoctorIdentity)
}

func TestCancelledTaskHidesPersonalFieldsAndSkipsKeyDerivation(t *testing.T) {
	f, store, _ := newTestFrontend(t)
	ctx := context.Background()

	task, _, err := f.StoreTask(ctx, store, dbmodel.FlowTypePharmacyOnly)
	require.NoError(t, err)

	doctor := domain.AccessTokenIdentity{TelematikID: "1-2.3.4.doctor"}
	err = f.ActivateTask(ctx, store, task.ID, "X123456789", []byte("rx"), doctor, nil, nil, domain.AuditContext{})
	require.NoError(t, err)

	require.NoError(t, f.CancelTask(ctx, store, task.ID, domain.AuditContext{}))

	got, err := f.RetrieveTaskAndPrescriptionAndReceipt(ctx, store, task.ID, domain.AuditContext{})
	require.NoError(t, err)
	assert.Equal(t, dbmodel.TaskStatusCancelled, got.Status)
	assert.Empty(t, got.Kvnr)
	assert.Nil(t, got.Prescription)
}

func TestUpdateTaskMedicationDispenseUsesKvnrDerivedKey(t *testing.T) {
	f, store, hasher := newTestFrontend(t)
	ctx := context.Background()

	task, _, err := f.StoreTask(ctx, store, dbmodel.FlowTypePharmacyOnly)
	require.NoError(t, err)
	doctor := domain.AccessTokenIdentity{TelematikID: "1-2.3.4.doctor"}
	require.NoError(t, f.ActivateTask(ctx, store, task.ID, "X123456789", []byte("rx"), doctor, nil, nil, domain.AuditContext{}))

	kvnrHashed, err := hasher.HashKvnr(ctx, "X123456789")
	require.NoError(t, err)

	bundle := []byte(`{"resourceType":"Bundle"}`)
	now := time.Now().UTC()
	err = f.UpdateTaskMedicationDispense(ctx, store, task.ID, kvnrHashed, bundle, "pharmacy-1", now, now, domain.NewAuditContext(3, 2, "pharmacy-client"))
	require.NoError(t, err)

	got, err := f.RetrieveTaskAndPrescriptionAndReceipt(ctx, store, task.ID, domain.AuditContext{})
	require.NoError(t, err)
	assert.Equal(t, bundle, got.MedicationDispenseBundle)
	assert.Equal(t, "pharmacy-1", got.Performer)
}

func TestAcceptThenCompleteTaskDrivesStatusToCompleted(t *testing.T) {
	f, store, _ := newTestFrontend(t)
	ctx := context.Background()

	task, _, err := f.StoreTask(ctx, store, dbmodel.FlowTypePharmacyOnly)
	require.NoError(t, err)
	doctor := domain.AccessTokenIdentity{TelematikID: "1-2.3.4.doctor"}
	require.NoError(t, f.ActivateTask(ctx, store, task.ID, "X123456789", []byte("rx"), doctor, nil, nil, domain.AuditContext{}))

	secret, err := f.AcceptTask(ctx, store, task.ID, domain.NewAuditContext(4, 3, "pharmacy-client"))
	require.NoError(t, err)
	assert.NotEmpty(t, secret)

	got, err := f.RetrieveTaskAndPrescriptionAndReceipt(ctx, store, task.ID, domain.AuditContext{})
	require.NoError(t, err)
	assert.Equal(t, dbmodel.TaskStatusInProgress, got.Status)
	assert.Equal(t, secret, got.Secret)

	receipt := []byte("<Bundle>receipt</Bundle>")
	require.NoError(t, f.CompleteTask(ctx, store, task.ID, receipt, domain.NewAuditContext(5, 3, "pharmacy-client")))

	got, err = f.RetrieveTaskAndPrescriptionAndReceipt(ctx, store, task.ID, domain.AuditContext{})
	require.NoError(t, err)
	assert.Equal(t, dbmodel.TaskStatusCompleted, got.Status)
	assert.Equal(t, receipt, got.Receipt)
}

func TestRetrieveTasksByKvnrHashDecryptsEachRow(t *testing.T) {
	f, store, hasher := newTestFrontend(t)
	ctx := context.Background()

	doctor := domain.AccessTokenIdentity{TelematikID: "1-2.3.4.doctor"}
	for i := 0; i < 2; i++ {
		task, _, err := f.StoreTask(ctx, store, dbmodel.FlowTypePharmacyOnly)
		require.NoError(t, err)
		require.NoError(t, f.ActivateTask(ctx, store, task.ID, "X123456789", []byte("rx"), doctor, nil, nil, domain.AuditContext{}))
	}

	kvnrHashed, err := hasher.HashKvnr(ctx, "X123456789")
	require.NoError(t, err)

	tasks, err := f.RetrieveTasksByKvnrHash(ctx, store, kvnrHashed, storage.Paging{Limit: 10}, domain.AuditContext{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, tk := range tasks {
		assert.Equal(t, "X123456789", tk.Kvnr)
	}
}

func TestDeleteTaskRemovesRow(t *testing.T) {
	f, store, _ := newTestFrontend(t)
	ctx := context.Background()

	task, _, err := f.StoreTask(ctx, store, dbmodel.FlowTypePharmacyOnly)
	require.NoError(t, err)

	require.NoError(t, f.DeleteTask(ctx, store, task.ID, domain.NewAuditContext(6, 1, "operator")))

	_, err = f.RetrieveTaskAndPrescriptionAndReceipt(ctx, store, task.ID, domain.AuditContext{})
	require.Error(t, err)
}
