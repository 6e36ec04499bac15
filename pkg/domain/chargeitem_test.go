package domain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/domain"
	"github.com/erprx/datastore/pkg/storage"
)

func TestStoreRetrieveUpdateChargeItem(t *testing.T) {
	f, store, _ := newTestFrontend(t)
	ctx := context.Background()

	id := dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePKV, Serial: 555}
	require.NoError(t, f.StoreChargeItem(ctx, store, id, "pharmacy-1", "X123456789",
		[]byte("flags"), []byte("<signed/>"), []byte("<unsigned/>"), domain.NewAuditContext(10, 2, "pharmacy-client")))

	got, err := f.RetrieveChargeItem(ctx, store, id, domain.NewAuditContext(11, 1, "patient-client"))
	require.NoError(t, err)
	assert.Equal(t, "pharmacy-1", got.Enterer)
	assert.Equal(t, "X123456789", got.Kvnr)
	assert.Equal(t, []byte("<signed/>"), got.SignedPrescription)
	assert.Nil(t, got.SignedDispense)

	require.NoError(t, f.UpdateChargeItem(ctx, store, id, []byte("flags2"), []byte("<dispense/>"), []byte("<dispense-u/>"),
		[]byte("<receipt/>"), []byte("<receipt-u/>"), domain.NewAuditContext(12, 2, "pharmacy-client")))

	got, err = f.RetrieveChargeItem(ctx, store, id, domain.AuditContext{})
	require.NoError(t, err)
	assert.Equal(t, []byte("<dispense/>"), got.SignedDispense)
	assert.Equal(t, []byte("<receipt/>"), got.SignedReceipt)
	assert.Equal(t, "X123456789", got.Kvnr)
}

func TestListAndCountChargeItemsFilterByKvnr(t *testing.T) {
	f, store, _ := newTestFrontend(t)
	ctx := context.Background()

	for i, serial := range []uint64{1, 2} {
		id := dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePKV, Serial: serial}
		enterer := "pharmacy-1"
		if i == 1 {
			enterer = "pharmacy-2"
		}
		require.NoError(t, f.StoreChargeItem(ctx, store, id, enterer, "X123456789",
			[]byte("flags"), []byte("<signed/>"), []byte("<unsigned/>"), domain.AuditContext{}))
	}
	otherID := dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePKV, Serial: 99}
	require.NoError(t, f.StoreChargeItem(ctx, store, otherID, "pharmacy-3", "Y987654321",
		[]byte("flags"), []byte("<signed/>"), []byte("<unsigned/>"), domain.AuditContext{}))

	n, err := f.CountChargeItems(ctx, store, "X123456789")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := f.ListChargeItems(ctx, store, "X123456789", storage.Paging{Limit: 10}, domain.AuditContext{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "X123456789", item.Kvnr)
	}
}

func TestDeleteChargeItemAndClearForKvnr(t *testing.T) {
	f, store, hasher := newTestFrontend(t)
	ctx := context.Background()

	id := dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePKV, Serial: 777}
	require.NoError(t, f.StoreChargeItem(ctx, store, id, "pharmacy-1", "X123456789",
		[]byte("flags"), []byte("<signed/>"), []byte("<unsigned/>"), domain.AuditContext{}))

	kvnrHashed, err := hasher.HashKvnr(ctx, "X123456789")
	require.NoError(t, err)
	require.NoError(t, f.DeleteChargeItem(ctx, store, id, kvnrHashed, domain.NewAuditContext(13, 1, "patient-client")))

	_, err = f.RetrieveChargeItem(ctx, store, id, domain.AuditContext{})
	require.Error(t, err)

	id2 := dbmodel.PrescriptionID{FlowType: dbmodel.FlowTypePKV, Serial: 778}
	require.NoError(t, f.StoreChargeItem(ctx, store, id2, "pharmacy-1", "X123456789",
		[]byte("flags"), []byte("<signed/>"), []byte("<unsigned/>"), domain.AuditContext{}))
	require.NoError(t, f.ClearChargeItemsForKvnr(ctx, store, "X123456789", domain.NewAuditContext(14, 1, "patient-client")))

	n, err := f.CountChargeItems(ctx, store, "X123456789")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
