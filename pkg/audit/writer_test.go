package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/audit"
	"github.com/erprx/datastore/pkg/codec"
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

func TestAppendWithoutMetadataLeavesBlobIDNil(t *testing.T) {
	store := openStore(t)
	w := audit.New(hsm.New(hsm.NewMemoryClient()), codec.New(codec.NopCompressor{}, nil))

	ev, err := audit.NewEvent([]byte("kvnr-hash"), 1, audit.ActionRead, 2, "device-1")
	require.NoError(t, err)

	require.NoError(t, w.Append(context.Background(), store, ev))

	rows, err := store.ListAuditEvents(context.Background(), []byte("kvnr-hash"), nil, nil, storage.Paging{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "R", rows[0].Action)
	assert.Nil(t, rows[0].BlobID)
}

func TestAppendWithMetadataEncryptsAndRecordsBlobID(t *testing.T) {
	store := openStore(t)
	w := audit.New(hsm.New(hsm.NewMemoryClient()), codec.New(codec.NopCompressor{}, nil))

	ev, err := audit.NewEvent([]byte("kvnr-hash"), 5, audit.ActionUpdate, 2, "device-2")
	require.NoError(t, err)
	ev.WithMetadata([]byte(`{"reason":"dispense"}`))

	require.NoError(t, w.Append(context.Background(), store, ev))

	rows, err := store.ListAuditEvents(context.Background(), []byte("kvnr-hash"), nil, nil, storage.Paging{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].Metadata)
	assert.NotEqual(t, []byte(`{"reason":"dispense"}`), rows[0].Metadata)
	require.NotNil(t, rows[0].BlobID)
}

func TestSecondAuditEventReusesSameGeneration(t *testing.T) {
	store := openStore(t)
	w := audit.New(hsm.New(hsm.NewMemoryClient()), codec.New(codec.NopCompressor{}, nil))

	ev1, err := audit.NewEvent([]byte("kvnr-hash"), 1, audit.ActionCreate, 2, "device-1")
	require.NoError(t, err)
	ev1.WithMetadata([]byte("first"))
	require.NoError(t, w.Append(context.Background(), store, ev1))

	ev2, err := audit.NewEvent([]byte("kvnr-hash"), 2, audit.ActionUpdate, 2, "device-1")
	require.NoError(t, err)
	ev2.WithMetadata([]byte("second"))
	require.NoError(t, w.Append(context.Background(), store, ev2))

	rows, err := store.ListAuditEvents(context.Background(), []byte("kvnr-hash"), nil, nil, storage.Paging{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].BlobID)
	require.NotNil(t, rows[1].BlobID)
	assert.Equal(t, *rows[0].BlobID, *rows[1].BlobID)
}

func TestWithPrescriptionIDIsPersisted(t *testing.T) {
	store := openStore(t)
	w := audit.New(hsm.New(hsm.NewMemoryClient()), codec.New(codec.NopCompressor{}, nil))

	ev, err := audit.NewEvent([]byte("kvnr-hash"), 3, audit.ActionRead, 1, "device-3")
	require.NoError(t, err)
	ev.WithPrescriptionID(42)

	require.NoError(t, w.Append(context.Background(), store, ev))

	rows, err := store.ListAuditEvents(context.Background(), []byte("kvnr-hash"), nil, nil, storage.Paging{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].PrescriptionID)
	assert.Equal(t, uint64(42), *rows[0].PrescriptionID)
}
