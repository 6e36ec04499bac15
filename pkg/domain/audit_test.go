package domain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/audit"
	"github.com/erprx/datastore/pkg/codec"
	"github.com/erprx/datastore/pkg/domain"
	"github.com/erprx/datastore/pkg/hashedid"
	"github.com/erprx/datastore/pkg/hsm"
	"github.com/erprx/datastore/pkg/storage"
)

func TestRetrieveAuditEventsDecryptsMetadataAndReusesGeneration(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	store, err := backend.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	client := hsm.NewMemoryClient()
	hasher := hashedid.New(client)
	kd := hsm.New(client)
	c := codec.New(codec.NopCompressor{}, nil)
	w := audit.New(kd, c)
	f := domain.New(hasher, kd, c, w)

	kvnrHashed, err := hasher.HashKvnr(ctx, "X123456789")
	require.NoError(t, err)

	ev1, err := audit.NewEvent(kvnrHashed, 1, audit.ActionCreate, 2, "device-1")
	require.NoError(t, err)
	ev1.WithMetadata([]byte(`{"reason":"first"}`))
	require.NoError(t, w.Append(ctx, store, ev1))

	ev2, err := audit.NewEvent(kvnrHashed, 2, audit.ActionUpdate, 2, "device-1")
	require.NoError(t, err)
	ev2.WithMetadata([]byte(`{"reason":"second"}`))
	require.NoError(t, w.Append(ctx, store, ev2))

	ev3, err := audit.NewEvent(kvnrHashed, 3, audit.ActionRead, 2, "device-1")
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, store, ev3))

	events, err := f.RetrieveAuditEvents(ctx, store, "X123456789", nil, nil, storage.Paging{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, []byte(`{"reason":"first"}`), events[0].Metadata)
	assert.Equal(t, []byte(`{"reason":"second"}`), events[1].Metadata)
	assert.Nil(t, events[2].Metadata)
	assert.Equal(t, byte('R'), events[2].Action)
}
