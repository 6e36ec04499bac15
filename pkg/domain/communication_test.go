package domain_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/domain"
	"github.com/erprx/datastore/pkg/storage"
)

func TestCommunicationDualityBothEndpointsReadSameMessage(t *testing.T) {
	f, store, _ := newTestFrontend(t)
	ctx := context.Background()

	message := []byte("please dispense at pharmacy X")
	id, err := f.InsertCommunication(ctx, store, 1, "X123456789", "3-01.2.2023001.16.103", nil, message, nil, domain.AuditContext{})
	require.NoError(t, err)
	assert.NotEqual(t, [16]byte{}, id)

	asSender, err := f.RetrieveCommunication(ctx, store, "X123456789", nil, storage.Paging{Limit: 10}, domain.AuditContext{})
	require.NoError(t, err)
	require.Len(t, asSender, 1)
	assert.Equal(t, message, asSender[0].Message)

	asRecipient, err := f.RetrieveCommunication(ctx, store, "3-01.2.2023001.16.103", nil, storage.Paging{Limit: 10}, domain.AuditContext{})
	require.NoError(t, err)
	require.Len(t, asRecipient, 1)
	assert.Equal(t, message, asRecipient[0].Message)
	require.NotNil(t, asRecipient[0].Received)
}

func TestCommunicationReceivedTimestampFreezesOnFirstRecipientRead(t *testing.T) {
	f, store, _ := newTestFrontend(t)
	ctx := context.Background()

	_, err := f.InsertCommunication(ctx, store, 1, "X123456789", "3-01.2.2023001.16.103", nil, []byte("hi"), nil, domain.AuditContext{})
	require.NoError(t, err)

	first, err := f.RetrieveCommunication(ctx, store, "3-01.2.2023001.16.103", nil, storage.Paging{Limit: 10}, domain.AuditContext{})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NotNil(t, first[0].Received)
	firstReceived := *first[0].Received

	second, err := f.RetrieveCommunication(ctx, store, "3-01.2.2023001.16.103", nil, storage.Paging{Limit: 10}, domain.AuditContext{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.NotNil(t, second[0].Received)
	assert.Equal(t, firstReceived, *second[0].Received)
}

func TestCommunicationExistsCountAndIDs(t *testing.T) {
	f, store, _ := newTestFrontend(t)
	ctx := context.Background()

	id, err := f.InsertCommunication(ctx, store, 1, "X123456789", "3-01.2.2023001.16.103", nil, []byte("hi"), nil, domain.AuditContext{})
	require.NoError(t, err)

	exists, err := f.CommunicationExists(ctx, store, [16]byte(id))
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := f.CountCommunications(ctx, store, "X123456789")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err := f.RetrieveCommunicationIDs(ctx, store, "X123456789")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, id, ids[0])
}

func TestDeleteCommunicationRemovesIt(t *testing.T) {
	f, store, _ := newTestFrontend(t)
	ctx := context.Background()

	id, err := f.InsertCommunication(ctx, store, 1, "X123456789", "3-01.2.2023001.16.103", nil, []byte("hi"), nil, domain.AuditContext{})
	require.NoError(t, err)

	require.NoError(t, f.DeleteCommunication(ctx, store, uuid.UUID(id), "X123456789", domain.NewAuditContext(9, 1, "patient-client")))

	exists, err := f.CommunicationExists(ctx, store, [16]byte(id))
	require.NoError(t, err)
	assert.False(t, exists)
}
