package hashedid_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/hashedid"
	"github.com/erprx/datastore/pkg/hsm"
)

func TestHashKvnrDeterministic(t *testing.T) {
	h := hashedid.New(hsm.NewMemoryClient())

	a, err := h.HashKvnr(context.Background(), "X123456789")
	require.NoError(t, err)
	b, err := h.HashKvnr(context.Background(), "X123456789")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashKvnrDiffersByInput(t *testing.T) {
	h := hashedid.New(hsm.NewMemoryClient())

	a, err := h.HashKvnr(context.Background(), "X123456789")
	require.NoError(t, err)
	b, err := h.HashKvnr(context.Background(), "X987654321")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHashIdentityDispatchesOnDot(t *testing.T) {
	h := hashedid.New(hsm.NewMemoryClient())

	kvnrHash, err := h.HashIdentity(context.Background(), "X123456789")
	require.NoError(t, err)
	direct, err := h.HashKvnr(context.Background(), "X123456789")
	require.NoError(t, err)
	assert.Equal(t, direct, kvnrHash)

	telematikHash, err := h.HashIdentity(context.Background(), "3-01.2.2023001.16.103")
	require.NoError(t, err)
	directTelematik, err := h.HashTelematikId(context.Background(), "3-01.2.2023001.16.103")
	require.NoError(t, err)
	assert.Equal(t, directTelematik, telematikHash)
	assert.NotEqual(t, kvnrHash, telematikHash)
}
