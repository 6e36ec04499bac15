package domain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/domain"
)

func TestStoreRetrieveClearConsent(t *testing.T) {
	f, store, _ := newTestFrontend(t)
	ctx := context.Background()

	got, err := f.RetrieveConsent(ctx, store, "X123456789")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, f.StoreConsent(ctx, store, "X123456789", domain.NewAuditContext(7, 1, "patient-client")))

	got, err = f.RetrieveConsent(ctx, store, "X123456789")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, f.ClearConsent(ctx, store, "X123456789", domain.NewAuditContext(8, 1, "patient-client")))

	got, err = f.RetrieveConsent(ctx, store, "X123456789")
	require.NoError(t, err)
	assert.Nil(t, got)
}
