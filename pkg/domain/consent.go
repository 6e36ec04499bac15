package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/erprx/datastore/pkg/audit"
	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/storage"
)

// Consent has no encrypted payload at all — it is a bare kvnr-hash plus
// a creation timestamp, so these methods hash and pass through without
// ever touching pkg/hsm or pkg/codec. Grounded on original_source's
// DatabaseFrontend::storeConsent/retrieveConsent/clearConsent.

// StoreConsent records that kvnr has given consent, stamped with the
// current time.
func (f *Frontend) StoreConsent(ctx context.Context, store storage.Store, kvnr string, ac AuditContext) error {
	const op = "domain.Frontend.StoreConsent"
	kvnrHashed, err := f.hasher.HashKvnr(ctx, kvnr)
	if err != nil {
		return err
	}
	row := dbmodel.ConsentRow{KvnrHashed: kvnrHashed, CreatedAt: time.Now().UTC()}
	if err := store.StoreConsent(ctx, row); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("store consent: %w", err))
	}
	return f.appendAudit(ctx, store, ac, kvnrHashed, nil, audit.ActionCreate, nil)
}

// RetrieveConsent reports whether kvnr has given consent and, if so,
// when.
func (f *Frontend) RetrieveConsent(ctx context.Context, store storage.Store, kvnr string) (*time.Time, error) {
	kvnrHashed, err := f.hasher.HashKvnr(ctx, kvnr)
	if err != nil {
		return nil, err
	}
	return store.RetrieveConsentCreationTime(ctx, kvnrHashed)
}

// ClearConsent withdraws kvnr's consent.
func (f *Frontend) ClearConsent(ctx context.Context, store storage.Store, kvnr string, ac AuditContext) error {
	const op = "domain.Frontend.ClearConsent"
	kvnrHashed, err := f.hasher.HashKvnr(ctx, kvnr)
	if err != nil {
		return err
	}
	if err := store.ClearConsent(ctx, kvnrHashed); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("clear consent: %w", err))
	}
	return f.appendAudit(ctx, store, ac, kvnrHashed, nil, audit.ActionDelete, nil)
}
