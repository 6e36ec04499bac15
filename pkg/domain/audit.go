package domain

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/erprx/datastore/pkg/codec"
	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/hsm"
	"github.com/erprx/datastore/pkg/storage"
)

// AuditEvent is the plaintext view of one audit row. Metadata is nil for
// rows that were appended without any (a bare C/R/U/D marker with no
// decryptable payload).
type AuditEvent struct {
	ID             uuid.UUID
	EventID        int16
	Action         byte
	AgentType      int16
	Observer       string
	PrescriptionID *uint64
	Metadata       []byte
}

// RetrieveAuditEvents lists the audit trail for kvnr, decrypting each
// row's metadata (when present). Keys are re-derived at most once per
// distinct blob-id encountered across the result set: rows sharing one
// account-salt generation only cause one derivation, mirroring
// original_source's retrieveAuditEventData, which keeps a
// std::map<BlobId, SafeString> of keys already derived for the same
// reason.
func (f *Frontend) RetrieveAuditEvents(ctx context.Context, store storage.Store, kvnr string, id *uuid.UUID, prescriptionID *uint64, paging storage.Paging) ([]AuditEvent, error) {
	const op = "domain.Frontend.RetrieveAuditEvents"

	kvnrHashed, err := f.hasher.HashKvnr(ctx, kvnr)
	if err != nil {
		return nil, err
	}
	var rawID *[16]byte
	if id != nil {
		b := [16]byte(*id)
		rawID = &b
	}
	rows, err := store.ListAuditEvents(ctx, kvnrHashed, rawID, prescriptionID, paging)
	if err != nil {
		return nil, err
	}

	keysByBlobID := make(map[hsm.BlobID][]byte)
	keyForBlobID := func(blobID hsm.BlobID) ([]byte, error) {
		if key, ok := keysByBlobID[blobID]; ok {
			return key, nil
		}
		gen, ok, err := store.GetGeneration(ctx, kvnrHashed, hsm.PurposeAuditEvent, blobID)
		if err != nil {
			return nil, errs.New(errs.TransientIO, op, fmt.Errorf("read generation for blob id %d: %w", blobID, err))
		}
		if !ok {
			return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("no salt on file for blob id %d", blobID))
		}
		key, err := f.kd.AuditEventKeyForGeneration(ctx, kvnrHashed, gen)
		if err != nil {
			return nil, err
		}
		keysByBlobID[blobID] = key
		return key, nil
	}

	out := make([]AuditEvent, 0, len(rows))
	for _, row := range rows {
		ev := AuditEvent{
			ID:             uuid.UUID(row.ID),
			EventID:        row.EventID,
			AgentType:      row.AgentType,
			Observer:       row.DeviceID,
			PrescriptionID: row.PrescriptionID,
		}
		if len(row.Action) > 0 {
			ev.Action = row.Action[0]
		}

		if len(row.Metadata) > 0 {
			if row.BlobID == nil {
				return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("audit event %x has metadata but no blob id", row.ID))
			}
			key, err := keyForBlobID(*row.BlobID)
			if err != nil {
				return nil, err
			}
			ev.Metadata, err = f.decryptColumn(row.Metadata, key, codec.DictDefaultJSON)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, nil
}
