package audit

import (
	"context"
	"fmt"

	"github.com/erprx/datastore/pkg/codec"
	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/hsm"
	"github.com/erprx/datastore/pkg/metrics"
	"github.com/erprx/datastore/pkg/storage"
)

// Writer appends audit rows, owning the account-salt coordination for
// audit keys (spec.md §4.7's "writer owns the salt-coordination for
// audit keys via the C2 race protocol").
//
// Grounded on kubernaut's pkg/audit write path for the one-call-does-it
// idiom, and on original_source's audit log writer for the
// derive-then-encrypt-then-persist sequence.
type Writer struct {
	kd    *hsm.KeyDerivation
	codec *codec.Codec
}

// New builds a Writer. kd and codec are used only when an Event carries
// metadata; an Event without metadata is persisted with a nil BlobID.
func New(kd *hsm.KeyDerivation, c *codec.Codec) *Writer {
	return &Writer{kd: kd, codec: c}
}

// Append persists ev as one audit row within store's transaction. If ev
// carries metadata it is encrypted under the account's audit key first;
// the key is derived (or re-derived) via the C2 race protocol, and the
// committed generation's BlobID is recorded on the row so a later reader
// can re-derive the same key.
func (w *Writer) Append(ctx context.Context, store storage.Store, ev *Event) error {
	const op = "audit.Writer.Append"

	row := dbmodel.AuditEventRow{
		ID:             [16]byte(ev.ID),
		EventID:        ev.EventID,
		Action:         string(ev.Action),
		AgentType:      ev.AgentType,
		DeviceID:       ev.Observer,
		PrescriptionID: ev.PrescriptionID,
		KvnrHashed:     ev.KvnrHashed,
	}

	if len(ev.Metadata) > 0 {
		key, gen, err := w.kd.AuditEventKey(ctx, store, ev.KvnrHashed)
		if err != nil {
			return errs.New(errs.TransientIO, op, fmt.Errorf("derive audit key: %w", err))
		}
		encrypted, err := w.codec.Encode(ev.Metadata, key, codec.DictDefaultJSON)
		if err != nil {
			return errs.New(errs.CryptoFailure, op, fmt.Errorf("encrypt metadata: %w", err))
		}
		row.Metadata = encrypted
		row.BlobID = &gen.BlobID
	}

	if err := store.AppendAuditEvent(ctx, row); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("append audit row: %w", err))
	}
	metrics.AuditEventsTotal.WithLabelValues(string(ev.Action)).Inc()
	return nil
}
