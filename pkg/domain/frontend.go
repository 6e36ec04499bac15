// Package domain mediates between plaintext prescription data and the
// encrypted rows pkg/storage persists: it derives keys through pkg/hsm,
// seals/opens columns through pkg/codec, hashes identifiers through
// pkg/hashedid, and appends an audit trail through pkg/audit around every
// call. Nothing downstream of this package ever sees plaintext KVNRs or
// prescription bodies; nothing upstream of it ever sees a Generation or
// an envelope blob.
//
// Grounded on original_source's erp/database/DatabaseFrontend.cxx and
// shared/database/CommonDatabaseFrontend.cxx, which play the identical
// mediating role over the C++ backend.
package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/erprx/datastore/pkg/audit"
	"github.com/erprx/datastore/pkg/codec"
	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/hashedid"
	"github.com/erprx/datastore/pkg/hsm"
	"github.com/erprx/datastore/pkg/storage"
)

// AuditContext carries the fields a caller supplies for the audit row
// that accompanies a domain operation; EventID is the caller's FHIR
// interaction code, AgentType/Observer identify who/what performed it.
// A zero value disables auditing for that call.
type AuditContext struct {
	EventID   int16
	AgentType int16
	Observer  string
	enabled   bool
}

// NewAuditContext builds an enabled AuditContext.
func NewAuditContext(eventID, agentType int16, observer string) AuditContext {
	return AuditContext{EventID: eventID, AgentType: agentType, Observer: observer, enabled: true}
}

// Frontend is the plaintext/encrypted mediator. One Frontend is built per
// process and shared across requests; it holds no per-request state.
type Frontend struct {
	hasher *hashedid.Hasher
	kd     *hsm.KeyDerivation
	codec  *codec.Codec
	audit  *audit.Writer
}

// New builds a Frontend. auditWriter may be nil for callers that don't
// need audit trail wiring (e.g. read-only tooling); production callers
// always supply one per spec's "every mutation is followed by an audit
// insert" rule.
func New(hasher *hashedid.Hasher, kd *hsm.KeyDerivation, c *codec.Codec, auditWriter *audit.Writer) *Frontend {
	return &Frontend{hasher: hasher, kd: kd, codec: c, audit: auditWriter}
}

func (f *Frontend) appendAudit(ctx context.Context, store storage.Store, ac AuditContext, kvnrHashed []byte, prescriptionID *uint64, action byte, metadata []byte) error {
	if f.audit == nil || !ac.enabled {
		return nil
	}
	ev, err := audit.NewEvent(kvnrHashed, ac.EventID, action, ac.AgentType, ac.Observer)
	if err != nil {
		return err
	}
	if prescriptionID != nil {
		ev.WithPrescriptionID(*prescriptionID)
	}
	if len(metadata) > 0 {
		ev.WithMetadata(metadata)
	}
	return f.audit.Append(ctx, store, ev)
}

// encryptColumn seals plaintext under key, returning nil for nil input so
// optional columns round-trip as SQL NULL rather than an empty blob.
func (f *Frontend) encryptColumn(plaintext []byte, key []byte, sel codec.DictSelector) ([]byte, error) {
	if plaintext == nil {
		return nil, nil
	}
	return f.codec.Encode(plaintext, key, sel)
}

func (f *Frontend) decryptColumn(blob []byte, key []byte, sel codec.DictSelector) ([]byte, error) {
	if blob == nil {
		return nil, nil
	}
	return f.codec.Decode(blob, key, sel)
}

// taskKeyForGeneration re-derives the task-owned key (the one used for
// kvnr/prescription/doctor-identity/receipt/pharmacy-identity/owner/
// secret/access-code, per spec's task_key_blob_id column) from a row
// that already carries its generation.
func (f *Frontend) taskKeyForGeneration(ctx context.Context, id dbmodel.PrescriptionID, authoredOn time.Time, row *dbmodel.TaskRow) ([]byte, error) {
	const op = "domain.Frontend.taskKeyForGeneration"
	if row.TaskKeyBlobID == nil {
		return nil, errs.New(errs.LogicError, op, fmt.Errorf("task %s has no key generation on file", id))
	}
	gen := hsm.Generation{BlobID: *row.TaskKeyBlobID, Salt: row.Salt}
	return f.kd.TaskKeyForGeneration(ctx, id.Serial, byte(id.FlowType), authoredOn, gen)
}
