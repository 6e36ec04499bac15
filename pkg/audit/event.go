// Package audit writes the append-only audit trail every mutation of
// patient-facing data must produce: one row per access, carrying the
// affected KVNR hash, prescription id, event kind, C/R/U/D action,
// agent type, device id, and optionally encrypted metadata.
//
// Grounded on spec.md §4.7 for the wire/storage shape, and on
// kubernaut's pkg/audit.AuditEvent for the constructor-with-defaults
// idiom (NewEvent auto-fills the time-prefixed ID, which also carries the
// event's timestamp, rather than requiring a bare struct literal every
// call site).
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/suuid"
)

// Event is the in-process, pre-encryption representation of one audit
// entry. Metadata is plaintext here; Writer.Append encrypts it before
// persisting.
type Event struct {
	ID             uuid.UUID
	EventID        int16
	Action         byte // one of 'C', 'R', 'U', 'D'
	AgentType      int16
	Observer       string
	PrescriptionID *uint64
	KvnrHashed     []byte
	Metadata       []byte
}

// Action kinds, per spec.md §4.7.
const (
	ActionCreate byte = 'C'
	ActionRead   byte = 'R'
	ActionUpdate byte = 'U'
	ActionDelete byte = 'D'
)

// NewEvent builds an Event with an auto-generated time-prefixed id.
// kvnrHashed, eventID, action, agentType and observer are the fields
// spec.md §4.7 requires on every row; PrescriptionID and Metadata are
// optional and set via WithPrescriptionID/WithMetadata.
func NewEvent(kvnrHashed []byte, eventID int16, action byte, agentType int16, observer string) (*Event, error) {
	const op = "audit.NewEvent"
	id, err := suuid.New(time.Now())
	if err != nil {
		return nil, errs.New(errs.InternalServerError, op, err)
	}
	return &Event{
		ID:         id,
		EventID:    eventID,
		Action:     action,
		AgentType:  agentType,
		Observer:   observer,
		KvnrHashed: kvnrHashed,
	}, nil
}

// WithPrescriptionID attaches the prescription this event concerns.
func (e *Event) WithPrescriptionID(id uint64) *Event {
	e.PrescriptionID = &id
	return e
}

// WithMetadata attaches plaintext metadata; Writer.Append encrypts it
// before the row is persisted.
func (e *Event) WithMetadata(metadata []byte) *Event {
	e.Metadata = metadata
	return e
}
