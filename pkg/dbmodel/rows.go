package dbmodel

import (
	"time"

	"github.com/erprx/datastore/pkg/hsm"
)

// BlobID aliases hsm.BlobID so callers can refer to it without importing
// hsm directly.
type BlobID = hsm.BlobID

// TaskRow mirrors one row of a task_<flowtype> table column-for-column
// (spec.md §6). Every *bytea encrypted* column is the raw envelope blob
// from pkg/codec; nil means the column is SQL NULL.
//
// sqlx struct tags give every column its snake_case SQL name, the
// convention the teacher's (and the rest of the pack's) sqlx-based
// structs use.
type TaskRow struct {
	PrescriptionID uint64    `db:"prescription_id"`
	FlowType       FlowType  `db:"-"` // implied by which task_<flowtype> table the row came from
	KvnrHashed     []byte    `db:"kvnr_hashed"`
	Kvnr           []byte    `db:"kvnr"`
	AuthoredOn     time.Time `db:"authored_on"`
	LastModified   time.Time `db:"last_modified"`
	LastStatusUpdate time.Time `db:"last_status_update"`
	Status         TaskStatus `db:"status"`
	ExpiryDate     *time.Time `db:"expiry_date"`
	AcceptDate     *time.Time `db:"accept_date"`

	TaskKeyBlobID *BlobID `db:"task_key_blob_id"`
	Salt          []byte  `db:"salt"`

	AccessCode                    []byte `db:"access_code"`
	Secret                        []byte `db:"secret"`
	Owner                         []byte `db:"owner"`
	HealthcareProviderPrescription []byte `db:"healthcare_provider_prescription"`
	DoctorIdentity                []byte `db:"doctor_identity"`
	Receipt                       []byte `db:"receipt"`
	PharmacyIdentity              []byte `db:"pharmacy_identity"`

	MedicationDispenseBundle []byte  `db:"medication_dispense_bundle"`
	MedicationDispenseBlobID *BlobID `db:"medication_dispense_blob_id"`
	MedicationDispenseSalt   []byte  `db:"medication_dispense_salt"`

	Performer           []byte     `db:"performer"`
	WhenHandedOver      *time.Time `db:"when_handed_over"`
	WhenPrepared        *time.Time `db:"when_prepared"`
	LastMedicationDispense *time.Time `db:"last_medication_dispense"`
}

// CommunicationRow mirrors the communication table.
type CommunicationRow struct {
	ID               [16]byte  `db:"id"` // suuid
	MessageType      int       `db:"message_type"`
	Sender           []byte    `db:"sender"`
	Recipient        []byte    `db:"recipient"`
	Received         *time.Time `db:"received"`
	PrescriptionID   *uint64   `db:"prescription_id"`
	PrescriptionType *FlowType `db:"prescription_type"`

	SenderBlobID        *BlobID `db:"sender_blob_id"`
	MessageForSender    []byte  `db:"message_for_sender"`
	RecipientBlobID     *BlobID `db:"recipient_blob_id"`
	MessageForRecipient []byte  `db:"message_for_recipient"`
}

// AuditEventRow mirrors the auditevent table.
type AuditEventRow struct {
	ID             [16]byte `db:"id"` // suuid
	EventID        int16    `db:"event_id"`
	Action         string   `db:"action"` // single-character C/R/U/D
	AgentType      int16    `db:"agent_type"`
	DeviceID       string   `db:"observer"`
	PrescriptionID *uint64  `db:"prescription_id"`
	KvnrHashed     []byte   `db:"kvnr_hash"`
	Metadata       []byte   `db:"metadata"`
	BlobID         *BlobID  `db:"blob_id"`
}

// ChargeItemRow mirrors the charge_item table (PKV flow-types only). The
// physical table is not partitioned by flow-type the way task_<flowtype>
// tables are, so FlowType is a genuine stored column rather than implied
// by table choice — ChargeItem key derivation data is keyed by the full
// "<flowtype>-<serial>" prescription id string, so the flow-type must
// survive the round trip through storage.
type ChargeItemRow struct {
	PrescriptionID uint64    `db:"prescription_id"`
	FlowType       FlowType  `db:"flow_type"`
	EnteredDate    time.Time `db:"entered_date"`
	LastModified   time.Time `db:"last_modified"`

	BlobID *BlobID `db:"blob_id"`
	Salt   []byte  `db:"salt"`

	Enterer            []byte `db:"enterer"`
	KvnrHashed          []byte `db:"kvnr_hashed"`
	Kvnr                []byte `db:"kvnr"`
	AccessCode          []byte `db:"access_code"`
	MarkingFlags        []byte `db:"marking_flags"`
	SignedPrescription  []byte `db:"signed_prescription"`
	UnsignedPrescription []byte `db:"unsigned_prescription"`
	SignedDispense      []byte `db:"signed_dispense"`
	UnsignedDispense    []byte `db:"unsigned_dispense"`
	SignedReceipt       []byte `db:"signed_receipt"`
	UnsignedReceipt     []byte `db:"unsigned_receipt"`
}

// ConsentRow mirrors the consent table. At most one row per kvnr-hash.
type ConsentRow struct {
	KvnrHashed []byte    `db:"kvnr_hash"`
	CreatedAt  time.Time `db:"creation_time"`
}

// AccountSaltRow mirrors the account table: the idempotent
// (account-hash, purpose, blob-id) -> salt coordination primitive C2
// depends on.
type AccountSaltRow struct {
	AccountHash []byte     `db:"account_id"`
	Purpose     hsm.Purpose `db:"master_key_type"`
	BlobID      BlobID     `db:"blob_id"`
	Salt        []byte     `db:"salt"`
}

// CmacRow mirrors the vau_cmac table: the idempotent (valid-date,
// category) -> cmac primitive used by the external VAU tunnel component.
type CmacRow struct {
	ValidDate time.Time `db:"valid_date"`
	Category  string    `db:"cmac_type"`
	Cmac      []byte     `db:"cmac"`
}
