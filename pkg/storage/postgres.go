package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/hsm"
	"github.com/erprx/datastore/pkg/metrics"
)

// PostgresBackend opens one *sqlx.Tx-backed Store per request against a
// pgx-driven connection pool.
//
// Grounded on other_examples' jordigilh-kubernaut datastorage server,
// which wires `_ "github.com/jackc/pgx/v5/stdlib"` under
// `github.com/jmoiron/sqlx` over a plain `database/sql` handle; this is
// the same combination, adapted to a per-request transactional Store
// instead of a long-lived repository.
type PostgresBackend struct {
	db *sqlx.DB
}

// OpenPostgresBackend connects to dsn and bounds the pool the way
// spec.md §5 describes: one connection held per request for the duration
// of its transaction. The initial connect retries with exponential
// backoff, since a fresh deployment's database can take a few seconds
// longer to accept connections than the process takes to start.
func OpenPostgresBackend(ctx context.Context, dsn string, maxOpenConns int) (*PostgresBackend, error) {
	const op = "storage.OpenPostgresBackend"

	var db *sqlx.DB
	connect := func() error {
		var err error
		db, err = sqlx.ConnectContext(ctx, "pgx", dsn)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, errs.New(errs.TransientIO, op, fmt.Errorf("connect: %w", err))
	}
	db.SetMaxOpenConns(maxOpenConns)
	return &PostgresBackend{db: db}, nil
}

func (b *PostgresBackend) Begin(ctx context.Context) (Store, error) {
	const op = "storage.Begin"
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errs.New(errs.TransientIO, op, fmt.Errorf("begin tx: %w", err))
	}
	return &pgStore{tx: tx}, nil
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*PostgresBackend)(nil)

// pgStore is one transaction's worth of encrypted-row CRUD. Mirrors the
// teacher's BoltStore CRUD idioms (doc.go's "Upsert Pattern", "Idempotent
// Deletes", error wrapping with fmt.Errorf("op failed: %w", err)) over a
// *sqlx.Tx instead of a bbolt bucket cursor.
type pgStore struct {
	tx        *sqlx.Tx
	committed bool
	closed    bool
}

func (s *pgStore) guard(op string) error {
	if s.committed || s.closed {
		return errs.New(errs.LogicError, op, fmt.Errorf("operation after commit/close"))
	}
	return nil
}

func (s *pgStore) Commit(_ context.Context) error {
	const op = "storage.Commit"
	if s.committed || s.closed {
		return nil // idempotent
	}
	if err := s.tx.Commit(); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("commit: %w", err))
	}
	s.committed = true
	return nil
}

func (s *pgStore) Close(_ context.Context) error {
	const op = "storage.Close"
	if s.committed || s.closed {
		return nil // idempotent
	}
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errs.New(errs.TransientIO, op, fmt.Errorf("rollback: %w", err))
	}
	s.closed = true
	return nil
}

// --- Task CRUD ---

func (s *pgStore) CreateTask(ctx context.Context, flowType dbmodel.FlowType) (uint64, time.Time, error) {
	const op = "storage.CreateTask"
	if err := s.guard(op); err != nil {
		return 0, time.Time{}, err
	}
	table, err := taskTableName(flowType)
	if err != nil {
		return 0, time.Time{}, err
	}

	query := fmt.Sprintf(`INSERT INTO %s (authored_on, last_modified, last_status_update, status)
		VALUES (now(), now(), now(), $1) RETURNING prescription_id, authored_on`, table)

	var id uint64
	var authoredOn time.Time
	if err := s.tx.QueryRowxContext(ctx, query, dbmodel.TaskStatusDraft).Scan(&id, &authoredOn); err != nil {
		return 0, time.Time{}, errs.New(errs.TransientIO, op, fmt.Errorf("insert task: %w", err))
	}
	return id, authoredOn, nil
}

func (s *pgStore) SetAccessCode(ctx context.Context, id dbmodel.PrescriptionID, accessCode []byte) error {
	const op = "storage.SetAccessCode"
	if err := s.guard(op); err != nil {
		return err
	}
	table, err := taskTableName(id.FlowType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET access_code = $1, last_modified = now() WHERE prescription_id = $2`, table)
	return s.execExpectingOneRow(ctx, op, query, accessCode, id.Serial)
}

func (s *pgStore) SetTaskKey(ctx context.Context, id dbmodel.PrescriptionID, blobID hsm.BlobID, salt []byte) error {
	const op = "storage.SetTaskKey"
	if err := s.guard(op); err != nil {
		return err
	}
	table, err := taskTableName(id.FlowType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET task_key_blob_id = $1, salt = $2, last_modified = now() WHERE prescription_id = $3`, table)
	return s.execExpectingOneRow(ctx, op, query, blobID, salt, id.Serial)
}

func (s *pgStore) ActivateTask(ctx context.Context, id dbmodel.PrescriptionID, row dbmodel.TaskRow) error {
	const op = "storage.ActivateTask"
	if err := s.guard(op); err != nil {
		return err
	}
	table, err := taskTableName(id.FlowType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET
			status = $1, kvnr_hashed = $2, kvnr = $3,
			task_key_blob_id = $4, salt = $5,
			healthcare_provider_prescription = $6, doctor_identity = $7,
			expiry_date = $8, accept_date = $9,
			last_modified = now(), last_status_update = now()
		WHERE prescription_id = $10`, table)
	return s.execExpectingOneRow(ctx, op, query,
		dbmodel.TaskStatusReady, row.KvnrHashed, row.Kvnr,
		row.TaskKeyBlobID, row.Salt,
		row.HealthcareProviderPrescription, row.DoctorIdentity,
		row.ExpiryDate, row.AcceptDate,
		id.Serial)
}

func (s *pgStore) UpdateStatusAndSecret(ctx context.Context, id dbmodel.PrescriptionID, status dbmodel.TaskStatus, secret []byte) error {
	const op = "storage.UpdateStatusAndSecret"
	if err := s.guard(op); err != nil {
		return err
	}
	table, err := taskTableName(id.FlowType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $1, secret = $2, last_modified = now(), last_status_update = now() WHERE prescription_id = $3`, table)
	return s.execExpectingOneRow(ctx, op, query, status, secret, id.Serial)
}

func (s *pgStore) UpdateReceipt(ctx context.Context, id dbmodel.PrescriptionID, receipt []byte) error {
	const op = "storage.UpdateReceipt"
	if err := s.guard(op); err != nil {
		return err
	}
	table, err := taskTableName(id.FlowType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET receipt = $1, status = $2, last_modified = now(), last_status_update = now() WHERE prescription_id = $3`, table)
	return s.execExpectingOneRow(ctx, op, query, receipt, dbmodel.TaskStatusCompleted, id.Serial)
}

func (s *pgStore) UpdateMedicationDispense(ctx context.Context, id dbmodel.PrescriptionID, bundle []byte, blobID hsm.BlobID, salt []byte, performer []byte, whenHandedOver, whenPrepared time.Time) error {
	const op = "storage.UpdateMedicationDispense"
	if err := s.guard(op); err != nil {
		return err
	}
	table, err := taskTableName(id.FlowType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET
			medication_dispense_bundle = $1, medication_dispense_blob_id = $2, medication_dispense_salt = $3,
			performer = $4, when_handed_over = $5, when_prepared = $6, last_medication_dispense = now(),
			last_modified = now()
		WHERE prescription_id = $7`, table)
	return s.execExpectingOneRow(ctx, op, query, bundle, blobID, salt, performer, whenHandedOver, whenPrepared, id.Serial)
}

func (s *pgStore) CloseMedicationDispense(ctx context.Context, id dbmodel.PrescriptionID, receipt []byte) error {
	const op = "storage.CloseMedicationDispense"
	if err := s.guard(op); err != nil {
		return err
	}
	table, err := taskTableName(id.FlowType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET receipt = $1, status = $2, last_modified = now(), last_status_update = now() WHERE prescription_id = $3`, table)
	return s.execExpectingOneRow(ctx, op, query, receipt, dbmodel.TaskStatusCompleted, id.Serial)
}

func (s *pgStore) DeleteMedicationDispense(ctx context.Context, id dbmodel.PrescriptionID) error {
	const op = "storage.DeleteMedicationDispense"
	if err := s.guard(op); err != nil {
		return err
	}
	table, err := taskTableName(id.FlowType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET
			medication_dispense_bundle = NULL, medication_dispense_blob_id = NULL, medication_dispense_salt = NULL,
			performer = NULL, when_handed_over = NULL, when_prepared = NULL, last_modified = now()
		WHERE prescription_id = $1`, table)
	return s.execExpectingOneRow(ctx, op, query, id.Serial)
}

func (s *pgStore) ClearPersonalData(ctx context.Context, id dbmodel.PrescriptionID) error {
	const op = "storage.ClearPersonalData"
	if err := s.guard(op); err != nil {
		return err
	}
	table, err := taskTableName(id.FlowType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET
			status = $1, kvnr_hashed = NULL, kvnr = NULL, access_code = NULL, secret = NULL, owner = NULL,
			healthcare_provider_prescription = NULL, doctor_identity = NULL, receipt = NULL, pharmacy_identity = NULL,
			medication_dispense_bundle = NULL, medication_dispense_blob_id = NULL, medication_dispense_salt = NULL,
			performer = NULL, when_handed_over = NULL, when_prepared = NULL,
			last_modified = now(), last_status_update = now()
		WHERE prescription_id = $2`, table)
	return s.execExpectingOneRow(ctx, op, query, dbmodel.TaskStatusCancelled, id.Serial)
}

func (s *pgStore) retrieveTask(ctx context.Context, op string, id dbmodel.PrescriptionID, forUpdate bool) (row *dbmodel.TaskRow, err error) {
	timer := metrics.NewTimer()
	defer func() { metrics.ObserveStorageQuery(op, timer, err) }()

	if err = s.guard(op); err != nil {
		return nil, err
	}
	table, err := taskTableName(id.FlowType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE prescription_id = $1`, taskColumns, table)
	if forUpdate {
		query += " FOR UPDATE"
	}
	var got dbmodel.TaskRow
	if err = s.tx.GetContext(ctx, &got, query, id.Serial); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = errs.New(errs.NotFound, op, fmt.Errorf("task %s not found", id))
			return nil, err
		}
		err = errs.New(errs.InternalServerError, op, fmt.Errorf("select task: %w", err))
		return nil, err
	}
	got.FlowType = id.FlowType
	return &got, nil
}

func (s *pgStore) RetrieveTask(ctx context.Context, id dbmodel.PrescriptionID) (*dbmodel.TaskRow, error) {
	return s.retrieveTask(ctx, "storage.RetrieveTask", id, false)
}

func (s *pgStore) RetrieveTaskForUpdate(ctx context.Context, id dbmodel.PrescriptionID) (*dbmodel.TaskRow, error) {
	return s.retrieveTask(ctx, "storage.RetrieveTaskForUpdate", id, true)
}

func (s *pgStore) RetrieveTasksByKvnrHash(ctx context.Context, kvnrHash []byte, paging Paging) ([]dbmodel.TaskRow, error) {
	const op = "storage.RetrieveTasksByKvnrHash"
	if err := s.guard(op); err != nil {
		return nil, err
	}
	var rows []dbmodel.TaskRow
	for _, ft := range dbmodel.AllFlowTypes {
		table, err := taskTableName(ft)
		if err != nil {
			return nil, err
		}
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE kvnr_hashed = $1 ORDER BY authored_on`, taskColumns, table)
		var perTable []dbmodel.TaskRow
		if err := s.tx.SelectContext(ctx, &perTable, query, kvnrHash); err != nil {
			return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("select tasks from %s: %w", table, err))
		}
		for i := range perTable {
			perTable[i].FlowType = ft
		}
		rows = append(rows, perTable...)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].AuthoredOn.Before(rows[j].AuthoredOn) })
	return applyPaging(rows, paging), nil
}

func (s *pgStore) DeleteTask(ctx context.Context, id dbmodel.PrescriptionID) error {
	const op = "storage.DeleteTask"
	if err := s.guard(op); err != nil {
		return err
	}
	table, err := taskTableName(id.FlowType)
	if err != nil {
		return err
	}
	// Cascade per spec.md §9: deleting the root deletes its Communications.
	if err := s.DeleteCommunicationsForTask(ctx, id.Serial); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE prescription_id = $1`, table)
	_, err = s.tx.ExecContext(ctx, query, id.Serial)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete task: %w", err))
	}
	return nil
}

// execExpectingOneRow runs an UPDATE that must affect exactly one row,
// translating zero affected rows into NotFound.
func (s *pgStore) execExpectingOneRow(ctx context.Context, op, query string, args ...any) (err error) {
	timer := metrics.NewTimer()
	defer func() { metrics.ObserveStorageQuery(op, timer, err) }()

	res, execErr := s.tx.ExecContext(ctx, query, args...)
	if execErr != nil {
		err = errs.New(errs.TransientIO, op, fmt.Errorf("exec: %w", execErr))
		return err
	}
	n, raErr := res.RowsAffected()
	if raErr != nil {
		err = errs.New(errs.InternalServerError, op, fmt.Errorf("rows affected: %w", raErr))
		return err
	}
	if n == 0 {
		err = errs.New(errs.NotFound, op, fmt.Errorf("no row matched"))
		return err
	}
	return nil
}

func applyPaging[T any](rows []T, p Paging) []T {
	if p.Limit <= 0 {
		return rows
	}
	limit := p.Limit
	if p.OverFetch {
		limit++
	}
	start := p.Offset
	if start > len(rows) {
		return nil
	}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

// --- Communication CRUD ---

func (s *pgStore) InsertCommunication(ctx context.Context, row dbmodel.CommunicationRow) error {
	const op = "storage.InsertCommunication"
	if err := s.guard(op); err != nil {
		return err
	}
	query := `INSERT INTO communication
		(id, message_type, sender, recipient, prescription_id, prescription_type,
		 sender_blob_id, message_for_sender, recipient_blob_id, message_for_recipient)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := s.tx.ExecContext(ctx, query, row.ID[:], row.MessageType, row.Sender, row.Recipient,
		row.PrescriptionID, row.PrescriptionType, row.SenderBlobID, row.MessageForSender,
		row.RecipientBlobID, row.MessageForRecipient)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("insert communication: %w", err))
	}
	return nil
}

func (s *pgStore) CommunicationExists(ctx context.Context, id [16]byte) (bool, error) {
	const op = "storage.CommunicationExists"
	if err := s.guard(op); err != nil {
		return false, err
	}
	var exists bool
	err := s.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM communication WHERE id = $1)`, id[:])
	if err != nil {
		return false, errs.New(errs.InternalServerError, op, fmt.Errorf("exists check: %w", err))
	}
	return exists, nil
}

func (s *pgStore) CountCommunications(ctx context.Context, identityHash []byte) (int, error) {
	const op = "storage.CountCommunications"
	if err := s.guard(op); err != nil {
		return 0, err
	}
	var n int
	err := s.tx.GetContext(ctx, &n, `SELECT count(*) FROM communication WHERE sender = $1 OR recipient = $1`, identityHash)
	if err != nil {
		return 0, errs.New(errs.InternalServerError, op, fmt.Errorf("count: %w", err))
	}
	return n, nil
}

func (s *pgStore) RetrieveCommunication(ctx context.Context, identityHash []byte, id *[16]byte, paging Paging) ([]dbmodel.CommunicationRow, error) {
	const op = "storage.RetrieveCommunication"
	if err := s.guard(op); err != nil {
		return nil, err
	}
	query := `SELECT id, message_type, sender, recipient, received, prescription_id, prescription_type,
		sender_blob_id, message_for_sender, recipient_blob_id, message_for_recipient
		FROM communication WHERE (sender = $1 OR recipient = $1)`
	args := []any{identityHash}
	if id != nil {
		query += ` AND id = $2`
		args = append(args, id[:])
	}
	query += ` ORDER BY id`
	var rows []dbmodel.CommunicationRow
	if err := s.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("select: %w", err))
	}
	return applyPaging(rows, paging), nil
}

func (s *pgStore) RetrieveCommunicationIDs(ctx context.Context, identityHash []byte) ([][16]byte, error) {
	const op = "storage.RetrieveCommunicationIDs"
	if err := s.guard(op); err != nil {
		return nil, err
	}
	var raw [][]byte
	err := s.tx.SelectContext(ctx, &raw, `SELECT id FROM communication WHERE sender = $1 OR recipient = $1 ORDER BY id`, identityHash)
	if err != nil {
		return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("select ids: %w", err))
	}
	ids := make([][16]byte, len(raw))
	for i, r := range raw {
		copy(ids[i][:], r)
	}
	return ids, nil
}

func (s *pgStore) DeleteCommunication(ctx context.Context, id [16]byte, senderHash []byte) error {
	const op = "storage.DeleteCommunication"
	if err := s.guard(op); err != nil {
		return err
	}
	// Idempotent delete: absence of a matching row is not an error.
	_, err := s.tx.ExecContext(ctx, `DELETE FROM communication WHERE id = $1 AND sender = $2`, id[:], senderHash)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete: %w", err))
	}
	return nil
}

func (s *pgStore) MarkRetrieved(ctx context.Context, id [16]byte, at time.Time) error {
	const op = "storage.MarkRetrieved"
	if err := s.guard(op); err != nil {
		return err
	}
	// received-ts monotonicity: only set it the first time it's NULL.
	_, err := s.tx.ExecContext(ctx, `UPDATE communication SET received = $1 WHERE id = $2 AND received IS NULL`, at, id[:])
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("mark retrieved: %w", err))
	}
	return nil
}

func (s *pgStore) DeleteCommunicationsForTask(ctx context.Context, prescriptionID uint64) error {
	const op = "storage.DeleteCommunicationsForTask"
	if err := s.guard(op); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `DELETE FROM communication WHERE prescription_id = $1`, prescriptionID)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete: %w", err))
	}
	return nil
}

func (s *pgStore) DeleteCommunicationsForChargeItem(ctx context.Context, prescriptionID uint64) error {
	const op = "storage.DeleteCommunicationsForChargeItem"
	if err := s.guard(op); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `DELETE FROM communication WHERE prescription_id = $1 AND prescription_type IN (200, 209)`, prescriptionID)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete: %w", err))
	}
	return nil
}

func (s *pgStore) DeleteChargeItemCommunicationsForKvnr(ctx context.Context, kvnrHash []byte) error {
	const op = "storage.DeleteChargeItemCommunicationsForKvnr"
	if err := s.guard(op); err != nil {
		return err
	}
	query := `DELETE FROM communication WHERE prescription_type IN (200, 209) AND (sender = $1 OR recipient = $1)`
	_, err := s.tx.ExecContext(ctx, query, kvnrHash)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete: %w", err))
	}
	return nil
}

// --- MedicationDispense ---

func (s *pgStore) ListMedicationDispenses(ctx context.Context, kvnrHash []byte, prescriptionID *uint64, paging Paging) ([]dbmodel.TaskRow, error) {
	const op = "storage.ListMedicationDispenses"
	if err := s.guard(op); err != nil {
		return nil, err
	}
	var rows []dbmodel.TaskRow
	for _, ft := range dbmodel.AllFlowTypes {
		table, err := taskTableName(ft)
		if err != nil {
			return nil, err
		}
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE kvnr_hashed = $1 AND medication_dispense_bundle IS NOT NULL`, taskColumns, table)
		args := []any{kvnrHash}
		if prescriptionID != nil {
			query += ` AND prescription_id = $2`
			args = append(args, *prescriptionID)
		}
		query += ` ORDER BY last_medication_dispense`
		var perTable []dbmodel.TaskRow
		if err := s.tx.SelectContext(ctx, &perTable, query, args...); err != nil {
			return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("select from %s: %w", table, err))
		}
		for i := range perTable {
			perTable[i].FlowType = ft
		}
		rows = append(rows, perTable...)
	}
	return applyPaging(rows, paging), nil
}

// --- Audit ---

func (s *pgStore) AppendAuditEvent(ctx context.Context, row dbmodel.AuditEventRow) error {
	const op = "storage.AppendAuditEvent"
	if err := s.guard(op); err != nil {
		return err
	}
	query := `INSERT INTO auditevent (id, event_id, action, agent_type, observer, prescription_id, kvnr_hash, metadata, blob_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := s.tx.ExecContext(ctx, query, row.ID[:], row.EventID, row.Action, row.AgentType, row.DeviceID,
		row.PrescriptionID, row.KvnrHashed, row.Metadata, row.BlobID)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("insert audit event: %w", err))
	}
	return nil
}

func (s *pgStore) ListAuditEvents(ctx context.Context, kvnrHash []byte, id *[16]byte, prescriptionID *uint64, paging Paging) ([]dbmodel.AuditEventRow, error) {
	const op = "storage.ListAuditEvents"
	if err := s.guard(op); err != nil {
		return nil, err
	}
	query := `SELECT id, event_id, action, agent_type, observer, prescription_id, kvnr_hash, metadata, blob_id
		FROM auditevent WHERE kvnr_hash = $1`
	args := []any{kvnrHash}
	if id != nil {
		query += fmt.Sprintf(` AND id = $%d`, len(args)+1)
		args = append(args, id[:])
	}
	if prescriptionID != nil {
		query += fmt.Sprintf(` AND prescription_id = $%d`, len(args)+1)
		args = append(args, *prescriptionID)
	}
	query += ` ORDER BY id`
	var rows []dbmodel.AuditEventRow
	if err := s.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("select: %w", err))
	}
	return applyPaging(rows, paging), nil
}

// --- ChargeItem (PKV only) ---

func (s *pgStore) StoreChargeItem(ctx context.Context, row dbmodel.ChargeItemRow) error {
	const op = "storage.StoreChargeItem"
	if err := s.guard(op); err != nil {
		return err
	}
	query := `INSERT INTO charge_item
		(prescription_id, flow_type, entered_date, last_modified, blob_id, salt, enterer, kvnr_hashed, kvnr, access_code, marking_flags,
		 signed_prescription, unsigned_prescription, signed_dispense, unsigned_dispense, signed_receipt, unsigned_receipt)
		VALUES ($1,$2,now(),now(),$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err := s.tx.ExecContext(ctx, query, row.PrescriptionID, row.FlowType, row.BlobID, row.Salt, row.Enterer, row.KvnrHashed, row.Kvnr,
		row.AccessCode, row.MarkingFlags, row.SignedPrescription, row.UnsignedPrescription,
		row.SignedDispense, row.UnsignedDispense, row.SignedReceipt, row.UnsignedReceipt)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("insert charge item: %w", err))
	}
	return nil
}

func (s *pgStore) UpdateChargeItem(ctx context.Context, row dbmodel.ChargeItemRow) error {
	const op = "storage.UpdateChargeItem"
	if err := s.guard(op); err != nil {
		return err
	}
	query := `UPDATE charge_item SET
			marking_flags = $1, signed_prescription = $2, unsigned_prescription = $3,
			signed_dispense = $4, unsigned_dispense = $5, signed_receipt = $6, unsigned_receipt = $7,
			last_modified = now()
		WHERE prescription_id = $8`
	return s.execExpectingOneRow(ctx, op, query, row.MarkingFlags, row.SignedPrescription, row.UnsignedPrescription,
		row.SignedDispense, row.UnsignedDispense, row.SignedReceipt, row.UnsignedReceipt, row.PrescriptionID)
}

func (s *pgStore) RetrieveChargeItem(ctx context.Context, prescriptionID uint64) (*dbmodel.ChargeItemRow, error) {
	const op = "storage.RetrieveChargeItem"
	if err := s.guard(op); err != nil {
		return nil, err
	}
	var row dbmodel.ChargeItemRow
	err := s.tx.GetContext(ctx, &row, `SELECT * FROM charge_item WHERE prescription_id = $1`, prescriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.NotFound, op, fmt.Errorf("charge item %d not found", prescriptionID))
		}
		return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("select: %w", err))
	}
	return &row, nil
}

func (s *pgStore) ListChargeItems(ctx context.Context, kvnrHash []byte, paging Paging) ([]dbmodel.ChargeItemRow, error) {
	const op = "storage.ListChargeItems"
	if err := s.guard(op); err != nil {
		return nil, err
	}
	var rows []dbmodel.ChargeItemRow
	err := s.tx.SelectContext(ctx, &rows, `SELECT * FROM charge_item WHERE kvnr_hashed = $1 ORDER BY entered_date`, kvnrHash)
	if err != nil {
		return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("select: %w", err))
	}
	return applyPaging(rows, paging), nil
}

func (s *pgStore) CountChargeItems(ctx context.Context, kvnrHash []byte) (int, error) {
	const op = "storage.CountChargeItems"
	if err := s.guard(op); err != nil {
		return 0, err
	}
	var n int
	err := s.tx.GetContext(ctx, &n, `SELECT count(*) FROM charge_item WHERE kvnr_hashed = $1`, kvnrHash)
	if err != nil {
		return 0, errs.New(errs.InternalServerError, op, fmt.Errorf("count: %w", err))
	}
	return n, nil
}

func (s *pgStore) DeleteChargeItem(ctx context.Context, prescriptionID uint64) error {
	const op = "storage.DeleteChargeItem"
	if err := s.guard(op); err != nil {
		return err
	}
	if err := s.DeleteCommunicationsForChargeItem(ctx, prescriptionID); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `DELETE FROM charge_item WHERE prescription_id = $1`, prescriptionID)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete: %w", err))
	}
	return nil
}

func (s *pgStore) ClearChargeItemsForKvnr(ctx context.Context, kvnrHash []byte) error {
	const op = "storage.ClearChargeItemsForKvnr"
	if err := s.guard(op); err != nil {
		return err
	}
	if err := s.DeleteChargeItemCommunicationsForKvnr(ctx, kvnrHash); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `DELETE FROM charge_item WHERE kvnr_hashed = $1`, kvnrHash)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete: %w", err))
	}
	return nil
}

// --- Consent ---

func (s *pgStore) StoreConsent(ctx context.Context, row dbmodel.ConsentRow) error {
	const op = "storage.StoreConsent"
	if err := s.guard(op); err != nil {
		return err
	}
	query := `INSERT INTO consent (kvnr_hash, creation_time) VALUES ($1, $2)
		ON CONFLICT (kvnr_hash) DO UPDATE SET creation_time = excluded.creation_time`
	_, err := s.tx.ExecContext(ctx, query, row.KvnrHashed, row.CreatedAt)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("upsert consent: %w", err))
	}
	return nil
}

func (s *pgStore) RetrieveConsentCreationTime(ctx context.Context, kvnrHash []byte) (*time.Time, error) {
	const op = "storage.RetrieveConsentCreationTime"
	if err := s.guard(op); err != nil {
		return nil, err
	}
	var t time.Time
	err := s.tx.GetContext(ctx, &t, `SELECT creation_time FROM consent WHERE kvnr_hash = $1`, kvnrHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("select: %w", err))
	}
	return &t, nil
}

func (s *pgStore) ClearConsent(ctx context.Context, kvnrHash []byte) error {
	const op = "storage.ClearConsent"
	if err := s.guard(op); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `DELETE FROM consent WHERE kvnr_hash = $1`, kvnrHash)
	if err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete: %w", err))
	}
	return nil
}

// --- Account salt (hsm.SaltStore) & CMAC ---

func (s *pgStore) GetGeneration(ctx context.Context, account []byte, purpose hsm.Purpose, blobID hsm.BlobID) (hsm.Generation, bool, error) {
	const op = "storage.GetGeneration"
	if err := s.guard(op); err != nil {
		return hsm.Generation{}, false, err
	}
	var row dbmodel.AccountSaltRow
	query := `SELECT account_id, master_key_type, blob_id, salt FROM account
		WHERE account_id = $1 AND master_key_type = $2 AND blob_id = $3`
	err := s.tx.GetContext(ctx, &row, query, account, purpose, blobID)
	if errors.Is(err, sql.ErrNoRows) {
		return hsm.Generation{}, false, nil
	}
	if err != nil {
		return hsm.Generation{}, false, errs.New(errs.InternalServerError, op, fmt.Errorf("select: %w", err))
	}
	return hsm.Generation{BlobID: row.BlobID, Salt: row.Salt}, true, nil
}

func (s *pgStore) InsertGeneration(ctx context.Context, account []byte, purpose hsm.Purpose, gen hsm.Generation) (hsm.Generation, bool, error) {
	const op = "storage.InsertGeneration"
	if err := s.guard(op); err != nil {
		return hsm.Generation{}, false, err
	}
	query := `INSERT INTO account (account_id, master_key_type, blob_id, salt) VALUES ($1,$2,$3,$4)
		ON CONFLICT (account_id, master_key_type, blob_id) DO NOTHING`
	res, err := s.tx.ExecContext(ctx, query, account, purpose, gen.BlobID, gen.Salt)
	if err != nil {
		return hsm.Generation{}, false, errs.New(errs.TransientIO, op, fmt.Errorf("insert: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return hsm.Generation{}, false, errs.New(errs.InternalServerError, op, fmt.Errorf("rows affected: %w", err))
	}
	if n == 1 {
		return gen, true, nil
	}
	// Lost the idempotent race: read back the row that won.
	var row dbmodel.AccountSaltRow
	err = s.tx.GetContext(ctx, &row, `SELECT account_id, master_key_type, blob_id, salt FROM account
		WHERE account_id = $1 AND master_key_type = $2 AND blob_id = $3`, account, purpose, gen.BlobID)
	if err != nil {
		return hsm.Generation{}, false, errs.New(errs.InternalServerError, op, fmt.Errorf("select winner: %w", err))
	}
	return hsm.Generation{BlobID: row.BlobID, Salt: row.Salt}, false, nil
}

func (s *pgStore) GetCmac(ctx context.Context, validDate time.Time, category string) ([]byte, bool, error) {
	const op = "storage.GetCmac"
	if err := s.guard(op); err != nil {
		return nil, false, err
	}
	var cmac []byte
	err := s.tx.GetContext(ctx, &cmac, `SELECT cmac FROM vau_cmac WHERE valid_date = $1 AND cmac_type = $2`, validDate, category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.New(errs.InternalServerError, op, fmt.Errorf("select: %w", err))
	}
	return cmac, true, nil
}

func (s *pgStore) InsertCmac(ctx context.Context, validDate time.Time, category string, cmac []byte) ([]byte, bool, error) {
	const op = "storage.InsertCmac"
	if err := s.guard(op); err != nil {
		return nil, false, err
	}
	query := `INSERT INTO vau_cmac (valid_date, cmac_type, cmac) VALUES ($1,$2,$3) ON CONFLICT (valid_date, cmac_type) DO NOTHING`
	res, err := s.tx.ExecContext(ctx, query, validDate, category, cmac)
	if err != nil {
		return nil, false, errs.New(errs.TransientIO, op, fmt.Errorf("insert: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, errs.New(errs.InternalServerError, op, fmt.Errorf("rows affected: %w", err))
	}
	if n == 1 {
		return cmac, true, nil
	}
	winner, ok, err := s.GetCmac(ctx, validDate, category)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, errs.New(errs.LogicError, op, fmt.Errorf("conflicting insert but no row found"))
	}
	return winner, false, nil
}

// --- Maintenance ---

func (s *pgStore) SchemaVersion(ctx context.Context) (int, error) {
	const op = "storage.SchemaVersion"
	if err := s.guard(op); err != nil {
		return 0, err
	}
	var v int
	err := s.tx.GetContext(ctx, &v, `SELECT value::int FROM config WHERE key = 'schema_version'`)
	if err != nil {
		return 0, errs.New(errs.InternalServerError, op, fmt.Errorf("select schema version: %w", err))
	}
	return v, nil
}

func (s *pgStore) Healthcheck(ctx context.Context) error {
	const op = "storage.Healthcheck"
	if err := s.guard(op); err != nil {
		return err
	}
	var one int
	if err := s.tx.GetContext(ctx, &one, `SELECT 1`); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("ping: %w", err))
	}
	return nil
}

func (s *pgStore) IsBlobUsed(ctx context.Context, purpose hsm.Purpose, blobID hsm.BlobID) (bool, error) {
	const op = "storage.IsBlobUsed"
	if err := s.guard(op); err != nil {
		return false, err
	}

	var exists bool
	err := s.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM account WHERE master_key_type = $1 AND blob_id = $2)`, purpose, blobID)
	if err != nil {
		return false, errs.New(errs.InternalServerError, op, fmt.Errorf("select: %w", err))
	}
	if exists {
		return true, nil
	}

	for _, ft := range dbmodel.AllFlowTypes {
		table, err := taskTableName(ft)
		if err != nil {
			return false, err
		}
		query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE task_key_blob_id = $1 OR medication_dispense_blob_id = $1)`, table)
		if err := s.tx.GetContext(ctx, &exists, query, blobID); err != nil {
			return false, errs.New(errs.InternalServerError, op, fmt.Errorf("select from %s: %w", table, err))
		}
		if exists {
			return true, nil
		}
	}

	err = s.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM communication WHERE sender_blob_id = $1 OR recipient_blob_id = $1)`, blobID)
	if err != nil {
		return false, errs.New(errs.InternalServerError, op, fmt.Errorf("select: %w", err))
	}
	if exists {
		return true, nil
	}

	err = s.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM auditevent WHERE blob_id = $1)`, blobID)
	if err != nil {
		return false, errs.New(errs.InternalServerError, op, fmt.Errorf("select: %w", err))
	}
	if exists {
		return true, nil
	}

	err = s.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM charge_item WHERE blob_id = $1)`, blobID)
	if err != nil {
		return false, errs.New(errs.InternalServerError, op, fmt.Errorf("select: %w", err))
	}
	return exists, nil
}

var _ Store = (*pgStore)(nil)
