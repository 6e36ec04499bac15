package domain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/erprx/datastore/pkg/audit"
	"github.com/erprx/datastore/pkg/codec"
	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/hsm"
	"github.com/erprx/datastore/pkg/storage"
)

// Task is the plaintext view of one task_<flowtype> row. Cancelled tasks
// are returned with every personal field absent and no key ever derived
// (spec's S5 invariant).
type Task struct {
	ID               dbmodel.PrescriptionID
	Status           dbmodel.TaskStatus
	AuthoredOn       time.Time
	LastModified     time.Time
	ExpiryDate       *time.Time
	AcceptDate       *time.Time
	Kvnr             string
	AccessCode       string
	Secret           string
	Owner            string
	Prescription     []byte
	DoctorIdentity   *AccessTokenIdentity
	Receipt          []byte
	PharmacyIdentity *AccessTokenIdentity

	MedicationDispenseBundle []byte
	Performer                string
	WhenHandedOver           *time.Time
	WhenPrepared             *time.Time
}

// StoreTask creates a fresh draft Task, clock-stamped server-side, and
// derives its one-time task key immediately so the encrypted access code
// can be written in the same call. Per spec, authored-on as returned by
// the database (not any client-supplied value) is what the key is
// derived against.
func (f *Frontend) StoreTask(ctx context.Context, store storage.Store, flowType dbmodel.FlowType) (Task, string, error) {
	const op = "domain.Frontend.StoreTask"

	serial, authoredOn, err := store.CreateTask(ctx, flowType)
	if err != nil {
		return Task{}, "", err
	}
	id := dbmodel.PrescriptionID{FlowType: flowType, Serial: serial}

	key, gen, err := f.kd.TaskKey(ctx, serial, byte(flowType), authoredOn)
	if err != nil {
		return Task{}, "", err
	}

	accessCode, err := randomAccessCode()
	if err != nil {
		return Task{}, "", errs.New(errs.CryptoFailure, op, fmt.Errorf("generate access code: %w", err))
	}
	encAccessCode, err := f.encryptColumn([]byte(accessCode), key, codec.DictNone)
	if err != nil {
		return Task{}, "", err
	}

	if err := store.SetTaskKey(ctx, id, gen.BlobID, gen.Salt); err != nil {
		return Task{}, "", err
	}
	if err := store.SetAccessCode(ctx, id, encAccessCode); err != nil {
		return Task{}, "", err
	}

	return Task{ID: id, Status: dbmodel.TaskStatusDraft, AuthoredOn: authoredOn, AccessCode: accessCode}, accessCode, nil
}

func randomAccessCode() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ActivateTask transitions a draft Task to ready, encrypting the KVNR,
// the signed healthcare-provider prescription, and the prescribing
// doctor's identity snapshot under the task's own (already-derived) key.
func (f *Frontend) ActivateTask(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID, kvnr string, prescription []byte, doctor AccessTokenIdentity, expiryDate, acceptDate *time.Time, ac AuditContext) error {
	const op = "domain.Frontend.ActivateTask"

	row, err := store.RetrieveTaskForUpdate(ctx, id)
	if err != nil {
		return err
	}
	key, err := f.taskKeyForGeneration(ctx, id, row.AuthoredOn, row)
	if err != nil {
		return err
	}

	kvnrHashed, err := f.hasher.HashKvnr(ctx, kvnr)
	if err != nil {
		return err
	}
	encKvnr, err := f.encryptColumn([]byte(kvnr), key, codec.DictNone)
	if err != nil {
		return err
	}
	encPrescription, err := f.encryptColumn(prescription, key, codec.DictDefaultXML)
	if err != nil {
		return err
	}
	doctorJSON, err := doctor.ToJSON()
	if err != nil {
		return err
	}
	encDoctor, err := f.encryptColumn(doctorJSON, key, codec.DictDefaultJSON)
	if err != nil {
		return err
	}

	newRow := dbmodel.TaskRow{
		KvnrHashed:                     kvnrHashed,
		Kvnr:                           encKvnr,
		TaskKeyBlobID:                  row.TaskKeyBlobID,
		Salt:                           row.Salt,
		HealthcareProviderPrescription: encPrescription,
		DoctorIdentity:                 encDoctor,
		ExpiryDate:                     expiryDate,
		AcceptDate:                     acceptDate,
	}
	if err := store.ActivateTask(ctx, id, newRow); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("activate task %s: %w", id, err))
	}

	return f.appendAudit(ctx, store, ac, kvnrHashed, &id.Serial, audit.ActionUpdate, nil)
}

// RetrieveTaskAndPrescriptionAndReceipt returns the plaintext Task,
// deriving keys on demand from the (blob-id, salt) recorded on the row.
// A cancelled Task is returned with every personal field absent and no
// key ever touched.
func (f *Frontend) RetrieveTaskAndPrescriptionAndReceipt(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID, ac AuditContext) (Task, error) {
	row, err := store.RetrieveTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	task, err := f.taskFromRow(ctx, id, row)
	if err != nil {
		return Task{}, err
	}
	if err := f.appendAudit(ctx, store, ac, row.KvnrHashed, &id.Serial, audit.ActionRead, nil); err != nil {
		return Task{}, err
	}
	return task, nil
}

// taskFromRow decrypts one task_<flowtype> row into its plaintext Task,
// re-deriving the task key from the row's own recorded generation. A
// cancelled Task is returned with every personal field absent and no key
// ever touched, per spec's S5 invariant.
func (f *Frontend) taskFromRow(ctx context.Context, id dbmodel.PrescriptionID, row *dbmodel.TaskRow) (Task, error) {
	task := Task{
		ID:           id,
		Status:       row.Status,
		AuthoredOn:   row.AuthoredOn,
		LastModified: row.LastModified,
		ExpiryDate:   row.ExpiryDate,
		AcceptDate:   row.AcceptDate,
	}
	if row.Status == dbmodel.TaskStatusCancelled {
		return task, nil
	}

	key, err := f.taskKeyForGeneration(ctx, id, row.AuthoredOn, row)
	if err != nil {
		return Task{}, err
	}

	kvnr, err := f.decryptColumn(row.Kvnr, key, codec.DictNone)
	if err != nil {
		return Task{}, err
	}
	task.Kvnr = string(kvnr)

	accessCode, err := f.decryptColumn(row.AccessCode, key, codec.DictNone)
	if err != nil {
		return Task{}, err
	}
	task.AccessCode = string(accessCode)

	secret, err := f.decryptColumn(row.Secret, key, codec.DictNone)
	if err != nil {
		return Task{}, err
	}
	task.Secret = string(secret)

	owner, err := f.decryptColumn(row.Owner, key, codec.DictNone)
	if err != nil {
		return Task{}, err
	}
	task.Owner = string(owner)

	task.Prescription, err = f.decryptColumn(row.HealthcareProviderPrescription, key, codec.DictDefaultXML)
	if err != nil {
		return Task{}, err
	}

	if row.DoctorIdentity != nil {
		doctorJSON, err := f.decryptColumn(row.DoctorIdentity, key, codec.DictDefaultJSON)
		if err != nil {
			return Task{}, err
		}
		identity, err := AccessTokenIdentityFromJSON(doctorJSON)
		if err != nil {
			return Task{}, err
		}
		task.DoctorIdentity = &identity
	}

	task.Receipt, err = f.decryptColumn(row.Receipt, key, codec.DictDefaultXML)
	if err != nil {
		return Task{}, err
	}

	if row.PharmacyIdentity != nil {
		pharmacyJSON, err := f.decryptColumn(row.PharmacyIdentity, key, codec.DictDefaultJSON)
		if err != nil {
			return Task{}, err
		}
		identity, err := AccessTokenIdentityFromJSON(pharmacyJSON)
		if err != nil {
			return Task{}, err
		}
		task.PharmacyIdentity = &identity
	}

	if len(row.MedicationDispenseBundle) > 0 && row.MedicationDispenseBlobID != nil {
		mdGen := hsm.Generation{BlobID: *row.MedicationDispenseBlobID, Salt: row.MedicationDispenseSalt}
		mdKey, err := f.kd.MedicationDispenseKeyForGeneration(ctx, row.KvnrHashed, mdGen)
		if err != nil {
			return Task{}, err
		}
		task.MedicationDispenseBundle, err = f.decryptColumn(row.MedicationDispenseBundle, mdKey, codec.DictDefaultJSON)
		if err != nil {
			return Task{}, err
		}
		performer, err := f.decryptColumn(row.Performer, mdKey, codec.DictNone)
		if err != nil {
			return Task{}, err
		}
		task.Performer = string(performer)
	}
	task.WhenHandedOver = row.WhenHandedOver
	task.WhenPrepared = row.WhenPrepared
	return task, nil
}

// RetrieveTasksByKvnrHash lists every Task on file for a patient's
// already-hashed KVNR, decrypting each one exactly as
// RetrieveTaskAndPrescriptionAndReceipt does for a single Task.
func (f *Frontend) RetrieveTasksByKvnrHash(ctx context.Context, store storage.Store, kvnrHash []byte, paging storage.Paging, ac AuditContext) ([]Task, error) {
	rows, err := store.RetrieveTasksByKvnrHash(ctx, kvnrHash, paging)
	if err != nil {
		return nil, err
	}

	out := make([]Task, 0, len(rows))
	for i := range rows {
		row := rows[i]
		id := dbmodel.PrescriptionID{FlowType: row.FlowType, Serial: row.PrescriptionID}
		task, err := f.taskFromRow(ctx, id, &row)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := f.appendAudit(ctx, store, ac, kvnrHash, nil, audit.ActionRead, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// AcceptTask performs the pharmacy "accept" transition (ready ->
// in-progress): it generates a fresh secret, encrypts it under the
// Task's own key, and hands the plaintext secret back to the caller to
// return to the pharmacy client. Grounded on original_source's
// updateTaskStatusAndSecret.
func (f *Frontend) AcceptTask(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID, ac AuditContext) (string, error) {
	const op = "domain.Frontend.AcceptTask"

	row, err := store.RetrieveTaskForUpdate(ctx, id)
	if err != nil {
		return "", err
	}
	key, err := f.taskKeyForGeneration(ctx, id, row.AuthoredOn, row)
	if err != nil {
		return "", err
	}

	secret, err := randomAccessCode()
	if err != nil {
		return "", errs.New(errs.CryptoFailure, op, fmt.Errorf("generate secret: %w", err))
	}
	encSecret, err := f.encryptColumn([]byte(secret), key, codec.DictNone)
	if err != nil {
		return "", err
	}

	if err := store.UpdateStatusAndSecret(ctx, id, dbmodel.TaskStatusInProgress, encSecret); err != nil {
		return "", errs.New(errs.TransientIO, op, fmt.Errorf("accept task %s: %w", id, err))
	}

	if err := f.appendAudit(ctx, store, ac, row.KvnrHashed, &id.Serial, audit.ActionUpdate, nil); err != nil {
		return "", err
	}
	return secret, nil
}

// CompleteTask performs the dispense-and-receipt transition (in-progress
// -> completed): it encrypts the ErxReceipt under the Task's own key and
// records it. Grounded on original_source's updateTaskReceipt.
func (f *Frontend) CompleteTask(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID, receipt []byte, ac AuditContext) error {
	const op = "domain.Frontend.CompleteTask"

	row, err := store.RetrieveTaskForUpdate(ctx, id)
	if err != nil {
		return err
	}
	key, err := f.taskKeyForGeneration(ctx, id, row.AuthoredOn, row)
	if err != nil {
		return err
	}

	encReceipt, err := f.encryptColumn(receipt, key, codec.DictDefaultXML)
	if err != nil {
		return err
	}

	if err := store.UpdateReceipt(ctx, id, encReceipt); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("complete task %s: %w", id, err))
	}

	return f.appendAudit(ctx, store, ac, row.KvnrHashed, &id.Serial, audit.ActionUpdate, nil)
}

// CancelTask wipes a Task's personal data (S5) and moves it to the
// terminal cancelled state. The audit row is recorded against the
// kvnr-hash captured before the wipe, since ClearPersonalData leaves
// nothing for the domain layer to re-derive a key from afterward.
func (f *Frontend) CancelTask(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID, ac AuditContext) error {
	const op = "domain.Frontend.CancelTask"

	row, err := store.RetrieveTaskForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if err := store.ClearPersonalData(ctx, id); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("cancel task %s: %w", id, err))
	}
	return f.appendAudit(ctx, store, ac, row.KvnrHashed, &id.Serial, audit.ActionUpdate, nil)
}

// DeleteTask removes a Task and every communication attached to it.
func (f *Frontend) DeleteTask(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID, ac AuditContext) error {
	const op = "domain.Frontend.DeleteTask"

	row, err := store.RetrieveTask(ctx, id)
	if err != nil {
		return err
	}
	if err := store.DeleteTask(ctx, id); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete task %s: %w", id, err))
	}
	return f.appendAudit(ctx, store, ac, row.KvnrHashed, &id.Serial, audit.ActionDelete, nil)
}

// UpdateTaskMedicationDispense attaches a dispense bundle to the Task,
// encrypting it and the performer under a key derived from the
// **patient's** KVNR hash rather than the Task's own key. The performer
// is stored only as that ciphertext; no hashed, searchable performer
// value is written. Using the patient's key space means a
// pharmacist who only holds a different Task for the same patient can
// still write into the same key space. The C2 account-salt race protocol
// governs which generation wins when two dispenses race.
func (f *Frontend) UpdateTaskMedicationDispense(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID, kvnrHashed []byte, bundle []byte, performer string, whenHandedOver, whenPrepared time.Time, ac AuditContext) error {
	const op = "domain.Frontend.UpdateTaskMedicationDispense"

	key, gen, err := f.kd.MedicationDispenseKey(ctx, store, kvnrHashed)
	if err != nil {
		return err
	}

	encBundle, err := f.encryptColumn(bundle, key, codec.DictDefaultJSON)
	if err != nil {
		return err
	}
	encPerformer, err := f.encryptColumn([]byte(performer), key, codec.DictNone)
	if err != nil {
		return err
	}

	if err := store.UpdateMedicationDispense(ctx, id, encBundle, gen.BlobID, gen.Salt, encPerformer, whenHandedOver, whenPrepared); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("update medication dispense for %s: %w", id, err))
	}

	return f.appendAudit(ctx, store, ac, kvnrHashed, &id.Serial, audit.ActionUpdate, nil)
}
