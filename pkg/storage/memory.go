package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/hsm"
)

// MemoryBackend is an in-process Store used by tests (and by pkg/domain's
// own test suite) that don't want a real Postgres instance. It
// implements the identical Store contract as PostgresBackend, backed by
// plain Go maps guarded by one mutex instead of SQL tables.
//
// Modeled on the teacher's BoltStore (an embedded, lock-guarded,
// map-of-buckets store) generalized to the encrypted-row schema instead
// of cluster-state types.
type MemoryBackend struct {
	mu sync.Mutex

	tasks        map[dbmodel.FlowType]map[uint64]dbmodel.TaskRow
	nextSerial   uint64
	communications map[[16]byte]dbmodel.CommunicationRow
	auditEvents  []dbmodel.AuditEventRow
	chargeItems  map[uint64]dbmodel.ChargeItemRow
	consents     map[string]dbmodel.ConsentRow
	accountSalts map[string]hsm.Generation
	cmacs        map[string][]byte
	schemaVersion int
}

func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{
		tasks:          make(map[dbmodel.FlowType]map[uint64]dbmodel.TaskRow),
		nextSerial:     1,
		communications: make(map[[16]byte]dbmodel.CommunicationRow),
		chargeItems:    make(map[uint64]dbmodel.ChargeItemRow),
		consents:       make(map[string]dbmodel.ConsentRow),
		accountSalts:   make(map[string]hsm.Generation),
		cmacs:          make(map[string][]byte),
		schemaVersion:  1,
	}
	for _, ft := range dbmodel.AllFlowTypes {
		b.tasks[ft] = make(map[uint64]dbmodel.TaskRow)
	}
	return b
}

func (b *MemoryBackend) Begin(_ context.Context) (Store, error) {
	return &memStore{b: b}, nil
}

func (b *MemoryBackend) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)

// memStore is a Store handle over MemoryBackend. Every operation takes
// the backend's single mutex, so "one transaction" here is one
// operation; this is adequate for tests exercising logical semantics
// (races, idempotence, cancellation) without a real isolation level.
type memStore struct {
	b         *MemoryBackend
	committed bool
	closed    bool
}

func (s *memStore) guard(op string) error {
	if s.committed || s.closed {
		return errs.New(errs.LogicError, op, errAfterCommit)
	}
	return nil
}

var errAfterCommit = &sentinelError{"operation after commit/close"}
var errNoSuchRow = &sentinelError{"no such row"}

type sentinelError struct{ msg string }

func (e *sentinelError) Error() string { return e.msg }

func (s *memStore) Commit(_ context.Context) error {
	s.committed = true
	return nil
}

func (s *memStore) Close(_ context.Context) error {
	s.closed = true
	return nil
}

func accountKey(account []byte, purpose hsm.Purpose, blobID hsm.BlobID) string {
	return fmt.Sprintf("%d/%d/%s", int(purpose), int(blobID), account)
}

func cmacKey(validDate time.Time, category string) string {
	return validDate.UTC().Format("2006-01-02") + "/" + category
}

func (s *memStore) CreateTask(_ context.Context, flowType dbmodel.FlowType) (uint64, time.Time, error) {
	if err := s.guard("memstore.CreateTask"); err != nil {
		return 0, time.Time{}, err
	}
	if !flowType.Valid() {
		return 0, time.Time{}, errs.New(errs.BadRequest, "memstore.CreateTask", flowTypeErr(flowType))
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	id := s.b.nextSerial
	s.b.nextSerial++
	now := time.Now().UTC()
	s.b.tasks[flowType][id] = dbmodel.TaskRow{
		PrescriptionID:    id,
		FlowType:          flowType,
		AuthoredOn:        now,
		LastModified:      now,
		LastStatusUpdate:  now,
		Status:            dbmodel.TaskStatusDraft,
	}
	return id, now, nil
}

func flowTypeErr(ft dbmodel.FlowType) error { return &badFlowTypeError{ft} }

type badFlowTypeError struct{ ft dbmodel.FlowType }

func (e *badFlowTypeError) Error() string { return "unknown flow-type" }

func (s *memStore) mutateTask(op string, id dbmodel.PrescriptionID, mutate func(*dbmodel.TaskRow) error) error {
	if err := s.guard(op); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	table, ok := s.b.tasks[id.FlowType]
	if !ok {
		return errs.New(errs.BadRequest, op, flowTypeErr(id.FlowType))
	}
	row, ok := table[id.Serial]
	if !ok {
		return errs.New(errs.NotFound, op, errNoSuchRow)
	}
	if err := mutate(&row); err != nil {
		return err
	}
	row.LastModified = time.Now().UTC()
	table[id.Serial] = row
	return nil
}

func (s *memStore) SetAccessCode(_ context.Context, id dbmodel.PrescriptionID, accessCode []byte) error {
	return s.mutateTask("memstore.SetAccessCode", id, func(r *dbmodel.TaskRow) error {
		r.AccessCode = accessCode
		return nil
	})
}

func (s *memStore) SetTaskKey(_ context.Context, id dbmodel.PrescriptionID, blobID hsm.BlobID, salt []byte) error {
	return s.mutateTask("memstore.SetTaskKey", id, func(r *dbmodel.TaskRow) error {
		b := blobID
		r.TaskKeyBlobID = &b
		r.Salt = salt
		return nil
	})
}

func (s *memStore) ActivateTask(_ context.Context, id dbmodel.PrescriptionID, newRow dbmodel.TaskRow) error {
	return s.mutateTask("memstore.ActivateTask", id, func(r *dbmodel.TaskRow) error {
		if err := r.Status.RequireTransition(dbmodel.TaskStatusReady); err != nil {
			return err
		}
		r.Status = dbmodel.TaskStatusReady
		r.KvnrHashed = newRow.KvnrHashed
		r.Kvnr = newRow.Kvnr
		r.TaskKeyBlobID = newRow.TaskKeyBlobID
		r.Salt = newRow.Salt
		r.HealthcareProviderPrescription = newRow.HealthcareProviderPrescription
		r.DoctorIdentity = newRow.DoctorIdentity
		r.ExpiryDate = newRow.ExpiryDate
		r.AcceptDate = newRow.AcceptDate
		r.LastStatusUpdate = time.Now().UTC()
		return nil
	})
}

func (s *memStore) UpdateStatusAndSecret(_ context.Context, id dbmodel.PrescriptionID, status dbmodel.TaskStatus, secret []byte) error {
	return s.mutateTask("memstore.UpdateStatusAndSecret", id, func(r *dbmodel.TaskRow) error {
		if err := r.Status.RequireTransition(status); err != nil {
			return err
		}
		r.Status = status
		r.Secret = secret
		r.LastStatusUpdate = time.Now().UTC()
		return nil
	})
}

func (s *memStore) UpdateReceipt(_ context.Context, id dbmodel.PrescriptionID, receipt []byte) error {
	return s.mutateTask("memstore.UpdateReceipt", id, func(r *dbmodel.TaskRow) error {
		if err := r.Status.RequireTransition(dbmodel.TaskStatusCompleted); err != nil {
			return err
		}
		r.Receipt = receipt
		r.Status = dbmodel.TaskStatusCompleted
		r.LastStatusUpdate = time.Now().UTC()
		return nil
	})
}

func (s *memStore) UpdateMedicationDispense(_ context.Context, id dbmodel.PrescriptionID, bundle []byte, blobID hsm.BlobID, salt []byte, performer []byte, whenHandedOver, whenPrepared time.Time) error {
	return s.mutateTask("memstore.UpdateMedicationDispense", id, func(r *dbmodel.TaskRow) error {
		r.MedicationDispenseBundle = bundle
		b := blobID
		r.MedicationDispenseBlobID = &b
		r.MedicationDispenseSalt = salt
		r.Performer = performer
		r.WhenHandedOver = &whenHandedOver
		r.WhenPrepared = &whenPrepared
		now := time.Now().UTC()
		r.LastMedicationDispense = &now
		return nil
	})
}

func (s *memStore) CloseMedicationDispense(_ context.Context, id dbmodel.PrescriptionID, receipt []byte) error {
	return s.mutateTask("memstore.CloseMedicationDispense", id, func(r *dbmodel.TaskRow) error {
		if err := r.Status.RequireTransition(dbmodel.TaskStatusCompleted); err != nil {
			return err
		}
		r.Receipt = receipt
		r.Status = dbmodel.TaskStatusCompleted
		return nil
	})
}

func (s *memStore) DeleteMedicationDispense(_ context.Context, id dbmodel.PrescriptionID) error {
	return s.mutateTask("memstore.DeleteMedicationDispense", id, func(r *dbmodel.TaskRow) error {
		r.MedicationDispenseBundle = nil
		r.MedicationDispenseBlobID = nil
		r.MedicationDispenseSalt = nil
		r.Performer = nil
		r.WhenHandedOver = nil
		r.WhenPrepared = nil
		return nil
	})
}

func (s *memStore) ClearPersonalData(_ context.Context, id dbmodel.PrescriptionID) error {
	return s.mutateTask("memstore.ClearPersonalData", id, func(r *dbmodel.TaskRow) error {
		if err := r.Status.RequireTransition(dbmodel.TaskStatusCancelled); err != nil {
			return err
		}
		*r = dbmodel.TaskRow{
			PrescriptionID:   r.PrescriptionID,
			FlowType:         r.FlowType,
			AuthoredOn:       r.AuthoredOn,
			LastStatusUpdate: time.Now().UTC(),
			Status:           dbmodel.TaskStatusCancelled,
		}
		return nil
	})
}

func (s *memStore) retrieveTask(op string, id dbmodel.PrescriptionID) (*dbmodel.TaskRow, error) {
	if err := s.guard(op); err != nil {
		return nil, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	table, ok := s.b.tasks[id.FlowType]
	if !ok {
		return nil, errs.New(errs.BadRequest, op, flowTypeErr(id.FlowType))
	}
	row, ok := table[id.Serial]
	if !ok {
		return nil, errs.New(errs.NotFound, op, errNoSuchRow)
	}
	cp := row
	return &cp, nil
}

func (s *memStore) RetrieveTask(_ context.Context, id dbmodel.PrescriptionID) (*dbmodel.TaskRow, error) {
	return s.retrieveTask("memstore.RetrieveTask", id)
}

func (s *memStore) RetrieveTaskForUpdate(_ context.Context, id dbmodel.PrescriptionID) (*dbmodel.TaskRow, error) {
	return s.retrieveTask("memstore.RetrieveTaskForUpdate", id)
}

func (s *memStore) RetrieveTasksByKvnrHash(_ context.Context, kvnrHash []byte, paging Paging) ([]dbmodel.TaskRow, error) {
	if err := s.guard("memstore.RetrieveTasksByKvnrHash"); err != nil {
		return nil, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var rows []dbmodel.TaskRow
	for _, ft := range dbmodel.AllFlowTypes {
		for _, row := range s.b.tasks[ft] {
			if string(row.KvnrHashed) == string(kvnrHash) {
				rows = append(rows, row)
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].AuthoredOn.Before(rows[j].AuthoredOn) })
	return applyPaging(rows, paging), nil
}

func (s *memStore) DeleteTask(_ context.Context, id dbmodel.PrescriptionID) error {
	if err := s.guard("memstore.DeleteTask"); err != nil {
		return err
	}
	s.b.mu.Lock()
	delete(s.b.tasks[id.FlowType], id.Serial)
	for k, c := range s.b.communications {
		if c.PrescriptionID != nil && *c.PrescriptionID == id.Serial {
			delete(s.b.communications, k)
		}
	}
	s.b.mu.Unlock()
	return nil
}

func (s *memStore) InsertCommunication(_ context.Context, row dbmodel.CommunicationRow) error {
	if err := s.guard("memstore.InsertCommunication"); err != nil {
		return err
	}
	s.b.mu.Lock()
	s.b.communications[row.ID] = row
	s.b.mu.Unlock()
	return nil
}

func (s *memStore) CommunicationExists(_ context.Context, id [16]byte) (bool, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	_, ok := s.b.communications[id]
	return ok, nil
}

func (s *memStore) CountCommunications(_ context.Context, identityHash []byte) (int, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	n := 0
	for _, c := range s.b.communications {
		if string(c.Sender) == string(identityHash) || string(c.Recipient) == string(identityHash) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) RetrieveCommunication(_ context.Context, identityHash []byte, id *[16]byte, paging Paging) ([]dbmodel.CommunicationRow, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var rows []dbmodel.CommunicationRow
	for _, c := range s.b.communications {
		if string(c.Sender) != string(identityHash) && string(c.Recipient) != string(identityHash) {
			continue
		}
		if id != nil && c.ID != *id {
			continue
		}
		rows = append(rows, c)
	}
	sort.Slice(rows, func(i, j int) bool { return string(rows[i].ID[:]) < string(rows[j].ID[:]) })
	return applyPaging(rows, paging), nil
}

func (s *memStore) RetrieveCommunicationIDs(_ context.Context, identityHash []byte) ([][16]byte, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var ids [][16]byte
	for _, c := range s.b.communications {
		if string(c.Sender) == string(identityHash) || string(c.Recipient) == string(identityHash) {
			ids = append(ids, c.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return string(ids[i][:]) < string(ids[j][:]) })
	return ids, nil
}

func (s *memStore) DeleteCommunication(_ context.Context, id [16]byte, senderHash []byte) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if c, ok := s.b.communications[id]; ok && string(c.Sender) == string(senderHash) {
		delete(s.b.communications, id)
	}
	return nil
}

func (s *memStore) MarkRetrieved(_ context.Context, id [16]byte, at time.Time) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	c, ok := s.b.communications[id]
	if !ok || c.Received != nil {
		return nil
	}
	c.Received = &at
	s.b.communications[id] = c
	return nil
}

func (s *memStore) DeleteCommunicationsForTask(_ context.Context, prescriptionID uint64) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	for k, c := range s.b.communications {
		if c.PrescriptionID != nil && *c.PrescriptionID == prescriptionID {
			delete(s.b.communications, k)
		}
	}
	return nil
}

func (s *memStore) DeleteCommunicationsForChargeItem(_ context.Context, prescriptionID uint64) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	for k, c := range s.b.communications {
		if c.PrescriptionID != nil && *c.PrescriptionID == prescriptionID && c.PrescriptionType != nil && c.PrescriptionType.IsPKV() {
			delete(s.b.communications, k)
		}
	}
	return nil
}

func (s *memStore) DeleteChargeItemCommunicationsForKvnr(_ context.Context, kvnrHash []byte) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	for k, c := range s.b.communications {
		if c.PrescriptionType != nil && c.PrescriptionType.IsPKV() &&
			(string(c.Sender) == string(kvnrHash) || string(c.Recipient) == string(kvnrHash)) {
			delete(s.b.communications, k)
		}
	}
	return nil
}

func (s *memStore) ListMedicationDispenses(_ context.Context, kvnrHash []byte, prescriptionID *uint64, paging Paging) ([]dbmodel.TaskRow, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var rows []dbmodel.TaskRow
	for _, ft := range dbmodel.AllFlowTypes {
		for _, row := range s.b.tasks[ft] {
			if string(row.KvnrHashed) != string(kvnrHash) || row.MedicationDispenseBundle == nil {
				continue
			}
			if prescriptionID != nil && row.PrescriptionID != *prescriptionID {
				continue
			}
			rows = append(rows, row)
		}
	}
	return applyPaging(rows, paging), nil
}

func (s *memStore) AppendAuditEvent(_ context.Context, row dbmodel.AuditEventRow) error {
	s.b.mu.Lock()
	s.b.auditEvents = append(s.b.auditEvents, row)
	s.b.mu.Unlock()
	return nil
}

func (s *memStore) ListAuditEvents(_ context.Context, kvnrHash []byte, id *[16]byte, prescriptionID *uint64, paging Paging) ([]dbmodel.AuditEventRow, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var rows []dbmodel.AuditEventRow
	for _, e := range s.b.auditEvents {
		if string(e.KvnrHashed) != string(kvnrHash) {
			continue
		}
		if id != nil && e.ID != *id {
			continue
		}
		if prescriptionID != nil && (e.PrescriptionID == nil || *e.PrescriptionID != *prescriptionID) {
			continue
		}
		rows = append(rows, e)
	}
	sort.Slice(rows, func(i, j int) bool { return string(rows[i].ID[:]) < string(rows[j].ID[:]) })
	return applyPaging(rows, paging), nil
}

func (s *memStore) StoreChargeItem(_ context.Context, row dbmodel.ChargeItemRow) error {
	s.b.mu.Lock()
	s.b.chargeItems[row.PrescriptionID] = row
	s.b.mu.Unlock()
	return nil
}

func (s *memStore) UpdateChargeItem(_ context.Context, row dbmodel.ChargeItemRow) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	existing, ok := s.b.chargeItems[row.PrescriptionID]
	if !ok {
		return errs.New(errs.NotFound, "memstore.UpdateChargeItem", errNoSuchRow)
	}
	existing.MarkingFlags = row.MarkingFlags
	existing.SignedPrescription = row.SignedPrescription
	existing.UnsignedPrescription = row.UnsignedPrescription
	existing.SignedDispense = row.SignedDispense
	existing.UnsignedDispense = row.UnsignedDispense
	existing.SignedReceipt = row.SignedReceipt
	existing.UnsignedReceipt = row.UnsignedReceipt
	existing.LastModified = time.Now().UTC()
	s.b.chargeItems[row.PrescriptionID] = existing
	return nil
}

func (s *memStore) RetrieveChargeItem(_ context.Context, prescriptionID uint64) (*dbmodel.ChargeItemRow, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	row, ok := s.b.chargeItems[prescriptionID]
	if !ok {
		return nil, errs.New(errs.NotFound, "memstore.RetrieveChargeItem", errNoSuchRow)
	}
	cp := row
	return &cp, nil
}

func (s *memStore) ListChargeItems(_ context.Context, kvnrHash []byte, paging Paging) ([]dbmodel.ChargeItemRow, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var rows []dbmodel.ChargeItemRow
	for _, row := range s.b.chargeItems {
		if string(row.KvnrHashed) == string(kvnrHash) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].EnteredDate.Before(rows[j].EnteredDate) })
	return applyPaging(rows, paging), nil
}

func (s *memStore) CountChargeItems(_ context.Context, kvnrHash []byte) (int, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	n := 0
	for _, row := range s.b.chargeItems {
		if string(row.KvnrHashed) == string(kvnrHash) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteChargeItem(ctx context.Context, prescriptionID uint64) error {
	if err := s.DeleteCommunicationsForChargeItem(ctx, prescriptionID); err != nil {
		return err
	}
	s.b.mu.Lock()
	delete(s.b.chargeItems, prescriptionID)
	s.b.mu.Unlock()
	return nil
}

func (s *memStore) ClearChargeItemsForKvnr(ctx context.Context, kvnrHash []byte) error {
	if err := s.DeleteChargeItemCommunicationsForKvnr(ctx, kvnrHash); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	for k, row := range s.b.chargeItems {
		if string(row.KvnrHashed) == string(kvnrHash) {
			delete(s.b.chargeItems, k)
		}
	}
	return nil
}

func (s *memStore) StoreConsent(_ context.Context, row dbmodel.ConsentRow) error {
	s.b.mu.Lock()
	s.b.consents[string(row.KvnrHashed)] = row
	s.b.mu.Unlock()
	return nil
}

func (s *memStore) RetrieveConsentCreationTime(_ context.Context, kvnrHash []byte) (*time.Time, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	row, ok := s.b.consents[string(kvnrHash)]
	if !ok {
		return nil, nil
	}
	t := row.CreatedAt
	return &t, nil
}

func (s *memStore) ClearConsent(_ context.Context, kvnrHash []byte) error {
	s.b.mu.Lock()
	delete(s.b.consents, string(kvnrHash))
	s.b.mu.Unlock()
	return nil
}

func (s *memStore) GetGeneration(_ context.Context, account []byte, purpose hsm.Purpose, blobID hsm.BlobID) (hsm.Generation, bool, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	gen, ok := s.b.accountSalts[accountKey(account, purpose, blobID)]
	return gen, ok, nil
}

func (s *memStore) InsertGeneration(_ context.Context, account []byte, purpose hsm.Purpose, gen hsm.Generation) (hsm.Generation, bool, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	key := accountKey(account, purpose, gen.BlobID)
	if existing, ok := s.b.accountSalts[key]; ok {
		return existing, false, nil
	}
	s.b.accountSalts[key] = gen
	return gen, true, nil
}

func (s *memStore) GetCmac(_ context.Context, validDate time.Time, category string) ([]byte, bool, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	c, ok := s.b.cmacs[cmacKey(validDate, category)]
	return c, ok, nil
}

func (s *memStore) InsertCmac(_ context.Context, validDate time.Time, category string, cmac []byte) ([]byte, bool, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	key := cmacKey(validDate, category)
	if existing, ok := s.b.cmacs[key]; ok {
		return existing, false, nil
	}
	s.b.cmacs[key] = cmac
	return cmac, true, nil
}

func (s *memStore) SchemaVersion(_ context.Context) (int, error) {
	return s.b.schemaVersion, nil
}

func (s *memStore) Healthcheck(_ context.Context) error { return nil }

func (s *memStore) IsBlobUsed(_ context.Context, purpose hsm.Purpose, blobID hsm.BlobID) (bool, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	for _, gen := range s.b.accountSalts {
		if gen.BlobID == blobID {
			return true, nil
		}
	}
	for _, ft := range dbmodel.AllFlowTypes {
		for _, row := range s.b.tasks[ft] {
			if (row.TaskKeyBlobID != nil && *row.TaskKeyBlobID == blobID) ||
				(row.MedicationDispenseBlobID != nil && *row.MedicationDispenseBlobID == blobID) {
				return true, nil
			}
		}
	}
	for _, c := range s.b.communications {
		if (c.SenderBlobID != nil && *c.SenderBlobID == blobID) || (c.RecipientBlobID != nil && *c.RecipientBlobID == blobID) {
			return true, nil
		}
	}
	for _, e := range s.b.auditEvents {
		if e.BlobID != nil && *e.BlobID == blobID {
			return true, nil
		}
	}
	for _, c := range s.b.chargeItems {
		if c.BlobID != nil && *c.BlobID == blobID {
			return true, nil
		}
	}
	return false, nil
}

var _ Store = (*memStore)(nil)
