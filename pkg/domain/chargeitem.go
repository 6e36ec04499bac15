package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/erprx/datastore/pkg/audit"
	"github.com/erprx/datastore/pkg/codec"
	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/hsm"
	"github.com/erprx/datastore/pkg/storage"
)

// ChargeItem is the plaintext view of one charge_item row, valid only
// for PKV flow-types (200, 209).
type ChargeItem struct {
	ID                   dbmodel.PrescriptionID
	EnteredDate          time.Time
	LastModified         time.Time
	Enterer              string
	Kvnr                 string
	MarkingFlags         []byte
	SignedPrescription   []byte
	UnsignedPrescription []byte
	SignedDispense       []byte
	UnsignedDispense     []byte
	SignedReceipt        []byte
	UnsignedReceipt      []byte
}

// StoreChargeItem rejects non-PKV flow-types before ever touching the
// key-derivation service or the storage backend — the access-control
// decision belongs here, not inside pkg/storage, which is a dumb
// encrypted-row CRUD layer by design.
func (f *Frontend) StoreChargeItem(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID, enterer, kvnr string, markingFlags, signedPrescription, unsignedPrescription []byte, ac AuditContext) error {
	const op = "domain.Frontend.StoreChargeItem"
	if err := id.FlowType.RequirePKV(op); err != nil {
		return err
	}

	key, gen, err := f.kd.ChargeItemKey(ctx, id.String())
	if err != nil {
		return err
	}

	kvnrHashed, err := f.hasher.HashKvnr(ctx, kvnr)
	if err != nil {
		return err
	}

	encEnterer, err := f.encryptColumn([]byte(enterer), key, codec.DictNone)
	if err != nil {
		return err
	}
	encKvnr, err := f.encryptColumn([]byte(kvnr), key, codec.DictNone)
	if err != nil {
		return err
	}
	encMarking, err := f.encryptColumn(markingFlags, key, codec.DictNone)
	if err != nil {
		return err
	}
	encSigned, err := f.encryptColumn(signedPrescription, key, codec.DictDefaultXML)
	if err != nil {
		return err
	}
	encUnsigned, err := f.encryptColumn(unsignedPrescription, key, codec.DictDefaultXML)
	if err != nil {
		return err
	}

	row := dbmodel.ChargeItemRow{
		PrescriptionID:       id.Serial,
		FlowType:             id.FlowType,
		EnteredDate:          time.Now().UTC(),
		BlobID:               &gen.BlobID,
		Salt:                 gen.Salt,
		Enterer:              encEnterer,
		KvnrHashed:           kvnrHashed,
		Kvnr:                 encKvnr,
		MarkingFlags:         encMarking,
		SignedPrescription:   encSigned,
		UnsignedPrescription: encUnsigned,
	}
	if err := store.StoreChargeItem(ctx, row); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("store charge item %s: %w", id, err))
	}

	return f.appendAudit(ctx, store, ac, kvnrHashed, &id.Serial, audit.ActionCreate, nil)
}

// chargeItemKeyForGeneration re-derives a ChargeItem's key from the
// generation already recorded on its row.
func (f *Frontend) chargeItemKeyForGeneration(ctx context.Context, id dbmodel.PrescriptionID, row *dbmodel.ChargeItemRow) ([]byte, error) {
	const op = "domain.Frontend.chargeItemKeyForGeneration"
	if row.BlobID == nil {
		return nil, errs.New(errs.LogicError, op, fmt.Errorf("charge item %s has no key generation on file", id))
	}
	return f.kd.ChargeItemKeyForGeneration(ctx, id.String(), hsm.Generation{BlobID: *row.BlobID, Salt: row.Salt})
}

func (f *Frontend) chargeItemFromRow(ctx context.Context, id dbmodel.PrescriptionID, row *dbmodel.ChargeItemRow) (ChargeItem, error) {
	key, err := f.chargeItemKeyForGeneration(ctx, id, row)
	if err != nil {
		return ChargeItem{}, err
	}

	item := ChargeItem{ID: id, EnteredDate: row.EnteredDate, LastModified: row.LastModified}

	enterer, err := f.decryptColumn(row.Enterer, key, codec.DictNone)
	if err != nil {
		return ChargeItem{}, err
	}
	item.Enterer = string(enterer)

	kvnr, err := f.decryptColumn(row.Kvnr, key, codec.DictNone)
	if err != nil {
		return ChargeItem{}, err
	}
	item.Kvnr = string(kvnr)

	if item.MarkingFlags, err = f.decryptColumn(row.MarkingFlags, key, codec.DictNone); err != nil {
		return ChargeItem{}, err
	}
	if item.SignedPrescription, err = f.decryptColumn(row.SignedPrescription, key, codec.DictDefaultXML); err != nil {
		return ChargeItem{}, err
	}
	if item.UnsignedPrescription, err = f.decryptColumn(row.UnsignedPrescription, key, codec.DictDefaultXML); err != nil {
		return ChargeItem{}, err
	}
	if item.SignedDispense, err = f.decryptColumn(row.SignedDispense, key, codec.DictDefaultXML); err != nil {
		return ChargeItem{}, err
	}
	if item.UnsignedDispense, err = f.decryptColumn(row.UnsignedDispense, key, codec.DictDefaultXML); err != nil {
		return ChargeItem{}, err
	}
	if item.SignedReceipt, err = f.decryptColumn(row.SignedReceipt, key, codec.DictDefaultXML); err != nil {
		return ChargeItem{}, err
	}
	if item.UnsignedReceipt, err = f.decryptColumn(row.UnsignedReceipt, key, codec.DictDefaultXML); err != nil {
		return ChargeItem{}, err
	}
	return item, nil
}

// RetrieveChargeItem decrypts one ChargeItem, re-deriving its key from
// the (blob-id, salt) recorded on the row.
func (f *Frontend) RetrieveChargeItem(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID, ac AuditContext) (ChargeItem, error) {
	const op = "domain.Frontend.RetrieveChargeItem"
	if err := id.FlowType.RequirePKV(op); err != nil {
		return ChargeItem{}, err
	}

	row, err := store.RetrieveChargeItem(ctx, id.Serial)
	if err != nil {
		return ChargeItem{}, err
	}
	item, err := f.chargeItemFromRow(ctx, id, row)
	if err != nil {
		return ChargeItem{}, err
	}

	if err := f.appendAudit(ctx, store, ac, row.KvnrHashed, &id.Serial, audit.ActionRead, nil); err != nil {
		return ChargeItem{}, err
	}
	return item, nil
}

// UpdateChargeItem re-derives the ChargeItem's existing key (it is never
// re-derived fresh on update, per original_source's updateChargeInformation
// taking the stored blobId/salt rather than requesting a new generation)
// and re-encrypts the fields a billing update can change.
func (f *Frontend) UpdateChargeItem(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID, markingFlags, signedDispense, unsignedDispense, signedReceipt, unsignedReceipt []byte, ac AuditContext) error {
	const op = "domain.Frontend.UpdateChargeItem"
	if err := id.FlowType.RequirePKV(op); err != nil {
		return err
	}

	existing, err := store.RetrieveChargeItem(ctx, id.Serial)
	if err != nil {
		return err
	}
	key, err := f.chargeItemKeyForGeneration(ctx, id, existing)
	if err != nil {
		return err
	}

	row := *existing
	if row.MarkingFlags, err = f.encryptColumn(markingFlags, key, codec.DictNone); err != nil {
		return err
	}
	if row.SignedDispense, err = f.encryptColumn(signedDispense, key, codec.DictDefaultXML); err != nil {
		return err
	}
	if row.UnsignedDispense, err = f.encryptColumn(unsignedDispense, key, codec.DictDefaultXML); err != nil {
		return err
	}
	if row.SignedReceipt, err = f.encryptColumn(signedReceipt, key, codec.DictDefaultXML); err != nil {
		return err
	}
	if row.UnsignedReceipt, err = f.encryptColumn(unsignedReceipt, key, codec.DictDefaultXML); err != nil {
		return err
	}

	if err := store.UpdateChargeItem(ctx, row); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("update charge item %s: %w", id, err))
	}
	return f.appendAudit(ctx, store, ac, existing.KvnrHashed, &id.Serial, audit.ActionUpdate, nil)
}

// ListChargeItems decrypts every ChargeItem on file for kvnr.
func (f *Frontend) ListChargeItems(ctx context.Context, store storage.Store, kvnr string, paging storage.Paging, ac AuditContext) ([]ChargeItem, error) {
	kvnrHashed, err := f.hasher.HashKvnr(ctx, kvnr)
	if err != nil {
		return nil, err
	}
	rows, err := store.ListChargeItems(ctx, kvnrHashed, paging)
	if err != nil {
		return nil, err
	}

	out := make([]ChargeItem, 0, len(rows))
	for i := range rows {
		row := rows[i]
		id := dbmodel.PrescriptionID{FlowType: row.FlowType, Serial: row.PrescriptionID}
		item, err := f.chargeItemFromRow(ctx, id, &row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := f.appendAudit(ctx, store, ac, kvnrHashed, nil, audit.ActionRead, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// CountChargeItems reports how many ChargeItems are on file for kvnr,
// without decrypting any of them.
func (f *Frontend) CountChargeItems(ctx context.Context, store storage.Store, kvnr string) (int, error) {
	kvnrHashed, err := f.hasher.HashKvnr(ctx, kvnr)
	if err != nil {
		return 0, err
	}
	return store.CountChargeItems(ctx, kvnrHashed)
}

// DeleteChargeItem removes one ChargeItem and its associated
// communications.
func (f *Frontend) DeleteChargeItem(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID, kvnrHashed []byte, ac AuditContext) error {
	const op = "domain.Frontend.DeleteChargeItem"
	if err := id.FlowType.RequirePKV(op); err != nil {
		return err
	}
	if err := store.DeleteChargeItem(ctx, id.Serial); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete charge item %s: %w", id, err))
	}
	return f.appendAudit(ctx, store, ac, kvnrHashed, &id.Serial, audit.ActionDelete, nil)
}

// ClearChargeItemsForKvnr removes every ChargeItem on file for kvnr, the
// S6-family counterpart of a Task's ClearPersonalData.
func (f *Frontend) ClearChargeItemsForKvnr(ctx context.Context, store storage.Store, kvnr string, ac AuditContext) error {
	const op = "domain.Frontend.ClearChargeItemsForKvnr"
	kvnrHashed, err := f.hasher.HashKvnr(ctx, kvnr)
	if err != nil {
		return err
	}
	if err := store.ClearChargeItemsForKvnr(ctx, kvnrHashed); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("clear charge items for kvnr: %w", err))
	}
	return f.appendAudit(ctx, store, ac, kvnrHashed, nil, audit.ActionDelete, nil)
}
