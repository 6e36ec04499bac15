package domain

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erprx/datastore/pkg/audit"
	"github.com/erprx/datastore/pkg/codec"
	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/hsm"
	"github.com/erprx/datastore/pkg/storage"
	"github.com/erprx/datastore/pkg/suuid"
)

// Communication is the plaintext view of one message. Both sender and
// recipient see the identical Message text; each reads it back through
// their own encrypted copy.
type Communication struct {
	ID             uuid.UUID
	MessageType    int
	Received       *time.Time
	PrescriptionID *dbmodel.PrescriptionID
	Message        []byte
}

// InsertCommunication encrypts message twice, once per endpoint, each
// under that endpoint's own key (hashed-identity + blob-id + salt), and
// inserts one row carrying both ciphertexts. auditKvnrHashed tags the
// audit row — whichever side of the exchange is the patient.
func (f *Frontend) InsertCommunication(ctx context.Context, store storage.Store, messageType int, sender, recipient string, prescriptionID *dbmodel.PrescriptionID, message []byte, auditKvnrHashed []byte, ac AuditContext) (uuid.UUID, error) {
	const op = "domain.Frontend.InsertCommunication"

	id, err := suuid.New(time.Now())
	if err != nil {
		return uuid.UUID{}, errs.New(errs.InternalServerError, op, fmt.Errorf("generate id: %w", err))
	}

	senderHash, err := f.hasher.HashIdentity(ctx, sender)
	if err != nil {
		return uuid.UUID{}, err
	}
	recipientHash, err := f.hasher.HashIdentity(ctx, recipient)
	if err != nil {
		return uuid.UUID{}, err
	}

	encForSender, senderBlobID, err := f.encryptForCommunicationEndpoint(ctx, store, sender, senderHash, message)
	if err != nil {
		return uuid.UUID{}, err
	}
	encForRecipient, recipientBlobID, err := f.encryptForCommunicationEndpoint(ctx, store, recipient, recipientHash, message)
	if err != nil {
		return uuid.UUID{}, err
	}

	row := dbmodel.CommunicationRow{
		ID:                  [16]byte(id),
		MessageType:         messageType,
		Sender:              senderHash,
		Recipient:           recipientHash,
		SenderBlobID:        &senderBlobID,
		MessageForSender:    encForSender,
		RecipientBlobID:     &recipientBlobID,
		MessageForRecipient: encForRecipient,
	}
	if prescriptionID != nil {
		row.PrescriptionID = &prescriptionID.Serial
		ft := prescriptionID.FlowType
		row.PrescriptionType = &ft
	}

	if err := store.InsertCommunication(ctx, row); err != nil {
		return uuid.UUID{}, errs.New(errs.TransientIO, op, fmt.Errorf("insert communication: %w", err))
	}

	var presSerial *uint64
	if prescriptionID != nil {
		presSerial = &prescriptionID.Serial
	}
	if err := f.appendAudit(ctx, store, ac, auditKvnrHashed, presSerial, audit.ActionCreate, nil); err != nil {
		return uuid.UUID{}, err
	}
	return uuid.UUID(id), nil
}

func (f *Frontend) encryptForCommunicationEndpoint(ctx context.Context, store storage.Store, identity string, identityHash []byte, message []byte) ([]byte, hsm.BlobID, error) {
	key, gen, err := f.kd.CommunicationKey(ctx, store, identity, identityHash)
	if err != nil {
		return nil, 0, err
	}
	blob, err := f.codec.Encode(message, key, codec.DictDefaultJSON)
	if err != nil {
		return nil, 0, err
	}
	return blob, gen.BlobID, nil
}

// RetrieveCommunication lists messages addressed to or from asIdentity,
// decrypting each row's copy for that side of the exchange. Each row can
// carry a different generation for asIdentity's side (an account-salt
// rotation may have happened between two messages), so the key is
// re-derived per blob id encountered, memoized so a run of rows sharing
// one generation only derives once. Every returned row for which
// asIdentity is the recipient and whose received timestamp is still
// unset gets that timestamp frozen to now, whether or not a single id is
// given (spec's "received-ts is NULL until first retrieved by recipient,
// then frozen").
func (f *Frontend) RetrieveCommunication(ctx context.Context, store storage.Store, asIdentity string, id *[16]byte, paging storage.Paging, ac AuditContext) ([]Communication, error) {
	const op = "domain.Frontend.RetrieveCommunication"

	identityHash, err := f.hasher.HashIdentity(ctx, asIdentity)
	if err != nil {
		return nil, err
	}
	rows, err := store.RetrieveCommunication(ctx, identityHash, id, paging)
	if err != nil {
		return nil, err
	}

	keysByBlobID := make(map[hsm.BlobID][]byte)
	keyForBlobID := func(blobID *hsm.BlobID) ([]byte, error) {
		if blobID == nil {
			return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("communication row has no blob id on file"))
		}
		if key, ok := keysByBlobID[*blobID]; ok {
			return key, nil
		}
		gen, ok, err := store.GetGeneration(ctx, identityHash, hsm.PurposeCommunication, *blobID)
		if err != nil {
			return nil, errs.New(errs.TransientIO, op, fmt.Errorf("read generation for blob id %d: %w", *blobID, err))
		}
		if !ok {
			return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("no salt on file for blob id %d", *blobID))
		}
		key, err := f.kd.CommunicationKeyForGeneration(ctx, asIdentity, identityHash, gen)
		if err != nil {
			return nil, err
		}
		keysByBlobID[*blobID] = key
		return key, nil
	}

	out := make([]Communication, 0, len(rows))
	for _, row := range rows {
		var blob []byte
		var blobID *hsm.BlobID
		isRecipient := bytes.Equal(row.Recipient, identityHash)
		if isRecipient {
			blob = row.MessageForRecipient
			blobID = row.RecipientBlobID
		} else {
			blob = row.MessageForSender
			blobID = row.SenderBlobID
		}
		key, err := keyForBlobID(blobID)
		if err != nil {
			return nil, err
		}
		message, err := f.codec.Decode(blob, key, codec.DictDefaultJSON)
		if err != nil {
			return nil, errs.New(errs.CryptoFailure, op, fmt.Errorf("decode communication %x: %w", row.ID, err))
		}

		if isRecipient && row.Received == nil {
			now := time.Now().UTC()
			if err := store.MarkRetrieved(ctx, row.ID, now); err != nil {
				return nil, err
			}
			row.Received = &now
		}

		c := Communication{
			ID:          uuid.UUID(row.ID),
			MessageType: row.MessageType,
			Received:    row.Received,
			Message:     message,
		}
		if row.PrescriptionID != nil && row.PrescriptionType != nil {
			c.PrescriptionID = &dbmodel.PrescriptionID{FlowType: *row.PrescriptionType, Serial: *row.PrescriptionID}
		}
		out = append(out, c)
	}

	if err := f.appendAudit(ctx, store, ac, identityHash, nil, audit.ActionRead, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// CommunicationExists reports whether a message with id is still on file,
// without decrypting it or touching the audit trail — used by callers
// deciding whether a delete is a no-op before they derive any key.
func (f *Frontend) CommunicationExists(ctx context.Context, store storage.Store, id [16]byte) (bool, error) {
	return store.CommunicationExists(ctx, id)
}

// CountCommunications reports how many messages are addressed to or from
// asIdentity, without decrypting any of them.
func (f *Frontend) CountCommunications(ctx context.Context, store storage.Store, asIdentity string) (int, error) {
	identityHash, err := f.hasher.HashIdentity(ctx, asIdentity)
	if err != nil {
		return 0, err
	}
	return store.CountCommunications(ctx, identityHash)
}

// RetrieveCommunicationIDs lists the bare ids of every message addressed
// to or from asIdentity, without decrypting any message body.
func (f *Frontend) RetrieveCommunicationIDs(ctx context.Context, store storage.Store, asIdentity string) ([]uuid.UUID, error) {
	identityHash, err := f.hasher.HashIdentity(ctx, asIdentity)
	if err != nil {
		return nil, err
	}
	ids, err := store.RetrieveCommunicationIDs(ctx, identityHash)
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, uuid.UUID(id))
	}
	return out, nil
}

// DeleteCommunication removes one message, checked against asSender's hash
// — only the sender may withdraw a message, per original_source's
// deleteCommunication taking the sender's hashed identity as a parameter
// the backend enforces the delete against.
func (f *Frontend) DeleteCommunication(ctx context.Context, store storage.Store, id uuid.UUID, asSender string, ac AuditContext) error {
	const op = "domain.Frontend.DeleteCommunication"
	senderHash, err := f.hasher.HashIdentity(ctx, asSender)
	if err != nil {
		return err
	}
	if err := store.DeleteCommunication(ctx, [16]byte(id), senderHash); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete communication %s: %w", id, err))
	}
	return f.appendAudit(ctx, store, ac, senderHash, nil, audit.ActionDelete, nil)
}

// DeleteCommunicationsForTask removes every message attached to a Task,
// the cascade a Task delete performs.
func (f *Frontend) DeleteCommunicationsForTask(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID) error {
	const op = "domain.Frontend.DeleteCommunicationsForTask"
	if err := store.DeleteCommunicationsForTask(ctx, id.Serial); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete communications for task %s: %w", id, err))
	}
	return nil
}

// DeleteCommunicationsForChargeItem removes every message attached to a
// ChargeItem, the cascade a ChargeItem delete performs.
func (f *Frontend) DeleteCommunicationsForChargeItem(ctx context.Context, store storage.Store, id dbmodel.PrescriptionID) error {
	const op = "domain.Frontend.DeleteCommunicationsForChargeItem"
	if err := store.DeleteCommunicationsForChargeItem(ctx, id.Serial); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete communications for charge item %s: %w", id, err))
	}
	return nil
}

// DeleteChargeItemCommunicationsForKvnr removes every ChargeItem message
// belonging to kvnr, the cascade ClearChargeItemsForKvnr performs.
func (f *Frontend) DeleteChargeItemCommunicationsForKvnr(ctx context.Context, store storage.Store, kvnr string, ac AuditContext) error {
	const op = "domain.Frontend.DeleteChargeItemCommunicationsForKvnr"
	kvnrHashed, err := f.hasher.HashKvnr(ctx, kvnr)
	if err != nil {
		return err
	}
	if err := store.DeleteChargeItemCommunicationsForKvnr(ctx, kvnrHashed); err != nil {
		return errs.New(errs.TransientIO, op, fmt.Errorf("delete charge item communications for kvnr: %w", err))
	}
	return f.appendAudit(ctx, store, ac, kvnrHashed, nil, audit.ActionDelete, nil)
}
