package domain

import (
	"encoding/json"
	"fmt"

	"github.com/erprx/datastore/pkg/errs"
)

// AccessTokenIdentity is a snapshot of the caller identity presented at
// activation (doctor) or dispense (pharmacy) time: a TelematikId plus the
// display name and professional OID the access token carried. Stored
// encrypted alongside the prescription/receipt it accompanies.
//
// Grounded on original_source's db_model::AccessTokenIdentity
// (shared/database/AccessTokenIdentity.hxx), which snapshots the same
// three fields off a JWT at the same two call sites.
type AccessTokenIdentity struct {
	TelematikID string `json:"telematikId"`
	Name        string `json:"name"`
	OID         string `json:"oid"`
}

// ToJSON serializes the snapshot for storage in an encrypted column.
func (a AccessTokenIdentity) ToJSON() ([]byte, error) {
	const op = "domain.AccessTokenIdentity.ToJSON"
	b, err := json.Marshal(a)
	if err != nil {
		return nil, errs.New(errs.InternalServerError, op, fmt.Errorf("marshal access token identity: %w", err))
	}
	return b, nil
}

// AccessTokenIdentityFromJSON reverses ToJSON.
func AccessTokenIdentityFromJSON(data []byte) (AccessTokenIdentity, error) {
	const op = "domain.AccessTokenIdentityFromJSON"
	var a AccessTokenIdentity
	if err := json.Unmarshal(data, &a); err != nil {
		return AccessTokenIdentity{}, errs.New(errs.InternalServerError, op, fmt.Errorf("unmarshal access token identity: %w", err))
	}
	return a, nil
}
