package storage

import (
	"fmt"

	"github.com/erprx/datastore/pkg/dbmodel"
)

// taskTableName maps a flow-type to its physical table, per spec.md
// §4.4's "tagged enumeration, not inheritance" design note: a single
// function plus one struct of parametric SQL statements, rather than a
// type hierarchy per flow-type.
func taskTableName(ft dbmodel.FlowType) (string, error) {
	suffix, err := ft.TableSuffix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("task_%s", suffix), nil
}

const taskColumns = `prescription_id, kvnr_hashed, kvnr, authored_on, last_modified,
	last_status_update, status, expiry_date, accept_date, task_key_blob_id, salt,
	access_code, secret, owner, healthcare_provider_prescription, doctor_identity,
	receipt, pharmacy_identity, medication_dispense_bundle, medication_dispense_blob_id,
	medication_dispense_salt, performer, when_handed_over, when_prepared, last_medication_dispense`
