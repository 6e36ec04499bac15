// Package dbmodel holds the row-level types shared between the storage
// backend and the domain frontend: flow-type and status enumerations, the
// blob-id type, and the encrypted row structs that mirror the SQL schema
// column-for-column.
//
// Grounded on the teacher's pkg/types.go, which declares its domain enums
// as named string/int types with a const block rather than an iota-only
// int with no symbol table — generalized here to the flow-type/status
// enums original_source's ErpDatabaseModel.hxx defines.
package dbmodel

import (
	"fmt"

	"github.com/erprx/datastore/pkg/errs"
)

// FlowType is the two-digit prescription classifier that both selects
// the physical task table and determines ChargeItem eligibility.
type FlowType int

const (
	FlowTypePharmacyOnly        FlowType = 160
	FlowTypeDigitalHealthApp    FlowType = 162
	FlowTypeDirectAssignment    FlowType = 169
	FlowTypePKV                 FlowType = 200
	FlowTypePKVDirectAssignment FlowType = 209
)

// AllFlowTypes enumerates the five valid flow-types, in table-creation
// order; used to iterate the five physical task tables.
var AllFlowTypes = []FlowType{
	FlowTypePharmacyOnly,
	FlowTypeDigitalHealthApp,
	FlowTypeDirectAssignment,
	FlowTypePKV,
	FlowTypePKVDirectAssignment,
}

func (f FlowType) Valid() bool {
	for _, v := range AllFlowTypes {
		if v == f {
			return true
		}
	}
	return false
}

// IsPKV reports whether this flow-type is billed under private
// insurance, the only class for which a ChargeItem may exist.
func (f FlowType) IsPKV() bool {
	return f == FlowTypePKV || f == FlowTypePKVDirectAssignment
}

// TableSuffix returns the physical task table's flow-type suffix, e.g.
// "160" for task_160.
func (f FlowType) TableSuffix() (string, error) {
	if !f.Valid() {
		return "", errs.New(errs.BadRequest, "FlowType.TableSuffix", fmt.Errorf("unknown flow-type %d", int(f)))
	}
	return fmt.Sprintf("%d", int(f)), nil
}

// RequirePKV returns a BadRequest error unless f is a PKV flow-type,
// enforcing spec's "ChargeItems are valid only for 200/209" invariant at
// every call site that touches a ChargeItem.
func (f FlowType) RequirePKV(op string) error {
	if !f.IsPKV() {
		return errs.New(errs.BadRequest, op, fmt.Errorf("charge items are only valid for PKV flow-types (200, 209), got %d", int(f)))
	}
	return nil
}
