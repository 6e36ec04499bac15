package dbmodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/erprx/datastore/pkg/errs"
)

// PrescriptionID is the (flow-type, 64-bit serial) pair that addresses a
// Task and, for PKV flow-types, its ChargeItem.
type PrescriptionID struct {
	FlowType FlowType
	Serial   uint64
}

// String renders the plain "<flowtype>-<serial>" form the storage layer
// and ChargeItem derivation data use. The dotted display grouping
// original_source emits for PrescriptionId::toString (e.g.
// "160.000.000.004.711.99") is not produced here.
func (p PrescriptionID) String() string {
	return fmt.Sprintf("%d-%d", int(p.FlowType), p.Serial)
}

// ParsePrescriptionID parses "naming_system|id" (the PrescriptionId
// SearchParameter's PrescriptionId Kind) or the plain "<flowtype>-<serial>"
// form this module itself produces.
func ParsePrescriptionID(s string) (PrescriptionID, error) {
	const op = "dbmodel.ParsePrescriptionID"
	value := s
	if idx := strings.LastIndex(s, "|"); idx >= 0 {
		value = s[idx+1:]
	}
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 {
		parts = strings.SplitN(value, ".", 2)
	}
	if len(parts) != 2 {
		return PrescriptionID{}, errs.New(errs.BadRequest, op, fmt.Errorf("malformed prescription id %q", s))
	}

	flowType, err := strconv.Atoi(parts[0])
	if err != nil {
		return PrescriptionID{}, errs.New(errs.BadRequest, op, fmt.Errorf("malformed flow-type in %q: %w", s, err))
	}
	serial, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return PrescriptionID{}, errs.New(errs.BadRequest, op, fmt.Errorf("malformed serial in %q: %w", s, err))
	}

	ft := FlowType(flowType)
	if !ft.Valid() {
		return PrescriptionID{}, errs.New(errs.BadRequest, op, fmt.Errorf("unknown flow-type %d in %q", flowType, s))
	}
	return PrescriptionID{FlowType: ft, Serial: serial}, nil
}
