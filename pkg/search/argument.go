package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/erprx/datastore/pkg/dbmodel"
	"github.com/erprx/datastore/pkg/errs"
)

// value is one parsed, database-ready comparison value for an
// Argument: for date-like kinds it carries an interval (nil meaning the
// literal "NULL"), otherwise it carries an already-encoded scalar bound
// for placeholders.
type value struct {
	interval *interval // date-like kinds only
	scalar   any        // string/[]byte/int, non-date kinds only
}

// Argument is one parsed search argument: a prefix, the parameter it
// belongs to, and one or more comparison values (multiple values from
// a comma-separated raw string disjoin with OR).
//
// Grounded on original_source's SearchArgument (prefix, nameDb, nameUrl,
// type, values).
type Argument struct {
	Prefix  Prefix
	Param   Parameter
	Raw     []string
	values  []value
}

// splitPrefixFromValues splits an optional two-letter FHIR prefix from
// the front of a raw value (defaulting to "eq" when absent, and always
// "eq" for non-date-like kinds where prefixes aren't meaningful).
func splitPrefixFromValues(raw string, kind Kind) (Prefix, string) {
	if !kind.isDateLike() {
		return PrefixEQ, raw
	}
	if len(raw) >= 2 {
		candidate := Prefix(raw[:2])
		if candidate.valid() {
			return candidate, raw[2:]
		}
	}
	return PrefixEQ, raw
}

func splitCheckedArgs(op, rawValues string) ([]string, error) {
	parts := strings.Split(rawValues, ",")
	for _, p := range parts {
		if p == "" {
			return nil, errs.New(errs.BadRequest, op, fmt.Errorf("empty value in %q", rawValues))
		}
	}
	return parts, nil
}

func newDateArgument(param Parameter, rawValues string) (Argument, error) {
	const op = "search.newDateArgument"
	prefix, values := splitPrefixFromValues(rawValues, param.Kind)
	parts, err := splitCheckedArgs(op, values)
	if err != nil {
		return Argument{}, err
	}
	arg := Argument{Prefix: prefix, Param: param, Raw: parts}
	for _, p := range parts {
		if p == "NULL" {
			arg.values = append(arg.values, value{})
			continue
		}
		iv, err := parseFHIRDate(p)
		if err != nil {
			return Argument{}, err
		}
		arg.values = append(arg.values, value{interval: &iv})
	}
	return arg, nil
}

func newStringArgument(param Parameter, rawValues string) (Argument, error) {
	const op = "search.newStringArgument"
	parts, err := splitCheckedArgs(op, rawValues)
	if err != nil {
		return Argument{}, err
	}
	arg := Argument{Prefix: PrefixEQ, Param: param, Raw: parts}
	for _, p := range parts {
		arg.values = append(arg.values, value{scalar: strings.ToLower(param.encode(p))})
	}
	return arg, nil
}

// hasher is the subset of pkg/hashedid.Hasher the search translator
// needs; kept as an interface so this package doesn't import pkg/hsm's
// transitive dependency surface.
type hasher interface {
	HashIdentity(ctx context.Context, identity string) ([]byte, error)
}

func newIdentityArgument(ctx context.Context, param Parameter, rawValues string, h hasher) (Argument, error) {
	const op = "search.newIdentityArgument"
	parts, err := splitCheckedArgs(op, rawValues)
	if err != nil {
		return Argument{}, err
	}
	arg := Argument{Prefix: PrefixEQ, Param: param, Raw: parts}
	for _, p := range parts {
		hashed, err := h.HashIdentity(ctx, param.encode(p))
		if err != nil {
			return Argument{}, err
		}
		arg.values = append(arg.values, value{scalar: hashed})
	}
	return arg, nil
}

func newTaskStatusArgument(param Parameter, rawValues string) (Argument, error) {
	const op = "search.newTaskStatusArgument"
	parts, err := splitCheckedArgs(op, rawValues)
	if err != nil {
		return Argument{}, err
	}
	arg := Argument{Prefix: PrefixEQ, Param: param, Raw: parts}
	for _, p := range parts {
		status, ok := dbmodel.ParseTaskStatus(p)
		if !ok {
			return Argument{}, errs.New(errs.BadRequest, op, fmt.Errorf("unknown task status %q", p))
		}
		arg.values = append(arg.values, value{scalar: int(status)})
	}
	return arg, nil
}

func newPrescriptionIDArgument(param Parameter, rawValues string) (Argument, error) {
	const op = "search.newPrescriptionIDArgument"
	parts, err := splitCheckedArgs(op, rawValues)
	if err != nil {
		return Argument{}, err
	}
	arg := Argument{Prefix: PrefixEQ, Param: param, Raw: parts}
	for _, p := range parts {
		id, err := dbmodel.ParsePrescriptionID(p)
		if err != nil {
			return Argument{}, err
		}
		arg.values = append(arg.values, value{scalar: strconv.FormatUint(id.Serial, 10)})
	}
	return arg, nil
}
