// Package search translates URL search/sort/paging query parameters
// into typed arguments and renders them as SQL WHERE/ORDER BY/LIMIT
// fragments, respecting the hashed- and time-prefixed-id column
// semantics pkg/storage's tables use.
//
// Grounded on original_source's erp/util/search package
// (SearchParameter, UrlArguments, SortArgument, PagingArgument),
// generalized from its pqxx-connection-bound C++ shape to a
// driver-agnostic Go one: this package renders named placeholders
// (`$1`, `$2`, ...) and a matching argument slice rather than
// escaping values itself, letting pgx bind them safely.
package search

// Kind is a FHIR search-parameter type restricted to what the
// prescription data layer's endpoints actually need (the general FHIR
// type system is much larger).
type Kind int

const (
	// SQLDate compares against a plain date column using Postgres's
	// native date format (YYYY, YYYY-mm, or YYYY-mm-dd).
	KindSQLDate Kind = iota
	// Date compares against a timestamp column, treating the stored
	// value as an instant (so "sa" and "gt" coincide, as do "eb"/"lt").
	KindDate
	// DateAsUuid rewrites a date comparison into a lexicographic
	// comparison against a time-prefixed id column (pkg/suuid).
	KindDateAsUuid
	// String compares case-insensitively and only for equality.
	KindString
	// HashedIdentity hashes the raw search value via pkg/hashedid
	// before comparing it to the indexed hashed column.
	KindHashedIdentity
	// TaskStatus maps a status name to its numeric representation.
	KindTaskStatus
	// PrescriptionId parses "system|id" or the bare "<flowtype>-<serial>"
	// form.
	KindPrescriptionId
)

func (k Kind) String() string {
	switch k {
	case KindSQLDate:
		return "SQLDate"
	case KindDate:
		return "Date"
	case KindDateAsUuid:
		return "DateAsUuid"
	case KindString:
		return "String"
	case KindHashedIdentity:
		return "HashedIdentity"
	case KindTaskStatus:
		return "TaskStatus"
	case KindPrescriptionId:
		return "PrescriptionId"
	default:
		return "unknown"
	}
}

// isDateLike reports whether comparisons of this kind go through the
// interval-prefix table (eq/ne/gt/ge/lt/le/sa/eb) rather than plain
// equality.
func (k Kind) isDateLike() bool {
	return k == KindSQLDate || k == KindDate || k == KindDateAsUuid
}

// Prefix is a FHIR search-value comparison prefix, restricted to the
// eight the data layer supports for date-like parameters ("ap" is not
// supported, per spec).
type Prefix string

const (
	PrefixEQ Prefix = "eq"
	PrefixNE Prefix = "ne"
	PrefixGT Prefix = "gt"
	PrefixGE Prefix = "ge"
	PrefixLT Prefix = "lt"
	PrefixLE Prefix = "le"
	PrefixSA Prefix = "sa"
	PrefixEB Prefix = "eb"
)

func (p Prefix) valid() bool {
	switch p {
	case PrefixEQ, PrefixNE, PrefixGT, PrefixGE, PrefixLT, PrefixLE, PrefixSA, PrefixEB:
		return true
	default:
		return false
	}
}
