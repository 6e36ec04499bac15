package search

import (
	"fmt"
	"strings"

	"github.com/erprx/datastore/pkg/suuid"
)

// sqlBuilder accumulates a WHERE fragment and its positional ($N)
// argument list, numbering placeholders from a caller-supplied offset
// so this fragment can be spliced after other WHERE clauses.
type sqlBuilder struct {
	sb   strings.Builder
	args []any
	next int
}

func newSQLBuilder(startArg int) *sqlBuilder {
	return &sqlBuilder{next: startArg}
}

func (b *sqlBuilder) placeholder(v any) string {
	b.args = append(b.args, v)
	p := fmt.Sprintf("$%d", b.next)
	b.next++
	return p
}

// renderComparison appends one value's comparison against column, per
// the prefix table in spec.md §4.6 (B=lower bound inclusive, E=upper
// bound exclusive, T=target column).
func (b *sqlBuilder) renderComparison(column string, kind Kind, prefix Prefix, v value) string {
	if kind.isDateLike() {
		return b.renderDateComparison(column, kind, prefix, v)
	}
	ph := b.placeholder(v.scalar)
	if kind == KindString {
		return fmt.Sprintf("LOWER(%s) = %s", column, ph)
	}
	return fmt.Sprintf("%s = %s", column, ph)
}

func (b *sqlBuilder) renderDateComparison(column string, kind Kind, prefix Prefix, v value) string {
	if v.interval == nil {
		// The literal "NULL": only eq is meaningful.
		return fmt.Sprintf("%s IS NULL", column)
	}
	lower, upper := v.interval.Lower, v.interval.Upper
	var lowerArg, upperArg any = lower, upper
	if kind == KindDateAsUuid {
		l := suuid.LowerBound(lower)
		u := suuid.LowerBound(upper)
		lowerArg, upperArg = l[:], u[:]
	}

	switch prefix {
	case PrefixEQ:
		b1 := b.placeholder(lowerArg)
		e1 := b.placeholder(upperArg)
		return fmt.Sprintf("(%s >= %s AND %s < %s)", column, b1, column, e1)
	case PrefixNE:
		b1 := b.placeholder(lowerArg)
		e1 := b.placeholder(upperArg)
		return fmt.Sprintf("(%s < %s OR %s >= %s)", column, b1, column, e1)
	case PrefixGT, PrefixSA:
		e1 := b.placeholder(upperArg)
		return fmt.Sprintf("%s >= %s", column, e1)
	case PrefixGE:
		b1 := b.placeholder(lowerArg)
		return fmt.Sprintf("%s >= %s", column, b1)
	case PrefixLT, PrefixEB:
		b1 := b.placeholder(lowerArg)
		return fmt.Sprintf("%s < %s", column, b1)
	case PrefixLE:
		e1 := b.placeholder(upperArg)
		return fmt.Sprintf("%s < %s", column, e1)
	default:
		return "FALSE"
	}
}

func (b *sqlBuilder) renderArgument(arg Argument) string {
	if len(arg.values) == 0 {
		return ""
	}
	parts := make([]string, 0, len(arg.values))
	for _, v := range arg.values {
		parts = append(parts, b.renderComparison(arg.Param.NameDB, arg.Param.Kind, arg.Prefix, v))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// WhereSQL renders the AND of every search argument's (possibly
// OR-joined) comparison, starting placeholder numbering at startArg
// (the 1-based index of the first placeholder this fragment should
// use). Returns "" with no args if there are no search arguments.
func (ua *UrlArguments) WhereSQL(startArg int) (string, []any) {
	b := newSQLBuilder(startArg)
	var clauses []string
	for _, arg := range ua.searchArguments {
		if frag := b.renderArgument(arg); frag != "" {
			clauses = append(clauses, frag)
		}
	}
	for _, arg := range ua.hiddenSearchArguments {
		if frag := b.renderArgument(arg); frag != "" {
			clauses = append(clauses, frag)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return strings.Join(clauses, "\n  AND "), b.args
}
