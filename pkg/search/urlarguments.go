package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/erprx/datastore/pkg/errs"
	"github.com/erprx/datastore/pkg/suuid"
	"github.com/google/uuid"
)

// Reverse-include query parameter, the one FHIR _revinclude value the
// data layer recognizes.
const (
	RevIncludeKey          = "_revinclude"
	RevIncludeAuditEventVal = "AuditEvent:entity.what"
)

// LinkMode selects how prev/next page links are rendered: by numeric
// offset, or by bracketing the first/last result's time-prefixed id.
type LinkMode int

const (
	LinkModeOffset LinkMode = iota
	LinkModeID
)

// KV is one (key, value) query-string pair, in parse order.
type KV struct {
	Key   string
	Value string
}

// UrlArguments is the parsed, render-ready result of one search
// request: every value already matched against a Parameter, in the
// order the caller listed them in allowed.
//
// Grounded on original_source's UrlArguments: construct with the
// supported parameter list for an endpoint, Parse a query string, then
// render WHERE/ORDER BY/LIMIT fragments and page links.
type UrlArguments struct {
	allowed     []Parameter
	defaultSort string

	searchArguments       []Argument
	hiddenSearchArguments []Argument
	sortArguments         []Sort
	paging                Paging
	pagingDisabled        bool
	reverseIncludeAudit   bool

	firstResultTime *suuidBound
	lastResultTime  *suuidBound
}

type suuidBound struct {
	id uuid.UUID
}

// New builds a translator for the given allowed parameters. defaultSort
// is applied (rule 9) only if the request carries no explicit "_sort".
func New(allowed []Parameter, defaultSort string) *UrlArguments {
	return &UrlArguments{
		allowed:     allowed,
		defaultSort: defaultSort,
		paging:      newPaging(),
	}
}

func (ua *UrlArguments) lookup(nameURL string) (Parameter, bool) {
	for _, p := range ua.allowed {
		if p.NameURL == nameURL {
			return p, true
		}
	}
	return Parameter{}, false
}

// Parse applies rules 1-9 to a flat list of query parameters, in
// order. hash is used to resolve HashedIdentity parameters; pass nil if
// the parameter set contains none.
func (ua *UrlArguments) Parse(ctx context.Context, params []KV, hash hasher) error {
	const op = "search.UrlArguments.Parse"
	var hasOffset, hasID bool

	for _, kv := range params {
		if kv.Key == "" {
			return errs.New(errs.BadRequest, op, fmt.Errorf("empty query parameter name"))
		}
		switch {
		case kv.Key == SortKey:
			ua.sortArguments = append(ua.sortArguments, parseSortArguments(kv.Value)...)

		case kv.Key == CountKey:
			if err := ua.paging.setCount(kv.Value); err != nil {
				return err
			}

		case kv.Key == OffsetKey:
			if err := ua.paging.setOffset(kv.Value); err != nil {
				return err
			}
			hasOffset = true

		case kv.Key == IDKey:
			arg, err := ua.parseIDArgument(kv.Value)
			if err != nil {
				return err
			}
			ua.hiddenSearchArguments = append(ua.hiddenSearchArguments, arg)
			hasID = true

		case kv.Key == RevIncludeKey && kv.Value == RevIncludeAuditEventVal:
			ua.reverseIncludeAudit = true

		default:
			if err := ua.addSearchArgument(ctx, kv.Key, kv.Value, hash); err != nil {
				return err
			}
		}
	}

	if hasOffset && hasID {
		return errs.New(errs.BadRequest, op, fmt.Errorf("cannot combine _id and __offset paging arguments"))
	}

	if len(ua.sortArguments) == 0 && ua.defaultSort != "" {
		ua.sortArguments = parseSortArguments(ua.defaultSort)
	}
	for i, s := range ua.sortArguments {
		param, ok := ua.lookup(s.NameURL)
		if !ok {
			continue
		}
		ua.sortArguments[i].NameDB = param.NameDB
	}
	return nil
}

// addSearchArgument implements rule 3: unknown parameters are silently
// ignored per FHIR convention.
func (ua *UrlArguments) addSearchArgument(ctx context.Context, name, rawValues string, hash hasher) error {
	param, ok := ua.lookup(name)
	if !ok {
		return nil
	}
	if rawValues == "" {
		return nil
	}

	var arg Argument
	var err error
	switch param.Kind {
	case KindSQLDate, KindDate, KindDateAsUuid:
		arg, err = newDateArgument(param, rawValues)
	case KindString:
		arg, err = newStringArgument(param, rawValues)
	case KindHashedIdentity:
		arg, err = newIdentityArgument(ctx, param, rawValues, hash)
	case KindTaskStatus:
		arg, err = newTaskStatusArgument(param, rawValues)
	case KindPrescriptionId:
		arg, err = newPrescriptionIDArgument(param, rawValues)
	default:
		return errs.New(errs.InternalServerError, "search.UrlArguments.addSearchArgument", fmt.Errorf("unhandled kind %s", param.Kind))
	}
	if err != nil {
		return err
	}
	ua.searchArguments = append(ua.searchArguments, arg)
	return nil
}

// parseIDArgument builds the hidden "id" DateAsUuid search argument a
// single "_id=<prefix><suuid>" entry contributes.
func (ua *UrlArguments) parseIDArgument(raw string) (Argument, error) {
	const op = "search.UrlArguments.parseIDArgument"
	prefix, rest := splitPrefixFromValues(raw, KindDate)
	id, err := uuid.Parse(rest)
	if err != nil {
		return Argument{}, errs.New(errs.BadRequest, op, fmt.Errorf("malformed _id value %q: %w", raw, err))
	}
	day := suuid.Time(id).Format("2006-01-02")
	iv, err := parseFHIRDate(day)
	if err != nil {
		return Argument{}, err
	}
	return Argument{
		Prefix: prefix,
		Param:  Parameter{NameURL: "id", NameDB: "id", Kind: KindDateAsUuid},
		Raw:    []string{raw},
		values: []value{{interval: &iv}},
	}, nil
}

// DisablePaging turns off LIMIT/OFFSET rendering entirely (used by
// callers that only need a count, or that apply their own pagination).
func (ua *UrlArguments) DisablePaging() { ua.pagingDisabled = true }

// AddHiddenSearchArgument adds a search constraint that narrows the
// result set but is never echoed back into generated page links (used
// for server-imposed filters like tenant scoping).
func (ua *UrlArguments) AddHiddenSearchArgument(arg Argument) {
	ua.hiddenSearchArguments = append(ua.hiddenSearchArguments, arg)
}

// HasReverseIncludeAuditEvent reports whether the request asked to
// include referencing AuditEvent resources.
func (ua *UrlArguments) HasReverseIncludeAuditEvent() bool { return ua.reverseIncludeAudit }

// PagingArgument returns the parsed paging state.
func (ua *UrlArguments) PagingArgument() Paging { return ua.paging }

// SetResultIDRange records the first and last result row's time-prefixed
// id, for rendering id-mode prev/next links.
func (ua *UrlArguments) SetResultIDRange(first, last uuid.UUID) {
	ua.firstResultTime = &suuidBound{first}
	ua.lastResultTime = &suuidBound{last}
}

// LinkPathArguments renders the query string (without a leading '?' or
// '&') that reproduces every recognized, non-hidden search/sort/paging
// argument, for use in self/first/next/prev/last bundle links.
func (ua *UrlArguments) LinkPathArguments(mode LinkMode) string {
	var parts []string
	for _, arg := range ua.searchArguments {
		parts = append(parts, fmt.Sprintf("%s=%s%s", arg.Param.NameURL, string(arg.Prefix), strings.Join(arg.Raw, ",")))
	}
	if len(ua.sortArguments) > 0 {
		names := make([]string, 0, len(ua.sortArguments))
		for _, s := range ua.sortArguments {
			names = append(names, s.linkString())
		}
		parts = append(parts, SortKey+"="+strings.Join(names, ","))
	}
	parts = append(parts, CountKey+"="+strconv.Itoa(ua.paging.Count))
	switch mode {
	case LinkModeOffset:
		parts = append(parts, OffsetKey+"="+strconv.Itoa(ua.paging.Offset))
	case LinkModeID:
		if ua.lastResultTime != nil {
			parts = append(parts, IDKey+"=gt"+ua.lastResultTime.id.String())
		}
	}
	return strings.Join(parts, "&")
}
