package search

import (
	"fmt"
	"strconv"

	"github.com/erprx/datastore/pkg/errs"
)

// Reserved paging query parameter names.
const (
	CountKey  = "_count"
	OffsetKey = "__offset"
	IDKey     = "_id"
)

const defaultCount = 50

// Paging is the parsed paging argument: either offset-mode (Offset set)
// or id-mode (driven by a hidden DateAsUuid search argument added by
// the parser for "_id", see UrlArguments.Parse).
type Paging struct {
	Count  int
	Offset int
}

func newPaging() Paging {
	return Paging{Count: defaultCount}
}

func (p *Paging) setCount(raw string) error {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return errs.New(errs.BadRequest, "search.Paging.setCount", fmt.Errorf("malformed _count value %q", raw))
	}
	p.Count = n
	return nil
}

func (p *Paging) setOffset(raw string) error {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return errs.New(errs.BadRequest, "search.Paging.setOffset", fmt.Errorf("malformed __offset value %q", raw))
	}
	p.Offset = n
	return nil
}

// LimitOffsetSQL renders the LIMIT/OFFSET clause. When overFetch is
// true, LIMIT requests one extra row so the caller can tell whether a
// further page exists without a separate COUNT query.
func (ua *UrlArguments) LimitOffsetSQL(overFetch bool) string {
	if ua.pagingDisabled {
		return ""
	}
	limit := ua.paging.Count
	if overFetch {
		limit++
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, ua.paging.Offset)
}
