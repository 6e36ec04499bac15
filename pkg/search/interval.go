package search

import (
	"fmt"
	"time"

	"github.com/erprx/datastore/pkg/errs"
)

// interval is the half-open [Lower, Upper) range a FHIR partial date
// literal implies: "2020" is the whole year 2020, "2020-05" is May
// 2020, "2020-05-17" is that single day.
type interval struct {
	Lower time.Time
	Upper time.Time
}

// parseFHIRDate parses "YYYY", "YYYY-MM", or "YYYY-MM-DD" into the
// half-open interval it denotes. The literal "NULL" is handled by the
// caller (it has no interval, only an eq-to-NULL comparison).
func parseFHIRDate(raw string) (interval, error) {
	const op = "search.parseFHIRDate"
	var year, month, day int
	n, err := fmt.Sscanf(raw, "%04d-%02d-%02d", &year, &month, &day)
	if err == nil && n == 3 {
		lower := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		return interval{Lower: lower, Upper: lower.AddDate(0, 0, 1)}, nil
	}
	n, err = fmt.Sscanf(raw, "%04d-%02d", &year, &month)
	if err == nil && n == 2 {
		lower := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		return interval{Lower: lower, Upper: lower.AddDate(0, 1, 0)}, nil
	}
	n, err = fmt.Sscanf(raw, "%04d", &year)
	if err == nil && n == 1 {
		lower := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return interval{Lower: lower, Upper: lower.AddDate(1, 0, 0)}, nil
	}
	return interval{}, errs.New(errs.BadRequest, op, fmt.Errorf("malformed date literal %q", raw))
}
