// Package suuid implements the time-prefixed UUID scheme used for
// Communication and AuditEvent primary keys: the high bits carry a
// 100-nanosecond-granularity timestamp so that lexicographic string order
// equals chronological order, and the low bits carry randomness so two
// ids minted in the same tick still never collide.
//
// Grounded on original_source's shared suuid helper (the Communication
// and AuditEvent tables sort and range-query on this id directly instead
// of a separate created_at column) and on the teacher/pack's use of
// google/uuid as the UUID primitive to build on rather than hand-rolling
// RFC 4122 bit layout from scratch.
package suuid

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erprx/datastore/pkg/errs"
)

// epoch is the UUID time-based epoch, 1582-10-15, matching the
// gregorian/100ns convention original_source uses for its suuid prefix.
var epoch = time.Date(1582, time.October, 15, 0, 0, 0, 0, time.UTC)

// New mints a suuid for t: the 60-bit count of 100ns intervals since
// epoch fills the high 8 bytes big-endian (occupying the UUID's
// time_low/time_mid/time_hi fields), and the low 8 bytes are random.
func New(t time.Time) (uuid.UUID, error) {
	// Computed from Unix seconds: the span since 1582 exceeds what a
	// time.Duration can hold, so t.Sub(epoch) would saturate.
	ticks := uint64(t.Unix()-epoch.Unix())*10_000_000 + uint64(t.Nanosecond()/100)

	var u uuid.UUID
	// time_low (32 bits), time_mid (16 bits), time_hi_and_version (16 bits):
	// together the high 64 bits of ticks, big-endian so the byte order sorts
	// the same as the numeric order.
	u[0] = byte(ticks >> 56)
	u[1] = byte(ticks >> 48)
	u[2] = byte(ticks >> 40)
	u[3] = byte(ticks >> 32)
	u[4] = byte(ticks >> 24)
	u[5] = byte(ticks >> 16)
	u[6] = byte(ticks >> 8)
	u[7] = byte(ticks)

	if _, err := rand.Read(u[8:]); err != nil {
		return uuid.Nil, errs.New(errs.InternalServerError, "suuid.New", fmt.Errorf("read random tail: %w", err))
	}
	// RFC 4122 variant bits, so the result still parses as a well-formed
	// UUID even though its version/time semantics are our own.
	u[8] = (u[8] & 0x3f) | 0x80

	return u, nil
}

// Time recovers the timestamp encoded in a suuid's high 8 bytes. Used by
// the search translator to render DateAsUuid range comparisons as
// id-prefix bounds.
func Time(u uuid.UUID) time.Time {
	var ticks uint64
	for i := 0; i < 8; i++ {
		ticks = ticks<<8 | uint64(u[i])
	}
	return time.Unix(epoch.Unix()+int64(ticks/10_000_000), int64(ticks%10_000_000)*100).UTC()
}

// LowerBound and UpperBound build the smallest/largest well-formed suuid
// whose timestamp prefix equals t, for rendering a date-range comparison
// as a single-column id BETWEEN without needing a second date column.
func LowerBound(t time.Time) uuid.UUID {
	return boundary(t, 0x00)
}

func UpperBound(t time.Time) uuid.UUID {
	return boundary(t, 0xff)
}

func boundary(t time.Time, fill byte) uuid.UUID {
	ticks := uint64(t.Unix()-epoch.Unix())*10_000_000 + uint64(t.Nanosecond()/100)
	var u uuid.UUID
	u[0] = byte(ticks >> 56)
	u[1] = byte(ticks >> 48)
	u[2] = byte(ticks >> 40)
	u[3] = byte(ticks >> 32)
	u[4] = byte(ticks >> 24)
	u[5] = byte(ticks >> 16)
	u[6] = byte(ticks >> 8)
	u[7] = byte(ticks)
	for i := 8; i < 16; i++ {
		u[i] = fill
	}
	if fill == 0 {
		u[8] = 0x80
	} else {
		u[8] = 0xbf
	}
	return u
}
