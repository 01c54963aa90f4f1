// Package ids generates task identifiers.
//
// Identifiers are ULIDs: a 48-bit millisecond timestamp followed by 80
// random bits, rendered as 26 Crockford base32 characters. The first 10
// characters encode the timestamp, so lexicographic order equals
// chronological order.
//
// Boundary identifiers replace the random part with a repeated sentinel
// character. They are never stored; they bound range scans over the
// sorted id space:
//
//	lo, _ := ids.BoundaryFromTimestamp(dayStart, '0')
//	hi, _ := ids.BoundaryFromTimestamp(dayEnd, '0')
//	// every id generated within [dayStart, dayEnd) sorts in [lo, hi)
package ids

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// Len is the length of an identifier string.
	Len = ulid.EncodedSize

	// timeLen is the number of characters encoding the timestamp.
	timeLen = 10

	// suffixLen is the number of characters encoding the random part.
	suffixLen = Len - timeLen

	// Lowest and Highest are the sentinels producing the smallest and
	// largest identifier for a timestamp.
	Lowest  byte = '0'
	Highest byte = 'Z'

	// DayLayout formats the partition key derived from an identifier.
	DayLayout = "2006-01-02"
)

var (
	// ErrTimestampOutOfRange is returned for timestamps a ULID cannot encode.
	ErrTimestampOutOfRange = errors.New("timestamp out of encodable range")

	// ErrInvalidSentinel is returned when a sentinel is not a base32 digit.
	ErrInvalidSentinel = errors.New("sentinel is not a Crockford base32 digit")

	// ErrInvalidID is returned when a string is not a well-formed identifier.
	ErrInvalidID = errors.New("invalid task id")
)

// FromTimestamp returns a fresh identifier for the given unix millisecond
// timestamp. Identifiers generated within the same millisecond increase
// monotonically.
func FromTimestamp(ms int64) (ulid.ULID, error) {
	if err := checkRange(ms); err != nil {
		return ulid.ULID{}, err
	}

	id, err := ulid.New(uint64(ms), ulid.DefaultEntropy())
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("failed to generate id: %w", err)
	}
	return id, nil
}

// BoundaryFromTimestamp returns the identifier whose timestamp is ms and
// whose random part is sentinel repeated to full width.
func BoundaryFromTimestamp(ms int64, sentinel byte) (ulid.ULID, error) {
	if err := checkRange(ms); err != nil {
		return ulid.ULID{}, err
	}

	var base ulid.ULID
	if err := base.SetTime(uint64(ms)); err != nil {
		return ulid.ULID{}, fmt.Errorf("%w: %d", ErrTimestampOutOfRange, ms)
	}

	text := base.String()[:timeLen] + strings.Repeat(string(sentinel), suffixLen)
	id, err := ulid.ParseStrict(text)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("%w: %q", ErrInvalidSentinel, sentinel)
	}
	return id, nil
}

// Parse validates an identifier string.
func Parse(id string) (ulid.ULID, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return parsed, nil
}

// Timestamp returns the unix millisecond timestamp encoded in id.
func Timestamp(id string) (int64, error) {
	parsed, err := Parse(id)
	if err != nil {
		return 0, err
	}
	return int64(parsed.Time()), nil
}

// Day returns the UTC calendar day an identifier belongs to, formatted
// with DayLayout.
func Day(id string) (string, error) {
	ms, err := Timestamp(id)
	if err != nil {
		return "", err
	}
	return DayOf(ms), nil
}

// DayOf formats the UTC calendar day of a unix millisecond timestamp.
func DayOf(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(DayLayout)
}

// DayStart returns the unix millisecond timestamp at which day begins.
func DayStart(day string) (int64, error) {
	t, err := time.ParseInLocation(DayLayout, day, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t.UnixMilli(), nil
}

// Now returns the current time in unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

func checkRange(ms int64) error {
	if ms < 0 || uint64(ms) > ulid.MaxTime() {
		return fmt.Errorf("%w: %d", ErrTimestampOutOfRange, ms)
	}
	return nil
}
