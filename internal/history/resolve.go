package history

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"duka/internal/model"
)

// Now returns the clock used for fallback display strings and the
// plausibility window. Split for testability.
var Now = func() time.Time { return time.Now() }

const displayLayout = "02/01/2006, 15:04:05"

var (
	digitRun = regexp.MustCompile(`\d+`)
	isoDate  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]`)
)

// A resolver derives a machine timestamp from one field of a raw order.
// Resolvers run in a fixed priority order; the first hit wins.
type resolver func(model.Order) (time.Time, bool)

var resolvers = []resolver{timeFromID, timeFromPaidAt, timeFromCreatedAt}

// ResolveTime returns the most reliable timestamp for an order:
// id-embedded millisecond epoch, else ISO-shaped paidAt, else ISO-shaped
// createdAt. ok is false when no field yields one.
func ResolveTime(o model.Order) (time.Time, bool) {
	for _, r := range resolvers {
		if t, ok := r(o); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// timeFromID reads the first run of decimal digits in the order id as a
// millisecond epoch. Locally generated tokens embed one (ORD-<ms>-<rand>).
// Runs too long for int64 still count as a far-future epoch; only a value
// past float64 range fails to resolve.
func timeFromID(o model.Order) (time.Time, bool) {
	digits := digitRun.FindString(o.ID)
	if digits == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(digits, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	f, err := strconv.ParseFloat(digits, 64)
	if err != nil || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f >= math.MaxInt64 {
		return time.UnixMilli(math.MaxInt64), true
	}
	return time.UnixMilli(int64(f)), true
}

func timeFromPaidAt(o model.Order) (time.Time, bool) { return parseISOLike(o.PaidAt) }

func timeFromCreatedAt(o model.Order) (time.Time, bool) { return parseISOLike(o.CreatedAt) }

// parseISOLike parses s only when its textual shape looks ISO-8601: a date
// followed by 'T' or a space, or a trailing 'Z'. Ambiguous locale-formatted
// strings are rejected rather than guessed at.
func parseISOLike(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if !isoDate.MatchString(s) && !strings.HasSuffix(s, "Z") {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DisplayTime formats t the way the history view shows dates:
// DD/MM/YYYY, HH:MM:SS in local time.
func DisplayTime(t time.Time) string { return t.Local().Format(displayLayout) }

// displayString derives the createdAt display value for one order: the
// resolved timestamp formatted, else an existing createdAt kept verbatim
// (legacy records with a display string but no parseable timestamp), else
// the current time.
func displayString(o model.Order) string {
	if t, ok := ResolveTime(o); ok {
		return DisplayTime(t)
	}
	if strings.TrimSpace(o.CreatedAt) != "" {
		return o.CreatedAt
	}
	return DisplayTime(Now())
}

// Plausible reports whether the display string carries a believable year,
// within [2000, current year + 1]. Implausible dates only lose their sort
// placement; the record itself is kept.
func Plausible(display string) bool {
	for _, run := range digitRun.FindAllString(display, -1) {
		if len(run) == 4 {
			y, err := strconv.Atoi(run)
			if err != nil {
				return false
			}
			return y >= 2000 && y <= Now().Year()+1
		}
	}
	return false
}

// sortKey is the numeric timestamp used for ordering. A createdAt already
// in the display form counts too: unlike generic locale dates its shape is
// unambiguous, and accepting it keeps ordering stable across re-runs. 0
// when nothing resolves.
func sortKey(o model.Order) int64 {
	if t, ok := ResolveTime(o); ok {
		return t.UnixMilli()
	}
	if t, err := time.ParseInLocation(displayLayout, strings.TrimSpace(o.CreatedAt), time.Local); err == nil {
		return t.UnixMilli()
	}
	return 0
}
