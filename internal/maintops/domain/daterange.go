package maintops

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// oneDay is the padding applied around alarm timestamp windows.
const oneDay = 24 * time.Hour

// DateRange is a closed [Lower, Upper] interval of calendar days.
// A zero Upper means the range is open (ongoing).
type DateRange struct {
	Lower time.Time `json:"lower"`
	Upper time.Time `json:"upper,omitempty"`
}

// NewDateRange builds an inclusive range from a date pair. A zero upper
// leaves the range unbounded.
func NewDateRange(lower, upper time.Time) (DateRange, error) {
	if lower.IsZero() {
		return DateRange{}, ErrInvalidDateRange
	}
	r := DateRange{Lower: TruncateToDate(lower)}
	if !upper.IsZero() {
		r.Upper = TruncateToDate(upper)
		if r.Upper.Before(r.Lower) {
			return DateRange{}, ErrInvalidDateRange
		}
	}
	return r, nil
}

// PaddedDateRange converts a timestamp window into a date range padded by
// one day on each side: [(from-1d).date, (to+1d).date].
func PaddedDateRange(from, to time.Time) (DateRange, error) {
	if from.IsZero() {
		return DateRange{}, ErrInvalidDateRange
	}
	r := DateRange{Lower: TruncateToDate(from.UTC().Add(-oneDay))}
	if !to.IsZero() {
		if to.Before(from) {
			return DateRange{}, ErrInvalidDateRange
		}
		r.Upper = TruncateToDate(to.UTC().Add(oneDay))
	}
	return r, nil
}

// Bounded reports whether the range has an upper bound.
func (r DateRange) Bounded() bool { return !r.Upper.IsZero() }

// IsZero reports whether the range was never set.
func (r DateRange) IsZero() bool { return r.Lower.IsZero() && r.Upper.IsZero() }

// Overlaps reports whether both closed ranges share at least one day.
// An open upper bound behaves as +infinity.
func (r DateRange) Overlaps(other DateRange) bool {
	if r.IsZero() || other.IsZero() {
		return false
	}
	if r.Bounded() && other.Lower.After(r.Upper) {
		return false
	}
	if other.Bounded() && r.Lower.After(other.Upper) {
		return false
	}
	return true
}

// String renders the range in Postgres daterange literal form.
func (r DateRange) String() string {
	if r.IsZero() {
		return "empty"
	}
	if !r.Bounded() {
		return fmt.Sprintf("[%s,)", r.Lower.Format(dateLayout))
	}
	return fmt.Sprintf("[%s,%s]", r.Lower.Format(dateLayout), r.Upper.Format(dateLayout))
}

// TruncateToDate drops the time of day, keeping the UTC calendar date.
func TruncateToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole calendar days from one date to another.
func DaysBetween(from, to time.Time) int {
	return int(TruncateToDate(to).Sub(TruncateToDate(from)).Hours() / 24)
}
