package domain

import (
	"sort"
	"time"
)

// DateLayout is the FAA edition date format, MM-DD-YYYY.
const DateLayout = "01-02-2006"

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, &ScheduleParseError{Value: s, Err: err}
	}
	return t, nil
}

func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// Day maps an instant to its local calendar day, expressed as UTC midnight so
// it compares equal to parsed schedule dates.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Calendar is the flattened, ascending update schedule.
type Calendar struct {
	dates []time.Time
}

func NewCalendar(raw []string) (Calendar, error) {
	dates := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		t, err := ParseDate(s)
		if err != nil {
			return Calendar{}, err
		}
		dates = append(dates, t)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return Calendar{dates: dates}, nil
}

func (c Calendar) Len() int { return len(c.dates) }

func (c Calendar) Dates() []time.Time {
	out := make([]time.Time, len(c.dates))
	copy(out, c.dates)
	return out
}

func (c Calendar) IsDue(day time.Time) bool {
	day = Day(day)
	i := sort.Search(len(c.dates), func(i int) bool { return !c.dates[i].Before(day) })
	return i < len(c.dates) && c.dates[i].Equal(day)
}

// NextDue returns the first date strictly after day.
func (c Calendar) NextDue(day time.Time) (time.Time, bool) {
	day = Day(day)
	i := sort.Search(len(c.dates), func(i int) bool { return c.dates[i].After(day) })
	if i == len(c.dates) {
		return time.Time{}, false
	}
	return c.dates[i], true
}

func (c Calendar) LatestOnOrBefore(day time.Time) (time.Time, bool) {
	day = Day(day)
	i := sort.Search(len(c.dates), func(i int) bool { return c.dates[i].After(day) })
	if i == 0 {
		return time.Time{}, false
	}
	return c.dates[i-1], true
}

// Merge returns a calendar holding both sets, with duplicates dropped.
func (c Calendar) Merge(more []time.Time) Calendar {
	seen := make(map[time.Time]struct{}, len(c.dates)+len(more))
	out := make([]time.Time, 0, len(c.dates)+len(more))
	for _, t := range append(c.Dates(), more...) {
		t = Day(t)
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return Calendar{dates: out}
}
