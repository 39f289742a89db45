// Package expiration computes the set of option expirations queried on each run.
package expiration

import (
	"sort"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
)

// DateLayout is the ISO date format used for expirations.
const DateLayout = "2006-01-02"

// DefaultTimezone is the reference zone in which "today" is evaluated.
const DefaultTimezone = "America/New_York"

// LoadLocation resolves tz. An unknown zone is logged and replaced by
// America/New_York, which always loads from the embedded tzdata.
func LoadLocation(tz string, logger logrus.FieldLogger) *time.Location {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err == nil {
		return loc
	}
	if logger != nil {
		logger.WithError(err).WithField("timezone", tz).Warnf("unknown timezone, using %s", DefaultTimezone)
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// Today truncates now to midnight of its calendar date in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
}

// Targets returns the target expirations for today, sorted ascending and unique:
// every weekday from today up to the first Saturday or Sunday, then the first
// Friday strictly after that stopping date and the Friday one week later.
func Targets(today time.Time) []string {
	set := make(map[string]struct{}, 7)

	d := dateOnly(today)
	for isWeekday(d) {
		set[d.Format(DateLayout)] = struct{}{}
		d = d.AddDate(0, 0, 1)
	}

	first := NextFriday(d)
	set[first.Format(DateLayout)] = struct{}{}
	set[first.AddDate(0, 0, 7).Format(DateLayout)] = struct{}{}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NextFriday returns the first Friday strictly after d.
func NextFriday(d time.Time) time.Time {
	days := (int(time.Friday) - int(d.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return dateOnly(d).AddDate(0, 0, days)
}

func isWeekday(d time.Time) bool {
	wd := d.Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
