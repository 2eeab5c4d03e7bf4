// Package timeparse resolves natural-language temporal expressions into
// validated date intervals.
package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a parsed time query.
type Kind string

const (
	KindSpecificDate Kind = "specific_date"
	KindDateRange    Kind = "date_range"
	KindRelativeTime Kind = "relative_time"
	KindInvalid      Kind = "invalid"
)

// MaxRangeDays caps the span of any parsed interval. Requests beyond the cap
// come back invalid with DayCount clamped so the caller can decide whether to
// proceed with the clamped window.
const MaxRangeDays = 10

// Result is the outcome of parsing one time query. Parsing never fails with
// an error value; all failure is reported through Valid=false plus Err.
type Result struct {
	Kind     Kind
	Start    time.Time
	End      time.Time
	DayCount int
	Valid    bool
	Err      string
}

var (
	lastNDaysRe = regexp.MustCompile(`^(?:last|past)\s+(\d+)\s+days?$`)
	rangeSepRe  = regexp.MustCompile(`\s+(?:to|until|through|and)\s+|\s+-\s+`)
	spacesRe    = regexp.MustCompile(`\s+`)
)

// Phrases that mean "the latest thing", all treated as today.
var recencyPhrases = []string{
	"most recent",
	"last thing we talked about",
	"last thing we discussed",
	"just now",
	"a moment ago",
	"earlier today",
	"this morning",
	"this afternoon",
	"this evening",
	"tonight",
}

// Explicit date layouts, tried in order. Slashed and dashed numeric dates are
// read month/day/year; dotted dates day.month.year. This convention is fixed,
// not locale-aware.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"02.01.2006",
	"2.1.2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// Parse resolves query against the current clock.
func Parse(query string) Result {
	return ParseAt(query, time.Now())
}

// ParseAt resolves query against an explicit reference time.
func ParseAt(query string, now time.Time) Result {
	q := strings.ToLower(strings.TrimSpace(query))
	q = spacesRe.ReplaceAllString(q, " ")
	if q == "" {
		return invalid("empty time query")
	}

	if r, ok := parseRelative(q, now); ok {
		return r
	}

	if day, ok := parseDate(q, now.Location()); ok {
		return singleDay(KindSpecificDate, day)
	}

	if r, ok := parseRange(q, now.Location()); ok {
		return r
	}

	return invalid(fmt.Sprintf("unrecognized time expression: %q", query))
}

func parseRelative(q string, now time.Time) (Result, bool) {
	switch q {
	case "today":
		return singleDay(KindRelativeTime, now), true
	case "yesterday":
		return singleDay(KindRelativeTime, now.AddDate(0, 0, -1)), true
	case "last week", "past week":
		return lastDays(7, now), true
	case "last month", "past month":
		return lastDays(30, now), true
	}

	for _, phrase := range recencyPhrases {
		if strings.Contains(q, phrase) {
			return singleDay(KindRelativeTime, now), true
		}
	}

	if m := lastNDaysRe.FindStringSubmatch(q); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return invalid(fmt.Sprintf("invalid day count: %s", m[1])), true
		}
		return lastDays(n, now), true
	}

	return Result{}, false
}

func parseRange(q string, loc *time.Location) (Result, bool) {
	parts := rangeSepRe.Split(q, 2)
	if len(parts) != 2 {
		return Result{}, false
	}
	start, okStart := parseDate(strings.TrimSpace(parts[0]), loc)
	end, okEnd := parseDate(strings.TrimSpace(parts[1]), loc)
	if !okStart || !okEnd {
		return Result{}, false
	}
	if end.Before(start) {
		return invalid("range end date is before its start date"), true
	}

	days := int(endOfDay(end).Sub(startOfDay(start)).Hours()/24) + 1
	if days > MaxRangeDays {
		return Result{
			Kind:     KindDateRange,
			DayCount: MaxRangeDays,
			Valid:    false,
			Err:      fmt.Sprintf("date range of %d days exceeds the %d-day maximum", days, MaxRangeDays),
		}, true
	}
	return Result{
		Kind:     KindDateRange,
		Start:    startOfDay(start),
		End:      endOfDay(end),
		DayCount: days,
		Valid:    true,
	}, true
}

func parseDate(token string, loc *time.Location) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, token, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// lastDays covers the last n calendar days including today.
func lastDays(n int, now time.Time) Result {
	if n > MaxRangeDays {
		return Result{
			Kind:     KindRelativeTime,
			DayCount: MaxRangeDays,
			Valid:    false,
			Err:      fmt.Sprintf("requested %d days exceeds the %d-day maximum", n, MaxRangeDays),
		}
	}
	return Result{
		Kind:     KindRelativeTime,
		Start:    startOfDay(now.AddDate(0, 0, -(n - 1))),
		End:      endOfDay(now),
		DayCount: n,
		Valid:    true,
	}
}

func singleDay(kind Kind, day time.Time) Result {
	return Result{
		Kind:     kind,
		Start:    startOfDay(day),
		End:      endOfDay(day),
		DayCount: 1,
		Valid:    true,
	}
}

func invalid(msg string) Result {
	return Result{Kind: KindInvalid, Valid: false, Err: msg}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// endOfDay is 23:59:59.999 of the same day.
func endOfDay(t time.Time) time.Time {
	return startOfDay(t).Add(24*time.Hour - time.Millisecond)
}
