// ABOUTME: Weekly recurrence planning for training sessions
// ABOUTME: First-occurrence math, bounded RRULE strings and time-zoned event windows
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// RulePrefix is required by Google Calendar on every recurrence entry.
const RulePrefix = "RRULE:"

var (
	ErrUnknownWeekday  = errors.New("unknown weekday")
	ErrInvalidCount    = errors.New("occurrence count must be at least 1")
	ErrInvalidTime     = errors.New("invalid time of day")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrNoTimeZone      = errors.New("an explicit IANA time zone is required")
)

var dayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

// ParseWeekday accepts full names ("Monday"), three-letter forms ("mon")
// and RRULE tokens ("MO"), case-insensitively. time.Weekday is the only
// day encoding used anywhere in this package.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if len(name) >= 2 {
		if d, ok := dayNames[name[:2]]; ok {
			full := strings.ToUpper(d.String())
			if name == full || name == full[:2] || name == full[:3] {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWeekday, s)
}

// Token returns the RRULE BYDAY token for d.
func Token(d time.Weekday) string {
	return dayAbbrev[d]
}

// FirstOccurrence returns the first date on or after ref whose weekday is
// day, at midnight in ref's location. If ref already falls on day, ref's
// date is returned.
func FirstOccurrence(day time.Weekday, ref time.Time) time.Time {
	offset := (int(day) - int(ref.Weekday()) + 7) % 7
	y, m, d := ref.Date()
	return time.Date(y, m, d+offset, 0, 0, 0, 0, ref.Location())
}

// Rule is a weekly, single-weekday, count-bounded recurrence.
type Rule struct {
	Weekday time.Weekday
	Count   int
}

var ruleDays = [...]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// String serializes the rule with the RRULE: prefix.
func (r Rule) String() string {
	opt := rrule.ROption{
		Freq:      rrule.WEEKLY,
		Count:     r.Count,
		Byweekday: []rrule.Weekday{ruleDays[r.Weekday]},
	}
	return RulePrefix + opt.RRuleString()
}

// BuildRule returns the recurrence string for a weekly series on day,
// ending after count occurrences.
func BuildRule(day time.Weekday, count int) (string, error) {
	if count < 1 {
		return "", ErrInvalidCount
	}
	if day < time.Sunday || day > time.Saturday {
		return "", fmt.Errorf("%w: %d", ErrUnknownWeekday, int(day))
	}
	return Rule{Weekday: day, Count: count}.String(), nil
}

// ParseRule parses rules produced by BuildRule, with or without the
// RRULE: prefix. Rules that are not weekly, name several days, repeat at
// an interval or are unbounded are rejected.
func ParseRule(s string) (Rule, error) {
	body := strings.TrimPrefix(strings.TrimSpace(s), RulePrefix)
	if body == "" {
		return Rule{}, fmt.Errorf("empty rule")
	}
	if strings.ContainsAny(body, "\n:") {
		return Rule{}, fmt.Errorf("invalid rule: %q", s)
	}

	opt, err := rrule.StrToROption(body)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid rule %q: %w", s, err)
	}
	if opt.Freq != rrule.WEEKLY {
		return Rule{}, fmt.Errorf("unsupported frequency: %v", opt.Freq)
	}
	if opt.Interval > 1 {
		return Rule{}, fmt.Errorf("unsupported interval: %d", opt.Interval)
	}
	if !opt.Until.IsZero() {
		return Rule{}, fmt.Errorf("UNTIL is not supported; use COUNT")
	}
	if opt.Count < 1 {
		return Rule{}, fmt.Errorf("COUNT is required")
	}
	if len(opt.Byweekday) != 1 {
		return Rule{}, fmt.Errorf("exactly one BYDAY weekday is required, got %d", len(opt.Byweekday))
	}
	if hasExtraParts(opt) {
		return Rule{}, fmt.Errorf("unsupported rule parts in %q", s)
	}

	for d, w := range ruleDays {
		if w == opt.Byweekday[0] {
			return Rule{Weekday: time.Weekday(d), Count: opt.Count}, nil
		}
	}
	return Rule{}, fmt.Errorf("%w: %v", ErrUnknownWeekday, opt.Byweekday[0])
}

func hasExtraParts(opt *rrule.ROption) bool {
	return len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 ||
		len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 || len(opt.Byhour) > 0 ||
		len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0
}

// Window is a start/end pair with the IANA zone the instants were
// computed in.
type Window struct {
	Start    time.Time
	End      time.Time
	TimeZone string
}

// ParseTimeOfDay accepts "8:00", "08:00" or "08:00:00".
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

// BuildEventWindow places timeOfDay on the calendar date of first in loc
// and adds durationMinutes for the end. loc must be a named zone; the
// process-local zone is rejected so payloads never depend on where they
// were computed.
func BuildEventWindow(first time.Time, timeOfDay string, durationMinutes int, loc *time.Location) (Window, error) {
	if loc == nil || loc.String() == "" || loc.String() == "Local" {
		return Window{}, ErrNoTimeZone
	}
	if durationMinutes <= 0 {
		return Window{}, ErrInvalidDuration
	}
	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return Window{}, err
	}

	y, m, d := first.Date()
	start := time.Date(y, m, d, hour, minute, 0, 0, loc)
	return Window{
		Start:    start,
		End:      start.Add(time.Duration(durationMinutes) * time.Minute),
		TimeZone: loc.String(),
	}, nil
}

// Series is the derived recurrence for one weekday.
type Series struct {
	FirstOccurrence time.Time
	Rule            string
	Count           int
}

// Plan derives the recurrence for day starting from ref.
func Plan(day time.Weekday, ref time.Time, count int) (Series, error) {
	rule, err := BuildRule(day, count)
	if err != nil {
		return Series{}, err
	}
	return Series{
		FirstOccurrence: FirstOccurrence(day, ref),
		Rule:            rule,
		Count:           count,
	}, nil
}
