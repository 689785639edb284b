package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseTimeExpression parses the natural-language reminder time formats
// documented in original_source/src/executive_assistant/tools/reminder_tools.py
// (`_parse_time_expression`): relative offsets, day+time combinations,
// time-only expressions that roll to the next occurrence, "next <weekday>",
// and 4-digit military time. tz is an IANA zone name; empty means the
// server's local zone. now is injected so callers can test deterministically.
func ParseTimeExpression(raw string, tz string, now time.Time) (time.Time, error) {
	loc := time.Local
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	now = now.In(loc)
	expr := normalizeTimeExpression(raw)

	if t, ok := parseRelativeOffset(expr, now); ok {
		return t, nil
	}
	if t, ok := parseNextWeekday(expr, now, loc); ok {
		return t, nil
	}
	if t, ok := parseDayPlusTime(expr, now, loc); ok {
		return t, nil
	}
	if t, ok := parseTimeOnly(expr, now, loc); ok {
		return rollToFutureIfPassed(t, now, expr), nil
	}
	if t, ok := parseMilitary(expr, now, loc); ok {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", expr, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", expr, loc); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf(
		"could not parse time expression %q. Try formats like: "+
			"'in 30 minutes', 'in 2 hours', 'today at 1:30pm', 'tomorrow at 9am', "+
			"'next monday', '1:30pm', '15:30', '2006-01-02 15:04'", raw)
}

var dottedTimeRe = regexp.MustCompile(`(?i)\b(\d{1,2})\.(\d{2})(\s*[ap]m)?`)
var tonightSuffixRe = regexp.MustCompile(`(?i)^\s*(\d{1,2}:\d{2}\s*[ap]m)\s+tonight\s*$`)
var tonightPrefixRe = regexp.MustCompile(`(?i)^\s*tonight(?:\s+at)?\s+(\d{1,2}:\d{2}\s*[ap]m)\s*$`)

func normalizeTimeExpression(raw string) string {
	s := strings.TrimSpace(raw)
	s = dottedTimeRe.ReplaceAllString(s, "$1:$2$3")
	if m := tonightSuffixRe.FindStringSubmatch(s); m != nil {
		return "today at " + m[1]
	}
	if m := tonightPrefixRe.FindStringSubmatch(s); m != nil {
		return "today at " + m[1]
	}
	return s
}

var relativeRe = regexp.MustCompile(`(?i)^in\s+(\d+)\s*(minute|minutes|min|hour|hours|hr|day|days|week|weeks)$`)

func parseRelativeOffset(expr string, now time.Time) (time.Time, bool) {
	m := relativeRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	unit := strings.ToLower(m[2])
	switch {
	case strings.HasPrefix(unit, "min"):
		return now.Add(time.Duration(n) * time.Minute), true
	case strings.HasPrefix(unit, "hour") || unit == "hr":
		return now.Add(time.Duration(n) * time.Hour), true
	case strings.HasPrefix(unit, "day"):
		return now.AddDate(0, 0, n), true
	case strings.HasPrefix(unit, "week"):
		return now.AddDate(0, 0, n*7), true
	}
	return time.Time{}, false
}

var weekdayRe = regexp.MustCompile(`(?i)^next\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)(?:\s+at\s+(.+))?$`)
var weekdayIndex = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

func parseNextWeekday(expr string, now time.Time, loc *time.Location) (time.Time, bool) {
	m := weekdayRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return time.Time{}, false
	}
	target := weekdayIndex[strings.ToLower(m[1])]
	daysAhead := (int(target) - int(now.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	date := now.AddDate(0, 0, daysAhead)
	if m[2] == "" {
		return time.Date(date.Year(), date.Month(), date.Day(), 9, 0, 0, 0, loc), true
	}
	hour, minute, ok := parseClockTime(m[2])
	if !ok {
		return time.Time{}, false
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc), true
}

var dayPlusTimeRe = regexp.MustCompile(`(?i)^(today|tomorrow)(?:\s+at)?\s+(.+)$`)

func parseDayPlusTime(expr string, now time.Time, loc *time.Location) (time.Time, bool) {
	m := dayPlusTimeRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return time.Time{}, false
	}
	base := now
	if strings.EqualFold(m[1], "tomorrow") {
		base = now.AddDate(0, 0, 1)
	}
	hour, minute, ok := parseClockTime(m[2])
	if !ok {
		return time.Time{}, false
	}
	return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, loc), true
}

func parseTimeOnly(expr string, now time.Time, loc *time.Location) (time.Time, bool) {
	hour, minute, ok := parseClockTime(strings.TrimPrefix(strings.TrimSpace(expr), "at "))
	if !ok {
		return time.Time{}, false
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc), true
}

var clockRe = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)

func parseClockTime(s string) (hour, minute int, ok bool) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch strings.ToLower(m[3]) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// rollToFutureIfPassed mirrors _adjust_time_only_to_future: a bare time
// expression ("3pm") that has already passed today rolls to tomorrow.
func rollToFutureIfPassed(t, now time.Time, expr string) time.Time {
	if t.Before(now) {
		return t.AddDate(0, 0, 1)
	}
	return t
}

var militaryWithSuffixRe = regexp.MustCompile(`(\d{4})hr\b`)
var militaryBareRe = regexp.MustCompile(`^\d{4}$`)

func parseMilitary(expr string, now time.Time, loc *time.Location) (time.Time, bool) {
	digits := ""
	if m := militaryWithSuffixRe.FindStringSubmatch(expr); m != nil {
		digits = m[1]
	} else if militaryBareRe.MatchString(strings.TrimSpace(expr)) {
		digits = strings.TrimSpace(expr)
	} else {
		return time.Time{}, false
	}
	hour, _ := strconv.Atoi(digits[:2])
	minute, _ := strconv.Atoi(digits[2:])
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if t.Before(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, true
}
