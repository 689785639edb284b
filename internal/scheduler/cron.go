package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// ValidCronExpression reports whether expr is a well-formed 5 or 6-field
// cron expression, grounded on the pack's widespread adhocore/gronx usage
// for cron scheduling (vanducng-goclaw and others carry it as a
// dependency for recurring-job lanes).
func ValidCronExpression(expr string) bool {
	return gronx.IsValid(expr)
}

// NextCronTime returns the next fire time for expr strictly after from.
func NextCronTime(expr string, from time.Time) (time.Time, error) {
	if !gronx.IsValid(expr) {
		return time.Time{}, fmt.Errorf("invalid cron expression %q", expr)
	}
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("compute next tick for %q: %w", expr, err)
	}
	return next, nil
}

// namedShortcuts maps the cron named shortcuts spec.md §4.7 requires to
// their 5-field equivalents, in case gronx's own @-tag support ever
// diverges from this set.
var namedShortcuts = map[string]string{
	"@hourly":  "0 * * * *",
	"@daily":   "0 0 * * *",
	"@weekly":  "0 0 * * 0",
	"@monthly": "0 0 1 * *",
}

// dailyAtPattern matches "daily at <HH[:MM][am|pm]>", case-insensitive.
var dailyAtPattern = regexp.MustCompile(`(?i)^daily at (\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)

// fallbackSchedule is the degraded cron expression used when expr
// matches none of the recognized shapes (spec.md §4.7: "Unknown patterns
// degrade to 'daily at 09:00' with a warning").
const fallbackSchedule = "0 9 * * *"

// NormalizeSchedule converts a cron expression, named shortcut, or the
// natural phrase "daily at <HH[:MM][am|pm]>" into a 5-field cron
// expression NextCronTime accepts. warning is non-empty when expr could
// not be recognized and the fallback schedule was substituted.
func NormalizeSchedule(expr string) (cronExpr string, warning string) {
	trimmed := strings.TrimSpace(expr)

	if cron, ok := namedShortcuts[strings.ToLower(trimmed)]; ok {
		return cron, ""
	}

	if m := dailyAtPattern.FindStringSubmatch(trimmed); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
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
		if hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59 {
			return fmt.Sprintf("%d %d * * *", minute, hour), ""
		}
	}

	if gronx.IsValid(trimmed) {
		return trimmed, ""
	}

	return fallbackSchedule, fmt.Sprintf("unrecognized schedule %q, defaulting to daily at 09:00", expr)
}
