// Package schedule computes dispatch times for recurring report notifications.
package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Supported notification frequencies
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// timeOfDayPattern validates HH:MM 24-hour wall-clock strings
var timeOfDayPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// weekdayNames maps lowercase weekday names to their index (Sunday = 0)
var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ConfigError reports an invalid cadence configuration field.
// It is surfaced at config-write time so the evaluator never persists one.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid cadence config: %s: %s", e.Field, e.Message)
}

// Cadence describes when a notification recurs. Next is pure and
// deterministic: given the same now it always returns the same instant,
// strictly in the future, computed in the cadence's time zone.
type Cadence interface {
	Next(now time.Time) time.Time
	Frequency() string
}

// DailyCadence fires every day at a fixed wall-clock time.
type DailyCadence struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// Next returns the next calendar day at the configured time. The result is
// always at least one day ahead, even when the configured time is still
// ahead of now on the same day: a same-day edit must not double-fire.
func (c DailyCadence) Next(now time.Time) time.Time {
	local := now.In(c.Location).AddDate(0, 0, 1)
	return time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, c.Location)
}

// Frequency returns the cadence frequency name
func (c DailyCadence) Frequency() string { return FrequencyDaily }

// WeeklyCadence fires on a fixed weekday at a fixed wall-clock time.
type WeeklyCadence struct {
	Hour     int
	Minute   int
	Weekday  time.Weekday
	Location *time.Location
}

// Next returns the next occurrence of the configured weekday. When now
// already falls on that weekday the result is a full week out, never the
// same day.
func (c WeeklyCadence) Next(now time.Time) time.Time {
	local := now.In(c.Location)
	delta := (int(c.Weekday) - int(local.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	local = local.AddDate(0, 0, delta)
	return time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, c.Location)
}

// Frequency returns the cadence frequency name
func (c WeeklyCadence) Frequency() string { return FrequencyWeekly }

// MonthlyCadence fires on a fixed day of the month at a fixed wall-clock
// time. Day is clamped to the length of the target month, so Day = 31
// lands on the 30th or 28th/29th where needed.
type MonthlyCadence struct {
	Hour     int
	Minute   int
	Day      int
	Location *time.Location
}

// Next returns the configured day in the following calendar month, clamped
// to that month's last day.
func (c MonthlyCadence) Next(now time.Time) time.Time {
	local := now.In(c.Location)
	year, month, _ := local.Date()
	month++

	// Day 0 of the month after the target normalizes to the target's last day.
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, c.Location).Day()
	day := c.Day
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, c.Hour, c.Minute, 0, 0, c.Location)
}

// Frequency returns the cadence frequency name
func (c MonthlyCadence) Frequency() string { return FrequencyMonthly }

// ParseCadence validates the cadence fields of a notification and builds
// the matching variant. The zone falls back to defaultTimeZone when unset.
func ParseCadence(frequency, timeOfDay, dayOfWeek string, dayOfMonth int, timeZone, defaultTimeZone string) (Cadence, error) {
	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return nil, err
	}

	if timeZone == "" {
		timeZone = defaultTimeZone
	}
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, &ConfigError{Field: "time_zone", Message: fmt.Sprintf("unknown time zone %q", timeZone)}
	}

	switch frequency {
	case FrequencyDaily:
		return DailyCadence{Hour: hour, Minute: minute, Location: loc}, nil
	case FrequencyWeekly:
		weekday, ok := weekdayNames[strings.ToLower(dayOfWeek)]
		if !ok {
			return nil, &ConfigError{Field: "day_of_week", Message: fmt.Sprintf("unknown weekday %q", dayOfWeek)}
		}
		return WeeklyCadence{Hour: hour, Minute: minute, Weekday: weekday, Location: loc}, nil
	case FrequencyMonthly:
		if dayOfMonth < 1 || dayOfMonth > 31 {
			return nil, &ConfigError{Field: "day_of_month", Message: fmt.Sprintf("day of month %d out of range 1-31", dayOfMonth)}
		}
		return MonthlyCadence{Hour: hour, Minute: minute, Day: dayOfMonth, Location: loc}, nil
	default:
		return nil, &ConfigError{Field: "frequency", Message: fmt.Sprintf("unknown frequency %q", frequency)}
	}
}

// parseTimeOfDay parses a strict HH:MM 24-hour string
func parseTimeOfDay(timeOfDay string) (int, int, error) {
	m := timeOfDayPattern.FindStringSubmatch(timeOfDay)
	if m == nil {
		return 0, 0, &ConfigError{Field: "time", Message: fmt.Sprintf("time %q does not match HH:MM", timeOfDay)}
	}
	hour := int(m[1][0]-'0')*10 + int(m[1][1]-'0')
	minute := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	return hour, minute, nil
}
