// Package recurring keeps recurring task definitions, derives a cron trigger
// for each active one and tracks per-cycle completion.
package recurring

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidDefinition is returned when a definition fails validation.
	ErrInvalidDefinition = errors.New("invalid recurring definition")
	// ErrStorage wraps durable storage failures.
	ErrStorage = errors.New("recurring storage failure")
)

// Frequency is how often a definition fires.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// DefaultTimeOfDay is used when a definition has no time.
const DefaultTimeOfDay = "09:00"

// Definition is one recurring task. JSON field names match the on-disk
// recurring-tasks.json format.
type Definition struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Frequency         Frequency  `json:"frequency"`
	DayOfWeek         int        `json:"dayOfWeek,omitempty"` // 1-7, Monday=1; weekly only
	TimeOfDay         string     `json:"timeOfDay"`
	Assignee          string     `json:"assignee,omitempty"`
	CreatedBy         string     `json:"createdBy,omitempty"`
	GroupID           int64      `json:"groupId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastReminded      *time.Time `json:"lastReminded"`
	LastCompleted     *time.Time `json:"lastCompleted,omitempty"`
	CompletedThisWeek bool       `json:"completedThisWeek"`
	Active            bool       `json:"active"`
}

// ParseFrequency converts user input to a Frequency.
func ParseFrequency(s string) (Frequency, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "day", "每天", "每日":
		return Daily, true
	case "weekly", "week", "每周", "每星期":
		return Weekly, true
	case "monthly", "month", "每月":
		return Monthly, true
	}
	return "", false
}

// normalize validates def and fills defaults. It returns a copy.
func normalize(def Definition) (Definition, error) {
	def.Title = strings.TrimSpace(def.Title)
	if def.Title == "" {
		return def, fmt.Errorf("%w: title is required", ErrInvalidDefinition)
	}

	freq, ok := ParseFrequency(string(def.Frequency))
	if !ok {
		return def, fmt.Errorf("%w: unknown frequency %q", ErrInvalidDefinition, def.Frequency)
	}
	def.Frequency = freq

	if freq == Weekly {
		if def.DayOfWeek < 1 || def.DayOfWeek > 7 {
			return def, fmt.Errorf("%w: weekly definitions need a day of week between 1 and 7", ErrInvalidDefinition)
		}
	} else {
		def.DayOfWeek = 0
	}

	if strings.TrimSpace(def.TimeOfDay) == "" {
		def.TimeOfDay = DefaultTimeOfDay
	}
	hour, minute, err := parseTimeOfDay(def.TimeOfDay)
	if err != nil {
		return def, err
	}
	def.TimeOfDay = fmt.Sprintf("%02d:%02d", hour, minute)

	return def, nil
}

// parseTimeOfDay parses "HH:MM" (single-digit hours allowed).
func parseTimeOfDay(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidDefinition, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidDefinition, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidDefinition, s)
	}
	return hour, minute, nil
}

// CronSpec returns the standard 5-field cron expression of a definition.
// Weekly definitions use day-of-week modulo 7, so Sunday (7) becomes 0.
// Monthly definitions fire on the first day of the month.
func CronSpec(def Definition) (string, error) {
	def, err := normalize(def)
	if err != nil {
		return "", err
	}
	hour, minute, _ := parseTimeOfDay(def.TimeOfDay)

	switch def.Frequency {
	case Weekly:
		return fmt.Sprintf("%d %d * * %d", minute, hour, def.DayOfWeek%7), nil
	case Monthly:
		return fmt.Sprintf("%d %d 1 * *", minute, hour), nil
	default:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	}
}

var weekdayNames = []string{"", "一", "二", "三", "四", "五", "六", "日"}

// WeekdayName returns the Chinese weekday name for 1-7 ("一" … "日").
func WeekdayName(day int) string {
	if day < 1 || day > 7 {
		return ""
	}
	return weekdayNames[day]
}

// Describe renders the schedule of a definition for chat, e.g. "每周五 09:00".
func Describe(def Definition) string {
	t := def.TimeOfDay
	if t == "" {
		t = DefaultTimeOfDay
	}
	switch def.Frequency {
	case Weekly:
		return fmt.Sprintf("每周%s %s", WeekdayName(def.DayOfWeek), t)
	case Monthly:
		return fmt.Sprintf("每月1日 %s", t)
	default:
		return fmt.Sprintf("每天 %s", t)
	}
}
