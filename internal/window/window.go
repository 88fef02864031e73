// Package window decides whether a scan falls inside an event's admission window.
package window

import (
	"errors"
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"

	DefaultMinutesBefore = 15
	DefaultMinutesAfter  = 60
)

// Verdict classifies a scan time against Bounds.
type Verdict int

const (
	Admissible Verdict = iota
	TooEarly
	TooLate
)

func (v Verdict) String() string {
	switch v {
	case TooEarly:
		return "too_early"
	case TooLate:
		return "too_late"
	default:
		return "admissible"
	}
}

// Schedule is the part of an event the window is computed from.
type Schedule struct {
	Date          string // YYYY-MM-DD
	StartTime     string // HH:MM
	EndTime       string // HH:MM
	MinutesBefore int
	MinutesAfter  int
}

// Bounds is the inclusive admission interval.
type Bounds struct {
	Start  time.Time `json:"event_start"`
	Opens  time.Time `json:"opens"`
	Closes time.Time `json:"closes"`
}

// Validate checks the schedule invariants: parseable date and clock values,
// start strictly before end, and non-negative offsets.
func (s Schedule) Validate() error {
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		return fmt.Errorf("invalid event date %q: %w", s.Date, err)
	}
	start, err := time.Parse(ClockLayout, s.StartTime)
	if err != nil {
		return fmt.Errorf("invalid start time %q: %w", s.StartTime, err)
	}
	if s.EndTime != "" {
		end, err := time.Parse(ClockLayout, s.EndTime)
		if err != nil {
			return fmt.Errorf("invalid end time %q: %w", s.EndTime, err)
		}
		if !start.Before(end) {
			return errors.New("event start time must be before end time")
		}
	}
	if s.MinutesBefore < 0 || s.MinutesAfter < 0 {
		return errors.New("window minutes must be non-negative")
	}
	return nil
}

// Compute anchors the window on the event start in loc. Both sessions share it.
func Compute(s Schedule, loc *time.Location) (Bounds, error) {
	if err := s.Validate(); err != nil {
		return Bounds{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(DateLayout+" "+ClockLayout, s.Date+" "+s.StartTime, loc)
	if err != nil {
		return Bounds{}, fmt.Errorf("combine event start: %w", err)
	}
	return Bounds{
		Start:  start,
		Opens:  start.Add(-time.Duration(s.MinutesBefore) * time.Minute),
		Closes: start.Add(time.Duration(s.MinutesAfter) * time.Minute),
	}, nil
}

// Classify compares now against the bounds; both ends are admissible.
func (b Bounds) Classify(now time.Time) Verdict {
	switch {
	case now.Before(b.Opens):
		return TooEarly
	case now.After(b.Closes):
		return TooLate
	default:
		return Admissible
	}
}
