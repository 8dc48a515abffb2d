package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind selects how a job's next run is computed.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Schedule is a one-shot time, a fixed interval, or a cron expression.
type Schedule struct {
	Kind    ScheduleKind `json:"kind"`
	At      *time.Time   `json:"at,omitempty"`
	EveryMs int64        `json:"every_ms,omitempty"`
	Expr    string       `json:"expr,omitempty"`
	TZ      string       `json:"tz,omitempty"`
}

// AtSchedule runs once at t.
func AtSchedule(t time.Time) Schedule {
	return Schedule{Kind: ScheduleAt, At: &t}
}

// EverySchedule runs every d.
func EverySchedule(d time.Duration) Schedule {
	return Schedule{Kind: ScheduleEvery, EveryMs: d.Milliseconds()}
}

// CronSchedule runs on a cron expression, optionally in a time zone.
func CronSchedule(expr, tz string) Schedule {
	return Schedule{Kind: ScheduleCron, Expr: strings.TrimSpace(expr), TZ: strings.TrimSpace(tz)}
}

// ParseAt parses an RFC3339 timestamp or "2006-01-02 15:04" in tz.
func ParseAt(value, tz string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("at schedule value required")
	}
	loc := time.Local
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown time zone %q", tz)
		}
		loc = l
	}
	if parsed, err := time.ParseInLocation(time.RFC3339, value, loc); err == nil {
		return parsed, nil
	}
	if parsed, err := time.ParseInLocation("2006-01-02 15:04", value, loc); err == nil {
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("invalid at schedule: %s", value)
}

// Every returns the interval of an every schedule.
func (s Schedule) Every() time.Duration {
	return time.Duration(s.EveryMs) * time.Millisecond
}

// Validate reports whether the schedule can produce run times.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleAt:
		if s.At == nil || s.At.IsZero() {
			return fmt.Errorf("at schedule missing timestamp")
		}
	case ScheduleEvery:
		if s.Every() < time.Second {
			return fmt.Errorf("every schedule must be at least 1s")
		}
	case ScheduleCron:
		if s.Expr == "" {
			return fmt.Errorf("cron schedule missing expression")
		}
		if _, err := cronParser.Parse(s.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		if s.TZ != "" {
			if _, err := time.LoadLocation(s.TZ); err != nil {
				return fmt.Errorf("unknown time zone %q", s.TZ)
			}
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// Next returns the next run time after now. An at schedule always returns
// its timestamp, so one that is already past fires on the next tick.
func (s Schedule) Next(now time.Time) (time.Time, bool, error) {
	switch s.Kind {
	case ScheduleAt:
		if s.At == nil || s.At.IsZero() {
			return time.Time{}, false, fmt.Errorf("at schedule missing timestamp")
		}
		return *s.At, true, nil
	case ScheduleEvery:
		if s.EveryMs <= 0 {
			return time.Time{}, false, fmt.Errorf("every schedule missing duration")
		}
		return now.Add(s.Every()), true, nil
	case ScheduleCron:
		loc := now.Location()
		if s.TZ != "" {
			if tz, err := time.LoadLocation(s.TZ); err == nil {
				loc = tz
			}
		}
		schedule, err := cronParser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression: %w", err)
		}
		next := schedule.Next(now.In(loc))
		return next, !next.IsZero(), nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// String renders the schedule for listings.
func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleAt:
		if s.At != nil {
			return "at " + s.At.Format(time.RFC3339)
		}
	case ScheduleEvery:
		return "every " + s.Every().String()
	case ScheduleCron:
		if s.TZ != "" {
			return fmt.Sprintf("cron %q (%s)", s.Expr, s.TZ)
		}
		return fmt.Sprintf("cron %q", s.Expr)
	}
	return string(s.Kind)
}
