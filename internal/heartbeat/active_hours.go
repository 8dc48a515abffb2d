package heartbeat

import (
	"fmt"
	"regexp"
	"time"
)

// ActiveHours limits heartbeats to a daily window.
type ActiveHours struct {
	// Start and End are HH:MM. End may be "24:00". A window whose end is
	// before its start wraps past midnight.
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
	// Timezone is an IANA name; empty means local time.
	Timezone string `yaml:"timezone" json:"timezone"`
	// Days of the week when active (0=Sunday). Empty means every day.
	Days []int `yaml:"days" json:"days"`
}

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]|24):([0-5]\d)$`)

func parseClock(s string, allow24 bool) (int, error) {
	if !clockPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid time %q (expected HH:MM)", s)
	}
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, err
	}
	if hour == 24 {
		if !allow24 || minute != 0 {
			return 0, fmt.Errorf("24:00 is only valid as an end time")
		}
		return 24 * 60, nil
	}
	return hour*60 + minute, nil
}

// Validate checks the window and time zone.
func (a *ActiveHours) Validate() error {
	if a == nil {
		return nil
	}
	if _, err := parseClock(a.Start, false); err != nil {
		return fmt.Errorf("active_hours.start: %w", err)
	}
	if _, err := parseClock(a.End, true); err != nil {
		return fmt.Errorf("active_hours.end: %w", err)
	}
	if a.Timezone != "" {
		if _, err := time.LoadLocation(a.Timezone); err != nil {
			return fmt.Errorf("active_hours.timezone: %w", err)
		}
	}
	for _, d := range a.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("active_hours.days: %d is not a weekday (0-6)", d)
		}
	}
	return nil
}

// Contains reports whether t falls inside the window. A nil window always
// contains t.
func (a *ActiveHours) Contains(t time.Time) bool {
	if a == nil {
		return true
	}
	loc := time.Local
	if a.Timezone != "" {
		if l, err := time.LoadLocation(a.Timezone); err == nil {
			loc = l
		}
	}
	local := t.In(loc)
	if len(a.Days) > 0 {
		ok := false
		for _, d := range a.Days {
			if d == int(local.Weekday()) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	start, err := parseClock(a.Start, false)
	if err != nil {
		return false
	}
	end, err := parseClock(a.End, true)
	if err != nil {
		return false
	}
	now := local.Hour()*60 + local.Minute()
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}
