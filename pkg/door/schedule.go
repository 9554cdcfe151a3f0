package door

import (
	"fmt"
	"strings"
	"time"
)

// DaySchedule describes when the door may open on one weekday. The
// force flags override the time window in either direction.
type DaySchedule struct {
	Day           string `json:"day" yaml:"day"`
	Open          string `json:"open_time" yaml:"open"`
	Close         string `json:"close_time" yaml:"close"`
	ForceLocked   bool   `json:"force_locked" yaml:"force_locked"`
	ForceUnlocked bool   `json:"force_unlocked" yaml:"force_unlocked"`
}

// WeekSchedule maps lowercase weekday names to their schedules.
type WeekSchedule map[string]DaySchedule

const clockLayout = "15:04"

// AllowedAt reports whether the schedule permits entry at the given
// time. Days without an entry are closed. An empty or unparseable
// window is treated as closed unless force-unlocked.
func (w WeekSchedule) AllowedAt(t time.Time) bool {
	day, ok := w[strings.ToLower(t.Weekday().String())]
	if !ok {
		return false
	}
	if day.ForceLocked {
		return false
	}
	if day.ForceUnlocked {
		return true
	}

	open, err := time.Parse(clockLayout, day.Open)
	if err != nil {
		return false
	}
	closeAt, err := time.Parse(clockLayout, day.Close)
	if err != nil {
		return false
	}

	minutes := t.Hour()*60 + t.Minute()
	openMin := open.Hour()*60 + open.Minute()
	closeMin := closeAt.Hour()*60 + closeAt.Minute()
	return minutes >= openMin && minutes < closeMin
}

// Validate checks every day entry for parseable windows and known
// weekday names.
func (w WeekSchedule) Validate() error {
	for name, day := range w {
		if !validWeekday(name) {
			return fmt.Errorf("unknown weekday in schedule: %q", name)
		}
		if day.ForceLocked || day.ForceUnlocked {
			continue
		}
		if _, err := time.Parse(clockLayout, day.Open); err != nil {
			return fmt.Errorf("invalid open time for %s: %q", name, day.Open)
		}
		if _, err := time.Parse(clockLayout, day.Close); err != nil {
			return fmt.Errorf("invalid close time for %s: %q", name, day.Close)
		}
	}
	return nil
}

func validWeekday(name string) bool {
	switch name {
	case "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday":
		return true
	}
	return false
}

// DefaultWeekSchedule opens the door on weekdays during office hours.
func DefaultWeekSchedule() WeekSchedule {
	w := WeekSchedule{}
	for _, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday"} {
		w[day] = DaySchedule{Day: day, Open: "08:00", Close: "18:00"}
	}
	return w
}
