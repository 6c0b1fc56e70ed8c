// Package schedule evaluates day-of-week and time-of-day policies: the
// notification dispatch window and the fire times of recurring jobs.
package schedule

import (
	"fmt"
	"time"

	"printwatch/common/settings"

	"github.com/robfig/cron/v3"
)

var businessDays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// Window decides whether a notification may be dispatched at a given time.
type Window struct {
	Mode     string
	Days     map[time.Weekday]bool
	Start    time.Duration
	End      time.Duration
	Location *time.Location
}

// Always is the window that never blocks dispatch.
var Always = Window{Mode: settings.ScheduleAlways}

// WindowFromSettings builds a window from notification schedule settings.
func WindowFromSettings(s settings.ScheduleSettings) (Window, error) {
	w := Window{Mode: s.Mode}
	switch s.Mode {
	case settings.ScheduleAlways, "":
		w.Mode = settings.ScheduleAlways
		return w, nil
	case settings.ScheduleBusinessHours, settings.ScheduleScheduled:
	default:
		return Window{}, fmt.Errorf("unknown schedule mode %q", s.Mode)
	}

	var err error
	if w.Start, err = settings.ParseClock(s.StartTime); err != nil {
		return Window{}, err
	}
	if w.End, err = settings.ParseClock(s.EndTime); err != nil {
		return Window{}, err
	}
	days := businessDays
	if s.Mode == settings.ScheduleScheduled {
		if days, err = settings.ParseWeekdays(s.Days); err != nil {
			return Window{}, err
		}
	}
	w.Days = make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		w.Days[d] = true
	}
	if s.Timezone != "" {
		if w.Location, err = time.LoadLocation(s.Timezone); err != nil {
			return Window{}, err
		}
	}
	return w, nil
}

// Contains reports whether t falls inside the window. Start is inclusive
// and End exclusive; a window whose End precedes Start spans midnight and
// belongs to the day it starts on.
func (w Window) Contains(t time.Time) bool {
	if w.Mode == settings.ScheduleAlways || w.Mode == "" {
		return true
	}
	if w.Location != nil {
		t = t.In(w.Location)
	}
	tod := clockOf(t)
	day := t.Weekday()

	if w.Start <= w.End {
		return w.Days[day] && tod >= w.Start && tod < w.End
	}
	if tod >= w.Start {
		return w.Days[day]
	}
	if tod < w.End {
		return w.Days[(day+6)%7]
	}
	return false
}

func clockOf(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
}

// Descriptor is a recurring fire time: a set of weekdays (every day when
// empty) at a time of day. It implements cron.Schedule.
type Descriptor struct {
	Days     []time.Weekday
	At       time.Duration
	Location *time.Location
}

var _ cron.Schedule = Descriptor{}

// DescriptorFromDigest builds the daily digest schedule.
func DescriptorFromDigest(s settings.DigestSettings, timezone string) (Descriptor, error) {
	at, err := settings.ParseClock(s.Time)
	if err != nil {
		return Descriptor{}, err
	}
	days, err := settings.ParseWeekdays(s.Days)
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{Days: days, At: at}
	if timezone != "" {
		if d.Location, err = time.LoadLocation(timezone); err != nil {
			return Descriptor{}, err
		}
	}
	return d, nil
}

// Next returns the first fire time strictly after t.
func (d Descriptor) Next(t time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = t.Location()
	}
	local := t.In(loc)
	hour := int(d.At / time.Hour)
	minute := int((d.At % time.Hour) / time.Minute)

	for i := 0; i <= 7; i++ {
		day := local.AddDate(0, 0, i)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if candidate.After(t) && d.allows(candidate.Weekday()) {
			return candidate
		}
	}
	return time.Time{}
}

func (d Descriptor) allows(day time.Weekday) bool {
	if len(d.Days) == 0 {
		return true
	}
	for _, a := range d.Days {
		if a == day {
			return true
		}
	}
	return false
}
