package progress

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock wake time, always expressed in UTC.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant at this time of day on the date of d, in UTC.
func (t TimeOfDay) On(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, time.UTC)
}

// Before orders times of day lexicographically by (hour, minute).
func (t TimeOfDay) Before(other TimeOfDay) bool {
	if t.Hour != other.Hour {
		return t.Hour < other.Hour
	}
	return t.Minute < other.Minute
}

// Cadence is the per-channel reporting schedule. The deadline triple
// (PriorDeadline, PrevDeadline, Deadline) is the sliding three-window
// record enabling two-window lookback during a tally: reports in
// [PriorDeadline, PrevDeadline) are verified, reports in
// [PrevDeadline, Deadline) are counted for the reminder check.
type Cadence struct {
	ChannelID     int64
	IntervalDays  int
	TimeOfDay     TimeOfDay
	Deadline      time.Time
	PrevDeadline  time.Time
	PriorDeadline time.Time
}

// Interval returns the cycle length as a duration.
func (c *Cadence) Interval() time.Duration {
	return time.Duration(c.IntervalDays) * 24 * time.Hour
}

// Validate checks the deadline triple ordering. A violation means the
// row was corrupted or advanced incorrectly, never user input.
func (c *Cadence) Validate() error {
	if c.IntervalDays < 1 {
		return fmt.Errorf("cadence for channel %d: interval must be at least one day, got %d", c.ChannelID, c.IntervalDays)
	}
	if !c.PriorDeadline.Before(c.PrevDeadline) || !c.PrevDeadline.Before(c.Deadline) {
		return fmt.Errorf("cadence for channel %d: deadline triple out of order (%s, %s, %s)",
			c.ChannelID, c.PriorDeadline, c.PrevDeadline, c.Deadline)
	}
	return nil
}

// Advance slides the deadline triple forward one cycle.
func (c *Cadence) Advance(nextDeadline time.Time) {
	c.PriorDeadline = c.PrevDeadline
	c.PrevDeadline = c.Deadline
	c.Deadline = nextDeadline
}

// NewCadence seeds a cadence from a freshly chosen next occurrence,
// back-filling the prior deadlines one interval apart.
func NewCadence(channelID int64, intervalDays int, timeOfDay TimeOfDay, nextOccurrence time.Time) *Cadence {
	interval := time.Duration(intervalDays) * 24 * time.Hour
	return &Cadence{
		ChannelID:     channelID,
		IntervalDays:  intervalDays,
		TimeOfDay:     timeOfDay,
		Deadline:      nextOccurrence,
		PrevDeadline:  nextOccurrence.Add(-interval),
		PriorDeadline: nextOccurrence.Add(-2 * interval),
	}
}

// DueAt reports whether the cadence's deadline is due at the given
// instant, with a one minute tolerance for timer drift.
func (c *Cadence) DueAt(now time.Time) bool {
	return !now.Add(time.Minute).Before(c.Deadline)
}
