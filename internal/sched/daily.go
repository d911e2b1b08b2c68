// Package sched computes occurrence times for the daily calibration reset
// and runs the timer loop that fires them.
package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Daily fires once per day at a fixed local hour.
type Daily struct {
	hour int
	tz   *time.Location
}

// NewDaily creates a daily schedule for the given local hour (0-23).
// An unknown timezone falls back to UTC with a warning.
func NewDaily(hour int, timezone string) *Daily {
	tz, err := time.LoadLocation(timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", timezone).Msg("Failed to load timezone, using UTC")
		tz = time.UTC
	}
	return &Daily{hour: hour, tz: tz}
}

// Next returns the first occurrence strictly after the given time.
func (d *Daily) Next(after time.Time) time.Time {
	local := after.In(d.tz)
	occ := time.Date(local.Year(), local.Month(), local.Day(), d.hour, 0, 0, 0, d.tz)
	if !occ.After(after) {
		occ = occ.AddDate(0, 0, 1)
	}
	return occ
}

// Run fires fn at each occurrence until ctx is cancelled. A missed tick
// (sleep overrun) fires immediately on wakeup; the work itself is
// responsible for using wall-elapsed time.
func (d *Daily) Run(ctx context.Context, fn func()) {
	for {
		next := d.Next(time.Now())
		sleep := time.Until(next)
		if sleep < 0 {
			sleep = 0
		}

		log.Debug().
			Time("next", next).
			Dur("sleep", sleep).
			Msg("Daily schedule sleeping")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn()
		}
	}
}
