package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// NextDailyRun returns the next occurrence of timeOfDay ("HH:MM") at or
// after now, in now's location.
func NextDailyRun(now time.Time, timeOfDay string) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}

	todayRun := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	// If we're past today's run time, schedule for tomorrow
	if now.After(todayRun) {
		return todayRun.AddDate(0, 0, 1), nil
	}

	return todayRun, nil
}

// DailyScheduler runs a job once a day at a fixed local time
type DailyScheduler struct {
	timeOfDay string
	location  *time.Location
	logger    zerolog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func NewDailyScheduler(timeOfDay string, location *time.Location, logger zerolog.Logger) (*DailyScheduler, error) {
	if location == nil {
		location = time.Local
	}
	if _, err := NextDailyRun(time.Now(), timeOfDay); err != nil {
		return nil, err
	}
	return &DailyScheduler{
		timeOfDay: timeOfDay,
		location:  location,
		logger:    logger,
		now:       time.Now,
		after:     time.After,
	}, nil
}

// Run blocks, invoking job at every scheduled time until ctx is done.
// Runs never overlap: the next time is computed after job returns.
func (s *DailyScheduler) Run(ctx context.Context, job func(ctx context.Context, scheduled time.Time)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := NextDailyRun(s.now().In(s.location), s.timeOfDay)
		if err != nil {
			return err
		}
		s.logger.Info().Time("next_run", next).Msg("Next imputation run scheduled")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(next.Sub(s.now())):
		}

		job(ctx, next)
	}
}
