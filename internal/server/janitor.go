package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
	"gorm.io/gorm"
)

// DefaultStallTimeout is how long a context may sit in processing before
// the janitor treats the responder as dead and clears the flag.
const DefaultStallTimeout = 10 * time.Minute

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// runJanitor clears stale processing flags on a cron schedule until ctx is
// cancelled. The flag can only stay true across a sweep interval if the
// process that owned the response loop died without cleanup.
func runJanitor(ctx context.Context, db *gorm.DB, cronExpr string, stallTimeout time.Duration) {
	d := nextCronDuration(cronExpr)
	if d == 0 {
		log.Printf("server: janitor: bad cron expression %q, watchdog disabled", cronExpr)
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			cleared, err := SweepStale(db, stallTimeout)
			if err != nil {
				log.Printf("server: janitor: %v", err)
			} else if cleared > 0 {
				log.Printf("server: janitor: cleared %d stale processing flag(s)", cleared)
			}
			if d := nextCronDuration(cronExpr); d > 0 {
				timer.Reset(d)
			} else {
				return
			}
		}
	}
}

// SweepStale clears the processing flag on every context that has been
// processing longer than stallTimeout, recording a system message in the
// same transaction so clients see why the turn never completed. Returns the
// number of contexts cleared.
func SweepStale(db *gorm.DB, stallTimeout time.Duration) (int, error) {
	if stallTimeout <= 0 {
		stallTimeout = DefaultStallTimeout
	}
	cutoff := time.Now().Add(-stallTimeout)

	var stale []models.Context
	if err := db.Where("is_processing = ? AND processing_at < ?", true, cutoff).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("server: sweep: find stale: %w", err)
	}

	cleared := 0
	for _, ctx := range stale {
		err := db.Transaction(func(tx *gorm.DB) error {
			detail := fmt.Sprintf("responder unresponsive for over %s; processing aborted", stallTimeout)
			if _, err := store.AppendMessage(tx, ctx.ID, models.RoleSystem, detail); err != nil {
				return err
			}
			return store.SetProcessing(tx, ctx.ID, false)
		})
		if err != nil {
			return cleared, fmt.Errorf("server: sweep context %d: %w", ctx.ID, err)
		}
		cleared++
	}
	return cleared, nil
}
