package scheduler

import (
	"context"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/solstream/keygate/internal/services/usagelog"
)

// RolloverScheduler periodically advances overdue monthly windows for idle
// keys. Rollover is otherwise lazy (performed by the next increment), so the
// sweep only exists to keep reset timestamps honest for keys with no
// traffic.
type RolloverScheduler struct {
	usageService *usagelog.Service
	interval     time.Duration
	stopChan     chan struct{}
}

func NewRolloverScheduler(usageService *usagelog.Service, interval time.Duration) *RolloverScheduler {
	if interval == 0 {
		interval = 1 * time.Hour
	}
	return &RolloverScheduler{
		usageService: usageService,
		interval:     interval,
		stopChan:     make(chan struct{}),
	}
}

func (s *RolloverScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	fiberlog.Infof("Rollover scheduler started, running every %s", s.interval)

	for {
		select {
		case <-ticker.C:
			rolled, err := s.usageService.RolloverOverdue(ctx, time.Now().UTC())
			if err != nil {
				fiberlog.Errorf("Error processing scheduled rollovers: %v", err)
			} else if rolled > 0 {
				fiberlog.Infof("Rolled over %d idle key windows", rolled)
			}
		case <-s.stopChan:
			fiberlog.Info("Rollover scheduler stopped")
			return
		case <-ctx.Done():
			fiberlog.Info("Rollover scheduler stopped due to context cancellation")
			return
		}
	}
}

func (s *RolloverScheduler) Stop() {
	close(s.stopChan)
}
