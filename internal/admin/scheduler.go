package admin

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler drives RunMaintenance on the configured cron expression.
type Scheduler struct {
	admin *Admin
	cron  *cron.Cron
}

// NewScheduler builds a scheduler that runs maintenance on schedule (a
// standard cron expression, or one of cron's "@every 15m" style descriptors).
func NewScheduler(a *Admin, schedule string) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{admin: a, cron: c}
	if _, err := c.AddFunc(schedule, s.runAndLog); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) runAndLog() {
	if err := s.admin.RunMaintenance(); err != nil {
		slog.Error("scheduled maintenance failed", "error", err)
	}
}

// Start begins the cron scheduler in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels pending runs and waits for any in-flight run to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
