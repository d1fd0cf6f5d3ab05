package replay

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Reaper periodically removes expired replay records. TTL enforcement is a
// maintenance concern; the callback hot path never deletes.
type Reaper struct {
	cron  *cron.Cron
	log   *logrus.Logger
	sweep func()
}

// NewReaper schedules hourly expiry for the given guard. Only backends that
// keep their own records need one; Redis expires keys itself. A nil swept
// counter disables reporting.
func NewReaper(guard Guard, log *logrus.Logger, swept prometheus.Counter) *Reaper {
	if log == nil {
		log = logrus.New()
	}

	report := func(removed int64) {
		if removed == 0 {
			return
		}
		if swept != nil {
			swept.Add(float64(removed))
		}
		log.WithField("removed", removed).Debug("expired replay records removed")
	}

	var sweep func()
	switch g := guard.(type) {
	case *SQLGuard:
		sweep = func() {
			deleted, err := g.DeleteExpired(context.Background())
			if err != nil {
				log.WithError(err).Warn("replay record cleanup failed")
				return
			}
			report(deleted)
		}
	case *MemoryGuard:
		sweep = func() {
			report(int64(g.Sweep()))
		}
	}

	c := cron.New()
	if sweep != nil {
		c.Schedule(cron.Every(sweepInterval), cron.FuncJob(sweep))
	}

	return &Reaper{cron: c, log: log, sweep: sweep}
}

const sweepInterval = TTL / 24

// Start begins the schedule in its own goroutine.
func (r *Reaper) Start() { r.cron.Start() }

// Stop halts the schedule; running jobs finish.
func (r *Reaper) Stop() { r.cron.Stop() }
