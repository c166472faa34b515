package store

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler materializes recurring transactions on a daily cron tick.
type Scheduler struct {
	cron   *cron.Cron
	store  *Store
	logger *log.Logger
}

func NewScheduler(s *Store, logger *log.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		store:  s,
		logger: logger,
	}
}

// Start registers the daily job and begins the cron loop. A catch-up run
// fires immediately so templates due earlier in the month are not skipped
// after a restart.
func (sch *Scheduler) Start() error {
	_, err := sch.cron.AddFunc("0 3 * * *", sch.run)
	if err != nil {
		return err
	}
	sch.run()
	sch.cron.Start()
	return nil
}

func (sch *Scheduler) Stop() {
	ctx := sch.cron.Stop()
	<-ctx.Done()
}

func (sch *Scheduler) run() {
	n := sch.store.MaterializeRecurring(time.Now().UTC())
	if n > 0 && sch.logger != nil {
		sch.logger.Printf("recurring: materialized %d transaction(s)", n)
	}
}
