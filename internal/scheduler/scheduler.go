// Package scheduler drives the periodic inbox rescan. The filesystem
// watcher catches live events; the rescan is the safety net for events
// dropped while the process was busy or folders changed atomically
// enough that no event fired.
package scheduler

import (
	"log"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	c *cron.Cron
}

// New schedules fn on the given cron spec (e.g. "@hourly").
func New(spec string, fn func()) (*Scheduler, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, fn); err != nil {
		return nil, err
	}
	return &Scheduler{c: c}, nil
}

func (s *Scheduler) Start() {
	s.c.Start()
	log.Printf("Scheduler: inbox rescan scheduled")
}

// Stop halts the cron loop; an in-flight rescan finishes.
func (s *Scheduler) Stop() {
	s.c.Stop()
}
