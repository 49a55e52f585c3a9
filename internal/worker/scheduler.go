package worker

import (
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/netfabd/netfabd/internal/log"
)

// Scheduler triggers recurring service runs from their cron
// expressions. Entries are keyed by service ID so a rescheduled
// service replaces its previous trigger.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// NewScheduler creates a stopped scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins dispatching scheduled runs.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info("Scheduler started")
}

// Stop halts dispatching and waits for running triggers.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Schedule registers (or replaces) the cron trigger of a service. An
// empty expression unschedules it.
func (s *Scheduler) Schedule(serviceID, expression string, run func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[serviceID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, serviceID)
	}
	if expression == "" {
		return nil
	}

	entryID, err := s.cron.AddFunc(expression, run)
	if err != nil {
		return err
	}
	s.entries[serviceID] = entryID
	log.Info("Scheduled service", "service_id", serviceID, "cron", expression)
	return nil
}

// Unschedule removes a service's trigger if present.
func (s *Scheduler) Unschedule(serviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[serviceID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, serviceID)
	}
}
