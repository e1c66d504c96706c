package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/isdelr/leadboard-be/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DigestCounter counts public submissions that no identity owns yet.
type DigestCounter interface {
	CountUnownedSince(ctx context.Context, since time.Time) (int, error)
}

// Scheduler runs the periodic unowned-leads digest.
type Scheduler struct {
	leads    DigestCounter
	eventSvc services.EventServiceProvider
	spec     string
	cron     *cron.Cron
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	lastRun time.Time
	now     func() time.Time
}

// NewScheduler creates a new scheduler instance. spec is a standard
// five-field cron expression.
func NewScheduler(leads DigestCounter, eventSvc services.EventServiceProvider, spec string) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", spec, err)
	}
	return &Scheduler{
		leads:    leads,
		eventSvc: eventSvc,
		spec:     spec,
		cron:     cron.New(),
		done:     make(chan struct{}),
		lastRun:  time.Now().UTC(),
		now:      time.Now,
	}, nil
}

// Run starts the cron loop and blocks until Stop is called.
func (s *Scheduler) Run() {
	log.Info().Str("schedule", s.spec).Msg("Starting background scheduler...")
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunDigest(context.Background()) }); err != nil {
		log.Error().Err(err).Msg("Scheduler: failed to register digest job")
		return
	}
	s.cron.Start()

	<-s.done
	<-s.cron.Stop().Done()
	log.Info().Msg("Stopping background scheduler.")
}

// Stop halts the scheduler, waiting for a running digest to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// RunDigest counts unowned leads received since the previous digest and
// records a system event when there are any. It returns the count.
func (s *Scheduler) RunDigest(ctx context.Context) int {
	s.mu.Lock()
	since := s.lastRun
	now := s.now().UTC()
	s.mu.Unlock()

	count, err := s.leads.CountUnownedSince(ctx, since)
	if err != nil {
		log.Error().Err(err).Msg("Scheduler: failed to count unowned leads")
		return 0
	}

	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()

	if count == 0 {
		return 0
	}

	msg := fmt.Sprintf("%d unowned lead(s) received since %s.", count, since.Format(time.RFC3339))
	log.Info().Int("count", count).Time("since", since).Msg("Unowned leads digest")
	if s.eventSvc != nil {
		if err := s.eventSvc.CreateEvent(ctx, "leads.digest", "info", msg, nil, nil); err != nil {
			log.Error().Err(err).Msg("Scheduler: failed to record digest event")
		}
	}
	return count
}
