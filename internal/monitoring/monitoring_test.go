package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/isdelr/leadboard-be/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	counts []int
	err    error
	since  []time.Time
}

func (f *fakeCounter) CountUnownedSince(_ context.Context, since time.Time) (int, error) {
	f.since = append(f.since, since)
	if f.err != nil {
		return 0, f.err
	}
	n := f.counts[0]
	f.counts = f.counts[1:]
	return n, nil
}

type recordedEvent struct {
	eventType string
	message   string
	ownerID   *string
}

type fakeEvents struct {
	events []recordedEvent
}

func (f *fakeEvents) CreateEvent(_ context.Context, eventType, _, message string, ownerID, _ *string) error {
	f.events = append(f.events, recordedEvent{eventType: eventType, message: message, ownerID: ownerID})
	return nil
}

func (f *fakeEvents) GetRecentEvents(context.Context, string, int) ([]models.Event, error) {
	return nil, nil
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(&fakeCounter{}, &fakeEvents{}, "every hour")
	require.Error(t, err)
}

func TestRunDigestRecordsSystemEvent(t *testing.T) {
	counter := &fakeCounter{counts: []int{3, 0}}
	events := &fakeEvents{}
	s, err := NewScheduler(counter, events, "@hourly")
	require.NoError(t, err)

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	clock := []time.Time{first, second}
	s.now = func() time.Time {
		next := clock[0]
		clock = clock[1:]
		return next
	}

	assert.Equal(t, 3, s.RunDigest(context.Background()))
	require.Len(t, events.events, 1)
	assert.Equal(t, "leads.digest", events.events[0].eventType)
	assert.Nil(t, events.events[0].ownerID)
	assert.Contains(t, events.events[0].message, "3 unowned")

	assert.Equal(t, 0, s.RunDigest(context.Background()))
	assert.Len(t, events.events, 1)

	require.Len(t, counter.since, 2)
	assert.True(t, counter.since[1].Equal(first), "second digest starts where the first ended")
}

func TestRunDigestKeepsWindowOnFailure(t *testing.T) {
	counter := &fakeCounter{err: errors.New("database is locked")}
	s, err := NewScheduler(counter, &fakeEvents{}, "0 * * * *")
	require.NoError(t, err)
	start := s.lastRun

	assert.Equal(t, 0, s.RunDigest(context.Background()))
	assert.True(t, s.lastRun.Equal(start))
}

func TestSchedulerStopEndsRun(t *testing.T) {
	s, err := NewScheduler(&fakeCounter{}, &fakeEvents{}, "0 0 1 1 *")
	require.NoError(t, err)

	finished := make(chan struct{})
	go func() {
		s.Run()
		close(finished)
	}()
	s.Stop()
	s.Stop()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStatUpdaterLatest(t *testing.T) {
	su := NewStatUpdater(time.Hour)
	stats := su.Latest()
	assert.Equal(t, "ok", stats.Status)
	assert.False(t, stats.SampledAt.IsZero())
	assert.Positive(t, stats.Goroutines)

	done := make(chan struct{})
	go func() {
		su.Run()
		close(done)
	}()
	su.Stop()
	<-done
}
