// Package poller re-synchronizes the queue store from the external
// service on a fixed interval and turns count deltas into domain
// events. The store is a last-poll-wins cache; the poller is the only
// writer besides the optimistic applies in the operations service.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/capd/queue/internal/domain/queue"
	"github.com/capd/queue/internal/domain/triage"
	"github.com/capd/queue/internal/platform/events"
)

// DefaultInterval is the refresh cadence when none is configured.
const DefaultInterval = 30 * time.Second

// DefaultClinicOffset converts UTC to clinic-local time.
const DefaultClinicOffset = 8 * time.Hour

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides the refresh cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClinicOffset overrides the UTC-to-clinic-local offset.
func WithClinicOffset(d time.Duration) Option {
	return func(p *Poller) { p.offset = d }
}

// WithClock overrides the time source. Tests use it.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// Poller is the periodic refresh cycle plus the manual trigger.
type Poller struct {
	store    *queue.Store
	backend  queue.Backend
	bus      *events.Bus
	log      zerolog.Logger
	interval time.Duration
	offset   time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu             sync.Mutex
	primed         bool
	prevPending    int
	prevInProgress int
}

func New(store *queue.Store, backend queue.Backend, bus *events.Bus, log zerolog.Logger, opts ...Option) *Poller {
	p := &Poller{
		store:    store,
		backend:  backend,
		bus:      bus,
		log:      log,
		interval: DefaultInterval,
		offset:   DefaultClinicOffset,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ClinicNow returns the current clinic-local time: UTC plus the
// configured offset, applied uniformly.
func (p *Poller) ClinicNow() time.Time {
	return p.now().UTC().Add(p.offset)
}

// ClinicDate returns today's date string in clinic-local time.
func (p *Poller) ClinicDate() string {
	return p.ClinicNow().Format("2006-01-02")
}

// Start launches the refresh loop. It performs one immediate refresh so
// the store is primed before the first tick, then repeats until Stop or
// context cancellation. A failed poll is logged and retried on the next
// interval.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		if err := p.RefreshNow(ctx); err != nil {
			p.log.Warn().Err(err).Msg("initial refresh failed")
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.RefreshNow(ctx); err != nil {
					p.log.Warn().Err(err).Msg("poll refresh failed")
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight cycle to unwind.
// Any in-flight request results are abandoned.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// RefreshNow runs one full refresh cycle: fetch queues, roster, and
// clinical metrics, load the store, and emit delta events. Implements
// queue.Refresher. If a local mutation raced the fetch the stale
// snapshot is discarded and the fetch repeated once with a fresh basis.
func (p *Poller) RefreshNow(ctx context.Context) error {
	err := p.refreshOnce(ctx)
	var stale *queue.StaleDataError
	if errors.As(err, &stale) {
		p.log.Info().Uint64("basis", stale.SnapshotBasis).
			Uint64("store", stale.StoreVersion).Msg("discarded stale poll, re-polling")
		err = p.refreshOnce(ctx)
	}
	return err
}

func (p *Poller) refreshOnce(ctx context.Context) error {
	basis := p.store.Version()

	entries, err := p.backend.TodayQueues(ctx, p.ClinicDate())
	if err != nil {
		return err
	}
	doctors, err := p.backend.DoctorsOnDuty(ctx)
	if err != nil {
		return err
	}
	assessments := p.fetchAssessments(ctx, entries)

	if err := p.store.Load(queue.Snapshot{
		Date:        p.ClinicDate(),
		Entries:     entries,
		Doctors:     doctors,
		Assessments: assessments,
	}, basis); err != nil {
		return err
	}

	p.detectDeltas(p.store.Counts())
	return nil
}

// fetchAssessments resolves clinical metrics for every patient in the
// snapshot, preferring one bulk call over per-entry fetches. A patient
// whose lookup fails degrades to the unavailable assessment; the
// refresh carries on for everyone else.
func (p *Poller) fetchAssessments(ctx context.Context, entries []*queue.Entry) map[uuid.UUID]triage.Assessment {
	ids := make([]uuid.UUID, 0, len(entries))
	seen := make(map[uuid.UUID]bool, len(entries))
	for _, e := range entries {
		if !seen[e.PatientID] {
			seen[e.PatientID] = true
			ids = append(ids, e.PatientID)
		}
	}

	out := make(map[uuid.UUID]triage.Assessment, len(ids))
	if len(ids) == 0 {
		return out
	}

	metrics, err := p.backend.BulkPatientMetrics(ctx, ids)
	if err != nil {
		p.log.Debug().Err(err).Msg("bulk metrics unavailable, falling back to per-patient lookups")
		metrics = nil
	}

	for _, id := range ids {
		if pct, ok := metrics[id]; ok {
			out[id] = triage.Evaluate(pct)
			continue
		}
		pct, err := p.backend.PatientMetric(ctx, id)
		if err != nil {
			p.log.Debug().Err(err).Str("patient_id", id.String()).Msg("clinical metric unavailable")
			out[id] = triage.Unavailable()
			continue
		}
		out[id] = triage.Evaluate(pct)
	}
	return out
}

// detectDeltas emits at most one event per category per refresh, based
// on strict count comparison rather than entry identity. Treatments:
// the completed-pending count strictly increased. Consultations: the
// in-progress count rose from zero.
func (p *Poller) detectDeltas(c queue.Counts) {
	p.mu.Lock()
	primed := p.primed
	prevPending := p.prevPending
	prevInProgress := p.prevInProgress
	p.primed = true
	p.prevPending = c.CompletedPending
	p.prevInProgress = c.InProgress
	p.mu.Unlock()

	// The first refresh establishes the baseline without alerting.
	if !primed {
		return
	}

	if c.CompletedPending > prevPending {
		p.bus.Publish(events.New(events.TypeTreatmentCompleted, map[string]int{
			"completed_pending": c.CompletedPending,
		}))
	}
	if prevInProgress == 0 && c.InProgress > 0 {
		p.bus.Publish(events.New(events.TypeConsultationStarted, map[string]int{
			"in_progress": c.InProgress,
		}))
	}
}
