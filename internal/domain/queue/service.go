package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultSkipPositions is how many slots a skipped patient is pushed
// back when the caller does not say otherwise.
const DefaultSkipPositions = 5

// Backend is the external queue/roster service. It is the sole source
// of truth; every mutation here is a request to it, applied locally
// only after it confirms.
type Backend interface {
	TodayQueues(ctx context.Context, date string) ([]*Entry, error)
	DoctorsOnDuty(ctx context.Context) ([]*Doctor, error)
	PatientMetric(ctx context.Context, patientID uuid.UUID) (float64, error)
	BulkPatientMetrics(ctx context.Context, patientIDs []uuid.UUID) (map[uuid.UUID]float64, error)
	UpdateQueueStatus(ctx context.Context, queueID uuid.UUID, status Status, doctorID *uuid.UUID) error
	SkipQueue(ctx context.Context, queueID uuid.UUID, positions int) error
	PrioritizeEmergencyPatient(ctx context.Context, queueID uuid.UUID) error
	SendToEmergency(ctx context.Context, queueID uuid.UUID) error
	StartQueue(ctx context.Context) error
	UpdateEmergencyStatuses(ctx context.Context) error
}

// Refresher re-synchronizes the store from the backend on demand. The
// polling controller implements it; operations that reorder the queue
// server-side trigger it so the local view catches up immediately.
type Refresher interface {
	RefreshNow(ctx context.Context) error
}

// Service orchestrates the state-changing queue operations: each one
// validates preconditions against the store, calls the backend, then
// reconciles local state optimistically.
type Service struct {
	store     *Store
	backend   Backend
	refresher Refresher
	log       zerolog.Logger
	skipBy    int
	now       func() time.Time
}

func NewService(store *Store, backend Backend, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		backend: backend,
		log:     log,
		skipBy:  DefaultSkipPositions,
		now:     time.Now,
	}
}

// SetRefresher attaches the polling controller once it exists; wiring
// happens in main because the poller also depends on the store.
func (s *Service) SetRefresher(r Refresher) {
	s.refresher = r
}

// SetSkipPositions overrides the default skip distance.
func (s *Service) SetSkipPositions(n int) {
	if n > 0 {
		s.skipBy = n
	}
}

// Store exposes the underlying snapshot store for read-only views.
func (s *Service) Store() *Store {
	return s.store
}

// NextForConsultation returns the planner's current recommendation.
func (s *Service) NextForConsultation() []*Entry {
	return NextForConsultation(s.store, s.store.Lookup())
}

// StartQueue asks the backend to assign free doctors to the top-ranked
// waiting patients. The batch assignment itself is server-side; on
// success the local snapshot is refreshed.
func (s *Service) StartQueue(ctx context.Context) error {
	const op = "start queue"

	if len(s.store.AvailableDoctors()) == 0 {
		return validationErr(op, "no doctors available")
	}
	if len(s.NextForConsultation()) == 0 {
		return validationErr(op, "no waiting patients ready for consultation")
	}

	if err := s.backend.StartQueue(ctx); err != nil {
		return s.serviceErr(op, err)
	}
	s.refresh(ctx, op)
	return nil
}

// UpdateStatus transitions a single entry. Moving to in-progress
// requires a doctor who is not already busy; the store applies the
// confirmed change in place.
func (s *Service) UpdateStatus(ctx context.Context, queueID uuid.UUID, status Status, doctorID *uuid.UUID) error {
	const op = "update status"

	entry, ok := s.store.Entry(queueID)
	if !ok {
		return validationErr(op, "queue entry not found")
	}
	if !ValidTransition(entry.Status, status) {
		return validationErr(op, "cannot transition from %s to %s", entry.Status, status)
	}
	if status == StatusInProgress {
		if doctorID == nil {
			return validationErr(op, "a doctor is required to start a consultation")
		}
		if !s.doctorAvailable(*doctorID) {
			return validationErr(op, "doctor is already with a patient")
		}
	}

	if err := s.backend.UpdateQueueStatus(ctx, queueID, status, doctorID); err != nil {
		return s.serviceErr(op, err)
	}
	if err := s.store.ApplyStatusChange(queueID, status, doctorID, s.now()); err != nil {
		// The backend accepted the write; a failed local apply means the
		// snapshot drifted underneath us. Re-sync instead of guessing.
		s.log.Warn().Err(err).Str("queue_id", queueID.String()).Msg("local apply failed, refreshing")
		s.refresh(ctx, op)
	}
	return nil
}

// Skip pushes a waiting entry back by the configured number of slots.
// The reorder is server-side; the client only triggers and refetches.
func (s *Service) Skip(ctx context.Context, queueID uuid.UUID, positions int) error {
	const op = "skip queue"

	entry, ok := s.store.Entry(queueID)
	if !ok {
		return validationErr(op, "queue entry not found")
	}
	if entry.Status != StatusWaiting {
		return validationErr(op, "only waiting patients can be skipped")
	}
	if positions <= 0 {
		positions = s.skipBy
	}

	if err := s.backend.SkipQueue(ctx, queueID, positions); err != nil {
		return s.serviceErr(op, err)
	}
	s.refresh(ctx, op)
	return nil
}

// PrioritizeEmergency moves a waiting emergency patient to the front of
// the waiting order.
func (s *Service) PrioritizeEmergency(ctx context.Context, queueID uuid.UUID) error {
	const op = "prioritize emergency"

	entry, ok := s.store.Entry(queueID)
	if !ok {
		return validationErr(op, "queue entry not found")
	}
	if entry.Status != StatusWaiting {
		return validationErr(op, "only waiting patients can be prioritized")
	}
	if !s.store.Assessment(entry.PatientID).IsEmergency {
		return validationErr(op, "patient is not classified as an emergency")
	}

	if err := s.backend.PrioritizeEmergencyPatient(ctx, queueID); err != nil {
		return s.serviceErr(op, err)
	}
	s.refresh(ctx, op)
	return nil
}

// SendToEmergency hands a waiting emergency patient off to the
// emergency department; the entry leaves the normal queue flow.
func (s *Service) SendToEmergency(ctx context.Context, queueID uuid.UUID) error {
	const op = "send to emergency"

	entry, ok := s.store.Entry(queueID)
	if !ok {
		return validationErr(op, "queue entry not found")
	}
	if entry.Status != StatusWaiting {
		return validationErr(op, "only waiting patients can be sent to emergency")
	}
	if !s.store.Assessment(entry.PatientID).IsEmergency {
		return validationErr(op, "patient is not classified as an emergency")
	}

	if err := s.backend.SendToEmergency(ctx, queueID); err != nil {
		return s.serviceErr(op, err)
	}
	if err := s.store.ApplyEmergencyHandoff(queueID); err != nil {
		s.log.Warn().Err(err).Str("queue_id", queueID.String()).Msg("handoff apply failed, refreshing")
		s.refresh(ctx, op)
	}
	return nil
}

// UpdateEmergencyStatuses asks the backend to recompute emergency
// classifications for the whole queue, then refreshes.
func (s *Service) UpdateEmergencyStatuses(ctx context.Context) error {
	const op = "update emergency statuses"

	if err := s.backend.UpdateEmergencyStatuses(ctx); err != nil {
		return s.serviceErr(op, err)
	}
	s.refresh(ctx, op)
	return nil
}

func (s *Service) doctorAvailable(doctorID uuid.UUID) bool {
	for _, d := range s.store.AvailableDoctors() {
		if d.DoctorID == doctorID {
			return true
		}
	}
	return false
}

func (s *Service) refresh(ctx context.Context, op string) {
	if s.refresher == nil {
		return
	}
	if err := s.refresher.RefreshNow(ctx); err != nil {
		s.log.Warn().Err(err).Str("op", op).Msg("post-operation refresh failed")
	}
}

func (s *Service) serviceErr(op string, err error) error {
	if se, ok := err.(*ServiceError); ok {
		if se.Op == "" {
			se.Op = op
		}
		return se
	}
	return &ServiceError{Op: op, Message: GenericServiceMessage, Err: err}
}
