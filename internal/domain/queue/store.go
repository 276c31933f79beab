package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capd/queue/internal/domain/triage"
)

// Snapshot is one full read of the day's state from the external queue
// service. The store replaces its contents wholesale on load; there is
// no merge logic, the last poll wins.
type Snapshot struct {
	Date        string
	Entries     []*Entry
	Doctors     []*Doctor
	Assessments map[uuid.UUID]triage.Assessment
}

// Counts summarises the active entry set per status. CompletedPending
// counts entries whose queue status is completed but whose checkup has
// not been closed out yet, the figure the treatment-completed delta
// watches.
type Counts struct {
	Waiting          int `json:"waiting"`
	InProgress       int `json:"in_progress"`
	Completed        int `json:"completed"`
	Cancelled        int `json:"cancelled"`
	CompletedPending int `json:"completed_pending"`
}

// Store holds the current day snapshot: queue entries, the doctor
// roster, and per-patient risk assessments. It is a read-through cache
// over the external service; every mutation bumps a monotonic version
// so a poll that raced with a local mutation can be detected and
// discarded.
type Store struct {
	mu          sync.RWMutex
	date        string
	entries     map[uuid.UUID]*Entry
	order       []uuid.UUID
	doctors     []*Doctor
	assessments map[uuid.UUID]triage.Assessment
	version     uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		entries:     make(map[uuid.UUID]*Entry),
		assessments: make(map[uuid.UUID]triage.Assessment),
	}
}

// Version returns the current state version. Callers capture it before
// a fetch and pass it back to Load as the basis.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Load replaces the store contents with the snapshot. basis must be the
// version observed before the snapshot was fetched; if a mutation
// landed in between, the snapshot no longer reflects reality and Load
// refuses it with a StaleDataError.
func (s *Store) Load(snap Snapshot, basis uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if basis != s.version {
		return &StaleDataError{SnapshotBasis: basis, StoreVersion: s.version}
	}

	entries := make(map[uuid.UUID]*Entry, len(snap.Entries))
	order := make([]uuid.UUID, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		cp := *e
		entries[cp.QueueID] = &cp
		order = append(order, cp.QueueID)
	}
	// Deterministic view order regardless of service response order.
	sort.SliceStable(order, func(i, j int) bool {
		return entries[order[i]].QueueNumber < entries[order[j]].QueueNumber
	})

	doctors := make([]*Doctor, 0, len(snap.Doctors))
	for _, d := range snap.Doctors {
		cp := *d
		doctors = append(doctors, &cp)
	}

	assessments := make(map[uuid.UUID]triage.Assessment, len(snap.Assessments))
	for id, a := range snap.Assessments {
		assessments[id] = a
	}

	s.date = snap.Date
	s.entries = entries
	s.order = order
	s.doctors = doctors
	s.assessments = assessments
	s.version++
	return nil
}

// Date returns the clinic date of the loaded snapshot.
func (s *Store) Date() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.date
}

// Entry returns a copy of the entry with the given queue ID.
func (s *Store) Entry(queueID uuid.UUID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[queueID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ActiveEntries returns all entries except those archived-in-place via
// a completed checkup, ordered by queue number.
func (s *Store) ActiveEntries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked()
}

func (s *Store) activeLocked() []*Entry {
	var out []*Entry
	for _, id := range s.order {
		e := s.entries[id]
		if e == nil || !e.Active() {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// ByStatus filters the active entries by queue status.
func (s *Store) ByStatus(status Status) []*Entry {
	var out []*Entry
	for _, e := range s.ActiveEntries() {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// EmergencyWaiting returns the waiting entries whose current assessment
// classifies them as emergencies.
func (s *Store) EmergencyWaiting(lookup ClinicalLookup) []*Entry {
	var out []*Entry
	for _, e := range s.ByStatus(StatusWaiting) {
		if lookup(e.PatientID).IsEmergency {
			out = append(out, e)
		}
	}
	return out
}

// Doctors returns a copy of today's roster.
func (s *Store) Doctors() []*Doctor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Doctor, 0, len(s.doctors))
	for _, d := range s.doctors {
		cp := *d
		out = append(out, &cp)
	}
	return out
}

// AvailableDoctors returns roster members with no in-progress entry
// assigned to them.
func (s *Store) AvailableDoctors() []*Doctor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	busy := make(map[uuid.UUID]bool)
	for _, e := range s.entries {
		if e.Status == StatusInProgress && e.DoctorID != nil {
			busy[*e.DoctorID] = true
		}
	}

	var out []*Doctor
	for _, d := range s.doctors {
		if busy[d.DoctorID] {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out
}

// Assessment returns the patient's risk assessment from the last poll,
// defaulting to the degraded unavailable assessment when the metric was
// never fetched.
func (s *Store) Assessment(patientID uuid.UUID) triage.Assessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.assessments[patientID]; ok {
		return a
	}
	return triage.Unavailable()
}

// Lookup returns a ClinicalLookup backed by the store's assessments.
func (s *Store) Lookup() ClinicalLookup {
	return s.Assessment
}

// Counts returns per-status totals over the active entry set.
// CompletedPending is computed over all entries, since an entry whose
// checkup closed drops out of the active set by definition.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Counts
	for _, e := range s.entries {
		if e.Status == StatusCompleted && e.CheckupStatus != CheckupCompleted {
			c.CompletedPending++
		}
		if !e.Active() {
			continue
		}
		switch e.Status {
		case StatusWaiting:
			c.Waiting++
		case StatusInProgress:
			c.InProgress++
		case StatusCompleted:
			c.Completed++
		case StatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

// ApplyStatusChange mutates an entry in place after the external
// service confirmed the transition. Moving to in-progress records the
// start time and assigned doctor; completing also closes the checkup so
// the entry leaves active views.
func (s *Store) ApplyStatusChange(queueID uuid.UUID, status Status, doctorID *uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[queueID]
	if !ok {
		return &NotFoundError{What: "queue entry"}
	}
	if !ValidTransition(e.Status, status) {
		return validationErr("apply status", "cannot transition from %s to %s", e.Status, status)
	}

	e.Status = status
	switch status {
	case StatusInProgress:
		t := now
		e.StartTime = &t
		e.DoctorID = doctorID
	case StatusCompleted:
		e.CheckupStatus = CheckupCompleted
	}
	s.version++
	return nil
}

// ApplyEmergencyHandoff archives an entry in place after the external
// service confirmed its transfer to the emergency department.
func (s *Store) ApplyEmergencyHandoff(queueID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[queueID]
	if !ok {
		return &NotFoundError{What: "queue entry"}
	}
	e.CheckupStatus = CheckupCompleted
	s.version++
	return nil
}
