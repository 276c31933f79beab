package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/capd/queue/internal/domain/triage"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// CheckupStatus is tracked independently of Status. An entry whose
// checkup is completed is archived-in-place: it never appears in active
// views regardless of its queue status.
type CheckupStatus string

const (
	CheckupCompleted    CheckupStatus = "completed"
	CheckupNotCompleted CheckupStatus = "not-completed"
)

// Entry is one patient's position in today's consultation queue. Entries
// are created by the external queue service; this service only reads
// them and requests transitions.
type Entry struct {
	QueueID       uuid.UUID     `json:"queue_id"`
	QueueNumber   int           `json:"queue_number"`
	PatientID     uuid.UUID     `json:"patient_id"`
	PatientName   string        `json:"patient_name"`
	Status        Status        `json:"status"`
	CheckupStatus CheckupStatus `json:"checkup_status"`
	DoctorID      *uuid.UUID    `json:"doctor_id,omitempty"`
	StartTime     *time.Time    `json:"start_time,omitempty"`
}

// Active reports whether the entry still belongs in active views.
func (e *Entry) Active() bool {
	return e.CheckupStatus != CheckupCompleted
}

// Doctor is a member of today's roster.
type Doctor struct {
	DoctorID       uuid.UUID `json:"doctor_id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
}

// ClinicalLookup resolves a patient's current risk assessment.
type ClinicalLookup func(patientID uuid.UUID) triage.Assessment

// EntryView is an entry annotated with its risk assessment, the shape
// the queue board consumes.
type EntryView struct {
	Entry
	Assessment triage.Assessment `json:"assessment"`
}

// transitionFrom lists the statuses an entry may transition out of for
// each target status.
var transitionFrom = map[Status][]Status{
	StatusInProgress: {StatusWaiting},
	StatusCompleted:  {StatusInProgress},
	StatusCancelled:  {StatusWaiting},
}

// ValidTransition reports whether a queue entry may move from one
// status to another.
func ValidTransition(from, to Status) bool {
	allowed, ok := transitionFrom[to]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == from {
			return true
		}
	}
	return false
}
