package queue

import (
	"testing"

	"github.com/google/uuid"

	"github.com/capd/queue/internal/domain/triage"
)

func TestNextForConsultationOrdering(t *testing.T) {
	s := NewStore()
	e3 := entry(3, StatusWaiting)
	e1 := entry(1, StatusWaiting)
	e2 := entry(2, StatusWaiting)

	loadStore(t, s, Snapshot{
		Entries: []*Entry{e3, e1, e2},
		Doctors: []*Doctor{doctor("Dr. A"), doctor("Dr. B")},
		Assessments: map[uuid.UUID]triage.Assessment{
			e3.PatientID: triage.Evaluate(10), // priority 0
			e1.PatientID: triage.Evaluate(55), // priority 10
			e2.PatientID: triage.Evaluate(60), // priority 10
		},
	})

	got := NextForConsultation(s, s.Lookup())
	if len(got) != 2 {
		t.Fatalf("expected 2 entries (doctor cap), got %d", len(got))
	}
	if got[0].QueueNumber != 1 || got[1].QueueNumber != 2 {
		t.Errorf("order = [%d %d], want [1 2]", got[0].QueueNumber, got[1].QueueNumber)
	}
}

func TestNextForConsultationPriorityBeatsQueueNumber(t *testing.T) {
	s := NewStore()
	early := entry(1, StatusWaiting)
	critical := entry(7, StatusWaiting)

	loadStore(t, s, Snapshot{
		Entries: []*Entry{early, critical},
		Doctors: []*Doctor{doctor("Dr. A")},
		Assessments: map[uuid.UUID]triage.Assessment{
			early.PatientID:    triage.Evaluate(0),
			critical.PatientID: triage.Evaluate(75),
		},
	})

	got := NextForConsultation(s, s.Lookup())
	if len(got) != 1 || got[0].QueueNumber != 7 {
		t.Fatalf("critical patient must rank first, got %+v", got)
	}
}

func TestNextForConsultationNoDoctors(t *testing.T) {
	s := NewStore()
	loadStore(t, s, Snapshot{Entries: []*Entry{entry(1, StatusWaiting)}})

	if got := NextForConsultation(s, s.Lookup()); len(got) != 0 {
		t.Errorf("no free doctors must yield an empty plan, got %d", len(got))
	}
}

func TestNextForConsultationSkipsNonWaiting(t *testing.T) {
	s := NewStore()
	busy := entry(1, StatusInProgress)
	waiting := entry(2, StatusWaiting)
	loadStore(t, s, Snapshot{
		Entries: []*Entry{busy, waiting},
		Doctors: []*Doctor{doctor("Dr. A"), doctor("Dr. B")},
	})

	got := NextForConsultation(s, s.Lookup())
	if len(got) != 1 || got[0].QueueID != waiting.QueueID {
		t.Fatalf("only waiting entries are candidates, got %d", len(got))
	}
}
