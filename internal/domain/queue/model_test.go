package queue

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusWaiting, StatusInProgress, true},
		{StatusWaiting, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusWaiting, StatusCompleted, false},
		{StatusInProgress, StatusCancelled, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCancelled, StatusInProgress, false},
		{StatusCompleted, StatusWaiting, false},
	}
	for _, tc := range cases {
		if got := ValidTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestEntryActive(t *testing.T) {
	e := &Entry{Status: StatusCompleted, CheckupStatus: CheckupNotCompleted}
	if !e.Active() {
		t.Error("completed entry with open checkup must remain active")
	}
	e.CheckupStatus = CheckupCompleted
	if e.Active() {
		t.Error("entry with completed checkup must be archived-in-place")
	}
}
