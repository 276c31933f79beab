package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestHandler(t *testing.T, snap Snapshot) (*Handler, *mockBackend, *mockRefresher) {
	t.Helper()
	store := NewStore()
	loadStore(t, store, snap)
	backend := &mockBackend{}
	svc := NewService(store, backend, zerolog.Nop())
	refresher := &mockRefresher{}
	svc.SetRefresher(refresher)
	clock := func() time.Time {
		return time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)
	}
	return NewHandler(svc, refresher, clock), backend, refresher
}

func handlerContext(method, target string, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestBoardResponse(t *testing.T) {
	waiting := entry(1, StatusWaiting)
	busy := entry(2, StatusInProgress)
	drReyes := doctor("Dr. Reyes")
	busy.DoctorID = &drReyes.DoctorID

	h, _, _ := newTestHandler(t, Snapshot{
		Date:    "2026-03-11",
		Entries: []*Entry{waiting, busy},
		Doctors: []*Doctor{drReyes, doctor("Dr. Cruz")},
	})

	c, rec := handlerContext(http.MethodGet, "/queue/board", "")
	if err := h.Board(c); err != nil {
		t.Fatalf("Board: %v", err)
	}

	var resp boardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Date != "2026-03-11" {
		t.Errorf("date = %q", resp.Date)
	}
	if resp.Counts.Waiting != 1 || resp.Counts.InProgress != 1 {
		t.Errorf("counts = %+v", resp.Counts)
	}
	if len(resp.Waiting) != 1 || resp.Waiting[0].QueueNumber != 1 {
		t.Errorf("waiting view = %+v", resp.Waiting)
	}
	// Unfetched metrics degrade to the unavailable assessment, never an
	// empty one.
	if resp.Waiting[0].Assessment.PriorityLabel == "" {
		t.Error("waiting entry missing assessment annotation")
	}
	if resp.ClinicTime.IsZero() {
		t.Error("board must carry the clinic-local timestamp")
	}
	if len(resp.AvailableDoctors) != 1 || resp.AvailableDoctors[0].Name != "Dr. Cruz" {
		t.Errorf("available doctors = %+v, want only the free doctor", resp.AvailableDoctors)
	}
}

func TestEntriesFilterByStatus(t *testing.T) {
	h, _, _ := newTestHandler(t, Snapshot{
		Entries: []*Entry{entry(1, StatusWaiting), entry(2, StatusCompleted)},
	})

	c, rec := handlerContext(http.MethodGet, "/queue/entries?status=waiting", "")
	if err := h.Entries(c); err != nil {
		t.Fatalf("Entries: %v", err)
	}
	var views []EntryView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Status != StatusWaiting {
		t.Errorf("views = %+v", views)
	}
}

func TestEntriesRejectsUnknownStatus(t *testing.T) {
	h, _, _ := newTestHandler(t, Snapshot{})
	c, _ := handlerContext(http.MethodGet, "/queue/entries?status=bogus", "")
	err := h.Entries(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestUpdateStatusValidationMapsTo400(t *testing.T) {
	e := entry(1, StatusCompleted)
	h, _, _ := newTestHandler(t, Snapshot{Entries: []*Entry{e}})

	c, _ := handlerContext(http.MethodPost, "/queue/entries/"+e.QueueID.String()+"/status",
		`{"status":"waiting"}`)
	c.SetParamNames("id")
	c.SetParamValues(e.QueueID.String())

	err := h.UpdateStatus(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSkipServiceFailureMapsTo502(t *testing.T) {
	e := entry(1, StatusWaiting)
	h, backend, _ := newTestHandler(t, Snapshot{Entries: []*Entry{e}})
	backend.failWith = &ServiceError{Message: "queue is locked"}

	c, _ := handlerContext(http.MethodPost, "/queue/entries/"+e.QueueID.String()+"/skip", `{"positions":3}`)
	c.SetParamNames("id")
	c.SetParamValues(e.QueueID.String())

	err := h.Skip(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %v", err)
	}
	if he.Message != "queue is locked" {
		t.Errorf("message = %v, want backend text preserved", he.Message)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	h, _, refresher := newTestHandler(t, Snapshot{})
	c, rec := handlerContext(http.MethodPost, "/queue/refresh", "")
	if err := h.Refresh(c); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refresher.calls != 1 {
		t.Errorf("refresher calls = %d, want 1", refresher.calls)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestInvalidIDMapsTo400(t *testing.T) {
	h, _, _ := newTestHandler(t, Snapshot{})
	c, _ := handlerContext(http.MethodPost, "/queue/entries/nope/prioritize", "")
	c.SetParamNames("id")
	c.SetParamValues("nope")

	err := h.Prioritize(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &ValidationError{Op: "skip queue", Reason: "only waiting patients can be skipped"}, http.StatusBadRequest},
		{"not found", &NotFoundError{What: "queue entry"}, http.StatusNotFound},
		{"stale", &StaleDataError{SnapshotBasis: 1, StoreVersion: 2}, http.StatusConflict},
		{"service", &ServiceError{Message: "queue already started"}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var he *echo.HTTPError
			if !errors.As(httpError(tc.err), &he) || he.Code != tc.code {
				t.Fatalf("httpError(%v) = %v, want code %d", tc.err, httpError(tc.err), tc.code)
			}
		})
	}
}
