package alerts

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/capd/queue/internal/platform/events"
)

func TestHandleEventRendersTemplate(t *testing.T) {
	c := NewCenter(zerolog.Nop())

	c.HandleEvent(events.New(events.TypeTreatmentCompleted, map[string]int{
		"completed_pending": 3,
	}))

	got := c.List(false)
	if len(got) != 1 {
		t.Fatalf("alerts = %d, want 1", len(got))
	}
	a := got[0]
	if a.Title != "Treatment completed" {
		t.Errorf("title = %q", a.Title)
	}
	if a.Body != "A patient has finished treatment and is awaiting checkup (3 pending)." {
		t.Errorf("body = %q", a.Body)
	}
	if !a.Sound {
		t.Error("treatment-completed alert must request the dashboard sound")
	}
}

func TestHandleEventIgnoresUnknownType(t *testing.T) {
	c := NewCenter(zerolog.Nop())
	c.HandleEvent(events.New("queue.something.else", nil))
	if got := c.List(false); len(got) != 0 {
		t.Fatalf("alerts = %d, want 0 for unknown event type", len(got))
	}
}

func TestListNewestFirstAndUnackedFilter(t *testing.T) {
	c := NewCenter(zerolog.Nop())
	c.HandleEvent(events.New(events.TypeConsultationStarted, map[string]int{"in_progress": 1}))
	time.Sleep(2 * time.Millisecond)
	c.HandleEvent(events.New(events.TypeTreatmentCompleted, map[string]int{"completed_pending": 1}))

	all := c.List(false)
	if len(all) != 2 {
		t.Fatalf("alerts = %d, want 2", len(all))
	}
	if all[0].EventType != events.TypeTreatmentCompleted {
		t.Errorf("newest first: got %s", all[0].EventType)
	}

	if err := c.Acknowledge(all[0].ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	unacked := c.List(true)
	if len(unacked) != 1 || unacked[0].EventType != events.TypeConsultationStarted {
		t.Errorf("unacked = %+v", unacked)
	}
}

func TestAcknowledgeUnknown(t *testing.T) {
	c := NewCenter(zerolog.Nop())
	if err := c.Acknowledge("nope"); err == nil {
		t.Fatal("expected error for unknown alert")
	}
}

func TestAcknowledgeAll(t *testing.T) {
	c := NewCenter(zerolog.Nop())
	c.HandleEvent(events.New(events.TypeTreatmentCompleted, map[string]int{"completed_pending": 1}))
	c.HandleEvent(events.New(events.TypeTreatmentCompleted, map[string]int{"completed_pending": 2}))

	if n := c.AcknowledgeAll(); n != 2 {
		t.Fatalf("acknowledged = %d, want 2", n)
	}
	if n := c.AcknowledgeAll(); n != 0 {
		t.Fatalf("second pass acknowledged = %d, want 0", n)
	}
}

func TestRetentionCap(t *testing.T) {
	c := NewCenter(zerolog.Nop())
	c.maxStored = 3
	for i := 0; i < 5; i++ {
		c.HandleEvent(events.New(events.TypeTreatmentCompleted, map[string]int{"completed_pending": i}))
	}
	if got := len(c.List(false)); got != 3 {
		t.Fatalf("retained = %d, want 3", got)
	}
}

func TestCustomTemplate(t *testing.T) {
	c := NewCenter(zerolog.Nop())
	c.Templates().RegisterTemplate(Template{
		ID:       "queue.custom",
		Title:    "Hello {{name}}",
		Body:     "{{name}} says hi",
		Severity: SeverityInfo,
	})

	c.HandleEvent(events.New("queue.custom", map[string]string{"name": "Ana"}))
	got := c.List(false)
	if len(got) != 1 || got[0].Title != "Hello Ana" {
		t.Fatalf("alerts = %+v", got)
	}
}

func TestHandlerFeed(t *testing.T) {
	center := NewCenter(zerolog.Nop())
	center.HandleEvent(events.New(events.TypeTreatmentCompleted, map[string]int{"completed_pending": 1}))
	h := NewHandler(center)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/alerts?unacked=true", nil)
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("List: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	id := center.List(false)[0].ID
	req = httptest.NewRequest(http.MethodPost, "/alerts/"+id+"/ack", nil)
	rec = httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues(id)
	if err := h.Acknowledge(ctx); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if len(center.List(true)) != 0 {
		t.Error("alert still unacknowledged after ack")
	}
}
