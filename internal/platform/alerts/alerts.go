// Package alerts turns queue events into staff-facing alerts with
// template rendering, in-memory storage, and Echo HTTP handlers. The
// clinic dashboard polls the feed to drive its notification sound and
// toast messages.
package alerts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/capd/queue/internal/platform/events"
)

// Severity orders alerts on the dashboard.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityNotice Severity = "notice"
)

// Alert is a single staff-facing message derived from a queue event.
type Alert struct {
	ID             string     `json:"id"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	Severity       Severity   `json:"severity"`
	Sound          bool       `json:"sound"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// Template defines a reusable alert template.
type Template struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Severity Severity `json:"severity"`
	Sound    bool     `json:"sound"`
}

// TemplateEngine manages alert templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered, keyed by event type.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:       events.TypeTreatmentCompleted,
			Title:    "Treatment completed",
			Body:     "A patient has finished treatment and is awaiting checkup ({{completed_pending}} pending).",
			Severity: SeverityNotice,
			Sound:    true,
		},
		{
			ID:       events.TypeConsultationStarted,
			Title:    "Consultations under way",
			Body:     "The first consultation of the session has started ({{in_progress}} in progress).",
			Severity: SeverityInfo,
			Sound:    true,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement
// using the supplied data map. Keys present in the template but absent
// from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (*Template, string, string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return nil, "", "", fmt.Errorf("template %q not found", templateID)
	}

	title := t.Title
	body := t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return t, title, body, nil
}

// Center stores alerts in memory and feeds the dashboard. It caps
// retention so an unattended dashboard does not grow the feed without
// bound.
type Center struct {
	templates *TemplateEngine
	log       zerolog.Logger
	maxStored int

	mu     sync.RWMutex
	alerts map[string]*Alert
	order  []string
}

const defaultMaxStored = 200

// NewCenter constructs an alert center with the built-in templates.
func NewCenter(log zerolog.Logger) *Center {
	return &Center{
		templates: NewTemplateEngine(),
		log:       log,
		maxStored: defaultMaxStored,
		alerts:    make(map[string]*Alert),
	}
}

// Templates exposes the template engine for customization.
func (c *Center) Templates() *TemplateEngine {
	return c.templates
}

// HandleEvent is an events.Subscriber: each recognized event becomes
// one alert. Events with no matching template are ignored.
func (c *Center) HandleEvent(evt events.Event) {
	data := payloadData(evt.Payload)
	t, title, body, err := c.templates.Render(evt.Type, data)
	if err != nil {
		return
	}

	a := &Alert{
		ID:        uuid.New().String(),
		EventID:   evt.ID.String(),
		EventType: evt.Type,
		Title:     title,
		Body:      body,
		Severity:  t.Severity,
		Sound:     t.Sound,
		CreatedAt: time.Now().UTC(),
	}
	c.store(a)
	c.log.Info().Str("alert_id", a.ID).Str("event", evt.Type).Msg("alert raised")
}

func (c *Center) store(a *Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts[a.ID] = a
	c.order = append(c.order, a.ID)
	for len(c.order) > c.maxStored {
		delete(c.alerts, c.order[0])
		c.order = c.order[1:]
	}
}

// List returns alerts newest first. With unackedOnly set, acknowledged
// alerts are filtered out.
func (c *Center) List(unackedOnly bool) []*Alert {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Alert, 0, len(c.order))
	for _, id := range c.order {
		a := c.alerts[id]
		if unackedOnly && a.AcknowledgedAt != nil {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Acknowledge marks one alert as seen.
func (c *Center) Acknowledge(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.alerts[id]
	if !ok {
		return fmt.Errorf("alert %q not found", id)
	}
	if a.AcknowledgedAt == nil {
		now := time.Now().UTC()
		a.AcknowledgedAt = &now
	}
	return nil
}

// AcknowledgeAll marks every stored alert as seen and returns how many
// were newly acknowledged.
func (c *Center) AcknowledgeAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, a := range c.alerts {
		if a.AcknowledgedAt == nil {
			t := now
			a.AcknowledgedAt = &t
			n++
		}
	}
	return n
}

// payloadData flattens an event payload into template data. Numeric
// values render without a decimal point when whole.
func payloadData(raw json.RawMessage) map[string]string {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			if val == float64(int64(val)) {
				out[k] = strconv.FormatInt(int64(val), 10)
			} else {
				out[k] = strconv.FormatFloat(val, 'f', -1, 64)
			}
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}
