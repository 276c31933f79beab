package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Endpoint is a registered webhook destination for queue events.
type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery records one attempt to push an event to an endpoint.
type Delivery struct {
	ID         string        `json:"id"`
	EndpointID string        `json:"endpoint_id"`
	EventID    string        `json:"event_id"`
	EventType  string        `json:"event_type"`
	Payload    []byte        `json:"payload"`
	Signature  string        `json:"signature"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration_ns"`
	Attempt    int           `json:"attempt"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SignPayload computes the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the payload HMAC.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithHTTPClient overrides the delivery HTTP client.
func WithHTTPClient(c *http.Client) NotifierOption {
	return func(n *Notifier) { n.http = c }
}

// Notifier pushes queue events to registered webhook endpoints with
// signed payloads, keeping an in-memory delivery log. State is
// deliberately not persisted: endpoints are session-scoped companions
// to the in-memory queue snapshot.
type Notifier struct {
	mu         sync.RWMutex
	endpoints  map[string]*Endpoint
	order      []string
	deliveries map[string]*Delivery
	logOrder   []string

	http *http.Client
	log  zerolog.Logger
}

func NewNotifier(log zerolog.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		endpoints:  make(map[string]*Endpoint),
		deliveries: make(map[string]*Delivery),
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateEndpointURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Register adds a webhook destination. An empty secret is replaced with
// a cryptographically random one. An empty event list subscribes to
// everything.
func (n *Notifier) Register(rawURL, secret string, eventTypes []string) (*Endpoint, error) {
	if err := validateEndpointURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generating secret: %w", err)
		}
		secret = s
	}

	ep := &Endpoint{
		ID:        uuid.New().String(),
		URL:       rawURL,
		Secret:    secret,
		Events:    eventTypes,
		Active:    true,
		CreatedAt: time.Now(),
	}

	n.mu.Lock()
	n.endpoints[ep.ID] = ep
	n.order = append(n.order, ep.ID)
	n.mu.Unlock()
	return ep, nil
}

// Remove deletes a webhook destination.
func (n *Notifier) Remove(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[id]; !ok {
		return fmt.Errorf("endpoint %s not found", id)
	}
	delete(n.endpoints, id)
	for i, eid := range n.order {
		if eid == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	return nil
}

// Endpoints lists registered destinations in registration order.
func (n *Notifier) Endpoints() []*Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Endpoint, 0, len(n.order))
	for _, id := range n.order {
		if ep := n.endpoints[id]; ep != nil {
			cp := *ep
			out = append(out, &cp)
		}
	}
	return out
}

func endpointWants(ep *Endpoint, eventType string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, t := range ep.Events {
		if t == eventType {
			return true
		}
	}
	return false
}

// HandleEvent is the Bus subscriber: it fans the event out to matching
// endpoints in the background so event publication never blocks on
// webhook latency.
func (n *Notifier) HandleEvent(evt Event) {
	go n.Deliver(context.Background(), evt)
}

// Deliver pushes the event to every active, matching endpoint.
func (n *Notifier) Deliver(ctx context.Context, evt Event) {
	for _, ep := range n.Endpoints() {
		if !ep.Active || !endpointWants(ep, evt.Type) {
			continue
		}
		d := n.deliverTo(ctx, ep, evt, 1)
		if !d.Success {
			n.log.Warn().Str("endpoint", ep.ID).Str("event", evt.Type).
				Str("error", d.Error).Msg("webhook delivery failed")
		}
	}
}

func (n *Notifier) deliverTo(ctx context.Context, ep *Endpoint, evt Event, attempt int) *Delivery {
	payload, _ := json.Marshal(evt)
	now := time.Now()

	d := &Delivery{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		EventID:    evt.ID.String(),
		EventType:  evt.Type,
		Payload:    payload,
		Signature:  SignPayload(payload, ep.Secret),
		Attempt:    attempt,
		CreatedAt:  now,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		d.Error = err.Error()
		n.record(d)
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Queue-Signature", "sha256="+d.Signature)
	req.Header.Set("X-Queue-Event", evt.Type)
	req.Header.Set("X-Queue-Timestamp", now.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := n.http.Do(req)
	d.Duration = time.Since(start)
	if err != nil {
		d.Error = err.Error()
		n.record(d)
		return d
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	d.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Success = true
	} else {
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	n.record(d)
	return d
}

// Retry re-delivers a previously failed delivery.
func (n *Notifier) Retry(ctx context.Context, deliveryID string) (*Delivery, error) {
	n.mu.RLock()
	original, ok := n.deliveries[deliveryID]
	var ep *Endpoint
	if ok {
		ep = n.endpoints[original.EndpointID]
	}
	n.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("delivery %s not found", deliveryID)
	}
	if ep == nil {
		return nil, fmt.Errorf("endpoint %s not found", original.EndpointID)
	}

	var evt Event
	if err := json.Unmarshal(original.Payload, &evt); err != nil {
		return nil, fmt.Errorf("unmarshal original payload: %w", err)
	}
	return n.deliverTo(ctx, ep, evt, original.Attempt+1), nil
}

// Deliveries returns the delivery log for an endpoint, newest last.
func (n *Notifier) Deliveries(endpointID string) []*Delivery {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []*Delivery
	for _, id := range n.logOrder {
		d := n.deliveries[id]
		if d != nil && d.EndpointID == endpointID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

func (n *Notifier) record(d *Delivery) {
	n.mu.Lock()
	n.deliveries[d.ID] = d
	n.logOrder = append(n.logOrder, d.ID)
	n.mu.Unlock()
}
