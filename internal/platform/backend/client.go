// Package backend is the REST client for the external queue/roster
// service, the sole source of truth for queue state. Every call carries
// a bearer token: the staff session token when one is in the request
// context, the configured service token otherwise.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/capd/queue/internal/domain/queue"
	"github.com/capd/queue/internal/platform/auth"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// Client implements queue.Backend against the external REST service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL, serviceToken string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   serviceToken,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// -- wire types --

type queueRecord struct {
	QueueID       uuid.UUID  `json:"queue_id"`
	QueueNumber   int        `json:"queue_number"`
	PatientID     uuid.UUID  `json:"patient_id"`
	PatientName   string     `json:"patient_name"`
	Status        string     `json:"status"`
	CheckupStatus string     `json:"checkup_status"`
	DoctorID      *uuid.UUID `json:"doctor_id"`
	StartTime     *time.Time `json:"start_time"`
}

type todayQueuesResponse struct {
	Queues []queueRecord `json:"queues"`
}

type doctorRecord struct {
	DoctorID       uuid.UUID `json:"doctor_id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
}

type doctorsResponse struct {
	Doctors []doctorRecord `json:"doctors"`
}

type patientDataResponse struct {
	PatientID  uuid.UUID `json:"patient_id"`
	Percentage float64   `json:"percentage"`
}

type bulkPatientDataRequest struct {
	PatientIDs []uuid.UUID `json:"patient_ids"`
}

type bulkPatientDataResponse struct {
	Patients []patientDataResponse `json:"patients"`
}

type statusUpdateRequest struct {
	QueueID  uuid.UUID  `json:"queue_id"`
	Status   string     `json:"status"`
	DoctorID *uuid.UUID `json:"doctor_id,omitempty"`
}

type skipRequest struct {
	QueueID   uuid.UUID `json:"queue_id"`
	Positions int       `json:"positions"`
}

type queueIDRequest struct {
	QueueID uuid.UUID `json:"queue_id"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// -- queue.Backend --

func (c *Client) TodayQueues(ctx context.Context, date string) ([]*queue.Entry, error) {
	var resp todayQueuesResponse
	if err := c.get(ctx, "/today-queues?date="+date, &resp); err != nil {
		return nil, err
	}
	entries := make([]*queue.Entry, 0, len(resp.Queues))
	for _, q := range resp.Queues {
		entries = append(entries, &queue.Entry{
			QueueID:       q.QueueID,
			QueueNumber:   q.QueueNumber,
			PatientID:     q.PatientID,
			PatientName:   q.PatientName,
			Status:        parseStatus(q.Status),
			CheckupStatus: parseCheckupStatus(q.CheckupStatus),
			DoctorID:      q.DoctorID,
			StartTime:     q.StartTime,
		})
	}
	return entries, nil
}

func (c *Client) DoctorsOnDuty(ctx context.Context) ([]*queue.Doctor, error) {
	var resp doctorsResponse
	if err := c.get(ctx, "/doctors-on-duty", &resp); err != nil {
		return nil, err
	}
	doctors := make([]*queue.Doctor, 0, len(resp.Doctors))
	for _, d := range resp.Doctors {
		doctors = append(doctors, &queue.Doctor{
			DoctorID:       d.DoctorID,
			Name:           d.Name,
			Specialization: d.Specialization,
		})
	}
	return doctors, nil
}

func (c *Client) PatientMetric(ctx context.Context, patientID uuid.UUID) (float64, error) {
	var resp patientDataResponse
	if err := c.get(ctx, "/enhanced-patient-data/"+patientID.String(), &resp); err != nil {
		return 0, err
	}
	return resp.Percentage, nil
}

func (c *Client) BulkPatientMetrics(ctx context.Context, patientIDs []uuid.UUID) (map[uuid.UUID]float64, error) {
	var resp bulkPatientDataResponse
	if err := c.post(ctx, "/bulk-patient-data", bulkPatientDataRequest{PatientIDs: patientIDs}, &resp); err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]float64, len(resp.Patients))
	for _, p := range resp.Patients {
		out[p.PatientID] = p.Percentage
	}
	return out, nil
}

func (c *Client) UpdateQueueStatus(ctx context.Context, queueID uuid.UUID, status queue.Status, doctorID *uuid.UUID) error {
	return c.post(ctx, "/update-queue-status", statusUpdateRequest{
		QueueID:  queueID,
		Status:   string(status),
		DoctorID: doctorID,
	}, nil)
}

func (c *Client) SkipQueue(ctx context.Context, queueID uuid.UUID, positions int) error {
	return c.post(ctx, "/skip-queue", skipRequest{QueueID: queueID, Positions: positions}, nil)
}

func (c *Client) PrioritizeEmergencyPatient(ctx context.Context, queueID uuid.UUID) error {
	return c.post(ctx, "/prioritize-emergency-patient", queueIDRequest{QueueID: queueID}, nil)
}

func (c *Client) SendToEmergency(ctx context.Context, queueID uuid.UUID) error {
	return c.post(ctx, "/send-to-emergency", queueIDRequest{QueueID: queueID}, nil)
}

func (c *Client) StartQueue(ctx context.Context) error {
	return c.post(ctx, "/start-queue", nil, nil)
}

func (c *Client) UpdateEmergencyStatuses(ctx context.Context) error {
	return c.post(ctx, "/update-emergency-statuses", nil, nil)
}

// -- plumbing --

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &queue.ServiceError{Message: queue.GenericServiceMessage, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &queue.ServiceError{Message: queue.GenericServiceMessage, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.requestToken(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		return &queue.ServiceError{Message: queue.GenericServiceMessage, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &queue.ServiceError{Message: queue.GenericServiceMessage, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// requestToken prefers the staff session token stashed in the request
// context over the configured service token.
func (c *Client) requestToken(ctx context.Context) string {
	if token := auth.TokenFromContext(ctx); token != "" {
		return token
	}
	return c.token
}

// errorFrom preserves the service-provided message when the body
// carries one; staff should see the backend's own wording.
func (c *Client) errorFrom(resp *http.Response) error {
	// Read at most 4KB of the error body.
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var er errorResponse
	message := ""
	if err := json.Unmarshal(raw, &er); err == nil {
		if er.Message != "" {
			message = er.Message
		} else if er.Error != "" {
			message = er.Error
		}
	}

	c.log.Debug().Int("status", resp.StatusCode).Str("message", message).Msg("backend error")
	return &queue.ServiceError{
		Message: message,
		Err:     fmt.Errorf("backend returned status %d", resp.StatusCode),
	}
}

func parseStatus(s string) queue.Status {
	switch strings.ToLower(s) {
	case "in-progress", "in_progress", "inprogress":
		return queue.StatusInProgress
	case "completed":
		return queue.StatusCompleted
	case "cancelled", "canceled":
		return queue.StatusCancelled
	default:
		return queue.StatusWaiting
	}
}

func parseCheckupStatus(s string) queue.CheckupStatus {
	if strings.ToLower(s) == "completed" {
		return queue.CheckupCompleted
	}
	return queue.CheckupNotCompleted
}
