package queue

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/capd/queue/internal/platform/auth"
)

// Handler exposes the queue board and operations over HTTP.
type Handler struct {
	svc       *Service
	refresher Refresher
	clinicNow func() time.Time
}

func NewHandler(svc *Service, refresher Refresher, clinicNow func() time.Time) *Handler {
	if clinicNow == nil {
		clinicNow = time.Now
	}
	return &Handler{svc: svc, refresher: refresher, clinicNow: clinicNow}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, staff
	readGroup := api.Group("", auth.RequireRole("admin", "staff"))
	readGroup.GET("/board", h.Board)
	readGroup.GET("/entries", h.Entries)
	readGroup.GET("/emergencies", h.Emergencies)
	readGroup.GET("/next", h.Next)
	readGroup.GET("/doctors", h.Doctors)

	// Write endpoints – admin, staff
	writeGroup := api.Group("", auth.RequireRole("admin", "staff"))
	writeGroup.POST("/start", h.StartQueue)
	writeGroup.POST("/refresh", h.Refresh)
	writeGroup.POST("/emergencies/reassess", h.ReassessEmergencies)
	writeGroup.POST("/entries/:id/status", h.UpdateStatus)
	writeGroup.POST("/entries/:id/skip", h.Skip)
	writeGroup.POST("/entries/:id/prioritize", h.Prioritize)
	writeGroup.POST("/entries/:id/send-to-emergency", h.SendToEmergency)
}

// boardResponse is the whole-day snapshot the clinic dashboard renders.
type boardResponse struct {
	Date             string      `json:"date"`
	ClinicTime       time.Time   `json:"clinic_time"`
	Counts           Counts      `json:"counts"`
	Waiting          []EntryView `json:"waiting"`
	InProgress       []EntryView `json:"in_progress"`
	Completed        []EntryView `json:"completed"`
	Emergencies      []EntryView `json:"emergencies"`
	Next             []EntryView `json:"next_for_consultation"`
	Doctors          []*Doctor   `json:"doctors"`
	AvailableDoctors []*Doctor   `json:"available_doctors"`
}

func (h *Handler) Board(c echo.Context) error {
	store := h.svc.Store()
	return c.JSON(http.StatusOK, boardResponse{
		Date:             store.Date(),
		ClinicTime:       h.clinicNow(),
		Counts:           store.Counts(),
		Waiting:          h.annotate(store.ByStatus(StatusWaiting)),
		InProgress:       h.annotate(store.ByStatus(StatusInProgress)),
		Completed:        h.annotate(store.ByStatus(StatusCompleted)),
		Emergencies:      h.annotate(store.EmergencyWaiting(store.Lookup())),
		Next:             h.annotate(h.svc.NextForConsultation()),
		Doctors:          store.Doctors(),
		AvailableDoctors: store.AvailableDoctors(),
	})
}

func (h *Handler) Entries(c echo.Context) error {
	store := h.svc.Store()
	if status := c.QueryParam("status"); status != "" {
		switch Status(status) {
		case StatusWaiting, StatusInProgress, StatusCompleted, StatusCancelled:
			return c.JSON(http.StatusOK, h.annotate(store.ByStatus(Status(status))))
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}
	return c.JSON(http.StatusOK, h.annotate(store.ActiveEntries()))
}

func (h *Handler) Emergencies(c echo.Context) error {
	store := h.svc.Store()
	return c.JSON(http.StatusOK, h.annotate(store.EmergencyWaiting(store.Lookup())))
}

func (h *Handler) Next(c echo.Context) error {
	return c.JSON(http.StatusOK, h.annotate(h.svc.NextForConsultation()))
}

func (h *Handler) Doctors(c echo.Context) error {
	store := h.svc.Store()
	if c.QueryParam("available") == "true" {
		return c.JSON(http.StatusOK, store.AvailableDoctors())
	}
	return c.JSON(http.StatusOK, store.Doctors())
}

func (h *Handler) StartQueue(c echo.Context) error {
	if err := h.svc.StartQueue(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Refresh forces an immediate re-poll of the external service.
func (h *Handler) Refresh(c echo.Context) error {
	if h.refresher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "refresh not available")
	}
	if err := h.refresher.RefreshNow(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.svc.Store().Counts())
}

func (h *Handler) ReassessEmergencies(c echo.Context) error {
	if err := h.svc.UpdateEmergencyStatuses(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type statusUpdateRequest struct {
	Status   Status     `json:"status"`
	DoctorID *uuid.UUID `json:"doctor_id,omitempty"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status, req.DoctorID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type skipRequest struct {
	Positions int `json:"positions"`
}

func (h *Handler) Skip(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req skipRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Skip(c.Request().Context(), id, req.Positions); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Prioritize(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.PrioritizeEmergency(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SendToEmergency(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.SendToEmergency(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) annotate(entries []*Entry) []EntryView {
	lookup := h.svc.Store().Lookup()
	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryView{Entry: *e, Assessment: lookup(e.PatientID)})
	}
	return out
}

// httpError maps domain errors onto transport status codes. Backend
// failures surface the service-provided message so staff see the same
// text the queue service produced.
func httpError(err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, ve.Reason)
	}
	var nfe *NotFoundError
	if errors.As(err, &nfe) {
		return echo.NewHTTPError(http.StatusNotFound, nfe.Error())
	}
	var sde *StaleDataError
	if errors.As(err, &sde) {
		return echo.NewHTTPError(http.StatusConflict, "queue state changed, please retry")
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return echo.NewHTTPError(http.StatusBadGateway, se.UserMessage())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
