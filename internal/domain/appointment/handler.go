package appointment

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/appointments", h.Book)
	api.GET("/appointments", h.List)
	api.GET("/appointments/:id", h.Get)
	api.POST("/appointments/:id/cancel", h.Cancel)
}

type bookRequest struct {
	DoctorID         uuid.UUID `json:"doctor_id"`
	HospitalID       uuid.UUID `json:"hospital_id"`
	DoctorName       string    `json:"doctor_name"`
	PatientName      string    `json:"patient_name"`
	PatientPhone     string    `json:"patient_phone"`
	PatientEmail     string    `json:"patient_email"`
	ConsultationType string    `json:"consultation_type"`
	ScheduledStart   time.Time `json:"scheduled_start"`
	ConsultationFee  int64     `json:"consultation_fee"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	appt := &Appointment{
		PatientID:        auth.UserID(c),
		DoctorID:         req.DoctorID,
		HospitalID:       req.HospitalID,
		DoctorName:       req.DoctorName,
		PatientName:      req.PatientName,
		PatientPhone:     req.PatientPhone,
		PatientEmail:     req.PatientEmail,
		ConsultationType: req.ConsultationType,
		ScheduledStart:   req.ScheduledStart,
		ConsultationFee:  req.ConsultationFee,
	}
	if err := h.svc.Book(c.Request().Context(), appt); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	role, _ := c.Get("user_role").(string)
	appt, err := h.svc.Get(c.Request().Context(), id, auth.UserID(c), role)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	role, _ := c.Get("user_role").(string)
	callerID := auth.UserID(c)

	var (
		appts []*Appointment
		total int
		err   error
	)
	if role == "doctor" {
		appts, total, err = h.svc.ListByDoctor(c.Request().Context(), callerID, pg.Limit, pg.Offset)
	} else {
		appts, total, err = h.svc.ListByPatient(c.Request().Context(), callerID, pg.Limit, pg.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	role, _ := c.Get("user_role").(string)
	appt, err := h.svc.Get(c.Request().Context(), id, auth.UserID(c), role)
	if err != nil {
		return mapError(err)
	}

	by := "patient"
	if role == "doctor" || role == "admin" {
		by = "doctor"
	}
	cancelled, err := h.svc.Cancel(c.Request().Context(), appt.ID, by, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, cancelled)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "not your appointment")
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
