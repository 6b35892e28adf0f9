package intake

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/instantmed/triage/internal/domain/safety"
	"github.com/instantmed/triage/internal/platform/auth"
	"github.com/instantmed/triage/pkg/pagination"
)

type Handler struct {
	svc              *Service
	emergencyContact string
}

// NewHandler serves the intake API. emergencyContact is the number shown to
// patients whose intake is blocked.
func NewHandler(svc *Service, emergencyContact string) *Handler {
	return &Handler{svc: svc, emergencyContact: emergencyContact}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Patient endpoints
	patientGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	patientGroup.POST("/intakes", h.SubmitIntake)
	patientGroup.POST("/intakes/:id/follow-up", h.SubmitFollowUp)
	patientGroup.GET("/me/intakes", h.ListMyIntakes)

	// Read endpoints – owning patient or clinician
	readGroup := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleClinician))
	readGroup.GET("/intakes/:id", h.GetIntake)

	// Review endpoints – clinician
	reviewGroup := api.Group("", auth.RequireRole(auth.RoleClinician))
	reviewGroup.GET("/intakes", h.ListIntakes)
	reviewGroup.GET("/intakes/:id/evaluations", h.ListEvaluations)
}

type submitRequest struct {
	ServiceType safety.ServiceType `json:"service_type"`
	Answers     safety.Answers     `json:"answers"`
}

type followUpRequest struct {
	Answers safety.Answers `json:"answers"`
}

func (h *Handler) SubmitIntake(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	user := auth.UserIDFromContext(ctx)

	in, err := h.svc.Submit(ctx, user, req.ServiceType, req.Answers, user)
	if err != nil {
		if in != nil && safety.IsConfigurationError(err) {
			return c.JSON(http.StatusAccepted, in.View(h.emergencyContact))
		}
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, in.View(h.emergencyContact))
}

func (h *Handler) SubmitFollowUp(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req followUpRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()

	if _, err := h.visible(c, id); err != nil {
		return err
	}
	in, err := h.svc.SubmitFollowUp(ctx, id, req.Answers, auth.UserIDFromContext(ctx))
	if err != nil {
		if in != nil && safety.IsConfigurationError(err) {
			return c.JSON(http.StatusAccepted, in.View(h.emergencyContact))
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, in.View(h.emergencyContact))
}

func (h *Handler) GetIntake(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	in, err := h.visible(c, id)
	if err != nil {
		return err
	}
	if auth.HasRole(c.Request().Context(), auth.RoleClinician) {
		return c.JSON(http.StatusOK, in)
	}
	return c.JSON(http.StatusOK, in.View(h.emergencyContact))
}

func (h *Handler) ListIntakes(c echo.Context) error {
	filter := ListFilter{PatientID: c.QueryParam("patient_id")}
	if s := c.QueryParam("state"); s != "" {
		st, err := ParseState(s)
		if err != nil {
			return httpError(err)
		}
		filter.State = st
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	return c.JSON(http.StatusOK, resp.WithLinks(c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) ListMyIntakes(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := ListFilter{PatientID: auth.UserIDFromContext(c.Request().Context())}
	items, total, err := h.svc.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	views := make([]PatientView, 0, len(items))
	for _, in := range items {
		views = append(views, in.View(h.emergencyContact))
	}
	resp := pagination.NewResponse(views, total, pg.Limit, pg.Offset)
	return c.JSON(http.StatusOK, resp.WithLinks(c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) ListEvaluations(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	records, err := h.svc.ListEvaluations(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, records)
}

// visible loads the intake if the caller may see it. Patients only see
// their own intakes; anything else is reported as not found.
func (h *Handler) visible(c echo.Context, id uuid.UUID) (*Intake, error) {
	ctx := c.Request().Context()
	in, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil, httpError(err)
	}
	if !auth.HasRole(ctx, auth.RoleClinician) && in.PatientID != auth.UserIDFromContext(ctx) {
		return nil, httpError(ErrIntakeNotFound)
	}
	return in, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrIntakeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "intake not found")
	case errors.Is(err, ErrTerminalState),
		errors.Is(err, ErrFollowUpNotExpected),
		errors.Is(err, ErrConcurrentUpdate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidServiceType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
