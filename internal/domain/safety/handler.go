package safety

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/instantmed/triage/internal/platform/auth"
)

type Handler struct {
	registry  *Registry
	evaluator *Evaluator
	rulesFile string
}

// NewHandler serves evaluation and rule inspection from reg. rulesFile is
// the path reloaded by the reload endpoint; empty means the built-in rules.
func NewHandler(reg *Registry, rulesFile string) *Handler {
	return &Handler{registry: reg, evaluator: NewEvaluator(reg), rulesFile: rulesFile}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("/safety", auth.RequireRole(auth.RoleClinician))
	readGroup.POST("/evaluate", h.Evaluate)
	readGroup.GET("/rules", h.ListRuleSets)
	readGroup.GET("/rules/:service_type", h.GetRules)

	adminGroup := api.Group("/safety", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/rules/reload", h.Reload)
}

type evaluateRequest struct {
	ServiceType     ServiceType `json:"service_type"`
	Answers         Answers     `json:"answers"`
	FollowUpAnswers Answers     `json:"follow_up_answers,omitempty"`
}

func (h *Handler) Evaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ServiceType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "service_type is required")
	}

	var (
		result EvaluationResult
		err    error
	)
	if req.FollowUpAnswers != nil {
		result, err = h.evaluator.Reevaluate(req.ServiceType, req.Answers, req.FollowUpAnswers)
	} else {
		result, err = h.evaluator.Evaluate(req.ServiceType, req.Answers)
	}
	if err != nil {
		return configHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type ruleSetResponse struct {
	Version  string           `json:"version"`
	Services []ServiceSummary `json:"services"`
	Inert    []InertRule      `json:"inert_rules"`
}

func (h *Handler) ListRuleSets(c echo.Context) error {
	rs, err := h.registry.Snapshot()
	if err != nil {
		return configHTTPError(err)
	}
	return c.JSON(http.StatusOK, newRuleSetResponse(rs))
}

func (h *Handler) GetRules(c echo.Context) error {
	st := ServiceType(c.Param("service_type"))
	rules, version, err := h.evaluator.Rules(st)
	if err != nil {
		return configHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"version":      version,
		"service_type": st,
		"rules":        rules,
	})
}

func (h *Handler) Reload(c echo.Context) error {
	rs, err := h.registry.Reload(h.rulesFile)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, newRuleSetResponse(rs))
}

func newRuleSetResponse(rs *RuleSet) ruleSetResponse {
	inert := rs.InertRules()
	if inert == nil {
		inert = []InertRule{}
	}
	return ruleSetResponse{Version: rs.Version(), Services: rs.Summary(), Inert: inert}
}

func configHTTPError(err error) error {
	if errors.Is(err, ErrRuleSetNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no rules configured for service type")
	}
	return echo.NewHTTPError(http.StatusServiceUnavailable, "unable to process automatically")
}
