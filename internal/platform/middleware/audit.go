package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/instantmed/triage/internal/platform/auth"
)

// accessEntry is one API call as seen by the access-audit middleware.
type accessEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	IntakeID   string
	Action     string // read, create, update, delete
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// accessRecorder persists access entries in addition to the log line.
type accessRecorder interface {
	RecordAccess(entry accessEntry) error
}

type accessRecorderFunc func(entry accessEntry) error

func (f accessRecorderFunc) RecordAccess(entry accessEntry) error {
	return f(entry)
}

// Audit logs every /api/v1/ call with the authenticated user, the resource
// touched and the response status.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return accessAudit(logger)
}

func accessAudit(logger zerolog.Logger, recorders ...accessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := responseStatus(c, err)

			// The auth middleware replaces the request, so read the context
			// after the handler ran.
			ctx := c.Request().Context()
			entry := accessEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Resource:   extractResource(path),
				IntakeID:   extractIntakeID(path),
				Action:     httpMethodToAction(req.Method),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Path:       path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				RequestID:  GetRequestID(c),
				StatusCode: status,
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record access entry")
				}
			}

			logger.Info().
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("intake_id", entry.IntakeID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("api_access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the first path segment after /api/v1/:
//
//	/api/v1/intakes/<id>/follow-up -> intakes
//	/api/v1/safety/evaluate        -> safety
func extractResource(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	if seg, _, _ := strings.Cut(rest, "/"); seg != "" {
		return seg
	}
	return "unknown"
}

// extractIntakeID returns the id in /api/v1/intakes/<id>[/...], or "".
func extractIntakeID(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/intakes/")
	if !ok {
		return ""
	}
	seg, _, _ := strings.Cut(rest, "/")
	if _, err := uuid.Parse(seg); err != nil {
		return ""
	}
	return seg
}
