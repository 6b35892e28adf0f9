package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/instantmed/triage/internal/platform/auth"
)

func runAudit(t *testing.T, method, path string, handler echo.HandlerFunc, recorders ...accessRecorder) (*bytes.Buffer, error) {
	t.Helper()
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(auth.WithUser(req.Context(), "dr-1", []string{auth.RoleClinician}))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set(requestIDKey, "rid-7")
	if handler == nil {
		handler = func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	}
	err := accessAudit(zerolog.New(&buf), recorders...)(handler)(c)
	return &buf, err
}

func TestAudit_LogsAPICalls(t *testing.T) {
	id := uuid.New().String()
	var got accessEntry
	rec := accessRecorderFunc(func(e accessEntry) error {
		got = e
		return nil
	})

	buf, err := runAudit(t, http.MethodPost, "/api/v1/intakes/"+id+"/follow-up", nil, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.UserID != "dr-1" || got.Resource != "intakes" || got.IntakeID != id || got.Action != "create" {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.RequestID != "rid-7" || got.StatusCode != http.StatusOK {
		t.Errorf("unexpected request fields %+v", got)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q", buf.String())
	}
	if line["type"] != "access_audit" || line["intake_id"] != id || line["user_id"] != "dr-1" {
		t.Errorf("unexpected log line %v", line)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	called := false
	rec := accessRecorderFunc(func(accessEntry) error {
		called = true
		return nil
	})
	buf, _ := runAudit(t, http.MethodGet, "/health", nil, rec)
	if called || buf.Len() != 0 {
		t.Error("health checks must not be audited")
	}
}

func TestAudit_RecordsErrorStatus(t *testing.T) {
	var got accessEntry
	rec := accessRecorderFunc(func(e accessEntry) error {
		got = e
		return nil
	})
	_, err := runAudit(t, http.MethodGet, "/api/v1/intakes", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "required role: clinician")
	}, rec)
	if err == nil {
		t.Fatal("handler error must be passed through")
	}
	if got.StatusCode != http.StatusForbidden || got.IntakeID != "" {
		t.Errorf("unexpected entry %+v", got)
	}
}

func TestAudit_RecorderFailureIsLogged(t *testing.T) {
	rec := accessRecorderFunc(func(accessEntry) error { return errors.New("disk full") })
	buf, err := runAudit(t, http.MethodGet, "/api/v1/safety/rules", nil, rec)
	if err != nil {
		t.Fatalf("recorder failure must not fail the request: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("failed to record access entry")) {
		t.Errorf("expected recorder failure in log, got %q", buf.String())
	}
}

func TestExtractResource(t *testing.T) {
	tests := map[string]string{
		"/api/v1/intakes":               "intakes",
		"/api/v1/intakes/abc/follow-up": "intakes",
		"/api/v1/safety/rules/med_cert": "safety",
		"/api/v1/":                      "unknown",
	}
	for path, want := range tests {
		if got := extractResource(path); got != want {
			t.Errorf("extractResource(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestExtractIntakeID(t *testing.T) {
	id := uuid.New().String()
	tests := map[string]string{
		"/api/v1/intakes/" + id:                  id,
		"/api/v1/intakes/" + id + "/evaluations": id,
		"/api/v1/intakes/not-a-uuid":             "",
		"/api/v1/intakes":                        "",
		"/api/v1/me/intakes":                     "",
	}
	for path, want := range tests {
		if got := extractIntakeID(path); got != want {
			t.Errorf("extractIntakeID(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", method, got, want)
		}
	}
}
