package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveLogged(t *testing.T, status int) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sites/1/builds", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log output not a JSON line: %v: %s", err, buf.Bytes())
	}
	return line
}

func TestRequestLoggerRecordsRequest(t *testing.T) {
	line := serveLogged(t, http.StatusOK)

	if line["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", line["level"])
	}
	if line["component"] != "http" {
		t.Errorf("component = %v, want http", line["component"])
	}
	if line["path"] != "/v1/sites/1/builds" {
		t.Errorf("path = %v", line["path"])
	}
	if line["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want 200", line["status"])
	}
}

func TestRequestLoggerEscalatesServerErrors(t *testing.T) {
	line := serveLogged(t, http.StatusInternalServerError)

	if line["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", line["level"])
	}
	if line["status"] != float64(http.StatusInternalServerError) {
		t.Errorf("status = %v, want 500", line["status"])
	}
}
