package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogging_PreservesStatusAndBody(t *testing.T) {
	t.Parallel()

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), testLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status: got=%d want=%d", rec.Code, http.StatusTeapot)
	}
	if got := rec.Body.String(); got != "short and stout" {
		t.Fatalf("body: %q", got)
	}
}

func TestLoggingResponseWriter_DefaultsTo200(t *testing.T) {
	t.Parallel()

	// Handlers that never call WriteHeader must still be recorded as 200.
	var captured int
	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		lrw, ok := w.(*loggingResponseWriter)
		if !ok {
			t.Fatalf("expected *loggingResponseWriter, got %T", w)
		}
		_, _ = w.Write([]byte("ok"))
		captured = lrw.status
	}), testLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured != http.StatusOK {
		t.Fatalf("recorded status: got=%d want=%d", captured, http.StatusOK)
	}
}

func TestLoggingResponseWriter_Unwrap(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	lrw := &loggingResponseWriter{ResponseWriter: rec, status: http.StatusOK}

	if lrw.Unwrap() != rec {
		t.Fatalf("Unwrap must expose the underlying writer")
	}
}
