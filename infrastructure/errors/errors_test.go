package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNotFound(t *testing.T) {
	err := NotFound("case", "alpha")

	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeNotFound)
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusNotFound)
	}
	if err.Details["id"] != "alpha" {
		t.Errorf("Details[id] = %v, want alpha", err.Details["id"])
	}
}

func TestAlreadyRunning(t *testing.T) {
	err := AlreadyRunning("alpha")

	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want 409", err.HTTPStatus)
	}
	if err.Code != ErrCodeAlreadyRunning {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeAlreadyRunning)
	}
}

func TestQueueFull(t *testing.T) {
	err := QueueFull(32)

	if err.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d, want 503", err.HTTPStatus)
	}
	if err.Details["queue_depth"] != 32 {
		t.Errorf("Details[queue_depth] = %v, want 32", err.Details["queue_depth"])
	}
}

func TestErrorString(t *testing.T) {
	plain := Conflict("illegal transition")
	if got := plain.Error(); got != "[CASE_4002] illegal transition" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := Io("fsync", fmt.Errorf("disk full"))
	want := "[SVC_5002] Filesystem operation failed: disk full"
	if got := wrapped.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrap(t *testing.T) {
	inner := fmt.Errorf("root cause")
	err := WorkerFailed("extractor", inner)

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestGetServiceError(t *testing.T) {
	err := fmt.Errorf("outer: %w", Timeout("render"))

	serviceErr := GetServiceError(err)
	if serviceErr == nil {
		t.Fatal("GetServiceError returned nil for wrapped ServiceError")
	}
	if serviceErr.Code != ErrCodeTimeout {
		t.Errorf("Code = %s, want %s", serviceErr.Code, ErrCodeTimeout)
	}

	if GetServiceError(fmt.Errorf("plain")) != nil {
		t.Error("GetServiceError should return nil for plain errors")
	}
}

func TestGetHTTPStatus(t *testing.T) {
	if got := GetHTTPStatus(SchemaInvalid(fmt.Errorf("bad"))); got != http.StatusBadRequest {
		t.Errorf("GetHTTPStatus = %d, want 400", got)
	}
	if got := GetHTTPStatus(fmt.Errorf("plain")); got != http.StatusInternalServerError {
		t.Errorf("GetHTTPStatus = %d, want 500", got)
	}
}

func TestIsServiceError(t *testing.T) {
	if !IsServiceError(RateLimited()) {
		t.Error("IsServiceError should be true for ServiceError")
	}
	if IsServiceError(errors.New("plain")) {
		t.Error("IsServiceError should be false for plain errors")
	}
}

func TestWithDetailsChaining(t *testing.T) {
	err := Conflict("busy").WithDetails("case_id", "alpha").WithDetails("attempt", 2)

	if err.Details["case_id"] != "alpha" || err.Details["attempt"] != 2 {
		t.Errorf("Details = %v", err.Details)
	}
}
