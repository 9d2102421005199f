package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/avelar/image-studio/internal/glm"
	"github.com/avelar/image-studio/internal/service"
)

func writeErrorFor(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	h := &StudioHandler{Logger: zap.NewNop()}
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	if werr := h.writeError(c, err); werr != nil {
		t.Fatalf("writeError: %v", werr)
	}
	return rec
}

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid prompt", service.ErrInvalidPrompt, http.StatusBadRequest},
		{"in flight", service.ErrInFlight, http.StatusConflict},
		{"quota exceeded", service.ErrQuotaExceeded, http.StatusTooManyRequests},
		{"policy violation", fmt.Errorf("%w: nope", glm.ErrPolicyViolation), http.StatusUnprocessableEntity},
		{"upstream failure", fmt.Errorf("%w: 502", glm.ErrUpstream), http.StatusBadGateway},
		{"empty response", fmt.Errorf("%w: no choices", glm.ErrEmptyResponse), http.StatusBadGateway},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := writeErrorFor(t, tt.err); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestQuotaExceededCarriesRetryAfter(t *testing.T) {
	rec := writeErrorFor(t, service.ErrQuotaExceeded)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	secs, err := strconv.ParseInt(rec.Header().Get("Retry-After"), 10, 64)
	if err != nil {
		t.Fatalf("Retry-After %q is not numeric: %v", rec.Header().Get("Retry-After"), err)
	}
	// The daily counter resets at the next UTC midnight.
	if secs < 1 || secs > 86400 {
		t.Errorf("Retry-After = %d, want within (0, 86400]", secs)
	}
}
