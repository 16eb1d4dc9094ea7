package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/iotbridge/internal/domain"
)

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"validation", domain.Validationf("csr is required"), http.StatusUnprocessableEntity, "csr is required"},
		{"not found", domain.NotFoundf("No JOIN request found for tenant 'x'"), http.StatusNotFound, "No JOIN request found"},
		{"conflict", domain.Conflictf("Already approved."), http.StatusConflict, "Already approved."},
		{"exhausted", fmt.Errorf("%w: no free address", domain.ErrAddressSpaceExhausted), http.StatusInsufficientStorage, "no free address"},
		{"upstream", fmt.Errorf("PKI signing failed: %w", domain.NewUpstreamError("step-ca", "sign", 400, []byte("bad"))), http.StatusBadGateway, "HTTP 400"},
		{"unreachable", &domain.UpstreamError{Service: "hawkbit", Op: "get", Err: errors.New("refused")}, http.StatusServiceUnavailable, "refused"},
		{"corrupt", fmt.Errorf("%w: join_requests.json", domain.ErrStorageCorrupt), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, httptest.NewRequest(http.MethodPost, "/x", nil), tt.err)
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d", rec.Code, tt.code)
			}
			if !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("body = %s, want it to contain %q", rec.Body, tt.body)
			}
		})
	}
}

func TestReadJSONTooLarge(t *testing.T) {
	big := `{"csr":"` + strings.Repeat("A", maxRequestBodySize) + `"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(big))
	if _, ok := readJSON[map[string]string](rec, req); ok {
		t.Fatal("expected failure")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("code = %d, want 413", rec.Code)
	}
}

func TestReadOptionalJSONEmptyBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", http.NoBody)
	v, ok := readOptionalJSON[struct{ Reason string }](rec, req)
	if !ok || v.Reason != "" {
		t.Errorf("ok = %v, v = %+v", ok, v)
	}
}
