package callapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/capiswitch/gateway/internal/pipeline"
)

func TestRespondCallErrorMapsKindToStatus(t *testing.T) {
	h := &Handler{}
	rec := httptest.NewRecorder()

	h.respondCallError(rec, &pipeline.CallError{Kind: pipeline.KindPolicyDenied, Message: "kill_switch_active", AuditID: "aud_1"})

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRespondCallErrorUnknownErrorIsInternal(t *testing.T) {
	h := &Handler{}
	rec := httptest.NewRecorder()

	h.respondCallError(rec, genericError{})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

type genericError struct{}

func (genericError) Error() string { return "boom" }

func TestNewHandlerDefaultsTimeout(t *testing.T) {
	h := NewHandler(nil, nil, 0)
	if h.timeout != defaultTimeout {
		t.Fatalf("timeout = %v, want %v", h.timeout, defaultTimeout)
	}
}
