package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeAuthenticator struct {
	identity *Identity
	err      error
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, _ string) (*Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMiddlewareMissingHeader(t *testing.T) {
	mw := Middleware(&fakeAuthenticator{}, testLogger())
	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/v1/wallet", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Errorf("next handler was called without a bearer token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareInvalidKey(t *testing.T) {
	mw := Middleware(&fakeAuthenticator{err: ErrUnauthorized}, testLogger())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("next handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/wallet", nil)
	req.Header.Set("Authorization", "Bearer sk_agt_bogus")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareSuccess(t *testing.T) {
	want := &Identity{AgentID: "agt_1", AccountID: "acc_1", WalletID: "wal_1", Status: StatusActive}
	mw := Middleware(&fakeAuthenticator{identity: want}, testLogger())

	var got *Identity
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/wallet", nil)
	req.Header.Set("Authorization", "Bearer sk_agt_validkey")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got == nil || got.AgentID != want.AgentID {
		t.Errorf("context identity = %+v, want %+v", got, want)
	}
}
