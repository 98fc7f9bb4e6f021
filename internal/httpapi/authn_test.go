package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"certledger.org/internal/auth"
)

func authAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("CERTLEDGER_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	return &API{cfg: Config{APIKey: testAPIKey, SignerAccount: testOwner}.withDefaults()}
}

func captureCaller(got *auth.Caller, seen *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = true
		if c, ok := auth.CallerFromContext(r.Context()); ok {
			*got = c
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestWithAuthAPIKeyMapsToSigner(t *testing.T) {
	a := authAPI(t)
	var (
		got  auth.Caller
		seen bool
	)
	handler := a.withAuth(captureCaller(&got, &seen))

	req := httptest.NewRequest(http.MethodPost, "/v1/certs", nil)
	req.Header.Set(apiKeyHeader, testAPIKey)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || !seen {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.Account != testOwner || got.Method != auth.MethodAPIKey {
		t.Fatalf("unexpected caller: %+v", got)
	}
}

func TestWithAuthBearerMapsToSubject(t *testing.T) {
	a := authAPI(t)
	token, _, err := auth.GenerateToken(testAlice, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	var (
		got  auth.Caller
		seen bool
	)
	handler := a.withAuth(captureCaller(&got, &seen))

	req := httptest.NewRequest(http.MethodPost, "/v1/certs/x/invalidate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.Account != testAlice || got.Method != auth.MethodBearer {
		t.Fatalf("unexpected caller: %+v", got)
	}
}

func TestWithAuthRejectsMissingCredentialsOnMutation(t *testing.T) {
	a := authAPI(t)
	var (
		got  auth.Caller
		seen bool
	)
	handler := a.withAuth(captureCaller(&got, &seen))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/certs", nil))
	if rr.Code != http.StatusUnauthorized || seen {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}

	// Reads stay anonymous.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/certs/x/valid", nil))
	if rr.Code != http.StatusOK || !seen {
		t.Fatalf("expected anonymous read to pass, got %d", rr.Code)
	}
}

func TestCallParsesDeposit(t *testing.T) {
	a := authAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/certs", nil)
	req = req.WithContext(auth.ContextWithCaller(req.Context(), auth.Caller{Account: testOwner}))

	call, err := a.call(req, 7)
	if err != nil || call.Deposit != 7 || call.Caller != testOwner {
		t.Fatalf("unexpected call %+v, err %v", call, err)
	}

	req.Header.Set(depositHeader, "42")
	if call, err = a.call(req, 7); err != nil || call.Deposit != 42 {
		t.Fatalf("unexpected call %+v, err %v", call, err)
	}

	req.Header.Set(depositHeader, "lots")
	if _, err = a.call(req, 7); err == nil {
		t.Fatal("expected malformed deposit to fail")
	}
}
