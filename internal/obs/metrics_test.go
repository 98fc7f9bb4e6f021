package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/certs":                     "/v1/certs",
		"/v1/certs?limit=10":            "/v1/certs",
		"/v1/certs/abc":                 "/v1/certs/:id",
		"/v1/certs/abc/valid":           "/v1/certs/:id/valid",
		"/v1/certs/abc/invalidate":      "/v1/certs/:id/invalidate",
		"/v1/certs/abc/extra":           "/v1/certs/abc/extra",
		"/v1/accounts/alice.near/certs": "/v1/accounts/:account/certs",
		"/v1/issuers/bob":               "/v1/issuers/:account",
		"/v1/payouts/01HZ":              "/v1/payouts/:id",
		"/v1/events/stream":             "/v1/events/stream",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentKeepsStatus(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/certs/abc", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := *Logger()
	SetLogger(NewJSONLogger(&buf, "debug"))
	defer SetLogger(prev)

	l := Component("ledger")
	l.Info().Str("op", "mint").Msg("done")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["component"] != "ledger" || entry["op"] != "mint" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
