package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"certledger.org/internal/auth"
	"certledger.org/internal/bank"
	"certledger.org/internal/cert"
	"certledger.org/internal/ledger"
	"certledger.org/internal/storage"
	"certledger.org/internal/stream"
)

const (
	testContract = "certs.near"
	testOwner    = "owner.near"
	testAlice    = "alice.near"
	testAPIKey   = "test-key"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	ledger  *ledger.Ledger
	t       *testing.T
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	ctx := context.Background()
	bk := bank.NewInMemory()
	if _, err := bk.OpenAccount(ctx, testContract, bank.Money{Currency: ledger.DefaultCurrency, Amount: 1_000_000}); err != nil {
		t.Fatalf("open contract account: %v", err)
	}
	for _, acc := range []string{testOwner, testAlice} {
		if _, err := bk.OpenAccount(ctx, acc, bank.Money{Currency: ledger.DefaultCurrency, Amount: 10_000_000}); err != nil {
			t.Fatalf("open account %s: %v", acc, err)
		}
	}
	l, err := ledger.Open(ctx, storage.NewMemory(), bk, ledger.Config{ContractAccount: testContract},
		ledger.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	err = l.Init(ctx, ledger.InitOptions{
		Owner:         testOwner,
		Metadata:      cert.ContractMetadata{Spec: cert.MetadataSpec, Name: "Certifications", Symbol: "CERT"},
		CanInvalidate: true,
		Issuers:       []string{testOwner},
	})
	if err != nil {
		t.Fatalf("init ledger: %v", err)
	}
	return l
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("CERTLEDGER_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	l := newTestLedger(t)
	api := New(ReadyProbe{}, Config{
		Version:       "test",
		APIKey:        testAPIKey,
		SignerAccount: testOwner,
		MintDeposit:   1_000_000,
		RateBurst:     100,
		RatePerSec:    100,
	}, l, nil, stream.New())

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		ledger:  l,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) obtainToken(account string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{"account": account}, keyHeader())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func keyHeader() map[string]string {
	return map[string]string{apiKeyHeader: testAPIKey}
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %v", want, resp.StatusCode, body)
	}
}

func mintBody(id string) map[string]any {
	return map[string]any{
		"token_id":    id,
		"receiver_id": testAlice,
		"metadata":    map[string]any{"title": "Certificate " + id},
		"certification": map[string]any{
			"authority_id":          "authority.near",
			"program":               "PRG101",
			"original_recipient_id": testAlice,
		},
	}
}

func TestAPICertLifecycle(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/certs", mintBody("cert-1"), keyHeader())
	expectStatus(t, resp, http.StatusCreated)
	if loc := resp.Header.Get("Location"); loc != "/v1/certs/cert-1" {
		t.Fatalf("unexpected location: %q", loc)
	}
	tok := decode[map[string]any](t, resp)
	if tok["owner_id"] != testAlice {
		t.Fatalf("unexpected owner: %v", tok["owner_id"])
	}

	resp = api.get("/v1/certs/cert-1/valid", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if v := decode[map[string]any](t, resp); v["valid"] != true {
		t.Fatalf("expected valid certificate, got %v", v)
	}

	resp = api.get("/v1/certs/cert-1", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	view := decode[map[string]any](t, resp)
	certification, ok := view["certification"].(map[string]any)
	if !ok || certification["program"] != "PRG101" {
		t.Fatalf("unexpected certificate view: %v", view)
	}
	if _, ok := view["expires_on"]; ok {
		t.Fatalf("expiration present without an expiry service")
	}

	resp = api.post("/v1/certs/cert-1/invalidate", map[string]any{"memo": "revoked"}, keyHeader())
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/v1/certs/cert-1/valid", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if v := decode[map[string]any](t, resp); v["valid"] != false {
		t.Fatalf("expected invalid certificate, got %v", v)
	}

	resp = api.do(http.MethodDelete, "/v1/certs/cert-1", nil, keyHeader())
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.get("/v1/certs/cert-1", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	body := decode[map[string]any](t, resp)
	if body["kind"] != string(ledger.KindNotFound) {
		t.Fatalf("unexpected error kind: %v", body["kind"])
	}
}

func TestAPIMintGeneratesTokenID(t *testing.T) {
	api := newTestAPI(t)

	body := mintBody("")
	resp := api.post("/v1/certs", body, keyHeader())
	expectStatus(t, resp, http.StatusCreated)
	tok := decode[map[string]any](t, resp)
	id, _ := tok["token_id"].(string)
	if len(id) != 32 {
		t.Fatalf("expected generated 32 char token id, got %q", id)
	}

	resp = api.get("/v1/certs", url.Values{"limit": []string{"10"}}, nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[map[string]any](t, resp)
	if list["total"] != float64(1) {
		t.Fatalf("unexpected total: %v", list["total"])
	}
}

func TestAPIMintErrors(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/certs", mintBody("dup"), keyHeader())
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.post("/v1/certs", mintBody("dup"), keyHeader())
	expectStatus(t, resp, http.StatusConflict)
	if body := decode[map[string]any](t, resp); body["kind"] != string(ledger.KindPrecondition) {
		t.Fatalf("unexpected kind: %v", body["kind"])
	}

	// Alice holds a valid bearer token but no issuer role.
	token := api.obtainToken(testAlice)
	resp = api.post("/v1/certs", mintBody("nope"), bearerHeader(token))
	expectStatus(t, resp, http.StatusForbidden)
	if body := decode[map[string]any](t, resp); body["kind"] != string(ledger.KindAuthorization) {
		t.Fatalf("unexpected kind: %v", body["kind"])
	}

	headers := keyHeader()
	headers[depositHeader] = "0"
	resp = api.post("/v1/certs", mintBody("free"), headers)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	headers[depositHeader] = "-5"
	resp = api.post("/v1/certs", mintBody("neg"), headers)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAPIIssuerAdministration(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodPut, "/v1/issuers/"+testAlice, nil, keyHeader())
	expectStatus(t, resp, http.StatusOK)
	if body := decode[map[string]any](t, resp); body["changed"] != true {
		t.Fatalf("expected role change, got %v", body)
	}

	resp = api.get("/v1/issuers", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[map[string][]string](t, resp)
	if len(list["issuers"]) != 2 {
		t.Fatalf("unexpected issuers: %v", list)
	}

	token := api.obtainToken(testAlice)
	resp = api.post("/v1/certs", mintBody("by-alice"), bearerHeader(token))
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	// Alice cannot administer roles.
	resp = api.do(http.MethodDelete, "/v1/issuers/"+testAlice, nil, bearerHeader(token))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/issuers/"+testAlice, nil, keyHeader())
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.post("/v1/certs", mintBody("by-alice-2"), bearerHeader(token))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestAPIInvalidateAccount(t *testing.T) {
	api := newTestAPI(t)
	for _, id := range []string{"a-1", "a-2", "a-3"} {
		resp := api.post("/v1/certs", mintBody(id), keyHeader())
		expectStatus(t, resp, http.StatusCreated)
		resp.Body.Close()
	}

	resp := api.post("/v1/accounts/"+testAlice+"/invalidate", nil, keyHeader())
	expectStatus(t, resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if done, _ := body["invalidated"].([]any); len(done) != 3 {
		t.Fatalf("unexpected invalidated list: %v", body)
	}

	for _, id := range []string{"a-1", "a-2", "a-3"} {
		valid, err := api.ledger.CertIsValid(context.Background(), id)
		if err != nil {
			t.Fatalf("CertIsValid(%s): %v", id, err)
		}
		if valid {
			t.Fatalf("%s still valid", id)
		}
	}

	resp = api.get("/v1/accounts/"+testAlice+"/certs", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[map[string]any](t, resp); list["total"] != float64(3) {
		t.Fatalf("unexpected total: %v", list["total"])
	}
}

func TestAPITreasuryWithdraw(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/treasury", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	tr := decode[treasuryResponse](t, resp)
	if tr.MaxWithdrawal <= 0 || tr.ContractAccount != testContract {
		t.Fatalf("unexpected treasury: %+v", tr)
	}

	resp = api.post("/v1/treasury/withdraw", map[string]any{}, keyHeader())
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.post("/v1/treasury/withdraw", map[string]any{"amount": tr.MaxWithdrawal + 10}, keyHeader())
	expectStatus(t, resp, http.StatusConflict)
	if body := decode[map[string]any](t, resp); body["kind"] != string(ledger.KindEconomic) {
		t.Fatalf("unexpected kind: %v", body["kind"])
	}

	resp = api.post("/v1/treasury/withdraw", map[string]any{"max": true}, keyHeader())
	expectStatus(t, resp, http.StatusAccepted)
	p := decode[ledger.Payout](t, resp)
	if p.Status != ledger.PayoutPending || p.Recipient != testOwner {
		t.Fatalf("unexpected payout: %+v", p)
	}

	resp = api.get("/v1/payouts/"+p.ID, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	got := decode[ledger.Payout](t, resp)
	if got.Amount != p.Amount {
		t.Fatalf("unexpected payout amount: %d", got.Amount)
	}

	resp = api.get("/v1/treasury", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if after := decode[treasuryResponse](t, resp); after.MaxWithdrawal != 0 || after.Reserved != p.Amount {
		t.Fatalf("unexpected treasury after withdraw: %+v", after)
	}

	resp = api.get("/v1/payouts/missing", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAPITreasuryTransactions(t *testing.T) {
	api := newTestAPI(t)
	resp := api.post("/v1/certs", mintBody("tx-1"), keyHeader())
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.get("/v1/treasury/transactions", nil, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.get("/v1/treasury/transactions", nil, bearerHeader(api.obtainToken(testAlice)))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/v1/treasury/transactions", url.Values{"limit": []string{"0"}}, keyHeader())
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get("/v1/treasury/transactions", nil, keyHeader())
	expectStatus(t, resp, http.StatusOK)
	list := decode[listTransactionsResponse](t, resp)
	if len(list.Items) == 0 {
		t.Fatal("expected the mint deposit to be listed")
	}
	if dep := list.Items[0]; dep.FromAccountID != testOwner || dep.ToAccountID != testContract || dep.Amount != 1_000_000 {
		t.Fatalf("unexpected deposit: %+v", dep)
	}

	resp = api.get("/v1/treasury/transactions", url.Values{"after": []string{strconv.FormatUint(list.NextAfter, 10)}}, keyHeader())
	expectStatus(t, resp, http.StatusOK)
	if rest := decode[listTransactionsResponse](t, resp); len(rest.Items) != 0 {
		t.Fatalf("expected no transfers after cursor, got %d", len(rest.Items))
	}
}

func TestAPIEventsJournal(t *testing.T) {
	api := newTestAPI(t)
	resp := api.post("/v1/certs", mintBody("ev-1"), keyHeader())
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.get("/v1/events", url.Values{"limit": []string{"10"}}, nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[listEventsResponse](t, resp)
	kinds := make([]string, 0, len(list.Items))
	for _, rec := range list.Items {
		kinds = append(kinds, rec.Kind)
	}
	if len(kinds) != 2 || kinds[0] != "nft_mint" || kinds[1] != "cert_issue" {
		t.Fatalf("unexpected events: %v", kinds)
	}

	resp = api.get("/v1/events", url.Values{"after": []string{"x"}}, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/certs", mintBody("anon"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" || errBody["request_id"] == "" {
		t.Fatalf("expected error message and request id, got %v", errBody)
	}

	bad := api.post("/v1/certs", mintBody("bad"), map[string]string{apiKeyHeader: "wrong"})
	expectStatus(t, bad, http.StatusUnauthorized)
	bad.Body.Close()

	bad = api.get("/v1/contract", nil, bearerHeader("not-a-jwt"))
	expectStatus(t, bad, http.StatusUnauthorized)
	bad.Body.Close()
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"account": ""}, keyHeader())
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	token := api.obtainToken(testAlice)
	resp = api.post("/v1/auth/token", map[string]any{"account": testAlice}, bearerHeader(token))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestAPIContractAndOps(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/contract", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	st := decode[map[string]any](t, resp)
	if st["owner_id"] != testOwner || st["can_invalidate"] != true {
		t.Fatalf("unexpected contract state: %v", st)
	}

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp = api.do(http.MethodPut, "/v1/contract", nil, keyHeader())
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	if resp.Header.Get("Allow") != http.MethodGet {
		t.Fatalf("unexpected Allow header: %q", resp.Header.Get("Allow"))
	}
	resp.Body.Close()
}
