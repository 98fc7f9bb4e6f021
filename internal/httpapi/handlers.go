package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"certledger.org/internal/audit"
	"certledger.org/internal/expiry"
	"certledger.org/internal/ledger"
	"certledger.org/internal/obs"
	"certledger.org/internal/stream"
)

const serviceName = "certledger"

// ReadyProbe checks the backing stores the API depends on.
type ReadyProbe struct {
	DB       *sql.DB
	Explorer *expiry.Explorer
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Explorer != nil {
		return rp.Explorer.Ping(ctx)
	}
	return nil
}

// Config holds the REST surface settings.
type Config struct {
	Version string
	// APIKey authenticates requests as SignerAccount. Empty disables key auth.
	APIKey        string
	SignerAccount string
	// MintDeposit is attached to mint calls that carry no X-Attached-Deposit.
	MintDeposit  int64
	TokenTTL     time.Duration
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 15 * time.Minute
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	return c
}

// API is the HTTP layer over the ledger.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	cfg        Config
	ledger     *ledger.Ledger
	expiry     *expiry.Service
	stream     *stream.Stream
	log        zerolog.Logger
}

// New builds the API. exp and st may be nil to disable expiration dates and
// live streaming.
func New(rp ReadyProbe, cfg Config, l *ledger.Ledger, exp *expiry.Service, st *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		cfg:        cfg.withDefaults(),
		ledger:     l,
		expiry:     exp,
		stream:     st,
		log:        obs.Component("httpapi"),
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/contract", a.handleContract)
	a.mux.HandleFunc("/v1/certs", a.handleCertsCollection)
	a.mux.HandleFunc("/v1/certs/", a.handleCertResource)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/issuers", a.handleIssuersCollection)
	a.mux.HandleFunc("/v1/issuers/", a.handleIssuerResource)
	a.mux.HandleFunc("/v1/treasury", a.handleTreasury)
	a.mux.HandleFunc("/v1/treasury/withdraw", a.handleWithdraw)
	a.mux.HandleFunc("/v1/treasury/transactions", a.handleTreasuryTransactions)
	a.mux.HandleFunc("/v1/payouts/", a.handlePayout)
	a.mux.HandleFunc("/v1/events", a.handleEvents)
	a.mux.HandleFunc("/v1/events/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	h = RateLimit(h, a.cfg.RateBurst, a.cfg.RatePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	cfg := a.ledger.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":              serviceName,
		"time":              time.Now().UTC().Format(time.RFC3339),
		"version":           a.cfg.Version,
		"contract_account":  cfg.ContractAccount,
		"currency":          cfg.Currency,
		"storage_byte_cost": cfg.StorageByteCost,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		a.log.Warn().Err(err).Str("event", event).Msg("audit log failed")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
