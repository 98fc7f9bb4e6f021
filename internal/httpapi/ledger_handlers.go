package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"certledger.org/internal/bank"
	"certledger.org/internal/cert"
	"certledger.org/internal/events"
	"certledger.org/internal/ids"
	"certledger.org/internal/ledger"
	"certledger.org/internal/nft"
)

type mintRequest struct {
	TokenID       string            `json:"token_id"`
	ReceiverID    string            `json:"receiver_id"`
	Metadata      nft.TokenMetadata `json:"metadata"`
	Certification cert.Extra        `json:"certification"`
	Memo          string            `json:"memo"`
}

type memoRequest struct {
	Memo string `json:"memo"`
}

type transferRequest struct {
	ReceiverID string  `json:"receiver_id"`
	ApprovalID *uint64 `json:"approval_id"`
	Memo       string  `json:"memo"`
}

type withdrawRequest struct {
	Amount int64 `json:"amount"`
	Max    bool  `json:"max"`
}

type certificateResponse struct {
	ledger.Certificate
	ExpiresOn *time.Time `json:"expires_on,omitempty"`
}

type listTokensResponse struct {
	Items []nft.Token `json:"items"`
	Total int         `json:"total"`
	AsOf  time.Time   `json:"as_of"`
}

type listEventsResponse struct {
	Items     []events.Record `json:"items"`
	NextAfter uint64          `json:"next_after"`
}

type listTransactionsResponse struct {
	Items     []bank.Transaction `json:"items"`
	NextAfter uint64             `json:"next_after"`
}

type treasuryResponse struct {
	ContractAccount string `json:"contract_account"`
	Currency        string `json:"currency"`
	MaxWithdrawal   int64  `json:"max_withdrawal"`
	Reserved        int64  `json:"reserved"`
	StorageUsage    int64  `json:"storage_usage"`
	StorageByteCost int64  `json:"storage_byte_cost"`
}

func (a *API) handleContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	st, err := a.ledger.State(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleCertsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.mint(w, r)
	case http.MethodGet:
		a.listCerts(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCertResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/certs/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, action, _ := strings.Cut(path, "/")
	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			a.getCert(w, r, id)
		case http.MethodDelete:
			a.deleteCert(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case "valid":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.certValid(w, r, id)
	case "invalidate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.invalidateCert(w, r, id)
	case "transfer":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.transferCert(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) mint(w http.ResponseWriter, r *http.Request) {
	call, ok := a.callFor(w, r, a.cfg.MintDeposit)
	if !ok {
		return
	}
	var req mintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tokenID := strings.TrimSpace(req.TokenID)
	if tokenID == "" {
		tokenID = ids.NewTokenID()
	}

	tok, err := a.ledger.Mint(r.Context(), call, ledger.MintRequest{
		TokenID:  tokenID,
		Receiver: strings.TrimSpace(req.ReceiverID),
		Metadata: req.Metadata,
		Cert:     req.Certification,
		Memo:     req.Memo,
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "cert.mint", map[string]any{
		"token_id": tok.TokenID,
		"owner_id": tok.OwnerID,
		"deposit":  call.Deposit,
	})
	w.Header().Set("Location", "/v1/certs/"+tok.TokenID)
	writeJSON(w, http.StatusCreated, tok)
}

func (a *API) listCerts(w http.ResponseWriter, r *http.Request) {
	from, limit, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.ledger.Tokens(r.Context(), from, limit)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	total, err := a.ledger.TotalSupply(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listTokensResponse{Items: nonNil(items), Total: total, AsOf: time.Now().UTC()})
}

func (a *API) getCert(w http.ResponseWriter, r *http.Request, id string) {
	c, err := a.ledger.Certificate(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	resp := certificateResponse{Certificate: c}
	if a.expiry != nil {
		exp, err := a.expiry.ForToken(r.Context(), c.Token)
		if err != nil {
			a.log.Warn().Err(err).Str("token_id", id).Msg("expiration lookup failed")
		} else {
			resp.ExpiresOn = &exp
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) certValid(w http.ResponseWriter, r *http.Request, id string) {
	valid, err := a.ledger.CertIsValid(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "valid": valid})
}

func (a *API) invalidateCert(w http.ResponseWriter, r *http.Request, id string) {
	call, ok := a.callFor(w, r, ledger.OneUnit)
	if !ok {
		return
	}
	var req memoRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.ledger.Invalidate(r.Context(), call, id, req.Memo); err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.audit(r.Context(), "cert.invalidate", map[string]any{"token_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "valid": false})
}

func (a *API) deleteCert(w http.ResponseWriter, r *http.Request, id string) {
	call, ok := a.callFor(w, r, ledger.OneUnit)
	if !ok {
		return
	}
	memo := r.URL.Query().Get("memo")
	if err := a.ledger.Delete(r.Context(), call, id, memo); err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.audit(r.Context(), "cert.delete", map[string]any{"token_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) transferCert(w http.ResponseWriter, r *http.Request, id string) {
	call, ok := a.callFor(w, r, ledger.OneUnit)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	receiver := strings.TrimSpace(req.ReceiverID)
	if receiver == "" {
		writeError(w, r, http.StatusBadRequest, "receiver_id is required")
		return
	}
	tr, err := a.ledger.Transfer(r.Context(), call, ledger.TransferRequest{
		Receiver:   receiver,
		TokenID:    id,
		ApprovalID: req.ApprovalID,
		Memo:       req.Memo,
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.audit(r.Context(), "cert.transfer", map[string]any{
		"token_id":  id,
		"old_owner": tr.PreviousOwner,
		"new_owner": tr.NewOwner,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token_id":       tr.TokenID,
		"previous_owner": tr.PreviousOwner,
		"owner_id":       tr.NewOwner,
	})
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/accounts/"), "/")
	account, action, found := strings.Cut(path, "/")
	if account == "" || !found {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch action {
	case "certs":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.accountCerts(w, r, account)
	case "invalidate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.invalidateAccount(w, r, account)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) accountCerts(w http.ResponseWriter, r *http.Request, account string) {
	from, limit, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.ledger.TokensForOwner(r.Context(), account, from, limit)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	total, err := a.ledger.SupplyForOwner(r.Context(), account)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listTokensResponse{Items: nonNil(items), Total: total, AsOf: time.Now().UTC()})
}

// invalidateAccount invalidates every certification held by account, one
// ledger call per token. It stops at the first failure; tokens already
// processed stay invalidated.
func (a *API) invalidateAccount(w http.ResponseWriter, r *http.Request, account string) {
	call, ok := a.callFor(w, r, ledger.OneUnit)
	if !ok {
		return
	}
	var req memoRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tokenIDs, err := a.ledger.TokenIDsForOwner(r.Context(), account)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	done := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if err := a.ledger.Invalidate(r.Context(), call, id, req.Memo); err != nil {
			a.log.Warn().Err(err).Str("account", account).Str("token_id", id).
				Int("invalidated", len(done)).Msg("bulk invalidation stopped")
			handleLedgerError(w, r, err)
			return
		}
		done = append(done, id)
	}
	a.audit(r.Context(), "cert.invalidate_account", map[string]any{
		"account":   account,
		"token_ids": done,
	})
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "invalidated": done})
}

func (a *API) handleIssuersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	issuers, err := a.ledger.Issuers(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if issuers == nil {
		issuers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"issuers": issuers})
}

func (a *API) handleIssuerResource(w http.ResponseWriter, r *http.Request) {
	account := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/issuers/"), "/")
	if account == "" || strings.Contains(account, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		ok, err := a.ledger.IsIssuer(r.Context(), account)
		if err != nil {
			handleLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"account": account, "issuer": ok})
	case http.MethodPut, http.MethodDelete:
		call, ok := a.callFor(w, r, 0)
		if !ok {
			return
		}
		add := r.Method == http.MethodPut
		var (
			changed bool
			err     error
		)
		if add {
			changed, err = a.ledger.AddIssuer(r.Context(), call, account)
		} else {
			changed, err = a.ledger.RemoveIssuer(r.Context(), call, account)
		}
		if err != nil {
			handleLedgerError(w, r, err)
			return
		}
		event := "issuer.remove"
		if add {
			event = "issuer.add"
		}
		a.audit(r.Context(), event, map[string]any{"account": account, "changed": changed})
		writeJSON(w, http.StatusOK, map[string]any{"account": account, "issuer": add, "changed": changed})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleTreasury(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	maxW, err := a.ledger.MaxWithdrawal(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	reserved, err := a.ledger.Reserved(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	cfg := a.ledger.Config()
	writeJSON(w, http.StatusOK, treasuryResponse{
		ContractAccount: cfg.ContractAccount,
		Currency:        cfg.Currency,
		MaxWithdrawal:   maxW,
		Reserved:        reserved,
		StorageUsage:    a.ledger.StorageUsage(),
		StorageByteCost: cfg.StorageByteCost,
	})
}

func (a *API) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	call, ok := a.callFor(w, r, ledger.OneUnit)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var (
		p   ledger.Payout
		err error
	)
	switch {
	case req.Max:
		p, err = a.ledger.WithdrawMax(r.Context(), call)
	case req.Amount > 0:
		p, err = a.ledger.Withdraw(r.Context(), call, req.Amount)
	default:
		writeError(w, r, http.StatusBadRequest, "amount must be > 0 or max must be set")
		return
	}
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.audit(r.Context(), "treasury.withdraw", map[string]any{
		"payout_id": p.ID,
		"amount":    p.Amount,
		"recipient": p.Recipient,
	})
	w.Header().Set("Location", "/v1/payouts/"+p.ID)
	writeJSON(w, http.StatusAccepted, p)
}

// handleTreasuryTransactions lists the contract account's bank transfers.
// It is restricted to the contract owner.
func (a *API) handleTreasuryTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	call, ok := a.callFor(w, r, 0)
	if !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
	}
	items, next, err := a.ledger.Transactions(r.Context(), call.Caller, after, limit)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if items == nil {
		items = []bank.Transaction{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{Items: items, NextAfter: next})
}

func (a *API) handlePayout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/payouts/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, err := a.ledger.Payout(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
	}
	items, next, err := a.ledger.Events(r.Context(), after, limit)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if items == nil {
		items = []events.Record{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Items: items, NextAfter: next})
}

// callFor resolves the ledger call or writes the failure response.
func (a *API) callFor(w http.ResponseWriter, r *http.Request, deposit int64) (ledger.Call, bool) {
	call, err := a.call(r, deposit)
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return call, false
	case err != nil:
		writeError(w, r, http.StatusBadRequest, err.Error())
		return call, false
	}
	return call, true
}

func parsePage(r *http.Request) (from, limit int, err error) {
	limit, err = parsePositiveInt(r.URL.Query().Get("limit"), 50, 1, 1000)
	if err != nil {
		return 0, 0, err
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		from, err = strconv.Atoi(raw)
		if err != nil || from < 0 {
			return 0, 0, errors.New("from must be a non-negative integer")
		}
	}
	return from, limit, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func nonNil(items []nft.Token) []nft.Token {
	if items == nil {
		return []nft.Token{}
	}
	return items
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, true)
}

// decodeOptionalJSON accepts an empty body and leaves dst untouched.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, false)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, required bool) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if !required {
				return nil
			}
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	switch kind {
	case ledger.KindAuthorization:
		writeKindError(w, r, http.StatusForbidden, kind, err.Error())
	case ledger.KindPrecondition:
		code := http.StatusBadRequest
		if errors.Is(err, ledger.ErrTokenExists) {
			code = http.StatusConflict
		}
		writeKindError(w, r, code, kind, err.Error())
	case ledger.KindNotFound:
		writeKindError(w, r, http.StatusNotFound, kind, err.Error())
	case ledger.KindEconomic:
		writeKindError(w, r, http.StatusConflict, kind, err.Error())
	default:
		writeKindError(w, r, http.StatusInternalServerError, ledger.KindInternal, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeKindError(w, r, code, "", msg)
}

func writeKindError(w http.ResponseWriter, r *http.Request, code int, kind ledger.Kind, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if kind != "" {
		payload["kind"] = kind
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
