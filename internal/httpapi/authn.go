package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"certledger.org/internal/auth"
	"certledger.org/internal/ledger"
)

const (
	authHeader    = "Authorization"
	apiKeyHeader  = "X-API-Key"
	depositHeader = "X-Attached-Deposit"
	bearer        = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
}

// withAuth resolves the caller from an API key or a bearer token. Safe
// methods may be anonymous; mutations require a caller.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		caller, err := a.authenticate(r)
		switch {
		case err != nil:
			w.Header().Set("WWW-Authenticate", `Bearer realm="certledger"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		case caller == nil && !isSafeMethod(r.Method):
			w.Header().Set("WWW-Authenticate", `Bearer realm="certledger"`)
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		case caller == nil:
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithCaller(r.Context(), *caller)))
	})
}

// authenticate returns a nil caller when the request carries no credentials.
func (a *API) authenticate(r *http.Request) (*auth.Caller, error) {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		if a.cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(a.cfg.APIKey)) != 1 {
			return nil, errors.New("invalid api key")
		}
		return &auth.Caller{Account: a.cfg.SignerAccount, Method: auth.MethodAPIKey}, nil
	}
	header := r.Header.Get(authHeader)
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}
	token, err := extractBearerToken(header)
	if err != nil {
		return nil, err
	}
	claims, err := auth.ParseAndValidate(token)
	if err != nil {
		return nil, errors.New("invalid token")
	}
	return &auth.Caller{Account: claims.Account(), Method: auth.MethodBearer}, nil
}

// call builds the ledger call for the authenticated request. def is the
// deposit used when the request does not attach one.
func (a *API) call(r *http.Request, def int64) (ledger.Call, error) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return ledger.Call{}, ledger.ErrUnauthorized
	}
	deposit := def
	if raw := strings.TrimSpace(r.Header.Get(depositHeader)); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return ledger.Call{}, errors.New("X-Attached-Deposit must be a non-negative integer")
		}
		deposit = v
	}
	return ledger.Call{Caller: caller.Account, Deposit: deposit}, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func isSafeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead
}
