package auth

import "context"

type callerContextKey struct{}

// Method records how a caller authenticated.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodBearer Method = "bearer"
)

// Caller is the authenticated account behind a request.
type Caller struct {
	Account string
	Method  Method
}

// ContextWithCaller attaches the authenticated caller to the context.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, &caller)
}

// CallerFromContext extracts the authenticated caller from the context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	v, ok := ctx.Value(callerContextKey{}).(*Caller)
	if !ok || v == nil {
		return Caller{}, false
	}
	return *v, true
}
