// Package remote is a Go client for the read-only certledger.v1.CertQuery
// gRPC service.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	certqueryv1 "certledger.org/api/certquery/v1"
	"certledger.org/internal/ledger"
)

const defaultTimeout = 5 * time.Second

// Client queries a certledger node.
type Client struct {
	conn    *grpc.ClientConn
	query   certqueryv1.CertQueryClient
	health  healthpb.HealthClient
	timeout time.Duration
}

// Dial connects to addr without transport security. Extra dial options are
// appended, so tests can pass a context dialer.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection. Close closes it.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{
		conn:    conn,
		query:   certqueryv1.NewCertQueryClient(conn),
		health:  healthpb.NewHealthClient(conn),
		timeout: defaultTimeout,
	}
}

func (c *Client) Close() error { return c.conn.Close() }

// IsValid reports the validity flag of a certification.
func (c *Client) IsValid(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.query.IsValid(ctx, wrapperspb.String(tokenID))
	if err != nil {
		return false, fromStatus(err)
	}
	return out.GetValue(), nil
}

// MaxWithdrawal returns the amount the owner could withdraw now.
func (c *Client) MaxWithdrawal(ctx context.Context) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.query.MaxWithdrawal(ctx, &emptypb.Empty{})
	if err != nil {
		return 0, fromStatus(err)
	}
	return out.GetValue(), nil
}

// Certificate fetches the certificate view of a token.
func (c *Client) Certificate(ctx context.Context, tokenID string) (ledger.Certificate, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.query.Token(ctx, wrapperspb.String(tokenID))
	if err != nil {
		return ledger.Certificate{}, fromStatus(err)
	}
	var cert ledger.Certificate
	if err := json.Unmarshal([]byte(out.GetValue()), &cert); err != nil {
		return ledger.Certificate{}, fmt.Errorf("decode certificate %s: %w", tokenID, err)
	}
	return cert, nil
}

// Ready reports whether the node's query service is serving.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: certqueryv1.ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// fromStatus maps gRPC codes back onto ledger sentinels so callers can use
// errors.Is across the wire.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ledger.ErrTokenNotFound, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ledger.ErrUnauthorized, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ledger.ErrInvalidArgument, st.Message())
	default:
		return err
	}
}
