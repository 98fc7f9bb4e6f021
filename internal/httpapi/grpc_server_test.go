package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	certqueryv1 "certledger.org/api/certquery/v1"
	"certledger.org/internal/cert"
	"certledger.org/internal/ledger"
	"certledger.org/internal/nft"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *GRPCServer) (*grpc.ClientConn, func()) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	srv.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	cleanup := func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	}
	return conn, cleanup
}

type failingProbe struct{}

func (failingProbe) Check(context.Context) error { return errors.New("db down") }

func TestGRPCServer_Queries(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_, err := l.Mint(ctx, ledger.Call{Caller: testOwner, Deposit: 1_000_000}, ledger.MintRequest{
		TokenID:  "g-1",
		Receiver: testAlice,
		Metadata: nft.TokenMetadata{Title: "gRPC"},
		Cert:     cert.Extra{Program: cert.String("PRG")},
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	conn, cleanup := startBufGRPC(t, NewGRPCServer(l, ReadyProbe{}))
	defer cleanup()
	client := certqueryv1.NewCertQueryClient(conn)

	valid, err := client.IsValid(ctx, wrapperspb.String("g-1"))
	if err != nil {
		t.Fatalf("IsValid: %v", err)
	}
	if !valid.GetValue() {
		t.Fatalf("expected valid certificate")
	}

	_, err = client.IsValid(ctx, wrapperspb.String("missing"))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	_, err = client.IsValid(ctx, wrapperspb.String(""))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	maxW, err := client.MaxWithdrawal(ctx, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("MaxWithdrawal: %v", err)
	}
	want, err := l.MaxWithdrawal(ctx)
	if err != nil {
		t.Fatalf("ledger MaxWithdrawal: %v", err)
	}
	if maxW.GetValue() != want {
		t.Fatalf("MaxWithdrawal = %d, want %d", maxW.GetValue(), want)
	}

	raw, err := client.Token(ctx, wrapperspb.String("g-1"))
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	var c ledger.Certificate
	if err := json.Unmarshal([]byte(raw.GetValue()), &c); err != nil {
		t.Fatalf("decode certificate: %v", err)
	}
	if c.OwnerID != testAlice || !c.Certification.Valid {
		t.Fatalf("unexpected certificate: %+v", c)
	}
}

func TestGRPCServer_Health(t *testing.T) {
	l := newTestLedger(t)
	srv := NewGRPCServer(l, failingProbe{})
	conn, cleanup := startBufGRPC(t, srv)
	defer cleanup()

	if srv.RefreshHealth(context.Background()) {
		t.Fatalf("expected not ready")
	}
	hc := healthpb.NewHealthClient(conn)
	resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: certqueryv1.ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: %v", resp.GetStatus())
	}

	srv.readiness = ReadyProbe{}
	if !srv.RefreshHealth(context.Background()) {
		t.Fatalf("expected ready")
	}
	resp, err = hc.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %v", resp.GetStatus())
	}
}

func TestGRPCErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{ledger.ErrUnauthorized, codes.PermissionDenied},
		{ledger.ErrTransferDisabled, codes.FailedPrecondition},
		{ledger.ErrTokenNotFound, codes.NotFound},
		{ledger.ErrCorruptMetadata, codes.Internal},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		if got := status.Code(grpcError(tc.err)); got != tc.want {
			t.Fatalf("grpcError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
