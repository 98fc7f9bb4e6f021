package httpapi

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	certqueryv1 "certledger.org/api/certquery/v1"
	"certledger.org/internal/ledger"
	"certledger.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer serves the read-only certledger.v1.CertQuery service and the
// standard health service.
type GRPCServer struct {
	ledger    *ledger.Ledger
	readiness readinessChecker
	health    *health.Server
	log       zerolog.Logger
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(l *ledger.Ledger, r readinessChecker) *GRPCServer {
	return &GRPCServer{
		ledger:    l,
		readiness: r,
		health:    health.NewServer(),
		log:       obs.Component("grpc"),
	}
}

// Register attaches the query and health services to s.
func (s *GRPCServer) Register(srv *grpc.Server) {
	certqueryv1.RegisterCertQueryServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
}

// RefreshHealth evaluates readiness and publishes it through the health
// service, both for the overall server and for CertQuery.
func (s *GRPCServer) RefreshHealth(ctx context.Context) bool {
	st := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			s.log.Warn().Err(err).Msg("not ready")
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(certqueryv1.ServiceName, st)
	return st == healthpb.HealthCheckResponse_SERVING
}

// Shutdown marks every service as not serving.
func (s *GRPCServer) Shutdown() { s.health.Shutdown() }

func (s *GRPCServer) IsValid(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	id := strings.TrimSpace(in.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "token id is required")
	}
	valid, err := s.ledger.CertIsValid(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return wrapperspb.Bool(valid), nil
}

func (s *GRPCServer) MaxWithdrawal(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	amount, err := s.ledger.MaxWithdrawal(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return wrapperspb.Int64(amount), nil
}

func (s *GRPCServer) Token(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	id := strings.TrimSpace(in.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "token id is required")
	}
	c, err := s.ledger.Certificate(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode certificate")
	}
	return wrapperspb.String(string(b)), nil
}

func grpcError(err error) error {
	switch ledger.KindOf(err) {
	case ledger.KindAuthorization:
		return status.Error(codes.PermissionDenied, err.Error())
	case ledger.KindPrecondition, ledger.KindEconomic:
		return status.Error(codes.FailedPrecondition, err.Error())
	case ledger.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

var _ certqueryv1.CertQueryServer = (*GRPCServer)(nil)
