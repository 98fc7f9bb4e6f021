// Package certqueryv1 describes the certledger.v1.CertQuery gRPC service.
// Messages are protobuf well-known wrapper types, so no generated code is
// needed beyond this descriptor.
package certqueryv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "certledger.v1.CertQuery"

const (
	IsValidFullMethod       = "/" + ServiceName + "/IsValid"
	MaxWithdrawalFullMethod = "/" + ServiceName + "/MaxWithdrawal"
	TokenFullMethod         = "/" + ServiceName + "/Token"
)

// CertQueryServer is the server API for CertQuery.
type CertQueryServer interface {
	// IsValid reports whether the certification with the given token id is valid.
	IsValid(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	// MaxWithdrawal returns the amount the owner can currently withdraw.
	MaxWithdrawal(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	// Token returns the JSON certificate view for a token id.
	Token(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

// RegisterCertQueryServer attaches srv to s.
func RegisterCertQueryServer(s grpc.ServiceRegistrar, srv CertQueryServer) {
	s.RegisterService(&CertQuery_ServiceDesc, srv)
}

// CertQuery_ServiceDesc is the grpc.ServiceDesc for CertQuery.
var CertQuery_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CertQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IsValid", Handler: isValidHandler},
		{MethodName: "MaxWithdrawal", Handler: maxWithdrawalHandler},
		{MethodName: "Token", Handler: tokenHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "certledger/v1/certquery.proto",
}

func isValidHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CertQueryServer).IsValid(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: IsValidFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CertQueryServer).IsValid(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func maxWithdrawalHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CertQueryServer).MaxWithdrawal(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MaxWithdrawalFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CertQueryServer).MaxWithdrawal(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func tokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CertQueryServer).Token(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TokenFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CertQueryServer).Token(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// CertQueryClient is the client API for CertQuery.
type CertQueryClient interface {
	IsValid(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
	MaxWithdrawal(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error)
	Token(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type certQueryClient struct {
	cc grpc.ClientConnInterface
}

func NewCertQueryClient(cc grpc.ClientConnInterface) CertQueryClient {
	return &certQueryClient{cc: cc}
}

func (c *certQueryClient) IsValid(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, IsValidFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *certQueryClient) MaxWithdrawal(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, MaxWithdrawalFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *certQueryClient) Token(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, TokenFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
