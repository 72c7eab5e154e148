// Package sentinelv1 holds the service descriptor, server registration and
// client stub for proto/sentinel/v1/sentinel.proto. Every method exchanges
// google.protobuf.Struct messages, so no generated message types are needed.
package sentinelv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sentinel.v1.Sentinel"

const (
	MethodEvaluate        = "Evaluate"
	MethodEvaluateBatch   = "EvaluateBatch"
	MethodExplain         = "Explain"
	MethodSubmitFeedback  = "SubmitFeedback"
	MethodUpdateWhitelist = "UpdateWhitelist"
	MethodWindowStats     = "WindowStats"
	MethodModelInfo       = "ModelInfo"
	MethodHealthCheck     = "HealthCheck"
)

// FullMethod returns the wire path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// SentinelServer is the server API for the Sentinel service.
type SentinelServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EvaluateBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Explain(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitFeedback(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateWhitelist(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WindowStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ModelInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedSentinelServer can be embedded for forward compatibility.
type UnimplementedSentinelServer struct{}

func (UnimplementedSentinelServer) Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Evaluate not implemented")
}
func (UnimplementedSentinelServer) EvaluateBatch(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method EvaluateBatch not implemented")
}
func (UnimplementedSentinelServer) Explain(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Explain not implemented")
}
func (UnimplementedSentinelServer) SubmitFeedback(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method SubmitFeedback not implemented")
}
func (UnimplementedSentinelServer) UpdateWhitelist(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateWhitelist not implemented")
}
func (UnimplementedSentinelServer) WindowStats(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method WindowStats not implemented")
}
func (UnimplementedSentinelServer) ModelInfo(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ModelInfo not implemented")
}
func (UnimplementedSentinelServer) HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method HealthCheck not implemented")
}

type unaryCall func(SentinelServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler adapts call to the handler signature grpc.MethodDesc expects.
func unaryHandler(method string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SentinelServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SentinelServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc is the grpc.ServiceDesc for the Sentinel service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SentinelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodEvaluate, Handler: unaryHandler(MethodEvaluate, SentinelServer.Evaluate)},
		{MethodName: MethodEvaluateBatch, Handler: unaryHandler(MethodEvaluateBatch, SentinelServer.EvaluateBatch)},
		{MethodName: MethodExplain, Handler: unaryHandler(MethodExplain, SentinelServer.Explain)},
		{MethodName: MethodSubmitFeedback, Handler: unaryHandler(MethodSubmitFeedback, SentinelServer.SubmitFeedback)},
		{MethodName: MethodUpdateWhitelist, Handler: unaryHandler(MethodUpdateWhitelist, SentinelServer.UpdateWhitelist)},
		{MethodName: MethodWindowStats, Handler: unaryHandler(MethodWindowStats, SentinelServer.WindowStats)},
		{MethodName: MethodModelInfo, Handler: unaryHandler(MethodModelInfo, SentinelServer.ModelInfo)},
		{MethodName: MethodHealthCheck, Handler: unaryHandler(MethodHealthCheck, SentinelServer.HealthCheck)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sentinel/v1/sentinel.proto",
}

// RegisterSentinelServer registers srv on s.
func RegisterSentinelServer(s grpc.ServiceRegistrar, srv SentinelServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SentinelClient is the client API for the Sentinel service.
type SentinelClient struct {
	cc grpc.ClientConnInterface
}

// NewSentinelClient wraps a client connection.
func NewSentinelClient(cc grpc.ClientConnInterface) *SentinelClient {
	return &SentinelClient{cc: cc}
}

// Call invokes a unary method by name.
func (c *SentinelClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SentinelClient) Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodEvaluate, in, opts...)
}

func (c *SentinelClient) Explain(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodExplain, in, opts...)
}

func (c *SentinelClient) HealthCheck(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodHealthCheck, nil, opts...)
}
