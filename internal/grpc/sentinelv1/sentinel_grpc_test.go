package sentinelv1

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type echoServer struct {
	UnimplementedSentinelServer
}

func (echoServer) Evaluate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return in, nil
}

func decodeInto(src *structpb.Struct) func(any) error {
	return func(dst any) error {
		dst.(*structpb.Struct).Fields = src.GetFields()
		return nil
	}
}

func handlerFor(t *testing.T, method string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	t.Helper()
	for _, m := range ServiceDesc.Methods {
		if m.MethodName == method {
			return m.Handler
		}
	}
	t.Fatalf("method %s not registered", method)
	return nil
}

func TestServiceDescListsEveryMethod(t *testing.T) {
	names := make([]string, 0, len(ServiceDesc.Methods))
	for _, m := range ServiceDesc.Methods {
		names = append(names, m.MethodName)
	}
	assert.Equal(t, []string{
		MethodEvaluate, MethodEvaluateBatch, MethodExplain, MethodSubmitFeedback,
		MethodUpdateWhitelist, MethodWindowStats, MethodModelInfo, MethodHealthCheck,
	}, names)
	assert.Equal(t, "/sentinel.v1.Sentinel/Evaluate", FullMethod(MethodEvaluate))
}

func TestUnaryHandlerDirectAndIntercepted(t *testing.T) {
	in, err := structpb.NewStruct(map[string]any{"ip_address": "10.0.0.1"})
	require.NoError(t, err)
	handler := handlerFor(t, MethodEvaluate)

	out, err := handler(echoServer{}, context.Background(), decodeInto(in), nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", out.(*structpb.Struct).AsMap()["ip_address"])

	var seen string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return next(ctx, req)
	}
	out, err = handler(echoServer{}, context.Background(), decodeInto(in), interceptor)
	require.NoError(t, err)
	assert.Equal(t, FullMethod(MethodEvaluate), seen)
	assert.Equal(t, "10.0.0.1", out.(*structpb.Struct).AsMap()["ip_address"])
}

func TestUnimplementedMethods(t *testing.T) {
	_, err := handlerFor(t, MethodExplain)(echoServer{}, context.Background(), decodeInto(&structpb.Struct{}), nil)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
