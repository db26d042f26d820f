package grpcx

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryClientRequestIDInterceptor propagates request id from context into outgoing metadata.
//
// Priority:
// 1) httpx.RequestIDFromContext (HTTP -> gRPC fanout)
// 2) grpcx.RequestIDFromContext (gRPC -> gRPC chaining)
func UnaryClientRequestIDInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		id := httpx.RequestIDFromContext(ctx)
		if id == "" {
			id = RequestIDFromContext(ctx)
		}
		if id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, id)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerRequestIDInterceptor reads request id from incoming metadata (if present),
// stores it in context, and echoes it back in response headers.
func UnaryServerRequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
				id = vals[0]
			}
		}
		if id == "" {
			id = NewRequestID()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, id))
		ctx = WithRequestID(ctx, id)
		return handler(ctx, req)
	}
}

// UnaryServerLoggingInterceptor mirrors httpx.WithAccessLog for gRPC and converts panics
// into codes.Internal.
func UnaryServerLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("grpc handler panic", "method", info.FullMethod, "panic", rec, "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal error")
			}
			level := slog.LevelInfo
			code := status.Code(err)
			if code == codes.Internal || code == codes.Unknown {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "grpc request",
				"request_id", RequestIDFromContext(ctx),
				"method", info.FullMethod,
				"code", code.String(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}()
		return handler(ctx, req)
	}
}

// ServerOptions is the standard interceptor stack for slotbook gRPC servers.
func ServerOptions(logger *slog.Logger, extra ...grpc.ServerOption) []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLoggingInterceptor(logger),
		),
	}
	return append(opts, extra...)
}
