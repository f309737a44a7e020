package main

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// requestIDHeader is echoed back to the caller when set, otherwise generated.
const requestIDHeader = "x-request-id"

// requestID returns the caller-supplied request id or a fresh one.
func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(requestIDHeader); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return uuid.NewString()
}

// logLevelFor reports client-side failures at Warn and everything else
// unexpected at Error.
func logLevelFor(code codes.Code) log.Level {
	switch code {
	case codes.OK:
		return log.InfoLevel
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.FailedPrecondition, codes.ResourceExhausted, codes.Canceled,
		codes.Unimplemented:
		return log.WarnLevel
	default:
		return log.ErrorLevel
	}
}

// loggingUnaryInterceptor logs one line per unary call with its outcome.
func loggingUnaryInterceptor(logger *log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		rid := requestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, rid))

		resp, err := handler(ctx, req)

		code := status.Code(err)
		kv := []any{"method", info.FullMethod, "code", code.String(), "request_id", rid, "took", time.Since(start)}
		if err != nil {
			kv = append(kv, "err", status.Convert(err).Message())
		}
		logger.Log(logLevelFor(code), "unary call", kv...)
		return resp, err
	}
}

// loggingStreamInterceptor is the stream equivalent of loggingUnaryInterceptor.
func loggingStreamInterceptor(logger *log.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		rid := requestID(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(requestIDHeader, rid))
		logger.Debug("stream opened", "method", info.FullMethod, "request_id", rid)

		err := handler(srv, ss)

		code := status.Code(err)
		kv := []any{"method", info.FullMethod, "code", code.String(), "request_id", rid, "took", time.Since(start)}
		if err != nil {
			kv = append(kv, "err", status.Convert(err).Message())
		}
		logger.Log(logLevelFor(code), "stream closed", kv...)
		return err
	}
}
