package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"mathavam/backend/internal/auth"
	"mathavam/backend/internal/domain"
)

type authenticator interface {
	Authenticate(get auth.HeaderFunc) (domain.Actor, error)
}

// AuthInterceptor resolves the caller from request metadata and stores it on
// the context. Health checks pass through unauthenticated.
func AuthInterceptor(a authenticator, log *slog.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "grpc.auth"))
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		actor, err := a.Authenticate(func(key string) string {
			if v := md.Get(key); len(v) > 0 {
				return v[0]
			}
			return ""
		})
		if err != nil {
			log.Warn("unauthenticated call", slog.String("method", info.FullMethod), slog.Any("err", err))
			if errors.Is(err, auth.ErrInvalidToken) {
				return nil, status.Error(codes.Unauthenticated, "invalid token")
			}
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return handler(auth.WithActor(ctx, actor), req)
	}
}

// RecoveryInterceptor turns a handler panic into codes.Internal so one bad
// request cannot take the server down.
func RecoveryInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "grpc.recovery"))
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)
				log.ErrorContext(ctx, "panic recovered",
					slog.String("method", info.FullMethod),
					slog.String("panic", fmt.Sprintf("%v", r)),
					slog.String("stack", string(stack[:n])),
				)
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
