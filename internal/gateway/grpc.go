// ABOUTME: gRPC server construction with the authentication interceptors installed
// ABOUTME: The health service is public; every other method needs a user-plane credential

package gateway

import (
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/scheduler-gateway/internal/auth"
)

// grpcAccess is the method table for the gRPC boundary. Services registered
// later fall under Default.
var grpcAccess = auth.MethodAccess{
	Default: auth.AccessUser,
	Methods: map[string]auth.Access{
		healthpb.Health_Check_FullMethodName: auth.AccessPublic,
		healthpb.Health_Watch_FullMethodName: auth.AccessPublic,
	},
}

// createGRPCServer creates a gRPC server guarded by authn and serving hs.
func createGRPCServer(authn auth.Authenticator, hs *health.Server, logger *slog.Logger) *grpc.Server {
	authLogger := logger.With("component", "auth")
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(authn, grpcAccess, authLogger)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(authn, grpcAccess, authLogger)),
	)
	healthpb.RegisterHealthServer(server, hs)
	logger.Info("gRPC auth interceptors enabled")
	return server
}
