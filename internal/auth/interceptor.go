// ABOUTME: gRPC interceptors running the authentication pipeline on incoming calls
// ABOUTME: Reads credentials from metadata and populates context for handlers

package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// MethodAccess selects the Access rule for a gRPC method.
type MethodAccess struct {
	Default Access
	Methods map[string]Access // keyed by full method name, e.g. "/grpc.health.v1.Health/Check"
}

// For returns the rule for fullMethod.
func (m MethodAccess) For(fullMethod string) Access {
	if a, ok := m.Methods[fullMethod]; ok {
		return a
	}
	return m.Default
}

// MaterialFromMetadata extracts credential material from gRPC metadata.
func MaterialFromMetadata(md metadata.MD) CredentialMaterial {
	first := func(key string) string {
		if vals := md.Get(key); len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	m := CredentialMaterial{
		APIKey:    first(HeaderAPIKey),
		AccountID: first(HeaderAccountID),
	}
	if v := first(HeaderAuthorization); v != "" {
		m.BearerToken = bearerToken(v)
	}
	return m
}

// StatusError converts a rejection to its uniform gRPC status.
func StatusError(err error) error {
	outcome := OutcomeOf(err)
	return status.Error(outcome.GRPCCode(), outcome.String())
}

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, method string, m CredentialMaterial, err error) {
	if logger == nil {
		return
	}
	attrs := []any{"reason", string(ReasonOf(err)), "method", method, "account_id", m.AccountID}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	attrs = append(attrs, "error", err.Error())
	logger.Warn("auth failure", attrs...)
}

func authenticateCall(ctx context.Context, authn Authenticator, access Access, method string, logger *slog.Logger) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	m := MaterialFromMetadata(md)
	principal, err := authn.Authenticate(ctx, m, access)
	if err != nil {
		logAuthFailure(logger, ctx, method, m, err)
		return nil, StatusError(err)
	}
	return WithPrincipal(ctx, principal), nil
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates requests.
func UnaryInterceptor(authn Authenticator, rules MethodAccess, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateCall(ctx, authn, rules.For(info.FullMethod), info.FullMethod, logger)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates requests.
func StreamInterceptor(authn Authenticator, rules MethodAccess, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateCall(ss.Context(), authn, rules.For(info.FullMethod), info.FullMethod, logger)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// AuthorizeContext checks the Principal attached to ctx may perform op and
// returns the uniform gRPC status on rejection.
func AuthorizeContext(ctx context.Context, authn Authenticator, op Operation) error {
	if err := authn.Authorize(FromContext(ctx), op); err != nil {
		return StatusError(err)
	}
	return nil
}
