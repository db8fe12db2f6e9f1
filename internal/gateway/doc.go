// Package gateway orchestrates the scheduler-gateway server components.
//
// # Overview
//
// The gateway owns the account store, the optional Redis key cache, the
// account service and the authentication pipeline, and serves them over
// HTTP and (optionally) gRPC.
//
// Store selection follows database.driver: "sqlite" (default), "postgres"
// or "memory". When cache.redis.enabled is set, every key-slot read and
// write goes through keycache.Store in front of the account store.
//
// # HTTP API
//
//   - POST /api/v1/account - Create an account (public, gated by auth.account_creation)
//   - GET /api/v1/account - Describe the calling account (x-api-key)
//   - PUT /api/v1/account/pubkey - Set or remove the public key (x-api-key)
//   - GET /api/v1/me - Describe the end user (nettu-account + bearer token)
//   - POST /api/v1/authorize - Check a capability (nettu-account, token optional)
//   - GET /health - Liveness check
//   - GET /health/ready - Store and cache reachability
//   - GET /metrics - Prometheus metrics (when metrics.enabled)
//
// Authentication failures are answered with {"error": "<outcome>"} only.
//
// # gRPC
//
// When server.grpc_addr is set a gRPC server is started with the auth
// interceptors installed and the standard health service registered. The
// health service is public; everything registered through GRPCServer()
// requires a user-plane credential.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run shuts down gracefully with a 5 second budget.
package gateway
