package grpcx

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Idempotent lookups retry a few times when the peer is briefly unreachable.
const retryServiceConfig = `{
	"methodConfig": [{
		"name": [{}],
		"retryPolicy": {
			"maxAttempts": 3,
			"initialBackoff": "0.1s",
			"maxBackoff": "1s",
			"backoffMultiplier": 2,
			"retryableStatusCodes": ["UNAVAILABLE"]
		}
	}]
}`

type ClientOptions struct {
	// CallTimeout applies to calls whose context carries no deadline. Zero leaves them unbounded.
	CallTimeout time.Duration
	// Nil means plaintext, which is what the services use inside the cluster network.
	Creds credentials.TransportCredentials
}

// NewClient returns a lazily connecting client conn. Connection problems surface on the
// first call rather than here.
func NewClient(target string, opts ClientOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := opts.Creds
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultServiceConfig(retryServiceConfig),
		grpc.WithChainUnaryInterceptor(
			unaryClientDeadline(opts.CallTimeout),
			unaryClientRequestID(),
		),
	}
	return grpc.NewClient(target, append(dialOpts, extra...)...)
}

// NewServer returns a gRPC server with tracing, request-id propagation, panic recovery and
// per-call logging.
func NewServer(logger *slog.Logger, extra ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			unaryServerRequestID(),
			unaryServerLogging(logger),
			unaryServerRecover(logger),
		),
	}
	return grpc.NewServer(append(opts, extra...)...)
}

func unaryClientDeadline(d time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); !ok && d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
