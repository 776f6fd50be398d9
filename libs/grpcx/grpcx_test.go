package grpcx

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/catalog.v1.CatalogService/GetService"}

func TestServerRequestID(t *testing.T) {
	cases := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{name: "adopted", inbound: "req-123", keep: true},
		{name: "missing", inbound: ""},
		{name: "malformed", inbound: "has space"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.inbound != "" {
				ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(RequestIDMetadataKey, tc.inbound))
			}
			var seen string
			_, err := unaryServerRequestID()(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
				seen = httpx.RequestIDFromContext(ctx)
				return nil, nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.keep && seen != tc.inbound {
				t.Fatalf("request id = %q, want %q", seen, tc.inbound)
			}
			if !tc.keep && (seen == tc.inbound || !httpx.ValidRequestID(seen)) {
				t.Fatalf("expected a minted id, got %q", seen)
			}
		})
	}
}

func TestServerRecover(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := unaryServerRecover(logger)(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestClientDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		deadline, ok = ctx.Deadline()
		return nil
	}

	_ = unaryClientDeadline(time.Second)(context.Background(), "/m", nil, nil, nil, invoker)
	if !ok || time.Until(deadline) > time.Second {
		t.Fatalf("expected a call deadline within 1s, got %v %v", deadline, ok)
	}

	parent, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	_ = unaryClientDeadline(time.Second)(parent, "/m", nil, nil, nil, invoker)
	if time.Until(deadline) < 30*time.Second {
		t.Fatalf("caller deadline should win, got %v", time.Until(deadline))
	}
}

func TestClientRequestID(t *testing.T) {
	ctx := httpx.ContextWithRequestID(context.Background(), "req-9")
	var got []string
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		got = md.Get(RequestIDMetadataKey)
		return nil
	}
	_ = unaryClientRequestID()(ctx, "/m", nil, nil, nil, invoker)
	if len(got) != 1 || got[0] != "req-9" {
		t.Fatalf("outgoing request id = %v", got)
	}
}
