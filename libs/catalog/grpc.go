package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/grpcx"
	"github.com/md-rashed-zaman/studiobook/libs/i18n"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages are google.protobuf.Struct values so the API needs no generated code:
//
//	GetService  {"id"} -> {"id", "duration_minutes", "name": {"de": ..., "en": ...}}
//	GetProvider {"id"} -> {"id", "name", "active"}
const (
	ServiceName       = "catalog.v1.CatalogService"
	methodGetService  = "/" + ServiceName + "/GetService"
	methodGetProvider = "/" + ServiceName + "/GetProvider"
)

type catalogServer interface {
	getService(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	getProvider(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*catalogServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetService", Handler: unaryHandler(methodGetService, catalogServer.getService)},
		{MethodName: "GetProvider", Handler: unaryHandler(methodGetProvider, catalogServer.getProvider)},
	},
	Metadata: "catalog/v1/catalog.proto",
}

// RegisterServer exposes store on s.
func RegisterServer(s grpc.ServiceRegistrar, store Store) {
	s.RegisterService(&serviceDesc, &server{store: store})
}

func unaryHandler(fullMethod string, call func(catalogServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(catalogServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(catalogServer), ctx, req.(*structpb.Struct))
		})
	}
}

type server struct {
	store Store
}

func (s *server) getService(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	svc, err := s.store.GetService(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	name := make(map[string]any, len(svc.Name))
	for lang, v := range svc.Name {
		name[lang] = v
	}
	out, err := structpb.NewStruct(map[string]any{
		"id":               svc.ID,
		"duration_minutes": svc.DurationMinutes,
		"name":             name,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *server) getProvider(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	p, err := s.store.GetProvider(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"id":     p.ID,
		"name":   p.Name,
		"active": p.Active,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	if errors.Is(err, ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// GRPCClient implements Store against a remote catalog-service.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// NewGRPCClient connects lazily; callTimeout bounds lookups made without a deadline.
func NewGRPCClient(addr string, callTimeout time.Duration) (*GRPCClient, error) {
	conn, err := grpcx.NewClient(addr, grpcx.ClientOptions{CallTimeout: callTimeout})
	if err != nil {
		return nil, err
	}
	return &GRPCClient{conn: conn}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) GetService(ctx context.Context, id string) (Service, error) {
	out, err := c.invoke(ctx, methodGetService, id)
	if err != nil {
		return Service{}, fromStatus(err, "service", id)
	}
	f := out.GetFields()
	svc := Service{
		ID:              f["id"].GetStringValue(),
		DurationMinutes: int(f["duration_minutes"].GetNumberValue()),
		Name:            i18n.Text{},
	}
	for lang, v := range f["name"].GetStructValue().GetFields() {
		svc.Name[lang] = v.GetStringValue()
	}
	return svc, nil
}

func (c *GRPCClient) GetProvider(ctx context.Context, id string) (Provider, error) {
	out, err := c.invoke(ctx, methodGetProvider, id)
	if err != nil {
		return Provider{}, fromStatus(err, "provider", id)
	}
	f := out.GetFields()
	return Provider{
		ID:     f["id"].GetStringValue(),
		Name:   f["name"].GetStringValue(),
		Active: f["active"].GetBoolValue(),
	}, nil
}

func (c *GRPCClient) invoke(ctx context.Context, method, id string) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromStatus(err error, kind, id string) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return fmt.Errorf("catalog %s lookup: %w", kind, err)
}
