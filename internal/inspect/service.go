package inspect

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yanet-platform/nd6/internal/gateway"
	"github.com/yanet-platform/nd6/internal/rib"
)

// ServiceName is the fully qualified name of the inspect service.
const ServiceName = "nd6.Inspect"

// Server is the server API of the inspect service.
//
// Every method answers with a Struct holding a single list, keyed by what
// was asked for.
type Server interface {
	Neighbours(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Addresses(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Prefixes(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Routers(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Routes(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Bridge(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RPL(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Methods lists the unary methods in the order they are registered.
var Methods = []string{"Neighbours", "Addresses", "Prefixes", "Routers", "Routes", "Bridge", "RPL"}

// ServiceDesc is the grpc.ServiceDesc for the inspect service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Neighbours", Handler: unaryHandler(Server.Neighbours, "Neighbours")},
		{MethodName: "Addresses", Handler: unaryHandler(Server.Addresses, "Addresses")},
		{MethodName: "Prefixes", Handler: unaryHandler(Server.Prefixes, "Prefixes")},
		{MethodName: "Routers", Handler: unaryHandler(Server.Routers, "Routers")},
		{MethodName: "Routes", Handler: unaryHandler(Server.Routes, "Routes")},
		{MethodName: "Bridge", Handler: unaryHandler(Server.Bridge, "Bridge")},
		{MethodName: "RPL", Handler: unaryHandler(Server.RPL, "RPL")},
	},
	Streams: []grpc.StreamDesc{},
}

type unaryMethod func(Server, context.Context, *emptypb.Empty) (*structpb.Struct, error)

func unaryHandler(fn unaryMethod, name string) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(Server), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(Server), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Service implements Server over a Source.
type Service struct {
	src Source
}

// NewService creates the inspect service.
func NewService(src Source) *Service {
	return &Service{src: src}
}

func (m *Service) state(ctx context.Context) (State, error) {
	state, err := m.src.State(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return State{}, status.FromContextError(ctx.Err()).Err()
		}
		return State{}, status.Errorf(codes.Unavailable, "failed to capture state: %v", err)
	}
	return state, nil
}

// perInterface renders one list per interface, keyed by the interface name.
func (m *Service) perInterface(ctx context.Context, key string, fn func(Interface) []any) (*structpb.Struct, error) {
	state, err := m.state(ctx)
	if err != nil {
		return nil, err
	}

	ifaces := make([]any, 0, len(state.Interfaces))
	for _, iface := range state.Interfaces {
		ifaces = append(ifaces, map[string]any{
			"name":    iface.Name,
			"variant": iface.Variant.String(),
			key:       fn(iface),
		})
	}
	return newStruct(map[string]any{"interfaces": ifaces})
}

func (m *Service) Neighbours(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return m.perInterface(ctx, "neighbours", func(iface Interface) []any {
		out := make([]any, 0, len(iface.Neighbours))
		for _, n := range iface.Neighbours {
			out = append(out, map[string]any{
				"addr":      n.Addr.String(),
				"lladdr":    n.LinkAddr.String(),
				"state":     n.State.String(),
				"reg_state": n.RegState.String(),
				"router":    n.IsRouter,
				"remaining": seconds(n.Remaining),
			})
		}
		return out
	})
}

func (m *Service) Addresses(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return m.perInterface(ctx, "addresses", func(iface Interface) []any {
		out := make([]any, 0, len(iface.Addresses))
		for _, a := range iface.Addresses {
			out = append(out, map[string]any{
				"addr":      a.Addr.String(),
				"state":     a.State,
				"type":      a.Type,
				"infinite":  a.Infinite,
				"remaining": seconds(a.Remaining),
			})
		}
		return out
	})
}

func (m *Service) Prefixes(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return m.perInterface(ctx, "prefixes", func(iface Interface) []any {
		out := make([]any, 0, len(iface.Prefixes))
		for _, p := range iface.Prefixes {
			out = append(out, map[string]any{
				"prefix":     p.Prefix.String(),
				"on_link":    p.OnLink,
				"autonomous": p.Autonomous,
				"advertise":  p.Advertise,
				"infinite":   p.Infinite,
				"remaining":  seconds(p.Remaining),
			})
		}
		return out
	})
}

func (m *Service) Routers(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return m.perInterface(ctx, "routers", func(iface Interface) []any {
		out := make([]any, 0, len(iface.Routers))
		for _, r := range iface.Routers {
			out = append(out, map[string]any{
				"addr":      r.Addr.String(),
				"infinite":  r.Infinite,
				"remaining": seconds(r.Remaining),
			})
		}
		return out
	})
}

func (m *Service) Routes(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	state, err := m.state(ctx)
	if err != nil {
		return nil, err
	}

	return newStruct(map[string]any{
		"routes":         routeList(state.Routes),
		"default_routes": defaultRouteList(state.DefaultRoutes),
	})
}

func (m *Service) Bridge(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	state, err := m.state(ctx)
	if err != nil {
		return nil, err
	}

	return newStruct(map[string]any{
		"entries": bridgeList(state.Bridge),
	})
}

func (m *Service) RPL(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	state, err := m.state(ctx)
	if err != nil {
		return nil, err
	}

	r := state.RPL
	if r == nil {
		return newStruct(map[string]any{"enabled": false})
	}

	parent := ""
	if r.Parent.IsValid() {
		parent = r.Parent.String()
	}
	sources := make([]any, 0, len(r.Sources))
	for _, id := range r.Sources {
		sources = append(sources, float64(id))
	}
	return newStruct(map[string]any{
		"enabled":         true,
		"instance":        float64(r.Instance),
		"dodag":           r.DODAG.String(),
		"rank":            float64(r.Rank),
		"parent":          parent,
		"mode":            r.Mode.String(),
		"sources":         sources,
		"dao_scheduled":   r.DAOScheduled,
		"pending_no_path": float64(r.PendingNoPath),
	})
}

func routeList(routes []rib.Route) []any {
	out := make([]any, 0, len(routes))
	for _, r := range routes {
		out = append(out, map[string]any{
			"prefix":   r.Prefix.String(),
			"nexthop":  r.NextHop.String(),
			"dag":      r.DAG.String(),
			"lifetime": r.Lifetime,
			"source":   r.LearnedFrom.String(),
		})
	}
	return out
}

func defaultRouteList(routes []rib.DefaultRoute) []any {
	out := make([]any, 0, len(routes))
	for _, r := range routes {
		out = append(out, map[string]any{
			"nexthop":  r.NextHop.String(),
			"lifetime": seconds(r.Lifetime),
		})
	}
	return out
}

func bridgeList(entries []gateway.Entry) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"addr":  e.Addr.String(),
			"state": e.State.String(),
			"side":  e.Side.String(),
			"seen":  e.Seen.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

func newStruct(v map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

// Client calls the inspect service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient creates an inspect client over conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes one of Methods.
func (m *Client) Call(ctx context.Context, method string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	fullMethod := "/" + ServiceName + "/" + method
	if err := m.conn.Invoke(ctx, fullMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", fullMethod, err)
	}
	return out, nil
}
