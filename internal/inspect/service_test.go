package inspect

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yanet-platform/nd6/internal/ds6"
	"github.com/yanet-platform/nd6/internal/gateway"
	"github.com/yanet-platform/nd6/internal/lladdr"
	"github.com/yanet-platform/nd6/internal/nbr"
	"github.com/yanet-platform/nd6/internal/nd"
	"github.com/yanet-platform/nd6/internal/rib"
	"github.com/yanet-platform/nd6/internal/rpl"
	"github.com/yanet-platform/nd6/internal/timer"
)

type sourceFunc func(ctx context.Context) (State, error)

func (m sourceFunc) State(ctx context.Context) (State, error) {
	return m(ctx)
}

func dial(t *testing.T, src Source) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 16)
	srv := NewGRPCServer("", src, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, lis)
	}()

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return NewClient(conn)
}

func TestRoutes(t *testing.T) {
	nexthop := netip.MustParseAddr("fe80::212:4b00:0:1")
	src := sourceFunc(func(context.Context) (State, error) {
		return State{
			Routes: []rib.Route{
				{
					Prefix:      netip.MustParsePrefix("2001:db8:1::/64"),
					NextHop:     nexthop,
					DAG:         rib.DAGKey{Instance: 30, DODAG: netip.MustParseAddr("2001:db8::1")},
					Lifetime:    120,
					LearnedFrom: rib.SourceUnicastDAO,
				},
			},
			DefaultRoutes: []rib.DefaultRoute{
				{NextHop: nexthop, Lifetime: 30 * time.Second},
			},
		}, nil
	})

	client := dial(t, src)
	resp, err := client.Call(context.Background(), "Routes")
	require.NoError(t, err)

	routes := resp.GetFields()["routes"].GetListValue().GetValues()
	require.Len(t, routes, 1)
	route := routes[0].GetStructValue().GetFields()
	assert.Equal(t, "2001:db8:1::/64", route["prefix"].GetStringValue())
	assert.Equal(t, nexthop.String(), route["nexthop"].GetStringValue())
	assert.Equal(t, "30/2001:db8::1", route["dag"].GetStringValue())
	assert.Equal(t, float64(120), route["lifetime"].GetNumberValue())
	assert.Equal(t, "unicast-dao", route["source"].GetStringValue())

	defaults := resp.GetFields()["default_routes"].GetListValue().GetValues()
	require.Len(t, defaults, 1)
	assert.Equal(t, float64(30), defaults[0].GetStructValue().GetFields()["lifetime"].GetNumberValue())
}

func TestNeighbours(t *testing.T) {
	clock := timer.NewManualClock(time.Unix(1000, 0))
	ll := lladdr.MustParse("00:12:4b:00:00:00:00:01")
	iface := ds6.NewInterface("wpan0", ll, 1280, ds6.WithClock(clock))
	cache := nbr.NewCache(4)
	engine := nd.NewEngine(nd.DefaultConfig(), iface, cache, nd.SixLo())

	peer := netip.MustParseAddr("fe80::212:4b00:0:2")
	e, err := cache.Add(peer, lladdr.MustParse("00:12:4b:00:00:00:00:02"), true, nbr.Reachable)
	require.NoError(t, err)
	e.Reachable.Set(clock.Now(), 30*time.Second)

	state := State{Interfaces: []Interface{CaptureInterface("wpan0", engine, clock.Now().Add(10*time.Second))}}
	client := dial(t, sourceFunc(func(context.Context) (State, error) {
		return state, nil
	}))

	resp, err := client.Call(context.Background(), "Neighbours")
	require.NoError(t, err)

	ifaces := resp.GetFields()["interfaces"].GetListValue().GetValues()
	require.Len(t, ifaces, 1)
	fields := ifaces[0].GetStructValue().GetFields()
	assert.Equal(t, "wpan0", fields["name"].GetStringValue())
	assert.Equal(t, nd.VariantSixLo.String(), fields["variant"].GetStringValue())

	neighbours := fields["neighbours"].GetListValue().GetValues()
	require.Len(t, neighbours, 1)
	n := neighbours[0].GetStructValue().GetFields()
	assert.Equal(t, peer.String(), n["addr"].GetStringValue())
	assert.Equal(t, "REACHABLE", n["state"].GetStringValue())
	assert.True(t, n["router"].GetBoolValue())
	assert.Equal(t, float64(20), n["remaining"].GetNumberValue())
}

func TestBridge(t *testing.T) {
	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	client := dial(t, sourceFunc(func(context.Context) (State, error) {
		return State{Bridge: []gateway.Entry{
			{
				Addr:  netip.MustParseAddr("2001:db8::5"),
				State: gateway.StateReachable,
				Side:  gateway.KindEthernet,
				Seen:  seen,
			},
		}}, nil
	}))

	resp, err := client.Call(context.Background(), "Bridge")
	require.NoError(t, err)
	entries := resp.GetFields()["entries"].GetListValue().GetValues()
	require.Len(t, entries, 1)
	e := entries[0].GetStructValue().GetFields()
	assert.Equal(t, "ethernet", e["side"].GetStringValue())
	assert.Equal(t, "REACHABLE", e["state"].GetStringValue())
	assert.Equal(t, "2026-01-02T03:04:05Z", e["seen"].GetStringValue())
}

func TestRPL(t *testing.T) {
	tests := []struct {
		name  string
		state State
		check func(t *testing.T, fields map[string]*structpb.Value)
	}{
		{
			name:  "Disabled",
			state: State{},
			check: func(t *testing.T, fields map[string]*structpb.Value) {
				assert.False(t, fields["enabled"].GetBoolValue())
				assert.Len(t, fields, 1)
			},
		},
		{
			name: "Member",
			state: State{RPL: &RPL{
				Instance:      30,
				DODAG:         netip.MustParseAddr("2001:db8::1"),
				Rank:          512,
				Parent:        netip.MustParseAddr("fe80::212:7401:1:101"),
				Mode:          rpl.ModeMesh,
				Sources:       []uint16{0x0101, 0x0202},
				DAOScheduled:  true,
				PendingNoPath: 2,
			}},
			check: func(t *testing.T, fields map[string]*structpb.Value) {
				assert.True(t, fields["enabled"].GetBoolValue())
				assert.Equal(t, float64(30), fields["instance"].GetNumberValue())
				assert.Equal(t, "2001:db8::1", fields["dodag"].GetStringValue())
				assert.Equal(t, float64(512), fields["rank"].GetNumberValue())
				assert.Equal(t, "fe80::212:7401:1:101", fields["parent"].GetStringValue())
				assert.Equal(t, "mesh", fields["mode"].GetStringValue())
				assert.True(t, fields["dao_scheduled"].GetBoolValue())
				assert.Equal(t, float64(2), fields["pending_no_path"].GetNumberValue())

				sources := fields["sources"].GetListValue().GetValues()
				require.Len(t, sources, 2)
				assert.Equal(t, float64(0x0202), sources[1].GetNumberValue())
			},
		},
		{
			name: "Root",
			state: State{RPL: &RPL{
				Instance: 30,
				DODAG:    netip.MustParseAddr("2001:db8::1"),
				Mode:     rpl.ModeFeather,
			}},
			check: func(t *testing.T, fields map[string]*structpb.Value) {
				assert.Empty(t, fields["parent"].GetStringValue())
				assert.Empty(t, fields["sources"].GetListValue().GetValues())
				assert.False(t, fields["dao_scheduled"].GetBoolValue())
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := dial(t, sourceFunc(func(context.Context) (State, error) {
				return test.state, nil
			}))

			resp, err := client.Call(context.Background(), "RPL")
			require.NoError(t, err)
			test.check(t, resp.GetFields())
		})
	}
}

func TestUnavailable(t *testing.T) {
	client := dial(t, sourceFunc(func(context.Context) (State, error) {
		return State{}, errors.New("loop stopped")
	}))

	for _, method := range Methods {
		t.Run(method, func(t *testing.T) {
			_, err := client.Call(context.Background(), method)
			require.Error(t, err)
			assert.Equal(t, codes.Unavailable, status.Code(err))
		})
	}
}

func TestUnknownMethod(t *testing.T) {
	client := dial(t, sourceFunc(func(context.Context) (State, error) {
		return State{}, nil
	}))

	_, err := client.Call(context.Background(), "Reboot")
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
