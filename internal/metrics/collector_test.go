package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/nd6/internal/gateway"
	"github.com/yanet-platform/nd6/internal/nd"
	"github.com/yanet-platform/nd6/internal/rpl"
)

type sourceFunc func(ctx context.Context) (Snapshot, error)

func (m sourceFunc) Snapshot(ctx context.Context) (Snapshot, error) {
	return m(ctx)
}

func scrape(t *testing.T, src Source) (int, string) {
	t.Helper()

	srv := httptest.NewServer(Handler(NewCollector(src)))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestCollect(t *testing.T) {
	src := sourceFunc(func(context.Context) (Snapshot, error) {
		return Snapshot{
			Interfaces: []Interface{
				{
					Name: "wpan0",
					ND: nd.Stats{
						NS:        nd.Counters{Recv: 7, Sent: 2, Drop: 1},
						DADFailed: 1,
					},
					Neighbors:  3,
					CacheLimit: 16,
				},
			},
			Routes:     4,
			RouteLimit: 32,
			RPL:        &rpl.Stats{NoPathDAOs: 5},
			Bridge:     &gateway.Stats{Proxied: 9},
			BridgeLen:  2,
		}, nil
	})

	code, body := scrape(t, src)
	require.Equal(t, http.StatusOK, code)

	for _, line := range []string{
		`nd6_messages_total{iface="wpan0",outcome="received",type="ns"} 7`,
		`nd6_messages_total{iface="wpan0",outcome="sent",type="ns"} 2`,
		`nd6_messages_total{iface="wpan0",outcome="dropped",type="ns"} 1`,
		`nd6_dad_failed_total{iface="wpan0"} 1`,
		`nd6_neighbors{iface="wpan0"} 3`,
		`nd6_neighbors_limit{iface="wpan0"} 16`,
		`nd6_routes 4`,
		`nd6_routes_limit 32`,
		`nd6_rpl_no_path_dao_total 5`,
		`nd6_bridge_proxied_total 9`,
		`nd6_bridge_entries 2`,
	} {
		assert.Contains(t, body, line)
	}
}

func TestCollectWithoutOptionalParts(t *testing.T) {
	src := sourceFunc(func(context.Context) (Snapshot, error) {
		return Snapshot{RouteLimit: 8}, nil
	})

	code, body := scrape(t, src)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "nd6_routes_limit 8")
	assert.NotContains(t, body, "nd6_rpl_")
	assert.NotContains(t, body, "nd6_bridge_")
}

func TestCollectError(t *testing.T) {
	src := sourceFunc(func(context.Context) (Snapshot, error) {
		return Snapshot{}, errors.New("loop is gone")
	})

	code, _ := scrape(t, src)
	assert.Equal(t, http.StatusInternalServerError, code)
}
