package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ServesCounters(t *testing.T) {
	OrdersSubmitted.Add(2)
	RPCByAction.Add("open_position", 1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var vars map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vars))
	for _, name := range []string{"orders_submitted", "orders_failed", "protective_fallbacks", "order_timeouts",
		"positions_closed", "reconnect_attempts", "rpc_requests", "ws_clients", "rpc_by_action"} {
		assert.Contains(t, vars, name)
	}
}

func TestCurrentSnapshot(t *testing.T) {
	before := Current()
	PositionsClosed.Add(3)
	RPCByAction.Add("close_all_positions", 1)

	now := Current()
	assert.Equal(t, before.PositionsClosed+3, now.PositionsClosed)
	assert.Equal(t, before.RPCByAction["close_all_positions"]+1, now.RPCByAction["close_all_positions"])

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/bridge", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, now.PositionsClosed, got.PositionsClosed)
}

func TestStartAsync(t *testing.T) {
	s, err := StartAsync(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err = StartAsync(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	require.NotNil(t, s)

	resp, err := http.Get("http://" + s.Addr + "/debug/vars")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
