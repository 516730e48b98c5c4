package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/orderbridge/internal/domain"
	"github.com/betbot/orderbridge/internal/metrics"
	"github.com/betbot/orderbridge/internal/services"
	"github.com/betbot/orderbridge/internal/symbolmap"
	"github.com/betbot/orderbridge/internal/venue/paper"
	"github.com/betbot/orderbridge/pkg/config"
	"github.com/betbot/orderbridge/pkg/executor"
	"github.com/betbot/orderbridge/pkg/persistence"
)

type fixture struct {
	srv   *Server
	venue *paper.Adapter
	store *persistence.MemoryStore
}

func newFixture(t *testing.T, cfg config.ServerConfig) *fixture {
	t.Helper()
	pv := paper.New(config.PaperConfig{})
	require.NoError(t, pv.Connect(context.Background()))

	store := &persistence.MemoryStore{}
	tr, err := symbolmap.New(store)
	require.NoError(t, err)

	pool := executor.NewPool(32, 4)
	pool.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	timeout := 5 * time.Second
	srv := New(cfg, Deps{
		Orders:    services.NewOrderService(pv, tr, pool, services.OrderServiceConfig{Timeout: timeout, DefaultStopLossPct: 10}),
		Positions: services.NewPositionService(pv, tr, pool, timeout),
		Accounts:  services.NewAccountService(config.VenuePaper, pv, tr, pool, timeout),
		Mappings:  tr,
	})
	return &fixture{srv: srv, venue: pv, store: store}
}

func (f *fixture) call(t *testing.T, action string, params map[string]interface{}) Response {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"action": action, "params": params})
	require.NoError(t, err)
	return f.srv.Dispatch(context.Background(), "test", body)
}

func TestDispatch_InvalidJSONAndUnknownAction(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	resp := f.srv.Dispatch(context.Background(), "test", []byte("{not json"))
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "invalid JSON", resp.Message)

	before := metrics.RPCRequests.Value()
	resp = f.srv.Dispatch(context.Background(), "test", []byte(`{"id":7,"action":"fly_to_moon"}`))
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Message, "fly_to_moon")
	assert.JSONEq(t, "7", string(resp.ID))
	assert.Equal(t, before+1, metrics.RPCRequests.Value())
}

func TestOpenPosition_MappedSymbolThroughToClose(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	resp := f.call(t, "add_symbol_mapping", map[string]interface{}{
		"external_symbol": "XBT", "mt5_symbol": "BTCUSDT", "volume_ratio": 0.5,
	})
	require.Equal(t, StatusSuccess, resp.Status, resp.Message)
	assert.Equal(t, 1, f.store.Saves)

	resp = f.call(t, "open_position", map[string]interface{}{"symbol": "XBT@Feed", "volume": 0.02})
	require.Equal(t, StatusSuccess, resp.Status, resp.Message)
	out, ok := resp.Data.(*domain.OrderOutcome)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", out.Symbol)
	assert.Equal(t, domain.SideBuy, out.Side)
	assert.Equal(t, 0.01, out.Volume)
	// 默认 10% 止损，按 0.1 取整
	assert.Equal(t, 45000.5, out.StopLoss)

	resp = f.call(t, "get_positions", map[string]interface{}{"symbol": "XBT"})
	require.Equal(t, StatusSuccess, resp.Status, resp.Message)
	list := resp.Data.([]domain.Position)
	require.Len(t, list, 1)
	assert.Equal(t, "XBT", list[0].OriginalSymbol)

	resp = f.call(t, "close_positions_by_symbol", map[string]interface{}{"symbol": "XBT"})
	require.Equal(t, StatusSuccess, resp.Status, resp.Message)
	rep := resp.Data.(*services.CloseReport)
	assert.Equal(t, 1, rep.Total)

	resp = f.call(t, "get_positions", nil)
	require.Equal(t, StatusSuccess, resp.Status)
	assert.Empty(t, resp.Data)
	assert.NotNil(t, resp.Data)
}

func TestOpenPosition_ProtectiveFallback(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	f.venue.RejectStops(1)

	resp := f.call(t, "open_position", map[string]interface{}{
		"symbol": "EURUSD", "volume": "0.1", "order_type": "SELL", "profit_amount": 20,
	})
	require.Equal(t, StatusSuccess, resp.Status, resp.Message)
	out := resp.Data.(*domain.OrderOutcome)
	assert.True(t, out.ProtectionDropped)
	assert.Equal(t, domain.SideSell, out.Side)
	assert.Zero(t, out.TakeProfit)
}

func TestOpenPosition_Validation(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	cases := []map[string]interface{}{
		{"symbol": "BTCUSDT"},
		{"volume": 1},
		{"symbol": "BTCUSDT", "volume": "abc"},
		{"symbol": "BTCUSDT", "volume": 1, "order_type": "SIDEWAYS"},
		{"symbol": "BTCUSDT", "volume": 0},
	}
	for _, params := range cases {
		resp := f.call(t, "open_position", params)
		assert.Equal(t, StatusError, resp.Status, "%v", params)
		assert.Equal(t, "validation", resp.ErrorKind, "%v: %s", params, resp.Message)
	}
}

func TestOpenPosition_RejectsNonFiniteNumbers(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	for _, key := range []string{"volume", "price", "sl", "tp", "profit_amount"} {
		for _, bad := range []string{"NaN", "Inf", "-Inf", "+Inf", "nan"} {
			params := map[string]interface{}{"symbol": "BTCUSDT", "volume": 0.01}
			params[key] = bad
			resp := f.call(t, "open_position", params)
			assert.Equal(t, StatusError, resp.Status, "%s=%s", key, bad)
			assert.Equal(t, "validation", resp.ErrorKind, "%s=%s: %s", key, bad, resp.Message)
			assert.Contains(t, resp.Message, key)

			_, err := json.Marshal(resp)
			require.NoError(t, err, "%s=%s", key, bad)
		}
	}

	list, err := f.venue.ListPositions(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClosePositionByTicket(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	resp := f.call(t, "close_position_by_ticket", map[string]interface{}{"ticket": 999})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "validation", resp.ErrorKind)

	resp = f.call(t, "open_position", map[string]interface{}{"symbol": "BTCUSDT", "volume": -0.002})
	require.Equal(t, StatusSuccess, resp.Status, resp.Message)
	ticket := resp.Data.(*domain.OrderOutcome).OrderID

	resp = f.call(t, "close_position_by_ticket", map[string]interface{}{"ticket": ticket})
	require.Equal(t, StatusSuccess, resp.Status, resp.Message)

	resp = f.call(t, "close_all_positions", nil)
	require.Equal(t, StatusSuccess, resp.Status, resp.Message)
	assert.Equal(t, 0, resp.Data.(*services.CloseReport).Total)
}

func TestSymbolMappingActions(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	resp := f.call(t, "add_symbol_mapping", map[string]interface{}{"external_symbol": "XAU"})
	assert.Equal(t, "validation", resp.ErrorKind)

	resp = f.call(t, "add_symbol_mapping", map[string]interface{}{"external_symbol": "XAU", "venue_symbol": "XAUUSD", "volume_ratio": 0})
	assert.Equal(t, "validation", resp.ErrorKind)

	resp = f.call(t, "add_symbol_mapping", map[string]interface{}{"external_symbol": "XAU", "venue_symbol": "XAUUSD"})
	require.Equal(t, StatusSuccess, resp.Status, resp.Message)

	resp = f.call(t, "get_symbol_mappings", nil)
	b, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"XAU":{"venue_id":"XAUUSD","volume_ratio":1}}`, string(b))

	resp = f.call(t, "remove_symbol_mapping", map[string]interface{}{"external_symbol": "XAG"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Message, "XAG")

	resp = f.call(t, "remove_symbol_mapping", map[string]interface{}{"external_symbol": "XAU"})
	require.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, 2, f.store.Saves)
}

func TestHealthCheckAndAccount(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	resp := f.call(t, "health_check", nil)
	require.Equal(t, StatusSuccess, resp.Status)
	assert.True(t, resp.Data.(services.Health).Connected)

	resp = f.call(t, "get_account_info", nil)
	require.Equal(t, StatusSuccess, resp.Status, resp.Message)
	assert.Equal(t, 10000.0, resp.Data.(*domain.AccountInfo).Balance)

	kicks := 0
	f.srv.onConnErr = func() { kicks++ }

	require.NoError(t, f.venue.Close())
	resp = f.call(t, "health_check", nil)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "connectivity", resp.ErrorKind)

	resp = f.call(t, "get_account_info", nil)
	assert.Equal(t, "connectivity", resp.ErrorKind)
	assert.Equal(t, 2, kicks)
}

func TestDispatch_DuplicateInFlightID(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	require.NoError(t, f.srv.dedup.TryAcquire("conn-1/abc"))

	resp := f.srv.Dispatch(context.Background(), "conn-1", []byte(`{"id":"abc","action":"health_check"}`))
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "validation", resp.ErrorKind)
	assert.JSONEq(t, `"abc"`, string(resp.ID))

	// 其它连接可以使用相同 id
	resp = f.srv.Dispatch(context.Background(), "conn-2", []byte(`{"id":"abc","action":"health_check"}`))
	assert.Equal(t, StatusSuccess, resp.Status)

	f.srv.dedup.Release("conn-1/abc")
	resp = f.srv.Dispatch(context.Background(), "conn-1", []byte(`{"id":"abc","action":"health_check"}`))
	assert.Equal(t, StatusSuccess, resp.Status)
}

type wireResponse struct {
	ID             json.RawMessage `json:"id"`
	Status         string          `json:"status"`
	Message        string          `json:"message"`
	Data           json.RawMessage `json:"data"`
	Venue          string          `json:"venue"`
	VenueConnected bool            `json:"venue_connected"`
}

func TestWebSocket_WelcomeAndConcurrentRequests(t *testing.T) {
	f := newFixture(t, config.ServerConfig{PingIntervalSeconds: 1, PongTimeoutSeconds: 3})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var welcome wireResponse
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, StatusSuccess, welcome.Status)
	assert.Equal(t, config.VenuePaper, welcome.Venue)
	assert.True(t, welcome.VenueConnected)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"action":"get_account_info"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"b","action":"open_position","params":{"symbol":"BTCUSDT","volume":0.001}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))

	got := map[string]wireResponse{}
	for i := 0; i < 3; i++ {
		var r wireResponse
		require.NoError(t, conn.ReadJSON(&r))
		got[string(r.ID)] = r
	}
	assert.Equal(t, StatusSuccess, got["1"].Status)
	assert.Equal(t, StatusSuccess, got[`"b"`].Status, got[`"b"`].Message)
	assert.Equal(t, "invalid JSON", got[""].Message)

	var out domain.OrderOutcome
	require.NoError(t, json.Unmarshal(got[`"b"`].Data, &out))
	assert.Equal(t, "BTCUSDT", out.Symbol)
	assert.Equal(t, 0.001, out.Volume)

	assert.Eventually(t, func() bool { return f.srv.hub.count() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.srv.hub.count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_HandlerPanicAndUnencodableReply(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	f.srv.handlers["explode"] = func(context.Context, Params) Response { panic("boom") }
	f.srv.handlers["nan_reply"] = func(context.Context, Params) Response {
		return ok("done", map[string]float64{"sl": math.NaN()})
	}

	resp := f.srv.Dispatch(context.Background(), "test", []byte(`{"id":"p1","action":"explode"}`))
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "unknown", resp.ErrorKind)
	assert.Contains(t, resp.Message, "boom")
	// 失败后 id 可以复用
	resp = f.srv.Dispatch(context.Background(), "test", []byte(`{"id":"p1","action":"health_check"}`))
	assert.Equal(t, StatusSuccess, resp.Status, resp.Message)

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var welcome wireResponse
	require.NoError(t, conn.ReadJSON(&welcome))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"x","action":"explode"}`)))
	var r wireResponse
	require.NoError(t, conn.ReadJSON(&r))
	assert.JSONEq(t, `"x"`, string(r.ID))
	assert.Equal(t, StatusError, r.Status)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"n","action":"nan_reply"}`)))
	r = wireResponse{}
	require.NoError(t, conn.ReadJSON(&r))
	assert.JSONEq(t, `"n"`, string(r.ID))
	assert.Equal(t, StatusError, r.Status)
	assert.Contains(t, r.Message, "序列化响应失败")

	// 连接仍然可用
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"h","action":"health_check"}`)))
	r = wireResponse{}
	require.NoError(t, conn.ReadJSON(&r))
	assert.Equal(t, StatusSuccess, r.Status)
}

func TestWebSocket_RejectsUnknownOrigin(t *testing.T) {
	f := newFixture(t, config.ServerConfig{AllowedOrigins: []string{"http://ok.example"}})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://ok.example"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestHTTP_RPCAndHealthz(t *testing.T) {
	f := newFixture(t, config.ServerConfig{AllowedOrigins: []string{"http://ok.example"}})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/api/rpc", "application/json",
		bytes.NewBufferString(`{"id":"x1","action":"get_symbol_mappings"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var r wireResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&r))
	assert.Equal(t, StatusSuccess, r.Status)
	assert.JSONEq(t, `"x1"`, string(r.ID))
	assert.JSONEq(t, `{}`, string(r.Data))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://ok.example")
	hres, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer hres.Body.Close()
	assert.Equal(t, http.StatusOK, hres.StatusCode)
	assert.Equal(t, "http://ok.example", hres.Header.Get("Access-Control-Allow-Origin"))

	require.NoError(t, f.venue.Close())
	hres2, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer hres2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, hres2.StatusCode)
}

func TestStartAndShutdown(t *testing.T) {
	f := newFixture(t, config.ServerConfig{Listen: "127.0.0.1:0", PingIntervalSeconds: 1, PongTimeoutSeconds: 3})
	require.NoError(t, f.srv.Start())
	require.NotEmpty(t, f.srv.Addr())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+f.srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	var welcome wireResponse
	require.NoError(t, conn.ReadJSON(&welcome))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
