package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/sirupsen/logrus"
)

var debugLog = logrus.WithField("component", "metrics")

// Snapshot 交易桥计数器的当前值
type Snapshot struct {
	OrdersSubmitted     int64            `json:"orders_submitted"`
	OrdersFailed        int64            `json:"orders_failed"`
	ProtectiveFallbacks int64            `json:"protective_fallbacks"`
	OrderTimeouts       int64            `json:"order_timeouts"`
	PositionsClosed     int64            `json:"positions_closed"`
	ReconnectAttempts   int64            `json:"reconnect_attempts"`
	RPCRequests         int64            `json:"rpc_requests"`
	WSClients           int64            `json:"ws_clients"`
	RPCByAction         map[string]int64 `json:"rpc_by_action"`
}

// Current 读取所有计数器
func Current() Snapshot {
	s := Snapshot{
		OrdersSubmitted:     OrdersSubmitted.Value(),
		OrdersFailed:        OrdersFailed.Value(),
		ProtectiveFallbacks: ProtectiveFallbacks.Value(),
		OrderTimeouts:       OrderTimeouts.Value(),
		PositionsClosed:     PositionsClosed.Value(),
		ReconnectAttempts:   ReconnectAttempts.Value(),
		RPCRequests:         RPCRequests.Value(),
		WSClients:           WSClients.Value(),
		RPCByAction:         map[string]int64{},
	}
	RPCByAction.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			s.RPCByAction[kv.Key] = v.Value()
		}
	})
	return s
}

func debugMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/bridge", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Current())
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Handler /debug/vars、/debug/bridge 与 /debug/pprof
func Handler() http.Handler { return debugMux() }

// StartAsync 在 listenAddr 上启动调试服务，ctx 结束时关闭。
// listenAddr 为空表示不启用，返回 nil, nil。
func StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	if listenAddr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           debugMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	debugLog.Infof("调试服务监听 %s (/debug/vars, /debug/bridge, /debug/pprof)", srv.Addr)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debugLog.Errorf("调试服务退出: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	return srv, nil
}
