package metrics

import "expvar"

var (
	OrdersSubmitted     = expvar.NewInt("orders_submitted")
	OrdersFailed        = expvar.NewInt("orders_failed")
	ProtectiveFallbacks = expvar.NewInt("protective_fallbacks")
	OrderTimeouts       = expvar.NewInt("order_timeouts")
	PositionsClosed     = expvar.NewInt("positions_closed")
	ReconnectAttempts   = expvar.NewInt("reconnect_attempts")
	RPCRequests         = expvar.NewInt("rpc_requests")
	WSClients           = expvar.NewInt("ws_clients")

	// RPCByAction 按 action 统计的请求数
	RPCByAction = expvar.NewMap("rpc_by_action")
)
