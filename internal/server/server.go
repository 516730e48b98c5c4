// Package server 对外的 WebSocket / HTTP RPC 服务。
// 每个连接可以并发发起请求，响应按 id 回显，不保证顺序。
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/orderbridge/internal/execution"
	"github.com/betbot/orderbridge/internal/metrics"
	"github.com/betbot/orderbridge/internal/services"
	"github.com/betbot/orderbridge/internal/symbolmap"
	"github.com/betbot/orderbridge/internal/venue"
	"github.com/betbot/orderbridge/pkg/config"
)

var serverLog = logrus.WithField("component", "server")

const defaultMaxMessageBytes = 10 * 1024 * 1024

// Deps 服务依赖
type Deps struct {
	Orders    *services.OrderService
	Positions *services.PositionService
	Accounts  *services.AccountService
	Mappings  *symbolmap.Translator
	Dedup     *execution.InFlightDeduper // 可选，nil 时按默认 TTL 创建

	// OnConnectivityError 请求返回连接类错误后调用（通常触发一次重连检查）
	OnConnectivityError func()
}

// Server WebSocket + HTTP RPC 服务
type Server struct {
	cfg       config.ServerConfig
	orders    *services.OrderService
	positions *services.PositionService
	accounts  *services.AccountService
	mappings  *symbolmap.Translator
	dedup     *execution.InFlightDeduper
	handlers  map[string]HandlerFunc
	onConnErr func()

	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongTimeout  time.Duration
	hub          *hub

	httpSrv *http.Server
	addr    string
}

func New(cfg config.ServerConfig, d Deps) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	s := &Server{
		cfg:          cfg,
		orders:       d.Orders,
		positions:    d.Positions,
		accounts:     d.Accounts,
		mappings:     d.Mappings,
		dedup:        d.Dedup,
		onConnErr:    d.OnConnectivityError,
		pingInterval: time.Duration(cfg.PingIntervalSeconds) * time.Second,
		pongTimeout:  time.Duration(cfg.PongTimeoutSeconds) * time.Second,
		hub:          newHub(),
	}
	if s.pingInterval <= 0 {
		s.pingInterval = 60 * time.Second
	}
	if s.pongTimeout <= s.pingInterval {
		s.pongTimeout = 3 * s.pingInterval
	}
	if s.dedup == nil {
		s.dedup = execution.NewInFlightDeduper(execution.DefaultRequestTTL, 16)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.registerHandlers()
	return s
}

// Handler gin 路由外包一层 CORS
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		h := s.accounts.Health()
		code := http.StatusOK
		if !h.Connected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, h)
	})
	r.GET(s.cfg.Path, s.handleWS)

	api := r.Group("/api")
	api.POST("/rpc", s.handleRPC)

	return cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)
}

// handleRPC 单次 HTTP 请求-响应，与 WebSocket 使用同一套 action
func (s *Server) handleRPC(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.cfg.MaxMessageBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, fail("读取请求失败"))
		return
	}
	if int64(len(body)) > s.cfg.MaxMessageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, fail("请求过大"))
		return
	}
	c.JSON(http.StatusOK, s.Dispatch(c.Request.Context(), "rpc:"+c.Request.RemoteAddr, body))
}

// Dispatch 解析并执行一条请求，总是返回一个响应。
// scope 标识请求来源（连接），请求 id 只在同一来源内去重。
func (s *Server) Dispatch(ctx context.Context, scope string, raw []byte) Response {
	req, err := decodeRequest(raw)
	if err != nil {
		return fail("invalid JSON")
	}
	resp := s.dispatch(ctx, scope, req)
	resp.ID = req.ID
	return resp
}

func (s *Server) dispatch(ctx context.Context, scope string, req Request) Response {
	metrics.RPCRequests.Add(1)
	if req.Action == "" {
		return fail("缺少 action")
	}
	h, found := s.handlers[req.Action]
	if !found {
		return fail("未知操作: " + req.Action)
	}
	metrics.RPCByAction.Add(req.Action, 1)

	if id := req.requestKey(); id != "" {
		key := scope + "/" + id
		if err := s.dedup.TryAcquire(key); err != nil {
			serverLog.Warnf("重复的请求 id=%s action=%s", id, req.Action)
			return failErr("", venue.Validation("请求 %s 正在处理中", id))
		}
		defer s.dedup.Release(key)
	}

	serverLog.Infof("收到请求: action=%s", req.Action)
	resp := s.run(ctx, req.Action, h, req.Params)
	if resp.ErrorKind == venue.KindConnectivity.String() && s.onConnErr != nil {
		s.onConnErr()
	}
	return resp
}

// run 执行 handler；panic 转成错误响应，不影响其他请求
func (s *Server) run(ctx context.Context, action string, h HandlerFunc, p Params) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			serverLog.Errorf("处理 %s 时发生 panic: %v\n%s", action, r, debug.Stack())
			resp = fail(fmt.Sprintf("内部错误: %v", r))
			resp.ErrorKind = venue.KindUnknown.String()
		}
	}()
	return h(ctx, p)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	serverLog.Warnf("拒绝来源 %s 的 WebSocket 连接", origin)
	return false
}

// Start 在 cfg.Listen 上开始监听，Addr 返回实际地址
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", s.cfg.Listen, err)
	}
	s.addr = ln.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLog.Errorf("服务异常退出: %v", err)
		}
	}()
	serverLog.Infof("WebSocket 服务已启动: ws://%s%s", s.addr, s.cfg.Path)
	return nil
}

func (s *Server) Addr() string { return s.addr }

// Shutdown 停止接受新连接并关闭所有 WebSocket 客户端
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	s.hub.closeAll()
	return err
}
