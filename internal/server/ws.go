package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/betbot/orderbridge/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// hub 当前在线的 WebSocket 客户端
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) add(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

func (h *hub) remove(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	return len(h.clients)
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	list := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		list = append(list, c)
	}
	h.mu.Unlock()
	for _, c := range list {
		c.close()
	}
}

// client 单个连接：一个读循环、一个写循环，每条请求在独立 goroutine 中执行
type client struct {
	id   string
	srv  *Server
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	inflight  sync.WaitGroup
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

// enqueue 把响应交给写循环；连接已关闭时丢弃
func (c *client) enqueue(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		serverLog.Errorf("[%s] 序列化响应失败: %v", c.id, err)
		r, isResp := v.(Response)
		if !isResp {
			return
		}
		// 至少让调用方知道请求已结束
		fb := fail("序列化响应失败: " + err.Error())
		fb.ID = r.ID
		if b, err = json.Marshal(fb); err != nil {
			return
		}
	}
	select {
	case c.send <- b:
	case <-c.done:
	}
}

func (s *Server) handleWS(ctx *gin.Context) {
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		serverLog.Warnf("WebSocket 升级失败: %v", err)
		return
	}
	c := &client{
		id:   uuid.NewString()[:8],
		srv:  s,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	total := s.hub.add(c)
	metrics.WSClients.Add(1)
	serverLog.Infof("客户端已连接: %s (%s), 当前 %d 个连接", c.id, ctx.Request.RemoteAddr, total)

	go c.writePump()

	h := s.accounts.Health()
	c.enqueue(map[string]interface{}{
		"status":          StatusSuccess,
		"message":         "已连接到交易桥服务",
		"venue":           h.Venue,
		"venue_connected": h.Connected,
	})

	c.readPump()
}

func (c *client) readPump() {
	s := c.srv
	defer func() {
		// 等待已提交的请求写回后再断开
		c.inflight.Wait()
		c.close()
		total := s.hub.remove(c)
		metrics.WSClients.Add(-1)
		serverLog.Infof("客户端已断开: %s, 当前 %d 个连接", c.id, total)
	}()

	c.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				serverLog.Warnf("[%s] 读取消息失败: %v", c.id, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))

		c.inflight.Add(1)
		go func(raw []byte) {
			defer c.inflight.Done()
			// 客户端断开不取消已经发往场所的请求
			resp := s.Dispatch(context.Background(), c.id, raw)
			c.enqueue(resp)
		}(msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				serverLog.Warnf("[%s] 发送消息失败: %v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
