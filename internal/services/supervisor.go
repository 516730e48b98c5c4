package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/orderbridge/internal/metrics"
	"github.com/betbot/orderbridge/internal/ports"
	"github.com/betbot/orderbridge/pkg/sigchan"
)

var supervisorLog = logrus.WithField("component", "supervisor")

// DefaultReconnectInterval 断线重连检查间隔
const DefaultReconnectInterval = 30 * time.Second

// Supervisor 在请求路径之外周期性检查连接，断开时尝试重连。
// 重连只发生在这里，请求处理过程中不会重试。
type Supervisor struct {
	venue    ports.Connector
	interval time.Duration
	timeout  time.Duration
	kick     *sigchan.Chan

	loopOnce   sync.Once
	mu         sync.Mutex
	loopCancel context.CancelFunc
	done       chan struct{}
}

func NewSupervisor(v ports.Connector, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}
	return &Supervisor{venue: v, interval: interval, timeout: interval, kick: sigchan.New(), done: make(chan struct{})}
}

// Start 立即尝试连接一次，然后启动周期检查（只启动一次）
func (s *Supervisor) Start(parent context.Context) {
	s.loopOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(parent)
		s.mu.Lock()
		s.loopCancel = cancel
		s.mu.Unlock()

		go func() {
			defer close(s.done)
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()

			s.check(loopCtx)
			for {
				select {
				case <-loopCtx.Done():
					return
				case <-ticker.C:
					s.check(loopCtx)
				case <-s.kick.C():
					s.check(loopCtx)
				}
			}
		}()
	})
}

// Kick 请求尽快检查一次连接（例如请求遇到连接错误时），不阻塞
func (s *Supervisor) Kick() {
	s.kick.Emit()
}

// Stop 停止检查并等待循环退出
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.loopCancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

func (s *Supervisor) check(ctx context.Context) {
	if s.venue.IsConnected() && s.alive(ctx) {
		return
	}
	metrics.ReconnectAttempts.Add(1)
	supervisorLog.Warnf("交易场所连接已断开，尝试重新连接...")

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.venue.Connect(cctx); err != nil {
		supervisorLog.Errorf("重新连接失败，%s 后重试: %v", s.interval, err)
		return
	}
	supervisorLog.Infof("✅ 交易场所已重新连接")
}

// alive 连接标志为真时，支持 Ping 的场所再做一次实际探测
func (s *Supervisor) alive(ctx context.Context) bool {
	p, ok := s.venue.(ports.Pinger)
	if !ok {
		return true
	}
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := p.Ping(pctx); err != nil {
		supervisorLog.Warnf("连接探测失败: %v", err)
		return false
	}
	return true
}
