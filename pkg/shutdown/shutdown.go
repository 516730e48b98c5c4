package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/orderbridge/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context)

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器。
// 回调按注册的逆序分阶段执行：先停止接入，再排空执行队列，最后断开交易场所。
type Manager struct {
	mu        sync.Mutex
	callbacks []namedHandler
	done      bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）。
// ctx 应该带超时；超时后剩余回调仍会被调用，但拿到的是已取消的 ctx。
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		logger.Infof("没有注册的关闭回调")
		return
	}

	logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		done := make(chan struct{})
		go func() {
			defer close(done)
			cb.fn(ctx)
		}()
		select {
		case <-done:
			logger.Debugf("关闭回调完成: %s", cb.name)
		case <-ctx.Done():
			logger.Warnf("关闭回调 %s 超时: %v", cb.name, ctx.Err())
		}
	}
	logger.Infof("所有关闭回调已完成")
}
