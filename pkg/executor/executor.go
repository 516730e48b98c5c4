package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var poolExecLog = logrus.WithField("component", "executor_pool")

var (
	// ErrQueueFull 队列已满，命令未被接收
	ErrQueueFull = errors.New("executor: 队列已满")
	// ErrTimeout 等待结果超时；命令可能仍在执行
	ErrTimeout = errors.New("executor: 等待结果超时")
	// ErrExpired 命令在队列中等待超过截止时间，未执行
	ErrExpired = errors.New("executor: 命令在队列中已过期")
	// ErrStopped 执行器已停止
	ErrStopped = errors.New("executor: 已停止")
)

// Command 表示一次阻塞的场所调用。
// Do 必须响应 ctx，但调用方不能假设取消一定生效。
type Command struct {
	Name    string
	Timeout time.Duration
	Do      func(ctx context.Context)
}

// Executor 统一的命令队列/执行器接口
type Executor interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
	Submit(cmd Command) bool
	QueueLen() int
}

// Pool 多 worker 并发执行命令（有界队列 + 固定 worker）。
// workers=1 时即串行执行器（MT5 终端这类非线程安全的场所使用）。
type Pool struct {
	workers int

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool

	ch   chan Command
	wg   sync.WaitGroup
	once sync.Once
}

// NewPool 创建 worker pool
func NewPool(buffer int, workers int) *Pool {
	if buffer <= 0 {
		buffer = 256
	}
	if workers <= 0 {
		workers = 8
	}
	return &Pool{
		workers: workers,
		ch:      make(chan Command, buffer),
	}
}

// NewSerial 单 worker 串行执行
func NewSerial(buffer int) *Pool {
	return NewPool(buffer, 1)
}

// Workers worker 数量
func (p *Pool) Workers() int { return p.workers }

func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		p.mu.Lock()
		p.ctx, p.cancel = context.WithCancel(ctx)
		p.mu.Unlock()

		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.loop(i)
		}
		poolExecLog.Infof("✅ executor 已启动 (workers=%d buffer=%d)", p.workers, cap(p.ch))
	})
}

func (p *Pool) loop(workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case cmd := <-p.ch:
			p.run(workerID, cmd)
		}
	}
}

func (p *Pool) run(workerID int, cmd Command) {
	if cmd.Do == nil {
		return
	}
	runCtx := p.ctx
	cancel := func() {}
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, cmd.Timeout)
	}
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			poolExecLog.Errorf("命令 panic: worker=%d name=%s panic=%v", workerID, cmd.Name, r)
		}
	}()
	cmd.Do(runCtx)
}

func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		poolExecLog.Infof("✅ executor 已停止")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("停止 executor 超时: %w", ctx.Err())
	}
}

// Submit 非阻塞投递；队列满或已停止时返回 false
func (p *Pool) Submit(cmd Command) bool {
	p.mu.RLock()
	stopped := p.stopped
	p.mu.RUnlock()
	if stopped {
		return false
	}
	select {
	case p.ch <- cmd:
		return true
	default:
		poolExecLog.Warnf("⚠️ executor 队列已满，丢弃命令: %s", cmd.Name)
		return false
	}
}

func (p *Pool) QueueLen() int {
	return len(p.ch)
}

type result[T any] struct {
	val T
	err error
}

// Call 在 pool 中执行 fn 并等待结果，最长 timeout。
//   - 超时返回 ErrTimeout，fn 可能仍在执行（不保证被取消）。
//   - 在队列中等到截止时间仍未开始的命令不会执行，返回 ErrExpired。
//   - ctx 取消时立即返回 ctx.Err()，已开始的 fn 不受影响。
func Call[T any](ctx context.Context, ex Executor, name string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		timeout = time.Minute
	}
	deadline := time.Now().Add(timeout)
	out := make(chan result[T], 1)

	ok := ex.Submit(Command{
		Name:    name,
		Timeout: timeout,
		Do: func(runCtx context.Context) {
			if time.Now().After(deadline) {
				out <- result[T]{err: ErrExpired}
				return
			}
			defer func() {
				if r := recover(); r != nil {
					out <- result[T]{err: fmt.Errorf("%s panic: %v", name, r)}
				}
			}()
			v, err := fn(runCtx)
			out <- result[T]{val: v, err: err}
		},
	})
	if !ok {
		if p, isPool := ex.(*Pool); isPool {
			p.mu.RLock()
			stopped := p.stopped
			p.mu.RUnlock()
			if stopped {
				return zero, ErrStopped
			}
		}
		return zero, ErrQueueFull
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case r := <-out:
		return r.val, r.err
	case <-timer.C:
		poolExecLog.Warnf("⏱️ 命令超时: name=%s timeout=%s", name, timeout)
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
