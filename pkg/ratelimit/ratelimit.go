package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// 场所端点分类
const (
	BybitMarket   = "bybit:market"   // instruments-info / tickers
	BybitOrder    = "bybit:order"    // order/create
	BybitPosition = "bybit:position" // position/list
	BybitAccount  = "bybit:account"  // wallet-balance
	MT5Gateway    = "mt5:general"    // 终端网关
	general       = "general"
)

// Limit 一个端点分类的限速：每 Per 最多 Burst 次，匀速补充
type Limit struct {
	Burst int
	Per   time.Duration
}

func (l Limit) limiter() *rate.Limiter {
	if l.Burst <= 0 || l.Per <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(l.Per/time.Duration(l.Burst)), l.Burst)
}

// RateLimitManager 按端点分类管理限速器
type RateLimitManager struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewRateLimitManager 创建带默认限额的管理器
func NewRateLimitManager() *RateLimitManager {
	m := &RateLimitManager{
		limiters: make(map[string]*rate.Limiter),
	}
	m.initDefaultLimiters()
	return m
}

// initDefaultLimiters 初始化默认的速率限制器（留出余量，低于场所公布的上限）
func (m *RateLimitManager) initDefaultLimiters() {
	m.limiters[BybitMarket] = Limit{Burst: 500, Per: 5 * time.Second}.limiter()
	m.limiters[BybitOrder] = Limit{Burst: 10, Per: time.Second}.limiter()
	m.limiters[BybitPosition] = Limit{Burst: 50, Per: time.Second}.limiter()
	m.limiters[BybitAccount] = Limit{Burst: 50, Per: time.Second}.limiter()
	m.limiters[MT5Gateway] = Limit{Burst: 50, Per: time.Second}.limiter()
	m.limiters[general] = Limit{Burst: 100, Per: time.Second}.limiter()
}

// Set 覆盖某个端点分类的限额
func (m *RateLimitManager) Set(endpoint string, l Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[endpoint] = l.limiter()
}

// GetLimiter 获取指定端点的速率限制器，未知端点使用通用限额
func (m *RateLimitManager) GetLimiter(endpoint string) *rate.Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	return m.limiters[general]
}

// Wait 等待直到允许请求
func (m *RateLimitManager) Wait(ctx context.Context, endpoint string) error {
	return m.GetLimiter(endpoint).Wait(ctx)
}

// Allow 检查是否允许请求（不等待）
func (m *RateLimitManager) Allow(endpoint string) bool {
	return m.GetLimiter(endpoint).Allow()
}

// GetRemaining 当前可立即使用的令牌数
func (m *RateLimitManager) GetRemaining(endpoint string) int {
	return int(m.GetLimiter(endpoint).Tokens())
}
