package services

import (
	"context"
	"time"

	"github.com/betbot/orderbridge/internal/domain"
	"github.com/betbot/orderbridge/internal/symbolmap"
	"github.com/betbot/orderbridge/pkg/executor"
)

// Health 健康检查结果
type Health struct {
	Venue     string `json:"venue"`
	Connected bool   `json:"venue_connected"`
	QueueLen  int    `json:"queue_len"`
	Mappings  int    `json:"mappings"`
}

// AccountService 账户信息与健康状态
type AccountService struct {
	name    string
	venue   AccountVenue
	tr      *symbolmap.Translator
	ex      executor.Executor
	timeout time.Duration
}

func NewAccountService(name string, v AccountVenue, tr *symbolmap.Translator, ex executor.Executor, timeout time.Duration) *AccountService {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &AccountService{name: name, venue: v, tr: tr, ex: ex, timeout: timeout}
}

func (s *AccountService) Info(ctx context.Context) (*domain.AccountInfo, error) {
	if err := ensureConnected(s.venue); err != nil {
		return nil, err
	}
	info, err := executor.Call(ctx, s.ex, "account", s.timeout, func(ctx context.Context) (*domain.AccountInfo, error) {
		return s.venue.GetAccountInfo(ctx)
	})
	if err != nil {
		return nil, asConnectivity(execError("获取账户信息", s.timeout, err), "获取账户信息失败: %v", err)
	}
	return info, nil
}

func (s *AccountService) Health() Health {
	h := Health{Venue: s.name, Connected: s.venue != nil && s.venue.IsConnected()}
	if s.ex != nil {
		h.QueueLen = s.ex.QueueLen()
	}
	if s.tr != nil {
		h.Mappings = len(s.tr.All())
	}
	return h
}
