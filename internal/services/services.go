// Package services 订单参数化/分发、持仓管理、账户查询与连接守护。
// 所有阻塞的场所调用都经 executor 投递到 worker 上执行，并受超时约束。
package services

import (
	"errors"
	"time"

	"github.com/betbot/orderbridge/internal/metrics"
	"github.com/betbot/orderbridge/internal/ports"
	"github.com/betbot/orderbridge/internal/venue"
	"github.com/betbot/orderbridge/pkg/executor"
)

// OrderVenue 下单所需的场所能力
type OrderVenue interface {
	ports.Connector
	ports.InstrumentFactsGetter
	ports.QuoteGetter
	ports.OrderPlacer
}

// PositionVenue 持仓管理所需的场所能力
type PositionVenue interface {
	ports.Connector
	ports.QuoteGetter
	ports.PositionLister
	ports.PositionCloser
}

// AccountVenue 账户查询所需的场所能力
type AccountVenue interface {
	ports.Connector
	ports.AccountReader
}

const defaultCallTimeout = 90 * time.Second

// execError 把执行器错误统一成场所错误；其它错误原样返回
func execError(op string, timeout time.Duration, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, executor.ErrTimeout):
		metrics.OrderTimeouts.Add(1)
		return venue.Timeout(op, timeout)
	case errors.Is(err, executor.ErrQueueFull), errors.Is(err, executor.ErrStopped), errors.Is(err, executor.ErrExpired):
		return &venue.Error{Kind: venue.KindUnknown, Message: op + " 未执行: " + err.Error(), Err: err}
	}
	return err
}

func ensureConnected(c ports.Connector) error {
	if c == nil || !c.IsConnected() {
		return venue.Connectivity(venue.ErrNotConnected, "交易场所未连接")
	}
	return nil
}

// asConnectivity 未分类的场所错误视为不可达
func asConnectivity(err error, format string, args ...interface{}) error {
	if venue.KindOf(err) != venue.KindUnknown {
		return err
	}
	return venue.Connectivity(err, format, args...)
}
