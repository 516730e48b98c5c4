// Package venue 定义交易场所适配器边界与统一的错误分类。
package venue

import (
	"github.com/betbot/orderbridge/internal/ports"
)

// Adapter 一个交易场所的完整能力集合
type Adapter interface {
	Name() string
	ports.Connector
	ports.InstrumentFactsGetter
	ports.QuoteGetter
	ports.OrderPlacer
	ports.PositionLister
	ports.PositionCloser
	ports.AccountReader
	Close() error
}
