package ports

import (
	"context"

	"github.com/betbot/orderbridge/internal/domain"
)

// Small capability interfaces shared by the venue adapters and the services layer.
// Adapters decode raw venue payloads into domain types at their boundary; nothing
// above this package sees untyped venue responses.

type InstrumentFactsGetter interface {
	// GetInstrumentFacts returns fresh trading rules for a venue-native symbol.
	GetInstrumentFacts(ctx context.Context, symbol string) (*domain.InstrumentFacts, error)
}

type QuoteGetter interface {
	// GetQuote returns the current bid/ask, or only Last on venues without book exposure.
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

type OrderPlacer interface {
	// PlaceOrder submits a market order. A non-nil error is always a *venue.Error.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderOutcome, error)
}

type PositionLister interface {
	// ListPositions returns open positions; symbol == "" means all.
	ListPositions(ctx context.Context, symbol string) ([]domain.Position, error)
}

type PositionCloser interface {
	// ClosePosition submits the opposing reduce-only market order for one position.
	ClosePosition(ctx context.Context, pos domain.Position, price float64) (*domain.OrderOutcome, error)
}

type AccountReader interface {
	GetAccountInfo(ctx context.Context) (*domain.AccountInfo, error)
}

type Connector interface {
	Connect(ctx context.Context) error
	IsConnected() bool
}

// Pinger 可选：主动探测连接是否仍然可用，失败时适配器自行标记为断开
type Pinger interface {
	Ping(ctx context.Context) error
}
