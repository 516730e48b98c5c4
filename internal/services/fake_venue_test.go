package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/betbot/orderbridge/internal/domain"
	"github.com/betbot/orderbridge/internal/symbolmap"
	"github.com/betbot/orderbridge/internal/venue"
	"github.com/betbot/orderbridge/pkg/executor"
)

// fakeVenue 可注入错误、记录调用的场所
type fakeVenue struct {
	mu sync.Mutex

	connected  bool
	connectErr error
	connects   int

	facts    *domain.InstrumentFacts
	factsErr error
	quote    domain.Quote
	quoteErr error

	// placeErrs 依次返回的下单错误，用完后成功
	placeErrs []error
	placed    []domain.OrderRequest
	placeWait time.Duration

	positions []domain.Position
	listErr   error
	closeErrs map[string]error
	closed    []string

	account *domain.AccountInfo
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		connected: true,
		facts: &domain.InstrumentFacts{
			Symbol: "BTCUSDm", TickSize: 0.5, QtyStep: 0.01, MinQty: 0.01, MinDistance: 100, Digits: 1, TickValue: 1,
		},
		quote:     domain.Quote{Bid: 49999.5, Ask: 50000, Last: 50000},
		closeErrs: map[string]error{},
		account:   &domain.AccountInfo{Login: "1", Balance: 100},
	}
}

func (f *fakeVenue) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeVenue) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeVenue) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeVenue) GetInstrumentFacts(ctx context.Context, symbol string) (*domain.InstrumentFacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.factsErr != nil {
		return nil, f.factsErr
	}
	cp := *f.facts
	return &cp, nil
}

func (f *fakeVenue) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quote, f.quoteErr
}

func (f *fakeVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderOutcome, error) {
	if f.placeWait > 0 {
		time.Sleep(f.placeWait)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &domain.OrderOutcome{Success: true, OrderID: fmt.Sprintf("T%d", len(f.placed)), Symbol: req.Symbol, Side: req.Side, Volume: req.Quantity}, nil
}

func (f *fakeVenue) orders() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OrderRequest(nil), f.placed...)
}

func (f *fakeVenue) ListPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Position
	for _, p := range f.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeVenue) ClosePosition(ctx context.Context, pos domain.Position, price float64) (*domain.OrderOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, pos.Ticket)
	if err := f.closeErrs[pos.Ticket]; err != nil {
		return nil, err
	}
	return &domain.OrderOutcome{Success: true, OrderID: pos.Ticket, Price: price, Side: pos.Side.Opposite()}, nil
}

func (f *fakeVenue) GetAccountInfo(ctx context.Context) (*domain.AccountInfo, error) {
	return f.account, nil
}

func startPool(t *testing.T) *executor.Pool {
	t.Helper()
	p := executor.NewPool(16, 2)
	p.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func newTranslator(entries ...symbolmap.Entry) *symbolmap.Translator {
	return symbolmap.NewWithTable(nil, symbolmap.Table(entries))
}

func protectiveErr() error {
	return venue.Rejected(10016, "Invalid stops", true)
}
