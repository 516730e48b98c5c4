// Package paper 内存模拟交易场所：按当前报价成交，持仓和余额只存在于进程内。
package paper

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/orderbridge/internal/domain"
	"github.com/betbot/orderbridge/internal/venue"
	"github.com/betbot/orderbridge/pkg/config"
)

var paperLog = logrus.WithField("component", "paper")

// InvalidStopsCode 模拟场所拒绝止损止盈时返回的代码
const InvalidStopsCode = 10016

const defaultBalance = 10000.0

// DefaultInstruments 未配置品种时使用
func DefaultInstruments() []config.PaperInstrument {
	return []config.PaperInstrument{
		{Symbol: "BTCUSDT", TickSize: 0.1, QtyStep: 0.001, MinQty: 0.001, Digits: 1, TickValue: 0.1, Bid: 50000, Ask: 50000.5},
		{Symbol: "EURUSD", TickSize: 0.00001, QtyStep: 0.01, MinQty: 0.01, MinDistance: 0.0001, Digits: 5, TickValue: 1, Bid: 1.08, Ask: 1.08002},
	}
}

// Adapter 模拟场所
type Adapter struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	instruments map[string]config.PaperInstrument
	positions   map[string]*domain.Position
	nextTicket  int64
	balance     float64
	rejectStops int
	now         func() time.Time
}

var _ venue.Adapter = (*Adapter)(nil)

// New 创建模拟场所
func New(cfg config.PaperConfig) *Adapter {
	list := cfg.Instruments
	if len(list) == 0 {
		list = DefaultInstruments()
	}
	a := &Adapter{
		instruments: make(map[string]config.PaperInstrument, len(list)),
		positions:   make(map[string]*domain.Position),
		nextTicket:  1000,
		balance:     defaultBalance,
		now:         time.Now,
	}
	for _, in := range list {
		a.instruments[in.Symbol] = in
		if in.StartBalance > 0 {
			a.balance = in.StartBalance
		}
	}
	return a
}

func (a *Adapter) Name() string { return config.VenuePaper }

// Connect 模拟连接；SetConnectError 可注入失败
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connectErr != nil {
		a.connected = false
		return venue.Connectivity(a.connectErr, "paper 连接失败")
	}
	a.connected = true
	paperLog.Infof("paper 场所已连接，%d 个品种，余额 %.2f", len(a.instruments), a.balance)
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

// SetConnectError 之后的 Connect 返回 err；nil 恢复正常
func (a *Adapter) SetConnectError(err error) {
	a.mu.Lock()
	a.connectErr = err
	if err != nil {
		a.connected = false
	}
	a.mu.Unlock()
}

// SetQuote 更新报价
func (a *Adapter) SetQuote(symbol string, bid, ask float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	in := a.instruments[symbol]
	in.Symbol = symbol
	in.Bid, in.Ask = bid, ask
	a.instruments[symbol] = in
}

// RejectStops 接下来 n 个带止损/止盈的订单会被以无效止损拒绝
func (a *Adapter) RejectStops(n int) {
	a.mu.Lock()
	a.rejectStops = n
	a.mu.Unlock()
}

func (a *Adapter) instrument(symbol string) (config.PaperInstrument, error) {
	if !a.connected {
		return config.PaperInstrument{}, venue.Connectivity(venue.ErrNotConnected, "paper 未连接")
	}
	in, ok := a.instruments[symbol]
	if !ok {
		return in, venue.Rejected(0, "未知品种 "+symbol, false)
	}
	return in, nil
}

func (a *Adapter) GetInstrumentFacts(ctx context.Context, symbol string) (*domain.InstrumentFacts, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	in, err := a.instrument(symbol)
	if err != nil {
		return nil, err
	}
	return &domain.InstrumentFacts{
		Symbol:      in.Symbol,
		TickSize:    in.TickSize,
		QtyStep:     in.QtyStep,
		MinQty:      in.MinQty,
		MinDistance: in.MinDistance,
		Digits:      in.Digits,
		TickValue:   in.TickValue,
	}, nil
}

func (a *Adapter) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	in, err := a.instrument(symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	return quoteOf(in), nil
}

func quoteOf(in config.PaperInstrument) domain.Quote {
	q := domain.Quote{Bid: in.Bid, Ask: in.Ask}
	switch {
	case in.Bid > 0 && in.Ask > 0:
		q.Last = (in.Bid + in.Ask) / 2
	case in.Bid > 0:
		q.Last = in.Bid
	default:
		q.Last = in.Ask
	}
	return q
}

// PlaceOrder 按当前报价立即成交
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	in, err := a.instrument(req.Symbol)
	if err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, venue.Validation("交易量必须大于 0")
	}
	if req.HasProtection() && a.rejectStops > 0 {
		a.rejectStops--
		return nil, venue.Rejected(InvalidStopsCode, "Invalid stops", true)
	}

	price := quoteOf(in).EntryFor(req.Side)
	if req.ReduceOnly && req.PositionID != "" {
		pos, ok := a.positions[req.PositionID]
		if !ok {
			return nil, &venue.Error{Kind: venue.KindRejected, Message: "持仓不存在: " + req.PositionID, Err: venue.ErrPositionNotFound}
		}
		return a.closeLocked(pos, price, in), nil
	}

	a.nextTicket++
	ticket := strconv.FormatInt(a.nextTicket, 10)
	pos := &domain.Position{
		Ticket:     ticket,
		OpenedAt:   a.now(),
		Side:       req.Side,
		Volume:     req.Quantity,
		Symbol:     req.Symbol,
		PriceOpen:  price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Comment:    req.Comment,
	}
	a.positions[ticket] = pos
	paperLog.Infof("paper 成交: %s %s %v @ %v (sl=%v tp=%v) ticket=%s",
		req.Side, req.Symbol, req.Quantity, price, req.StopLoss, req.TakeProfit, ticket)

	return &domain.OrderOutcome{
		Success:    true,
		OrderID:    ticket,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Quantity,
		Price:      price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Message:    "filled",
	}, nil
}

func (a *Adapter) ListPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, venue.Connectivity(venue.ErrNotConnected, "paper 未连接")
	}
	out := make([]domain.Position, 0, len(a.positions))
	for _, p := range a.positions {
		if symbol != "" && !strings.EqualFold(p.Symbol, symbol) {
			continue
		}
		cp := *p
		in := a.instruments[p.Symbol]
		cp.PriceCurrent = quoteOf(in).ExitFor(p.Side)
		cp.Profit = pnl(cp, cp.PriceCurrent, in)
		cp.Stamp()
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

// ClosePosition 按 price 平掉整笔持仓；price<=0 时使用当前对手价
func (a *Adapter) ClosePosition(ctx context.Context, pos domain.Position, price float64) (*domain.OrderOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, venue.Connectivity(venue.ErrNotConnected, "paper 未连接")
	}
	p, ok := a.positions[pos.Ticket]
	if !ok {
		return nil, &venue.Error{Kind: venue.KindRejected, Message: "持仓不存在: " + pos.Ticket, Err: venue.ErrPositionNotFound}
	}
	in := a.instruments[p.Symbol]
	if price <= 0 {
		price = quoteOf(in).ExitFor(p.Side)
	}
	return a.closeLocked(p, price, in), nil
}

func (a *Adapter) closeLocked(p *domain.Position, price float64, in config.PaperInstrument) *domain.OrderOutcome {
	profit := pnl(*p, price, in)
	a.balance += profit
	delete(a.positions, p.Ticket)
	paperLog.Infof("paper 平仓: ticket=%s %s %v @ %v 盈亏 %.2f", p.Ticket, p.Symbol, p.Volume, price, profit)
	return &domain.OrderOutcome{
		Success: true,
		OrderID: p.Ticket,
		Symbol:  p.Symbol,
		Side:    p.Side.Opposite(),
		Volume:  p.Volume,
		Price:   price,
		Message: "closed",
	}
}

// pnl 价差折算为 tick 数 × tick 价值 × 数量
func pnl(p domain.Position, exit float64, in config.PaperInstrument) float64 {
	diff := exit - p.PriceOpen
	if !p.Side.IsLong() {
		diff = -diff
	}
	if in.TickSize > 0 && in.TickValue > 0 {
		return diff / in.TickSize * in.TickValue * p.Volume
	}
	return diff * p.Volume
}

func (a *Adapter) GetAccountInfo(ctx context.Context) (*domain.AccountInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, venue.Connectivity(venue.ErrNotConnected, "paper 未连接")
	}
	equity := a.balance
	for _, p := range a.positions {
		in := a.instruments[p.Symbol]
		equity += pnl(*p, quoteOf(in).ExitFor(p.Side), in)
	}
	return &domain.AccountInfo{
		Login:      "paper",
		Server:     "paper",
		Name:       "Paper Trading",
		Currency:   "USD",
		Leverage:   1,
		Balance:    a.balance,
		Equity:     equity,
		MarginFree: equity,
	}, nil
}
