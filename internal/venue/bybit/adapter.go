// Package bybit Bybit v5 USDT 线性永续合约适配器。
package bybit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/orderbridge/internal/domain"
	"github.com/betbot/orderbridge/internal/pricing"
	"github.com/betbot/orderbridge/internal/venue"
	"github.com/betbot/orderbridge/pkg/config"
	"github.com/betbot/orderbridge/pkg/ratelimit"
)

var bybitLog = logrus.WithField("component", "bybit")

// Adapter Bybit 线性合约
type Adapter struct {
	cfg       config.BybitConfig
	c         *client
	connected atomic.Bool
}

var _ venue.Adapter = (*Adapter)(nil)

// New 创建适配器；limits 为 nil 时使用默认限速
func New(cfg config.BybitConfig, limits *ratelimit.RateLimitManager) *Adapter {
	a := &Adapter{cfg: cfg, c: newClient(cfg, limits)}
	a.c.onConnLoss = func() {
		if a.connected.Swap(false) {
			bybitLog.Warnf("Bybit 请求出现连接/认证错误，标记为未连接")
		}
	}
	return a
}

func (a *Adapter) Name() string { return config.VenueBybit }

func (a *Adapter) IsConnected() bool { return a.connected.Load() }

// Connect 用钱包余额接口验证凭证
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.APIKey == "" || a.cfg.APISecret == "" {
		a.connected.Store(false)
		return venue.Connectivity(venue.ErrNotConnected, "bybit API key/secret 未配置")
	}
	if _, err := a.wallet(ctx); err != nil {
		a.connected.Store(false)
		return err
	}
	a.connected.Store(true)
	bybitLog.Infof("Bybit 连接成功: %s", a.c.http.BaseURL())
	return nil
}

// Ping 用钱包余额接口确认网络与凭证仍然有效
func (a *Adapter) Ping(ctx context.Context) error {
	_, err := a.wallet(ctx)
	return err
}

func (a *Adapter) Close() error {
	a.connected.Store(false)
	return nil
}

func (a *Adapter) ensureConnected() error {
	if !a.connected.Load() {
		return venue.Connectivity(venue.ErrNotConnected, "bybit 未连接")
	}
	return nil
}

func (a *Adapter) GetInstrumentFacts(ctx context.Context, symbol string) (*domain.InstrumentFacts, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	var res instrumentsResult
	q := url.Values{"category": {categoryLinear}, "symbol": {symbol}}
	if err := a.c.get(ctx, ratelimit.BybitMarket, "/v5/market/instruments-info", q, &res); err != nil {
		return nil, err
	}
	if len(res.List) == 0 {
		return nil, venue.Rejected(0, "未找到品种 "+symbol, false)
	}
	it := res.List[0]
	tick := num(it.PriceFilter.TickSize)
	digits := pricing.Decimals(tick)
	if ps, err := strconv.Atoi(it.PriceScale); err == nil && ps > 0 {
		digits = ps
	}
	return &domain.InstrumentFacts{
		Symbol:    it.Symbol,
		TickSize:  tick,
		QtyStep:   num(it.LotSizeFilter.QtyStep),
		MinQty:    num(it.LotSizeFilter.MinOrderQty),
		Digits:    digits,
		TickValue: tick, // 1 个单位合约，价格每变动一个 tick 价值 tick USDT
	}, nil
}

func (a *Adapter) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := a.ensureConnected(); err != nil {
		return domain.Quote{}, err
	}
	var res tickersResult
	q := url.Values{"category": {categoryLinear}, "symbol": {symbol}}
	if err := a.c.get(ctx, ratelimit.BybitMarket, "/v5/market/tickers", q, &res); err != nil {
		return domain.Quote{}, err
	}
	if len(res.List) == 0 {
		return domain.Quote{}, venue.Rejected(0, "未获取到 "+symbol+" 的行情", false)
	}
	t := res.List[0]
	return domain.Quote{Bid: num(t.Bid1Price), Ask: num(t.Ask1Price), Last: num(t.LastPrice)}, nil
}

func sideOf(s domain.Side) string {
	if s.IsLong() {
		return "Buy"
	}
	return "Sell"
}

// PlaceOrder 市价单；止损止盈随单提交
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderOutcome, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, venue.Validation("交易量必须大于 0")
	}
	body := orderBody{
		Category:    categoryLinear,
		Symbol:      req.Symbol,
		Side:        sideOf(req.Side),
		OrderType:   "Market",
		Qty:         fmtNum(req.Quantity),
		ReduceOnly:  req.ReduceOnly,
		OrderLinkID: req.ClientID,
	}
	if body.OrderLinkID == "" {
		body.OrderLinkID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if req.StopLoss > 0 {
		body.StopLoss = fmtNum(req.StopLoss)
	}
	if req.TakeProfit > 0 {
		body.TakeProfit = fmtNum(req.TakeProfit)
	}
	if req.ReduceOnly && req.PositionID != "" {
		if _, idx, err := parseTicket(req.PositionID); err == nil {
			body.PositionIdx = &idx
		}
	}

	bybitLog.Infof("正在发送订单: %s %s qty=%s sl=%s tp=%s reduceOnly=%v",
		body.Side, body.Symbol, body.Qty, body.StopLoss, body.TakeProfit, body.ReduceOnly)

	var res orderResult
	if err := a.c.post(ctx, ratelimit.BybitOrder, "/v5/order/create", body, &res); err != nil {
		return nil, err
	}
	bybitLog.Infof("订单发送成功，订单号: %s", res.OrderID)
	return &domain.OrderOutcome{
		Success:    true,
		OrderID:    res.OrderID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Quantity,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Message:    "Success",
	}, nil
}

// ListPositions symbol 为空时列出所有 USDT 结算持仓；只返回 size>0 的记录
func (a *Adapter) ListPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	q := url.Values{"category": {categoryLinear}}
	if symbol != "" {
		q.Set("symbol", symbol)
	} else {
		q.Set("settleCoin", "USDT")
	}
	var res positionsResult
	if err := a.c.get(ctx, ratelimit.BybitPosition, "/v5/position/list", q, &res); err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(res.List))
	for _, p := range res.List {
		size := num(p.Size)
		if size <= 0 {
			continue
		}
		side := domain.SideSell
		if p.Side == "Buy" {
			side = domain.SideBuy
		}
		pos := domain.Position{
			Ticket:       ticketOf(p.Symbol, p.PositionIdx),
			Side:         side,
			Volume:       size,
			Symbol:       p.Symbol,
			PriceOpen:    num(p.AvgPrice),
			PriceCurrent: num(p.MarkPrice),
			StopLoss:     num(p.StopLoss),
			TakeProfit:   num(p.TakeProfit),
			Profit:       num(p.UnrealisedPnl),
			Comment:      strconv.Itoa(p.PositionIdx),
		}
		if ms, err := strconv.ParseInt(p.CreatedTime, 10, 64); err == nil && ms > 0 {
			pos.OpenedAt = time.UnixMilli(ms)
		}
		pos.Stamp()
		out = append(out, pos)
	}
	return out, nil
}

// ClosePosition 反向 reduceOnly 市价单平掉整笔持仓
func (a *Adapter) ClosePosition(ctx context.Context, pos domain.Position, price float64) (*domain.OrderOutcome, error) {
	out, err := a.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Quantity:   pos.Volume,
		Price:      price,
		ReduceOnly: true,
		PositionID: pos.Ticket,
	})
	if err != nil {
		return nil, err
	}
	bybitLog.Infof("成功关闭持仓，持仓票据: %s", pos.Ticket)
	return out, nil
}

func (a *Adapter) wallet(ctx context.Context) (*walletResult, error) {
	var res walletResult
	q := url.Values{"accountType": {"UNIFIED"}}
	if err := a.c.get(ctx, ratelimit.BybitAccount, "/v5/account/wallet-balance", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *Adapter) GetAccountInfo(ctx context.Context) (*domain.AccountInfo, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	res, err := a.wallet(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.List) == 0 {
		return nil, venue.Rejected(0, "钱包余额为空", false)
	}
	acct := res.List[0]
	server, login := "Bybit", "bybit_account"
	if a.cfg.Demo {
		server, login = "Bybit Demo", "demo_account"
	} else if a.cfg.Testnet {
		server, login = "Bybit Testnet", "testnet_account"
	}
	return &domain.AccountInfo{
		Login:      login,
		Server:     server,
		Name:       server + " Account",
		Currency:   "USDT",
		Leverage:   1,
		Balance:    num(acct.TotalWalletBalance),
		Equity:     num(acct.TotalEquity),
		Margin:     num(acct.TotalMarginBalance),
		MarginFree: num(acct.TotalAvailableBalance),
	}, nil
}

// ticketOf 持仓票据 SYMBOL:positionIdx
func ticketOf(symbol string, idx int) string {
	return fmt.Sprintf("%s:%d", symbol, idx)
}

func parseTicket(ticket string) (string, int, error) {
	i := strings.LastIndex(ticket, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("无效的持仓票据: %q", ticket)
	}
	idx, err := strconv.Atoi(ticket[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("无效的持仓票据: %q", ticket)
	}
	return ticket[:i], idx, nil
}
