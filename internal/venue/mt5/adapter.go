// Package mt5 通过终端侧 HTTP 网关访问 MetaTrader 5。
package mt5

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/orderbridge/internal/domain"
	"github.com/betbot/orderbridge/internal/venue"
	"github.com/betbot/orderbridge/internal/venue/rest"
	"github.com/betbot/orderbridge/pkg/config"
	"github.com/betbot/orderbridge/pkg/ratelimit"
)

var mt5Log = logrus.WithField("component", "mt5")

// 交易返回码
const (
	RetcodePlaced       = 10008
	RetcodeDone         = 10009
	RetcodeDonePartial  = 10010
	RetcodeInvalidStops = 10016
)

// OpenDeviation 开仓允许的最大价格偏差（点）
const OpenDeviation = 100

// filling_mode 位标志
const (
	fillingFOK = 1
	fillingIOC = 2
)

// Adapter MT5 网关适配器
type Adapter struct {
	cfg       config.MT5Config
	http      *rest.Client
	limits    *ratelimit.RateLimitManager
	connected atomic.Bool
}

var _ venue.Adapter = (*Adapter)(nil)

func New(cfg config.MT5Config, limits *ratelimit.RateLimitManager) *Adapter {
	if cfg.Deviation <= 0 {
		cfg.Deviation = 20
	}
	if cfg.Magic == 0 {
		cfg.Magic = 123456
	}
	if limits == nil {
		limits = ratelimit.NewRateLimitManager()
	}
	return &Adapter{cfg: cfg, http: rest.NewClient(cfg.GatewayURL, rest.DefaultTimeout), limits: limits}
}

func (a *Adapter) Name() string { return config.VenueMT5 }

func (a *Adapter) IsConnected() bool { return a.connected.Load() }

func (a *Adapter) Close() error {
	a.connected.Store(false)
	return nil
}

func (a *Adapter) call(ctx context.Context, method, endpoint string, body, out any) error {
	if err := a.limits.Wait(ctx, ratelimit.MT5Gateway); err != nil {
		return a.transportError(endpoint, err)
	}
	opt := &rest.RequestOptions{Data: body}
	if a.cfg.APIToken != "" {
		opt.Headers = map[string]string{"Authorization": "Bearer " + a.cfg.APIToken}
	}
	resp, err := a.http.DoRequest(ctx, method, endpoint, opt, out)
	if err := rest.CheckResponse(resp, err); err != nil {
		return a.transportError(endpoint, err)
	}
	return nil
}

func (a *Adapter) transportError(endpoint string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &venue.Error{Kind: venue.KindTimeout, Message: "mt5 " + endpoint + " 超时，操作可能仍会在交易场所完成", Err: venue.ErrTimeout}
	}
	var se *rest.StatusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusNotFound:
			return venue.Rejected(0, fmt.Sprintf("mt5 %s: %v", endpoint, se.Body), false)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return venue.Validation("mt5 %s: %v", endpoint, se.Body)
		}
	}
	// 网关不可达、终端断开 (503) 或认证失败：标记断开，由 supervisor 重连
	a.markDisconnected(endpoint)
	return venue.Connectivity(err, "mt5 网关请求 %s 失败: %v", endpoint, err)
}

func (a *Adapter) markDisconnected(endpoint string) {
	if a.connected.Swap(false) {
		mt5Log.Warnf("网关请求 %s 失败，标记为未连接", endpoint)
	}
}

func (a *Adapter) ensureConnected() error {
	if !a.connected.Load() {
		return venue.Connectivity(venue.ErrNotConnected, "MT5未连接")
	}
	return nil
}

// Connect 让网关初始化终端并登录；未提供登录信息时沿用终端当前登录状态
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.GatewayURL == "" {
		return venue.Connectivity(venue.ErrNotConnected, "mt5 gateway_url 未配置")
	}
	req := connectRequest{Path: a.cfg.Path}
	if a.cfg.Login != 0 && a.cfg.Password != "" {
		req.Login, req.Password, req.Server = a.cfg.Login, a.cfg.Password, a.cfg.Server
	}
	var res connectResult
	if err := a.call(ctx, http.MethodPost, "/connect", req, &res); err != nil {
		a.connected.Store(false)
		return err
	}
	a.connected.Store(true)
	mt5Log.Infof("MT5终端信息: %s, 构建: %d, 账户=%d, 服务器=%s", res.Terminal.Name, res.Terminal.Build, res.Login, res.Server)
	return nil
}

// Ping 网关存活检查，失败时标记为未连接
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.call(ctx, http.MethodGet, "/ping", nil, nil); err != nil {
		a.markDisconnected("/ping")
		return err
	}
	return nil
}

func (a *Adapter) symbol(ctx context.Context, symbol string) (*symbolInfo, error) {
	var info symbolInfo
	if err := a.call(ctx, http.MethodGet, "/symbol/"+url.PathEscape(symbol), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (a *Adapter) GetInstrumentFacts(ctx context.Context, symbol string) (*domain.InstrumentFacts, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	info, err := a.symbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	mt5Log.Debugf("品种信息 %s: 最小量=%v 步长=%v 小数位=%d 点=%v stops_level=%d tick价值=%v tick大小=%v",
		symbol, info.VolumeMin, info.VolumeStep, info.Digits, info.Point, info.TradeStopsLevel, info.TradeTickValue, info.TradeTickSize)
	return &domain.InstrumentFacts{
		Symbol:      symbol,
		TickSize:    info.TradeTickSize,
		QtyStep:     info.VolumeStep,
		MinQty:      info.VolumeMin,
		MinDistance: float64(info.TradeStopsLevel) * info.Point,
		Digits:      info.Digits,
		TickValue:   info.TradeTickValue,
	}, nil
}

func (a *Adapter) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := a.ensureConnected(); err != nil {
		return domain.Quote{}, err
	}
	var t tickInfo
	if err := a.call(ctx, http.MethodGet, "/tick/"+url.PathEscape(symbol), nil, &t); err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{Bid: t.Bid, Ask: t.Ask, Last: t.Last}, nil
}

// fillingFor 按位标志选择成交模式：IOC > FOK > RETURN
func fillingFor(mode int) string {
	switch {
	case mode&fillingIOC != 0:
		return "ioc"
	case mode&fillingFOK != 0:
		return "fok"
	}
	return "return"
}

func typeOf(s domain.Side) string {
	if s.IsLong() {
		return "buy"
	}
	return "sell"
}

// PlaceOrder 市价单（TRADE_ACTION_DEAL）
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderOutcome, error) {
	deviation := OpenDeviation
	if req.ReduceOnly {
		deviation = a.cfg.Deviation
	}
	return a.send(ctx, req, deviation)
}

func (a *Adapter) send(ctx context.Context, req domain.OrderRequest, deviation int) (*domain.OrderOutcome, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, venue.Validation("交易量必须大于 0")
	}
	info, err := a.symbol(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	price := req.Price
	if price <= 0 {
		q, err := a.GetQuote(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		price = q.EntryFor(req.Side)
	}

	body := orderRequest{
		Action:      "deal",
		Symbol:      req.Symbol,
		Volume:      req.Quantity,
		Type:        typeOf(req.Side),
		Price:       price,
		SL:          req.StopLoss,
		TP:          req.TakeProfit,
		Deviation:   deviation,
		Magic:       a.cfg.Magic,
		Comment:     req.Comment,
		TypeTime:    "gtc",
		TypeFilling: fillingFor(info.FillingMode),
	}
	if req.PositionID != "" {
		ticket, err := strconv.ParseInt(req.PositionID, 10, 64)
		if err != nil {
			return nil, venue.Validation("无效的持仓票据: %q", req.PositionID)
		}
		body.Position = ticket
	}

	mt5Log.Infof("正在发送订单: %s %s %v @ %v sl=%v tp=%v filling=%s",
		body.Type, body.Symbol, body.Volume, body.Price, body.SL, body.TP, body.TypeFilling)

	var res orderResult
	if err := a.call(ctx, http.MethodPost, "/order", body, &res); err != nil {
		return nil, err
	}
	switch res.Retcode {
	case RetcodeDone, RetcodePlaced, RetcodeDonePartial:
	case RetcodeInvalidStops:
		return nil, venue.Rejected(res.Retcode, res.Comment, true)
	default:
		mt5Log.Errorf("订单发送失败，错误码: %d, 说明: %s", res.Retcode, res.Comment)
		return nil, venue.Rejected(res.Retcode, res.Comment, false)
	}

	out := &domain.OrderOutcome{
		Success:    true,
		OrderID:    strconv.FormatInt(res.Order, 10),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Quantity,
		Price:      price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Code:       res.Retcode,
		Message:    res.Comment,
	}
	if res.Price > 0 {
		out.Price = res.Price
	}
	if res.Volume > 0 {
		out.Volume = res.Volume
	}
	mt5Log.Infof("订单发送成功，订单号: %d", res.Order)
	return out, nil
}

func (a *Adapter) ListPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	endpoint := "/positions"
	if symbol != "" {
		endpoint += "?symbol=" + url.QueryEscape(symbol)
	}
	var list []positionInfo
	if err := a.call(ctx, http.MethodGet, endpoint, nil, &list); err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(list))
	for _, p := range list {
		side := domain.SideBuy
		if p.Type == 1 {
			side = domain.SideSell
		}
		pos := domain.Position{
			Ticket:       strconv.FormatInt(p.Ticket, 10),
			OpenedAt:     time.Unix(p.Time, 0),
			Side:         side,
			Volume:       p.Volume,
			Symbol:       p.Symbol,
			PriceOpen:    p.PriceOpen,
			PriceCurrent: p.PriceCurrent,
			StopLoss:     p.SL,
			TakeProfit:   p.TP,
			Profit:       p.Profit,
			Swap:         p.Swap,
			Comment:      p.Comment,
		}
		pos.Stamp()
		out = append(out, pos)
	}
	return out, nil
}

// ClosePosition 反向成交平仓：多仓用 bid，空仓用 ask
func (a *Adapter) ClosePosition(ctx context.Context, pos domain.Position, price float64) (*domain.OrderOutcome, error) {
	out, err := a.send(ctx, domain.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Quantity:   pos.Volume,
		Price:      price,
		ReduceOnly: true,
		PositionID: pos.Ticket,
		Comment:    "close " + pos.Ticket,
	}, a.cfg.Deviation)
	if err != nil {
		mt5Log.Errorf("关闭持仓 %s 失败: %v", pos.Ticket, err)
		return nil, err
	}
	return out, nil
}

func (a *Adapter) GetAccountInfo(ctx context.Context) (*domain.AccountInfo, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	var acct accountInfo
	if err := a.call(ctx, http.MethodGet, "/account", nil, &acct); err != nil {
		return nil, err
	}
	return &domain.AccountInfo{
		Login:       strconv.FormatInt(acct.Login, 10),
		Server:      acct.Server,
		Name:        acct.Name,
		Currency:    acct.Currency,
		Leverage:    acct.Leverage,
		Balance:     acct.Balance,
		Equity:      acct.Equity,
		Margin:      acct.Margin,
		MarginFree:  acct.MarginFree,
		MarginLevel: acct.MarginLevel,
	}, nil
}
