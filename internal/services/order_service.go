package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/orderbridge/internal/domain"
	"github.com/betbot/orderbridge/internal/metrics"
	"github.com/betbot/orderbridge/internal/pricing"
	"github.com/betbot/orderbridge/internal/symbolmap"
	"github.com/betbot/orderbridge/internal/venue"
	"github.com/betbot/orderbridge/pkg/executor"
)

var orderLog = logrus.WithField("component", "order_service")

// OrderServiceConfig 下单参数
type OrderServiceConfig struct {
	Timeout            time.Duration // 单次下单（含降级重发）的总超时
	DefaultStopLossPct float64       // 未指定止损时的百分比止损，0 表示不设置
}

// OrderService 把交易意图转换成场所订单并提交
type OrderService struct {
	venue OrderVenue
	tr    *symbolmap.Translator
	ex    executor.Executor
	cfg   OrderServiceConfig
}

func NewOrderService(v OrderVenue, tr *symbolmap.Translator, ex executor.Executor, cfg OrderServiceConfig) *OrderService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	if cfg.DefaultStopLossPct < 0 {
		cfg.DefaultStopLossPct = 0
	}
	return &OrderService{venue: v, tr: tr, ex: ex, cfg: cfg}
}

// Open 开仓。返回的 error 总是 *venue.Error（或可被 venue.KindOf 分类）。
func (s *OrderService) Open(ctx context.Context, intent domain.TradeIntent) (*domain.OrderOutcome, error) {
	if intent.Symbol == "" {
		return nil, venue.Validation("缺少必要参数: symbol")
	}
	side, qty, err := intent.Direction()
	if err != nil {
		return nil, venue.Validation("%v", err)
	}
	if err := ensureConnected(s.venue); err != nil {
		return nil, err
	}

	out, err := executor.Call(ctx, s.ex, "open:"+intent.Symbol, s.cfg.Timeout, func(ctx context.Context) (*domain.OrderOutcome, error) {
		return s.dispatch(ctx, intent, side, qty)
	})
	if err != nil {
		metrics.OrdersFailed.Add(1)
		err = execError("开仓", s.cfg.Timeout, err)
		orderLog.Errorf("开仓失败: %s %s %v: %v", side, intent.Symbol, qty, err)
		return nil, err
	}
	metrics.OrdersSubmitted.Add(1)
	return out, nil
}

// dispatch 单次下单流程：映射 -> 品种信息 -> 数量 -> 入场价 -> 止盈 -> 止损 -> 提交 -> 降级
func (s *OrderService) dispatch(ctx context.Context, intent domain.TradeIntent, side domain.Side, rawQty float64) (*domain.OrderOutcome, error) {
	symbol, ratio := intent.Symbol, 1.0
	if s.tr != nil {
		symbol, ratio = s.tr.Resolve(intent.Symbol)
	}
	mapped := rawQty * ratio
	orderLog.Infof("开始处理开仓请求: 品种=%s(原始=%s), 类型=%s", symbol, intent.Symbol, side)
	orderLog.Infof("交易量映射: 原始=%v -> 场所=%v (手数比例=%v)", rawQty, mapped, ratio)

	facts, err := s.venue.GetInstrumentFacts(ctx, symbol)
	if err != nil {
		return nil, asConnectivity(err, "获取品种 %s 信息失败: %v", symbol, err)
	}
	quote, err := s.venue.GetQuote(ctx, symbol)
	if err != nil {
		return nil, asConnectivity(err, "获取 %s 行情失败: %v", symbol, err)
	}

	q, err := pricing.NormalizeQuantity(mapped, facts)
	if err != nil {
		return nil, venue.Validation("交易量 %v 规范化失败: %v", mapped, err)
	}
	if q.Raised {
		orderLog.Warnf("交易量 %v 低于最小下单量 %v，已调整为 %v", mapped, facts.MinQty, q.Value)
	} else if q.Value != mapped {
		orderLog.Infof("交易量按步长 %v 取整: %v -> %v", facts.QtyStep, mapped, q.Value)
	}

	entry := intent.Price
	if entry <= 0 {
		entry = quote.EntryFor(side)
	}
	if entry <= 0 {
		return nil, venue.Validation("无法获取 %s 的当前价格", symbol)
	}

	tp := intent.TakeProfit
	if intent.ProfitAmount > 0 {
		tp = 0
		res, err := pricing.TakeProfitByTarget(entry, side, q.Value, intent.ProfitAmount, facts)
		switch {
		case err != nil:
			orderLog.Warnf("无法计算止盈价格，将不设置止盈: %v", err)
		case res.Clamped:
			orderLog.Warnf("计算的止盈价格 %v 距离入场价太近，已调整为 %v (最小距离=%v)", res.Unclamped, res.Price, facts.MinDistance)
			tp = res.Price
		default:
			tp = res.Price
		}
		if tp > 0 {
			orderLog.Infof("基于盈利金额 $%.2f 计算的止盈价格: %v (需要 %.2f 个 tick)", intent.ProfitAmount, tp, res.Ticks)
		}
	}

	sl := intent.StopLoss
	if sl <= 0 && s.cfg.DefaultStopLossPct > 0 {
		v, err := pricing.StopLossByPercent(entry, side, s.cfg.DefaultStopLossPct, facts)
		if err != nil {
			orderLog.Warnf("无法计算默认止损，将不设置止损: %v", err)
		} else {
			sl = v
			orderLog.Infof("自动设置 %.0f%% 止损价格: %v", s.cfg.DefaultStopLossPct, sl)
		}
	}

	req := domain.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Quantity:   q.Value,
		Price:      entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Comment:    intent.Comment,
	}
	out, err := s.venue.PlaceOrder(ctx, req)
	if err != nil && req.HasProtection() && venue.IsProtectiveRejection(err) {
		metrics.ProtectiveFallbacks.Add(1)
		orderLog.Warnf("带止损止盈的订单被拒绝 (%v)，尝试发送无止损止盈的订单...", err)
		out, err = s.venue.PlaceOrder(ctx, req.WithoutProtection())
		if err == nil {
			out.ProtectionDropped = true
		}
	}
	if err != nil {
		var ve *venue.Error
		if !errors.As(err, &ve) {
			err = asConnectivity(err, "下单失败: %v", err)
		}
		return nil, err
	}

	if out.Symbol == "" {
		out.Symbol = symbol
	}
	if out.Side == "" {
		out.Side = side
	}
	if out.Volume == 0 {
		out.Volume = q.Value
	}
	if out.Price == 0 {
		out.Price = entry
	}
	out.ProfitTarget = intent.ProfitAmount
	orderLog.Infof("✅ 开仓成功: 品种=%s, 订单号=%s, 价格=%v, 数量=%v", out.Symbol, out.OrderID, out.Price, out.Volume)
	return out, nil
}
