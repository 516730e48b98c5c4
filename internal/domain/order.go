package domain

import (
	"fmt"
	"math"
	"strings"
)

// Side 交易方向
type Side string

const (
	SideBuy  Side = "BUY"  // 做多
	SideSell Side = "SELL" // 做空
)

// ParseSide 解析方向（不区分大小写，接受 buy/sell/long/short）
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return SideBuy, nil
	case "SELL", "SHORT":
		return SideSell, nil
	}
	return "", fmt.Errorf("未知的订单方向: %q", s)
}

// Opposite 反向（平仓用）
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// IsLong 是否做多
func (s Side) IsLong() bool { return s == SideBuy }

// TradeIntent 外部传入的交易意图（不持久化）
type TradeIntent struct {
	Symbol       string  // 外部品种标识（可能带后缀，例如 BTCUSDT@BinanceFutures）
	Side         Side    // 显式方向，为空时由 Volume 符号推导
	Volume       float64 // 原始交易量，负数表示做空
	Price        float64 // 显式入场价，0 表示市价
	StopLoss     float64 // 显式止损价，0 表示未指定
	TakeProfit   float64 // 显式止盈价，0 表示未指定
	ProfitAmount float64 // 目标盈利金额，>0 时优先于 TakeProfit
	Comment      string
}

// Direction 返回方向与交易量绝对值。
// 显式方向优先；否则正数为多、负数为空。
func (t TradeIntent) Direction() (Side, float64, error) {
	if math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0) {
		return "", 0, fmt.Errorf("交易量不是有限数字: %v", t.Volume)
	}
	if t.Volume == 0 {
		return "", 0, fmt.Errorf("交易量不能为0")
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"price", t.Price},
		{"sl", t.StopLoss},
		{"tp", t.TakeProfit},
		{"profit_amount", t.ProfitAmount},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return "", 0, fmt.Errorf("参数 %s 不是有限数字: %v", f.name, f.v)
		}
	}
	qty := math.Abs(t.Volume)
	if t.Side != "" {
		return t.Side, qty, nil
	}
	if t.Volume > 0 {
		return SideBuy, qty, nil
	}
	return SideSell, qty, nil
}

// OrderRequest 发送给交易场所的市价单参数（已完成规范化）
type OrderRequest struct {
	Symbol     string  // 场所原生品种
	Side       Side    // 方向
	Quantity   float64 // 已按步长规范化的数量
	Price      float64 // 参考价（MT5 需要，Bybit 市价单忽略）
	StopLoss   float64 // 0 = 不设置
	TakeProfit float64 // 0 = 不设置
	ReduceOnly bool    // 只减仓（平仓单）
	PositionID string  // 平仓时指定的持仓票据
	ClientID   string  // 客户端订单 ID
	Comment    string
}

// WithoutProtection 去掉止损止盈的副本
func (r OrderRequest) WithoutProtection() OrderRequest {
	r.StopLoss = 0
	r.TakeProfit = 0
	return r
}

// HasProtection 是否带止损或止盈
func (r OrderRequest) HasProtection() bool {
	return r.StopLoss > 0 || r.TakeProfit > 0
}

// OrderOutcome 统一的下单结果
type OrderOutcome struct {
	Success           bool    `json:"success"`
	OrderID           string  `json:"ticket,omitempty"` // 场所订单号
	Symbol            string  `json:"symbol"`
	Side              Side    `json:"type"`
	Volume            float64 `json:"volume"`
	Price             float64 `json:"price"`
	StopLoss          float64 `json:"sl,omitempty"`
	TakeProfit        float64 `json:"tp,omitempty"`
	ProfitTarget      float64 `json:"profit_amount_target,omitempty"`
	ProtectionDropped bool    `json:"protection_dropped,omitempty"` // 已降级为无止损止盈重发
	Code              int     `json:"code,omitempty"`               // 场所返回码
	Message           string  `json:"message,omitempty"`
}
