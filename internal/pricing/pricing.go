// Package pricing 止损/止盈价格计算与数量规范化。
// 所有函数都是输入与品种规则的纯函数，不做 I/O。
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betbot/orderbridge/internal/domain"
)

var (
	// ErrFactsUnavailable 品种规则缺失或无效，调用方应跳过该保护价
	ErrFactsUnavailable = errors.New("pricing: 品种信息不可用")
	// ErrZeroQuantity 规范化后数量为 0
	ErrZeroQuantity = errors.New("pricing: 交易量规范化后为 0")
	// ErrInvalidPrice 入场价或计算结果无效
	ErrInvalidPrice = errors.New("pricing: 价格无效")
)

// TakeProfit 目标盈利模式的计算结果
type TakeProfit struct {
	Price     float64
	Unclamped float64 // 夹紧前的值（已取整）
	Clamped   bool    // 太接近入场价，已调整到最小距离边界
	Ticks     float64 // 需要的 tick 数
}

// Quantity 数量规范化结果
type Quantity struct {
	Value     float64
	Requested float64
	Raised    bool // 低于最小下单量，已上调
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// RoundToTick 取整到最近的 tick 倍数（半数远离 0）。tick<=0 时原样返回。
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := dec(tick)
	return dec(price).Div(t).Round(0).Mul(t).InexactFloat64()
}

// RoundToDigits 保留 digits 位小数
func RoundToDigits(price float64, digits int) float64 {
	return dec(price).Round(int32(digits)).InexactFloat64()
}

// Decimals 返回一个步长/精度值的小数位数，例如 0.001 -> 3, 0.5 -> 1, 10 -> 0
func Decimals(step float64) int {
	if step <= 0 {
		return 0
	}
	exp := dec(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

// StopLossByPercent 百分比止损：
// 距离 = entry*pct/100，多单 entry-距离，空单 entry+距离，取整到 tick。
func StopLossByPercent(entry float64, side domain.Side, pct float64, facts *domain.InstrumentFacts) (float64, error) {
	if facts == nil {
		return 0, ErrFactsUnavailable
	}
	if entry <= 0 || pct <= 0 {
		return 0, fmt.Errorf("%w: entry=%v pct=%v", ErrInvalidPrice, entry, pct)
	}
	e := dec(entry)
	dist := e.Mul(dec(pct)).Div(decimal.NewFromInt(100))

	var sl decimal.Decimal
	if side.IsLong() {
		sl = e.Sub(dist)
	} else {
		sl = e.Add(dist)
	}

	if facts.TickSize > 0 {
		t := dec(facts.TickSize)
		sl = sl.Div(t).Round(0).Mul(t)
	}
	if !sl.IsPositive() {
		return 0, fmt.Errorf("%w: 止损价 %s <= 0", ErrInvalidPrice, sl.String())
	}
	return sl.InexactFloat64(), nil
}

// TakeProfitByTarget 目标盈利止盈：
// ticks = profit / (tickValue*qty)，多单 entry+ticks*tick，空单 entry-ticks*tick；
// 结果不得比 MinDistance 更接近入场价，最后保留 Digits 位小数。
func TakeProfitByTarget(entry float64, side domain.Side, qty, profit float64, facts *domain.InstrumentFacts) (TakeProfit, error) {
	if facts == nil || facts.TickSize <= 0 || facts.TickValue <= 0 {
		return TakeProfit{}, ErrFactsUnavailable
	}
	if entry <= 0 || qty <= 0 || profit <= 0 {
		return TakeProfit{}, fmt.Errorf("%w: entry=%v qty=%v profit=%v", ErrInvalidPrice, entry, qty, profit)
	}

	e := dec(entry)
	ticks := dec(profit).Div(dec(facts.TickValue).Mul(dec(qty)))
	move := ticks.Mul(dec(facts.TickSize))
	minDist := dec(facts.MinDistance)
	digits := int32(facts.Digits)

	var raw, bound decimal.Decimal
	if side.IsLong() {
		raw, bound = e.Add(move), e.Add(minDist)
	} else {
		raw, bound = e.Sub(move), e.Sub(minDist)
	}

	tp := raw
	clamped := false
	if (side.IsLong() && raw.LessThan(bound)) || (!side.IsLong() && raw.GreaterThan(bound)) {
		tp, clamped = bound, true
	}

	out := TakeProfit{
		Unclamped: raw.Round(digits).InexactFloat64(),
		Clamped:   clamped,
		Ticks:     ticks.InexactFloat64(),
	}

	// 取整不能把价格拉回最小距离以内
	switch {
	case clamped && side.IsLong():
		tp = tp.RoundCeil(digits)
	case clamped:
		tp = tp.RoundFloor(digits)
	default:
		tp = tp.Round(digits)
		if side.IsLong() && tp.LessThan(bound) {
			tp = bound.RoundCeil(digits)
		} else if !side.IsLong() && tp.GreaterThan(bound) {
			tp = bound.RoundFloor(digits)
		}
	}
	if !tp.IsPositive() {
		return TakeProfit{}, fmt.Errorf("%w: 止盈价 %s <= 0", ErrInvalidPrice, tp.String())
	}
	out.Price = tp.InexactFloat64()
	return out, nil
}

// NormalizeQuantity 数量规范化：低于最小量则上调到最小量，再取整到最近的步长倍数。
// 结果一定是步长倍数且不低于最小量。
func NormalizeQuantity(qty float64, facts *domain.InstrumentFacts) (Quantity, error) {
	if facts == nil {
		return Quantity{}, ErrFactsUnavailable
	}
	out := Quantity{Requested: qty}
	if qty <= 0 {
		return out, ErrZeroQuantity
	}

	q := dec(qty)
	minQty := dec(facts.MinQty)
	if facts.MinQty > 0 && q.LessThan(minQty) {
		q = minQty
		out.Raised = true
	}

	if facts.QtyStep > 0 {
		step := dec(facts.QtyStep)
		q = q.Div(step).Round(0).Mul(step)
		if facts.MinQty > 0 && q.LessThan(minQty) {
			// 最小量不是步长整数倍时，取不低于最小量的第一个步长倍数
			q = minQty.Div(step).Ceil().Mul(step)
		}
	}

	if !q.IsPositive() {
		return out, ErrZeroQuantity
	}
	out.Value = q.InexactFloat64()
	return out, nil
}
