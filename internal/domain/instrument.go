package domain

// InstrumentFacts 品种交易规则，每次请求实时获取，不缓存
type InstrumentFacts struct {
	Symbol      string
	TickSize    float64 // 最小价格变动
	QtyStep     float64 // 数量步长
	MinQty      float64 // 最小下单量
	MinDistance float64 // 止损止盈距入场价的最小距离（价格单位）
	Digits      int     // 价格小数位
	TickValue   float64 // 单位数量下一个 tick 的货币价值
}

// Quote 当前报价。没有独立买卖价的场所只填 Last。
type Quote struct {
	Bid  float64
	Ask  float64
	Last float64
}

// EntryFor 按方向取入场价：多用 ask，空用 bid，缺失时退回 last
func (q Quote) EntryFor(side Side) float64 {
	if side == SideBuy && q.Ask > 0 {
		return q.Ask
	}
	if side == SideSell && q.Bid > 0 {
		return q.Bid
	}
	return q.Last
}

// ExitFor 平掉 side 方向持仓时的对手价：多仓用 bid，空仓用 ask
func (q Quote) ExitFor(side Side) float64 {
	return q.EntryFor(side.Opposite())
}
