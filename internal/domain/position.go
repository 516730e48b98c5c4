package domain

import "time"

// Position 持仓记录，由交易场所拥有，这里只读取和转换
type Position struct {
	Ticket         string    `json:"ticket"`
	OpenedAt       time.Time `json:"-"`
	Time           string    `json:"time"` // 2006-01-02 15:04:05
	Side           Side      `json:"type"`
	Volume         float64   `json:"volume"`
	Symbol         string    `json:"symbol"`                    // 场所原生品种
	OriginalSymbol string    `json:"original_symbol,omitempty"` // 反向映射后的外部品种
	PriceOpen      float64   `json:"price_open"`
	PriceCurrent   float64   `json:"price_current"`
	StopLoss       float64   `json:"sl"`
	TakeProfit     float64   `json:"tp"`
	Profit         float64   `json:"profit"`
	Swap           float64   `json:"swap"`
	Comment        string    `json:"comment"`
}

// Stamp 根据 OpenedAt 填充展示用时间
func (p *Position) Stamp() {
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}
	p.Time = p.OpenedAt.Format("2006-01-02 15:04:05")
}

// AccountInfo 账户信息
type AccountInfo struct {
	Login       string  `json:"login"`
	Server      string  `json:"server"`
	Name        string  `json:"name"`
	Currency    string  `json:"currency"`
	Leverage    int     `json:"leverage"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	MarginFree  float64 `json:"margin_free"`
	MarginLevel float64 `json:"margin_level"`
}
