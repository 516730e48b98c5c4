package bybit

import (
	"encoding/json"
	"strconv"
)

// envelope v5 统一响应
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type instrumentsResult struct {
	List []struct {
		Symbol      string `json:"symbol"`
		Status      string `json:"status"`
		PriceScale  string `json:"priceScale"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			QtyStep     string `json:"qtyStep"`
			MinOrderQty string `json:"minOrderQty"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

type orderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type positionsResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Size          string `json:"size"`
		PositionIdx   int    `json:"positionIdx"`
		AvgPrice      string `json:"avgPrice"`
		MarkPrice     string `json:"markPrice"`
		StopLoss      string `json:"stopLoss"`
		TakeProfit    string `json:"takeProfit"`
		UnrealisedPnl string `json:"unrealisedPnl"`
		CreatedTime   string `json:"createdTime"`
	} `json:"list"`
}

type walletResult struct {
	List []struct {
		AccountType           string `json:"accountType"`
		TotalWalletBalance    string `json:"totalWalletBalance"`
		TotalEquity           string `json:"totalEquity"`
		TotalMarginBalance    string `json:"totalMarginBalance"`
		TotalAvailableBalance string `json:"totalAvailableBalance"`
		AccountIMRate         string `json:"accountIMRate"`
	} `json:"list"`
}

// orderBody /v5/order/create 请求体
type orderBody struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	StopLoss    string `json:"stopLoss,omitempty"`
	TakeProfit  string `json:"takeProfit,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
	PositionIdx *int   `json:"positionIdx,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
}

// num Bybit 数值字段均为字符串，空串或非法值按 0 处理
func num(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func fmtNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
