package mt5

// 网关 JSON 结构，字段名与 MetaTrader5 终端 API 保持一致

type symbolInfo struct {
	Name            string  `json:"name"`
	VolumeMin       float64 `json:"volume_min"`
	VolumeMax       float64 `json:"volume_max"`
	VolumeStep      float64 `json:"volume_step"`
	TradeTickSize   float64 `json:"trade_tick_size"`
	TradeTickValue  float64 `json:"trade_tick_value"`
	TradeStopsLevel int     `json:"trade_stops_level"`
	Point           float64 `json:"point"`
	Digits          int     `json:"digits"`
	FillingMode     int     `json:"filling_mode"`
}

type tickInfo struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
	Time int64   `json:"time"`
}

type connectRequest struct {
	Login    int64  `json:"login,omitempty"`
	Password string `json:"password,omitempty"`
	Server   string `json:"server,omitempty"`
	Path     string `json:"path,omitempty"`
}

type connectResult struct {
	Terminal struct {
		Name  string `json:"name"`
		Build int    `json:"build"`
	} `json:"terminal"`
	Login  int64  `json:"login"`
	Server string `json:"server"`
}

// orderRequest 对应 TRADE_ACTION_DEAL
type orderRequest struct {
	Action      string  `json:"action"`
	Symbol      string  `json:"symbol"`
	Volume      float64 `json:"volume"`
	Type        string  `json:"type"` // buy / sell
	Price       float64 `json:"price"`
	SL          float64 `json:"sl"`
	TP          float64 `json:"tp"`
	Deviation   int     `json:"deviation"`
	Magic       int64   `json:"magic"`
	Comment     string  `json:"comment,omitempty"`
	TypeTime    string  `json:"type_time"`
	TypeFilling string  `json:"type_filling"`
	Position    int64   `json:"position,omitempty"` // 平仓时指定持仓票据
}

type orderResult struct {
	Retcode int     `json:"retcode"`
	Order   int64   `json:"order"`
	Deal    int64   `json:"deal"`
	Volume  float64 `json:"volume"`
	Price   float64 `json:"price"`
	Comment string  `json:"comment"`
}

type positionInfo struct {
	Ticket       int64   `json:"ticket"`
	Time         int64   `json:"time"`
	Type         int     `json:"type"` // 0 = buy, 1 = sell
	Volume       float64 `json:"volume"`
	Symbol       string  `json:"symbol"`
	PriceOpen    float64 `json:"price_open"`
	PriceCurrent float64 `json:"price_current"`
	SL           float64 `json:"sl"`
	TP           float64 `json:"tp"`
	Profit       float64 `json:"profit"`
	Swap         float64 `json:"swap"`
	Comment      string  `json:"comment"`
}

type accountInfo struct {
	Login       int64   `json:"login"`
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
