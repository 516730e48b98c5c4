package bybit

import (
	"regexp"

	"github.com/betbot/orderbridge/internal/venue"
)

// 认证/权限类返回码，映射为连接错误
var authCodes = map[int]bool{
	10003: true, // invalid api key
	10004: true, // invalid sign
	10005: true, // permission denied
	10007: true, // user authentication failed
	33004: true, // api key expired
}

// 拒单原因指向止损/止盈参数时允许降级重发
var protectiveMsg = regexp.MustCompile(`(?i)(stop[ _-]?loss|take[ _-]?profit|\bsl\b|\btp\b|tp/sl|tpsl)`)

func rejection(code int, msg string) error {
	if authCodes[code] {
		return &venue.Error{Kind: venue.KindConnectivity, Code: code, Message: msg, Err: venue.ErrNotConnected}
	}
	return venue.Rejected(code, msg, protectiveMsg.MatchString(msg))
}
