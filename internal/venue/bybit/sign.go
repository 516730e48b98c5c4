package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sign 构建 Bybit v5 请求签名：
// HMAC_SHA256(secret, timestamp + apiKey + recvWindow + payload)，hex 编码。
// GET 的 payload 是排序后的 query string，POST 是原始 JSON body。
func Sign(secret string, timestampMs int64, apiKey, recvWindow, payload string) string {
	message := strconv.FormatInt(timestampMs, 10) + apiKey + recvWindow + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
