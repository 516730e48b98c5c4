package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/betbot/orderbridge/internal/venue"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request 客户端请求。id 可以是字符串或数字，原样回显。
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Action string          `json:"action"`
	Params Params          `json:"params"`
}

// Response 统一响应信封
type Response struct {
	ID        json.RawMessage `json:"id,omitempty"`
	Status    string          `json:"status"`
	Message   string          `json:"message,omitempty"`
	Data      interface{}     `json:"data,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Code      int             `json:"code,omitempty"`
}

func ok(msg string, data interface{}) Response {
	return Response{Status: StatusSuccess, Message: msg, Data: data}
}

func fail(msg string) Response {
	return Response{Status: StatusError, Message: msg}
}

// failErr 把场所错误转换为响应，带上分类和返回码
func failErr(prefix string, err error) Response {
	r := fail(err.Error())
	if prefix != "" {
		r.Message = prefix + ": " + err.Error()
	}
	if k := venue.KindOf(err); k != venue.KindUnknown {
		r.ErrorKind = k.String()
	}
	r.Code = venue.CodeOf(err)
	return r
}

// requestKey 去重用的请求 id；没有 id 时返回空串
func (r Request) requestKey() string {
	id := bytes.TrimSpace(r.ID)
	if len(id) == 0 || string(id) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}

// Params 请求参数
type Params map[string]interface{}

func (p Params) has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String 取第一个非空的字符串参数；数字按原样格式化
func (p Params) String(keys ...string) string {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// Float 读取数值参数，兼容数字字符串。缺失返回 0, false。
func (p Params) Float(key string) (float64, bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, true, fmt.Errorf("参数 %s 不是有效数字: %v", key, v)
		}
		f = x
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false, nil
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, true, fmt.Errorf("参数 %s 不是有效数字: %q", key, n)
		}
		f = x
	default:
		return 0, true, fmt.Errorf("参数 %s 类型无效: %T", key, v)
	}
	// NaN/Inf 无法序列化回客户端，也不能参与价格计算
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true, fmt.Errorf("参数 %s 不是有限数字: %v", key, v)
	}
	return f, true, nil
}

// decodeRequest 解析请求；params 缺失时给空 map
func decodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, err
	}
	if req.Params == nil {
		req.Params = Params{}
	}
	req.Action = strings.TrimSpace(req.Action)
	return req, nil
}
