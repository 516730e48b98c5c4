package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/betbot/orderbridge/internal/venue"
	"github.com/betbot/orderbridge/internal/venue/rest"
	"github.com/betbot/orderbridge/pkg/config"
	"github.com/betbot/orderbridge/pkg/ratelimit"
)

const (
	MainnetURL = "https://api.bybit.com"
	TestnetURL = "https://api-testnet.bybit.com"
	DemoURL    = "https://api-demo.bybit.com"

	categoryLinear = "linear"
)

// BaseURLFor 按配置选择域名：base_url > testnet > demo > 主网
func BaseURLFor(cfg config.BybitConfig) string {
	switch {
	case cfg.BaseURL != "":
		return cfg.BaseURL
	case cfg.Testnet:
		return TestnetURL
	case cfg.Demo:
		return DemoURL
	}
	return MainnetURL
}

// client 签名 + 限速 + v5 envelope 解码
type client struct {
	http       *rest.Client
	limits     *ratelimit.RateLimitManager
	apiKey     string
	apiSecret  string
	recvWindow string
	now        func() time.Time
	// onConnLoss 连接类错误回调（网络不可达、认证失败）
	onConnLoss func()
}

func newClient(cfg config.BybitConfig, limits *ratelimit.RateLimitManager) *client {
	rw := cfg.RecvWindowMs
	if rw <= 0 {
		rw = 5000
	}
	if limits == nil {
		limits = ratelimit.NewRateLimitManager()
	}
	return &client{
		http:       rest.NewClient(BaseURLFor(cfg), rest.DefaultTimeout),
		limits:     limits,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: strconv.Itoa(rw),
		now:        time.Now,
	}
}

func (c *client) headers(payload string) map[string]string {
	ts := c.now().UnixMilli()
	return map[string]string{
		"X-BAPI-API-KEY":     c.apiKey,
		"X-BAPI-TIMESTAMP":   strconv.FormatInt(ts, 10),
		"X-BAPI-RECV-WINDOW": c.recvWindow,
		"X-BAPI-SIGN":        Sign(c.apiSecret, ts, c.apiKey, c.recvWindow, payload),
	}
}

// get 签名 GET 请求；query 按 key 排序编码后参与签名
func (c *client) get(ctx context.Context, class, path string, query url.Values, out any) error {
	qs := query.Encode()
	endpoint := path
	if qs != "" {
		endpoint += "?" + qs
	}
	return c.do(ctx, class, http.MethodGet, endpoint, qs, nil, out)
}

// post 签名 POST 请求；签名使用与发送完全一致的 body
func (c *client) post(ctx context.Context, class, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return venue.Validation("序列化请求失败: %v", err)
	}
	return c.do(ctx, class, http.MethodPost, path, string(raw), raw, out)
}

func (c *client) do(ctx context.Context, class, method, endpoint, payload string, body []byte, out any) error {
	err := c.send(ctx, class, method, endpoint, payload, body, out)
	if c.onConnLoss != nil && venue.KindOf(err) == venue.KindConnectivity {
		c.onConnLoss()
	}
	return err
}

func (c *client) send(ctx context.Context, class, method, endpoint, payload string, body []byte, out any) error {
	if err := c.limits.Wait(ctx, class); err != nil {
		return transportError(endpoint, err)
	}
	opt := &rest.RequestOptions{Headers: c.headers(payload)}
	if body != nil {
		opt.Data = body
	}
	var env envelope
	resp, err := c.http.DoRequest(ctx, method, endpoint, opt, &env)
	if err := rest.CheckResponse(resp, err); err != nil {
		return transportError(endpoint, err)
	}
	if env.RetCode != 0 {
		return rejection(env.RetCode, env.RetMsg)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("bybit: 解析 %s 响应失败: %w", endpoint, err)
		}
	}
	return nil
}

func transportError(endpoint string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &venue.Error{Kind: venue.KindTimeout, Message: "bybit " + endpoint + " 超时，操作可能仍会在交易场所完成", Err: venue.ErrTimeout}
	}
	var se *rest.StatusError
	if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
		return venue.Connectivity(err, "bybit 认证失败 (%d)", se.Status)
	}
	return venue.Connectivity(err, "bybit 请求 %s 失败: %v", endpoint, err)
}
