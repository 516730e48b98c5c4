package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 支持的交易场所
const (
	VenueBybit = "bybit"
	VenueMT5   = "mt5"
	VenuePaper = "paper"
)

// BybitConfig Bybit 线性合约配置
type BybitConfig struct {
	APIKey       string `yaml:"api_key" json:"api_key"`
	APISecret    string `yaml:"api_secret" json:"api_secret"`
	Testnet      bool   `yaml:"testnet" json:"testnet"`
	Demo         bool   `yaml:"demo" json:"demo"`                     // 主网演示交易
	BaseURL      string `yaml:"base_url" json:"base_url"`             // 覆盖默认域名（测试/代理用）
	RecvWindowMs int    `yaml:"recv_window_ms" json:"recv_window_ms"` // 签名 recv_window，默认 5000
}

// MT5Config MetaTrader 5 网关配置
type MT5Config struct {
	GatewayURL string `yaml:"gateway_url" json:"gateway_url"` // 终端侧 HTTP 网关地址
	APIToken   string `yaml:"api_token" json:"api_token"`
	Login      int64  `yaml:"login" json:"login"`
	Password   string `yaml:"password" json:"password"`
	Server     string `yaml:"server" json:"server"`
	Path       string `yaml:"path" json:"path"` // 终端安装路径（可选）
	Deviation  int    `yaml:"deviation" json:"deviation"`
	Magic      int64  `yaml:"magic" json:"magic"`
}

// PaperConfig 模拟交易配置
type PaperConfig struct {
	Instruments []PaperInstrument `yaml:"instruments" json:"instruments"`
}

// PaperInstrument 模拟交易品种
type PaperInstrument struct {
	Symbol       string  `yaml:"symbol" json:"symbol"`
	TickSize     float64 `yaml:"tick_size" json:"tick_size"`
	QtyStep      float64 `yaml:"qty_step" json:"qty_step"`
	MinQty       float64 `yaml:"min_qty" json:"min_qty"`
	MinDistance  float64 `yaml:"min_distance" json:"min_distance"`
	Digits       int     `yaml:"digits" json:"digits"`
	TickValue    float64 `yaml:"tick_value" json:"tick_value"`
	Bid          float64 `yaml:"bid" json:"bid"`
	Ask          float64 `yaml:"ask" json:"ask"`
	StartBalance float64 `yaml:"start_balance" json:"start_balance"`
}

// VenueConfig 交易场所选择
type VenueConfig struct {
	Kind  string      `yaml:"kind" json:"kind"` // bybit | mt5 | paper
	Bybit BybitConfig `yaml:"bybit" json:"bybit"`
	MT5   MT5Config   `yaml:"mt5" json:"mt5"`
	Paper PaperConfig `yaml:"paper" json:"paper"`
}

// ServerConfig WebSocket 服务配置
type ServerConfig struct {
	Listen              string   `yaml:"listen" json:"listen"`
	Path                string   `yaml:"path" json:"path"`
	MaxMessageBytes     int64    `yaml:"max_message_bytes" json:"max_message_bytes"`
	PingIntervalSeconds int      `yaml:"ping_interval_seconds" json:"ping_interval_seconds"`
	PongTimeoutSeconds  int      `yaml:"pong_timeout_seconds" json:"pong_timeout_seconds"`
	AllowedOrigins      []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// ExecutionConfig 下单执行配置
type ExecutionConfig struct {
	Workers                  int     `yaml:"workers" json:"workers"`
	QueueSize                int     `yaml:"queue_size" json:"queue_size"`
	OrderTimeoutSeconds      int     `yaml:"order_timeout_seconds" json:"order_timeout_seconds"`
	CloseTimeoutSeconds      int     `yaml:"close_timeout_seconds" json:"close_timeout_seconds"`
	ReconnectIntervalSeconds int     `yaml:"reconnect_interval_seconds" json:"reconnect_interval_seconds"`
	DefaultStopLossPct       float64 `yaml:"default_stop_loss_pct" json:"default_stop_loss_pct"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// SecretsConfig badger 密钥库配置
type SecretsConfig struct {
	BadgerPath string `yaml:"badger_path" json:"badger_path"`
	KeyEnv     string `yaml:"key_env" json:"key_env"` // 存放加密 key 的环境变量名
}

// MetricsConfig 调试/指标服务
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"` // 为空则不启动
}

// Config 应用配置
type Config struct {
	Venue     VenueConfig     `yaml:"venue" json:"venue"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Execution ExecutionConfig `yaml:"execution" json:"execution"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Secrets   SecretsConfig   `yaml:"secrets" json:"secrets"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`

	// path 配置文件路径，symbol_mapping 持久化写回此文件
	path string
}

// Path 返回加载时使用的配置文件路径
func (c *Config) Path() string { return c.path }

// OrderTimeout 开仓超时
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Execution.OrderTimeoutSeconds) * time.Second
}

// CloseTimeout 平仓超时
func (c *Config) CloseTimeout() time.Duration {
	return time.Duration(c.Execution.CloseTimeoutSeconds) * time.Second
}

// ReconnectInterval 重连检查间隔
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Execution.ReconnectIntervalSeconds) * time.Second
}

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		Venue: VenueConfig{
			Kind: VenuePaper,
			Bybit: BybitConfig{
				RecvWindowMs: 5000,
			},
			MT5: MT5Config{
				Deviation: 20,
				Magic:     123456,
			},
		},
		Server: ServerConfig{
			Listen:              "0.0.0.0:8766",
			Path:                "/ws",
			MaxMessageBytes:     10 * 1024 * 1024, // 10MB
			PingIntervalSeconds: 60,
			PongTimeoutSeconds:  180,
		},
		Execution: ExecutionConfig{
			Workers:                  8,
			QueueSize:                256,
			OrderTimeoutSeconds:      90,
			CloseTimeoutSeconds:      90,
			ReconnectIntervalSeconds: 30,
			DefaultStopLossPct:       10,
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/bridge.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Secrets: SecretsConfig{
			KeyEnv: "BRIDGE_SECRET_KEY",
		},
	}
}

// LoadFromFile 加载配置（优先级：环境变量 > 配置文件 > 默认值）
// filePath 为空时只使用默认值和环境变量
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		cfg.path = filePath
	}

	applyEnv(cfg)
	cfg.Venue.Kind = strings.ToLower(strings.TrimSpace(cfg.Venue.Kind))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON），覆盖 cfg 中已有的默认值
func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

// applyEnv 用环境变量覆盖配置
func applyEnv(c *Config) {
	c.Venue.Kind = getEnv("BRIDGE_VENUE", c.Venue.Kind)

	c.Venue.Bybit.APIKey = getEnv("BYBIT_API_KEY", c.Venue.Bybit.APIKey)
	c.Venue.Bybit.APISecret = getEnv("BYBIT_API_SECRET", c.Venue.Bybit.APISecret)
	c.Venue.Bybit.Testnet = parseBoolEnv("BYBIT_TESTNET", c.Venue.Bybit.Testnet)
	c.Venue.Bybit.Demo = parseBoolEnv("BYBIT_DEMO", c.Venue.Bybit.Demo)
	c.Venue.Bybit.BaseURL = getEnv("BYBIT_BASE_URL", c.Venue.Bybit.BaseURL)

	c.Venue.MT5.GatewayURL = getEnv("MT5_GATEWAY_URL", c.Venue.MT5.GatewayURL)
	c.Venue.MT5.APIToken = getEnv("MT5_API_TOKEN", c.Venue.MT5.APIToken)
	c.Venue.MT5.Login = int64(parseIntEnv("MT5_LOGIN", int(c.Venue.MT5.Login)))
	c.Venue.MT5.Password = getEnv("MT5_PASSWORD", c.Venue.MT5.Password)
	c.Venue.MT5.Server = getEnv("MT5_SERVER", c.Venue.MT5.Server)

	c.Server.Listen = getEnv("BRIDGE_LISTEN", c.Server.Listen)
	c.Metrics.Listen = getEnv("BRIDGE_METRICS_LISTEN", c.Metrics.Listen)

	c.Execution.Workers = parseIntEnv("BRIDGE_WORKERS", c.Execution.Workers)
	c.Execution.OrderTimeoutSeconds = parseIntEnv("BRIDGE_ORDER_TIMEOUT", c.Execution.OrderTimeoutSeconds)
	c.Execution.DefaultStopLossPct = parseFloatEnv("BRIDGE_DEFAULT_SL_PCT", c.Execution.DefaultStopLossPct)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)

	c.Secrets.BadgerPath = getEnv("BRIDGE_SECRET_DB", c.Secrets.BadgerPath)
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Venue.Kind {
	case VenueBybit, VenuePaper:
	case VenueMT5:
		if strings.TrimSpace(c.Venue.MT5.GatewayURL) == "" {
			return fmt.Errorf("venue.mt5.gateway_url 未配置")
		}
	default:
		return fmt.Errorf("未知的交易场所: %q (支持 bybit, mt5, paper)", c.Venue.Kind)
	}
	if c.Venue.Bybit.Testnet && c.Venue.Bybit.Demo {
		return fmt.Errorf("bybit testnet 与 demo 不能同时开启")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen 不能为空")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path 必须以 / 开头: %q", c.Server.Path)
	}
	if c.Server.MaxMessageBytes <= 0 {
		return fmt.Errorf("server.max_message_bytes 必须大于 0")
	}
	if c.Server.PingIntervalSeconds <= 0 || c.Server.PongTimeoutSeconds <= c.Server.PingIntervalSeconds {
		return fmt.Errorf("server.pong_timeout_seconds 必须大于 ping_interval_seconds (>0)")
	}
	if c.Execution.Workers <= 0 {
		return fmt.Errorf("execution.workers 必须大于 0")
	}
	if c.Execution.QueueSize < 0 {
		return fmt.Errorf("execution.queue_size 不能为负数")
	}
	if c.Execution.OrderTimeoutSeconds <= 0 || c.Execution.CloseTimeoutSeconds <= 0 {
		return fmt.Errorf("execution 超时时间必须大于 0")
	}
	if c.Execution.ReconnectIntervalSeconds <= 0 {
		return fmt.Errorf("execution.reconnect_interval_seconds 必须大于 0")
	}
	if c.Execution.DefaultStopLossPct < 0 || c.Execution.DefaultStopLossPct >= 100 {
		return fmt.Errorf("execution.default_stop_loss_pct 必须在 [0, 100) 之间")
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}
