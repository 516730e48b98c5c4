package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadFromFile_YAMLOverridesDefaults(t *testing.T) {
	p := writeFile(t, "bridge.yaml", `
venue:
  kind: bybit
  bybit:
    api_key: k
    api_secret: s
    testnet: true
server:
  listen: 127.0.0.1:9000
execution:
  order_timeout_seconds: 45
symbol_mapping:
  BTCUSDT: BTCUSDm
`)
	cfg, err := LoadFromFile(p)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Venue.Kind != VenueBybit || !cfg.Venue.Bybit.Testnet {
		t.Fatalf("venue not loaded: %+v", cfg.Venue)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" {
		t.Fatalf("listen=%q", cfg.Server.Listen)
	}
	if cfg.OrderTimeout() != 45*time.Second {
		t.Fatalf("order timeout=%s", cfg.OrderTimeout())
	}
	// 未配置的字段保留默认值
	if cfg.ReconnectInterval() != 30*time.Second {
		t.Fatalf("reconnect=%s", cfg.ReconnectInterval())
	}
	if cfg.Server.Path != "/ws" || cfg.Server.MaxMessageBytes != 10*1024*1024 {
		t.Fatalf("server defaults lost: %+v", cfg.Server)
	}
	if cfg.Path() != p {
		t.Fatalf("path=%q", cfg.Path())
	}
}

func TestLoadFromFile_JSONAndEnv(t *testing.T) {
	p := writeFile(t, "config.json", `{"venue":{"kind":"mt5","mt5":{"gateway_url":"http://127.0.0.1:5000","login":1001}}}`)
	t.Setenv("MT5_PASSWORD", "pw")
	t.Setenv("BRIDGE_LISTEN", ":7000")

	cfg, err := LoadFromFile(p)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Venue.MT5.Login != 1001 || cfg.Venue.MT5.Password != "pw" {
		t.Fatalf("mt5=%+v", cfg.Venue.MT5)
	}
	if cfg.Venue.MT5.Magic != 123456 || cfg.Venue.MT5.Deviation != 20 {
		t.Fatalf("mt5 defaults lost: %+v", cfg.Venue.MT5)
	}
	if cfg.Server.Listen != ":7000" {
		t.Fatalf("env override not applied: %q", cfg.Server.Listen)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	cases := []struct {
		name string
		file string
		body string
	}{
		{"unsupported ext", "c.toml", "x=1"},
		{"unknown venue", "c.yaml", "venue: {kind: ftx}"},
		{"mt5 without gateway", "c.yaml", "venue: {kind: mt5}"},
		{"testnet and demo", "c.yaml", "venue: {kind: bybit, bybit: {testnet: true, demo: true}}"},
		{"bad stop pct", "c.yaml", "execution: {default_stop_loss_pct: 120}"},
		{"pong <= ping", "c.yaml", "server: {ping_interval_seconds: 60, pong_timeout_seconds: 30}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := writeFile(t, tc.file, tc.body)
			if _, err := LoadFromFile(p); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadFromFile_NoFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile("")
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Venue.Kind != VenuePaper {
		t.Fatalf("kind=%q", cfg.Venue.Kind)
	}
	if cfg.Execution.DefaultStopLossPct != 10 {
		t.Fatalf("default sl=%v", cfg.Execution.DefaultStopLossPct)
	}
}
