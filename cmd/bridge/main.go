package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/betbot/orderbridge/internal/execution"
	"github.com/betbot/orderbridge/internal/metrics"
	"github.com/betbot/orderbridge/internal/server"
	"github.com/betbot/orderbridge/internal/services"
	"github.com/betbot/orderbridge/internal/symbolmap"
	"github.com/betbot/orderbridge/internal/venue"
	"github.com/betbot/orderbridge/internal/venue/bybit"
	"github.com/betbot/orderbridge/internal/venue/mt5"
	"github.com/betbot/orderbridge/internal/venue/paper"
	"github.com/betbot/orderbridge/pkg/config"
	"github.com/betbot/orderbridge/pkg/executor"
	"github.com/betbot/orderbridge/pkg/logger"
	"github.com/betbot/orderbridge/pkg/persistence"
	"github.com/betbot/orderbridge/pkg/ratelimit"
	"github.com/betbot/orderbridge/pkg/secretstore"
	"github.com/betbot/orderbridge/pkg/shutdown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// .env 可选，缺失时使用真实环境变量
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", getenv("BRIDGE_CONFIG", "config.yaml"), "配置文件路径 (.yaml/.yml/.json)")
		venueKind  = flag.String("venue", "", "覆盖 venue.kind (bybit|mt5|paper)")
		listen     = flag.String("listen", "", "覆盖 server.listen")
	)
	flag.Parse()

	if err := run(*configPath, *venueKind, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, venueKind, listen string) error {
	if venueKind != "" {
		_ = os.Setenv("BRIDGE_VENUE", venueKind)
	}
	if listen != "" {
		_ = os.Setenv("BRIDGE_LISTEN", listen)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "配置文件 %s 不存在，使用默认配置\n", configPath)
		configPath = ""
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return errors.Wrap(err, "初始化日志失败")
	}
	defer logger.Close()

	if err := fillSecrets(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v, ex := buildVenue(cfg, ratelimit.NewRateLimitManager())
	ex.Start(ctx)

	var store persistence.Store = &persistence.MemoryStore{}
	if cfg.Path() != "" {
		ds, err := persistence.NewDocumentStore(cfg.Path(), "symbol_mapping")
		if err != nil {
			return errors.Wrap(err, "打开映射存储失败")
		}
		store = ds
	} else {
		logger.Warnf("未指定配置文件，符号映射只保存在内存中")
	}
	tr, err := symbolmap.New(store)
	if err != nil {
		return err
	}

	// 首次连接在 supervisor 中立即执行，失败不阻止服务启动
	sup := services.NewSupervisor(v, cfg.ReconnectInterval())

	orderTimeout, closeTimeout := cfg.OrderTimeout(), cfg.CloseTimeout()
	srv := server.New(cfg.Server, server.Deps{
		Orders: services.NewOrderService(v, tr, ex, services.OrderServiceConfig{
			Timeout:            orderTimeout,
			DefaultStopLossPct: cfg.Execution.DefaultStopLossPct,
		}),
		Positions: services.NewPositionService(v, tr, ex, closeTimeout),
		Accounts:  services.NewAccountService(v.Name(), v, tr, ex, orderTimeout),
		Mappings:  tr,
		Dedup:     execution.NewInFlightDeduper(execution.DefaultRequestTTL, 32),

		OnConnectivityError: sup.Kick,
	})
	sup.Start(ctx)

	if _, err := metrics.StartAsync(ctx, cfg.Metrics.Listen); err != nil {
		return errors.Wrap(err, "启动 metrics 服务失败")
	}
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Infof("交易桥已启动: 场所=%s, 监听=%s%s, 映射=%d", v.Name(), srv.Addr(), cfg.Server.Path, len(tr.All()))

	// 注册顺序与执行顺序相反：先停接入，再排空队列，最后断开场所
	sm := shutdown.NewManager()
	sm.OnShutdown("venue", func(context.Context) {
		if err := v.Close(); err != nil {
			logger.Warnf("关闭交易场所连接失败: %v", err)
		}
	})
	sm.OnShutdown("supervisor", func(context.Context) { sup.Stop() })
	sm.OnShutdown("executor", func(ctx context.Context) {
		if err := ex.Stop(ctx); err != nil {
			logger.Warnf("执行队列未能在超时前排空: %v", err)
		}
	})
	sm.OnShutdown("server", func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warnf("关闭服务失败: %v", err)
		}
	})

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-stopCh
	logger.Infof("收到信号 %s，开始关闭", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	sm.Shutdown(shutdownCtx)
	cancel()

	logger.Infof("交易桥已停止")
	return nil
}

// buildVenue 按配置创建交易场所适配器和对应的执行器
func buildVenue(cfg *config.Config, limits *ratelimit.RateLimitManager) (venue.Adapter, *executor.Pool) {
	workers, queue := cfg.Execution.Workers, cfg.Execution.QueueSize
	switch cfg.Venue.Kind {
	case config.VenueBybit:
		return bybit.New(cfg.Venue.Bybit, limits), executor.NewPool(queue, workers)
	case config.VenueMT5:
		// MT5 终端一次只处理一个交易请求
		return mt5.New(cfg.Venue.MT5, limits), executor.NewSerial(queue)
	default:
		return paper.New(cfg.Venue.Paper), executor.NewPool(queue, workers)
	}
}

// fillSecrets 配置中留空的凭证从 badger 密钥库补齐
func fillSecrets(cfg *config.Config) error {
	if cfg.Secrets.BadgerPath == "" {
		return nil
	}
	key, err := secretstore.ParseKey(os.Getenv(cfg.Secrets.KeyEnv))
	if err != nil {
		return errors.Wrapf(err, "解析 %s 失败", cfg.Secrets.KeyEnv)
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.Secrets.BadgerPath,
		EncryptionKey: key,
		ReadOnly:      true,
	})
	if err != nil {
		return errors.Wrap(err, "打开密钥库失败")
	}
	defer ss.Close()

	found, err := ss.Lookup(secretstore.CredentialKeys...)
	if err != nil {
		return errors.Wrap(err, "读取密钥库失败")
	}
	fill := func(dst *string, key string) {
		if *dst == "" && found[key] != "" {
			*dst = found[key]
			logger.Infof("从密钥库读取 %s", key)
		}
	}
	fill(&cfg.Venue.Bybit.APIKey, secretstore.KeyBybitAPIKey)
	fill(&cfg.Venue.Bybit.APISecret, secretstore.KeyBybitAPISecret)
	fill(&cfg.Venue.MT5.Password, secretstore.KeyMT5Password)
	fill(&cfg.Venue.MT5.APIToken, secretstore.KeyMT5APIToken)
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
