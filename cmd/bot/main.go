package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"binance-rebalance-bot-go/internal/audit"
	"binance-rebalance-bot-go/internal/config"
	"binance-rebalance-bot-go/internal/exchange"
	"binance-rebalance-bot-go/internal/logger"
	"binance-rebalance-bot-go/internal/models"
	"binance-rebalance-bot-go/internal/scheduler"

	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live, once or validate")
	dryRun := flag.Bool("dry-run", false, "plan orders but never submit them")
	flag.Parse()

	// 在加载 .env 和配置文件之前就需要日志, 先用默认配置初始化
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载并校验 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if err := config.Validate(cfg); err != nil {
		logger.S().Fatalf("配置校验失败: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	// --- 凭证 ---
	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if err := config.ValidateCredentials(apiKey, secretKey, cfg.DryRun); err != nil {
		logger.S().Fatalf("凭证校验失败: %v", err)
	}
	if url := os.Getenv("BINANCE_API_URL"); url != "" {
		cfg.BaseURL = url
	}
	if cfg.IsTestnet {
		logger.S().Info("正在使用币安测试网...")
	}

	// --- 初始化交易所 ---
	ex := exchange.NewLiveExchange(apiKey, secretKey, cfg.BaseURL, cfg.IsTestnet, logger.L())

	// --- 初始化审计存储 ---
	// validate 模式不落盘, 避免只为一次校验就创建数据库
	var repo audit.Repository
	if *mode == "validate" {
		repo = audit.NewMemoryRepository()
	} else {
		repo, err = audit.NewBadgerRepository(cfg.DBPath)
		if err != nil {
			logger.S().Fatalf("打开审计数据库失败 (%s): %v", cfg.DBPath, err)
		}
	}
	defer repo.Close()

	sched := scheduler.New(cfg, ex, repo, logger.S())

	// 信号触发优雅停止: 不再触发新周期, 在途订单允许完成
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "validate":
		if err := sched.Validate(ctx); err != nil {
			logger.S().Fatalf("校验失败: %v", err)
		}
	case "once":
		if _, err := sched.RunOnce(ctx); err != nil {
			logger.S().Fatalf("周期执行失败: %v", err)
		}
	case "live":
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logger.S().Fatalf("调度器异常退出: %v", err)
		}
		logger.S().Info("调度器已停止。")
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live'、'once' 或 'validate'。", *mode)
	}
}
