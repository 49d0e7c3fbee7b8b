package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lp-rfq/internal/app"
	"lp-rfq/internal/config"
	"lp-rfq/internal/log"
	"lp-rfq/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "rfq",
		Short:         "多报价源询价、锁定与对冲执行",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")

	root.AddCommand(
		newStreamCmd(&configPath),
		newStatsCmd(&configPath),
		newHistoryCmd(&configPath),
		newExecutionsCmd(&configPath),
	)
	return root
}

// runtime 为一次命令执行期间的依赖。
type runtime struct {
	logger *zap.Logger
	app    *app.App
	close  func()
}

func setup(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	rfqApp, err := app.New(ctx, cfg, logger, sqliteStore)
	if err != nil {
		_ = sqliteStore.Close()
		_ = logger.Sync()
		return nil, err
	}

	return &runtime{
		logger: logger,
		app:    rfqApp,
		close: func() {
			rfqApp.Close()
			if closeErr := sqliteStore.Close(); closeErr != nil {
				logger.Warn("关闭数据库失败", zap.Error(closeErr))
			}
			_ = logger.Sync()
		},
	}, nil
}
