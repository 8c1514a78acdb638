package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"VibeTune/config"
	"VibeTune/logger"

	"github.com/spf13/cobra"
)

var (
	cfg      *config.Config
	apiURL   string
	apiToken string
)

var rootCmd = &cobra.Command{
	Use:   "vibetune",
	Short: "VibeTune turns short video recordings into generated music.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute executes the root command.
func Execute() {
	// 收到中断信号时取消所有命令的上下文
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "VibeTune API base URL (defaults to PUBLIC_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("VIBETUNE_TOKEN"), "bearer token for the API")
}

// apiBaseURL returns the API the client commands talk to.
func apiBaseURL() string {
	if apiURL != "" {
		return apiURL
	}
	return cfg.PublicBaseURL
}
