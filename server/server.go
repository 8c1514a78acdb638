package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"VibeTune/cache"
	"VibeTune/config"
	"VibeTune/core/auth"
	"VibeTune/core/generation"
	"VibeTune/core/music"
	"VibeTune/core/vision"
	"VibeTune/db"
	"VibeTune/logger"
	"VibeTune/repository"
	"VibeTune/storage"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 5 * time.Second
	drainTimeout    = 30 * time.Second
)

// Run wires the service from cfg and serves until ctx is cancelled. On
// shutdown the HTTP server stops first, then in-flight generation jobs drain.
func Run(ctx context.Context, cfg *config.Config) error {
	gormDB, err := db.ConnectGormDB(cfg)
	if err != nil {
		return err
	}
	defer db.CloseGormDB(gormDB)
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	songs := repository.NewGormSongRepository(gormDB)
	if cfg.RedisEnabled {
		var client *redis.Client
		client, err = db.ConnectRedis(cfg)
		if err != nil {
			// 缓存不可用时直接访问数据库
			logger.Warn("[Server] Redis unavailable, song cache disabled", logger.ErrorField(err))
		} else {
			defer client.Close()
			songs = repository.NewCachedSongRepository(songs, cache.NewRedisSongCache(client, cfg.CacheTTL))
			logger.Info("[Server] song cache enabled", logger.Duration("ttl", cfg.CacheTTL))
		}
	}

	store, err := storage.NewMinioStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	analyzer, err := vision.NewAnalyzer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize video analyzer: %w", err)
	}
	lyria, err := music.NewLyriaClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize music client: %w", err)
	}

	jobs := generation.New(songs, store, analyzer, lyria)
	handler := NewAPIHandler(Deps{
		Songs:        songs,
		Users:        repository.NewGormUserRepository(gormDB),
		Store:        store,
		Prompts:      analyzer,
		Music:        lyria,
		Jobs:         jobs,
		Tokens:       auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiry),
		PollInterval: cfg.PollInterval,
	})

	// 设置服务器超时，同步生成最长需要 GenerationTimeout
	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("[Server] listening", logger.String("addr", cfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return config.Watch(gctx, cfg.ConfigFile, func(next *config.Config) {
			logger.SetLevel(logger.LogLevel(next.LogLevel))
			logger.Info("[Server] configuration reloaded", logger.String("logLevel", next.LogLevel))
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("[Server] shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("[Server] forced shutdown", logger.ErrorField(err))
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
		defer cancelDrain()
		if err := jobs.Shutdown(drainCtx); err != nil {
			logger.Warn("[Server] generation jobs cancelled", logger.ErrorField(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("[Server] stopped")
	return err
}
