package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sgic-platform/sgic-audit/api"
	"github.com/sgic-platform/sgic-audit/cache"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := open()
		if err != nil {
			return err
		}
		defer e.close()
		cfg, logger := e.cfg, e.logger

		if cfg.Server.AdminKey == "" {
			logger.Warn("server.admin_key is not set; admin endpoints are disabled")
		}
		if cfg.Security.JWTSecret == "" {
			return errors.New("security.jwt_secret is required")
		}

		if err := model.AutoMigrate(e.db); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
		logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

		cacheConfig := cache.CacheConfig{
			RedisAddr:       cfg.Cache.RedisAddr,
			RedisPassword:   cfg.Cache.RedisPassword,
			RedisDB:         cfg.Cache.RedisDB,
			LocalGCInterval: cfg.Cache.LocalGCInterval,
			LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
		}
		c, err := cache.NewCache(cacheConfig)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		pubsub, err := cache.NewPubSub(cacheConfig)
		if err != nil {
			return fmt.Errorf("pubsub: %w", err)
		}
		logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

		if !cfg.Server.Debug {
			gin.SetMode(gin.ReleaseMode)
		}
		app := api.New(api.Deps{Config: cfg, DB: e.db, Cache: c, PubSub: pubsub, Logger: logger})
		defer app.Stop()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           app.Engine,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		errCh := make(chan error, 1)
		go func() {
			logger.Info("Server listening", zap.String("addr", srv.Addr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
