package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"askgpt-backend/internal/config"
	"askgpt-backend/internal/handler"
	"askgpt-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	chatHandler := handler.NewChatHandler(a.chat, a.settings, a.cfg.Server.AuthSecret)
	router := handler.SetupRouter(a.cfg, chatHandler)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    a.cfg.Server.ReadTimeout,
		WriteTimeout:   a.cfg.Server.WriteTimeout,
		MaxHeaderBytes: a.cfg.Server.MaxHeaderBytes,
	}

	// 配置文件变更时只重新应用日志级别
	config.Watch(func(c *config.Config) {
		logger.SetLevel(c.Log.Level)
		logger.Infof("Config reloaded, log level %s", c.Log.Level)
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("服务器启动在端口 %d", a.cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("服务器启动失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("服务器正在关闭...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("服务器关闭失败: %w", err)
		}
		logger.Info("服务器已关闭")
		return nil
	})

	return g.Wait()
}
