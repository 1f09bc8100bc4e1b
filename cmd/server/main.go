package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chatcoin/api"
	docs "chatcoin/api/docs"
	"chatcoin/internal/config"
	"chatcoin/internal/infra"
	"chatcoin/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// 等待进行中的流式对话完成结算的最长时间
const shutdownTimeout = 30 * time.Second

// @title ChatCoin API
// @version 1.0
// @description 按 token 计费的 AI 对话服务 API
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatcoin: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if path := findEnvFile(); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("加载 %s 失败: %w", path, err)
		}
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	cfg, err := config.Load(env, "")
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()

	logger.Info("chatcoin 启动", zap.String("env", env), zap.String("mode", cfg.Server.Mode))

	docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", cfg.Server.Port)

	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := infra.CloseDatabase(); err != nil {
			logger.Error("关闭数据库失败", zap.Error(err))
		}
	}()

	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(db, api.AllModels()...); err != nil {
			return fmt.Errorf("迁移表结构失败: %w", err)
		}
	}

	gin.SetMode(cfg.Server.Mode)

	container, err := api.InitContainer(db, cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.SetupRouter(container),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	if container.WorkerServer != nil {
		if err := container.WorkerServer.Start(); err != nil {
			return fmt.Errorf("启动 worker 失败: %w", err)
		}
		defer container.WorkerServer.Shutdown()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务监听", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP 服务异常退出: %w", err)
	case <-ctx.Done():
	}

	logger.Info("收到退出信号，等待进行中的请求结束")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP 服务关闭超时", zap.Error(err))
	}
	return nil
}

// findEnvFile 从工作目录向上查找 .env，找不到时再看可执行文件所在目录
func findEnvFile() string {
	var starts []string
	if wd, err := os.Getwd(); err == nil {
		starts = append(starts, wd)
	}
	if exe, err := os.Executable(); err == nil {
		starts = append(starts, filepath.Dir(exe))
	}

	for _, dir := range starts {
		for {
			path := filepath.Join(dir, ".env")
			if _, err := os.Stat(path); err == nil {
				return path
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return ""
}
