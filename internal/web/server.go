package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/KNICEX/price-sentinel/internal/repo"
	"github.com/KNICEX/price-sentinel/internal/schedule"
	"github.com/KNICEX/price-sentinel/internal/service/alert"
	"github.com/gin-gonic/gin"
)

// StatusReporter 调度循环最近一次运行情况, 由 schedule.Runner 实现
type StatusReporter interface {
	Status() schedule.Status
}

type ServerConfig struct {
	Addr         string
	Alerts       repo.AlertRepo
	Transitioner *alert.Transitioner
	Runners      []StatusReporter
	// 可选: 提醒详情附带通知记录
	Notifications repo.NotificationLogRepo
	// 可选: 接近目标价列表需要实时价格
	Prices PriceLookup
}

// Server 提醒管理与健康检查 HTTP 服务
type Server struct {
	addr   string
	router *gin.Engine
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Alerts == nil || cfg.Transitioner == nil {
		return nil, errors.New("web server requires alert repo and transitioner")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	h := &handler{
		alerts:        cfg.Alerts,
		notifications: cfg.Notifications,
		prices:        cfg.Prices,
		transitioner:  cfg.Transitioner,
		runners:       cfg.Runners,
	}
	router.GET("/health", h.health)
	h.register(router.Group("/api/alerts"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return s.addr
}

// Start 启动 HTTP 服务, 直到 ctx 取消或监听失败
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		slog.Info("http server stopped", "addr", s.addr)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "ip", c.ClientIP(), "dur", time.Since(start))
	}
}
