package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dipbot/logger"
	"dipbot/trader"
)

// StatusProvider 引擎状态只读接口
type StatusProvider interface {
	Snapshot() trader.Status
}

// Server 只读状态HTTP服务。不提供任何交易操作入口。
type Server struct {
	httpServer *http.Server
}

// NewServer 创建状态服务
func NewServer(port int, provider StatusProvider) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, provider.Snapshot())
	})

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		},
	}
}

// Start 启动HTTP服务（非阻塞）
func (s *Server) Start() {
	go func() {
		logger.Log.Infof("✓ 状态API已启动: %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Errorf("❌ 状态API异常退出: %v", err)
		}
	}()
}

// Stop 平稳关闭
func (s *Server) Stop(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Log.Warnf("⚠️ 状态API关闭失败: %v", err)
	}
}
