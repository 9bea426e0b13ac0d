package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jpt262/dialup/internal/api/middleware"
	"github.com/jpt262/dialup/internal/gateway"
)

// RegisterNodeRoutes 注册节点管理路由
func RegisterNodeRoutes(
	r *gin.Engine,
	node *gateway.Node,
	events *EventsHandler,
	authCfg middleware.AuthConfig,
	logger *zap.Logger,
) {
	if r == nil || node == nil {
		return
	}

	// 创建Handler
	handler := NewNodeHandler(node, logger)

	// API路由组(需要认证)
	api := r.Group("/api")
	api.Use(middleware.CORS())
	// 预检请求要有可匹配的路由，组中间件才会执行；CORS 在链上提前放行
	api.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	// 节点状态
	api.GET("/status", handler.Status)
	api.GET("/peers", handler.Peers)
	api.GET("/routes", handler.Routes)
	api.PUT("/mode", handler.SetMode)

	// 消息发送
	api.POST("/messages", handler.SendMessage)
	api.POST("/frames", handler.EmitFrame)

	// 事件流
	endpoints := 6
	if events != nil {
		api.GET("/events", events.Serve)
		endpoints++
	}

	logger.Info("node routes registered", zap.Int("endpoints", endpoints))
}
