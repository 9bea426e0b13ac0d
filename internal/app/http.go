package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	cfgpkg "github.com/jpt262/dialup/internal/config"
	"github.com/jpt262/dialup/internal/httpserver"
)

// NewHTTPServer 根据配置创建 HTTP 服务器
func NewHTTPServer(cfg cfgpkg.HTTPConfig, metricsPath string, metricsHandler http.Handler, readyFn func() bool, register func(*gin.Engine)) *httpserver.Server {
	return httpserver.New(cfg, metricsPath, metricsHandler, readyFn, register)
}
