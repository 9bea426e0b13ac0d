package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jpt262/dialup/internal/tcpserver"
)

// FeedChecker 采样馈送服务健康检查器
type FeedChecker struct {
	server *tcpserver.Server
}

// NewFeedChecker 创建馈送健康检查器
func NewFeedChecker(server *tcpserver.Server) *FeedChecker {
	return &FeedChecker{server: server}
}

// Name 返回检查器名称
func (c *FeedChecker) Name() string {
	return "feed"
}

// Check 执行健康检查
func (c *FeedChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if c.server == nil || c.server.Addr() == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "feed server not listening",
			Latency: time.Since(start),
		}
	}

	stats := c.server.Limiter()

	// 判断健康状态
	status := StatusHealthy
	message := "ok"

	if stats.Utilization > 0.8 {
		status = StatusDegraded
		message = "high connection usage"
	}

	if stats.Utilization > 0.95 {
		status = StatusUnhealthy
		message = "connection limit near exhausted"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"addr":               c.server.Addr().String(),
			"active_connections": stats.ActiveConnections,
			"max_connections":    stats.MaxConnections,
			"rejected_total":     stats.RejectedTotal,
			"utilization":        fmt.Sprintf("%.1f%%", stats.Utilization*100),
		},
		Latency: time.Since(start),
	}
}
