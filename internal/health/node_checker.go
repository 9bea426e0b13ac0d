package health

import (
	"context"
	"time"

	"github.com/jpt262/dialup/internal/gateway"
	"github.com/jpt262/dialup/internal/mode"
)

// NodeChecker 节点健康检查器
type NodeChecker struct {
	node *gateway.Node
}

// NewNodeChecker 创建节点健康检查器
func NewNodeChecker(node *gateway.Node) *NodeChecker {
	return &NodeChecker{node: node}
}

// Name 返回检查器名称
func (c *NodeChecker) Name() string {
	return "node"
}

// Check 执行健康检查
func (c *NodeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if c.node == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "node not initialized",
			Latency: time.Since(start),
		}
	}

	stats := c.node.Stats()

	// 判断健康状态
	status := StatusHealthy
	message := "ok"

	// 静默模式下节点收发全停，API 仍可服务
	if stats.Mode == mode.ModeNone {
		status = StatusDegraded
		message = "no active channel"
	}

	// 帧失败率过高说明链路在恶化
	var decoded, failed uint64
	if stats.Visual != nil {
		decoded += stats.Visual.Decoded
		failed += stats.Visual.Failed
	}
	if stats.Audio != nil {
		decoded += stats.Audio.Decoded
		failed += stats.Audio.Failed
	}
	if total := decoded + failed; total >= 10 && float64(failed)/float64(total) > 0.5 {
		status = StatusDegraded
		message = "high frame failure rate"
	}

	details := map[string]interface{}{
		"node_id":        c.node.ID(),
		"mode":           stats.Mode,
		"uptime_seconds": c.node.Uptime().Seconds(),
		"frames_decoded": decoded,
		"frames_failed":  failed,
		"peers":          len(c.node.Mesh().Peers()),
		"fec_strength":   stats.FecStrength,
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
