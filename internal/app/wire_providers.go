//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	cfgpkg "github.com/jpt262/dialup/internal/config"
	"github.com/jpt262/dialup/internal/gateway"
	"github.com/jpt262/dialup/internal/logging"
	"github.com/jpt262/dialup/internal/metrics"
)

// ProvideLogger 提供Logger
func ProvideLogger(cfg *cfgpkg.Config) (*zap.Logger, error) {
	return logging.InitLogger(cfg.Logging)
}

// ProvideMetrics 提供Metrics
func ProvideMetrics() (*prometheus.Registry, *metrics.AppMetrics) {
	return NewMetrics()
}

// ProvideNodeID 提供节点ID
func ProvideNodeID(cfg *cfgpkg.Config) string {
	if cfg.Node.ID != "" {
		return cfg.Node.ID
	}
	return GenerateNodeID()
}

// ProvideNode 提供网关节点
func ProvideNode(cfg *cfgpkg.Config, nodeID string, log *zap.Logger, appm *metrics.AppMetrics) (*gateway.Node, error) {
	return NewNode(cfg, nodeID, log, appm)
}

// ProviderSet Wire Provider集合
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideNodeID,
	ProvideNode,
)
