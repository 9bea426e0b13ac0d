package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/jpt262/dialup/internal/config"
	"github.com/jpt262/dialup/internal/metrics"
	"github.com/jpt262/dialup/internal/tcpserver"
)

// NewFeedServer 根据配置创建采样馈送服务
func NewFeedServer(cfg cfgpkg.FeedConfig, log *zap.Logger, appm *metrics.AppMetrics, sink tcpserver.SampleSink) *tcpserver.Server {
	return tcpserver.New(cfg, log, appm, sink)
}

// NewEmitter 根据配置创建发射推送服务
func NewEmitter(cfg cfgpkg.EmitterConfig, log *zap.Logger) *tcpserver.Emitter {
	return tcpserver.NewEmitter(cfg, log)
}
