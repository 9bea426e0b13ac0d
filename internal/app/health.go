package app

import (
	"github.com/gin-gonic/gin"

	"github.com/jpt262/dialup/internal/gateway"
	"github.com/jpt262/dialup/internal/health"
	"github.com/jpt262/dialup/internal/tcpserver"
)

// NewReady 创建就绪聚合
func NewReady() *health.Readiness { return health.New() }

// NewHealthAggregator 创建健康检查聚合器
func NewHealthAggregator(node *gateway.Node) *health.Aggregator {
	// 初始时只添加节点检查器
	return health.NewAggregator(
		health.NewNodeChecker(node),
	)
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}

// AddFeedChecker 馈送服务启动后补充其检查器
func AddFeedChecker(aggregator *health.Aggregator, feedServer *tcpserver.Server) {
	aggregator.AddChecker(health.NewFeedChecker(feedServer))
}
