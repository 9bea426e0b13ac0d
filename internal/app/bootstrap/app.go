package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jpt262/dialup/internal/api"
	"github.com/jpt262/dialup/internal/api/middleware"
	"github.com/jpt262/dialup/internal/app"
	cfgpkg "github.com/jpt262/dialup/internal/config"
	"github.com/jpt262/dialup/internal/metrics"
	"github.com/jpt262/dialup/internal/tcpserver"
)

// Run 统一启动流程：先备好节点与出口，再开入口，最后等信号优雅收场
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting dialup node", zap.String("version", "1.0.0"))

	// ========== 阶段1: 初始化基础组件 ==========
	reg, appm := app.NewMetrics()
	var metricsHandler http.Handler
	if cfg.Metrics.Enable {
		metricsHandler = metrics.Handler(reg)
	}
	ready := app.NewReady()
	log.Info("basic components initialized")

	// ========== 阶段2: 构建链路节点（失败直接返回）==========
	nodeID := cfg.Node.ID
	if nodeID == "" {
		nodeID = app.GenerateNodeID()
	}
	node, err := app.NewNode(cfg, nodeID, log, appm)
	if err != nil {
		log.Error("node initialization failed", zap.Error(err))
		return err
	}
	log.Info("node built", zap.String("node_id", nodeID))

	// 事件流先挂回调再启动节点，发现期的对等体事件不落空
	events := api.NewEventsHandler(log, appm)
	events.Bind(node)

	// ========== 阶段3: 启动发射推送（渲染端出口，可选）==========
	var emitter *tcpserver.Emitter
	if cfg.Emitter.Addr != "" {
		emitter = app.NewEmitter(cfg.Emitter, log)
		if err := emitter.Start(); err != nil {
			log.Error("emitter start failed", zap.Error(err))
			return err
		}
		node.SetTransmitter(emitter)
		log.Info("emitter started", zap.String("addr", emitter.Addr().String()))
	} else {
		log.Warn("no emitter configured, transmit path disabled")
	}

	// ========== 阶段4: 启动HTTP服务（非阻塞）==========
	healthAgg := app.NewHealthAggregator(node)

	authCfg := middleware.AuthConfig{Enabled: cfg.HTTP.APIKey != ""}
	if authCfg.Enabled {
		authCfg.APIKeys = []string{cfg.HTTP.APIKey}
	}

	readyFn := func() bool { return ready.Ready() }
	httpSrv := app.NewHTTPServer(cfg.HTTP, cfg.Metrics.Path, metricsHandler, readyFn,
		func(r *gin.Engine) {
			api.RegisterNodeRoutes(r, node, events, authCfg, log)
			app.RegisterHealthRoutes(r, healthAgg)
		})

	go func() {
		if err := httpSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", zap.Error(err))
		}
	}()
	log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))

	// ========== 阶段5: 启动节点 ==========
	node.Start(context.Background())
	ready.SetNodeReady(true)
	log.Info("node started", zap.String("mode", string(node.Modes().Current())))

	// ========== 阶段6: 最后启动采样馈送（此时节点已可收样）==========
	var feedSrv *tcpserver.Server
	if cfg.Feed.Addr != "" {
		feedSrv = app.NewFeedServer(cfg.Feed, log, appm, node)
		if err := feedSrv.Start(); err != nil {
			log.Error("feed server start failed", zap.Error(err))
			return err
		}
		app.AddFeedChecker(healthAgg, feedSrv)
		log.Info("feed server started", zap.String("addr", feedSrv.Addr().String()))
	} else {
		log.Info("sample feed disabled")
	}
	ready.SetFeedReady(true)
	log.Info("all services ready")

	// ========== 阶段7: 等待关闭信号 ==========
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal, gracefully shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events.Close()
	_ = httpSrv.Shutdown(ctx)
	log.Info("http server stopped")

	if feedSrv != nil {
		_ = feedSrv.Shutdown(ctx)
		log.Info("feed server stopped")
	}

	node.Stop()
	log.Info("node stopped")

	if emitter != nil {
		_ = emitter.Shutdown(ctx)
		log.Info("emitter stopped")
	}

	log.Info("shutdown complete")
	return nil
}
