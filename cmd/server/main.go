package main

import (
	"flag"

	"github.com/jpt262/dialup/internal/app/bootstrap"
	cfgpkg "github.com/jpt262/dialup/internal/config"
	"github.com/jpt262/dialup/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，留空则走 DIALUP_CONFIG 与默认搜索路径")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	// 3) 统一启动流程，阻塞到收到退出信号
	if err := bootstrap.Run(cfg, log); err != nil {
		log.Fatal("dialup node exited with error", zap.Error(err))
	}
}
