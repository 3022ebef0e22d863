package main

import (
	"context"
	"fmt"
	"hive-watch/internal/config"
	"hive-watch/internal/logger"
	"hive-watch/internal/service"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "hive-bridge")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	if !cfg.MQTT.Enabled {
		log.Fatal("MQTT is disabled, set MQTT_ENABLED=true to run the bridge")
	}

	// 3. 创建服务
	bridgeService, err := service.NewBridgeService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create bridge service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serviceErrChan := make(chan error, 1)
	go func() {
		serviceErrChan <- bridgeService.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		<-serviceErrChan
	case err := <-serviceErrChan:
		if err != nil {
			log.Error("Service error", zap.Error(err))
		}
		cancel()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := bridgeService.Stop(stopCtx); err != nil {
		log.Error("Failed to stop bridge service", zap.Error(err))
	}

	log.Info("hive-bridge stopped")
}
