package service

import (
	"context"
	"fmt"
	"hive-watch/internal/clock"
	"hive-watch/internal/config"
	"hive-watch/internal/consumer"
	"hive-watch/internal/mqtt"
	"hive-watch/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// BridgeService 设备桥接服务：MQTT -> Redis 实时节点与历史
type BridgeService struct {
	config     *config.Config
	logger     *zap.Logger
	redis      *redis.Client
	mqttClient *mqtt.Client
	consumer   *consumer.MQTTConsumer
}

// NewBridgeService 创建桥接服务
func NewBridgeService(cfg *config.Config, logger *zap.Logger) (*BridgeService, error) {
	// 初始化Redis
	redisClient := store.NewRedisClient(&cfg.Redis)
	if err := store.Ping(context.Background(), redisClient); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	st := store.NewStore(redisClient, store.Keys{
		Live:        cfg.Store.LiveKey,
		Updates:     cfg.Store.UpdatesChannel,
		History:     cfg.Store.HistoryKey,
		Tokens:      cfg.Store.TokensKey,
		AlertStream: cfg.Store.AlertStream,
	}, logger)

	mqttConsumer := consumer.NewMQTTConsumer(
		mqttClient,
		st,
		cfg.MQTT.Topic,
		cfg.MQTT.QoS,
		cfg.History.SampleInterval,
		clock.Real{},
		logger,
	)

	return &BridgeService{
		config:     cfg,
		logger:     logger,
		redis:      redisClient,
		mqttClient: mqttClient,
		consumer:   mqttConsumer,
	}, nil
}

// Start 启动服务
func (s *BridgeService) Start(ctx context.Context) error {
	s.logger.Info("Starting bridge service components",
		zap.String("broker", s.config.MQTT.Broker),
		zap.String("topic", s.config.MQTT.Topic),
		zap.Bool("connected", s.mqttClient.IsConnected()),
	)

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}
	return nil
}

// Stop 停止服务
func (s *BridgeService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping bridge service")

	if s.consumer != nil {
		if err := s.consumer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping consumer", zap.Error(err))
		}
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Error closing redis", zap.Error(err))
		}
	}

	s.logger.Info("Bridge service stopped")
	return nil
}
