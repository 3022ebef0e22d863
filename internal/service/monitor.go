package service

import (
	"context"
	"database/sql"
	"fmt"
	"hive-watch/internal/alerting"
	"hive-watch/internal/clock"
	"hive-watch/internal/config"
	"hive-watch/internal/database"
	"hive-watch/internal/httpapi"
	"hive-watch/internal/hub"
	"hive-watch/internal/monitor"
	"hive-watch/internal/push"
	"hive-watch/internal/repository"
	"hive-watch/internal/store"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MonitorService 实时监控服务：订阅 -> 派生状态 -> 报警 -> 展示层
type MonitorService struct {
	config  *config.Config
	logger  *zap.Logger
	db      *sql.DB
	redis   *redis.Client
	hub     *hub.Hub
	monitor *monitor.Monitor
	server  *Server
}

// NewMonitorService 创建监控服务
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	clk := clock.Real{}

	// 初始化Redis
	redisClient := store.NewRedisClient(&cfg.Redis)
	if err := store.Ping(context.Background(), redisClient); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := store.NewStore(redisClient, store.Keys{
		Live:        cfg.Store.LiveKey,
		Updates:     cfg.Store.UpdatesChannel,
		History:     cfg.Store.HistoryKey,
		Tokens:      cfg.Store.TokensKey,
		AlertStream: cfg.Store.AlertStream,
	}, logger)

	// 报警事件：Redis Stream 总是写入，Postgres 可选
	var (
		db         *sql.DB
		eventStore alerting.EventStore
		alertLog   httpapi.AlertLog = st
	)
	if cfg.Database.Enabled {
		var err error
		db, err = openAlertDatabase(cfg, logger, clk.Now())
		if err != nil {
			redisClient.Close()
			return nil, err
		}
		repo := repository.NewAlertEventsRepository(db, logger)
		eventStore = repo
		alertLog = repo
	}
	recorder := alerting.NewEventRecorder(alerting.NewEventBuilder(cfg.DeviceID), eventStore, st, logger)

	h := hub.NewHub(logger)

	var pushChannel *alerting.PushChannel
	if cfg.Push.Enabled {
		pushChannel = alerting.NewPushChannel(st, push.NewClient(cfg.Push.Endpoint, cfg.Push.Timeout, logger))
	}

	dispatcher := alerting.NewDispatcher(
		alerting.DefaultChannels(h, pushChannel),
		cfg.Notify,
		cfg.Alert.RepeatInterval,
		clk,
		recorder,
		logger,
	)

	m := monitor.NewMonitor(st, dispatcher, h, clk, monitor.Options{
		TickInterval:     cfg.Status.TickInterval,
		OfflineThreshold: cfg.Status.OfflineThreshold,
		InitialOnline:    cfg.Status.InitialOnline,
		SampleInterval:   cfg.History.SampleInterval,
	}, logger)

	handler := httpapi.NewHandler(m, st, alertLog, h, clk, time.Local, logger)
	router := httpapi.NewRouter(handler, h.ServeWS, logger)

	return &MonitorService{
		config:  cfg,
		logger:  logger,
		db:      db,
		redis:   redisClient,
		hub:     h,
		monitor: m,
		server:  NewServer(cfg.HTTPAddr, router, logger),
	}, nil
}

// openAlertDatabase 连接数据库、建表，并结束上次运行遗留的 active 事件
func openAlertDatabase(cfg *config.Config, logger *zap.Logger, now time.Time) (*sql.DB, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	repo := repository.NewAlertEventsRepository(db, logger)
	n, err := repo.ResolveStaleAlertEvents(ctx, cfg.DeviceID, now)
	if err != nil {
		logger.Warn("Failed to resolve stale alert events", zap.Error(err))
	} else if n > 0 {
		logger.Info("Resolved stale alert events", zap.Int64("count", n))
	}
	return db, nil
}

// Start 启动 hub、HTTP 服务器与监控循环，阻塞直到 ctx 取消或出错
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting monitor service components",
		zap.String("device_id", s.config.DeviceID),
		zap.String("live_key", s.config.Store.LiveKey),
		zap.Bool("push_enabled", s.config.Push.Enabled),
		zap.Bool("database_enabled", s.config.Database.Enabled),
	)

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- s.monitor.Run(ctx)
	}()

	select {
	case err := <-monitorDone:
		if err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop 停止服务
func (s *MonitorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping monitor service")

	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			s.logger.Error("Error stopping HTTP server", zap.Error(err))
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Error closing redis", zap.Error(err))
		}
	}

	if s.db != nil {
		database.Close(s.db)
	}

	s.logger.Info("Monitor service stopped")
	return nil
}
