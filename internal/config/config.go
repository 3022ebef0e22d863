package config

import (
	"fmt"
	"hive-watch/internal/models"
	"os"
	"strconv"
	"time"
)

// Config hive-watch 配置（hive-watch 与 hive-bridge 共用）
type Config struct {
	HTTPAddr string
	DeviceID string

	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 数据存储键
	Store struct {
		LiveKey        string // 实时节点，如 "beehive"
		UpdatesChannel string // 实时节点变更通知，如 "beehive:updates"
		HistoryKey     string // 历史数据 hash，如 "history"
		TokensKey      string // 推送 token hash，如 "fcmTokens"
		AlertStream    string // 报警事件流，如 "beehive:alerts"
	}

	Status struct {
		TickInterval     time.Duration
		OfflineThreshold time.Duration
		InitialOnline    bool
	}

	History struct {
		SampleInterval time.Duration
	}

	Alert struct {
		RepeatInterval time.Duration
	}

	Notify models.NotificationPreferences

	Push struct {
		Enabled  bool
		Endpoint string
		Timeout  time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.DeviceID = getEnv("DEVICE_ID", "beehive")

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "hivewatch"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 2
	if err := cfg.Database.LoadFromEnv("DB"); err != nil {
		return nil, err
	}

	cfg.Redis.Addr = "localhost:6379"
	if err := cfg.Redis.LoadFromEnv("REDIS"); err != nil {
		return nil, err
	}

	cfg.MQTT.Enabled = true // 只有 hive-bridge 使用
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "hive-bridge"
	cfg.MQTT.QoS = 1
	cfg.MQTT.Topic = "beehive/+/snapshot"
	if err := cfg.MQTT.LoadFromEnv("MQTT"); err != nil {
		return nil, err
	}

	cfg.Store.LiveKey = getEnv("STORE_LIVE_KEY", "beehive")
	cfg.Store.UpdatesChannel = getEnv("STORE_UPDATES_CHANNEL", "beehive:updates")
	cfg.Store.HistoryKey = getEnv("STORE_HISTORY_KEY", "history")
	cfg.Store.TokensKey = getEnv("STORE_TOKENS_KEY", "fcmTokens")
	cfg.Store.AlertStream = getEnv("ALERT_STREAM", "beehive:alerts")

	if cfg.Status.TickInterval, err = getEnvDuration("STATUS_TICK_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Status.OfflineThreshold, err = getEnvDuration("STATUS_OFFLINE_THRESHOLD", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Status.InitialOnline, err = getEnvBool("STATUS_INITIAL_ONLINE", true); err != nil {
		return nil, err
	}
	if cfg.History.SampleInterval, err = getEnvDuration("HISTORY_SAMPLE_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Alert.RepeatInterval, err = getEnvDuration("ALERT_REPEAT_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}

	if cfg.Notify.Enabled, err = getEnvBool("NOTIFY_ENABLED", true); err != nil {
		return nil, err
	}
	cfg.Notify.Permission = getEnv("NOTIFY_PERMISSION", models.PermissionDefault)
	if !models.ValidPermission(cfg.Notify.Permission) {
		return nil, fmt.Errorf("invalid NOTIFY_PERMISSION: %q", cfg.Notify.Permission)
	}

	if cfg.Push.Enabled, err = getEnvBool("PUSH_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.Push.Endpoint = getEnv("PUSH_ENDPOINT", "http://localhost:8090")
	if cfg.Push.Timeout, err = getEnvDuration("PUSH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// getEnvDuration 支持 "10s" 形式，纯数字按秒处理
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid %s: must be positive", key)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
