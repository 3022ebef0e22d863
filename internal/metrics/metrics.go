package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotsReceived 收到的实时快照（含空节点）
	SnapshotsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hivewatch_snapshots_received_total",
		Help: "Live snapshots delivered by the store subscription",
	}, []string{"kind"}) // kind: snapshot | empty

	SubscriptionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivewatch_subscription_errors_total",
		Help: "Errors reported by the live subscription",
	})

	SamplesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivewatch_history_samples_total",
		Help: "Snapshots recorded into the down-sampled history",
	})

	HistorySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hivewatch_history_entries",
		Help: "Entries currently held in the in-memory history",
	})

	DeviceOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hivewatch_device_online",
		Help: "1 when the hive device is considered online",
	})

	AlertActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hivewatch_alert_active",
		Help: "1 while the dispatcher is in the alerting state",
	})

	// Dispatches 每个渠道的发送结果
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hivewatch_alert_dispatches_total",
		Help: "Alert notifications dispatched per channel",
	}, []string{"channel", "result"}) // result: ok | error | skipped | dropped

	BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hivewatch_bridge_messages_total",
		Help: "Device messages handled by the MQTT bridge",
	}, []string{"result"}) // result: stored | archived | invalid | error
)

// Bool 将布尔状态转换为 gauge 值
func Bool(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
