// Package metrics はレジストリとGatewayが公開するPrometheusメトリクスを定義する。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheusメトリクス
var (
	// RegistryRegistrations はサービスごとのインスタンス登録回数。
	RegistryRegistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msagate_registry_registrations_total",
			Help: "Total number of instance registrations",
		},
		[]string{"service"},
	)
	// RegistryHeartbeats はハートビートの受信回数。resultは ok / not_found。
	RegistryHeartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msagate_registry_heartbeats_total",
			Help: "Total number of heartbeats received",
		},
		[]string{"service", "result"},
	)
	// RegistryEvictions はリース切れによって削除されたインスタンス数。
	RegistryEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msagate_registry_evictions_total",
			Help: "Total number of instances evicted after lease expiry",
		},
		[]string{"service"},
	)
	// RegistryInstances はスイープ時点のステータス別インスタンス数。
	RegistryInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "msagate_registry_instances",
			Help: "Number of registered instances by status",
		},
		[]string{"service", "status"},
	)
	// GatewayRequests はGatewayパイプラインの終端状態ごとのリクエスト数。
	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msagate_gateway_requests_total",
			Help: "Total number of gateway requests by terminal state",
		},
		[]string{"state", "code"},
	)
	// GatewayForwardDuration は転送先サービスごとの転送所要時間。
	GatewayForwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msagate_gateway_forward_duration_seconds",
			Help:    "Duration of forwarded requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
)

// MustRegister は全メトリクスを指定のRegistererに登録する。
// 二重登録はパニックになるため、プロセス起動時に一度だけ呼び出すこと。
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		RegistryRegistrations,
		RegistryHeartbeats,
		RegistryEvictions,
		RegistryInstances,
		GatewayRequests,
		GatewayForwardDuration,
	)
}
