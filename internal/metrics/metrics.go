package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ControlPlaneMetrics 服务控制面指标
type ControlPlaneMetrics struct {
	// 准入相关指标
	AdmitTotal    *prometheus.CounterVec // 准入检查总数（按结果）
	AdmitDuration prometheus.Histogram   // 准入检查耗时

	// 结算相关指标
	SettleTotal          *prometheus.CounterVec // 结算总数（按交易类型）
	SettleAmount         *prometheus.CounterVec // 结算金额（分，按交易类型）
	SettleDuration       prometheus.Histogram   // 结算耗时
	NegativeBalanceAlert prometheus.Gauge       // 负余额组织告警

	// 路由相关指标
	RouteTotal    *prometheus.CounterVec   // 路由结果总数（按部署、结果）
	ProxyDuration *prometheus.HistogramVec // 上游转发耗时（按部署）

	// 节点健康指标
	NodeHealthTransitions *prometheus.CounterVec // 节点健康状态变更（按方向）
	HealthyNodes          *prometheus.GaugeVec   // 当前健康节点数（按部署）

	// 用量指标
	UsageEventsTotal  *prometheus.CounterVec // 用量事件总数（按通道：mq/worker）
	UsageEventsFailed prometheus.Counter     // 用量事件落库失败总数
	TokensTotal       *prometheus.CounterVec // token 总数（按方向 input/output）

	// 生命周期指标
	DeploymentTransitions *prometheus.CounterVec // 部署状态迁移（from→to）
	TrainingTransitions   *prometheus.CounterVec // 训练任务状态迁移（from→to）
	ProvisionerErrors     *prometheus.CounterVec // 编排服务调用失败（按操作）

	// 对账指标
	ReconcileMismatch *prometheus.CounterVec // 对账不一致次数（按组织）

	// 分布式锁相关指标
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时
}

// NewControlPlaneMetrics 创建控制面指标
func NewControlPlaneMetrics() *ControlPlaneMetrics {
	return &ControlPlaneMetrics{
		AdmitTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_admit_total",
				Help: "Total number of admission checks",
			},
			[]string{"result"}, // result: allowed/denied/error
		),
		AdmitDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "serving_admit_duration_seconds",
				Help:    "Duration of admission checks",
				Buckets: prometheus.DefBuckets,
			},
		),

		SettleTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_settle_total",
				Help: "Total number of ledger settlements",
			},
			[]string{"type"}, // type: usage/purchase/bonus/refund
		),
		SettleAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_settle_amount_cents_total",
				Help: "Total settled amount in cents",
			},
			[]string{"type"},
		),
		SettleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "serving_settle_duration_seconds",
				Help:    "Duration of ledger settlements",
				Buckets: prometheus.DefBuckets,
			},
		),
		NegativeBalanceAlert: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "serving_negative_balance_alert",
				Help: "Set to 1 when a settlement drives an organization balance negative",
			},
		),

		RouteTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_route_total",
				Help: "Total number of routing attempts",
			},
			[]string{"deployment", "result"}, // result: ok/no_healthy_nodes/upstream_failure/deadline_exceeded
		),
		ProxyDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "serving_proxy_duration_seconds",
				Help:    "Duration of proxied upstream requests",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"deployment"},
		),

		NodeHealthTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_node_health_transitions_total",
				Help: "Total number of node health transitions",
			},
			[]string{"to"}, // to: healthy/unhealthy
		),
		HealthyNodes: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "serving_healthy_nodes",
				Help: "Current number of healthy nodes per deployment",
			},
			[]string{"deployment"},
		),

		UsageEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_usage_events_total",
				Help: "Total number of recorded usage events",
			},
			[]string{"channel"}, // channel: mq/worker
		),
		UsageEventsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "serving_usage_events_failed_total",
				Help: "Total number of usage events that failed to persist",
			},
		),
		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_tokens_total",
				Help: "Total number of billed tokens",
			},
			[]string{"direction"}, // direction: input/output
		),

		DeploymentTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_deployment_transitions_total",
				Help: "Total number of deployment status transitions",
			},
			[]string{"from", "to"},
		),
		TrainingTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_training_transitions_total",
				Help: "Total number of training job status transitions",
			},
			[]string{"from", "to"},
		),
		ProvisionerErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_provisioner_errors_total",
				Help: "Total number of failed fleet provisioner calls",
			},
			[]string{"op"}, // op: create_deployment/stop_deployment/create_training/stop_training/probe
		),

		ReconcileMismatch: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_ledger_reconcile_mismatch_total",
				Help: "Total number of ledger reconciliation mismatches",
			},
			[]string{"org"},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serving_lock_acquire_total",
				Help: "Total number of settlement lock acquisition attempts",
			},
			[]string{"result"}, // result: success/failed
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "serving_lock_acquire_duration_seconds",
				Help:    "Duration of settlement lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),
	}
}

// 全局指标实例
var defaultMetrics *ControlPlaneMetrics

// InitMetrics 初始化全局指标
func InitMetrics() {
	defaultMetrics = NewControlPlaneMetrics()
}

// GetMetrics 获取全局指标实例
func GetMetrics() *ControlPlaneMetrics {
	if defaultMetrics == nil {
		InitMetrics()
	}
	return defaultMetrics
}
