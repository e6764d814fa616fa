package constants

import "time"

// 时间常量
const (
	// UsagePeriod 用量聚合桶的长度（按小时对齐）
	UsagePeriod = time.Hour
)

// Redis Key 前缀常量
const (
	// RedisKeyBalance 余额缓存 key 前缀
	RedisKeyBalance = "credits:balance:"
	// RedisKeySettleLock 结算锁 key 前缀（按组织）
	RedisKeySettleLock = "credits:settle:lock:"
)

// 信用交易类型常量
const (
	TransactionTypeUsage    = "usage"
	TransactionTypePurchase = "purchase"
	TransactionTypeBonus    = "bonus"
	TransactionTypeRefund   = "refund"
)

// 部署状态常量
const (
	DeploymentStatusPending      = "pending"
	DeploymentStatusProvisioning = "provisioning"
	DeploymentStatusRunning      = "running"
	DeploymentStatusDegraded     = "degraded"
	DeploymentStatusStopped      = "stopped"
	DeploymentStatusFailed       = "failed"
)

// 节点健康状态常量
const (
	NodeHealthUnknown   = "unknown"
	NodeHealthHealthy   = "healthy"
	NodeHealthUnhealthy = "unhealthy"
)

// 训练任务状态常量
const (
	TrainingStatusPending   = "pending"
	TrainingStatusQueued    = "queued"
	TrainingStatusRunning   = "running"
	TrainingStatusCompleted = "completed"
	TrainingStatusFailed    = "failed"
	TrainingStatusCancelled = "cancelled"
)

// 准入检查结果常量（用于指标）
const (
	AdmitResultAllowed = "allowed"
	AdmitResultDenied  = "denied"
	AdmitResultError   = "error"
)

// 路由结果常量（用于指标）
const (
	RouteResultOk               = "ok"
	RouteResultNoHealthyNodes   = "no_healthy_nodes"
	RouteResultUpstreamFailure  = "upstream_failure"
	RouteResultDeadlineExceeded = "deadline_exceeded"
)

// 路由算法常量
const (
	// RouterDefaultMaxLatencyMs 权重基准下限，观测到更高延迟时才抬高
	RouterDefaultMaxLatencyMs = 1000
	// RouterUnknownLatencyMs 单个节点没有延迟样本时的默认延迟
	RouterUnknownLatencyMs = 500
	// RouterWeightFloor 权重下限，保证慢节点仍有被选中的概率
	RouterWeightFloor = 100
)

// 锁结果常量（用于指标）
const (
	LockResultSuccess = "success"
	LockResultFailed  = "failed"
)
