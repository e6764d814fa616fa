package errors

import (
	"fmt"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// Serving Control Plane 错误定义
// 对外错误使用 kratos errors，reason 为机器可读的错误类别，
// HTTP 状态码与 API 边界约定一致：
//   402: 余额不足（附带当前余额）
//   404: 部署/任务不存在或不可服务
//   502: 上游节点失败 / 超时（单次尝试，不重试）
//   503: 无健康节点
//
// 模块划分：
//   01: 账本模块
//   02: 路由模块
//   03: 部署模块
//   04: 训练模块

// 错误 reason 常量
const (
	ReasonInsufficientCredits = "INSUFFICIENT_CREDITS"
	ReasonNoHealthyNodes      = "NO_HEALTHY_NODES"
	ReasonUpstreamFailure     = "UPSTREAM_FAILURE"
	ReasonDeadlineExceeded    = "DEADLINE_EXCEEDED"
	ReasonDeploymentNotFound  = "DEPLOYMENT_NOT_FOUND"
	ReasonDeploymentNotReady  = "DEPLOYMENT_NOT_READY"
	ReasonInvalidTransition   = "INVALID_TRANSITION"
	ReasonTrainingJobNotFound = "TRAINING_JOB_NOT_FOUND"
	ReasonInvalidRequest      = "INVALID_REQUEST"
)

// ========== 账本模块 ==========

// ErrInsufficientCredits 余额不足（402），metadata 携带当前余额（分）
func ErrInsufficientCredits(balanceCents int64) *kerrors.Error {
	return kerrors.New(402, ReasonInsufficientCredits, "insufficient prepaid credits").
		WithMetadata(map[string]string{"balance_cents": fmt.Sprintf("%d", balanceCents)})
}

// ========== 路由模块 ==========

// ErrNoHealthyNodes 部署当前没有健康节点（503，探测成功后自愈）
func ErrNoHealthyNodes(deploymentID string) *kerrors.Error {
	return kerrors.New(503, ReasonNoHealthyNodes, "no healthy nodes available").
		WithMetadata(map[string]string{"deployment_id": deploymentID})
}

// ErrUpstreamFailure 上游节点请求失败（502，不自动重试避免重复计费）
func ErrUpstreamFailure(nodeURL string, cause error) *kerrors.Error {
	return kerrors.New(502, ReasonUpstreamFailure, fmt.Sprintf("upstream request failed: %v", cause)).
		WithMetadata(map[string]string{"node_url": nodeURL})
}

// ErrDeadlineExceeded 上游请求超时（按上游失败处理）
func ErrDeadlineExceeded(nodeURL string) *kerrors.Error {
	return kerrors.New(502, ReasonDeadlineExceeded, "upstream request deadline exceeded").
		WithMetadata(map[string]string{"node_url": nodeURL})
}

// ========== 部署模块 ==========

// ErrDeploymentNotFound 部署不存在
func ErrDeploymentNotFound(id string) *kerrors.Error {
	return kerrors.New(404, ReasonDeploymentNotFound, fmt.Sprintf("deployment %s not found", id))
}

// ErrDeploymentNotReady 部署不处于可服务状态
func ErrDeploymentNotReady(id, status string) *kerrors.Error {
	return kerrors.New(404, ReasonDeploymentNotReady, fmt.Sprintf("deployment %s is %s", id, status))
}

// ErrInvalidTransition 非法的状态迁移
func ErrInvalidTransition(from, action string) *kerrors.Error {
	return kerrors.New(409, ReasonInvalidTransition, fmt.Sprintf("cannot %s from status %s", action, from))
}

// ========== 训练模块 ==========

// ErrTrainingJobNotFound 训练任务不存在
func ErrTrainingJobNotFound(id string) *kerrors.Error {
	return kerrors.New(404, ReasonTrainingJobNotFound, fmt.Sprintf("training job %s not found", id))
}

// ========== 通用 ==========

// ErrInvalidRequest 请求参数错误
func ErrInvalidRequest(msg string) *kerrors.Error {
	return kerrors.New(400, ReasonInvalidRequest, msg)
}
