package biz

import (
	"context"

	"serving-control-plane/internal/constants"
	"serving-control-plane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// DeploymentNode 节点领域对象
type DeploymentNode struct {
	ID           string
	DeploymentID string
	URL          string
	HealthStatus string
	LatencyMs    *int64
}

// NodeRepo 节点数据层接口（定义在 biz 层）
// 健康状态写入按节点 last-writer-wins，跨节点无顺序要求
type NodeRepo interface {
	ListNodes(ctx context.Context, deploymentID string) ([]*DeploymentNode, error)
	ListHealthy(ctx context.Context, deploymentID string) ([]*DeploymentNode, error)
	UpdateNodeHealth(ctx context.Context, nodeID, healthStatus string, latencyMs *int64) error
	ReplaceNodes(ctx context.Context, deploymentID string, nodes []*DeploymentNode) error
	DeleteNodes(ctx context.Context, deploymentID string) error
}

// NodeRegistryUseCase 节点健康注册表
// 节点只通过显式的探测成功恢复为 healthy，单次瞬时失败不会被放大为永久剔除
type NodeRegistryUseCase struct {
	repo    NodeRepo
	log     *log.Helper
	metrics *metrics.ControlPlaneMetrics
}

// NewNodeRegistryUseCase 创建节点注册表 UseCase
func NewNodeRegistryUseCase(repo NodeRepo, logger log.Logger) *NodeRegistryUseCase {
	return &NodeRegistryUseCase{
		repo:    repo,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// MarkHealthy 标记节点健康并记录最近观测延迟（仅探测成功时调用）
func (uc *NodeRegistryUseCase) MarkHealthy(ctx context.Context, nodeID string, latencyMs int64) error {
	if err := uc.repo.UpdateNodeHealth(ctx, nodeID, constants.NodeHealthHealthy, &latencyMs); err != nil {
		return err
	}
	if uc.metrics != nil {
		uc.metrics.NodeHealthTransitions.WithLabelValues(constants.NodeHealthHealthy).Inc()
	}
	return nil
}

// MarkUnhealthy 标记节点不健康，保留上次观测延迟
// 路由转发失败时同步调用，不等待下一轮探测
func (uc *NodeRegistryUseCase) MarkUnhealthy(ctx context.Context, nodeID string) error {
	if err := uc.repo.UpdateNodeHealth(ctx, nodeID, constants.NodeHealthUnhealthy, nil); err != nil {
		return err
	}
	if uc.metrics != nil {
		uc.metrics.NodeHealthTransitions.WithLabelValues(constants.NodeHealthUnhealthy).Inc()
	}
	return nil
}

// ListHealthy 列出部署下的健康节点
func (uc *NodeRegistryUseCase) ListHealthy(ctx context.Context, deploymentID string) ([]*DeploymentNode, error) {
	return uc.repo.ListHealthy(ctx, deploymentID)
}

// ListNodes 列出部署下的全部节点
func (uc *NodeRegistryUseCase) ListNodes(ctx context.Context, deploymentID string) ([]*DeploymentNode, error) {
	return uc.repo.ListNodes(ctx, deploymentID)
}
