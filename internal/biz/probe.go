package biz

import (
	"context"

	"serving-control-plane/internal/constants"
	"serving-control-plane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// ProbeUseCase 周期性节点健康探测（cmd/cron 驱动）
// 对 provisioning / running / degraded 的部署逐节点探测，
// 探测结果写入健康注册表后推进部署状态机；stopped / failed 不在扫描范围内
type ProbeUseCase struct {
	deployments *DeploymentUseCase
	repo        DeploymentRepo
	registry    *NodeRegistryUseCase
	provisioner FleetProvisioner
	log         *log.Helper
	metrics     *metrics.ControlPlaneMetrics
}

// NewProbeUseCase 创建探测 UseCase
func NewProbeUseCase(
	deployments *DeploymentUseCase,
	repo DeploymentRepo,
	registry *NodeRegistryUseCase,
	provisioner FleetProvisioner,
	logger log.Logger,
) *ProbeUseCase {
	return &ProbeUseCase{
		deployments: deployments,
		repo:        repo,
		registry:    registry,
		provisioner: provisioner,
		log:         log.NewHelper(logger),
		metrics:     metrics.GetMetrics(),
	}
}

// Sweep 执行一轮全量探测
func (uc *ProbeUseCase) Sweep(ctx context.Context) (int, error) {
	deployments, err := uc.repo.ListByStatus(ctx, []string{
		constants.DeploymentStatusProvisioning,
		constants.DeploymentStatusRunning,
		constants.DeploymentStatusDegraded,
	})
	if err != nil {
		return 0, err
	}

	probed := 0
	for _, d := range deployments {
		if err := uc.probeDeployment(ctx, d); err != nil {
			uc.log.Warnf("probe failed: deployment_id=%s, error=%v", d.ID, err)
			continue
		}
		probed++
	}
	return probed, nil
}

func (uc *ProbeUseCase) probeDeployment(ctx context.Context, d *Deployment) error {
	nodes, err := uc.registry.ListNodes(ctx, d.ID)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		health, err := uc.provisioner.GetNodeHealth(ctx, node.URL)
		if err != nil || !health.OK {
			if err != nil {
				if uc.metrics != nil {
					uc.metrics.ProvisionerErrors.WithLabelValues("probe").Inc()
				}
				uc.log.Debugf("node probe error: node_id=%s, url=%s, error=%v", node.ID, node.URL, err)
			}
			if err := uc.registry.MarkUnhealthy(ctx, node.ID); err != nil {
				uc.log.Warnf("MarkUnhealthy failed: node_id=%s, error=%v", node.ID, err)
			}
			continue
		}
		if err := uc.registry.MarkHealthy(ctx, node.ID, health.LatencyMs); err != nil {
			uc.log.Warnf("MarkHealthy failed: node_id=%s, error=%v", node.ID, err)
		}
	}

	return uc.deployments.EvaluateHealth(ctx, d)
}
