package biz

import (
	"context"
	"time"

	"serving-control-plane/internal/constants"
	servingErrors "serving-control-plane/internal/errors"
	"serving-control-plane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Deployment 部署领域对象
type Deployment struct {
	ID             string
	OrgID          string
	Slug           string
	ModelName      string
	Status         string
	GpuTier        string
	Replicas       int
	MaxTokens      int
	MemoryUtil     float64
	ExternalJobIDs []string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeploymentRepo 部署数据层接口（定义在 biz 层）
// UpdateStatusFrom 是 compare-and-set：status 不在 from 集合内则不更新，
// 终态稳定性（stopped/failed 不被探测改写）由存储边界保证而不是调用方自觉
type DeploymentRepo interface {
	CreateDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	GetDeploymentBySlug(ctx context.Context, slug string) (*Deployment, error)
	UpdateStatusFrom(ctx context.Context, id string, from []string, to, lastError string) (bool, error)
	SetExternalJobIDs(ctx context.Context, id string, jobIDs []string) error
	ListByStatus(ctx context.Context, statuses []string) ([]*Deployment, error)
}

// DeploymentUseCase 部署生命周期状态机
//
//	pending → provisioning → running → {degraded, stopped, failed}
//	degraded → running（恢复）、running → provisioning（重启）为合法回边
//	stopped / failed 为终态，只有显式 restart 能离开
type DeploymentUseCase struct {
	repo        DeploymentRepo
	nodes       NodeRepo
	provisioner FleetProvisioner
	log         *log.Helper
	metrics     *metrics.ControlPlaneMetrics
}

// NewDeploymentUseCase 创建部署 UseCase
func NewDeploymentUseCase(repo DeploymentRepo, nodes NodeRepo, provisioner FleetProvisioner, logger log.Logger) *DeploymentUseCase {
	return &DeploymentUseCase{
		repo:        repo,
		nodes:       nodes,
		provisioner: provisioner,
		log:         log.NewHelper(logger),
		metrics:     metrics.GetMetrics(),
	}
}

func (uc *DeploymentUseCase) transition(from, to string) {
	if uc.metrics != nil {
		uc.metrics.DeploymentTransitions.WithLabelValues(from, to).Inc()
	}
}

// Create 创建部署：本地记录落库后立即返回，算力申请在后台异步进行
func (uc *DeploymentUseCase) Create(ctx context.Context, d *Deployment) (*Deployment, error) {
	if d.Slug == "" || d.ModelName == "" || d.GpuTier == "" {
		return nil, servingErrors.ErrInvalidRequest("slug, model_name and gpu_tier are required")
	}
	if d.Replicas <= 0 {
		d.Replicas = 1
	}
	if d.MaxTokens <= 0 {
		d.MaxTokens = 2048
	}
	if d.MemoryUtil <= 0 {
		d.MemoryUtil = 0.9
	}
	d.ID = uuid.New().String()
	d.Status = constants.DeploymentStatusPending

	if err := uc.repo.CreateDeployment(ctx, d); err != nil {
		return nil, err
	}

	go uc.provision(d)

	return d, nil
}

// provision 后台算力申请：pending/重启的 provisioning → 节点落库
// 编排服务抛错时本地迁移到 failed 并记录 last_error，错误不会传播到触发请求
func (uc *DeploymentUseCase) provision(d *Deployment) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ok, err := uc.repo.UpdateStatusFrom(ctx, d.ID,
		[]string{constants.DeploymentStatusPending, constants.DeploymentStatusProvisioning},
		constants.DeploymentStatusProvisioning, "")
	if err != nil || !ok {
		uc.log.Warnf("provision skipped: deployment_id=%s, ok=%v, error=%v", d.ID, ok, err)
		return
	}
	uc.transition(d.Status, constants.DeploymentStatusProvisioning)

	result, err := uc.provisioner.CreateDeployment(ctx, &ProvisionSpec{
		DeploymentID: d.ID,
		ModelName:    d.ModelName,
		GpuTier:      d.GpuTier,
		Replicas:     d.Replicas,
		MaxTokens:    d.MaxTokens,
		MemoryUtil:   d.MemoryUtil,
	})
	if err != nil {
		uc.log.Errorf("CreateDeployment provisioning failed: deployment_id=%s, error=%v", d.ID, err)
		if uc.metrics != nil {
			uc.metrics.ProvisionerErrors.WithLabelValues("create_deployment").Inc()
		}
		if _, err := uc.repo.UpdateStatusFrom(ctx, d.ID,
			[]string{constants.DeploymentStatusProvisioning},
			constants.DeploymentStatusFailed, err.Error()); err != nil {
			uc.log.Errorf("failed to record provisioning failure: deployment_id=%s, error=%v", d.ID, err)
		}
		uc.transition(constants.DeploymentStatusProvisioning, constants.DeploymentStatusFailed)
		return
	}

	if err := uc.repo.SetExternalJobIDs(ctx, d.ID, []string{result.JobID}); err != nil {
		uc.log.Errorf("SetExternalJobIDs failed: deployment_id=%s, error=%v", d.ID, err)
	}

	nodes := make([]*DeploymentNode, 0, len(result.Nodes))
	for _, n := range result.Nodes {
		nodes = append(nodes, &DeploymentNode{
			ID:           uuid.New().String(),
			DeploymentID: d.ID,
			URL:          n.URL,
			HealthStatus: constants.NodeHealthUnknown,
		})
	}
	if err := uc.nodes.ReplaceNodes(ctx, d.ID, nodes); err != nil {
		uc.log.Errorf("ReplaceNodes failed: deployment_id=%s, error=%v", d.ID, err)
		if _, err := uc.repo.UpdateStatusFrom(ctx, d.ID,
			[]string{constants.DeploymentStatusProvisioning},
			constants.DeploymentStatusFailed, err.Error()); err != nil {
			uc.log.Errorf("failed to record node persistence failure: deployment_id=%s, error=%v", d.ID, err)
		}
		return
	}

	// 算力调用期间 Stop 可能已把记录落为终态：此时外部任务和节点都要回收，
	// 否则停掉的部署会继续占着 GPU 计费
	cur, err := uc.repo.GetDeployment(ctx, d.ID)
	if err != nil {
		uc.log.Errorf("status re-check after provisioning failed: deployment_id=%s, error=%v", d.ID, err)
		return
	}
	if cur == nil || deploymentStatusTerminal(cur.Status) {
		uc.log.Warnf("deployment went terminal during provisioning, recycling: deployment_id=%s, external_job_id=%s", d.ID, result.JobID)
		if err := uc.provisioner.StopDeployment(ctx, result.JobID); err != nil {
			uc.log.Warnf("StopDeployment failed during recycle: deployment_id=%s, external_job_id=%s, error=%v", d.ID, result.JobID, err)
			if uc.metrics != nil {
				uc.metrics.ProvisionerErrors.WithLabelValues("stop_deployment").Inc()
			}
		}
		if err := uc.nodes.DeleteNodes(ctx, d.ID); err != nil {
			uc.log.Errorf("DeleteNodes failed during recycle: deployment_id=%s, error=%v", d.ID, err)
		}
		return
	}

	uc.log.Infof("deployment provisioned: deployment_id=%s, external_job_id=%s, nodes=%d", d.ID, result.JobID, len(nodes))
}

func deploymentStatusTerminal(status string) bool {
	switch status {
	case constants.DeploymentStatusStopped, constants.DeploymentStatusFailed:
		return true
	}
	return false
}

// Get 查询部署
func (uc *DeploymentUseCase) Get(ctx context.Context, id string) (*Deployment, error) {
	d, err := uc.repo.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, servingErrors.ErrDeploymentNotFound(id)
	}
	return d, nil
}

// GetBySlug 按推理路径段查询部署
func (uc *DeploymentUseCase) GetBySlug(ctx context.Context, slug string) (*Deployment, error) {
	d, err := uc.repo.GetDeploymentBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, servingErrors.ErrDeploymentNotFound(slug)
	}
	return d, nil
}

// Stop 停止部署：先置为 stopped，再逐个 best-effort 停止外部任务并删除节点
// 单个外部任务停止失败只记日志，不阻塞部署状态落为 stopped
func (uc *DeploymentUseCase) Stop(ctx context.Context, id string) (*Deployment, error) {
	d, err := uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == constants.DeploymentStatusStopped {
		return d, nil
	}

	// 先落终态，再回收外部资源：并发的算力申请在状态复查时就能看到 stopped，
	// 外部任务 id 也要在落终态之后重读，拿到期间刚写入的 id
	if _, err := uc.repo.UpdateStatusFrom(ctx, id, nil, constants.DeploymentStatusStopped, ""); err != nil {
		return nil, err
	}
	uc.transition(d.Status, constants.DeploymentStatusStopped)

	jobIDs := d.ExternalJobIDs
	if cur, err := uc.repo.GetDeployment(ctx, id); err == nil && cur != nil {
		jobIDs = cur.ExternalJobIDs
	}
	for _, jobID := range jobIDs {
		if err := uc.provisioner.StopDeployment(ctx, jobID); err != nil {
			uc.log.Warnf("StopDeployment failed (continuing): deployment_id=%s, external_job_id=%s, error=%v", id, jobID, err)
			if uc.metrics != nil {
				uc.metrics.ProvisionerErrors.WithLabelValues("stop_deployment").Inc()
			}
		}
	}

	if err := uc.nodes.DeleteNodes(ctx, id); err != nil {
		return nil, err
	}
	if uc.metrics != nil {
		uc.metrics.HealthyNodes.WithLabelValues(d.Slug).Set(0)
	}

	d.Status = constants.DeploymentStatusStopped
	return d, nil
}

// Restart 重启部署：重新走算力申请路径，旧节点被新返回的节点组取代
func (uc *DeploymentUseCase) Restart(ctx context.Context, id string) (*Deployment, error) {
	d, err := uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == constants.DeploymentStatusPending || d.Status == constants.DeploymentStatusProvisioning {
		return nil, servingErrors.ErrInvalidTransition(d.Status, "restart")
	}

	if err := uc.nodes.DeleteNodes(ctx, id); err != nil {
		return nil, err
	}
	ok, err := uc.repo.UpdateStatusFrom(ctx, id, nil, constants.DeploymentStatusProvisioning, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, servingErrors.ErrInvalidTransition(d.Status, "restart")
	}
	uc.transition(d.Status, constants.DeploymentStatusProvisioning)

	prev := d.Status
	d.Status = constants.DeploymentStatusProvisioning
	go uc.provision(d)

	uc.log.Infof("deployment restart requested: deployment_id=%s, previous_status=%s", id, prev)
	return d, nil
}

// EvaluateHealth 根据节点健康推进部署状态（探测循环回调）
//   - provisioning 且出现任一健康节点 → running
//   - running 且全部节点不健康 → degraded（仍接收请求、可能报错，不算 outage）
//   - degraded 且任一节点恢复 → running
//
// stopped / failed 不在探测范围内，由 ListByStatus 的调用方保证
func (uc *DeploymentUseCase) EvaluateHealth(ctx context.Context, d *Deployment) error {
	nodes, err := uc.nodes.ListNodes(ctx, d.ID)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	healthyCount := 0
	for _, n := range nodes {
		if n.HealthStatus == constants.NodeHealthHealthy {
			healthyCount++
		}
	}
	if uc.metrics != nil {
		uc.metrics.HealthyNodes.WithLabelValues(d.Slug).Set(float64(healthyCount))
	}

	switch {
	case d.Status == constants.DeploymentStatusProvisioning && healthyCount > 0:
		ok, err := uc.repo.UpdateStatusFrom(ctx, d.ID,
			[]string{constants.DeploymentStatusProvisioning},
			constants.DeploymentStatusRunning, "")
		if err != nil {
			return err
		}
		if ok {
			uc.transition(constants.DeploymentStatusProvisioning, constants.DeploymentStatusRunning)
			uc.log.Infof("deployment running: deployment_id=%s, healthy_nodes=%d", d.ID, healthyCount)
		}
	case d.Status == constants.DeploymentStatusRunning && healthyCount == 0:
		ok, err := uc.repo.UpdateStatusFrom(ctx, d.ID,
			[]string{constants.DeploymentStatusRunning},
			constants.DeploymentStatusDegraded, "")
		if err != nil {
			return err
		}
		if ok {
			uc.transition(constants.DeploymentStatusRunning, constants.DeploymentStatusDegraded)
			uc.log.Warnf("deployment degraded, all nodes unhealthy: deployment_id=%s", d.ID)
		}
	case d.Status == constants.DeploymentStatusDegraded && healthyCount > 0:
		ok, err := uc.repo.UpdateStatusFrom(ctx, d.ID,
			[]string{constants.DeploymentStatusDegraded},
			constants.DeploymentStatusRunning, "")
		if err != nil {
			return err
		}
		if ok {
			uc.transition(constants.DeploymentStatusDegraded, constants.DeploymentStatusRunning)
			uc.log.Infof("deployment recovered: deployment_id=%s, healthy_nodes=%d", d.ID, healthyCount)
		}
	}
	return nil
}
