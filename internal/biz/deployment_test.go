package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"serving-control-plane/internal/constants"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeploymentUseCase(repo *MockDeploymentRepo, nodes *MockNodeRepo, p *MockProvisioner) *DeploymentUseCase {
	return NewDeploymentUseCase(repo, nodes, p, testLogger())
}

func TestDeploymentCreate_Validation(t *testing.T) {
	uc := newDeploymentUseCase(NewMockDeploymentRepo(), NewMockNodeRepo(), &MockProvisioner{})

	_, err := uc.Create(context.Background(), &Deployment{Slug: "llama"})
	assert.Error(t, err)
}

func TestDeploymentCreate_ProvisionsInBackground(t *testing.T) {
	repo := NewMockDeploymentRepo()
	nodes := NewMockNodeRepo()
	provisioner := &MockProvisioner{}
	uc := newDeploymentUseCase(repo, nodes, provisioner)

	d, err := uc.Create(context.Background(), &Deployment{
		OrgID: "org-1", Slug: "llama", ModelName: "llama-3-8b", GpuTier: "a100",
	})
	require.NoError(t, err)
	assert.Equal(t, constants.DeploymentStatusPending, d.Status)
	assert.Equal(t, 1, d.Replicas)
	assert.Equal(t, 2048, d.MaxTokens)

	// 后台算力申请：节点落库、外部任务 ID 记录、状态进入 provisioning
	require.Eventually(t, func() bool {
		return repo.Status(d.ID) == constants.DeploymentStatusProvisioning
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		created, _ := nodes.ListNodes(context.Background(), d.ID)
		return len(created) == 1
	}, 3*time.Second, 10*time.Millisecond)

	stored, err := repo.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-123"}, stored.ExternalJobIDs)

	created, _ := nodes.ListNodes(context.Background(), d.ID)
	assert.Equal(t, constants.NodeHealthUnknown, created[0].HealthStatus)
}

func TestDeploymentCreate_ProvisionFailureRecordsError(t *testing.T) {
	repo := NewMockDeploymentRepo()
	provisioner := &MockProvisioner{
		createDeploymentFunc: func(ctx context.Context, spec *ProvisionSpec) (*ProvisionResult, error) {
			return nil, errors.New("fleet capacity exhausted")
		},
	}
	uc := newDeploymentUseCase(repo, NewMockNodeRepo(), provisioner)

	d, err := uc.Create(context.Background(), &Deployment{
		OrgID: "org-1", Slug: "llama", ModelName: "llama-3-8b", GpuTier: "a100",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return repo.Status(d.ID) == constants.DeploymentStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	stored, err := repo.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.LastError, "fleet capacity exhausted")
}

func TestDeploymentStop_BestEffortAndIdempotent(t *testing.T) {
	repo := NewMockDeploymentRepo(&Deployment{
		ID: "d1", Slug: "llama", Status: constants.DeploymentStatusRunning,
		ExternalJobIDs: []string{"job-a", "job-b"},
	})
	nodes := NewMockNodeRepo(&DeploymentNode{ID: "n1", DeploymentID: "d1", HealthStatus: constants.NodeHealthHealthy})
	provisioner := &MockProvisioner{
		stopDeploymentFunc: func(ctx context.Context, externalJobID string) error {
			if externalJobID == "job-a" {
				return errors.New("provisioner unreachable")
			}
			return nil
		},
	}
	uc := newDeploymentUseCase(repo, nodes, provisioner)

	d, err := uc.Stop(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, constants.DeploymentStatusStopped, d.Status)
	// 单个外部任务停止失败不阻塞：两个任务都被尝试
	assert.Equal(t, []string{"job-a", "job-b"}, provisioner.StopDeploymentCalls)
	assert.Equal(t, []string{"d1"}, nodes.DeleteCalls)

	// 重复停止幂等，不再触发外部调用
	d, err = uc.Stop(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, constants.DeploymentStatusStopped, d.Status)
	assert.Len(t, provisioner.StopDeploymentCalls, 2)
}

func TestDeploymentStop_DuringProvisioningRecyclesExternalJob(t *testing.T) {
	repo := NewMockDeploymentRepo()
	nodes := NewMockNodeRepo()
	release := make(chan struct{})
	provisioner := &MockProvisioner{
		createDeploymentFunc: func(ctx context.Context, spec *ProvisionSpec) (*ProvisionResult, error) {
			<-release
			return &ProvisionResult{
				JobID: "job-123",
				Nodes: []ProvisionedNode{{ID: "n1", URL: "http://node-1:8000"}},
			}, nil
		},
	}
	uc := newDeploymentUseCase(repo, nodes, provisioner)

	d, err := uc.Create(context.Background(), &Deployment{
		OrgID: "org-1", Slug: "llama", ModelName: "llama-3-8b", GpuTier: "a100",
	})
	require.NoError(t, err)

	// 等后台 goroutine 进入算力调用（此时外部任务 id 尚未落库）
	require.Eventually(t, func() bool {
		return provisioner.CreateDeploymentCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	stopped, err := uc.Stop(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DeploymentStatusStopped, stopped.Status)

	close(release)

	// 算力返回后发现本地已是终态：刚创建的外部任务被停止，节点不得留存
	require.Eventually(t, func() bool {
		recycled := false
		for _, id := range provisioner.StoppedDeployments() {
			if id == "job-123" {
				recycled = true
			}
		}
		remaining, _ := nodes.ListNodes(context.Background(), d.ID)
		return recycled && len(remaining) == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, constants.DeploymentStatusStopped, repo.Status(d.ID))
}

func TestDeploymentStop_NotFound(t *testing.T) {
	uc := newDeploymentUseCase(NewMockDeploymentRepo(), NewMockNodeRepo(), &MockProvisioner{})

	_, err := uc.Stop(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, 404, int(kerrors.FromError(err).Code))
}

func TestDeploymentRestart_InvalidWhileProvisioning(t *testing.T) {
	repo := NewMockDeploymentRepo(&Deployment{ID: "d1", Status: constants.DeploymentStatusProvisioning})
	uc := newDeploymentUseCase(repo, NewMockNodeRepo(), &MockProvisioner{})

	_, err := uc.Restart(context.Background(), "d1")
	require.Error(t, err)
	assert.Equal(t, 409, int(kerrors.FromError(err).Code))
}

func TestDeploymentRestart_ReprovisionsFromStopped(t *testing.T) {
	repo := NewMockDeploymentRepo(&Deployment{
		ID: "d1", OrgID: "org-1", Slug: "llama", ModelName: "llama-3-8b", GpuTier: "a100",
		Replicas: 1, Status: constants.DeploymentStatusStopped,
	})
	nodes := NewMockNodeRepo()
	provisioner := &MockProvisioner{}
	uc := newDeploymentUseCase(repo, nodes, provisioner)

	d, err := uc.Restart(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, constants.DeploymentStatusProvisioning, d.Status)

	require.Eventually(t, func() bool {
		created, _ := nodes.ListNodes(context.Background(), "d1")
		return len(created) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEvaluateHealth_Transitions(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		nodeHealth string
		want       string
	}{
		{"provisioning with healthy node goes running", constants.DeploymentStatusProvisioning, constants.NodeHealthHealthy, constants.DeploymentStatusRunning},
		{"running with all unhealthy goes degraded", constants.DeploymentStatusRunning, constants.NodeHealthUnhealthy, constants.DeploymentStatusDegraded},
		{"degraded with healthy node recovers", constants.DeploymentStatusDegraded, constants.NodeHealthHealthy, constants.DeploymentStatusRunning},
		{"provisioning with unknown nodes stays", constants.DeploymentStatusProvisioning, constants.NodeHealthUnknown, constants.DeploymentStatusProvisioning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockDeploymentRepo(&Deployment{ID: "d1", Slug: "llama", Status: tt.status})
			nodes := NewMockNodeRepo(&DeploymentNode{ID: "n1", DeploymentID: "d1", HealthStatus: tt.nodeHealth})
			uc := newDeploymentUseCase(repo, nodes, &MockProvisioner{})

			d, err := repo.GetDeployment(context.Background(), "d1")
			require.NoError(t, err)
			require.NoError(t, uc.EvaluateHealth(context.Background(), d))
			assert.Equal(t, tt.want, repo.Status("d1"))
		})
	}
}

func TestStoppedIsProbeStable(t *testing.T) {
	repo := NewMockDeploymentRepo(&Deployment{ID: "d1", Slug: "llama", Status: constants.DeploymentStatusStopped})

	// 存储边界的 CAS 拒绝从 stopped 出发的探测驱动迁移
	ok, err := repo.UpdateStatusFrom(context.Background(), "d1",
		[]string{constants.DeploymentStatusProvisioning, constants.DeploymentStatusRunning, constants.DeploymentStatusDegraded},
		constants.DeploymentStatusRunning, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, constants.DeploymentStatusStopped, repo.Status("d1"))
}
