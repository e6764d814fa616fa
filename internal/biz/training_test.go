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

func TestTrainingCreate_Validation(t *testing.T) {
	uc := NewTrainingUseCase(NewMockTrainingRepo(), &MockProvisioner{}, testLogger())

	_, err := uc.Create(context.Background(), &TrainingJob{DatasetID: "ds-1"})
	assert.Error(t, err)
}

func TestTrainingCreate_HandsOffToProvisioner(t *testing.T) {
	repo := NewMockTrainingRepo()
	provisioner := &MockProvisioner{}
	uc := NewTrainingUseCase(repo, provisioner, testLogger())

	job, err := uc.Create(context.Background(), &TrainingJob{
		OrgID: "org-1", DatasetID: "ds-1", BaseModel: "llama-3-8b", GpuTier: "a100",
	})
	require.NoError(t, err)
	assert.Equal(t, constants.TrainingStatusPending, job.Status)
	assert.Equal(t, 3, job.TotalEpochs)

	require.Eventually(t, func() bool {
		return repo.Status(job.ID) == constants.TrainingStatusQueued
	}, 3*time.Second, 10*time.Millisecond)

	stored, err := repo.GetTrainingJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "train-123", stored.ExternalJobID)
}

func TestTrainingCreate_HandoffFailureGoesFailed(t *testing.T) {
	repo := NewMockTrainingRepo()
	provisioner := &MockProvisioner{
		createTrainingFunc: func(ctx context.Context, spec *TrainingSpec) (string, error) {
			return "", errors.New("no training capacity")
		},
	}
	uc := NewTrainingUseCase(repo, provisioner, testLogger())

	job, err := uc.Create(context.Background(), &TrainingJob{
		OrgID: "org-1", DatasetID: "ds-1", BaseModel: "llama-3-8b", GpuTier: "a100",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return repo.Status(job.ID) == constants.TrainingStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	stored, err := repo.GetTrainingJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.LastError, "no training capacity")
}

func TestTrainingCancel_BestEffortStop(t *testing.T) {
	repo := NewMockTrainingRepo(&TrainingJob{
		ID: "tj-1", Status: constants.TrainingStatusRunning, ExternalJobID: "train-abc",
	})
	provisioner := &MockProvisioner{
		stopTrainingFunc: func(ctx context.Context, externalJobID string) error {
			return errors.New("provisioner unreachable")
		},
	}
	uc := NewTrainingUseCase(repo, provisioner, testLogger())

	// 外部停止失败，本地仍然落为 cancelled
	job, err := uc.Cancel(context.Background(), "tj-1")
	require.NoError(t, err)
	assert.Equal(t, constants.TrainingStatusCancelled, job.Status)
	assert.Equal(t, []string{"train-abc"}, provisioner.StopTrainingCalls)
	assert.Equal(t, constants.TrainingStatusCancelled, repo.Status("tj-1"))
}

func TestTrainingCancel_DuringHandoffRecyclesExternalJob(t *testing.T) {
	repo := NewMockTrainingRepo()
	release := make(chan struct{})
	provisioner := &MockProvisioner{
		createTrainingFunc: func(ctx context.Context, spec *TrainingSpec) (string, error) {
			<-release
			return "train-123", nil
		},
	}
	uc := NewTrainingUseCase(repo, provisioner, testLogger())

	job, err := uc.Create(context.Background(), &TrainingJob{
		OrgID: "org-1", DatasetID: "ds-1", BaseModel: "llama-3-8b", GpuTier: "a100",
	})
	require.NoError(t, err)

	// 等后台交接进入外部调用（外部 id 尚未产生，取消路径无从停止）
	require.Eventually(t, func() bool {
		return provisioner.CreateTrainingCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	cancelled, err := uc.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.TrainingStatusCancelled, cancelled.Status)

	close(release)

	// 交接返回后 pending→queued 迁移失败，后台自己回收刚创建的外部任务
	require.Eventually(t, func() bool {
		for _, id := range provisioner.StoppedTrainingJobs() {
			if id == "train-123" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, constants.TrainingStatusCancelled, repo.Status(job.ID))
}

func TestTrainingCancel_InvalidFromTerminal(t *testing.T) {
	repo := NewMockTrainingRepo(&TrainingJob{ID: "tj-1", Status: constants.TrainingStatusCompleted})
	uc := NewTrainingUseCase(repo, &MockProvisioner{}, testLogger())

	_, err := uc.Cancel(context.Background(), "tj-1")
	require.Error(t, err)
	assert.Equal(t, 409, int(kerrors.FromError(err).Code))
}

func TestTrainingCancel_PendingSkipsExternalStop(t *testing.T) {
	repo := NewMockTrainingRepo(&TrainingJob{ID: "tj-1", Status: constants.TrainingStatusPending})
	provisioner := &MockProvisioner{}
	uc := NewTrainingUseCase(repo, provisioner, testLogger())

	job, err := uc.Cancel(context.Background(), "tj-1")
	require.NoError(t, err)
	assert.Equal(t, constants.TrainingStatusCancelled, job.Status)
	assert.Empty(t, provisioner.StopTrainingCalls)
}

func TestTrainingGet_NotFound(t *testing.T) {
	uc := NewTrainingUseCase(NewMockTrainingRepo(), &MockProvisioner{}, testLogger())

	_, err := uc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, 404, int(kerrors.FromError(err).Code))
}
