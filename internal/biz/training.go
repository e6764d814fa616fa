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

// TrainingJob 训练任务领域对象
type TrainingJob struct {
	ID                 string
	OrgID              string
	DatasetID          string
	BaseModel          string
	GpuTier            string
	Status             string
	Progress           int
	CurrentEpoch       int
	TotalEpochs        int
	TrainingLoss       *float64
	EvalLoss           *float64
	EstimatedCostCents int64
	ActualCostCents    int64
	ExternalJobID      string
	OutputPath         string
	Logs               string
	LastError          string
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TrainingCallback 编排服务进度回调载荷，全部字段可选
// 只合并本次回调携带的字段；progress / currentEpoch 单调合并，
// 乱序或重复回调不会回退已有进度
type TrainingCallback struct {
	Status          *string  `json:"status,omitempty"`
	Progress        *int     `json:"progress,omitempty"`
	CurrentEpoch    *int     `json:"currentEpoch,omitempty"`
	TrainingLoss    *float64 `json:"trainingLoss,omitempty"`
	EvalLoss        *float64 `json:"evalLoss,omitempty"`
	Logs            *string  `json:"logs,omitempty"`
	Error           *string  `json:"error,omitempty"`
	OutputPath      *string  `json:"outputPath,omitempty"`
	ActualCostCents *int64   `json:"actualCostCents,omitempty"`
}

// TrainingRepo 训练任务数据层接口（定义在 biz 层）
// ApplyCallback 在行锁事务内做字段级合并，单调性和终态幂等在存储边界强制
type TrainingRepo interface {
	CreateTrainingJob(ctx context.Context, job *TrainingJob) error
	GetTrainingJob(ctx context.Context, id string) (*TrainingJob, error)
	UpdateTrainingStatusFrom(ctx context.Context, id string, from []string, to, lastError string) (bool, error)
	SetExternalTrainingJobID(ctx context.Context, id, externalJobID string) error
	ApplyCallback(ctx context.Context, id string, cb *TrainingCallback) (*TrainingJob, error)
}

// TrainingUseCase 训练任务生命周期状态机
//
//	pending → queued → running → {completed, failed, cancelled}
type TrainingUseCase struct {
	repo        TrainingRepo
	provisioner FleetProvisioner
	log         *log.Helper
	metrics     *metrics.ControlPlaneMetrics
}

// NewTrainingUseCase 创建训练 UseCase
func NewTrainingUseCase(repo TrainingRepo, provisioner FleetProvisioner, logger log.Logger) *TrainingUseCase {
	return &TrainingUseCase{
		repo:        repo,
		provisioner: provisioner,
		log:         log.NewHelper(logger),
		metrics:     metrics.GetMetrics(),
	}
}

func (uc *TrainingUseCase) transition(from, to string) {
	if uc.metrics != nil {
		uc.metrics.TrainingTransitions.WithLabelValues(from, to).Inc()
	}
}

// Create 创建训练任务：本地记录落库后立即返回，交接给编排服务在后台进行
func (uc *TrainingUseCase) Create(ctx context.Context, job *TrainingJob) (*TrainingJob, error) {
	if job.DatasetID == "" || job.BaseModel == "" || job.GpuTier == "" {
		return nil, servingErrors.ErrInvalidRequest("dataset_id, base_model and gpu_tier are required")
	}
	if job.TotalEpochs <= 0 {
		job.TotalEpochs = 3
	}
	job.ID = uuid.New().String()
	job.Status = constants.TrainingStatusPending

	if err := uc.repo.CreateTrainingJob(ctx, job); err != nil {
		return nil, err
	}

	go uc.submit(job)

	return job, nil
}

// submit 后台交接：成功进 queued，交接失败直接进 failed 并记录错误
func (uc *TrainingUseCase) submit(job *TrainingJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	externalID, err := uc.provisioner.CreateTrainingJob(ctx, &TrainingSpec{
		TrainingJobID: job.ID,
		DatasetID:     job.DatasetID,
		BaseModel:     job.BaseModel,
		GpuTier:       job.GpuTier,
		TotalEpochs:   job.TotalEpochs,
	})
	if err != nil {
		uc.log.Errorf("CreateTrainingJob handoff failed: training_job_id=%s, error=%v", job.ID, err)
		if uc.metrics != nil {
			uc.metrics.ProvisionerErrors.WithLabelValues("create_training").Inc()
		}
		if _, err := uc.repo.UpdateTrainingStatusFrom(ctx, job.ID,
			[]string{constants.TrainingStatusPending},
			constants.TrainingStatusFailed, err.Error()); err != nil {
			uc.log.Errorf("failed to record training handoff failure: training_job_id=%s, error=%v", job.ID, err)
		}
		uc.transition(constants.TrainingStatusPending, constants.TrainingStatusFailed)
		return
	}

	if err := uc.repo.SetExternalTrainingJobID(ctx, job.ID, externalID); err != nil {
		uc.log.Errorf("SetExternalTrainingJobID failed: training_job_id=%s, error=%v", job.ID, err)
	}
	ok, err := uc.repo.UpdateTrainingStatusFrom(ctx, job.ID,
		[]string{constants.TrainingStatusPending},
		constants.TrainingStatusQueued, "")
	if err != nil || !ok {
		// pending 之外说明交接期间已被取消，取消路径当时还拿不到外部 id，
		// 刚创建的外部任务在这里回收
		uc.log.Warnf("training job cancelled during handoff, recycling: training_job_id=%s, external_job_id=%s, error=%v", job.ID, externalID, err)
		if err := uc.provisioner.StopTrainingJob(ctx, externalID); err != nil {
			uc.log.Warnf("StopTrainingJob failed during recycle: training_job_id=%s, external_job_id=%s, error=%v", job.ID, externalID, err)
			if uc.metrics != nil {
				uc.metrics.ProvisionerErrors.WithLabelValues("stop_training").Inc()
			}
		}
		return
	}
	uc.transition(constants.TrainingStatusPending, constants.TrainingStatusQueued)
	uc.log.Infof("training job queued: training_job_id=%s, external_job_id=%s", job.ID, externalID)
}

// Get 查询训练任务
func (uc *TrainingUseCase) Get(ctx context.Context, id string) (*TrainingJob, error) {
	job, err := uc.repo.GetTrainingJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, servingErrors.ErrTrainingJobNotFound(id)
	}
	return job, nil
}

// ApplyCallback 应用进度回调（字段级部分合并，单调、幂等）
func (uc *TrainingUseCase) ApplyCallback(ctx context.Context, id string, cb *TrainingCallback) (*TrainingJob, error) {
	before, err := uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	job, err := uc.repo.ApplyCallback(ctx, id, cb)
	if err != nil {
		return nil, err
	}
	if job.Status != before.Status {
		uc.transition(before.Status, job.Status)
	}
	return job, nil
}

// Cancel 取消训练任务（仅 pending/queued/running 合法）
// 外部停止调用 best-effort：失败也无条件将本地状态落为 cancelled，
// 平台侧「不再计费」的判断不被不稳定的外部调用绑架
func (uc *TrainingUseCase) Cancel(ctx context.Context, id string) (*TrainingJob, error) {
	job, err := uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case constants.TrainingStatusPending, constants.TrainingStatusQueued, constants.TrainingStatusRunning:
	default:
		return nil, servingErrors.ErrInvalidTransition(job.Status, "cancel")
	}

	// 先落 cancelled 再停外部任务：交接中的后台 goroutine 在状态迁移失败时
	// 会自己回收刚创建的外部任务，这里重读一次拿期间写入的外部 id
	if _, err := uc.repo.UpdateTrainingStatusFrom(ctx, id,
		[]string{constants.TrainingStatusPending, constants.TrainingStatusQueued, constants.TrainingStatusRunning},
		constants.TrainingStatusCancelled, ""); err != nil {
		return nil, err
	}
	uc.transition(job.Status, constants.TrainingStatusCancelled)

	externalID := job.ExternalJobID
	if cur, err := uc.repo.GetTrainingJob(ctx, id); err == nil && cur != nil {
		externalID = cur.ExternalJobID
	}
	if externalID != "" {
		if err := uc.provisioner.StopTrainingJob(ctx, externalID); err != nil {
			uc.log.Warnf("StopTrainingJob failed (cancelling anyway): training_job_id=%s, external_job_id=%s, error=%v",
				id, externalID, err)
			if uc.metrics != nil {
				uc.metrics.ProvisionerErrors.WithLabelValues("stop_training").Inc()
			}
		}
	}

	job.Status = constants.TrainingStatusCancelled
	return job, nil
}
