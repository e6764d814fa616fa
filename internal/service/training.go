package service

import (
	"context"
	"time"

	"serving-control-plane/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// TrainingService 训练任务生命周期管理
type TrainingService struct {
	uc  *biz.TrainingUseCase
	log *log.Helper
}

// NewTrainingService 创建 TrainingService
func NewTrainingService(uc *biz.TrainingUseCase, logger log.Logger) *TrainingService {
	return &TrainingService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// CreateTrainingJobRequest 创建训练任务请求
type CreateTrainingJobRequest struct {
	OrgID              string `json:"org_id"`
	DatasetID          string `json:"dataset_id"`
	BaseModel          string `json:"base_model"`
	GpuTier            string `json:"gpu_tier"`
	TotalEpochs        int    `json:"total_epochs"`
	EstimatedCostCents int64  `json:"estimated_cost_cents"`
}

// TrainingJobReply 训练任务信息
type TrainingJobReply struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	DatasetID       string     `json:"dataset_id"`
	BaseModel       string     `json:"base_model"`
	GpuTier         string     `json:"gpu_tier"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	CurrentEpoch    int        `json:"current_epoch"`
	TotalEpochs     int        `json:"total_epochs"`
	TrainingLoss    *float64   `json:"training_loss,omitempty"`
	EvalLoss        *float64   `json:"eval_loss,omitempty"`
	ActualCostCents int64      `json:"actual_cost_cents"`
	OutputPath      string     `json:"output_path,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toTrainingJobReply(j *biz.TrainingJob) *TrainingJobReply {
	return &TrainingJobReply{
		ID:              j.ID,
		OrgID:           j.OrgID,
		DatasetID:       j.DatasetID,
		BaseModel:       j.BaseModel,
		GpuTier:         j.GpuTier,
		Status:          j.Status,
		Progress:        j.Progress,
		CurrentEpoch:    j.CurrentEpoch,
		TotalEpochs:     j.TotalEpochs,
		TrainingLoss:    j.TrainingLoss,
		EvalLoss:        j.EvalLoss,
		ActualCostCents: j.ActualCostCents,
		OutputPath:      j.OutputPath,
		LastError:       j.LastError,
		CompletedAt:     j.CompletedAt,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

// Create 创建训练任务
func (s *TrainingService) Create(ctx context.Context, req *CreateTrainingJobRequest) (*TrainingJobReply, error) {
	job, err := s.uc.Create(ctx, &biz.TrainingJob{
		OrgID:              req.OrgID,
		DatasetID:          req.DatasetID,
		BaseModel:          req.BaseModel,
		GpuTier:            req.GpuTier,
		TotalEpochs:        req.TotalEpochs,
		EstimatedCostCents: req.EstimatedCostCents,
	})
	if err != nil {
		s.log.Errorf("Create training job failed: %v", err)
		return nil, err
	}
	return toTrainingJobReply(job), nil
}

// Get 查询训练任务
func (s *TrainingService) Get(ctx context.Context, id string) (*TrainingJobReply, error) {
	job, err := s.uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toTrainingJobReply(job), nil
}

// Cancel 取消训练任务
func (s *TrainingService) Cancel(ctx context.Context, id string) (*TrainingJobReply, error) {
	job, err := s.uc.Cancel(ctx, id)
	if err != nil {
		s.log.Errorf("Cancel training job failed: training_job_id=%s, error=%v", id, err)
		return nil, err
	}
	return toTrainingJobReply(job), nil
}

// Webhook 编排服务进度回调，载荷为字段级部分更新
func (s *TrainingService) Webhook(ctx context.Context, id string, cb *biz.TrainingCallback) (*TrainingJobReply, error) {
	job, err := s.uc.ApplyCallback(ctx, id, cb)
	if err != nil {
		s.log.Errorf("ApplyCallback failed: training_job_id=%s, error=%v", id, err)
		return nil, err
	}
	return toTrainingJobReply(job), nil
}
