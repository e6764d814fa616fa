package data

import (
	"context"
	"errors"
	"time"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/constants"
	"serving-control-plane/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// trainingRepo 训练任务数据访问
type trainingRepo struct {
	data *Data
	log  *log.Helper
}

// NewTrainingRepo 创建训练任务 repo（返回 biz.TrainingRepo 接口）
func NewTrainingRepo(data *Data, logger log.Logger) biz.TrainingRepo {
	return &trainingRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func trainingStatusTerminal(status string) bool {
	switch status {
	case constants.TrainingStatusCompleted, constants.TrainingStatusFailed, constants.TrainingStatusCancelled:
		return true
	}
	return false
}

// CreateTrainingJob 创建训练任务记录
func (r *trainingRepo) CreateTrainingJob(ctx context.Context, job *biz.TrainingJob) error {
	m := model.TrainingJob{
		TrainingJobID:      job.ID,
		OrgID:              job.OrgID,
		DatasetID:          job.DatasetID,
		BaseModel:          job.BaseModel,
		GpuTier:            job.GpuTier,
		Status:             job.Status,
		TotalEpochs:        job.TotalEpochs,
		EstimatedCostCents: job.EstimatedCostCents,
	}
	return r.data.db.WithContext(ctx).Create(&m).Error
}

// GetTrainingJob 查询训练任务，不存在返回 (nil, nil)
func (r *trainingRepo) GetTrainingJob(ctx context.Context, id string) (*biz.TrainingJob, error) {
	var m model.TrainingJob
	err := r.data.db.WithContext(ctx).Where("training_job_id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizTrainingJob(&m), nil
}

// UpdateTrainingStatusFrom 带前置状态集的 CAS 状态更新
// from 为空集时不限制前置状态；返回是否真的发生了更新
func (r *trainingRepo) UpdateTrainingStatusFrom(ctx context.Context, id string, from []string, to, lastError string) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"last_error": lastError,
	}
	if trainingStatusTerminal(to) {
		now := time.Now()
		updates["completed_at"] = gorm.Expr("COALESCE(completed_at, ?)", now)
	}
	query := r.data.db.WithContext(ctx).Model(&model.TrainingJob{}).
		Where("training_job_id = ?", id)
	if len(from) > 0 {
		query = query.Where("status IN ?", from)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SetExternalTrainingJobID 记录编排服务侧任务 ID
func (r *trainingRepo) SetExternalTrainingJobID(ctx context.Context, id, externalJobID string) error {
	return r.data.db.WithContext(ctx).Model(&model.TrainingJob{}).
		Where("training_job_id = ?", id).
		Update("external_job_id", externalJobID).Error
}

// mergeTrainingCallback 字段级合并回调到已有记录
// 单调性规则在这里强制：progress / current_epoch 只增不减，终态状态不再改变，
// completed_at 只在首次进入终态时设置。乱序或重复回调落到这里都是安全的。
// m 被原地更新，返回需要写库的列
func mergeTrainingCallback(m *model.TrainingJob, cb *biz.TrainingCallback, now time.Time, log *log.Helper) map[string]interface{} {
	updates := map[string]interface{}{}

	if cb.Progress != nil {
		if *cb.Progress > m.Progress {
			updates["progress"] = *cb.Progress
			m.Progress = *cb.Progress
		} else if *cb.Progress < m.Progress {
			log.Warnf("dropping stale progress callback: training_job_id=%s, got=%d, have=%d",
				m.TrainingJobID, *cb.Progress, m.Progress)
		}
	}
	if cb.CurrentEpoch != nil && *cb.CurrentEpoch > m.CurrentEpoch {
		updates["current_epoch"] = *cb.CurrentEpoch
		m.CurrentEpoch = *cb.CurrentEpoch
	}
	if cb.TrainingLoss != nil {
		updates["training_loss"] = *cb.TrainingLoss
		m.TrainingLoss = cb.TrainingLoss
	}
	if cb.EvalLoss != nil {
		updates["eval_loss"] = *cb.EvalLoss
		m.EvalLoss = cb.EvalLoss
	}
	if cb.OutputPath != nil && *cb.OutputPath != "" {
		updates["output_path"] = *cb.OutputPath
		m.OutputPath = *cb.OutputPath
	}
	if cb.ActualCostCents != nil {
		updates["actual_cost_cents"] = *cb.ActualCostCents
		m.ActualCostCents = *cb.ActualCostCents
	}
	if cb.Error != nil && *cb.Error != "" {
		updates["last_error"] = *cb.Error
		m.LastError = *cb.Error
	}
	if cb.Logs != nil && *cb.Logs != "" {
		logs := m.Logs
		if logs != "" {
			logs += "\n"
		}
		logs += *cb.Logs
		updates["logs"] = logs
		m.Logs = logs
	}

	if cb.Status != nil && *cb.Status != m.Status {
		if trainingStatusTerminal(m.Status) {
			// 终态不可逆，重复或迟到的状态回调直接忽略
			log.Warnf("ignoring status callback on terminal job: training_job_id=%s, status=%s, got=%s",
				m.TrainingJobID, m.Status, *cb.Status)
		} else {
			updates["status"] = *cb.Status
			m.Status = *cb.Status
			if trainingStatusTerminal(*cb.Status) && m.CompletedAt == nil {
				updates["completed_at"] = now
				m.CompletedAt = &now
			}
		}
	}
	return updates
}

// ApplyCallback 在行锁事务内合并回调并写库
func (r *trainingRepo) ApplyCallback(ctx context.Context, id string, cb *biz.TrainingCallback) (*biz.TrainingJob, error) {
	var merged model.TrainingJob
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.TrainingJob
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("training_job_id = ?", id).
			First(&m).Error; err != nil {
			return err
		}

		updates := mergeTrainingCallback(&m, cb, time.Now(), r.log)

		if len(updates) == 0 {
			merged = m
			return nil
		}
		if err := tx.Model(&model.TrainingJob{}).
			Where("training_job_id = ?", id).
			Updates(updates).Error; err != nil {
			return err
		}
		merged = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toBizTrainingJob(&merged), nil
}

func toBizTrainingJob(m *model.TrainingJob) *biz.TrainingJob {
	return &biz.TrainingJob{
		ID:                 m.TrainingJobID,
		OrgID:              m.OrgID,
		DatasetID:          m.DatasetID,
		BaseModel:          m.BaseModel,
		GpuTier:            m.GpuTier,
		Status:             m.Status,
		Progress:           m.Progress,
		CurrentEpoch:       m.CurrentEpoch,
		TotalEpochs:        m.TotalEpochs,
		TrainingLoss:       m.TrainingLoss,
		EvalLoss:           m.EvalLoss,
		EstimatedCostCents: m.EstimatedCostCents,
		ActualCostCents:    m.ActualCostCents,
		ExternalJobID:      m.ExternalJobID,
		OutputPath:         m.OutputPath,
		Logs:               m.Logs,
		LastError:          m.LastError,
		CompletedAt:        m.CompletedAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
