package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// deploymentRepo 部署数据访问
type deploymentRepo struct {
	data *Data
	log  *log.Helper
}

// NewDeploymentRepo 创建部署 repo（返回 biz.DeploymentRepo 接口）
func NewDeploymentRepo(data *Data, logger log.Logger) biz.DeploymentRepo {
	return &deploymentRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateDeployment 创建部署记录
func (r *deploymentRepo) CreateDeployment(ctx context.Context, d *biz.Deployment) error {
	jobIDs, err := json.Marshal(d.ExternalJobIDs)
	if err != nil {
		return err
	}
	m := model.Deployment{
		DeploymentID:   d.ID,
		OrgID:          d.OrgID,
		Slug:           d.Slug,
		ModelName:      d.ModelName,
		Status:         d.Status,
		GpuTier:        d.GpuTier,
		Replicas:       d.Replicas,
		MaxTokens:      d.MaxTokens,
		MemoryUtil:     d.MemoryUtil,
		ExternalJobIDs: string(jobIDs),
	}
	return r.data.db.WithContext(ctx).Create(&m).Error
}

// GetDeployment 按ID查询部署
func (r *deploymentRepo) GetDeployment(ctx context.Context, id string) (*biz.Deployment, error) {
	var m model.Deployment
	if err := r.data.db.WithContext(ctx).Where("deployment_id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get deployment failed: %w", err)
	}
	return toBizDeployment(&m), nil
}

// GetDeploymentBySlug 按推理路径段查询部署
func (r *deploymentRepo) GetDeploymentBySlug(ctx context.Context, slug string) (*biz.Deployment, error) {
	var m model.Deployment
	if err := r.data.db.WithContext(ctx).Where("slug = ?", slug).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get deployment by slug failed: %w", err)
	}
	return toBizDeployment(&m), nil
}

// UpdateStatusFrom compare-and-set 状态迁移
// from 为空表示不限制当前状态；返回是否真的发生了迁移
func (r *deploymentRepo) UpdateStatusFrom(ctx context.Context, id string, from []string, to, lastError string) (bool, error) {
	db := r.data.db.WithContext(ctx).Model(&model.Deployment{}).Where("deployment_id = ?", id)
	if len(from) > 0 {
		db = db.Where("status IN ?", from)
	}
	result := db.Updates(map[string]interface{}{
		"status":     to,
		"last_error": lastError,
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SetExternalJobIDs 记录编排服务返回的任务句柄
func (r *deploymentRepo) SetExternalJobIDs(ctx context.Context, id string, jobIDs []string) error {
	data, err := json.Marshal(jobIDs)
	if err != nil {
		return err
	}
	return r.data.db.WithContext(ctx).Model(&model.Deployment{}).
		Where("deployment_id = ?", id).
		Update("external_job_ids", string(data)).Error
}

// ListByStatus 按状态集合列出部署（探测循环用）
func (r *deploymentRepo) ListByStatus(ctx context.Context, statuses []string) ([]*biz.Deployment, error) {
	var models []model.Deployment
	if err := r.data.db.WithContext(ctx).Where("status IN ?", statuses).Find(&models).Error; err != nil {
		return nil, err
	}
	deployments := make([]*biz.Deployment, 0, len(models))
	for i := range models {
		deployments = append(deployments, toBizDeployment(&models[i]))
	}
	return deployments, nil
}

func toBizDeployment(m *model.Deployment) *biz.Deployment {
	var jobIDs []string
	if m.ExternalJobIDs != "" {
		// 历史数据可能为空串，解析失败按无句柄处理
		_ = json.Unmarshal([]byte(m.ExternalJobIDs), &jobIDs)
	}
	return &biz.Deployment{
		ID:             m.DeploymentID,
		OrgID:          m.OrgID,
		Slug:           m.Slug,
		ModelName:      m.ModelName,
		Status:         m.Status,
		GpuTier:        m.GpuTier,
		Replicas:       m.Replicas,
		MaxTokens:      m.MaxTokens,
		MemoryUtil:     m.MemoryUtil,
		ExternalJobIDs: jobIDs,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
