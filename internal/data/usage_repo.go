package data

import (
	"context"
	"time"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// usageRepo 用量聚合数据访问
type usageRepo struct {
	data *Data
	log  *log.Helper
}

// NewUsageRepo 创建用量 repo（返回 biz.UsageRepo 接口）
func NewUsageRepo(data *Data, logger log.Logger) biz.UsageRepo {
	return &usageRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// AddUsage 合并用量事件到小时桶
// 依赖 (org_id, deployment_id, period_start) 唯一键 + 数据库原子自增 upsert：
// 并发写同一个桶合并计数而不是互相覆盖
func (r *usageRepo) AddUsage(ctx context.Context, events ...*biz.UsageEvent) error {
	for _, e := range events {
		var errCount int64
		if e.IsError {
			errCount = 1
		}
		m := model.UsageRecord{
			UsageRecordID:  uuid.New().String(),
			OrgID:          e.OrgID,
			DeploymentID:   e.DeploymentID,
			PeriodStart:    e.PeriodStart,
			PeriodEnd:      e.PeriodEnd,
			RequestCount:   1,
			InputTokens:    e.InputTokens,
			OutputTokens:   e.OutputTokens,
			TotalLatencyMs: e.LatencyMs,
			ErrorCount:     errCount,
		}
		err := r.data.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "org_id"}, {Name: "deployment_id"}, {Name: "period_start"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"request_count":    gorm.Expr("request_count + 1"),
				"input_tokens":     gorm.Expr("input_tokens + ?", e.InputTokens),
				"output_tokens":    gorm.Expr("output_tokens + ?", e.OutputTokens),
				"total_latency_ms": gorm.Expr("total_latency_ms + ?", e.LatencyMs),
				"error_count":      gorm.Expr("error_count + ?", errCount),
			}),
		}).Create(&m).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// ListUsage 查询时间范围内的用量桶
func (r *usageRepo) ListUsage(ctx context.Context, orgID string, from, to time.Time) ([]*biz.UsageBucket, error) {
	var models []model.UsageRecord
	if err := r.data.db.WithContext(ctx).
		Where("org_id = ? AND period_start >= ? AND period_start < ?", orgID, from, to).
		Order("period_start ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	buckets := make([]*biz.UsageBucket, 0, len(models))
	for i := range models {
		m := &models[i]
		buckets = append(buckets, &biz.UsageBucket{
			OrgID:          m.OrgID,
			DeploymentID:   m.DeploymentID,
			PeriodStart:    m.PeriodStart,
			PeriodEnd:      m.PeriodEnd,
			RequestCount:   m.RequestCount,
			InputTokens:    m.InputTokens,
			OutputTokens:   m.OutputTokens,
			TotalLatencyMs: m.TotalLatencyMs,
			ErrorCount:     m.ErrorCount,
		})
	}
	return buckets, nil
}
