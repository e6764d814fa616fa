package model

import (
	"time"
)

// TrainingJob 微调训练任务表
type TrainingJob struct {
	TrainingJobID      string     `gorm:"primaryKey;type:varchar(36)"`
	OrgID              string     `gorm:"type:varchar(36);not null;index"`
	DatasetID          string     `gorm:"type:varchar(36);not null"` // 外部只读依赖
	BaseModel          string     `gorm:"type:varchar(128);not null"`
	GpuTier            string     `gorm:"type:varchar(32);not null"`
	Status             string     `gorm:"type:enum('pending','queued','running','completed','failed','cancelled');not null;default:'pending'"`
	Progress           int        `gorm:"default:0"` // 0-100，回调合并只增不减
	CurrentEpoch       int        `gorm:"default:0"`
	TotalEpochs        int        `gorm:"default:0"`
	TrainingLoss       *float64   `gorm:"type:decimal(12,6)"`
	EvalLoss           *float64   `gorm:"type:decimal(12,6)"`
	EstimatedCostCents int64      `gorm:"default:0"`
	ActualCostCents    int64      `gorm:"default:0"`
	ExternalJobID      string     `gorm:"type:varchar(64);index"`
	OutputPath         string     `gorm:"type:varchar(255)"`
	Logs               string     `gorm:"type:mediumtext"` // 回调日志追加
	LastError          string     `gorm:"type:text"`
	CompletedAt        *time.Time `gorm:""` // 终态时间戳，只设置一次
	CreatedAt          time.Time  `gorm:"autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (TrainingJob) TableName() string {
	return "training_job"
}
