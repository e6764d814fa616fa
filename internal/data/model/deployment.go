package model

import (
	"time"
)

// Deployment 模型服务部署表
type Deployment struct {
	DeploymentID   string    `gorm:"primaryKey;type:varchar(36)"`
	OrgID          string    `gorm:"type:varchar(36);not null;index"`
	Slug           string    `gorm:"uniqueIndex;type:varchar(64);not null"` // 推理 API 路径段
	ModelName      string    `gorm:"type:varchar(128);not null"`
	Status         string    `gorm:"type:enum('pending','provisioning','running','degraded','stopped','failed');not null;default:'pending'"`
	GpuTier        string    `gorm:"type:varchar(32);not null"`
	Replicas       int       `gorm:"default:1"`
	MaxTokens      int       `gorm:"default:2048"`
	MemoryUtil     float64   `gorm:"type:decimal(3,2);default:0.90"`
	ExternalJobIDs string    `gorm:"type:text"` // JSON array，算力编排服务返回的句柄
	LastError      string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Deployment) TableName() string {
	return "deployment"
}

// DeploymentNode 部署节点表（部署独占，停止或重建时整组删除）
type DeploymentNode struct {
	NodeID       string    `gorm:"primaryKey;type:varchar(36)"`
	DeploymentID string    `gorm:"type:varchar(36);not null;index"`
	URL          string    `gorm:"type:varchar(255);not null"`
	HealthStatus string    `gorm:"type:enum('unknown','healthy','unhealthy');not null;default:'unknown'"`
	LatencyMs    *int64    `gorm:""` // 最近一次观测延迟，未探测过为 NULL
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (DeploymentNode) TableName() string {
	return "deployment_node"
}
