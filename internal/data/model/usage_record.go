package model

import (
	"time"
)

// UsageRecord 用量聚合表，桶粒度一小时
// (org_id, deployment_id, period_start) 唯一，并发写入通过原子自增合并
// cost_cents 不在写入路径累计，读取时按定价配置计算，避免与账本流水形成第二份费用来源
type UsageRecord struct {
	UsageRecordID  string    `gorm:"primaryKey;type:varchar(36)"`
	OrgID          string    `gorm:"type:varchar(36);not null;uniqueIndex:uk_org_deploy_period,priority:1"`
	DeploymentID   string    `gorm:"type:varchar(36);not null;uniqueIndex:uk_org_deploy_period,priority:2"`
	PeriodStart    time.Time `gorm:"not null;uniqueIndex:uk_org_deploy_period,priority:3"`
	PeriodEnd      time.Time `gorm:"not null"`
	RequestCount   int64     `gorm:"default:0"`
	InputTokens    int64     `gorm:"default:0"`
	OutputTokens   int64     `gorm:"default:0"`
	TotalLatencyMs int64     `gorm:"default:0"`
	ErrorCount     int64     `gorm:"default:0"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (UsageRecord) TableName() string {
	return "usage_record"
}
