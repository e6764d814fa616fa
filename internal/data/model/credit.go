package model

import (
	"time"
)

// CreditBalance 组织余额表
// 余额只允许在与 CreditTransaction 同一事务内变更，保证流水可重放
type CreditBalance struct {
	CreditBalanceID  string    `gorm:"primaryKey;type:varchar(36)"`
	OrgID            string    `gorm:"uniqueIndex;type:varchar(36);not null"`
	BalanceCents     int64     `gorm:"not null;default:0"` // 有符号，结算允许为负
	ReconcileFlagged bool      `gorm:"default:false"`      // 对账不一致，待人工处理
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (CreditBalance) TableName() string {
	return "credit_balance"
}

// CreditTransaction 信用流水表（只追加）
// Seq 自增列给出组织内流水的插入顺序，对账按 Seq 重放
type CreditTransaction struct {
	TransactionID     string    `gorm:"primaryKey;type:varchar(36)"`
	Seq               uint64    `gorm:"autoIncrement;uniqueIndex"`
	OrgID             string    `gorm:"type:varchar(36);not null;index:idx_org_created,priority:1"`
	AmountCents       int64     `gorm:"not null"`                              // 有符号，扣费为负
	Type              string    `gorm:"type:enum('usage','purchase','bonus','refund');not null"`
	ReferenceID       string    `gorm:"type:varchar(64)"`                      // 产生费用的部署/任务
	Description       string    `gorm:"type:varchar(255)"`
	BalanceAfterCents int64     `gorm:"not null"`                              // 本条流水落库后的余额快照
	CreatedAt         time.Time `gorm:"autoCreateTime;index:idx_org_created,priority:2"`
}

// TableName 指定表名
func (CreditTransaction) TableName() string {
	return "credit_transaction"
}
