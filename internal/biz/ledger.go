package biz

import (
	"context"
	"time"

	"serving-control-plane/internal/constants"
	servingErrors "serving-control-plane/internal/errors"
	"serving-control-plane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// CreditBalance 组织余额领域对象
type CreditBalance struct {
	OrgID            string
	BalanceCents     int64
	ReconcileFlagged bool
	UpdatedAt        time.Time
}

// CreditTransaction 信用流水领域对象
type CreditTransaction struct {
	ID                string
	OrgID             string
	AmountCents       int64
	Type              string
	ReferenceID       string
	Description       string
	BalanceAfterCents int64
	CreatedAt         time.Time
}

// AdmitResult 准入检查结果
type AdmitResult struct {
	Allowed      bool
	BalanceCents int64
}

// LedgerRepo 账本数据层接口（定义在 biz 层）
// Apply 必须原子地完成余额变更和流水追加：同一组织的并发调用串行化，
// balance_after 形成严格有序、无空洞的序列
type LedgerRepo interface {
	GetBalance(ctx context.Context, orgID string) (*CreditBalance, error)
	Apply(ctx context.Context, orgID string, amountCents int64, txType, referenceID, description string) (int64, error)
	ListTransactions(ctx context.Context, orgID string, page, pageSize int) ([]*CreditTransaction, int64, error)
	WalkTransactions(ctx context.Context, orgID string, fn func(*CreditTransaction) error) error
	FlagReconcile(ctx context.Context, orgID string) error
	ListOrgIDs(ctx context.Context) ([]string, error)
}

// LedgerUseCase 账本业务逻辑：准入（advisory）与结算（authoritative）
type LedgerUseCase struct {
	repo    LedgerRepo
	conf    *ServingConfig
	log     *log.Helper
	metrics *metrics.ControlPlaneMetrics
}

// NewLedgerUseCase 创建账本 UseCase
func NewLedgerUseCase(repo LedgerRepo, conf *ServingConfig, logger log.Logger) *LedgerUseCase {
	return &LedgerUseCase{
		repo:    repo,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// Admit 准入检查：余额低于阈值直接拒绝
// 预检性质，真正扣费在 Settle 再次校验；通过准入后仍可能因并发消耗在结算时余额不足
func (uc *LedgerUseCase) Admit(ctx context.Context, orgID string, minBalanceCents int64) (*AdmitResult, error) {
	startTime := time.Now()
	defer func() {
		if uc.metrics != nil {
			uc.metrics.AdmitDuration.Observe(time.Since(startTime).Seconds())
		}
	}()

	balance, err := uc.repo.GetBalance(ctx, orgID)
	if err != nil {
		if uc.metrics != nil {
			uc.metrics.AdmitTotal.WithLabelValues(constants.AdmitResultError).Inc()
		}
		return nil, err
	}

	// 余额记录不存在按 0 处理，不在准入路径创建
	var current int64
	if balance != nil {
		current = balance.BalanceCents
	}

	if current < minBalanceCents {
		if uc.metrics != nil {
			uc.metrics.AdmitTotal.WithLabelValues(constants.AdmitResultDenied).Inc()
		}
		return &AdmitResult{Allowed: false, BalanceCents: current}, nil
	}

	if uc.metrics != nil {
		uc.metrics.AdmitTotal.WithLabelValues(constants.AdmitResultAllowed).Inc()
	}
	return &AdmitResult{Allowed: true, BalanceCents: current}, nil
}

// Settle 结算一次用量：扣减余额并追加流水，返回结算后余额
// 响应已经产生、成本已经沉没，因此允许余额为负，不因余额不足丢弃已完成的响应
func (uc *LedgerUseCase) Settle(ctx context.Context, orgID string, costCents int64, referenceID, description string) (int64, error) {
	startTime := time.Now()

	newBalance, err := uc.repo.Apply(ctx, orgID, -costCents, constants.TransactionTypeUsage, referenceID, description)

	if uc.metrics != nil {
		uc.metrics.SettleDuration.Observe(time.Since(startTime).Seconds())
		if err == nil {
			uc.metrics.SettleTotal.WithLabelValues(constants.TransactionTypeUsage).Inc()
			uc.metrics.SettleAmount.WithLabelValues(constants.TransactionTypeUsage).Add(float64(costCents))
			if newBalance < 0 {
				uc.metrics.NegativeBalanceAlert.Set(1)
			}
		}
	}
	if err != nil {
		return 0, err
	}
	if newBalance < 0 {
		uc.log.Warnf("settlement drove balance negative: org_id=%s, balance_cents=%d, reference_id=%s", orgID, newBalance, referenceID)
	}

	return newBalance, nil
}

// Credit 入账（购买/赠送/退款），复用同一条加锁写路径
func (uc *LedgerUseCase) Credit(ctx context.Context, orgID string, amountCents int64, txType, referenceID, description string) (int64, error) {
	if amountCents <= 0 {
		return 0, servingErrors.ErrInvalidRequest("credit amount must be positive")
	}
	switch txType {
	case constants.TransactionTypePurchase, constants.TransactionTypeBonus, constants.TransactionTypeRefund:
	default:
		return 0, servingErrors.ErrInvalidRequest("invalid transaction type: " + txType)
	}

	newBalance, err := uc.repo.Apply(ctx, orgID, amountCents, txType, referenceID, description)
	if err == nil && uc.metrics != nil {
		uc.metrics.SettleTotal.WithLabelValues(txType).Inc()
		uc.metrics.SettleAmount.WithLabelValues(txType).Add(float64(amountCents))
	}
	return newBalance, err
}

// GetBalance 查询余额
func (uc *LedgerUseCase) GetBalance(ctx context.Context, orgID string) (*CreditBalance, error) {
	balance, err := uc.repo.GetBalance(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = &CreditBalance{OrgID: orgID, BalanceCents: 0}
	}
	return balance, nil
}

// ListTransactions 查询流水
func (uc *LedgerUseCase) ListTransactions(ctx context.Context, orgID string, page, pageSize int) ([]*CreditTransaction, int64, error) {
	return uc.repo.ListTransactions(ctx, orgID, page, pageSize)
}

// Reconcile 对账：按插入顺序重放流水，校验每条 balance_after 与最终余额
// 发现不一致只标记，不自动修正（该组织余额视为不可信，交人工处理）
func (uc *LedgerUseCase) Reconcile(ctx context.Context, orgID string) (bool, error) {
	var running int64
	mismatch := false

	err := uc.repo.WalkTransactions(ctx, orgID, func(tx *CreditTransaction) error {
		running += tx.AmountCents
		if tx.BalanceAfterCents != running {
			mismatch = true
			uc.log.Errorf("ledger mismatch: org_id=%s, transaction_id=%s, balance_after=%d, replayed=%d",
				orgID, tx.ID, tx.BalanceAfterCents, running)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	balance, err := uc.repo.GetBalance(ctx, orgID)
	if err != nil {
		return false, err
	}
	var current int64
	if balance != nil {
		current = balance.BalanceCents
	}
	if current != running {
		mismatch = true
		uc.log.Errorf("ledger mismatch: org_id=%s, balance_cents=%d, replayed=%d", orgID, current, running)
	}

	if mismatch {
		if uc.metrics != nil {
			uc.metrics.ReconcileMismatch.WithLabelValues(orgID).Inc()
		}
		if err := uc.repo.FlagReconcile(ctx, orgID); err != nil {
			uc.log.Errorf("FlagReconcile failed: org_id=%s, error=%v", orgID, err)
		}
		return false, nil
	}
	return true, nil
}

// ReconcileAll 对所有组织对账（cmd/cron 每日执行）
func (uc *LedgerUseCase) ReconcileAll(ctx context.Context) (int, int, error) {
	orgIDs, err := uc.repo.ListOrgIDs(ctx)
	if err != nil {
		return 0, 0, err
	}

	checked, flagged := 0, 0
	for _, orgID := range orgIDs {
		ok, err := uc.Reconcile(ctx, orgID)
		if err != nil {
			uc.log.Warnf("Reconcile failed: org_id=%s, error=%v", orgID, err)
			continue
		}
		checked++
		if !ok {
			flagged++
		}
	}
	return checked, flagged, nil
}
