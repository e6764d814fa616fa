package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/constants"
	"serving-control-plane/internal/data/model"
	"serving-control-plane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// balanceCacheEntry 余额缓存条目：对账标记随余额一起缓存，
// 命中缓存的读取不能把被标记的余额当成干净的返回
type balanceCacheEntry struct {
	BalanceCents     int64 `json:"balance_cents"`
	ReconcileFlagged bool  `json:"reconcile_flagged"`
}

func encodeBalanceCache(cents int64, flagged bool) string {
	b, _ := json.Marshal(balanceCacheEntry{BalanceCents: cents, ReconcileFlagged: flagged})
	return string(b)
}

func decodeBalanceCache(s string) (balanceCacheEntry, bool) {
	var entry balanceCacheEntry
	if err := json.Unmarshal([]byte(s), &entry); err != nil {
		return balanceCacheEntry{}, false
	}
	return entry, true
}

// ledgerRepo 账本数据访问
type ledgerRepo struct {
	data    *Data
	sync    *redsync.Redsync
	log     *log.Helper
	metrics *metrics.ControlPlaneMetrics
}

// NewLedgerRepo 创建账本 repo（返回 biz.LedgerRepo 接口）
func NewLedgerRepo(data *Data, sync *redsync.Redsync, logger log.Logger) biz.LedgerRepo {
	return &ledgerRepo{
		data:    data,
		sync:    sync,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// GetBalance 获取组织余额
func (r *ledgerRepo) GetBalance(ctx context.Context, orgID string) (*biz.CreditBalance, error) {
	if orgID == "" {
		return nil, fmt.Errorf("orgID is required")
	}

	// 先尝试从 Redis 获取（准入热路径）
	balanceKey := constants.RedisKeyBalance + orgID
	balanceStr, err := r.data.rdb.Get(ctx, balanceKey).Result()
	if err == nil {
		if entry, ok := decodeBalanceCache(balanceStr); ok {
			return &biz.CreditBalance{
				OrgID:            orgID,
				BalanceCents:     entry.BalanceCents,
				ReconcileFlagged: entry.ReconcileFlagged,
			}, nil
		}
	}

	// 缓存未命中，从数据库查询
	var m model.CreditBalance
	if err := r.data.db.WithContext(ctx).Where("org_id = ?", orgID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 组织余额记录不存在，返回 nil（业务层按余额 0 处理）
			return nil, nil
		}
		r.log.Errorf("GetBalance failed: org_id=%s, error=%v", orgID, err)
		return nil, fmt.Errorf("failed to query credit balance: %w", err)
	}

	result := &biz.CreditBalance{
		OrgID:            m.OrgID,
		BalanceCents:     m.BalanceCents,
		ReconcileFlagged: m.ReconcileFlagged,
		UpdatedAt:        m.UpdatedAt,
	}

	// 更新缓存（异步，不阻塞，设置超时避免长时间等待）
	go func() {
		cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cacheCancel()
		_ = r.data.rdb.Set(cacheCtx, balanceKey, encodeBalanceCache(m.BalanceCents, m.ReconcileFlagged), 5*time.Minute).Err()
	}()

	return result, nil
}

// Apply 原子结算：余额变更和流水追加在同一事务内完成
// 同一组织的并发调用通过分布式锁 + 行锁串行化，
// balance_after 直接取自持锁读出的余额，保证序列严格有序、无空洞
func (r *ledgerRepo) Apply(ctx context.Context, orgID string, amountCents int64, txType, referenceID, description string) (int64, error) {
	lockKey := constants.RedisKeySettleLock + orgID
	if r.sync != nil {
		lockStartTime := time.Now()
		mutex := r.sync.NewMutex(lockKey, redsync.WithExpiry(5*time.Second))
		if err := mutex.LockContext(ctx); err != nil {
			r.log.Errorf("failed to acquire settle lock: org_id=%s, error=%v", orgID, err)
			if r.metrics != nil {
				r.metrics.LockAcquireTotal.WithLabelValues(constants.LockResultFailed).Inc()
				r.metrics.LockAcquireDuration.Observe(time.Since(lockStartTime).Seconds())
			}
			return 0, fmt.Errorf("acquire settle lock: %w", err)
		}
		if r.metrics != nil {
			r.metrics.LockAcquireTotal.WithLabelValues(constants.LockResultSuccess).Inc()
			r.metrics.LockAcquireDuration.Observe(time.Since(lockStartTime).Seconds())
		}
		defer func() {
			if ok, err := mutex.Unlock(); !ok || err != nil {
				r.log.Warnf("failed to unlock settle lock: org_id=%s, error=%v", orgID, err)
			}
		}()
	}

	var newBalance int64
	var flagged bool
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var balance model.CreditBalance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("org_id = ?", orgID).First(&balance).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("get balance failed: %w", err)
			}
			balance = model.CreditBalance{
				CreditBalanceID: uuid.New().String(),
				OrgID:           orgID,
				BalanceCents:    0,
			}
			if err := tx.Create(&balance).Error; err != nil {
				return fmt.Errorf("create credit balance failed: %w", err)
			}
		}

		// 余额变更必须基于持锁读出的值计算，与流水快照保持一致
		flagged = balance.ReconcileFlagged
		newBalance = balance.BalanceCents + amountCents
		if err := tx.Model(&balance).Update("balance_cents", newBalance).Error; err != nil {
			return err
		}

		txn := model.CreditTransaction{
			TransactionID:     uuid.New().String(),
			OrgID:             orgID,
			AmountCents:       amountCents,
			Type:              txType,
			ReferenceID:       referenceID,
			Description:       description,
			BalanceAfterCents: newBalance,
		}
		return tx.Create(&txn).Error
	})

	// 事务提交成功后更新余额缓存
	if err == nil {
		balanceKey := constants.RedisKeyBalance + orgID
		cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cacheCancel()
		if err := r.data.rdb.Set(cacheCtx, balanceKey, encodeBalanceCache(newBalance, flagged), 5*time.Minute).Err(); err != nil {
			// 缓存更新失败不影响主流程，只记录日志
			r.log.Warnf("failed to update balance cache after apply: org_id=%s, error=%v", orgID, err)
		}
	}

	return newBalance, err
}

// ListTransactions 分页查询流水（倒序，API 用）
func (r *ledgerRepo) ListTransactions(ctx context.Context, orgID string, page, pageSize int) ([]*biz.CreditTransaction, int64, error) {
	var models []model.CreditTransaction
	var total int64

	offset := (page - 1) * pageSize
	db := r.data.db.WithContext(ctx).Model(&model.CreditTransaction{}).Where("org_id = ?", orgID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Offset(offset).Limit(pageSize).Order("seq DESC").Find(&models).Error; err != nil {
		return nil, 0, err
	}

	var transactions []*biz.CreditTransaction
	for _, m := range models {
		transactions = append(transactions, toBizTransaction(&m))
	}
	return transactions, total, nil
}

// WalkTransactions 按插入顺序遍历组织全部流水（对账用）
func (r *ledgerRepo) WalkTransactions(ctx context.Context, orgID string, fn func(*biz.CreditTransaction) error) error {
	var batch []model.CreditTransaction
	result := r.data.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("seq ASC").
		FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				if err := fn(toBizTransaction(&batch[i])); err != nil {
					return err
				}
			}
			return nil
		})
	return result.Error
}

// FlagReconcile 标记组织余额不可信，待人工对账
// 缓存条目带着旧标记，必须一并失效，否则缓存过期前余额仍显示为干净
func (r *ledgerRepo) FlagReconcile(ctx context.Context, orgID string) error {
	if err := r.data.db.WithContext(ctx).Model(&model.CreditBalance{}).
		Where("org_id = ?", orgID).
		Update("reconcile_flagged", true).Error; err != nil {
		return err
	}
	if err := r.data.rdb.Del(ctx, constants.RedisKeyBalance+orgID).Err(); err != nil {
		r.log.Warnf("failed to invalidate balance cache after flagging: org_id=%s, error=%v", orgID, err)
	}
	return nil
}

// ListOrgIDs 获取所有有余额记录的组织ID（对账扫描用）
func (r *ledgerRepo) ListOrgIDs(ctx context.Context) ([]string, error) {
	var orgIDs []string
	if err := r.data.db.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Distinct("org_id").
		Pluck("org_id", &orgIDs).Error; err != nil {
		return nil, fmt.Errorf("list org ids failed: %w", err)
	}
	return orgIDs, nil
}

func toBizTransaction(m *model.CreditTransaction) *biz.CreditTransaction {
	return &biz.CreditTransaction{
		ID:                m.TransactionID,
		OrgID:             m.OrgID,
		AmountCents:       m.AmountCents,
		Type:              m.Type,
		ReferenceID:       m.ReferenceID,
		Description:       m.Description,
		BalanceAfterCents: m.BalanceAfterCents,
		CreatedAt:         m.CreatedAt,
	}
}
