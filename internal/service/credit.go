package service

import (
	"context"
	"time"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/constants"
	servingErrors "serving-control-plane/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// CreditService 信用余额与用量查询
type CreditService struct {
	ledger *biz.LedgerUseCase
	meter  *biz.UsageMeterUseCase
	log    *log.Helper
}

// NewCreditService 创建 CreditService
func NewCreditService(ledger *biz.LedgerUseCase, meter *biz.UsageMeterUseCase, logger log.Logger) *CreditService {
	return &CreditService{
		ledger: ledger,
		meter:  meter,
		log:    log.NewHelper(logger),
	}
}

// BalanceReply 余额信息
type BalanceReply struct {
	OrgID            string `json:"org_id"`
	BalanceCents     int64  `json:"balance_cents"`
	ReconcileFlagged bool   `json:"reconcile_flagged"`
}

// PurchaseRequest 购买请求
type PurchaseRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Type        string `json:"type"`
	ReferenceID string `json:"reference_id"`
	Description string `json:"description"`
}

// TransactionReply 流水信息
type TransactionReply struct {
	ID                string    `json:"id"`
	AmountCents       int64     `json:"amount_cents"`
	Type              string    `json:"type"`
	ReferenceID       string    `json:"reference_id,omitempty"`
	Description       string    `json:"description,omitempty"`
	BalanceAfterCents int64     `json:"balance_after_cents"`
	CreatedAt         time.Time `json:"created_at"`
}

// TransactionListReply 流水分页
type TransactionListReply struct {
	Total        int64               `json:"total"`
	Transactions []*TransactionReply `json:"transactions"`
}

// UsageBucketReply 用量聚合桶
type UsageBucketReply struct {
	DeploymentID   string    `json:"deployment_id"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	RequestCount   int64     `json:"request_count"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	TotalLatencyMs int64     `json:"total_latency_ms"`
	ErrorCount     int64     `json:"error_count"`
	CostCents      int64     `json:"cost_cents"`
}

// GetBalance 查询余额
func (s *CreditService) GetBalance(ctx context.Context, orgID string) (*BalanceReply, error) {
	balance, err := s.ledger.GetBalance(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &BalanceReply{
		OrgID:            orgID,
		BalanceCents:     balance.BalanceCents,
		ReconcileFlagged: balance.ReconcileFlagged,
	}, nil
}

// Purchase 入账（默认为购买）
func (s *CreditService) Purchase(ctx context.Context, orgID string, req *PurchaseRequest) (*BalanceReply, error) {
	txType := req.Type
	if txType == "" {
		txType = constants.TransactionTypePurchase
	}
	referenceID := req.ReferenceID
	if referenceID == "" {
		referenceID = uuid.New().String()
	}

	newBalance, err := s.ledger.Credit(ctx, orgID, req.AmountCents, txType, referenceID, req.Description)
	if err != nil {
		s.log.Errorf("Credit failed: org_id=%s, amount_cents=%d, error=%v", orgID, req.AmountCents, err)
		return nil, err
	}
	return &BalanceReply{OrgID: orgID, BalanceCents: newBalance}, nil
}

// ListTransactions 分页查询流水
func (s *CreditService) ListTransactions(ctx context.Context, orgID string, page, pageSize int) (*TransactionListReply, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	txs, total, err := s.ledger.ListTransactions(ctx, orgID, page, pageSize)
	if err != nil {
		return nil, err
	}

	reply := &TransactionListReply{
		Total:        total,
		Transactions: make([]*TransactionReply, 0, len(txs)),
	}
	for _, tx := range txs {
		reply.Transactions = append(reply.Transactions, &TransactionReply{
			ID:                tx.ID,
			AmountCents:       tx.AmountCents,
			Type:              tx.Type,
			ReferenceID:       tx.ReferenceID,
			Description:       tx.Description,
			BalanceAfterCents: tx.BalanceAfterCents,
			CreatedAt:         tx.CreatedAt,
		})
	}
	return reply, nil
}

// ListUsage 查询时间范围内的用量，默认最近 24 小时
func (s *CreditService) ListUsage(ctx context.Context, orgID string, from, to time.Time) ([]*UsageBucketReply, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if !from.Before(to) {
		return nil, servingErrors.ErrInvalidRequest("from must be before to")
	}

	buckets, err := s.meter.ListUsage(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}

	replies := make([]*UsageBucketReply, 0, len(buckets))
	for _, b := range buckets {
		replies = append(replies, &UsageBucketReply{
			DeploymentID:   b.DeploymentID,
			PeriodStart:    b.PeriodStart,
			PeriodEnd:      b.PeriodEnd,
			RequestCount:   b.RequestCount,
			InputTokens:    b.InputTokens,
			OutputTokens:   b.OutputTokens,
			TotalLatencyMs: b.TotalLatencyMs,
			ErrorCount:     b.ErrorCount,
			CostCents:      b.CostCents,
		})
	}
	return replies, nil
}
