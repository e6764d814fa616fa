package service

import (
	"context"
	"encoding/json"
	"time"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/constants"
	servingErrors "serving-control-plane/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// InferenceService 推理入口：准入 → 路由 → 计量 → 结算
type InferenceService struct {
	deployments *biz.DeploymentUseCase
	ledger      *biz.LedgerUseCase
	router      *biz.RouterUseCase
	meter       *biz.UsageMeterUseCase
	conf        *biz.ServingConfig
	log         *log.Helper
}

// NewInferenceService 创建 InferenceService
func NewInferenceService(
	deployments *biz.DeploymentUseCase,
	ledger *biz.LedgerUseCase,
	router *biz.RouterUseCase,
	meter *biz.UsageMeterUseCase,
	conf *biz.ServingConfig,
	logger log.Logger,
) *InferenceService {
	return &InferenceService{
		deployments: deployments,
		ledger:      ledger,
		router:      router,
		meter:       meter,
		conf:        conf,
		log:         log.NewHelper(logger),
	}
}

// completionUsage OpenAI 兼容响应中的 usage 块
type completionUsage struct {
	ID    string `json:"id"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// ChatCompletions 处理一次推理调用，body 原样透传
// 结算在响应产生之后：准入只是预检，结算时余额不足不回滚已生成的响应
func (s *InferenceService) ChatCompletions(ctx context.Context, slug string, body []byte) (*biz.ProxyResult, error) {
	d, err := s.deployments.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case constants.DeploymentStatusRunning, constants.DeploymentStatusDegraded:
	default:
		return nil, servingErrors.ErrDeploymentNotReady(slug, d.Status)
	}

	admit, err := s.ledger.Admit(ctx, d.OrgID, s.conf.MinAdmissionCents)
	if err != nil {
		return nil, err
	}
	if !admit.Allowed {
		return nil, servingErrors.ErrInsufficientCredits(admit.BalanceCents)
	}

	startTime := time.Now()
	result, err := s.router.Route(ctx, d, "/v1/chat/completions", body)
	if err != nil {
		// 失败的调用同样计量（error_count），但不产生结算
		s.meter.Record(ctx, &biz.UsageEvent{
			OrgID:        d.OrgID,
			DeploymentID: d.ID,
			LatencyMs:    time.Since(startTime).Milliseconds(),
			IsError:      true,
		})
		return nil, err
	}

	var parsed completionUsage
	if err := json.Unmarshal(result.Body, &parsed); err != nil {
		s.log.Warnf("failed to parse usage from upstream response: deployment_id=%s, error=%v", d.ID, err)
	}
	inputTokens := parsed.Usage.PromptTokens
	outputTokens := parsed.Usage.CompletionTokens

	s.meter.Record(ctx, &biz.UsageEvent{
		OrgID:        d.OrgID,
		DeploymentID: d.ID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		LatencyMs:    result.LatencyMs,
	})

	cost := s.conf.CostCents(d.GpuTier, inputTokens, outputTokens)
	if cost > 0 {
		// reference_id 指向产生费用的部署，上游补全 id 只进描述
		description := "chat completion: " + d.Slug
		if parsed.ID != "" {
			description += " (" + parsed.ID + ")"
		}
		if _, err := s.ledger.Settle(ctx, d.OrgID, cost, d.ID, description); err != nil {
			// 响应已经产生，结算失败只记日志，后续对账兜底
			s.log.Errorf("Settle failed: org_id=%s, deployment_id=%s, cost_cents=%d, error=%v",
				d.OrgID, d.ID, cost, err)
		}
	} else if inputTokens+outputTokens > 0 {
		s.log.Warnf("no pricing for gpu tier, skipping settlement: deployment_id=%s, gpu_tier=%s", d.ID, d.GpuTier)
	}

	return result, nil
}
