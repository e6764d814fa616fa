package biz

import (
	"context"
	"time"

	"serving-control-plane/internal/constants"
	"serving-control-plane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// UsageEvent is the per-request usage sample handed to the async pipeline.
// The response has already been returned when this is processed, so nothing
// in this path may fail the request.
type UsageEvent struct {
	OrgID        string    `json:"org_id"`
	DeploymentID string    `json:"deployment_id"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	LatencyMs    int64     `json:"latency_ms"`
	IsError      bool      `json:"is_error"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	ObservedAt   time.Time `json:"observed_at"`
}

// UsageBucket 用量聚合领域对象（读路径，cost 读取时计算）
type UsageBucket struct {
	OrgID          string
	DeploymentID   string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	RequestCount   int64
	InputTokens    int64
	OutputTokens   int64
	TotalLatencyMs int64
	ErrorCount     int64
	CostCents      int64
}

// UsageRepo 用量数据层接口（定义在 biz 层）
// 合并必须是原子自增的 upsert：同一 (org, deployment, periodStart) 桶
// 并发写入合并计数而不是互相覆盖
type UsageRepo interface {
	AddUsage(ctx context.Context, events ...*UsageEvent) error
	ListUsage(ctx context.Context, orgID string, from, to time.Time) ([]*UsageBucket, error)
}

// UsagePublisher 用量事件的异步投递通道（RocketMQ 生产者）
// Enabled 为 false 时 meter 退回进程内 worker
type UsagePublisher interface {
	Enabled() bool
	PublishUsage(ctx context.Context, event *UsageEvent) error
}

// BucketFor 计算小时对齐的聚合桶
func BucketFor(t time.Time) (time.Time, time.Time) {
	start := t.UTC().Truncate(constants.UsagePeriod)
	return start, start.Add(constants.UsagePeriod)
}

// UsageMeterUseCase 用量计量
// Record 相对响应路径 fire-and-forget：失败记日志，绝不反向影响已经返回的响应
type UsageMeterUseCase struct {
	repo      UsageRepo
	deploys   DeploymentRepo
	publisher UsagePublisher
	conf      *ServingConfig
	log       *log.Helper
	metrics   *metrics.ControlPlaneMetrics

	events chan *UsageEvent
	done   chan struct{}
}

// NewUsageMeterUseCase 创建用量计量 UseCase
func NewUsageMeterUseCase(repo UsageRepo, deploys DeploymentRepo, publisher UsagePublisher, conf *ServingConfig, logger log.Logger) *UsageMeterUseCase {
	return &UsageMeterUseCase{
		repo:      repo,
		deploys:   deploys,
		publisher: publisher,
		conf:      conf,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
		events:    make(chan *UsageEvent, 1024),
		done:      make(chan struct{}),
	}
}

// Record 记录一次调用的用量
// MQ 可用时经 RocketMQ 投递（消费端批量落库），否则交给进程内 worker
func (uc *UsageMeterUseCase) Record(ctx context.Context, event *UsageEvent) {
	now := time.Now()
	event.ObservedAt = now
	event.PeriodStart, event.PeriodEnd = BucketFor(now)

	if uc.metrics != nil {
		uc.metrics.TokensTotal.WithLabelValues("input").Add(float64(event.InputTokens))
		uc.metrics.TokensTotal.WithLabelValues("output").Add(float64(event.OutputTokens))
	}

	if uc.publisher != nil && uc.publisher.Enabled() {
		if err := uc.publisher.PublishUsage(ctx, event); err == nil {
			if uc.metrics != nil {
				uc.metrics.UsageEventsTotal.WithLabelValues("mq").Inc()
			}
			return
		} else {
			uc.log.Warnf("PublishUsage failed, falling back to worker: %v", err)
		}
	}

	select {
	case uc.events <- event:
		if uc.metrics != nil {
			uc.metrics.UsageEventsTotal.WithLabelValues("worker").Inc()
		}
	default:
		// 队列满：丢弃并计失败，不阻塞响应路径
		uc.log.Errorf("usage worker queue full, dropping event: org_id=%s, deployment_id=%s", event.OrgID, event.DeploymentID)
		if uc.metrics != nil {
			uc.metrics.UsageEventsFailed.Inc()
		}
	}
}

// Start 启动进程内落库 worker（注册为 kratos Server）
func (uc *UsageMeterUseCase) Start(ctx context.Context) error {
	go uc.worker()
	return nil
}

// Stop 停止 worker，排空剩余事件
func (uc *UsageMeterUseCase) Stop(ctx context.Context) error {
	close(uc.done)
	return nil
}

func (uc *UsageMeterUseCase) worker() {
	for {
		select {
		case event := <-uc.events:
			uc.apply(event)
		case <-uc.done:
			for {
				select {
				case event := <-uc.events:
					uc.apply(event)
				default:
					return
				}
			}
		}
	}
}

func (uc *UsageMeterUseCase) apply(event *UsageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := uc.repo.AddUsage(ctx, event); err != nil {
		uc.log.Errorf("AddUsage failed: org_id=%s, deployment_id=%s, error=%v", event.OrgID, event.DeploymentID, err)
		if uc.metrics != nil {
			uc.metrics.UsageEventsFailed.Inc()
		}
	}
}

// ApplyBatch MQ 消费端批量落库入口
func (uc *UsageMeterUseCase) ApplyBatch(ctx context.Context, events []*UsageEvent) error {
	return uc.repo.AddUsage(ctx, events...)
}

// ListUsage 查询用量，cost_cents 按部署 GPU 档位的定价配置在读取时计算
func (uc *UsageMeterUseCase) ListUsage(ctx context.Context, orgID string, from, to time.Time) ([]*UsageBucket, error) {
	buckets, err := uc.repo.ListUsage(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}

	tiers := make(map[string]string)
	for _, b := range buckets {
		tier, ok := tiers[b.DeploymentID]
		if !ok {
			d, err := uc.deploys.GetDeployment(ctx, b.DeploymentID)
			if err != nil {
				uc.log.Warnf("GetDeployment failed while pricing usage: deployment_id=%s, error=%v", b.DeploymentID, err)
				continue
			}
			if d == nil {
				continue
			}
			tier = d.GpuTier
			tiers[b.DeploymentID] = tier
		}
		b.CostCents = uc.conf.CostCents(tier, b.InputTokens, b.OutputTokens)
	}
	return buckets, nil
}
