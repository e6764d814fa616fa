package biz

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"serving-control-plane/internal/constants"
	servingErrors "serving-control-plane/internal/errors"
	"serving-control-plane/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// ProxyResult 上游推理响应，body 原样透传保持 OpenAI 兼容
type ProxyResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
	NodeID      string
	LatencyMs   int64
}

// NewRouterRand 创建路由选择用的随机源
// 显式注入而非使用全局 rand，保证加权选择算法可以用固定种子测试
func NewRouterRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// RouterUseCase 请求路由：延迟加权随机选择健康节点并转发
type RouterUseCase struct {
	registry *NodeRegistryUseCase
	conf     *ServingConfig
	client   *http.Client
	log      *log.Helper
	metrics  *metrics.ControlPlaneMetrics

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRouterUseCase 创建路由 UseCase
func NewRouterUseCase(registry *NodeRegistryUseCase, conf *ServingConfig, rng *rand.Rand, logger log.Logger) *RouterUseCase {
	return &RouterUseCase{
		registry: registry,
		conf:     conf,
		client:   &http.Client{},
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
		rng:      rng,
	}
}

// selectNode 延迟加权随机选择
// weight = maxLatency - latency + 100：低延迟节点权重更高，
// +100 下限保证慢节点仍有非零概率，不会被永久饿死
// O(n) 线性扫描：单个部署最多几十个副本，不值得上别名采样或加权堆
func (uc *RouterUseCase) selectNode(healthy []*DeploymentNode) *DeploymentNode {
	if len(healthy) == 0 {
		return nil
	}
	if len(healthy) == 1 {
		return healthy[0]
	}

	latency := func(n *DeploymentNode) int64 {
		if n.LatencyMs == nil {
			return constants.RouterUnknownLatencyMs
		}
		return *n.LatencyMs
	}

	// 权重基准从 1000 起算，观测到更高延迟才抬高基准：
	// 延迟普遍偏低时保持较平缓的权重差，避免过度集中到单个节点
	maxLatency := int64(constants.RouterDefaultMaxLatencyMs)
	for _, n := range healthy {
		if n.LatencyMs != nil && *n.LatencyMs > maxLatency {
			maxLatency = *n.LatencyMs
		}
	}

	weights := make([]int64, len(healthy))
	var total int64
	for i, n := range healthy {
		w := maxLatency - latency(n) + constants.RouterWeightFloor
		if w < constants.RouterWeightFloor {
			w = constants.RouterWeightFloor
		}
		weights[i] = w
		total += w
	}

	uc.mu.Lock()
	draw := uc.rng.Int63n(total)
	uc.mu.Unlock()

	for i, w := range weights {
		draw -= w
		if draw < 0 {
			return healthy[i]
		}
	}
	return healthy[len(healthy)-1]
}

// Route 选择健康节点并透传推理请求
// 上游失败或超时：同步标记节点不健康并返回错误，不换节点重试，
// 重试会带来重复计费的生成，重试策略留给调用方
func (uc *RouterUseCase) Route(ctx context.Context, deployment *Deployment, path string, body []byte) (*ProxyResult, error) {
	healthy, err := uc.registry.ListHealthy(ctx, deployment.ID)
	if err != nil {
		return nil, err
	}
	if len(healthy) == 0 {
		if uc.metrics != nil {
			uc.metrics.RouteTotal.WithLabelValues(deployment.Slug, constants.RouteResultNoHealthyNodes).Inc()
		}
		return nil, servingErrors.ErrNoHealthyNodes(deployment.ID)
	}

	node := uc.selectNode(healthy)

	proxyCtx, cancel := context.WithTimeout(ctx, uc.conf.ProxyTimeout)
	defer cancel()

	url := strings.TrimRight(node.URL, "/") + path
	req, err := http.NewRequestWithContext(proxyCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := uc.client.Do(req)
	elapsed := time.Since(startTime)

	if uc.metrics != nil {
		uc.metrics.ProxyDuration.WithLabelValues(deployment.Slug).Observe(elapsed.Seconds())
	}

	if err != nil {
		uc.failNode(ctx, deployment, node)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(proxyCtx.Err(), context.DeadlineExceeded) {
			if uc.metrics != nil {
				uc.metrics.RouteTotal.WithLabelValues(deployment.Slug, constants.RouteResultDeadlineExceeded).Inc()
			}
			return nil, servingErrors.ErrDeadlineExceeded(node.URL)
		}
		if uc.metrics != nil {
			uc.metrics.RouteTotal.WithLabelValues(deployment.Slug, constants.RouteResultUpstreamFailure).Inc()
		}
		return nil, servingErrors.ErrUpstreamFailure(node.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		uc.failNode(ctx, deployment, node)
		if uc.metrics != nil {
			uc.metrics.RouteTotal.WithLabelValues(deployment.Slug, constants.RouteResultUpstreamFailure).Inc()
		}
		return nil, servingErrors.ErrUpstreamFailure(node.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		uc.failNode(ctx, deployment, node)
		if uc.metrics != nil {
			uc.metrics.RouteTotal.WithLabelValues(deployment.Slug, constants.RouteResultUpstreamFailure).Inc()
		}
		uc.log.Warnf("upstream returned %d: deployment=%s, node=%s", resp.StatusCode, deployment.ID, node.ID)
		return nil, servingErrors.ErrUpstreamFailure(node.URL, errors.New(resp.Status))
	}

	if uc.metrics != nil {
		uc.metrics.RouteTotal.WithLabelValues(deployment.Slug, constants.RouteResultOk).Inc()
	}
	return &ProxyResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
		NodeID:      node.ID,
		LatencyMs:   elapsed.Milliseconds(),
	}, nil
}

func (uc *RouterUseCase) failNode(ctx context.Context, deployment *Deployment, node *DeploymentNode) {
	if err := uc.registry.MarkUnhealthy(ctx, node.ID); err != nil {
		uc.log.Errorf("MarkUnhealthy failed: deployment=%s, node=%s, error=%v", deployment.ID, node.ID, err)
	}
}
