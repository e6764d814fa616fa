package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/conf"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kratos/kratos/v2/log"
)

const provisionerDefaultTimeout = 60 * time.Second

// provisionerClient 外部算力编排服务的 HTTP 客户端
// 创建类调用做指数退避重试；停止类调用单次尝试，失败由调用方按 best-effort 处理
type provisionerClient struct {
	baseURL string
	token   string
	client  *http.Client
	log     *log.Helper
}

// NewProvisionerClient 创建编排服务客户端（返回 biz.FleetProvisioner 接口）
func NewProvisionerClient(c *conf.Bootstrap, logger log.Logger) biz.FleetProvisioner {
	timeout := provisionerDefaultTimeout
	baseURL := ""
	token := ""
	if c.Provisioner != nil {
		baseURL = c.Provisioner.BaseUrl
		token = c.Provisioner.Token
		if c.Provisioner.TimeoutSeconds > 0 {
			timeout = time.Duration(c.Provisioner.TimeoutSeconds) * time.Second
		}
	}
	return &provisionerClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		log:     log.NewHelper(logger),
	}
}

func (p *provisionerClient) doJSON(ctx context.Context, method, url string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("provisioner returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// retry 创建类调用的指数退避重试
func (p *provisionerClient) retry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(func() error {
		if err := fn(); err != nil {
			p.log.Warnf("provisioner %s failed, will retry: %v", op, err)
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// CreateDeployment 申请推理算力
func (p *provisionerClient) CreateDeployment(ctx context.Context, spec *biz.ProvisionSpec) (*biz.ProvisionResult, error) {
	var result biz.ProvisionResult
	err := p.retry(ctx, "create_deployment", func() error {
		result = biz.ProvisionResult{}
		return p.doJSON(ctx, http.MethodPost, p.baseURL+"/v1/deployments", spec, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// StopDeployment 释放推理算力（单次尝试）
func (p *provisionerClient) StopDeployment(ctx context.Context, externalJobID string) error {
	return p.doJSON(ctx, http.MethodPost, fmt.Sprintf("%s/v1/deployments/%s/stop", p.baseURL, externalJobID), nil, nil)
}

// CreateTrainingJob 提交训练任务，返回编排侧任务 ID
func (p *provisionerClient) CreateTrainingJob(ctx context.Context, spec *biz.TrainingSpec) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	err := p.retry(ctx, "create_training_job", func() error {
		result.ID = ""
		return p.doJSON(ctx, http.MethodPost, p.baseURL+"/v1/training-jobs", spec, &result)
	})
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("provisioner returned empty training job id")
	}
	return result.ID, nil
}

// StopTrainingJob 停止训练任务（单次尝试）
func (p *provisionerClient) StopTrainingJob(ctx context.Context, externalJobID string) error {
	return p.doJSON(ctx, http.MethodPost, fmt.Sprintf("%s/v1/training-jobs/%s/stop", p.baseURL, externalJobID), nil, nil)
}

// GetNodeHealth 直连节点探活并测量往返延迟
func (p *provisionerClient) GetNodeHealth(ctx context.Context, nodeURL string) (*biz.NodeHealth, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, nodeURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &biz.NodeHealth{OK: false, LatencyMs: latency}, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return &biz.NodeHealth{
		OK:        resp.StatusCode >= 200 && resp.StatusCode < 300,
		LatencyMs: latency,
	}, nil
}
