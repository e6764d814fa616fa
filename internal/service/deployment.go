package service

import (
	"context"
	"time"

	"serving-control-plane/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// DeploymentService 部署生命周期管理
type DeploymentService struct {
	uc  *biz.DeploymentUseCase
	log *log.Helper
}

// NewDeploymentService 创建 DeploymentService
func NewDeploymentService(uc *biz.DeploymentUseCase, logger log.Logger) *DeploymentService {
	return &DeploymentService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// CreateDeploymentRequest 创建部署请求
type CreateDeploymentRequest struct {
	OrgID      string  `json:"org_id"`
	Slug       string  `json:"slug"`
	ModelName  string  `json:"model_name"`
	GpuTier    string  `json:"gpu_tier"`
	Replicas   int     `json:"replicas"`
	MaxTokens  int     `json:"max_tokens"`
	MemoryUtil float64 `json:"memory_util"`
}

// DeploymentReply 部署信息
type DeploymentReply struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Slug      string    `json:"slug"`
	ModelName string    `json:"model_name"`
	Status    string    `json:"status"`
	GpuTier   string    `json:"gpu_tier"`
	Replicas  int       `json:"replicas"`
	MaxTokens int       `json:"max_tokens"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toDeploymentReply(d *biz.Deployment) *DeploymentReply {
	return &DeploymentReply{
		ID:        d.ID,
		OrgID:     d.OrgID,
		Slug:      d.Slug,
		ModelName: d.ModelName,
		Status:    d.Status,
		GpuTier:   d.GpuTier,
		Replicas:  d.Replicas,
		MaxTokens: d.MaxTokens,
		LastError: d.LastError,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// Create 创建部署，算力申请异步进行，立即返回 pending 记录
func (s *DeploymentService) Create(ctx context.Context, req *CreateDeploymentRequest) (*DeploymentReply, error) {
	d, err := s.uc.Create(ctx, &biz.Deployment{
		OrgID:      req.OrgID,
		Slug:       req.Slug,
		ModelName:  req.ModelName,
		GpuTier:    req.GpuTier,
		Replicas:   req.Replicas,
		MaxTokens:  req.MaxTokens,
		MemoryUtil: req.MemoryUtil,
	})
	if err != nil {
		s.log.Errorf("Create deployment failed: %v", err)
		return nil, err
	}
	return toDeploymentReply(d), nil
}

// Get 查询部署
func (s *DeploymentService) Get(ctx context.Context, id string) (*DeploymentReply, error) {
	d, err := s.uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toDeploymentReply(d), nil
}

// Stop 停止部署
func (s *DeploymentService) Stop(ctx context.Context, id string) (*DeploymentReply, error) {
	d, err := s.uc.Stop(ctx, id)
	if err != nil {
		s.log.Errorf("Stop deployment failed: deployment_id=%s, error=%v", id, err)
		return nil, err
	}
	return toDeploymentReply(d), nil
}

// Restart 重启部署
func (s *DeploymentService) Restart(ctx context.Context, id string) (*DeploymentReply, error) {
	d, err := s.uc.Restart(ctx, id)
	if err != nil {
		s.log.Errorf("Restart deployment failed: deployment_id=%s, error=%v", id, err)
		return nil, err
	}
	return toDeploymentReply(d), nil
}
