package biz

import "context"

// ProvisionSpec 部署的算力申请
type ProvisionSpec struct {
	DeploymentID string  `json:"deployment_id"`
	ModelName    string  `json:"model_name"`
	GpuTier      string  `json:"gpu_tier"`
	Replicas     int     `json:"replicas"`
	MaxTokens    int     `json:"max_tokens"`
	MemoryUtil   float64 `json:"memory_util"`
}

// ProvisionedNode 编排服务返回的节点端点
type ProvisionedNode struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ProvisionResult 算力申请结果
type ProvisionResult struct {
	JobID string            `json:"id"`
	Nodes []ProvisionedNode `json:"nodes"`
}

// TrainingSpec 训练任务的算力申请
type TrainingSpec struct {
	TrainingJobID string `json:"training_job_id"`
	DatasetID     string `json:"dataset_id"`
	BaseModel     string `json:"base_model"`
	GpuTier       string `json:"gpu_tier"`
	TotalEpochs   int    `json:"total_epochs"`
}

// NodeHealth 单节点健康探测结果
type NodeHealth struct {
	OK        bool  `json:"ok"`
	LatencyMs int64 `json:"latency_ms"`
}

// FleetProvisioner 外部 GPU 算力编排服务契约
// 该服务不可靠：每个调用点都必须在失败时保持本地一致性（状态迁移 + last_error），
// 失败不向无关的请求路径传播
type FleetProvisioner interface {
	CreateDeployment(ctx context.Context, spec *ProvisionSpec) (*ProvisionResult, error)
	StopDeployment(ctx context.Context, externalJobID string) error
	CreateTrainingJob(ctx context.Context, spec *TrainingSpec) (string, error)
	StopTrainingJob(ctx context.Context, externalJobID string) error
	GetNodeHealth(ctx context.Context, nodeURL string) (*NodeHealth, error)
}
