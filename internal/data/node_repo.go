package data

import (
	"context"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/constants"
	"serving-control-plane/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// nodeRepo 部署节点数据访问
type nodeRepo struct {
	data *Data
	log  *log.Helper
}

// NewNodeRepo 创建节点 repo（返回 biz.NodeRepo 接口）
func NewNodeRepo(data *Data, logger log.Logger) biz.NodeRepo {
	return &nodeRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// ListNodes 列出部署下全部节点
func (r *nodeRepo) ListNodes(ctx context.Context, deploymentID string) ([]*biz.DeploymentNode, error) {
	var models []model.DeploymentNode
	if err := r.data.db.WithContext(ctx).
		Where("deployment_id = ?", deploymentID).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toBizNodes(models), nil
}

// ListHealthy 列出部署下健康节点
func (r *nodeRepo) ListHealthy(ctx context.Context, deploymentID string) ([]*biz.DeploymentNode, error) {
	var models []model.DeploymentNode
	if err := r.data.db.WithContext(ctx).
		Where("deployment_id = ? AND health_status = ?", deploymentID, constants.NodeHealthHealthy).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toBizNodes(models), nil
}

// UpdateNodeHealth 更新节点健康状态（按节点 last-writer-wins）
// latencyMs 为 nil 时保留上次观测延迟
func (r *nodeRepo) UpdateNodeHealth(ctx context.Context, nodeID, healthStatus string, latencyMs *int64) error {
	updates := map[string]interface{}{
		"health_status": healthStatus,
	}
	if latencyMs != nil {
		updates["latency_ms"] = *latencyMs
	}
	return r.data.db.WithContext(ctx).Model(&model.DeploymentNode{}).
		Where("node_id = ?", nodeID).
		Updates(updates).Error
}

// ReplaceNodes 整组替换部署节点（重新供给时旧节点被取代）
func (r *nodeRepo) ReplaceNodes(ctx context.Context, deploymentID string, nodes []*biz.DeploymentNode) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("deployment_id = ?", deploymentID).
			Delete(&model.DeploymentNode{}).Error; err != nil {
			return err
		}
		for _, n := range nodes {
			m := model.DeploymentNode{
				NodeID:       n.ID,
				DeploymentID: deploymentID,
				URL:          n.URL,
				HealthStatus: n.HealthStatus,
				LatencyMs:    n.LatencyMs,
			}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteNodes 删除部署下全部节点（停止部署时）
func (r *nodeRepo) DeleteNodes(ctx context.Context, deploymentID string) error {
	return r.data.db.WithContext(ctx).
		Where("deployment_id = ?", deploymentID).
		Delete(&model.DeploymentNode{}).Error
}

func toBizNodes(models []model.DeploymentNode) []*biz.DeploymentNode {
	nodes := make([]*biz.DeploymentNode, 0, len(models))
	for i := range models {
		m := &models[i]
		nodes = append(nodes, &biz.DeploymentNode{
			ID:           m.NodeID,
			DeploymentID: m.DeploymentID,
			URL:          m.URL,
			HealthStatus: m.HealthStatus,
			LatencyMs:    m.LatencyMs,
		})
	}
	return nodes
}
