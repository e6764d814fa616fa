package biz

import (
	"context"
	"testing"

	"serving-control-plane/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ExclusionUntilExplicitRecovery(t *testing.T) {
	repo := NewMockNodeRepo(
		&DeploymentNode{ID: "n1", DeploymentID: "d1", HealthStatus: constants.NodeHealthHealthy},
		&DeploymentNode{ID: "n2", DeploymentID: "d1", HealthStatus: constants.NodeHealthHealthy},
	)
	uc := NewNodeRegistryUseCase(repo, testLogger())

	require.NoError(t, uc.MarkUnhealthy(context.Background(), "n1"))

	for i := 0; i < 10; i++ {
		healthy, err := uc.ListHealthy(context.Background(), "d1")
		require.NoError(t, err)
		require.Len(t, healthy, 1)
		assert.Equal(t, "n2", healthy[0].ID)
	}

	require.NoError(t, uc.MarkHealthy(context.Background(), "n1", 80))

	healthy, err := uc.ListHealthy(context.Background(), "d1")
	require.NoError(t, err)
	assert.Len(t, healthy, 2)
}

func TestRegistry_MarkHealthyRecordsLatency(t *testing.T) {
	repo := NewMockNodeRepo(
		&DeploymentNode{ID: "n1", DeploymentID: "d1", HealthStatus: constants.NodeHealthUnknown},
	)
	uc := NewNodeRegistryUseCase(repo, testLogger())

	require.NoError(t, uc.MarkHealthy(context.Background(), "n1", 120))

	nodes, err := uc.ListNodes(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.NotNil(t, nodes[0].LatencyMs)
	assert.Equal(t, int64(120), *nodes[0].LatencyMs)
}

func TestRegistry_MarkUnhealthyKeepsLastLatency(t *testing.T) {
	repo := NewMockNodeRepo(
		&DeploymentNode{ID: "n1", DeploymentID: "d1", HealthStatus: constants.NodeHealthHealthy, LatencyMs: int64Ptr(90)},
	)
	uc := NewNodeRegistryUseCase(repo, testLogger())

	require.NoError(t, uc.MarkUnhealthy(context.Background(), "n1"))

	nodes, err := uc.ListNodes(context.Background(), "d1")
	require.NoError(t, err)
	require.NotNil(t, nodes[0].LatencyMs)
	assert.Equal(t, int64(90), *nodes[0].LatencyMs)
	assert.Equal(t, constants.NodeHealthUnhealthy, nodes[0].HealthStatus)
}
