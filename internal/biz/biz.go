package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewServingConfig,
	NewLedgerUseCase,
	NewNodeRegistryUseCase,
	NewRouterRand,
	NewRouterUseCase,
	NewUsageMeterUseCase,
	NewDeploymentUseCase,
	NewTrainingUseCase,
	NewProbeUseCase,
)
