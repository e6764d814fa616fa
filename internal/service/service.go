package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewInferenceService,
	NewDeploymentService,
	NewTrainingService,
	NewCreditService,
)
