// Package biz contains business logic layer implementations.
// This layer holds the adaptive provider-routing engine and its domain models.
package biz

import (
	"RouteLane/internal/data"
	"RouteLane/internal/metrics"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewRouterUseCase,
	NewProviderUsecase,
	// Import data layer providers
	data.NewProviderRepo,
	data.NewTransitionLogger,
	// Import metrics exporter
	metrics.NewMetrics,
	// Bind implementations to biz layer interfaces
	wire.Bind(new(ProviderRepo), new(*data.ProviderRepo)),
	wire.Bind(new(TransitionLogger), new(*data.TransitionLoggerImpl)),
	wire.Bind(new(Observer), new(*metrics.Metrics)),
)
