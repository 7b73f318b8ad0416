//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"
)

var ProviderSet = wire.NewSet(
	ProvideStore,
	ProvideConfig,
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
	ProvideDB,
	ProvidePool,
	ProvideBus,
	ProvideWorld,
	ProvideGateway,
	NewApp,
)

func InitializeApp(ctx context.Context, path ConfigPath) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
