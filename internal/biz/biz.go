package biz

import (
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBillingConfig,
	NewPricingCatalogUseCase,
	NewQuotaUseCase,
	NewWalletUseCase,
	NewStatsUseCase,
	NewReconciliationUseCase,
	NewBillingUseCase,
)
