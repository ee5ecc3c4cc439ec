package checkout

import (
	"sync"
	"time"

	"github.com/TobiKellner/FlashKart/internal/pkg/cache"
	"github.com/TobiKellner/FlashKart/internal/pkg/database"
	"github.com/TobiKellner/FlashKart/internal/pkg/env"
	"github.com/TobiKellner/FlashKart/internal/pkg/faststore"
	"github.com/TobiKellner/FlashKart/internal/pkg/holdregistry"
	"github.com/TobiKellner/FlashKart/internal/pkg/payment"
	"github.com/TobiKellner/FlashKart/internal/pkg/stockledger"
)

// The checkout core is wired once from the global database and cache
// connections, after both have been set up.
var (
	store       *faststore.Store
	ledger      *stockledger.Ledger
	registry    *holdregistry.Registry
	coordinator *payment.Coordinator
	setupOnce   sync.Once
)

// Setup wires the checkout core. Must run after database.SetupDatabase
// and cache.SetupCache. HOLD_TTL_SECONDS overrides the hold lifetime.
func Setup() {
	setupOnce.Do(func() {
		db := database.GetDB()
		store = faststore.New(cache.GetClient())
		ledger = stockledger.New(store, db)
		ttl := env.GetEnvDuration("HOLD_TTL_SECONDS", 0*time.Second)
		registry = holdregistry.New(store, ledger, ttl)
		coordinator = payment.New(db, store, registry)
	})
}

// GetStore returns the fast-store adapter.
func GetStore() *faststore.Store {
	return store
}

// GetLedger returns the stock ledger.
func GetLedger() *stockledger.Ledger {
	return ledger
}

// GetRegistry returns the hold registry.
func GetRegistry() *holdregistry.Registry {
	return registry
}

// GetCoordinator returns the payment coordinator.
func GetCoordinator() *payment.Coordinator {
	return coordinator
}
