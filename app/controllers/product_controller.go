package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/TobiKellner/FlashKart/app/models"
	"github.com/TobiKellner/FlashKart/app/repository"
	"github.com/TobiKellner/FlashKart/internal/pkg/checkout"
	"github.com/TobiKellner/FlashKart/internal/pkg/stockledger"
)

// HandleGetProduct returns the durable product row together with the live
// stock reading and the active held quantity.
func HandleGetProduct(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return respondBadRequest(c, "Invalid product id")
	}
	productID := uint(id)

	repo := repository.GetGlobalFactory().GetProductRepository()
	product, err := repo.GetByID(productID)
	if err != nil {
		return respondCheckoutError(c, err)
	}

	ledger := checkout.GetLedger()
	err = ledger.EnsureInitialized(c.Context(), productID)
	if errors.Is(err, stockledger.ErrInitPending) {
		err = ledger.ForceInitialize(c.Context(), productID)
	}
	if err != nil {
		return respondCheckoutError(c, err)
	}

	snap, err := ledger.GetSnapshot(c.Context(), productID)
	if err != nil {
		return respondCheckoutError(c, err)
	}
	active, err := checkout.GetRegistry().ActiveQuantity(c.Context(), productID)
	if err != nil {
		return respondCheckoutError(c, err)
	}

	return c.JSON(productPayload(product, snap, active))
}

func productPayload(product *models.Product, snap stockledger.Snapshot, activeHolds int64) fiber.Map {
	return fiber.Map{
		"id":              product.ID,
		"name":            product.Name,
		"price":           product.Price,
		"total_stock":     product.Stock,
		"available_stock": snap.Available,
		"reserved_stock":  snap.Reserved,
		"active_holds":    activeHolds,
		"version":         snap.Version,
	}
}

// HandleRefreshStock recomputes the live stock counters from the durable
// product row. Recovery endpoint for cross-store divergence after a crash.
func HandleRefreshStock(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return respondBadRequest(c, "Invalid product id")
	}

	repo := repository.GetGlobalFactory().GetProductRepository()
	product, err := repo.GetByID(uint(id))
	if err != nil {
		return respondCheckoutError(c, err)
	}

	snap, err := checkout.GetRegistry().RefreshStock(c.Context(), product)
	if err != nil {
		return respondCheckoutError(c, err)
	}

	return c.JSON(fiber.Map{
		"product_id":      product.ID,
		"available_stock": snap.Available,
		"reserved_stock":  snap.Reserved,
		"version":         snap.Version,
	})
}
