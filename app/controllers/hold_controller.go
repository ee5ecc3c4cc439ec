package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/TobiKellner/FlashKart/internal/pkg/checkout"
	"github.com/TobiKellner/FlashKart/internal/pkg/holdregistry"
	"github.com/TobiKellner/FlashKart/internal/pkg/metrics/counter"
)

// CreateHoldRequest is the payload for placing a stock hold.
type CreateHoldRequest struct {
	ProductID uint `json:"product_id" validate:"required,min=1"`
	Qty       int  `json:"qty" validate:"required,min=1,max=1000"`
}

// HandleCreateHold reserves units for a shopper and answers with the hold
// record plus the post-reservation stock reading.
func HandleCreateHold(c *fiber.Ctx) error {
	var req CreateHoldRequest
	if err := c.BodyParser(&req); err != nil {
		return respondBadRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return respondValidationError(c, err)
	}

	result, err := checkout.GetRegistry().Create(c.Context(), req.ProductID, req.Qty)
	if err != nil {
		return respondCheckoutError(c, err)
	}
	_ = counter.Add(counter.EventHoldsCreated)

	return c.Status(fiber.StatusCreated).JSON(createHoldPayload(result))
}

func createHoldPayload(result *holdregistry.CreateResult) fiber.Map {
	return fiber.Map{
		"hold_id":         result.Hold.ID,
		"expires_at":      result.Hold.ExpiresAt.UTC().Format(time.RFC3339),
		"product_id":      result.Hold.ProductID,
		"quantity":        result.Hold.Qty,
		"available_stock": result.Snapshot.Available,
		"reserved_stock":  result.Snapshot.Reserved,
		"version":         result.Snapshot.Version,
	}
}

// HandleGetHold returns one hold record.
func HandleGetHold(c *fiber.Ctx) error {
	holdID := c.Params("id")
	if holdID == "" {
		return respondBadRequest(c, "Missing hold id")
	}

	hold, err := checkout.GetRegistry().Get(c.Context(), holdID)
	if err != nil {
		return respondCheckoutError(c, err)
	}
	return c.JSON(holdJSON(hold))
}

// HandleReleaseHold cancels an active hold and refunds its units.
func HandleReleaseHold(c *fiber.Ctx) error {
	holdID := c.Params("id")
	if holdID == "" {
		return respondBadRequest(c, "Missing hold id")
	}

	result, err := checkout.GetRegistry().Release(c.Context(), holdID)
	if err != nil {
		return respondCheckoutError(c, err)
	}
	_ = counter.Add(counter.EventHoldsReleased)

	return c.JSON(fiber.Map{
		"hold_id":         result.HoldID,
		"released":        result.Released,
		"available_stock": result.Snapshot.Available,
		"reserved_stock":  result.Snapshot.Reserved,
		"version":         result.Snapshot.Version,
	})
}

func holdJSON(h *holdregistry.Hold) fiber.Map {
	return fiber.Map{
		"id":         h.ID,
		"product_id": h.ProductID,
		"qty":        h.Qty,
		"status":     h.Status,
		"created_at": h.CreatedAt.UTC().Format(time.RFC3339),
		"expires_at": h.ExpiresAt.UTC().Format(time.RFC3339),
		"version":    h.Version,
	}
}
