package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/TobiKellner/FlashKart/internal/pkg/faststore"
	"github.com/TobiKellner/FlashKart/internal/pkg/holdregistry"
	"github.com/TobiKellner/FlashKart/internal/pkg/payment"
	"github.com/TobiKellner/FlashKart/internal/pkg/stockledger"
)

var validate = validator.New()

// respondCheckoutError maps checkout domain errors onto the HTTP error
// taxonomy. Unknown errors fall through as 500 without leaking internals.
func respondCheckoutError(c *fiber.Ctx, err error) error {
	var insufficient *stockledger.InsufficientStockError
	if errors.As(err, &insufficient) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":           "insufficient_stock",
			"message":         insufficient.Error(),
			"available_stock": insufficient.Snapshot.Available,
			"reserved_stock":  insufficient.Snapshot.Reserved,
			"version":         insufficient.Snapshot.Version,
		})
	}

	var expired *holdregistry.HoldExpiredError
	if errors.As(err, &expired) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":      "hold_expired",
			"message":    expired.Error(),
			"expires_at": expired.ExpiresAt.UTC(),
		})
	}

	var invalid *holdregistry.HoldInvalidError
	if errors.As(err, &invalid) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "hold_invalid",
			"message": invalid.Error(),
		})
	}

	var notExpired *holdregistry.HoldNotExpiredError
	if errors.As(err, &notExpired) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":             "hold_not_expired",
			"message":           notExpired.Error(),
			"seconds_remaining": notExpired.SecondsRemaining,
		})
	}

	var invalidRelease *stockledger.InvalidReleaseError
	if errors.As(err, &invalidRelease) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_release",
			"message": invalidRelease.Error(),
		})
	}

	var concurrentStock *payment.ConcurrentStockModificationError
	if errors.As(err, &concurrentStock) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "concurrent_stock_modification",
			"message": concurrentStock.Error(),
		})
	}

	switch {
	case errors.Is(err, holdregistry.ErrHoldNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "hold_not_found", "message": "Hold not found"})
	case errors.Is(err, holdregistry.ErrHoldAlreadyUsed):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "hold_already_used", "message": "Hold was already converted to an order"})
	case errors.Is(err, stockledger.ErrProductNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Product not found"})
	case errors.Is(err, holdregistry.ErrConcurrentModification), errors.Is(err, faststore.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "concurrent_modification", "message": "Concurrent modification, please retry"})
	case errors.Is(err, stockledger.ErrInitPending):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "stock_initializing", "message": "Stock counters are initializing, please retry"})
	case errors.Is(err, faststore.ErrUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store_unavailable", "message": "Checkout is temporarily unavailable"})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Unexpected error"})
}

func respondValidationError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "validation_failed",
		"message": err.Error(),
	})
}

func respondBadRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "bad_request",
		"message": message,
	})
}
