package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/TobiKellner/FlashKart/app/repository"
	"github.com/TobiKellner/FlashKart/internal/pkg/checkout"
	"github.com/TobiKellner/FlashKart/internal/pkg/metrics/counter"
)

// CreateOrderRequest is the payload for converting a hold into an order.
type CreateOrderRequest struct {
	HoldID string `json:"hold_id" validate:"required,max=64"`
}

// HandleCreateOrder converts an active hold into a pending_payment order.
func HandleCreateOrder(c *fiber.Ctx) error {
	var req CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return respondBadRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return respondValidationError(c, err)
	}

	order, err := checkout.GetCoordinator().CreateOrder(c.Context(), req.HoldID)
	if err != nil {
		return respondCheckoutError(c, err)
	}
	_ = counter.Add(counter.EventOrdersCreated)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_id":   order.ID,
		"state":      order.State,
		"hold_id":    order.HoldID,
		"product_id": order.ProductID,
		"quantity":   order.Quantity,
		"created_at": order.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// HandleGetOrder returns one order together with the webhook deliveries
// recorded against it in the idempotency log.
func HandleGetOrder(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return respondBadRequest(c, "Invalid order id")
	}

	repos := repository.GetGlobalRepositories()
	order, err := repos.Order.GetByID(uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found", "message": "Order not found"})
	}
	if err != nil {
		return respondCheckoutError(c, err)
	}

	records, err := repos.Idempotency.GetByOrderID(order.ID)
	if err != nil {
		return respondCheckoutError(c, err)
	}
	attempts := make([]fiber.Map, 0, len(records))
	for _, record := range records {
		attempts = append(attempts, fiber.Map{
			"status":      record.Status,
			"recorded_at": record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(fiber.Map{
		"order_id":         order.ID,
		"state":            order.State,
		"hold_id":          order.HoldID,
		"product_id":       order.ProductID,
		"quantity":         order.Quantity,
		"created_at":       order.CreatedAt.UTC().Format(time.RFC3339),
		"payment_attempts": attempts,
	})
}
