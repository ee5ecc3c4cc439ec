package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/TobiKellner/FlashKart/internal/pkg/checkout"
	"github.com/TobiKellner/FlashKart/internal/pkg/metrics/counter"
	"github.com/TobiKellner/FlashKart/internal/pkg/payment"
)

// PaymentWebhookRequest is one delivery from the payment provider.
type PaymentWebhookRequest struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=100"`
	OrderID        uint   `json:"order_id" validate:"required,min=1"`
	Status         string `json:"status" validate:"required,oneof=success failure"`
}

// HandlePaymentWebhook applies one payment outcome idempotently. The
// response status comes from the coordinator's outcome classification;
// retries of an applied webhook answer 200 without side effects.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	var req PaymentWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return respondBadRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return respondValidationError(c, err)
	}

	outcome, err := checkout.GetCoordinator().ApplyWebhook(c.Context(), payment.WebhookInput{
		IdempotencyKey: req.IdempotencyKey,
		OrderID:        req.OrderID,
		Status:         req.Status,
	})
	if err != nil {
		return respondCheckoutError(c, err)
	}

	switch outcome.Result {
	case payment.ResultPaid:
		_ = counter.Add(counter.EventPaymentsSucceeded)
	case payment.ResultCancelled:
		_ = counter.Add(counter.EventPaymentsFailed)
	case payment.ResultDuplicate, payment.ResultAlreadyFinalized:
		_ = counter.Add(counter.EventWebhookDuplicates)
	}

	return c.Status(outcome.HTTPStatus).JSON(webhookPayload(outcome))
}

func webhookPayload(outcome *payment.WebhookOutcome) fiber.Map {
	body := fiber.Map{
		"result":   outcome.Result,
		"order_id": outcome.OrderID,
	}
	if outcome.OrderState != "" {
		body["order_state"] = outcome.OrderState
	}
	if outcome.RecordedStatus != "" {
		body["recorded_status"] = outcome.RecordedStatus
	}
	if outcome.Snapshot != nil {
		body["available_stock"] = outcome.Snapshot.Available
		body["reserved_stock"] = outcome.Snapshot.Reserved
		body["version"] = outcome.Snapshot.Version
	}
	if outcome.StockStale {
		// The payment is durably recorded but the live counters were not
		// updated; operators must run refresh-stock for this product.
		body["needs_refresh"] = true
	}
	return body
}
