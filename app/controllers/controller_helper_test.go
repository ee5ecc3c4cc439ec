package controllers

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiKellner/FlashKart/app/models"
	"github.com/TobiKellner/FlashKart/internal/pkg/faststore"
	"github.com/TobiKellner/FlashKart/internal/pkg/holdregistry"
	"github.com/TobiKellner/FlashKart/internal/pkg/payment"
	"github.com/TobiKellner/FlashKart/internal/pkg/stockledger"
)

func TestCheckoutErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			"insufficient stock",
			&stockledger.InsufficientStockError{ProductID: 1, Requested: 3, Snapshot: stockledger.Snapshot{Available: 1, Reserved: 2, Version: 4}},
			fiber.StatusBadRequest, "insufficient_stock",
		},
		{
			"hold expired",
			&holdregistry.HoldExpiredError{HoldID: "h-1", ExpiresAt: time.Now()},
			fiber.StatusBadRequest, "hold_expired",
		},
		{
			"hold already used",
			holdregistry.ErrHoldAlreadyUsed,
			fiber.StatusBadRequest, "hold_already_used",
		},
		{
			"hold invalid",
			&holdregistry.HoldInvalidError{HoldID: "h-1", Reason: "not active"},
			fiber.StatusBadRequest, "hold_invalid",
		},
		{
			"invalid release",
			&stockledger.InvalidReleaseError{ProductID: 1, Requested: 5, Reserved: 2},
			fiber.StatusBadRequest, "invalid_release",
		},
		{
			"hold not found",
			holdregistry.ErrHoldNotFound,
			fiber.StatusNotFound, "hold_not_found",
		},
		{
			"product not found",
			stockledger.ErrProductNotFound,
			fiber.StatusNotFound, "not_found",
		},
		{
			"retry exhaustion",
			holdregistry.ErrConcurrentModification,
			fiber.StatusConflict, "concurrent_modification",
		},
		{
			"webhook stock conflict",
			&payment.ConcurrentStockModificationError{ProductID: 1, Requested: 2},
			fiber.StatusConflict, "concurrent_stock_modification",
		},
		{
			"stock initializing",
			stockledger.ErrInitPending,
			fiber.StatusServiceUnavailable, "stock_initializing",
		},
		{
			"fast store down",
			faststore.ErrUnavailable,
			fiber.StatusServiceUnavailable, "store_unavailable",
		},
		{
			"unclassified",
			errors.New("boom"),
			fiber.StatusInternalServerError, "internal_server_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/err", func(c *fiber.Ctx) error {
				return respondCheckoutError(c, tc.err)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/err", nil))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.wantStatus, resp.StatusCode)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.wantCode, body["error"])
		})
	}
}

func TestInsufficientStockPayloadCarriesSnapshot(t *testing.T) {
	app := fiber.New()
	app.Get("/err", func(c *fiber.Ctx) error {
		return respondCheckoutError(c, &stockledger.InsufficientStockError{
			ProductID: 1,
			Requested: 3,
			Snapshot:  stockledger.Snapshot{Available: 1, Reserved: 2, Version: 4},
		})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/err", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(1), body["available_stock"])
	assert.Equal(t, float64(2), body["reserved_stock"])
	assert.Equal(t, float64(4), body["version"])
}

func TestCreateHoldPayloadShape(t *testing.T) {
	expires := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	payload := createHoldPayload(&holdregistry.CreateResult{
		Hold: holdregistry.Hold{
			ID:        "h-1",
			ProductID: 7,
			Qty:       2,
			ExpiresAt: expires,
		},
		Snapshot: stockledger.Snapshot{Available: 3, Reserved: 2, Version: 5},
	})

	assert.Equal(t, "h-1", payload["hold_id"])
	assert.Equal(t, "2026-08-24T12:00:00Z", payload["expires_at"])
	assert.Equal(t, uint(7), payload["product_id"])
	assert.Equal(t, 2, payload["quantity"])
	assert.Equal(t, int64(3), payload["available_stock"])
	assert.Equal(t, int64(2), payload["reserved_stock"])
	assert.Equal(t, int64(5), payload["version"])
	assert.Len(t, payload, 7)
}

func TestProductPayloadShape(t *testing.T) {
	payload := productPayload(
		&models.Product{ID: 7, Name: "Limited Edition Sneaker", Price: 18900, Stock: 100},
		stockledger.Snapshot{Available: 96, Reserved: 4, Version: 9},
		4,
	)

	assert.Equal(t, uint(7), payload["id"])
	assert.Equal(t, "Limited Edition Sneaker", payload["name"])
	assert.Equal(t, uint(100), payload["total_stock"])
	assert.Equal(t, int64(96), payload["available_stock"])
	assert.Equal(t, int64(4), payload["reserved_stock"])
	assert.Equal(t, int64(4), payload["active_holds"])
	assert.Equal(t, int64(9), payload["version"])
	assert.Len(t, payload, 8)
}

func TestWebhookPayloadFlagsStaleStock(t *testing.T) {
	payload := webhookPayload(&payment.WebhookOutcome{
		HTTPStatus: 200,
		Result:     payment.ResultPaid,
		OrderID:    3,
		OrderState: models.OrderStatePaid,
		StockStale: true,
	})

	assert.Equal(t, true, payload["needs_refresh"])
	assert.NotContains(t, payload, "available_stock")

	payload = webhookPayload(&payment.WebhookOutcome{
		HTTPStatus: 200,
		Result:     payment.ResultPaid,
		OrderID:    3,
		OrderState: models.OrderStatePaid,
		Snapshot:   &stockledger.Snapshot{Available: 5, Reserved: 0, Version: 6},
	})

	assert.NotContains(t, payload, "needs_refresh")
	assert.Equal(t, int64(5), payload["available_stock"])
	assert.Equal(t, int64(0), payload["reserved_stock"])
	assert.Equal(t, int64(6), payload["version"])
}
