package controllers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidationTestApp() *fiber.App {
	app := fiber.New()
	app.Post("/holds", HandleCreateHold)
	app.Post("/orders", HandleCreateOrder)
	app.Get("/orders/:id", HandleGetOrder)
	app.Post("/payments/webhook", HandlePaymentWebhook)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) int {
	t.Helper()

	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestCreateHoldRejectsBadPayloads(t *testing.T) {
	app := newValidationTestApp()

	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/holds", "not-json"))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/holds", `{}`))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/holds", `{"product_id": 1, "qty": 0}`))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/holds", `{"product_id": 1, "qty": -2}`))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/holds", `{"product_id": 1, "qty": 1001}`))
}

func TestCreateOrderRejectsBadPayloads(t *testing.T) {
	app := newValidationTestApp()

	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/orders", `{}`))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/orders", `{"hold_id": ""}`))
}

func TestGetOrderRejectsBadID(t *testing.T) {
	app := newValidationTestApp()

	req := httptest.NewRequest("GET", "/orders/abc", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest("GET", "/orders/0", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestPaymentWebhookRejectsBadPayloads(t *testing.T) {
	app := newValidationTestApp()

	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/payments/webhook", `{}`))
	assert.Equal(t, fiber.StatusBadRequest,
		postJSON(t, app, "/payments/webhook", `{"idempotency_key": "k", "order_id": 1, "status": "refunded"}`))
	assert.Equal(t, fiber.StatusBadRequest,
		postJSON(t, app, "/payments/webhook", `{"idempotency_key": "", "order_id": 1, "status": "success"}`))
	assert.Equal(t, fiber.StatusBadRequest,
		postJSON(t, app, "/payments/webhook", `{"idempotency_key": "k", "order_id": 0, "status": "success"}`))
}
