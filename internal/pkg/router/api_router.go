package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/TobiKellner/FlashKart/app/controllers"
	"github.com/TobiKellner/FlashKart/internal/pkg/cache"
	"github.com/TobiKellner/FlashKart/internal/pkg/env"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT", 120),
		Expiration: 1 * time.Minute,
		Storage:    newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	v1.Get("/ping", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"message": "pong"})
	})
	v1.Get("/products/:id", controllers.HandleGetProduct)
	v1.Post("/holds", controllers.HandleCreateHold)
	v1.Get("/holds/:id", controllers.HandleGetHold)
	v1.Delete("/holds/:id", controllers.HandleReleaseHold)
	v1.Post("/orders", controllers.HandleCreateOrder)
	v1.Get("/orders/:id", controllers.HandleGetOrder)
	v1.Post("/payments/webhook", controllers.HandlePaymentWebhook)

	admin := v1.Group("/admin")
	admin.Post("/products/:id/refresh-stock", controllers.HandleRefreshStock)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

// newLimiterStorage backs the rate limiter with the shared cache server so
// limits hold across instances. Database 1 keeps limiter keys away from the
// checkout keyspace on database 0.
func newLimiterStorage() *redisstorage.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
