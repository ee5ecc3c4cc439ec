package main

import (
	"log"

	"github.com/TobiKellner/FlashKart/app/models"
	"github.com/TobiKellner/FlashKart/app/repository"
	"github.com/TobiKellner/FlashKart/internal/pkg/database"
	"github.com/TobiKellner/FlashKart/internal/pkg/env"
)

// Seeds a handful of demo products for local development. Idempotent:
// products are only inserted when the table is empty.
func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())

	repo := repository.GetGlobalFactory().GetProductRepository()
	count, err := repo.Count()
	if err != nil {
		log.Fatalf("Failed to count products: %v", err)
	}
	if count > 0 {
		log.Printf("Products already seeded (%d rows), nothing to do", count)
		return
	}

	products := []models.Product{
		{Name: "Limited Edition Sneaker", Price: 18900, Stock: 100},
		{Name: "Signed Vinyl Record", Price: 4900, Stock: 250},
		{Name: "Collector Console Bundle", Price: 59900, Stock: 40},
		{Name: "Festival Early-Bird Ticket", Price: 9900, Stock: 500},
	}
	for i := range products {
		if err := repo.Create(&products[i]); err != nil {
			log.Fatalf("Failed to seed product %q: %v", products[i].Name, err)
		}
		log.Printf("Seeded product %d: %s (stock %d)", products[i].ID, products[i].Name, products[i].Stock)
	}
}
