// Command sanity reports rows that break auction and wallet consistency rules.
// It exits with status 1 when anything is found.
package main

import (
	"context"
	"os"
	"time"

	"github.com/buscai/backend/internal/config"
	"github.com/buscai/backend/internal/database"
	"github.com/buscai/backend/internal/sanity"
	log "github.com/sirupsen/logrus"
)

func main() {
	config.Init()
	cfg := config.Load()
	auctionCfg := config.LoadAuctionConfig()
	if err := auctionCfg.Validate(); err != nil {
		log.Fatalf("Invalid auction configuration: %v", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	checker := sanity.NewChecker(db, auctionCfg.Slots)
	violations, err := checker.Run(ctx)
	if err != nil {
		log.Fatalf("Sanity check failed: %v", err)
	}

	if len(violations) == 0 {
		log.Println("[SANITY] No violations found")
		return
	}
	for _, v := range violations {
		log.Warn(v.String())
	}
	log.Printf("[SANITY] %d violations found", len(violations))
	db.Close()
	os.Exit(1)
}
