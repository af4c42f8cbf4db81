package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxSlots is the highest target_position the auction_mode_target
// constraint accepts.
const MaxSlots = 3

type AuctionConfig struct {
	Slots            int
	PositionPrices   []decimal.Decimal
	MinIncrement     decimal.Decimal
	OrganicPageSize  int
	OrganicCacheTTL  time.Duration
	MaxSponsoredHold time.Duration
}

func LoadAuctionConfig() *AuctionConfig {
	prices := getEnvAsDecimals("AUCTION_POSITION_PRICES", []decimal.Decimal{
		decimal.RequireFromString("1.00"),
		decimal.RequireFromString("0.70"),
		decimal.RequireFromString("0.50"),
	})
	slots := getEnvAsInt("AUCTION_SLOTS", 3)
	if slots > len(prices) {
		slots = len(prices)
	}

	return &AuctionConfig{
		Slots:            slots,
		PositionPrices:   prices[:slots],
		MinIncrement:     getEnvAsDecimal("AUCTION_MIN_INCREMENT", decimal.RequireFromString("0.01")),
		OrganicPageSize:  getEnvAsInt("SEARCH_PAGE_SIZE", 20),
		OrganicCacheTTL:  getEnvAsDuration("SEARCH_CACHE_TTL", 60*time.Second),
		MaxSponsoredHold: getEnvAsDuration("AUCTION_MAX_HOLD_AGE", time.Hour),
	}
}

// Validate rejects slot counts the database cannot store.
func (c *AuctionConfig) Validate() error {
	if c.Slots < 1 || c.Slots > MaxSlots {
		return fmt.Errorf("AUCTION_SLOTS must be between 1 and %d, got %d", MaxSlots, c.Slots)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvAsDecimals parses a comma separated list such as "1.00,0.70,0.50".
func getEnvAsDecimals(key string, defaultVal []decimal.Decimal) []decimal.Decimal {
	val := getEnv(key, "")
	if val == "" {
		return defaultVal
	}

	var out []decimal.Decimal
	for _, part := range strings.Split(val, ",") {
		d, err := decimal.NewFromString(strings.TrimSpace(part))
		if err != nil {
			return defaultVal
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
