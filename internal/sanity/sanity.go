// Package sanity finds rows that break billing and auction consistency rules.
package sanity

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	CheckAuctionConfig = "auction_config"
	CheckWallet        = "wallet"
	CheckStaleHold     = "stale_hold"

	staleHoldAge = time.Hour
)

type Violation struct {
	Check   string `json:"check"`
	Subject string `json:"subject"`
	Detail  string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Check, v.Subject, v.Detail)
}

type Checker struct {
	db    *sqlx.DB
	slots int
	now   func() time.Time
}

func NewChecker(db *sqlx.DB, slots int) *Checker {
	return &Checker{db: db, slots: slots, now: time.Now}
}

// Run executes every check and returns all violations found.
func (c *Checker) Run(ctx context.Context) ([]Violation, error) {
	checks := []func(context.Context) ([]Violation, error){
		c.auctionConfigs,
		c.wallets,
		c.staleHolds,
	}

	var violations []Violation
	for _, check := range checks {
		found, err := check(ctx)
		if err != nil {
			return nil, err
		}
		violations = append(violations, found...)
	}
	return violations, nil
}

type configRow struct {
	ID             int                 `db:"id"`
	CompanyID      int                 `db:"company_id"`
	Mode           string              `db:"mode"`
	TargetPosition *int                `db:"target_position"`
	BidAmount      decimal.NullDecimal `db:"bid_amount"`
}

func (c *Checker) auctionConfigs(ctx context.Context) ([]Violation, error) {
	var rows []configRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT id, company_id, mode, target_position, bid_amount
		FROM auction_configs
		WHERE (mode = 'manual' AND (target_position IS NOT NULL OR bid_amount IS NULL OR bid_amount <= 0))
			OR (mode IN ('auto', 'smart') AND (target_position IS NULL OR target_position < 1 OR target_position > $1))
		ORDER BY id`, c.slots)
	if err != nil {
		return nil, fmt.Errorf("auction configs: %w", err)
	}

	violations := make([]Violation, 0, len(rows))
	for _, r := range rows {
		violations = append(violations, Violation{
			Check:   CheckAuctionConfig,
			Subject: fmt.Sprintf("config %d (company %d)", r.ID, r.CompanyID),
			Detail:  describeConfig(r, c.slots),
		})
	}
	return violations, nil
}

func describeConfig(r configRow, slots int) string {
	if r.Mode == "manual" {
		if r.TargetPosition != nil {
			return fmt.Sprintf("manual mode with target_position %d", *r.TargetPosition)
		}
		return "manual mode without a positive bid_amount"
	}
	if r.TargetPosition == nil {
		return fmt.Sprintf("%s mode without target_position", r.Mode)
	}
	return fmt.Sprintf("%s mode with target_position %d outside 1..%d", r.Mode, *r.TargetPosition, slots)
}

type walletRow struct {
	CompanyID int             `db:"company_id"`
	Balance   decimal.Decimal `db:"balance"`
	Reserved  decimal.Decimal `db:"reserved"`
}

func (c *Checker) wallets(ctx context.Context) ([]Violation, error) {
	var rows []walletRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT company_id, balance, reserved
		FROM wallets
		WHERE balance < 0 OR reserved > balance
		ORDER BY company_id`)
	if err != nil {
		return nil, fmt.Errorf("wallets: %w", err)
	}

	violations := make([]Violation, 0, len(rows))
	for _, r := range rows {
		detail := fmt.Sprintf("reserved %s exceeds balance %s", r.Reserved.StringFixed(2), r.Balance.StringFixed(2))
		if r.Balance.IsNegative() {
			detail = fmt.Sprintf("negative balance %s", r.Balance.StringFixed(2))
		}
		violations = append(violations, Violation{
			Check:   CheckWallet,
			Subject: fmt.Sprintf("company %d", r.CompanyID),
			Detail:  detail,
		})
	}
	return violations, nil
}

type holdRow struct {
	ID        string          `db:"id"`
	CompanyID int             `db:"company_id"`
	Amount    decimal.Decimal `db:"amount"`
	CreatedAt time.Time       `db:"created_at"`
}

func (c *Checker) staleHolds(ctx context.Context) ([]Violation, error) {
	var rows []holdRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT id, company_id, amount, created_at
		FROM impression_holds
		WHERE status = 'held' AND created_at < $1
		ORDER BY created_at`, c.now().Add(-staleHoldAge))
	if err != nil {
		return nil, fmt.Errorf("impression holds: %w", err)
	}

	violations := make([]Violation, 0, len(rows))
	for _, r := range rows {
		violations = append(violations, Violation{
			Check:   CheckStaleHold,
			Subject: fmt.Sprintf("hold %s (company %d)", r.ID, r.CompanyID),
			Detail:  fmt.Sprintf("%s held since %s", r.Amount.StringFixed(2), r.CreatedAt.UTC().Format(time.RFC3339)),
		})
	}
	return violations, nil
}
