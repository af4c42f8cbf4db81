// Package auction ranks sponsored bidders for a city/niche search and
// computes what each winner pays. It performs no I/O.
package auction

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ModeManual = "manual"
	ModeAuto   = "auto"
	ModeSmart  = "smart"
)

// Skip reasons
const (
	SkipInactive            = "inactive"
	SkipInsufficientBalance = "insufficient_balance"
	SkipBudgetExhausted     = "budget_exhausted"
	SkipBidBelowFloor       = "bid_below_floor"
	SkipOutbid              = "outbid"
)

var ErrInvalidConfig = errors.New("invalid auction config")

// Bidder is one auction config joined with its wallet and today's spend.
type Bidder struct {
	ConfigID         int
	CompanyID        int
	Mode             string
	TargetPosition   int
	BidAmount        decimal.Decimal
	DailyBudget      decimal.Decimal
	SpentToday       decimal.Decimal
	PauseOnLimit     bool
	IsActive         bool
	AvailableBalance decimal.Decimal
	CreatedAt        time.Time
}

type Placement struct {
	ConfigID  int             `json:"config_id"`
	CompanyID int             `json:"company_id"`
	Position  int             `json:"position"`
	Bid       decimal.Decimal `json:"bid"`
	Charge    decimal.Decimal `json:"charge"`
}

type Skip struct {
	ConfigID  int    `json:"config_id"`
	CompanyID int    `json:"company_id"`
	Reason    string `json:"reason"`
}

type Result struct {
	Placements []Placement `json:"placements"`
	Skipped    []Skip      `json:"skipped"`
}

type Engine struct {
	floors    []decimal.Decimal
	increment decimal.Decimal
}

// NewEngine builds an engine with one slot per floor price. floors[0] is the
// price of position 1.
func NewEngine(floors []decimal.Decimal, increment decimal.Decimal) *Engine {
	f := make([]decimal.Decimal, len(floors))
	copy(f, floors)
	return &Engine{floors: f, increment: increment}
}

func (e *Engine) Slots() int {
	return len(e.floors)
}

// Floor returns the floor price of a 1-based position.
func (e *Engine) Floor(position int) decimal.Decimal {
	return e.floors[position-1]
}

func (e *Engine) cheapestFloor() decimal.Decimal {
	cheapest := e.floors[0]
	for _, f := range e.floors[1:] {
		if f.LessThan(cheapest) {
			cheapest = f
		}
	}
	return cheapest
}

// Validate checks the mode/target_position/bid rules of a config.
func (e *Engine) Validate(mode string, target *int, bid *decimal.Decimal, dailyBudget decimal.Decimal) error {
	if dailyBudget.IsNegative() {
		return fmt.Errorf("%w: daily_budget must be >= 0", ErrInvalidConfig)
	}

	switch mode {
	case ModeManual:
		if target != nil {
			return fmt.Errorf("%w: manual mode must not set target_position", ErrInvalidConfig)
		}
		if bid == nil || !bid.IsPositive() {
			return fmt.Errorf("%w: manual mode requires bid_amount > 0", ErrInvalidConfig)
		}
	case ModeAuto, ModeSmart:
		if target == nil || *target < 1 || *target > e.Slots() {
			return fmt.Errorf("%w: %s mode requires target_position between 1 and %d", ErrInvalidConfig, mode, e.Slots())
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, mode)
	}
	return nil
}

// EffectiveBid is what the bidder competes with at instant now.
func (e *Engine) EffectiveBid(b Bidder, now time.Time) decimal.Decimal {
	switch b.Mode {
	case ModeManual:
		return b.BidAmount
	case ModeAuto:
		if b.TargetPosition < 1 || b.TargetPosition > e.Slots() {
			return decimal.Zero
		}
		return e.Floor(b.TargetPosition)
	case ModeSmart:
		if b.TargetPosition < 1 || b.TargetPosition > e.Slots() {
			return decimal.Zero
		}
		target := b.TargetPosition
		if aheadOfPace(b, now) && target < e.Slots() {
			target++
		}
		return e.Floor(target)
	}
	return decimal.Zero
}

// aheadOfPace reports whether the share of budget spent exceeds the share of
// the Brasília day elapsed.
func aheadOfPace(b Bidder, now time.Time) bool {
	if !b.DailyBudget.IsPositive() {
		return false
	}
	midnight := DayStart(now)
	elapsed := decimal.NewFromFloat(now.Sub(midnight).Seconds() / (24 * time.Hour).Seconds())
	spent := b.SpentToday.Div(b.DailyBudget)
	return spent.GreaterThan(elapsed)
}

func (e *Engine) skipReason(b Bidder) string {
	if !b.IsActive {
		return SkipInactive
	}
	if b.AvailableBalance.LessThan(e.cheapestFloor()) {
		return SkipInsufficientBalance
	}
	if b.PauseOnLimit && b.DailyBudget.IsPositive() && b.SpentToday.GreaterThanOrEqual(b.DailyBudget) {
		return SkipBudgetExhausted
	}
	return ""
}

type ranked struct {
	Bidder
	bid decimal.Decimal
}

// Run places bidders into the slots and computes their charges.
func (e *Engine) Run(bidders []Bidder, now time.Time) Result {
	var res Result
	var eligible []ranked

	for _, b := range bidders {
		if reason := e.skipReason(b); reason != "" {
			res.Skipped = append(res.Skipped, Skip{ConfigID: b.ConfigID, CompanyID: b.CompanyID, Reason: reason})
			continue
		}
		eligible = append(eligible, ranked{Bidder: b, bid: e.EffectiveBid(b, now)})
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if !a.bid.Equal(b.bid) {
			return a.bid.GreaterThan(b.bid)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.CompanyID < b.CompanyID
	})

	taken := make([]bool, e.Slots())
	placedCompanies := make(map[int]bool)

	for i, r := range eligible {
		// A company competes once per search even with duplicate configs.
		if placedCompanies[r.CompanyID] {
			res.Skipped = append(res.Skipped, Skip{ConfigID: r.ConfigID, CompanyID: r.CompanyID, Reason: SkipOutbid})
			continue
		}

		slot, affordable := e.bestFreeSlot(r.bid, taken)
		if slot < 0 {
			reason := SkipOutbid
			if !affordable {
				reason = SkipBidBelowFloor
			}
			res.Skipped = append(res.Skipped, Skip{ConfigID: r.ConfigID, CompanyID: r.CompanyID, Reason: reason})
			continue
		}
		taken[slot] = true
		placedCompanies[r.CompanyID] = true

		next := decimal.Zero
		if i+1 < len(eligible) {
			next = eligible[i+1].bid
		}

		res.Placements = append(res.Placements, Placement{
			ConfigID:  r.ConfigID,
			CompanyID: r.CompanyID,
			Position:  slot + 1,
			Bid:       r.bid,
			Charge:    e.charge(r.Bidder, r.bid, next, slot),
		})
	}

	sort.SliceStable(res.Placements, func(i, j int) bool {
		return res.Placements[i].Position < res.Placements[j].Position
	})
	return res
}

// bestFreeSlot returns the lowest-numbered free slot whose floor the bid
// covers. affordable is false when no slot at all, free or not, is covered.
func (e *Engine) bestFreeSlot(bid decimal.Decimal, taken []bool) (slot int, affordable bool) {
	for i, floor := range e.floors {
		if bid.LessThan(floor) {
			continue
		}
		affordable = true
		if !taken[i] {
			return i, true
		}
	}
	return -1, affordable
}

// charge implements max(floor, min(bid, next+increment)) capped by balance
// and remaining budget.
func (e *Engine) charge(b Bidder, bid, next decimal.Decimal, slot int) decimal.Decimal {
	c := decimal.Min(bid, next.Add(e.increment))
	c = decimal.Max(e.floors[slot], c)
	if c.GreaterThan(bid) {
		c = bid
	}

	if c.GreaterThan(b.AvailableBalance) {
		c = b.AvailableBalance
	}
	if b.PauseOnLimit && b.DailyBudget.IsPositive() {
		if remaining := b.DailyBudget.Sub(b.SpentToday); c.GreaterThan(remaining) {
			c = remaining
		}
	}
	if c.IsNegative() {
		c = decimal.Zero
	}
	return c.Round(2)
}

// Exclude returns bidders without the given companies.
func Exclude(bidders []Bidder, companies map[int]bool) []Bidder {
	if len(companies) == 0 {
		return bidders
	}
	out := make([]Bidder, 0, len(bidders))
	for _, b := range bidders {
		if !companies[b.CompanyID] {
			out = append(out, b)
		}
	}
	return out
}
