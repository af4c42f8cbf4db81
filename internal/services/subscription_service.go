package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/buscai/backend/internal/audit"
	"github.com/buscai/backend/internal/models"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

const subscriptionColumns = `id, company_id, plan_code, status, started_at, ended_at`

// ChangePlanRequest represents a plan change
// @Description Plan change request structure
type ChangePlanRequest struct {
	CompanyID     int    `json:"company_id,omitempty" example:"12"`
	PlanCode      string `json:"plan_code" validate:"required,max=20" example:"basic"`
	PayWithWallet bool   `json:"pay_with_wallet" example:"true"`
}

// ChangePlanResult reports whether a plan change wrote anything.
// @Description Plan change result structure
type ChangePlanResult struct {
	Subscription *models.Subscription `json:"subscription"`
	Changed      bool                 `json:"changed"`
	Transaction  *models.Transaction  `json:"transaction,omitempty"`
}

// CurrentSubscription is the active subscription with its plan.
// @Description Current subscription structure
type CurrentSubscription struct {
	Subscription *models.Subscription `json:"subscription"`
	Plan         *models.Plan         `json:"plan"`
}

type SubscriptionService struct {
	db     *sqlx.DB
	ledger *LedgerService
	audit  *audit.Logger
	now    func() time.Time
}

func NewSubscriptionService(db *sqlx.DB, ledger *LedgerService, auditLogger *audit.Logger) *SubscriptionService {
	return &SubscriptionService{
		db:     db,
		ledger: ledger,
		audit:  auditLogger,
		now:    time.Now,
	}
}

func (s *SubscriptionService) ListPlans(ctx context.Context) ([]models.Plan, error) {
	plans := []models.Plan{}
	err := s.db.SelectContext(ctx, &plans, `SELECT code, name, price, max_products FROM plans ORDER BY price, code`)
	return plans, err
}

func (s *SubscriptionService) GetPlan(ctx context.Context, code string) (*models.Plan, error) {
	var plan models.Plan
	err := s.db.GetContext(ctx, &plan, `SELECT code, name, price, max_products FROM plans WHERE code = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// Current returns the active subscription of the company. Both fields are
// nil when there is none.
func (s *SubscriptionService) Current(ctx context.Context, companyID int) (*CurrentSubscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE company_id = $1 AND status = 'active'`, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return &CurrentSubscription{}, nil
	}
	if err != nil {
		return nil, err
	}

	plan, err := s.GetPlan(ctx, sub.PlanCode)
	if err != nil {
		return nil, err
	}
	return &CurrentSubscription{Subscription: &sub, Plan: plan}, nil
}

// ChangePlan ends the active subscription and starts one on the requested
// plan. Asking for the plan that is already active changes nothing. Paid
// plans are debited from the wallet and refused without pay_with_wallet.
func (s *SubscriptionService) ChangePlan(ctx context.Context, companyID int, req ChangePlanRequest) (*ChangePlanResult, error) {
	plan, err := s.GetPlan(ctx, req.PlanCode)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var current *models.Subscription
	var sub models.Subscription
	err = tx.GetContext(ctx, &sub, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE company_id = $1 AND status = 'active'
		FOR UPDATE`, companyID)
	switch {
	case err == nil:
		current = &sub
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	if current != nil && current.PlanCode == plan.Code {
		return &ChangePlanResult{Subscription: current, Changed: false}, nil
	}

	if plan.Price.IsPositive() && !req.PayWithWallet {
		return nil, ErrPaymentRequired
	}

	result := &ChangePlanResult{Changed: true}
	if plan.Price.IsPositive() {
		result.Transaction, err = s.ledger.DebitTx(ctx, tx, companyID, plan.Price, models.Metadata{
			"reason":    "subscription",
			"plan_code": plan.Code,
		})
		if err != nil {
			return nil, err
		}
	}

	now := s.now()
	if current != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE subscriptions SET status = $1, ended_at = $2 WHERE id = $3`,
			models.SubscriptionEnded, now, current.ID)
		if err != nil {
			return nil, err
		}
	}

	var next models.Subscription
	err = tx.GetContext(ctx, &next, `
		INSERT INTO subscriptions (company_id, plan_code, status, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+subscriptionColumns,
		companyID, plan.Code, models.SubscriptionActive, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if result.Transaction != nil {
		s.audit.LogWallet(audit.EventDebit, result.Transaction.ID.String(), companyID, plan.Price, result.Transaction.Metadata)
	}
	log.Printf("[BILLING] Company %d switched to plan %s", companyID, plan.Code)

	result.Subscription = &next
	return result, nil
}

// activePlan returns the plan of the company's active subscription, or nil.
func (s *SubscriptionService) activePlan(ctx context.Context, q sqlx.QueryerContext, companyID int) (*models.Plan, error) {
	var plan models.Plan
	err := sqlx.GetContext(ctx, q, &plan, `
		SELECT p.code, p.name, p.price, p.max_products
		FROM subscriptions s
		JOIN plans p ON p.code = s.plan_code
		WHERE s.company_id = $1 AND s.status = 'active'`, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
