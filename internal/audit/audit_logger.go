package audit

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Wallet event types
const (
	EventRecharge = "RECHARGE"
	EventCredit   = "CREDIT"
	EventDebit    = "DEBIT"
	EventHold     = "HOLD"
	EventCapture  = "CAPTURE"
	EventRelease  = "RELEASE"
	EventError    = "ERROR"
)

type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"event_type"`
	Reference string          `json:"reference"`
	CompanyID int             `json:"company_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Details   any             `json:"details,omitempty"`
}

type Logger struct {
	now func() time.Time
}

func NewLogger() *Logger {
	return &Logger{now: time.Now}
}

// LogWallet records a wallet mutation. reference is the transaction id,
// recharge reference or hold id, whichever identifies the movement.
func (a *Logger) LogWallet(eventType, reference string, companyID int, amount decimal.Decimal, details map[string]any) {
	a.log(Event{
		Timestamp: a.now(),
		EventType: eventType,
		Reference: reference,
		CompanyID: companyID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   details,
	})
}

func (a *Logger) LogError(reference string, companyID int, err error) {
	a.log(Event{
		Timestamp: a.now(),
		EventType: EventError,
		Reference: reference,
		CompanyID: companyID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.WithField("audit", true).Infof("AUDIT: %s", string(data))
}
