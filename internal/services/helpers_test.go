package services

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// decimalArg matches a decimal bound parameter by value, so "1.5" and
// "1.50" are the same argument.
type decimalArg string

func (a decimalArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	got, err := decimal.NewFromString(s)
	if err != nil {
		return false
	}
	return got.Equal(decimal.RequireFromString(string(a)))
}

// timeArg matches a time parameter by instant, ignoring its location.
type timeArg time.Time

func (a timeArg) Match(v driver.Value) bool {
	got, ok := v.(time.Time)
	return ok && got.Equal(time.Time(a))
}

var walletColumns = []string{"company_id", "balance", "reserved", "updated_at"}
