package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType names the money movement a compliance check is run for.
type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxTrade      TransactionType = "trade"
	TxSettlement TransactionType = "settlement"
)

// ComplianceTransaction is an approved transaction counted against the
// client's daily and monthly allowance.
type ComplianceTransaction struct {
	ID        string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ClientID  string          `json:"client_id" gorm:"type:varchar(64);index:idx_ctx_client_time;not null"`
	Type      TransactionType `json:"type" gorm:"type:varchar(20);not null"`
	Currency  string          `json:"currency" gorm:"type:varchar(10);not null"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(36,18);not null"`
	AmountUSD decimal.Decimal `json:"amount_usd" gorm:"type:decimal(36,18);not null"`
	Reference string          `json:"reference" gorm:"type:varchar(64)"`
	CreatedAt time.Time       `json:"created_at" gorm:"index:idx_ctx_client_time"`
}

// ComplianceUsage is a client's running USD volume for the current UTC day
// and month. Admissions move it with a versioned update so two concurrent
// checks cannot both spend the same allowance.
type ComplianceUsage struct {
	ClientID   string          `json:"client_id" gorm:"primaryKey;type:varchar(64)"`
	DayStart   time.Time       `json:"day_start"`
	DailyUSD   decimal.Decimal `json:"daily_usd" gorm:"type:decimal(36,18);not null"`
	MonthStart time.Time       `json:"month_start"`
	MonthlyUSD decimal.Decimal `json:"monthly_usd" gorm:"type:decimal(36,18);not null"`
	Version    int64           `json:"version" gorm:"default:1;not null"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SanctionKind is what a denylist entry matches against.
type SanctionKind string

const (
	SanctionAddress SanctionKind = "address"
	SanctionDomain  SanctionKind = "domain"
)

// SanctionedEntity is one denylist entry.
type SanctionedEntity struct {
	ID        uint         `json:"id" gorm:"primaryKey"`
	Kind      SanctionKind `json:"kind" gorm:"type:varchar(10);uniqueIndex:idx_sanction_value;not null"`
	Value     string       `json:"value" gorm:"type:varchar(256);uniqueIndex:idx_sanction_value;not null"`
	Source    string       `json:"source" gorm:"type:varchar(64)"`
	CreatedAt time.Time    `json:"created_at"`
}
