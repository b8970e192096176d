package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WhitelistedAddress is a withdrawal destination pre-approved for a client.
type WhitelistedAddress struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ClientID  string    `json:"client_id" gorm:"type:varchar(64);uniqueIndex:idx_whitelist_entry;not null"`
	Currency  string    `json:"currency" gorm:"type:varchar(10);uniqueIndex:idx_whitelist_entry;not null"`
	Address   string    `json:"address" gorm:"type:varchar(128);uniqueIndex:idx_whitelist_entry;not null"`
	// Tag is part of the entry for currencies that route by destination tag
	// and empty for the rest.
	Tag       string    `json:"tag,omitempty" gorm:"type:varchar(64);uniqueIndex:idx_whitelist_entry;not null;default:''"`
	Label     string    `json:"label,omitempty" gorm:"type:varchar(128)"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CustodyAccount is a client's balance for one currency held by the desk.
type CustodyAccount struct {
	ClientID  string          `json:"client_id" gorm:"primaryKey;type:varchar(64)"`
	Currency  string          `json:"currency" gorm:"primaryKey;type:varchar(10)"`
	Available decimal.Decimal `json:"available" gorm:"type:decimal(36,18);not null"`
	Locked    decimal.Decimal `json:"locked" gorm:"type:decimal(36,18);not null"`
	Version   int64           `json:"version" gorm:"default:1;not null"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WithdrawalStatus is the withdrawal lifecycle:
// pending_approval -> approved -> broadcasted, or rejected | failed.
type WithdrawalStatus string

const (
	WithdrawalPendingApproval WithdrawalStatus = "pending_approval"
	WithdrawalApproved        WithdrawalStatus = "approved"
	WithdrawalBroadcasted     WithdrawalStatus = "broadcasted"
	WithdrawalRejected        WithdrawalStatus = "rejected"
	WithdrawalFailed          WithdrawalStatus = "failed"
)

// Withdrawal moves client funds out of custody to a whitelisted address.
type Withdrawal struct {
	ID                 string           `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ClientID           string           `json:"client_id" gorm:"type:varchar(64);index;not null"`
	Currency           string           `json:"currency" gorm:"type:varchar(10);not null"`
	Amount             decimal.Decimal  `json:"amount" gorm:"type:decimal(36,18);not null"`
	AmountUSD          decimal.Decimal  `json:"amount_usd" gorm:"type:decimal(36,18);not null"`
	Address            string           `json:"address" gorm:"type:varchar(128);not null"`
	Tag                string           `json:"tag,omitempty" gorm:"type:varchar(64)"`
	Status             WithdrawalStatus `json:"status" gorm:"type:varchar(20);index;not null"`
	RequiredSignatures int              `json:"required_signatures"`
	Reference          string           `json:"reference,omitempty" gorm:"type:varchar(128)"`
	TxID               string           `json:"tx_id,omitempty" gorm:"type:varchar(128)"`
	ReviewFlag         bool             `json:"review_flag"`
	FailureReason      string           `json:"failure_reason,omitempty" gorm:"type:text"`
	Version            int64            `json:"version" gorm:"default:1;not null"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// WithdrawalApproval is one signer's approval. A signer approves a withdrawal at most once.
type WithdrawalApproval struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	WithdrawalID string    `json:"withdrawal_id" gorm:"type:varchar(64);uniqueIndex:idx_approval_signer;not null"`
	SignerID     string    `json:"signer_id" gorm:"type:varchar(64);uniqueIndex:idx_approval_signer;not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// Signer is a multisig approver. TOTPSecret is never rendered.
type Signer struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name       string    `json:"name" gorm:"type:varchar(128);not null"`
	TOTPSecret string    `json:"-" gorm:"type:varchar(128);not null"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// WalletTier separates online and offline desk inventory.
type WalletTier string

const (
	WalletHot  WalletTier = "hot"
	WalletCold WalletTier = "cold"
)

// WalletBalance is the desk's aggregate balance of one currency in one tier.
type WalletBalance struct {
	Currency  string          `json:"currency" gorm:"primaryKey;type:varchar(10)"`
	Tier      WalletTier      `json:"tier" gorm:"primaryKey;type:varchar(4)"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:decimal(36,18);not null"`
	Version   int64           `json:"version" gorm:"default:1;not null"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SweepTransfer records a hot to cold movement.
type SweepTransfer struct {
	ID        string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Currency  string          `json:"currency" gorm:"type:varchar(10);index;not null"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(36,18);not null"`
	HotBefore decimal.Decimal `json:"hot_before" gorm:"type:decimal(36,18);not null"`
	HotAfter  decimal.Decimal `json:"hot_after" gorm:"type:decimal(36,18);not null"`
	// Destination is the cold address. Reference is the rail's receipt.
	Destination   string          `json:"destination" gorm:"type:varchar(128);not null;default:''"`
	Reference     string          `json:"reference,omitempty" gorm:"type:varchar(128)"`
	Status        string          `json:"status" gorm:"type:varchar(20);not null"`
	FailureReason string          `json:"failure_reason,omitempty" gorm:"type:varchar(255)"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HotWalletSend is one outbound transfer from the hot wallet, keyed by the
// caller's idempotency reference.
type HotWalletSend struct {
	Reference string          `json:"reference" gorm:"primaryKey;type:varchar(128)"`
	Currency  string          `json:"currency" gorm:"type:varchar(10);not null"`
	Address   string          `json:"address" gorm:"type:varchar(128);not null"`
	Tag       string          `json:"tag,omitempty" gorm:"type:varchar(64)"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(36,18);not null"`
	TxID      string          `json:"tx_id" gorm:"type:varchar(128);not null"`
	CreatedAt time.Time       `json:"created_at"`
}

// DepositStatus is pending until the confirmation depth is reached.
type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositCredited DepositStatus = "credited"
)

// Deposit is an inbound on-chain transfer awaiting confirmation depth.
type Deposit struct {
	ID                    string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ClientID              string          `json:"client_id" gorm:"type:varchar(64);index;not null"`
	Currency              string          `json:"currency" gorm:"type:varchar(10);not null"`
	Amount                decimal.Decimal `json:"amount" gorm:"type:decimal(36,18);not null"`
	TxHash                string          `json:"tx_hash" gorm:"type:varchar(128);uniqueIndex;not null"`
	Confirmations         int             `json:"confirmations"`
	RequiredConfirmations int             `json:"required_confirmations"`
	Status                DepositStatus   `json:"status" gorm:"type:varchar(20);index;not null"`
	CreditedAt            *time.Time      `json:"credited_at,omitempty"`
	Version               int64           `json:"version" gorm:"default:1;not null"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// AllModels lists every persisted record for migration.
func AllModels() []any {
	return []any{
		&Client{},
		&SettlementInstruction{},
		&Deal{},
		&Quote{},
		&BlockTrade{},
		&LiquidityPool{},
		&CreditLine{},
		&Settlement{},
		&ComplianceTransaction{},
		&ComplianceUsage{},
		&SanctionedEntity{},
		&WhitelistedAddress{},
		&CustodyAccount{},
		&Withdrawal{},
		&WithdrawalApproval{},
		&Signer{},
		&WalletBalance{},
		&SweepTransfer{},
		&HotWalletSend{},
		&Deposit{},
	}
}
