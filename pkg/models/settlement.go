package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementMethod is the rail a settlement side moves funds over.
type SettlementMethod string

const (
	MethodCrypto  SettlementMethod = "crypto"
	MethodWire    SettlementMethod = "wire"
	MethodSWIFT   SettlementMethod = "swift"
	MethodFedwire SettlementMethod = "fedwire"
)

// Priority of a settlement; faster priorities cost more.
type Priority string

const (
	PriorityStandard Priority = "standard"
	PriorityUrgent   Priority = "urgent"
	PrioritySameDay  Priority = "same_day"
)

// SettlementStatus is the settlement lifecycle:
// pending -> processing -> confirming -> completed, failed from any non-terminal state.
type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "pending"
	SettlementProcessing SettlementStatus = "processing"
	SettlementConfirming SettlementStatus = "confirming"
	SettlementCompleted  SettlementStatus = "completed"
	SettlementFailed     SettlementStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s SettlementStatus) Terminal() bool {
	return s == SettlementCompleted || s == SettlementFailed
}

// SideStatus tracks one leg of a settlement.
type SideStatus string

const (
	SidePending   SideStatus = "pending"
	SideInitiated SideStatus = "initiated"
	SideConfirmed SideStatus = "confirmed"
	SideCompleted SideStatus = "completed"
)

// SettlementSource identifies what a settlement settles.
type SettlementSource string

const (
	SourceDeal       SettlementSource = "deal"
	SourceBlockTrade SettlementSource = "block_trade"
)

// Settlement is the two-sided execution record of a deal or block trade.
// One settlement exists per source; it is immutable once completed.
type Settlement struct {
	ID         string           `json:"id" gorm:"primaryKey;type:varchar(64)"`
	SourceType SettlementSource `json:"source_type" gorm:"type:varchar(20);uniqueIndex:idx_settlement_source;not null"`
	SourceID   string           `json:"source_id" gorm:"type:varchar(64);uniqueIndex:idx_settlement_source;not null"`
	BuyerID    string           `json:"buyer_id" gorm:"type:varchar(64);index;not null"`
	SellerID   string           `json:"seller_id" gorm:"type:varchar(64);index;not null"`
	Priority   Priority         `json:"priority" gorm:"type:varchar(20);not null"`

	// Each side is the leg its party receives: the buyer gets the base currency
	// at its instruction, the seller gets the quote currency at its instruction.
	BuyerInstructionID  string           `json:"buyer_instruction_id" gorm:"type:varchar(64)"`
	BuyerMethod         SettlementMethod `json:"buyer_method" gorm:"type:varchar(20);not null"`
	BuyerAmount         decimal.Decimal  `json:"buyer_amount" gorm:"type:decimal(36,18);not null"`
	BuyerCurrency       string           `json:"buyer_currency" gorm:"type:varchar(10);not null"`
	BuyerReference      string           `json:"buyer_reference,omitempty" gorm:"type:varchar(128)"`
	BuyerStatus         SideStatus       `json:"buyer_status" gorm:"type:varchar(20);not null"`
	SellerInstructionID string           `json:"seller_instruction_id" gorm:"type:varchar(64)"`
	SellerMethod        SettlementMethod `json:"seller_method" gorm:"type:varchar(20);not null"`
	SellerAmount        decimal.Decimal  `json:"seller_amount" gorm:"type:decimal(36,18);not null"`
	SellerCurrency      string           `json:"seller_currency" gorm:"type:varchar(10);not null"`
	SellerReference     string           `json:"seller_reference,omitempty" gorm:"type:varchar(128)"`
	SellerStatus        SideStatus       `json:"seller_status" gorm:"type:varchar(20);not null"`

	BuyerFee      decimal.Decimal `json:"buyer_fee" gorm:"type:decimal(36,18);not null"`
	SellerFee     decimal.Decimal `json:"seller_fee" gorm:"type:decimal(36,18);not null"`
	SettlementFee decimal.Decimal `json:"settlement_fee" gorm:"type:decimal(36,18);not null"`
	NetworkFee    decimal.Decimal `json:"network_fee" gorm:"type:decimal(36,18);not null"`
	ProcessingFee decimal.Decimal `json:"processing_fee" gorm:"type:decimal(36,18);not null"`
	TotalFees     decimal.Decimal `json:"total_fees" gorm:"type:decimal(36,18);not null"`
	FeeCurrency   string          `json:"fee_currency" gorm:"type:varchar(10);not null"`

	// CreditDrawn is the buyer credit drawn at initiation in FeeCurrency, repaid
	// on completion or failure.
	CreditDrawn decimal.Decimal `json:"credit_drawn" gorm:"type:decimal(36,18);not null"`

	InitiatedAt        time.Time        `json:"initiated_at"`
	ExpectedCompletion time.Time        `json:"expected_completion" gorm:"index"`
	ActualCompletion   *time.Time       `json:"actual_completion,omitempty"`
	FailureReason      string           `json:"failure_reason,omitempty" gorm:"type:text"`
	Status             SettlementStatus `json:"status" gorm:"type:varchar(20);index;not null"`
	Version            int64            `json:"version" gorm:"default:1;not null"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// CreditLine is a per-client, per-currency credit facility.
// AvailableCredit = CreditLimit - Utilized and stays within [0, CreditLimit].
type CreditLine struct {
	ID              string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ClientID        string          `json:"client_id" gorm:"type:varchar(64);uniqueIndex:idx_credit_client_currency;not null"`
	Currency        string          `json:"currency" gorm:"type:varchar(10);uniqueIndex:idx_credit_client_currency;not null"`
	CreditLimit     decimal.Decimal `json:"credit_limit" gorm:"type:decimal(36,18);not null"`
	Utilized        decimal.Decimal `json:"utilized" gorm:"type:decimal(36,18);not null"`
	AvailableCredit decimal.Decimal `json:"available_credit" gorm:"type:decimal(36,18);not null"`
	UtilizationRate decimal.Decimal `json:"utilization_rate" gorm:"type:decimal(36,18);not null"`
	InterestRate    decimal.Decimal `json:"interest_rate" gorm:"type:decimal(36,18);not null"`
	RiskRating      string          `json:"risk_rating" gorm:"type:varchar(10)"`
	MaturityDate    time.Time       `json:"maturity_date"`
	Version         int64           `json:"version" gorm:"default:1;not null"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
