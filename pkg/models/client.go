package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClientTier is the commercial tier used for spread lookup.
type ClientTier string

const (
	TierRetail        ClientTier = "retail"
	TierProfessional  ClientTier = "professional"
	TierInstitutional ClientTier = "institutional"
)

// VerificationTier is the compliance tier derived from the KYC level.
type VerificationTier string

const (
	VerificationUnverified    VerificationTier = "unverified"
	VerificationEmailVerified VerificationTier = "email_verified"
	VerificationPhoneVerified VerificationTier = "phone_verified"
	VerificationFullKYC       VerificationTier = "full_kyc"
)

// Client is a desk counterparty. Clients are never deleted, only deactivated.
type Client struct {
	ID               string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name             string          `json:"name" gorm:"type:varchar(200);not null"`
	Email            string          `json:"email" gorm:"type:varchar(254);uniqueIndex"`
	KYCLevel         int             `json:"kyc_level" gorm:"not null"` // 0 none, 1 email, 2 phone, 3 document
	EmailVerified    bool            `json:"email_verified"`
	PhoneVerified    bool            `json:"phone_verified"`
	DocumentVerified bool            `json:"document_verified"`
	Institutional    bool            `json:"institutional"`
	Tier             ClientTier      `json:"tier" gorm:"type:varchar(20);not null"`
	TradingLimit     decimal.Decimal `json:"trading_limit" gorm:"type:decimal(36,18);not null"`
	RiskScore        int             `json:"risk_score"`
	Active           bool            `json:"active"`
	Version          int64           `json:"version" gorm:"default:1;not null"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// VerificationTier maps the KYC level onto the compliance tier.
func (c *Client) VerificationTier() VerificationTier {
	switch {
	case c.KYCLevel >= 3:
		return VerificationFullKYC
	case c.KYCLevel == 2:
		return VerificationPhoneVerified
	case c.KYCLevel == 1:
		return VerificationEmailVerified
	default:
		return VerificationUnverified
	}
}

// PricingTier is the tier used by the pricing engine. The institutional
// flag always wins over the stored commercial tier.
func (c *Client) PricingTier() ClientTier {
	if c.Institutional {
		return TierInstitutional
	}
	if c.Tier == "" {
		return TierRetail
	}
	return c.Tier
}

// InstructionType is the payout rail registered by a client.
type InstructionType string

const (
	InstructionCryptoWallet InstructionType = "crypto_wallet"
	InstructionBankWire     InstructionType = "bank_wire"
	InstructionSWIFT        InstructionType = "swift"
	InstructionFedwire      InstructionType = "fedwire"
)

// SettlementInstruction is a client's standing payout instruction for a currency.
// At most one instruction per (client, currency) carries IsDefault.
type SettlementInstruction struct {
	ID            string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ClientID      string          `json:"client_id" gorm:"type:varchar(64);index:idx_ssi_client_currency;uniqueIndex:idx_ssi_one_default,where:is_default;not null"`
	Currency      string          `json:"currency" gorm:"type:varchar(10);index:idx_ssi_client_currency;uniqueIndex:idx_ssi_one_default,where:is_default;not null"`
	Type          InstructionType `json:"type" gorm:"type:varchar(20);not null"`
	Address       string          `json:"address,omitempty" gorm:"type:varchar(128)"`
	Tag           string          `json:"tag,omitempty" gorm:"type:varchar(64)"`
	BankName      string          `json:"bank_name,omitempty" gorm:"type:varchar(128)"`
	AccountNumber string          `json:"account_number,omitempty" gorm:"type:varchar(64)"`
	RoutingCode   string          `json:"routing_code,omitempty" gorm:"type:varchar(64)"` // ABA, SWIFT BIC or sort code
	Verified      bool            `json:"verified"`
	IsDefault     bool            `json:"is_default"`
	Version       int64           `json:"version" gorm:"default:1;not null"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Destination is the rail-specific address funds are sent to.
func (i *SettlementInstruction) Destination() string {
	if i.Type == InstructionCryptoWallet {
		return i.Address
	}
	return i.RoutingCode + ":" + i.AccountNumber
}
