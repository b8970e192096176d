package custody

import (
	"context"
	"regexp"
	"strings"

	"github.com/Aidin1998/otcdesk/internal/clients"
	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// addressRule validates destination addresses for one currency.
type addressRule struct {
	minLength   int
	maxLength   int
	pattern     *regexp.Regexp
	evm         bool
	requiresTag bool
}

var (
	evmPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	evmRule    = addressRule{minLength: 42, maxLength: 42, pattern: evmPattern, evm: true}
)

var addressRules = map[string]addressRule{
	"BTC":  {minLength: 26, maxLength: 62, pattern: regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{25,34}$|^bc1[a-z0-9]{39,59}$`)},
	"BCH":  {minLength: 26, maxLength: 62, pattern: regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{25,34}$|^(bitcoincash:)?[qp][a-z0-9]{41}$`)},
	"LTC":  {minLength: 26, maxLength: 63, pattern: regexp.MustCompile(`^[LM3][a-km-zA-HJ-NP-Z1-9]{26,33}$|^ltc1[a-z0-9]{39,59}$`)},
	"ETH":  evmRule,
	"USDT": evmRule,
	"USDC": evmRule,
	"SOL":  {minLength: 32, maxLength: 44, pattern: regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)},
	"XRP":  {minLength: 25, maxLength: 35, pattern: regexp.MustCompile(`^r[0-9a-zA-Z]{24,34}$`), requiresTag: true},
}

// ValidateAddress checks address against the format rule for currency.
func ValidateAddress(currency, address, tag string) error {
	currency = strings.ToUpper(currency)
	rule, ok := addressRules[currency]
	if !ok {
		return errors.Invalid.Explain("withdrawals of %s are not supported", currency)
	}
	if len(address) < rule.minLength || len(address) > rule.maxLength {
		return errors.Invalid.
			Explain("invalid %s address length: expected %d-%d, got %d", currency, rule.minLength, rule.maxLength, len(address)).
			WithField("length", "address", "out of range")
	}
	if !rule.pattern.MatchString(address) {
		return errors.Invalid.Explain("invalid %s address format", currency).WithField("format", "address", address)
	}
	if rule.evm {
		if !common.IsHexAddress(address) {
			return errors.Invalid.Explain("invalid %s address %s", currency, address)
		}
		hexPart := address[2:]
		mixed := hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart)
		if mixed && common.HexToAddress(address).Hex() != address {
			return errors.Invalid.Explain("%s address %s fails EIP-55 checksum", currency, address).WithField("checksum", "address", address)
		}
	}
	if rule.requiresTag && strings.TrimSpace(tag) == "" {
		return errors.Invalid.Explain("%s withdrawals require a destination tag", currency).WithField("required", "tag", "")
	}
	return nil
}

// canonicalAddress is the form addresses are stored and looked up in.
// EVM addresses are case-insensitive and kept in checksummed form.
func canonicalAddress(currency, address string) string {
	address = strings.TrimSpace(address)
	if rule, ok := addressRules[strings.ToUpper(currency)]; ok && rule.evm && common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return address
}

// canonicalTag is the destination tag an entry is keyed by. Currencies that
// do not route by tag ignore it.
func canonicalTag(currency, tag string) string {
	if rule, ok := addressRules[strings.ToUpper(currency)]; ok && rule.requiresTag {
		return strings.TrimSpace(tag)
	}
	return ""
}

// WhitelistRequest asks to approve a withdrawal destination for a client.
type WhitelistRequest struct {
	ClientID string `json:"client_id" binding:"required"`
	Currency string `json:"currency" binding:"required,currency_code"`
	Address  string `json:"address" binding:"required"`
	Tag      string `json:"tag,omitempty"`
	Label    string `json:"label,omitempty"`
}

// WhitelistAddress validates and stores a destination. Re-adding a removed
// address reactivates it.
func (s *Service) WhitelistAddress(ctx context.Context, req WhitelistRequest) (*models.WhitelistedAddress, error) {
	currency := strings.ToUpper(req.Currency)
	address := strings.TrimSpace(req.Address)
	if err := ValidateAddress(currency, address, req.Tag); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	client, err := clients.GetTx(db, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, errors.Invalid.Explain("client %s is deactivated", client.ID)
	}

	entry := &models.WhitelistedAddress{
		ClientID: req.ClientID,
		Currency: currency,
		Address:  canonicalAddress(currency, address),
		Tag:      canonicalTag(currency, req.Tag),
		Label:    req.Label,
		Active:   true,
	}
	err = db.Create(entry).Error
	if database.IsDuplicate(err) {
		var existing models.WhitelistedAddress
		if err := db.Where("client_id = ? AND currency = ? AND address = ? AND tag = ?", entry.ClientID, currency, entry.Address, entry.Tag).
			First(&existing).Error; err != nil {
			return nil, err
		}
		if existing.Active {
			return nil, errors.Conflict.Explain("%s address %s is already whitelisted for %s", currency, entry.Address, req.ClientID)
		}
		if err := db.Model(&existing).Updates(map[string]any{"active": true, "label": req.Label}).Error; err != nil {
			return nil, err
		}
		existing.Active, existing.Label = true, req.Label
		entry = &existing
	} else if err != nil {
		return nil, err
	}

	s.logger.Info("address whitelisted",
		zap.String("client_id", entry.ClientID),
		zap.String("currency", currency),
		zap.String("address", entry.Address),
		zap.String("tag", entry.Tag))
	return entry, nil
}

// RemoveWhitelistAddress deactivates a destination. Pending withdrawals to it
// are unaffected.
func (s *Service) RemoveWhitelistAddress(ctx context.Context, clientID, currency, address, tag string) error {
	currency = strings.ToUpper(currency)
	res := s.db.WithContext(ctx).Model(&models.WhitelistedAddress{}).
		Where("client_id = ? AND currency = ? AND address = ? AND tag = ? AND active = ?",
			clientID, currency, canonicalAddress(currency, address), canonicalTag(currency, tag), true).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.NotFound.Explain("%s address %s is not whitelisted for %s", currency, address, clientID)
	}
	s.logger.Info("address removed from whitelist",
		zap.String("client_id", clientID),
		zap.String("currency", currency),
		zap.String("address", address))
	return nil
}

// IsWhitelisted reports whether address is an active destination for the
// client. For tag-routed currencies the tag must match the whitelisted one.
func (s *Service) IsWhitelisted(ctx context.Context, clientID, currency, address, tag string) (bool, error) {
	currency = strings.ToUpper(currency)
	var n int64
	err := s.db.WithContext(ctx).Model(&models.WhitelistedAddress{}).
		Where("client_id = ? AND currency = ? AND address = ? AND tag = ? AND active = ?",
			clientID, currency, canonicalAddress(currency, address), canonicalTag(currency, tag), true).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListWhitelist returns the client's active destinations.
func (s *Service) ListWhitelist(ctx context.Context, clientID string) ([]models.WhitelistedAddress, error) {
	var out []models.WhitelistedAddress
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND active = ?", clientID, true).
		Order("currency, address, tag").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
