package custody

import (
	"context"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Account returns the client's custody balance for currency.
func (s *Service) Account(ctx context.Context, clientID, currency string) (*models.CustodyAccount, error) {
	return accountTx(s.db.WithContext(ctx), clientID, strings.ToUpper(currency))
}

// Accounts returns every custody balance the client holds.
func (s *Service) Accounts(ctx context.Context, clientID string) ([]models.CustodyAccount, error) {
	var out []models.CustodyAccount
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).Order("currency").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func accountTx(tx *gorm.DB, clientID, currency string) (*models.CustodyAccount, error) {
	var acct models.CustodyAccount
	if err := tx.Where("client_id = ? AND currency = ?", clientID, currency).First(&acct).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("client %s holds no %s in custody", clientID, currency)
		}
		return nil, err
	}
	return &acct, nil
}

// creditAccountTx adds amount to the client's available balance, opening the
// account on first credit.
func creditAccountTx(tx *gorm.DB, clientID, currency string, amount decimal.Decimal) (*models.CustodyAccount, error) {
	acct, err := accountTx(tx, clientID, currency)
	if errors.Is(err, errors.NotFound) {
		acct = &models.CustodyAccount{
			ClientID:  clientID,
			Currency:  currency,
			Available: amount,
			Locked:    decimal.Zero,
			Version:   1,
		}
		if err := tx.Create(acct).Error; err != nil {
			if database.IsDuplicate(err) {
				return nil, errors.ConcurrentModification.Explain("custody account %s/%s opened concurrently", clientID, currency)
			}
			return nil, err
		}
		return acct, nil
	}
	if err != nil {
		return nil, err
	}
	if err := applyAccount(tx, acct, acct.Available.Add(amount), acct.Locked); err != nil {
		return nil, err
	}
	return acct, nil
}

// lockTx moves amount from available to locked.
func lockTx(tx *gorm.DB, clientID, currency string, amount decimal.Decimal) (*models.CustodyAccount, error) {
	acct, err := accountTx(tx, clientID, currency)
	if errors.Is(err, errors.NotFound) {
		return nil, errors.InsufficientBalance.
			Explain("client %s has no %s available", clientID, currency).
			WithDetail("available", "0").
			WithDetail("requested", amount.String())
	}
	if err != nil {
		return nil, err
	}
	if acct.Available.LessThan(amount) {
		return nil, errors.InsufficientBalance.
			Explain("withdrawal of %s %s exceeds available %s", amount, currency, acct.Available).
			WithDetail("available", acct.Available.String()).
			WithDetail("requested", amount.String())
	}
	if err := applyAccount(tx, acct, acct.Available.Sub(amount), acct.Locked.Add(amount)); err != nil {
		return nil, err
	}
	return acct, nil
}

// releaseTx returns locked funds to available.
func releaseTx(tx *gorm.DB, clientID, currency string, amount decimal.Decimal) error {
	acct, err := accountTx(tx, clientID, currency)
	if err != nil {
		return err
	}
	return applyAccount(tx, acct, acct.Available.Add(amount), acct.Locked.Sub(amount))
}

// settleLockTx removes locked funds that have left custody.
func settleLockTx(tx *gorm.DB, clientID, currency string, amount decimal.Decimal) error {
	acct, err := accountTx(tx, clientID, currency)
	if err != nil {
		return err
	}
	return applyAccount(tx, acct, acct.Available, acct.Locked.Sub(amount))
}

func applyAccount(tx *gorm.DB, acct *models.CustodyAccount, available, locked decimal.Decimal) error {
	if available.IsNegative() || locked.IsNegative() {
		return errors.InsufficientBalance.Explain("custody account %s/%s would go negative", acct.ClientID, acct.Currency)
	}
	err := database.UpdateVersioned(tx, &models.CustodyAccount{}, acct.Version, map[string]any{
		"available": available,
		"locked":    locked,
	}, "client_id = ? AND currency = ?", acct.ClientID, acct.Currency)
	if err != nil {
		return err
	}
	acct.Available = available
	acct.Locked = locked
	acct.Version++
	return nil
}

// WalletBalances returns the desk's inventory in tier, ordered by currency.
func (s *Service) WalletBalances(ctx context.Context, tier models.WalletTier) ([]models.WalletBalance, error) {
	return walletBalances(s.db.WithContext(ctx), tier)
}

func walletBalances(tx *gorm.DB, tier models.WalletTier) ([]models.WalletBalance, error) {
	var out []models.WalletBalance
	if err := tx.Where("tier = ?", tier).Order("currency").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// adjustWalletTx adds delta to the desk's tier balance, creating the row on
// first inflow. The balance never goes negative.
func adjustWalletTx(tx *gorm.DB, currency string, tier models.WalletTier, delta decimal.Decimal) (*models.WalletBalance, error) {
	var bal models.WalletBalance
	err := tx.Where("currency = ? AND tier = ?", currency, tier).First(&bal).Error
	if database.IsNotFound(err) {
		if delta.IsNegative() {
			return nil, errors.InsufficientBalance.Explain("%s wallet holds no %s", tier, currency)
		}
		bal = models.WalletBalance{Currency: currency, Tier: tier, Balance: delta, Version: 1}
		if err := tx.Create(&bal).Error; err != nil {
			if database.IsDuplicate(err) {
				return nil, errors.ConcurrentModification.Explain("%s %s wallet opened concurrently", tier, currency)
			}
			return nil, err
		}
		return &bal, nil
	}
	if err != nil {
		return nil, err
	}
	next := bal.Balance.Add(delta)
	if next.IsNegative() {
		return nil, errors.InsufficientBalance.
			Explain("%s wallet holds %s %s, needs %s", tier, bal.Balance, currency, delta.Neg()).
			WithDetail("available", bal.Balance.String())
	}
	err = database.UpdateVersioned(tx, &models.WalletBalance{}, bal.Version, map[string]any{"balance": next},
		"currency = ? AND tier = ?", currency, tier)
	if err != nil {
		return nil, err
	}
	bal.Balance = next
	bal.Version++
	return &bal, nil
}

// HotWalletProvider is the database-backed custody provider. It debits the
// recorded hot balance and derives a tx id from the send; it signs nothing on
// chain. A signing provider replaces it behind rails.CustodyProvider. Sends are
// idempotent per reference.
type HotWalletProvider struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewHotWalletProvider(db *gorm.DB, logger *zap.Logger) *HotWalletProvider {
	return &HotWalletProvider{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (h *HotWalletProvider) Send(ctx context.Context, currency, address, tag string, amount decimal.Decimal, reference string) (string, error) {
	currency = strings.ToUpper(currency)
	var prior models.HotWalletSend
	err := h.db.WithContext(ctx).Where("reference = ?", reference).First(&prior).Error
	if err == nil {
		return prior.TxID, nil
	}
	if !database.IsNotFound(err) {
		return "", err
	}

	send := &models.HotWalletSend{
		Reference: reference,
		Currency:  currency,
		Address:   address,
		Tag:       tag,
		Amount:    amount,
		TxID:      crypto.Keccak256Hash([]byte(currency), []byte(address), []byte(reference)).Hex(),
		CreatedAt: h.now(),
	}
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := adjustWalletTx(tx, currency, models.WalletHot, amount.Neg()); err != nil {
			return err
		}
		return tx.Create(send).Error
	})
	if database.IsDuplicate(err) {
		return send.TxID, nil
	}
	if err != nil {
		return "", err
	}
	h.logger.Info("hot wallet transfer broadcast",
		zap.String("reference", reference),
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
		zap.String("tx_id", send.TxID))
	return send.TxID, nil
}
