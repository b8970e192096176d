package custody

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/internal/clients"
	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/internal/messaging"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/ids"
	"github.com/Aidin1998/otcdesk/pkg/metrics"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Minimum block confirmations before a deposit is credited.
var confirmationDepth = map[string]int{
	"BTC":  6,
	"BCH":  6,
	"LTC":  12,
	"ETH":  12,
	"USDT": 12,
	"USDC": 12,
	"SOL":  32,
	"XRP":  1,
}

const defaultConfirmationDepth = 12

// ConfirmationDepth returns the confirmations currency needs before crediting.
func ConfirmationDepth(currency string) int {
	if n, ok := confirmationDepth[strings.ToUpper(currency)]; ok {
		return n
	}
	return defaultConfirmationDepth
}

// ConfirmationSource reports how many blocks confirm a transaction.
type ConfirmationSource interface {
	Confirmations(ctx context.Context, currency, txHash string) (int, error)
}

// SourceSet routes confirmation lookups by currency.
type SourceSet map[string]ConfirmationSource

func (s SourceSet) Confirmations(ctx context.Context, currency, txHash string) (int, error) {
	src, ok := s[strings.ToUpper(currency)]
	if !ok {
		return 0, errors.UnsupportedRail.Explain("no confirmation source for %s", currency)
	}
	return src.Confirmations(ctx, currency, txHash)
}

// ChainReader is the subset of ethclient.Client used to count confirmations.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMConfirmationSource counts confirmations on an EVM chain.
type EVMConfirmationSource struct {
	client ChainReader
}

func NewEVMConfirmationSource(client ChainReader) *EVMConfirmationSource {
	return &EVMConfirmationSource{client: client}
}

// DialEVM connects to an EVM JSON-RPC endpoint.
func DialEVM(rpcURL string) (*EVMConfirmationSource, *ethclient.Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, nil, err
	}
	return NewEVMConfirmationSource(client), client, nil
}

func (e *EVMConfirmationSource) Confirmations(ctx context.Context, _ string, txHash string) (int, error) {
	receipt, err := e.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, errors.Invalid.Explain("transaction %s reverted", txHash)
	}
	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if receipt.BlockNumber == nil {
		return 0, nil
	}
	included := receipt.BlockNumber
	if new(big.Int).SetUint64(head).Cmp(included) < 0 {
		return 0, nil
	}
	return int(head-included.Uint64()) + 1, nil
}

// DepositRequest registers an inbound transfer seen on chain.
type DepositRequest struct {
	ClientID string          `json:"client_id" binding:"required"`
	Currency string          `json:"currency" binding:"required,currency_code"`
	Amount   decimal.Decimal `json:"amount" binding:"gt=0"`
	TxHash   string          `json:"tx_hash" binding:"required"`
}

// Deposits tracks inbound transfers until they reach confirmation depth.
type Deposits struct {
	db      *gorm.DB
	source  ConfirmationSource
	emitter *messaging.Emitter
	logger  *zap.Logger
	now     func() time.Time
}

func NewDeposits(db *gorm.DB, source ConfirmationSource, emitter *messaging.Emitter, logger *zap.Logger) *Deposits {
	return &Deposits{
		db:      db,
		source:  source,
		emitter: emitter,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterDeposit records a pending deposit. Registering the same transaction
// again for the same client returns the existing record.
func (d *Deposits) RegisterDeposit(ctx context.Context, req DepositRequest) (*models.Deposit, error) {
	if !req.Amount.IsPositive() {
		return nil, errors.Invalid.Explain("deposit amount must be positive")
	}
	txHash := strings.TrimSpace(req.TxHash)
	if txHash == "" {
		return nil, errors.Invalid.Explain("tx_hash is required")
	}
	db := d.db.WithContext(ctx)
	client, err := clients.GetTx(db, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, errors.Invalid.Explain("client %s is deactivated", client.ID)
	}

	currency := strings.ToUpper(req.Currency)
	dep := &models.Deposit{
		ID:                    ids.Deposit(),
		ClientID:              req.ClientID,
		Currency:              currency,
		Amount:                req.Amount,
		TxHash:                txHash,
		RequiredConfirmations: ConfirmationDepth(currency),
		Status:                models.DepositPending,
		Version:               1,
	}
	err = db.Create(dep).Error
	if database.IsDuplicate(err) {
		var existing models.Deposit
		if err := db.First(&existing, "tx_hash = ?", txHash).Error; err != nil {
			return nil, err
		}
		if existing.ClientID != req.ClientID || existing.Currency != currency || !existing.Amount.Equal(req.Amount) {
			return nil, errors.Conflict.Explain("transaction %s is already registered as deposit %s", txHash, existing.ID)
		}
		return &existing, nil
	}
	if err != nil {
		return nil, err
	}
	d.logger.Info("deposit registered",
		zap.String("deposit_id", dep.ID),
		zap.String("client_id", dep.ClientID),
		zap.String("currency", currency),
		zap.String("amount", dep.Amount.String()),
		zap.Int("required_confirmations", dep.RequiredConfirmations))
	return dep, nil
}

// GetDeposit loads a deposit by id.
func (d *Deposits) GetDeposit(ctx context.Context, id string) (*models.Deposit, error) {
	var dep models.Deposit
	if err := d.db.WithContext(ctx).First(&dep, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("deposit %s not found", id)
		}
		return nil, err
	}
	return &dep, nil
}

// ScanDeposits refreshes confirmations of every pending deposit and credits
// those that reached their depth. It returns the credited deposits.
// A source error skips that deposit until the next scan.
func (d *Deposits) ScanDeposits(ctx context.Context) ([]models.Deposit, error) {
	var pending []models.Deposit
	if err := d.db.WithContext(ctx).Where("status = ?", models.DepositPending).Order("created_at").Find(&pending).Error; err != nil {
		return nil, err
	}

	var credited []models.Deposit
	for i := range pending {
		dep := &pending[i]
		confs, err := d.source.Confirmations(ctx, dep.Currency, dep.TxHash)
		if err != nil {
			d.logger.Warn("confirmation lookup failed",
				zap.String("deposit_id", dep.ID),
				zap.String("tx_hash", dep.TxHash),
				zap.Error(err))
			continue
		}
		if confs < dep.RequiredConfirmations {
			if confs != dep.Confirmations {
				if err := database.UpdateVersioned(d.db.WithContext(ctx), &models.Deposit{}, dep.Version,
					map[string]any{"confirmations": confs}, "id = ? AND status = ?", dep.ID, models.DepositPending); err != nil {
					d.logger.Warn("deposit progress not saved", zap.String("deposit_id", dep.ID), zap.Error(err))
				}
			}
			continue
		}
		if err := d.credit(ctx, dep, confs); err != nil {
			d.logger.Error("deposit credit failed", zap.String("deposit_id", dep.ID), zap.Error(err))
			continue
		}
		credited = append(credited, *dep)
	}
	return credited, nil
}

// credit marks the deposit credited together with the client and hot wallet balances.
func (d *Deposits) credit(ctx context.Context, dep *models.Deposit, confs int) error {
	if confs < dep.RequiredConfirmations {
		return errors.Invalid.Explain("deposit %s has %d of %d confirmations", dep.ID, confs, dep.RequiredConfirmations)
	}
	at := d.now()
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.UpdateVersioned(tx, &models.Deposit{}, dep.Version, map[string]any{
			"status":        models.DepositCredited,
			"confirmations": confs,
			"credited_at":   at,
		}, "id = ? AND status = ?", dep.ID, models.DepositPending); err != nil {
			return err
		}
		if _, err := creditAccountTx(tx, dep.ClientID, dep.Currency, dep.Amount); err != nil {
			return err
		}
		_, err := adjustWalletTx(tx, dep.Currency, models.WalletHot, dep.Amount)
		return err
	})
	if err != nil {
		return err
	}
	dep.Status = models.DepositCredited
	dep.Confirmations = confs
	dep.CreditedAt = &at
	dep.Version++

	d.logger.Info("deposit credited",
		zap.String("deposit_id", dep.ID),
		zap.String("client_id", dep.ClientID),
		zap.String("currency", dep.Currency),
		zap.String("amount", dep.Amount.String()),
		zap.Int("confirmations", confs))
	metrics.DepositsCredited.WithLabelValues(dep.Currency).Inc()
	d.emitter.Emit(ctx, messaging.TopicCustody, dep.ID, EventDepositCredited, dep)
	return nil
}

// Run scans on every tick until ctx is cancelled.
func (d *Deposits) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Invalid.Explain("deposit scan interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.ScanDeposits(ctx); err != nil {
				d.logger.Error("deposit scan failed", zap.Error(err))
			}
		}
	}
}
