package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/Aidin1998/otcdesk/internal/marketdata"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/Aidin1998/otcdesk/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newGate(t *testing.T) (*Gate, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	gate := NewGate(db, marketdata.NewConverter(marketdata.NewStaticFeed()), NewScreener(db), zap.NewNop())
	return gate, db
}

func usd(client string, amount string) TransactionCheck {
	return TransactionCheck{ClientID: client, Type: models.TxTrade, Amount: testutil.Dec(amount), Currency: "USD"}
}

func TestUnverifiedBoundary(t *testing.T) {
	gate, db := newGate(t)
	testutil.SeedClient(t, db, "CLI-A", 0, models.TierRetail)
	ctx := context.Background()

	d, err := gate.CheckTransactionCompliance(ctx, usd("CLI-A", "10000"))
	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.False(t, d.RequiresKYC)
	assert.True(t, d.TravelRuleRequired)
	assert.Equal(t, RiskMedium, d.RiskLevel)

	d, err = gate.CheckTransactionCompliance(ctx, usd("CLI-A", "10001"))
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.True(t, d.RequiresKYC)
	assert.Equal(t, errors.ReasonKYCRequired, d.Reason)
}

func TestAuthorizeCarriesLimits(t *testing.T) {
	gate, db := newGate(t)
	testutil.SeedClient(t, db, "CLI-B", 1, models.TierRetail)
	ctx := context.Background()

	check := usd("CLI-B", "60000")
	d, err := gate.Authorize(ctx, check)
	require.NoError(t, err)
	require.NoError(t, gate.RecordTransaction(ctx, check, d, "OTC-1"))

	_, err = gate.Authorize(ctx, usd("CLI-B", "50000"))
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ComplianceRejected))

	var ce *errors.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errors.ReasonLimitExceeded, ce.Reason)
	assert.Equal(t, "100000", ce.Details["limit"])
	assert.Equal(t, "40000", ce.Details["remaining"])

	d, err = gate.Authorize(ctx, usd("CLI-B", "40000"))
	require.NoError(t, err)
	assert.True(t, d.Approved)
}

func TestOldTransactionsLeaveTheDailyWindow(t *testing.T) {
	gate, db := newGate(t)
	testutil.SeedClient(t, db, "CLI-C", 0, models.TierRetail)
	ctx := context.Background()

	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return now }

	require.NoError(t, db.Create(&models.ComplianceTransaction{
		ID: "CTX-1", ClientID: "CLI-C", Type: models.TxTrade, Currency: "USD",
		Amount: testutil.Dec("9000"), AmountUSD: testutil.Dec("9000"), CreatedAt: now.Add(-48 * time.Hour),
	}).Error)

	d, err := gate.CheckTransactionCompliance(ctx, usd("CLI-C", "9000"))
	require.NoError(t, err)
	assert.True(t, d.Approved, "yesterday's volume does not count against today")
	assert.True(t, d.Limits.DailyRemaining.Equal(testutil.Dec("10000")))
	assert.True(t, d.Limits.MonthlyRemaining.Equal(testutil.Dec("41000")))
}

func TestUSDConversionUsesRateTable(t *testing.T) {
	gate, db := newGate(t)
	testutil.SeedClient(t, db, "CLI-D", 3, models.TierInstitutional)

	d, err := gate.CheckTransactionCompliance(context.Background(), TransactionCheck{
		ClientID: "CLI-D", Type: models.TxTrade, Amount: testutil.Dec("2"), Currency: "BTC",
	})
	require.NoError(t, err)
	assert.True(t, d.AmountUSD.Equal(testutil.Dec("90000")))
	assert.True(t, d.Approved)
	assert.Equal(t, models.VerificationFullKYC, d.Tier)
}

func TestWithdrawalEscalatesRisk(t *testing.T) {
	gate, db := newGate(t)
	testutil.SeedClient(t, db, "CLI-E", 3, models.TierRetail)

	d, err := gate.CheckTransactionCompliance(context.Background(), TransactionCheck{
		ClientID: "CLI-E", Type: models.TxWithdrawal, Amount: testutil.Dec("500"), Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, d.RiskLevel)
	assert.False(t, d.TravelRuleRequired)

	d, err = gate.CheckTransactionCompliance(context.Background(), TransactionCheck{
		ClientID: "CLI-E", Type: models.TxWithdrawal, Amount: testutil.Dec("500000"), Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, d.RiskLevel)
}

func TestSanctionsHitIsHardRejection(t *testing.T) {
	gate, db := newGate(t)
	testutil.SeedClient(t, db, "CLI-F", 3, models.TierInstitutional)
	ctx := context.Background()

	_, err := gate.Screener().AddSanction(ctx, models.SanctionAddress, "0xBAD0000000000000000000000000000000000BAD", "ofac")
	require.NoError(t, err)
	_, err = gate.Screener().AddSanction(ctx, models.SanctionDomain, "evil-mixer.io", "ofac")
	require.NoError(t, err)

	check := usd("CLI-F", "100")
	check.Destination = "0xbad0000000000000000000000000000000000bad"
	_, err = gate.Authorize(ctx, check)
	require.True(t, errors.Is(err, errors.ComplianceRejected))
	var ce *errors.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errors.ReasonSanctionsHit, ce.Reason)

	check.Destination = "treasury@evil-mixer.io"
	d, err := gate.CheckTransactionCompliance(ctx, check)
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, RiskHigh, d.RiskLevel)

	check.Destination = "https://www.evi1-mixer.io/"
	d, err = gate.CheckTransactionCompliance(ctx, check)
	require.NoError(t, err)
	assert.True(t, d.Approved, "lookalikes are flagged, not rejected")
	assert.Contains(t, d.Flags, FlagSanctionsLookalike)
	assert.Equal(t, RiskMedium, d.RiskLevel)
}

func TestVerifyUserIsMonotonic(t *testing.T) {
	gate, db := newGate(t)
	testutil.SeedClient(t, db, "CLI-G", 0, models.TierRetail)
	ctx := context.Background()

	c, err := gate.VerifyUser(ctx, "CLI-G", VerifyDocument)
	require.NoError(t, err)
	assert.Equal(t, 3, c.KYCLevel)

	c, err = gate.VerifyUser(ctx, "CLI-G", VerifyEmail)
	require.NoError(t, err)
	assert.Equal(t, 3, c.KYCLevel)
	assert.True(t, c.EmailVerified)
	assert.True(t, c.DocumentVerified)

	_, err = gate.VerifyUser(ctx, "CLI-G", "retina")
	assert.True(t, errors.Is(err, errors.Invalid))
}

func TestRecordRejectsUnapproved(t *testing.T) {
	gate, _ := newGate(t)
	err := gate.RecordTransaction(context.Background(), usd("CLI-X", "1"), &Decision{}, "ref")
	assert.True(t, errors.Is(err, errors.Invalid))
}

func TestUnknownClient(t *testing.T) {
	gate, _ := newGate(t)
	_, err := gate.CheckTransactionCompliance(context.Background(), usd("CLI-nobody", "1"))
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestAuthorizeTxMovesUsageRow(t *testing.T) {
	gate, db := newGate(t)
	testutil.SeedClient(t, db, "CLI-H", 1, models.TierRetail)
	ctx := context.Background()

	for _, ref := range []string{"OTC-1", "OTC-2"} {
		require.NoError(t, db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := gate.AuthorizeTx(tx, usd("CLI-H", "30000"), ref)
			return err
		}))
	}

	var row models.ComplianceUsage
	require.NoError(t, db.First(&row, "client_id = ?", "CLI-H").Error)
	assert.True(t, row.DailyUSD.Equal(testutil.Dec("60000")))
	assert.True(t, row.MonthlyUSD.Equal(testutil.Dec("60000")))
	assert.EqualValues(t, 2, row.Version)

	var logged int64
	require.NoError(t, db.Model(&models.ComplianceTransaction{}).Where("client_id = ?", "CLI-H").Count(&logged).Error)
	assert.EqualValues(t, 2, logged)

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := gate.AuthorizeTx(tx, usd("CLI-H", "50000"), "OTC-3")
		return err
	})
	assert.True(t, errors.Is(err, errors.ComplianceRejected))
}

func TestStaleUsageLosesTheRace(t *testing.T) {
	gate, db := newGate(t)
	testutil.SeedClient(t, db, "CLI-I", 1, models.TierRetail)
	ctx := context.Background()
	check := usd("CLI-I", "60000")

	d, u, err := gate.evaluate(ctx, db, check)
	require.NoError(t, err)
	require.True(t, d.Approved)

	// Another admission lands between this one's read and its write.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := gate.AuthorizeTx(tx, check, "OTC-other")
		return err
	}))

	err = db.Transaction(func(tx *gorm.DB) error {
		return gate.record(tx, check, d, u, "OTC-late")
	})
	assert.True(t, errors.Is(err, errors.ConcurrentModification))

	var logged int64
	require.NoError(t, db.Model(&models.ComplianceTransaction{}).Where("client_id = ?", "CLI-I").Count(&logged).Error)
	assert.EqualValues(t, 1, logged, "the losing record rolls back with its transaction")

	_, err = gate.Authorize(ctx, usd("CLI-I", "50000"))
	assert.True(t, errors.Is(err, errors.ComplianceRejected))
}

func TestUsageRowRollsOverDays(t *testing.T) {
	gate, db := newGate(t)
	testutil.SeedClient(t, db, "CLI-J", 0, models.TierRetail)
	ctx := context.Background()

	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return now }
	require.NoError(t, gate.RecordTransaction(ctx, usd("CLI-J", "9000"), &Decision{Approved: true, AmountUSD: testutil.Dec("9000")}, "OTC-1"))

	now = now.Add(24 * time.Hour)
	d, err := gate.CheckTransactionCompliance(ctx, usd("CLI-J", "100"))
	require.NoError(t, err)
	assert.True(t, d.Limits.DailyRemaining.Equal(testutil.Dec("10000")))
	assert.True(t, d.Limits.MonthlyRemaining.Equal(testutil.Dec("41000")))

	now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	d, err = gate.CheckTransactionCompliance(ctx, usd("CLI-J", "100"))
	require.NoError(t, err)
	assert.True(t, d.Limits.MonthlyRemaining.Equal(testutil.Dec("50000")))
}
