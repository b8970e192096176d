// Package testutil holds helpers shared by the desk's package tests.
package testutil

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB returns a migrated in-memory sqlite database private to t.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenSQLite("file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Dec parses a decimal literal and panics on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// SeedClient inserts an active client with the given KYC level and pricing tier.
func SeedClient(t testing.TB, db *gorm.DB, id string, kycLevel int, tier models.ClientTier) *models.Client {
	t.Helper()
	c := &models.Client{
		ID:           id,
		Name:         id,
		Email:        strings.ToLower(id) + "@example.com",
		KYCLevel:     kycLevel,
		Tier:         tier,
		TradingLimit: decimal.NewFromInt(10_000_000),
		Active:       true,
		Version:      1,
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

// Percentile returns the p-th percentile value from a slice of durations.
func Percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted))*p + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
