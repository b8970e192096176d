package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesKind(t *testing.T) {
	err := NotFound.Explain("deal %s not found", "OTC-1")
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Conflict))

	wrapped := fmt.Errorf("load deal: %w", err)
	assert.True(t, Is(wrapped, NotFound))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestExplainDoesNotMutateSentinel(t *testing.T) {
	_ = InsufficientCredit.Explain("short by %s", "10").WithDetail("available", "5")
	assert.Empty(t, InsufficientCredit.Message)
	assert.Empty(t, InsufficientCredit.Details)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ConcurrentModification.Explain("version moved")))
	assert.True(t, Retryable(fmt.Errorf("submit: %w", RailRejected)))
	assert.False(t, Retryable(ComplianceRejected))
	assert.False(t, Retryable(NoMarketData))
	assert.True(t, Retryable(MarketDataUnavailable.Explain("redis down")))
	assert.False(t, Retryable(fmt.Errorf("plain")))
}

func TestProblemCarriesComplianceDetails(t *testing.T) {
	err := ComplianceRejected.
		Explain("daily limit exceeded").
		WithReason(ReasonLimitExceeded).
		WithDetail("limit", "10000").
		WithDetail("remaining", "250")

	p := Problem(err, "/api/v1/compliance/check")
	assert.Equal(t, http.StatusForbidden, p.Status)
	assert.Equal(t, "https://api.otcdesk.io/problems/compliance-rejected", p.Type)
	assert.Equal(t, "Compliance Rejected", p.Title)

	raw, err2 := json.Marshal(p)
	require.NoError(t, err2)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "limit_exceeded", body["reason"])
	assert.Equal(t, "10000", body["limit"])
	assert.Equal(t, "250", body["remaining"])
	assert.Equal(t, "ComplianceRejected", body["kind"])
}

func TestProblemHidesUnknownErrors(t *testing.T) {
	p := Problem(fmt.Errorf("pq: connection refused"), "/x")
	assert.Equal(t, http.StatusInternalServerError, p.Status)
	assert.Equal(t, "internal error", p.Detail)
}

func TestMarketDataUnavailableIsNotNoMarketData(t *testing.T) {
	err := MarketDataUnavailable.Explain("feed down").Wrap(fmt.Errorf("dial tcp: connection refused"))
	assert.False(t, Is(err, NoMarketData))
	assert.True(t, Is(err, MarketDataUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))
}
