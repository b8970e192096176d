package rails

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/Aidin1998/otcdesk/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func wire(ref string) Transfer {
	return Transfer{
		Method:      models.MethodWire,
		Reference:   ref,
		Amount:      decimal.NewFromInt(90_000),
		Currency:    "USD",
		Destination: "021000021/123456789",
	}
}

func TestRouterUnsupportedRail(t *testing.T) {
	r := NewRouter(zap.NewNop()).Register(NewSimulated(time.Minute), models.MethodCrypto)

	_, err := r.Submit(context.Background(), wire("SET-1-BUY"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.UnsupportedRail))
}

func TestRouterRequiresReference(t *testing.T) {
	r := NewRouter(zap.NewNop()).Register(NewSimulated(time.Minute), models.MethodWire)
	_, err := r.Submit(context.Background(), wire(""))
	assert.True(t, errors.Is(err, errors.Invalid))
}

func TestSimulatedIsIdempotent(t *testing.T) {
	sim := NewSimulated(time.Minute)
	r := NewRouter(zap.NewNop()).Register(sim, models.MethodWire)

	first, err := r.Submit(context.Background(), wire("SET-1-BUY"))
	require.NoError(t, err)
	second, err := r.Submit(context.Background(), wire("SET-1-BUY"))
	require.NoError(t, err)

	assert.Equal(t, first.ReferenceID, second.ReferenceID)
	assert.Len(t, sim.Calls(), 2)
	assert.Equal(t, 1, sim.Accepted())
}

func TestSimulatedRejection(t *testing.T) {
	sim := NewSimulated(time.Minute)
	sim.RejectWhen("021000021/123456789", "account closed")
	r := NewRouter(zap.NewNop()).Register(sim, models.MethodWire)

	_, err := r.Submit(context.Background(), wire("SET-2-SELL"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.RailRejected))
	assert.True(t, errors.Retryable(err))
}

func TestSimulatedLatency(t *testing.T) {
	sim := NewSimulated(time.Minute)
	var latencies []time.Duration
	for i := 0; i < 200; i++ {
		start := time.Now()
		_, err := sim.Submit(context.Background(), wire(fmt.Sprintf("SET-%d-BUY", i)))
		require.NoError(t, err)
		latencies = append(latencies, time.Since(start))
	}
	assert.Less(t, testutil.Percentile(latencies, 0.99), 10*time.Millisecond)
}

func TestBankAdapterSendsIdempotencyKey(t *testing.T) {
	var got bankTransferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "SET-9-BUY", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(bankTransferResponse{
			ID:                  "BNK-77",
			Status:              "accepted",
			EstimatedCompletion: time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC),
		})
	}))
	defer srv.Close()

	bank := NewBankAdapter(BankConfig{BaseURL: srv.URL, APIKey: "secret", RequestsPerSecond: 100}, zap.NewNop())
	receipt, err := bank.Submit(context.Background(), wire("SET-9-BUY"))
	require.NoError(t, err)

	assert.Equal(t, "BNK-77", receipt.ReferenceID)
	assert.Equal(t, "90000", got.Amount)
	assert.Equal(t, "wire", got.Method)
}

func TestBankAdapterRejectsWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid routing number"}`))
	}))
	defer srv.Close()

	bank := NewBankAdapter(BankConfig{BaseURL: srv.URL, RequestsPerSecond: 100}, zap.NewNop())
	_, err := bank.Submit(context.Background(), wire("SET-3-BUY"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.RailRejected))
	assert.Contains(t, err.Error(), "invalid routing number")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestBankAdapterRetriesTransientFailures(t *testing.T) {
	var calls int32
	keys := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(bankTransferResponse{ID: "BNK-1"})
	}))
	defer srv.Close()

	bank := NewBankAdapter(BankConfig{BaseURL: srv.URL, RequestsPerSecond: 100}, zap.NewNop())
	bank.backoff = time.Millisecond

	receipt, err := bank.Submit(context.Background(), wire("SET-4-SELL"))
	require.NoError(t, err)
	assert.Equal(t, "BNK-1", receipt.ReferenceID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	close(keys)
	for k := range keys {
		assert.Equal(t, "SET-4-SELL", k)
	}
}

type fakeCustody struct {
	err  error
	sent []string
}

func (f *fakeCustody) Send(_ context.Context, currency, address, _ string, amount decimal.Decimal, reference string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, currency+":"+address+":"+amount.String())
	return "0xtx-" + reference, nil
}

func TestCryptoAdapter(t *testing.T) {
	fc := &fakeCustody{}
	adapter := NewCryptoAdapter(fc)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }

	receipt, err := adapter.Submit(context.Background(), Transfer{
		Method:      models.MethodCrypto,
		Reference:   "SET-5-SELL",
		Amount:      decimal.NewFromInt(2),
		Currency:    "btc",
		Destination: "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xtx-SET-5-SELL", receipt.ReferenceID)
	assert.Equal(t, now.Add(time.Hour), receipt.EstimatedCompletion)
	assert.Equal(t, []string{"BTC:bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh:2"}, fc.sent)
}

func TestCryptoAdapterWrapsProviderErrors(t *testing.T) {
	adapter := NewCryptoAdapter(&fakeCustody{err: fmt.Errorf("node offline")})
	_, err := adapter.Submit(context.Background(), Transfer{
		Method: models.MethodCrypto, Reference: "R", Amount: decimal.NewFromInt(1), Currency: "ETH", Destination: "0xabc",
	})
	assert.True(t, errors.Is(err, errors.RailRejected))

	adapter = NewCryptoAdapter(&fakeCustody{err: errors.InsufficientBalance.Explain("hot wallet empty")})
	_, err = adapter.Submit(context.Background(), Transfer{
		Method: models.MethodCrypto, Reference: "R", Amount: decimal.NewFromInt(1), Currency: "ETH", Destination: "0xabc",
	})
	assert.True(t, errors.Is(err, errors.InsufficientBalance))
}

type failing struct{ calls int }

func (f *failing) Submit(context.Context, Transfer) (*Receipt, error) {
	f.calls++
	return nil, errors.RailRejected.Explain("down")
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	inner := &failing{}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(inner, BreakerConfig{MaxFailures: 3, Timeout: time.Minute, SuccessThreshold: 1, Name: "bank"}, zap.NewNop())
	b.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		_, err := b.Submit(context.Background(), wire("R"))
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Submit(context.Background(), wire("R"))
	assert.True(t, errors.Is(err, errors.RailRejected))
	assert.Equal(t, 3, inner.calls, "open circuit must not reach the rail")

	// Timeout elapsed: a half-open probe goes through and fails, reopening.
	clock = clock.Add(2 * time.Minute)
	_, err = b.Submit(context.Background(), wire("R"))
	require.Error(t, err)
	assert.Equal(t, 4, inner.calls)
	assert.Equal(t, StateOpen, b.State())

	// Swap in a healthy rail and probe again.
	b.next = NewSimulated(time.Minute)
	clock = clock.Add(2 * time.Minute)
	_, err = b.Submit(context.Background(), wire("R"))
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}
