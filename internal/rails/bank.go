package rails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BankConfig configures the bank API client.
type BankConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxAttempts       int
}

// BankAdapter submits wire, SWIFT and Fedwire transfers to the bank API.
// The transfer reference is sent as the Idempotency-Key so retries are safe.
type BankAdapter struct {
	cfg     BankConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	backoff time.Duration
}

type bankTransferRequest struct {
	Reference   string `json:"reference"`
	Method      string `json:"method"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
	Memo        string `json:"memo,omitempty"`
}

type bankTransferResponse struct {
	ID                  string    `json:"id"`
	Status              string    `json:"status"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
	Error               string    `json:"error,omitempty"`
}

func NewBankAdapter(cfg BankConfig, logger *zap.Logger) *BankAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &BankAdapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
		backoff: 200 * time.Millisecond,
	}
}

func (b *BankAdapter) Submit(ctx context.Context, t Transfer) (*Receipt, error) {
	body, err := json.Marshal(bankTransferRequest{
		Reference:   t.Reference,
		Method:      string(t.Method),
		Amount:      t.Amount.String(),
		Currency:    t.Currency,
		Destination: t.Destination,
		Memo:        t.Memo,
	})
	if err != nil {
		return nil, errors.Invalid.Explain("encode bank transfer").Wrap(err)
	}

	var lastErr error
	delay := b.backoff
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		receipt, retry, err := b.post(ctx, t.Reference, body)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if !retry || attempt == b.cfg.MaxAttempts {
			break
		}
		b.logger.Debug("retrying bank transfer",
			zap.String("reference", t.Reference),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, errors.RailRejected.Explain("bank transfer %s cancelled", t.Reference).Wrap(ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

// post performs one attempt. retry reports whether the failure is transient.
func (b *BankAdapter) post(ctx context.Context, reference string, body []byte) (*Receipt, bool, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, false, errors.RailRejected.Explain("bank rate limiter: %v", err).Wrap(err)
	}

	url := strings.TrimRight(b.cfg.BaseURL, "/") + "/v1/transfers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, errors.RailRejected.Explain("build bank request").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", reference)
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, true, errors.RailRejected.Explain("bank API unreachable").Wrap(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, errors.RailRejected.Explain("read bank response").Wrap(err)
	}

	var out bankTransferResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return nil, false, errors.RailRejected.Explain("decode bank response").Wrap(err)
		}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, errors.RailRejected.
			Explain("bank API returned %d", resp.StatusCode).
			WithDetail("status", fmt.Sprint(resp.StatusCode))
	}
	if resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, false, errors.RailRejected.
			Explain("bank rejected transfer %s: %s", reference, msg).
			WithDetail("status", fmt.Sprint(resp.StatusCode))
	}

	receipt := &Receipt{ReferenceID: out.ID, EstimatedCompletion: out.EstimatedCompletion.UTC()}
	if receipt.ReferenceID == "" {
		receipt.ReferenceID = reference
	}
	return receipt, false, nil
}
