package rails

import (
	"context"
	"sync"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
)

// Simulated is an in-memory rail. It is idempotent per reference and can be
// told to reject given references or destinations.
type Simulated struct {
	mu       sync.Mutex
	delay    time.Duration
	receipts map[string]*Receipt
	rejects  map[string]string
	calls    []Transfer
}

func NewSimulated(settleAfter time.Duration) *Simulated {
	return &Simulated{
		delay:    settleAfter,
		receipts: make(map[string]*Receipt),
		rejects:  make(map[string]string),
	}
}

// RejectWhen makes every transfer whose reference or destination equals key fail.
func (s *Simulated) RejectWhen(key, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[key] = reason
}

func (s *Simulated) Submit(_ context.Context, t Transfer) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, t)

	if r, ok := s.receipts[t.Reference]; ok {
		return r, nil
	}
	for _, key := range []string{t.Reference, t.Destination} {
		if reason, ok := s.rejects[key]; ok {
			return nil, errors.RailRejected.Explain("%s rejected %s: %s", t.Method, t.Reference, reason)
		}
	}
	r := &Receipt{
		ReferenceID:         "SIM-" + t.Reference,
		EstimatedCompletion: time.Now().UTC().Add(s.delay),
	}
	s.receipts[t.Reference] = r
	return r, nil
}

// Calls returns every submission seen, duplicates included.
func (s *Simulated) Calls() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transfer(nil), s.calls...)
}

// Accepted returns the number of distinct accepted references.
func (s *Simulated) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}
