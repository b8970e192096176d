package settlement

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader(values ...[]byte) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(values))}
	for i, v := range values {
		r.msgs <- kafka.Message{Offset: int64(i), Value: v}
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func (s *SettlementTestSuite) confirmation(c Confirmation) []byte {
	b, err := json.Marshal(c)
	s.Require().NoError(err)
	return b
}

func (s *SettlementTestSuite) processing() *models.Settlement {
	st, err := s.orch.InitiateSettlement(s.ctx, s.request(s.matchedDeal()))
	s.Require().NoError(err)
	st, err = s.orch.ProcessSettlement(s.ctx, st.ID)
	s.Require().NoError(err)
	return st
}

func (s *SettlementTestSuite) TestConsumerConfirmsBothSides() {
	st := s.processing()
	reader := newFakeReader(
		s.confirmation(Confirmation{SettlementID: st.ID, Side: SideBuyer, Status: RailConfirmed, Reference: st.BuyerReference}),
		[]byte("{not json"),
		s.confirmation(Confirmation{SettlementID: st.ID, Side: SideSeller, Status: RailConfirmed, Reference: st.SellerReference}),
		s.confirmation(Confirmation{SettlementID: "STL-missing", Side: SideSeller, Status: RailConfirmed}),
	)
	consumer := NewConfirmationConsumer(s.orch, reader, zap.NewNop())

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	s.Eventually(func() bool { return reader.commits() == 4 }, 2*time.Second, 10*time.Millisecond,
		"every message is committed, including the ones dropped")
	cancel()
	s.NoError(<-done)
	s.True(reader.closed)

	got, err := s.orch.GetSettlement(s.ctx, st.ID)
	s.Require().NoError(err)
	s.Equal(models.SettlementConfirming, got.Status)
	s.Len(s.events.Events(EventConfirmed), 1)
}

func (s *SettlementTestSuite) TestConsumerAppliesRailFailure() {
	st := s.processing()
	consumer := NewConfirmationConsumer(s.orch, newFakeReader(), zap.NewNop())

	s.Error(consumer.Apply(s.ctx, Confirmation{SettlementID: st.ID, Side: SideBuyer, Status: "bounced"}))
	s.Error(consumer.Apply(s.ctx, Confirmation{Side: SideBuyer, Status: RailConfirmed}))

	s.Require().NoError(consumer.Apply(s.ctx, Confirmation{SettlementID: st.ID, Side: SideBuyer, Status: RailFailed}))
	got, err := s.orch.GetSettlement(s.ctx, st.ID)
	s.Require().NoError(err)
	s.Equal(models.SettlementFailed, got.Status)
	s.Contains(got.FailureReason, "buyer side")
}
