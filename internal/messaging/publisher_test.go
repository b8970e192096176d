package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEmitterRecords(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec, zap.NewNop())

	em.Emit(context.Background(), TopicDeals, "OTC-1", "deal.created", map[string]string{"id": "OTC-1"})
	em.Emit(context.Background(), TopicDeals, "OTC-1", "deal.matched", nil)

	all := rec.Events("")
	require.Len(t, all, 2)
	assert.Equal(t, TopicDeals, all[0].Topic)
	assert.Equal(t, "OTC-1", all[0].Key)
	assert.NotEmpty(t, all[0].Event.ID)
	assert.Len(t, rec.Events("deal.matched"), 1)
}

func TestEmitterSwallowsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rec := &Recorder{Err: errors.New("broker down")}
	em := NewEmitter(rec, zap.New(core))

	assert.NotPanics(t, func() {
		em.Emit(context.Background(), TopicCustody, "WDR-1", "withdrawal.broadcasted", nil)
	})
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "withdrawal.broadcasted", logs.All()[0].ContextMap()["event_type"])
}

func TestNilEmitterIsSafe(t *testing.T) {
	var em *Emitter
	assert.NotPanics(t, func() { em.Emit(context.Background(), TopicDeals, "k", "t", nil) })
}

func TestKafkaPublisherWriterConfig(t *testing.T) {
	p := NewKafkaPublisher([]string{"broker-a:9092", "broker-b:9092"}, "desk.")
	defer p.Close()

	assert.Equal(t, "desk.", p.prefix)
	assert.Equal(t, kafka.RequireOne, p.writer.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	assert.Equal(t, "broker-a:9092,broker-b:9092", p.writer.Addr.String())
}
