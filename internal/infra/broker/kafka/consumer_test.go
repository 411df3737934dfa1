package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGroup struct {
	sarama.ConsumerGroup
	results []error
	calls   atomic.Int32
}

func (g *scriptedGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	n := int(g.calls.Add(1)) - 1
	if n < len(g.results) {
		return g.results[n]
	}
	<-ctx.Done()
	return nil
}

func (g *scriptedGroup) Errors() <-chan error { return nil }

func TestConsumerRejoinsAfterFailedSession(t *testing.T) {
	g := &scriptedGroup{results: []error{errors.New("coordinator moved"), nil}}
	c := newConsumer(g, ConsumerConfig{Handler: Relay{}, Backoff: []time.Duration{time.Millisecond}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, []string{"t"}) }()

	require.Eventually(t, func() bool { return g.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumerStopsWhenGroupClosed(t *testing.T) {
	g := &scriptedGroup{results: []error{sarama.ErrClosedConsumerGroup}}
	c := newConsumer(g, ConsumerConfig{Handler: Relay{}})
	assert.NoError(t, c.Run(context.Background(), []string{"t"}))
	assert.EqualValues(t, 1, g.calls.Load())
}

func TestNewConsumerRequiresHandler(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"})
	assert.Error(t, err)
}
