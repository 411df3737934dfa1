package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appoutbox "campusmarket/internal/app/outbox"
)

type fakeQueue struct {
	mu     sync.Mutex
	docs   []*EventDocument
	sent   []string
	failed map[string]string
}

func (q *fakeQueue) Claim(_ context.Context, _ string) (*EventDocument, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.docs) == 0 {
		return nil, nil
	}
	doc := q.docs[0]
	q.docs = q.docs[1:]
	return doc, nil
}

func (q *fakeQueue) MarkSent(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, id)
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id string, _ time.Time, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failed == nil {
		q.failed = map[string]string{}
	}
	q.failed[id] = errMsg
	return nil
}

type published struct {
	topic, key string
	payload    []byte
	headers    map[string]string
}

type fakeProducer struct {
	mu   sync.Mutex
	fail bool
	out  []published
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.out = append(p.out, published{topic, key, payload, headers})
	return nil
}

func doc(id, name string) *EventDocument {
	return &EventDocument{
		ID:         id,
		Name:       name,
		Payload:    []byte(`{"conversation_id":"c1"}`),
		OccurredAt: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		Aggregate:  "c1",
		Headers:    map[string]string{"traceparent": "00-abc-def-01"},
	}
}

func TestProcessOnceShipsEnvelope(t *testing.T) {
	q := &fakeQueue{docs: []*EventDocument{doc("e1", "message.sent")}}
	p := &fakeProducer{}
	w := &Worker{Store: q, Producer: p, TopicPrefix: "dev.", ID: "w1"}

	shipped, err := w.processOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, shipped)
	assert.Equal(t, []string{"e1"}, q.sent)
	require.Len(t, p.out, 1)
	assert.Equal(t, "dev.message.events.v1", p.out[0].topic)
	assert.Equal(t, "c1", p.out[0].key)
	assert.Equal(t, contentType, p.out[0].headers["content-type"])

	rec, err := DecodeEnvelope(p.out[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "e1", rec.ID)
	assert.Equal(t, "message.sent", rec.Name)
	assert.Equal(t, "c1", rec.Aggregate)
	assert.JSONEq(t, `{"conversation_id":"c1"}`, string(rec.Payload))
	assert.Equal(t, "00-abc-def-01", rec.Headers["traceparent"])

	shipped, err = w.processOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, shipped)
}

func TestProcessOnceMarksFailure(t *testing.T) {
	q := &fakeQueue{docs: []*EventDocument{doc("e1", "conversation.created")}}
	w := &Worker{Store: q, Producer: &fakeProducer{fail: true}, Backoff: []time.Duration{time.Second}}

	shipped, err := w.processOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, shipped)
	assert.Empty(t, q.sent)
	assert.Equal(t, "broker down", q.failed["e1"])
}

func TestEncodeEnvelopeRejectsNonJSON(t *testing.T) {
	_, _, err := EncodeEnvelope(appoutbox.EventRecord{ID: "x", Name: "message.sent", Payload: []byte("{")}, "test")
	assert.ErrorIs(t, err, ErrBadEnvelope)

	_, err = DecodeEnvelope([]byte(`{"id":"x"}`))
	assert.ErrorIs(t, err, ErrBadEnvelope)
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "listing.events.v1", TopicFor("", "listing.published"))
	assert.Equal(t, "p.plain.events.v1", TopicFor("p.", "plain"))
}

func TestRunRequiresDependencies(t *testing.T) {
	assert.ErrorIs(t, (&Worker{}).Run(context.Background()), ErrWorkerNotConfigured)
}

func TestNextRetryUsesLastBackoffStep(t *testing.T) {
	w := &Worker{Backoff: []time.Duration{time.Second, time.Minute}}
	before := time.Now()
	assert.WithinDuration(t, before.Add(time.Minute), w.nextRetry(7), time.Second)
	assert.WithinDuration(t, before.Add(time.Second), w.nextRetry(0), time.Second)
}
