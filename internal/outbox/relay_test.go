package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memDrain replays Drain the way the store does: hand each pending event to
// send, stop the batch on the first failure, keep failed rows pending.
type memDrain struct {
	mu      sync.Mutex
	pending []Event
	drains  int
}

func (m *memDrain) remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *memDrain) Drain(ctx context.Context, limit int, send func(Event) error) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drains++
	sent := 0
	for sent < len(m.pending) && sent < limit {
		if err := send(m.pending[sent]); err != nil {
			m.pending = m.pending[sent:]
			return sent, err
		}
		sent++
	}
	m.pending = m.pending[sent:]
	return sent, nil
}

type rawPublisher struct {
	ids     []string
	failOn  string
	country map[string]string
}

func (p *rawPublisher) PublishRaw(ctx context.Context, body []byte, detailType, country, messageID string) error {
	if messageID == p.failOn {
		return errors.New("broker rejected publish")
	}
	p.ids = append(p.ids, messageID)
	if p.country == nil {
		p.country = make(map[string]string)
	}
	p.country[messageID] = country
	return nil
}

func pendingEvent(country string) Event {
	return Event{
		ID:        uuid.New(),
		EventType: "AppointmentCreated",
		Country:   country,
		Payload:   []byte(`{"detailType":"AppointmentCreated"}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestSweepPublishesPendingRows(t *testing.T) {
	events := []Event{pendingEvent("PE"), pendingEvent("CL")}
	store := &memDrain{pending: events}
	pub := &rawPublisher{}
	relay := NewRelay(store, pub, time.Minute, 100, zap.NewNop())

	sent, err := relay.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Empty(t, store.pending)

	// The outbox row id rides along as the broker message id so consumer
	// dedupe sees the same key on inline and relayed deliveries.
	require.Len(t, pub.ids, 2)
	assert.Equal(t, events[0].ID.String(), pub.ids[0])
	assert.Equal(t, "PE", pub.country[events[0].ID.String()])
	assert.Equal(t, "CL", pub.country[events[1].ID.String()])
}

func TestSweepStopsBatchOnPublishFailure(t *testing.T) {
	events := []Event{pendingEvent("PE"), pendingEvent("PE"), pendingEvent("CL")}
	store := &memDrain{pending: events}
	pub := &rawPublisher{failOn: events[1].ID.String()}
	relay := NewRelay(store, pub, time.Minute, 100, zap.NewNop())

	sent, err := relay.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, sent)

	// The failed row and everything behind it stay pending.
	require.Len(t, store.pending, 2)
	assert.Equal(t, events[1].ID, store.pending[0].ID)

	// Next sweep picks them up once the broker recovers.
	pub.failOn = ""
	sent, err = relay.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Empty(t, store.pending)
}

func TestSweepRespectsBatchSize(t *testing.T) {
	store := &memDrain{pending: []Event{pendingEvent("PE"), pendingEvent("PE"), pendingEvent("PE")}}
	relay := NewRelay(store, &rawPublisher{}, time.Minute, 2, zap.NewNop())

	sent, err := relay.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Len(t, store.pending, 1)
}

func TestRunSweepsImmediatelyAndStopsOnCancel(t *testing.T) {
	store := &memDrain{pending: []Event{pendingEvent("PE")}}
	relay := NewRelay(store, &rawPublisher{}, 50*time.Millisecond, 10, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	// The initial sweep happens before the first tick.
	assert.Eventually(t, func() bool { return store.remaining() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
	store.mu.Lock()
	drains := store.drains
	store.mu.Unlock()
	assert.GreaterOrEqual(t, drains, 1)
}
