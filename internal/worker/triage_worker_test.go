package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/observability"
)

type fakeRunner struct {
	mu      sync.Mutex
	runs    []string
	err     error
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (f *fakeRunner) Run(_ context.Context, ticketID string) error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.runs = append(f.runs, ticketID)
	f.mu.Unlock()
	return f.err
}

type fakeSource struct {
	mu    sync.Mutex
	acked []string
}

func (f *fakeSource) Read(context.Context) ([]events.Delivery, error) { return nil, nil }

func (f *fakeSource) Ack(_ context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func delivery(id, ticketID string, attempt int64) events.Delivery {
	return events.Delivery{
		MessageID: id,
		Attempt:   attempt,
		Event:     events.Event{Type: events.EventTicketCreated, TicketID: ticketID},
	}
}

func TestProcessBatch_AcksSuccess(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	source := &fakeSource{}
	w := NewTriageWorker(runner, source, TriageWorkerConfig{Concurrency: 2, MaxDeliveries: 3}, nil, observability.NewMetrics())

	w.ProcessBatch(context.Background(), []events.Delivery{delivery("1-0", "t-1", 1), delivery("2-0", "t-2", 1)})

	assert.ElementsMatch(t, []string{"t-1", "t-2"}, runner.runs)
	assert.ElementsMatch(t, []string{"1-0", "2-0"}, source.acked)
}

func TestProcessBatch_FailureLeftPendingUntilMaxDeliveries(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("db down")}
	source := &fakeSource{}
	w := NewTriageWorker(runner, source, TriageWorkerConfig{Concurrency: 1, MaxDeliveries: 3}, nil, nil)

	w.ProcessBatch(context.Background(), []events.Delivery{delivery("1-0", "t-1", 2)})
	assert.Empty(t, source.acked)

	w.ProcessBatch(context.Background(), []events.Delivery{delivery("1-0", "t-1", 3)})
	assert.Equal(t, []string{"1-0"}, source.acked)
}

func TestProcessBatch_DropsUndecodable(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	source := &fakeSource{}
	w := NewTriageWorker(runner, source, TriageWorkerConfig{}, nil, nil)

	w.ProcessBatch(context.Background(), []events.Delivery{{MessageID: "9-0", Attempt: 1, Err: errors.New("bad json")}})
	assert.Empty(t, runner.runs)
	assert.Equal(t, []string{"9-0"}, source.acked)
}

func TestProcessBatch_RespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 20 * time.Millisecond}
	w := NewTriageWorker(runner, &fakeSource{}, TriageWorkerConfig{Concurrency: 2}, nil, nil)

	var batch []events.Delivery
	for i := 0; i < 6; i++ {
		batch = append(batch, delivery("id", "t", 1))
	}
	w.ProcessBatch(context.Background(), batch)

	assert.Len(t, runner.runs, 6)
	assert.LessOrEqual(t, runner.maxSeen.Load(), int32(2))
}

func TestHandleEvent_InlineDispatch(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	w := NewTriageWorker(runner, nil, TriageWorkerConfig{}, nil, nil)
	dispatcher := events.NewInMemoryDispatcher(nil)
	w.Register(dispatcher)

	ticket := &domain.Ticket{ID: "t-42", Title: "x", Description: "y", CreatedBy: "u"}
	require.NoError(t, dispatcher.Publish(context.Background(), events.NewTicketCreated(ticket, events.Actor{Type: domain.ActorTypeUser})))
	assert.Equal(t, []string{"t-42"}, runner.runs)
}

func TestStart_ConsumesStreamUntilCanceled(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	consumer, err := events.NewConsumer(client, events.ConsumerConfig{
		Prefix:        "wk",
		ConsumerGroup: "g",
		ConsumerID:    "c1",
		BlockTimeout:  20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, consumer.Initialize(context.Background()))

	publisher := events.NewStreamPublisher(client, "wk")
	ticket := &domain.Ticket{ID: "t-7", Title: "x", Description: "y", CreatedBy: "u"}
	require.NoError(t, publisher.Publish(context.Background(), events.NewTicketCreated(ticket, events.Actor{Type: domain.ActorTypeUser})))

	runner := &fakeRunner{}
	w := NewTriageWorker(runner, consumer, TriageWorkerConfig{Concurrency: 2, MaxDeliveries: 3}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		pending, err := client.XPending(context.Background(), events.StreamName("wk"), "g").Result()
		if err != nil || pending.Count != 0 {
			return false
		}
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.runs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, []string{"t-7"}, runner.runs)
}
