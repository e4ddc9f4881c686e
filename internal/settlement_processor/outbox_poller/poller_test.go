package outbox_poller

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/onchain-casino-settlement/internal/config"
	"github.com/onchain-casino-settlement/internal/data/memory"
	"github.com/onchain-casino-settlement/internal/domain/outbox"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishEvent(ctx context.Context, event *outbox.Event) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockEventPublisher) Close() error {
	return m.Called().Error(0)
}

type fixture struct {
	store     *memory.Store
	publisher *MockEventPublisher
	poller    *Poller
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	store := memory.NewStore()
	publisher := new(MockEventPublisher)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	relay := NewEventRelay(store.Outbox(), store.Events(), publisher, logger)
	cfg := &config.OutboxConfig{BatchSize: 10, MaxRetryAttempts: maxAttempts}
	return &fixture{
		store:     store,
		publisher: publisher,
		poller:    NewPoller(cfg, store.Outbox(), relay, nil, logger),
	}
}

func (f *fixture) enqueue(t *testing.T, eventType shared.EventType, aggregate string) *outbox.Message {
	t.Helper()
	msg, err := outbox.NewMessage(eventType, aggregate, shared.DepositCreditedPayload{Signature: "sigA", UserID: aggregate, Amount: 1_000_000_000})
	require.NoError(t, err)
	require.NoError(t, f.store.Outbox().Create(context.Background(), msg))
	return msg
}

func (f *fixture) status(t *testing.T, msg *outbox.Message) *outbox.Message {
	t.Helper()
	got, err := f.store.Outbox().GetByEventID(context.Background(), msg.EventID)
	require.NoError(t, err)
	return got
}

func TestPoller_RelaysInOrder(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	first := f.enqueue(t, shared.EventDepositCredited, "UserA")
	second := f.enqueue(t, shared.EventGameSettled, "UserA")

	var order []string
	f.publisher.On("PublishEvent", ctx, mock.AnythingOfType("*outbox.Event")).
		Run(func(args mock.Arguments) {
			order = append(order, string(args.Get(1).(*outbox.Event).EventType))
		}).Return(nil).Twice()

	require.NoError(t, f.poller.PollOnce(ctx))

	assert.Equal(t, []string{string(shared.EventDepositCredited), string(shared.EventGameSettled)}, order)
	assert.Equal(t, shared.OutboxStatusProcessed, f.status(t, first).Status)
	assert.Equal(t, shared.OutboxStatusProcessed, f.status(t, second).Status)

	mirrored, err := f.store.Events().GetByEventID(ctx, first.EventID)
	require.NoError(t, err)
	assert.Equal(t, "UserA", mirrored.AggregateID)

	require.NoError(t, f.poller.PollOnce(ctx))
	f.publisher.AssertNumberOfCalls(t, "PublishEvent", 2)
}

func TestPoller_RetriesThenFails(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	msg := f.enqueue(t, shared.EventPayoutCompleted, "job-1")
	f.publisher.On("PublishEvent", ctx, mock.Anything).Return(errors.New("leader not available"))

	require.NoError(t, f.poller.PollOnce(ctx))
	got := f.status(t, msg)
	assert.Equal(t, shared.OutboxStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	require.NoError(t, f.poller.PollOnce(ctx))
	got = f.status(t, msg)
	assert.Equal(t, shared.OutboxStatusFailedToPublish, got.Status)
	assert.Equal(t, 2, got.Attempts)

	require.NoError(t, f.poller.PollOnce(ctx))
	f.publisher.AssertNumberOfCalls(t, "PublishEvent", 2)

	// The audit mirror was written before the bus failed; a later replay does not duplicate it
	events, err := f.store.Events().ListByAggregate(ctx, "job-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPoller_FailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	bad := f.enqueue(t, shared.EventPayoutFailed, "job-2")
	good := f.enqueue(t, shared.EventDepositCredited, "UserB")

	f.publisher.On("PublishEvent", ctx, mock.MatchedBy(func(e *outbox.Event) bool { return e.EventID == bad.EventID })).
		Return(errors.New("message too large")).Once()
	f.publisher.On("PublishEvent", ctx, mock.MatchedBy(func(e *outbox.Event) bool { return e.EventID == good.EventID })).
		Return(nil).Once()

	require.NoError(t, f.poller.PollOnce(ctx))
	assert.Equal(t, shared.OutboxStatusPending, f.status(t, bad).Status)
	assert.Equal(t, shared.OutboxStatusProcessed, f.status(t, good).Status)
	f.publisher.AssertExpectations(t)
}
