package consumers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/onchain-casino-settlement/internal/config"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader hands out queued messages and then blocks until the context ends
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
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
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTestConsumer(reader MessageReader) *KafkaConsumer {
	return &KafkaConsumer{
		reader:     reader,
		logger:     slog.New(slog.NewTextHandler(os.Stdout, nil)),
		topic:      "chain-notifications",
		groupID:    "settlement",
		retryDelay: time.Millisecond,
		done:       make(chan struct{}),
	}
}

func TestNewKafkaConsumer(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := &config.KafkaConfig{
		Brokers:       "localhost:9092",
		ChainTopic:    "chain-notifications",
		ConsumerGroup: "settlement",
		MinBytes:      1024,
		MaxBytes:      10240,
		MaxWait:       time.Second,
	}

	consumer := NewKafkaConsumer(logger, cfg, cfg.ChainTopic)
	require.NotNil(t, consumer)
	require.NotNil(t, consumer.reader)
	assert.Equal(t, "chain-notifications", consumer.topic)
	assert.Equal(t, "settlement", consumer.groupID)
	require.NoError(t, consumer.Close())
}

func TestKafkaConsumer_Subscribe(t *testing.T) {
	reader := &fakeReader{
		fetchErrs: []error{errors.New("broker unavailable")},
		queue: []kafka.Message{
			{Offset: 1, Key: []byte("ok-1"), Value: []byte("a")},
			{Offset: 2, Key: []byte("fail"), Value: []byte("b")},
			{Offset: 3, Key: []byte("ok-2"), Value: []byte("c")},
		},
	}
	consumer := newTestConsumer(reader)

	var mu sync.Mutex
	var seen []string
	handler := func(_ context.Context, key, _ []byte) error {
		mu.Lock()
		seen = append(seen, string(key))
		mu.Unlock()
		if string(key) == "fail" {
			return errors.New("transient")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, consumer.Subscribe(ctx, handler))

	assert.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-consumer.Done():
	case <-time.After(time.Second):
		t.Fatal("consumer loop did not stop")
	}

	assert.Equal(t, []int64{1, 3}, reader.commits(), "failed message is not committed")
	mu.Lock()
	assert.Equal(t, []string{"ok-1", "fail", "ok-2"}, seen)
	mu.Unlock()
}

func TestKafkaConsumer_Close(t *testing.T) {
	t.Run("CloseWithNilReader", func(t *testing.T) {
		consumer := &KafkaConsumer{logger: slog.New(slog.NewJSONHandler(os.Stdout, nil))}
		require.NoError(t, consumer.Close())
	})

	t.Run("ClosesReader", func(t *testing.T) {
		reader := &fakeReader{}
		require.NoError(t, newTestConsumer(reader).Close())
		assert.True(t, reader.closed)
	})
}
