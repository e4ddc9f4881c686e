package producers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockKafkaWriter mocks KafkaWriter interface
type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestDLQProducer_PublishToDLQ(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("SuccessfulPublishToDLQ", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &DLQProducer{logger: testLogger(), writer: mockWriter, dlqTopic: "settlement-dlq", now: func() time.Time { return fixed }}

		original := []byte(`{"signature":""}`)
		mockWriter.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || string(msgs[0].Key) != "sig-key" {
				return false
			}
			var payload dlqMessage
			if err := json.Unmarshal(msgs[0].Value, &payload); err != nil {
				return false
			}
			return payload.OriginalValue == string(original) &&
				payload.DLQReason == "missing signature" &&
				payload.Timestamp == fixed.Format(time.RFC3339Nano) &&
				string(msgs[0].Headers[0].Value) == "missing signature"
		})).Return(nil).Once()

		require.NoError(t, producer.PublishToDLQ(ctx, "sig-key", original, "missing signature"))
		mockWriter.AssertExpectations(t)
	})

	t.Run("WriterError", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &DLQProducer{logger: testLogger(), writer: mockWriter, dlqTopic: "settlement-dlq"}
		writerErr := errors.New("kafka DLQ write error")
		mockWriter.On("WriteMessages", ctx, mock.AnythingOfType("[]kafka.Message")).Return(writerErr).Once()

		err := producer.PublishToDLQ(ctx, "k", []byte("v"), "reason")
		assert.ErrorIs(t, err, writerErr)
		mockWriter.AssertExpectations(t)
	})

	t.Run("Disabled", func(t *testing.T) {
		var producer *DLQProducer
		assert.ErrorIs(t, producer.PublishToDLQ(ctx, "k", []byte("v"), "reason"), ErrDLQDisabled)
		assert.NoError(t, producer.Close())
	})
}

func TestDLQProducer_Close(t *testing.T) {
	tests := []struct {
		name     string
		closeErr error
	}{
		{name: "SuccessfulClose"},
		{name: "CloseError", closeErr: errors.New("kafka DLQ close error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockWriter := new(MockKafkaWriter)
			producer := &DLQProducer{logger: testLogger(), writer: mockWriter, dlqTopic: "settlement-dlq"}
			mockWriter.On("Close").Return(tt.closeErr).Once()

			err := producer.Close()
			if tt.closeErr != nil {
				assert.ErrorIs(t, err, tt.closeErr)
			} else {
				assert.NoError(t, err)
			}
			mockWriter.AssertExpectations(t)
		})
	}
}
