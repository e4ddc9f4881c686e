package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/outbox"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outboxRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "event_id", "aggregate_id", "event_type", "payload", "status", "attempts", "created_at", "last_attempt_at"})
}

func TestOutboxRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &OutboxRepository{querier: mock, logger: newTestLogger()}
	msg, err := outbox.NewMessage(shared.EventDepositCredited, "sigA", map[string]any{"amount": 1000})
	require.NoError(t, err)
	query := regexp.QuoteMeta("INSERT INTO settlement_outbox")

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(msg.EventID, "sigA", shared.EventDepositCredited, msg.Payload, shared.OutboxStatusPending, 0, msg.CreatedAt).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

		require.NoError(t, repo.Create(ctx, msg))
		assert.Equal(t, int64(11), msg.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		mock.ExpectQuery(query).WillReturnError(errors.New("db error"))

		err := repo.Create(ctx, msg)
		assert.Contains(t, err.Error(), "failed to create outbox message")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOutboxRepository_GetPending(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &OutboxRepository{querier: mock, logger: newTestLogger()}
	now := time.Now()
	eventID := uuid.New()
	payload := json.RawMessage(`{"amount":1000}`)

	mock.ExpectQuery(regexp.QuoteMeta("FROM settlement_outbox WHERE status = $1 ORDER BY created_at ASC")).
		WithArgs(shared.OutboxStatusPending, 10).
		WillReturnRows(outboxRows().AddRow(int64(1), eventID, "sigA", shared.EventDepositCredited, payload, shared.OutboxStatusPending, 0, now, (*time.Time)(nil)))

	messages, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, eventID, messages[0].EventID)
	assert.JSONEq(t, `{"amount":1000}`, string(messages[0].Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &OutboxRepository{querier: mock, logger: newTestLogger()}
	query := regexp.QuoteMeta("UPDATE settlement_outbox SET status = $1")

	mock.ExpectExec(query).WithArgs(shared.OutboxStatusProcessed, pgxmock.AnyArg(), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	assert.NoError(t, repo.UpdateStatus(ctx, 1, shared.OutboxStatusProcessed))

	mock.ExpectExec(query).WithArgs(shared.OutboxStatusProcessed, pgxmock.AnyArg(), int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, 2, shared.OutboxStatusProcessed), outbox.ErrMessageNotFound{ID: 2})

	mock.ExpectExec(regexp.QuoteMeta("SET attempts = attempts + 1")).WithArgs(pgxmock.AnyArg(), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	assert.NoError(t, repo.IncrementAttempts(ctx, 1))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_GetByEventID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &OutboxRepository{querier: mock, logger: newTestLogger()}
	eventID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM settlement_outbox WHERE event_id = $1")).WithArgs(eventID).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetByEventID(ctx, eventID)
	assert.ErrorIs(t, err, outbox.ErrMessageNotFound{})
	assert.NoError(t, mock.ExpectationsWereMet())
}
