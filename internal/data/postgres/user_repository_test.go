package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/user"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func userRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"address", "balance", "reserved_balance", "pending_withdrawal", "referred_by", "flagged", "flag_reason", "created_at", "updated_at"})
}

func TestUserRepository_EnsureExists(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &UserRepository{querier: mock, logger: newTestLogger()}
	query := regexp.QuoteMeta("INSERT INTO users (address) VALUES ($1) ON CONFLICT (address) DO NOTHING")

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs("UserA").WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.EnsureExists(ctx, "UserA"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		dbErr := errors.New("db error")
		mock.ExpectExec(query).WithArgs("UserA").WillReturnError(dbErr)

		err := repo.EnsureExists(ctx, "UserA")
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), "failed to ensure user exists")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_GetByAddress(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &UserRepository{querier: mock, logger: newTestLogger()}
	query := regexp.QuoteMeta("FROM users WHERE address = $1")
	now := time.Now()
	referrer := "UserB"

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("UserA").
			WillReturnRows(userRows().AddRow("UserA", int64(500), int64(100), int64(100), &referrer, false, "", now, now))

		u, err := repo.GetByAddress(ctx, "UserA")
		require.NoError(t, err)
		assert.Equal(t, "UserA", u.Address)
		assert.Equal(t, int64(500), u.Balance)
		assert.Equal(t, int64(400), u.Available())
		require.NotNil(t, u.ReferredBy)
		assert.Equal(t, "UserB", *u.ReferredBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("UserC").WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetByAddress(ctx, "UserC")
		assert.ErrorIs(t, err, user.ErrUserNotFound{Address: "UserC"})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_ApplyDelta(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &UserRepository{querier: mock, logger: newTestLogger()}
	query := regexp.QuoteMeta("UPDATE users SET balance = balance + $2")

	tests := []struct {
		name        string
		delta       int64
		release     int64
		rows        *pgxmock.Rows
		dbErr       error
		wantBalance int64
		wantErr     error
	}{
		{
			name:        "credit",
			delta:       1000,
			rows:        pgxmock.NewRows([]string{"balance"}).AddRow(int64(1500)),
			wantBalance: 1500,
		},
		{
			name:        "settle reservation",
			delta:       -200,
			release:     200,
			rows:        pgxmock.NewRows([]string{"balance"}).AddRow(int64(300)),
			wantBalance: 300,
		},
		{
			name:    "guard rejects overdraft",
			delta:   -5000,
			dbErr:   pgx.ErrNoRows,
			wantErr: user.ErrBalanceGuard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := mock.ExpectQuery(query).WithArgs("UserA", tt.delta, tt.release)
			if tt.dbErr != nil {
				exp.WillReturnError(tt.dbErr)
			} else {
				exp.WillReturnRows(tt.rows)
			}

			balance, err := repo.ApplyDelta(ctx, "UserA", tt.delta, tt.release)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantBalance, balance)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_ReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &UserRepository{querier: mock, logger: newTestLogger()}
	reserve := regexp.QuoteMeta("SET reserved_balance = reserved_balance + $2")
	release := regexp.QuoteMeta("SET reserved_balance = reserved_balance - $2")

	mock.ExpectExec(reserve).WithArgs("UserA", int64(100)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	assert.NoError(t, repo.Reserve(ctx, "UserA", 100))

	mock.ExpectExec(reserve).WithArgs("UserA", int64(1_000_000)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.Reserve(ctx, "UserA", 1_000_000), user.ErrBalanceGuard)

	mock.ExpectExec(release).WithArgs("UserA", int64(100)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	assert.NoError(t, repo.Release(ctx, "UserA", 100))

	mock.ExpectExec(release).WithArgs("UserA", int64(100)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.Release(ctx, "UserA", 100), user.ErrBalanceGuard)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_SetReferrer(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &UserRepository{querier: mock, logger: newTestLogger()}
	query := regexp.QuoteMeta("UPDATE users SET referred_by = $2")

	assert.ErrorIs(t, repo.SetReferrer(ctx, "UserA", "UserA"), user.ErrSelfReferral)

	mock.ExpectExec(query).WithArgs("UserA", "UserB").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	assert.NoError(t, repo.SetReferrer(ctx, "UserA", "UserB"))

	mock.ExpectExec(query).WithArgs("UserA", "UserC").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.SetReferrer(ctx, "UserA", "UserC"), user.ErrAlreadyReferred)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Flag(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &UserRepository{querier: mock, logger: newTestLogger()}
	query := regexp.QuoteMeta("UPDATE users SET flagged = TRUE")

	mock.ExpectExec(query).WithArgs("UserA", "multi-account").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	assert.NoError(t, repo.Flag(ctx, "UserA", "multi-account"))

	mock.ExpectExec(query).WithArgs("Nobody", "multi-account").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.Flag(ctx, "Nobody", "multi-account"), user.ErrUserNotFound{})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_ListWithPendingActivity(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &UserRepository{querier: mock, logger: newTestLogger()}
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users u WHERE u.reserved_balance > 0")).WithArgs(50).
		WillReturnRows(userRows().
			AddRow("UserA", int64(500), int64(100), int64(100), (*string)(nil), false, "", now, now).
			AddRow("UserB", int64(0), int64(0), int64(0), (*string)(nil), true, "abuse", now, now))

	users, err := repo.ListWithPendingActivity(ctx, 50)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Nil(t, users[0].ReferredBy)
	assert.True(t, users[1].Flagged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_WithTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	repo := &UserRepository{querier: mock, logger: newTestLogger()}
	txRepo, ok := repo.WithTx(tx).(*UserRepository)
	require.True(t, ok)
	assert.Equal(t, tx, txRepo.querier)
	assert.Equal(t, repo.logger, txRepo.logger)
}
