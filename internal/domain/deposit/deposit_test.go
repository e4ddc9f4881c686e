package deposit

import (
	"testing"
	"time"

	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemo_RoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	memo := NewMemo("UserA", now)
	assert.Equal(t, "deposit_UserA_1700000000", memo)

	userID, ts, err := ParseMemo(memo)
	require.NoError(t, err)
	assert.Equal(t, "UserA", userID)
	assert.True(t, ts.Equal(now))
}

func TestParseMemo_Unparsable(t *testing.T) {
	tests := []struct {
		name string
		memo string
	}{
		{"empty", ""},
		{"wrong prefix", "withdraw_UserA_1700000000"},
		{"missing timestamp", "deposit_UserA"},
		{"extra segment", "deposit_UserA_1_2"},
		{"bad timestamp", "deposit_UserA_yesterday"},
		{"negative timestamp", "deposit_UserA_-5"},
		{"bad user", "deposit_User0_1700000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseMemo(tt.memo)
			assert.ErrorIs(t, err, shared.ErrUnparsableMemo)
		})
	}
}
