package shared

import (
	"time"

	"github.com/google/uuid"
)

// ChainNotification is pushed to Kafka when the treasury address sees a new signature
type ChainNotification struct {
	Signature  string    `json:"signature"`
	Address    string    `json:"address"`
	Slot       uint64    `json:"slot,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// OperatorCommandType enumerates operator actions on payout jobs
type OperatorCommandType string

const (
	OperatorCommandApprove OperatorCommandType = "approve"
	OperatorCommandReject  OperatorCommandType = "reject"
)

// OperatorCommand is an approve/reject decision issued from the admin surface
type OperatorCommand struct {
	Command       OperatorCommandType `json:"command"`
	JobID         uuid.UUID           `json:"job_id"`
	AdminID       string              `json:"admin_id"`
	Reason        string              `json:"reason,omitempty"`
	CorrelationID string              `json:"correlation_id,omitempty"`
}

// DepositCreditedPayload is the outbox payload of EventDepositCredited
type DepositCreditedPayload struct {
	Signature    string `json:"signature"`
	UserID       string `json:"user_id"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	Slot         uint64 `json:"slot"`
}

// PayoutPayload is the outbox payload of withdrawal and payout events
type PayoutPayload struct {
	JobID        uuid.UUID  `json:"job_id"`
	WithdrawalID *uuid.UUID `json:"withdrawal_id,omitempty"`
	JobType      string     `json:"job_type"`
	UserID       string     `json:"user_id"`
	DestAddress  string     `json:"dest_address"`
	Amount       int64      `json:"amount"`
	Status       string     `json:"status"`
	TxSignature  string     `json:"tx_signature,omitempty"`
	Attempts     int        `json:"attempts,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Actor        string     `json:"actor,omitempty"`
}

// GameSettledPayload is the outbox payload of EventGameSettled
type GameSettledPayload struct {
	PlayID       uuid.UUID `json:"play_id"`
	UserID       string    `json:"user_id"`
	GameType     string    `json:"game_type"`
	BetAmount    int64     `json:"bet_amount"`
	Won          bool      `json:"won"`
	Payout       int64     `json:"payout"`
	HouseFee     int64     `json:"house_fee"`
	BalanceAfter int64     `json:"balance_after"`
	ServerCommit string    `json:"server_commit"`
}

// DiscrepancyPayload is the outbox payload of EventDiscrepancyFlagged
type DiscrepancyPayload struct {
	Kind     string `json:"kind"`
	Subject  string `json:"subject"`
	Expected int64  `json:"expected"`
	Observed int64  `json:"observed"`
	Delta    int64  `json:"delta"`
	Details  string `json:"details,omitempty"`
}
