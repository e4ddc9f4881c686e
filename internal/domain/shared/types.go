package shared

// OutboxStatus defines message publishing states
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusProcessed       OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPublish OutboxStatus = "FAILED_TO_PUBLISH"
)

// EventType names a settlement event relayed through the outbox
type EventType string

const (
	EventDepositCredited    EventType = "deposit.credited"
	EventWithdrawalCreated  EventType = "withdrawal.requested"
	EventPayoutApproval     EventType = "payout.pending_approval"
	EventPayoutCompleted    EventType = "payout.completed"
	EventPayoutFailed       EventType = "payout.failed"
	EventPayoutRejected     EventType = "payout.rejected"
	EventGameSettled        EventType = "game.settled"
	EventDiscrepancyFlagged EventType = "discrepancy.flagged"
)
