package models

import "time"

// RewardOutcome is the delivery state of one computed payout.
type RewardOutcome string

const (
	OutcomePending   RewardOutcome = "pending"
	OutcomeSent      RewardOutcome = "sent"
	OutcomeConfirmed RewardOutcome = "confirmed"
	OutcomeFailed    RewardOutcome = "failed"
)

// RewardRecord is one computed-and-attempted payout. It is tied to exactly
// one DataRecord for bilateral agreements, or to one participant-period for
// pooled agreements. Never deleted; it forms the audit trail.
type RewardRecord struct {
	ID          string `json:"id"`
	AgreementID string `json:"agreement_id"`

	// RecordID is set for bilateral rewards; empty for pooled ones.
	RecordID string `json:"record_id,omitempty"`
	// Period is the accounting period (YYYY-MM-DD) the reward belongs to.
	Period string `json:"period"`

	Recipient       string  `json:"recipient"`
	Amount          float64 `json:"amount"`
	Grade           Grade   `json:"grade"`
	StreakBonus     float64 `json:"streak_bonus,omitempty"`
	CompletionBonus float64 `json:"completion_bonus,omitempty"`

	// IdempotencyKey is the stable settlement attempt identifier used to
	// suppress duplicate sends across retries and replayed events.
	IdempotencyKey string `json:"idempotency_key"`

	Outcome       RewardOutcome `json:"outcome"`
	FailureReason string        `json:"failure_reason,omitempty"`
	LedgerTxRef   string        `json:"ledger_tx_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RewardHistory is the explicit history input to the reward calculator.
// It is assembled by the caller so the calculator stays pure.
type RewardHistory struct {
	// ConsecutiveDays is the submission streak length including the current day.
	ConsecutiveDays int
	// DaysSubmitted is the total distinct days with accepted submissions.
	DaysSubmitted int
	// CompletionPaid is true once the one-time completion bonus has been granted.
	CompletionPaid bool
	// ConfirmedThisPeriod is the sum of rewards already confirmed for the
	// recipient within the current period, for cap enforcement.
	ConfirmedThisPeriod float64
}
