package models

import "time"

// AgreementKind distinguishes bilateral subscriptions from pooled agreements.
type AgreementKind string

const (
	AgreementBilateral AgreementKind = "bilateral"
	AgreementPooled    AgreementKind = "pooled"
)

// AgreementStatus is the settlement lifecycle state of an agreement.
// Transitions are owned exclusively by the orchestrator.
type AgreementStatus string

const (
	StatusForming          AgreementStatus = "forming"
	StatusActive           AgreementStatus = "active"
	StatusSettling         AgreementStatus = "settling"
	StatusCompleted        AgreementStatus = "completed"
	StatusPartiallySettled AgreementStatus = "partially_settled"
	StatusCancelled        AgreementStatus = "cancelled"
)

// Terminal reports whether s is a terminal lifecycle state.
func (s AgreementStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Participant is one individual enrolled in an agreement.
// Share is the normalized contribution share for pooled agreements
// (unused for bilateral agreements, where a single participant holds 1.0).
type Participant struct {
	AccountID string  `json:"account_id"`
	Share     float64 `json:"share"`
	Committed bool    `json:"committed"`
}

// RewardTerm is the reward schedule entry for one record kind.
type RewardTerm struct {
	BaseAmount float64 `json:"base_amount"`
	MinGrade   Grade   `json:"min_grade"`
}

// Agreement is the unit of settlement. Terms are immutable after creation;
// status, escrow handle, and released amount are orchestrator-owned.
type Agreement struct {
	ID           string                    `json:"id"`
	Kind         AgreementKind             `json:"kind"`
	BuyerAccount string                    `json:"buyer_account"`
	Participants []Participant             `json:"participants"`
	Schedule     map[RecordKind]RewardTerm `json:"schedule"`

	// PeriodTerm is the base schedule for pooled participant-period rewards,
	// which are not tied to a single record kind.
	PeriodTerm *RewardTerm `json:"period_term,omitempty"`

	// Reward tuning, per agreement rather than process-wide.
	GradeMultipliers map[Grade]float64 `json:"grade_multipliers"`
	StreakLength     int               `json:"streak_length"`     // consecutive days per streak bonus
	StreakBonus      float64           `json:"streak_bonus"`      // amount added each time the streak threshold is crossed
	CompletionBonus  float64           `json:"completion_bonus"`  // one-time bonus at target duration
	TargetDays       int               `json:"target_days"`       // agreement target duration in days
	PeriodCap        float64           `json:"period_cap"`        // max confirmed rewards per recipient per period

	// Settlement preconditions.
	MinParticipants int   `json:"min_participants"` // formation threshold
	MinRecords      int   `json:"min_records"`      // bilateral early-finish precondition
	MinGrade        Grade `json:"min_grade"`        // bilateral early-finish precondition

	CommittedAmount float64 `json:"committed_amount"`
	ReleasedAmount  float64 `json:"released_amount"`

	EscrowHandle  *string `json:"escrow_handle,omitempty"`  // nil until the ledger confirms escrow creation
	RightsTokenID *string `json:"rights_token_id,omitempty"`

	Status AgreementStatus `json:"status"`

	FormationDeadline  time.Time  `json:"formation_deadline"`
	WindowEnd          time.Time  `json:"window_end"` // end of the active collection window
	SettlementDeadline time.Time  `json:"settlement_deadline"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CommittedParticipants counts participants that have committed.
func (a *Agreement) CommittedParticipants() int {
	n := 0
	for _, p := range a.Participants {
		if p.Committed {
			n++
		}
	}
	return n
}

// ParticipantShare returns the contribution share for an account, or 0 if the
// account is not enrolled.
func (a *Agreement) ParticipantShare(accountID string) float64 {
	for _, p := range a.Participants {
		if p.AccountID == accountID {
			return p.Share
		}
	}
	return 0
}

// AgreementStatusResponse is the read-path view of an agreement's settlement
// state, including failed reward IDs for operator reconciliation.
type AgreementStatusResponse struct {
	Agreement     *Agreement `json:"agreement"`
	FailedRewards []string   `json:"failed_rewards,omitempty"`
}
