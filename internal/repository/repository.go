package repository

import (
	"context"
	"errors"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

var (
	// ErrAgreementNotFound is returned when an agreement does not exist
	ErrAgreementNotFound = errors.New("agreement not found")
	// ErrRecordNotFound is returned when a data record does not exist
	ErrRecordNotFound = errors.New("data record not found")
	// ErrRewardNotFound is returned when a reward record does not exist
	ErrRewardNotFound = errors.New("reward record not found")
	// ErrGrantNotFound is returned when an access grant does not exist
	ErrGrantNotFound = errors.New("access grant not found")

	// ErrStatusConflict is returned when a conditional update finds a
	// different prior status than expected. The original writer is
	// authoritative; callers treat this as a no-op.
	ErrStatusConflict = errors.New("status conflict on conditional update")

	// ErrDuplicateReward is returned when a reward with the same
	// idempotency key (or the same agreement/record pair) already exists.
	ErrDuplicateReward = errors.New("duplicate reward record")

	// ErrCommitmentExceeded is returned when a release would push the
	// released total past the committed total.
	ErrCommitmentExceeded = errors.New("release exceeds committed amount")
)

// Repository defines the persistence interface for the settlement core.
// All mutations of agreement status and reward outcome are conditional
// (compare-and-set) so concurrent duplicate transitions are rejected
// rather than silently overwritten.
type Repository interface {
	// Agreements
	CreateAgreement(ctx context.Context, a *models.Agreement) error
	GetAgreement(ctx context.Context, id string) (*models.Agreement, error)
	ListAgreementsByStatus(ctx context.Context, status models.AgreementStatus) ([]*models.Agreement, error)
	// UpdateAgreementStatus transitions id from the expected prior status to
	// the new one; returns ErrStatusConflict if the prior status differs.
	UpdateAgreementStatus(ctx context.Context, id string, from, to models.AgreementStatus) error
	SetEscrowHandle(ctx context.Context, id, handle string) error
	SetRightsToken(ctx context.Context, id, tokenID string) error
	// AddReleased atomically adds amount to the released total, enforcing
	// released + amount <= committed; returns ErrCommitmentExceeded otherwise.
	AddReleased(ctx context.Context, id string, amount float64) error
	FindAgreementByEscrow(ctx context.Context, handle string) (*models.Agreement, error)
	FindAgreementByToken(ctx context.Context, tokenID string) (*models.Agreement, error)

	// Data records and their assessments
	CreateRecord(ctx context.Context, rec *models.DataRecord, assessment *models.QualityAssessment) error
	GetRecord(ctx context.Context, id string) (*models.DataRecord, error)
	GetAssessment(ctx context.Context, recordID string) (*models.QualityAssessment, error)
	// ListUnrewardedRecords returns records of an agreement that have no
	// reward record yet, oldest first.
	ListUnrewardedRecords(ctx context.Context, agreementID string) ([]*models.DataRecord, error)
	// SubmissionDays returns the distinct UTC days (YYYY-MM-DD, ascending)
	// on which the owner submitted records under the agreement.
	SubmissionDays(ctx context.Context, agreementID, ownerAccount string) ([]string, error)

	// Reward records
	// CreateReward inserts a new reward; returns ErrDuplicateReward when
	// the idempotency key or the (agreement, record) pair already exists.
	CreateReward(ctx context.Context, r *models.RewardRecord) error
	GetRewardByKey(ctx context.Context, idempotencyKey string) (*models.RewardRecord, error)
	// UpdateRewardOutcome transitions a reward from the expected outcome to
	// the new one; returns ErrStatusConflict on mismatch.
	UpdateRewardOutcome(ctx context.Context, id string, from, to models.RewardOutcome, txRef, reason string) error
	ListRewardsByAgreement(ctx context.Context, agreementID string) ([]*models.RewardRecord, error)
	ListRewardsByOutcome(ctx context.Context, agreementID string, outcome models.RewardOutcome) ([]*models.RewardRecord, error)
	SumConfirmedForPeriod(ctx context.Context, agreementID, recipient, period string) (float64, error)
	// CompletionPaid reports whether a completion bonus was already granted
	// to the recipient under the agreement.
	CompletionPaid(ctx context.Context, agreementID, recipient string) (bool, error)

	// Access grants
	CreateGrant(ctx context.Context, g *models.AccessGrant) error
	GetGrantByToken(ctx context.Context, tokenID string) (*models.AccessGrant, error)
	UpdateGrantStatus(ctx context.Context, id string, status models.GrantStatus) error
	ListGrantsByAgreement(ctx context.Context, agreementID string) ([]*models.AccessGrant, error)

	Close() error
}
