package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

const agreementColumns = `
	id, kind, buyer_account, participants, schedule, period_term,
	grade_multipliers, streak_length, streak_bonus, completion_bonus,
	target_days, period_cap, min_participants, min_records, min_grade,
	committed_amount, released_amount, escrow_handle, rights_token_id,
	status, formation_deadline, window_end, settlement_deadline,
	created_at, updated_at
`

// CreateAgreement inserts a new agreement
func (r *PostgresRepository) CreateAgreement(ctx context.Context, a *models.Agreement) error {
	participants, err := json.Marshal(a.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	schedule, err := json.Marshal(a.Schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	var periodTerm []byte
	if a.PeriodTerm != nil {
		if periodTerm, err = json.Marshal(a.PeriodTerm); err != nil {
			return fmt.Errorf("failed to marshal period term: %w", err)
		}
	}
	multipliers, err := json.Marshal(a.GradeMultipliers)
	if err != nil {
		return fmt.Errorf("failed to marshal grade multipliers: %w", err)
	}

	query := `
		INSERT INTO agreements (` + agreementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt

	_, err = r.pool.Exec(ctx, query,
		a.ID, a.Kind, a.BuyerAccount, participants, schedule, periodTerm,
		multipliers, a.StreakLength, a.StreakBonus, a.CompletionBonus,
		a.TargetDays, a.PeriodCap, a.MinParticipants, a.MinRecords, a.MinGrade,
		a.CommittedAmount, a.ReleasedAmount, a.EscrowHandle, a.RightsTokenID,
		a.Status, a.FormationDeadline, a.WindowEnd, a.SettlementDeadline,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create agreement: %w", err)
	}

	return nil
}

// GetAgreement retrieves an agreement by ID
func (r *PostgresRepository) GetAgreement(ctx context.Context, id string) (*models.Agreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM agreements WHERE id = $1`
	a, err := scanAgreement(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgreementNotFound
		}
		return nil, fmt.Errorf("failed to get agreement: %w", err)
	}
	return a, nil
}

// ListAgreementsByStatus retrieves all agreements in the given status
func (r *PostgresRepository) ListAgreementsByStatus(ctx context.Context, status models.AgreementStatus) ([]*models.Agreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM agreements WHERE status = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list agreements: %w", err)
	}
	defer rows.Close()

	agreements := []*models.Agreement{}
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agreement: %w", err)
		}
		agreements = append(agreements, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return agreements, nil
}

// UpdateAgreementStatus performs a compare-and-set status transition
func (r *PostgresRepository) UpdateAgreementStatus(ctx context.Context, id string, from, to models.AgreementStatus) error {
	query := `
		UPDATE agreements
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.pool.Exec(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update agreement status: %w", err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM agreements WHERE id = $1)", id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check agreement existence: %w", err)
		}
		if !exists {
			return ErrAgreementNotFound
		}
		return ErrStatusConflict
	}

	return nil
}

// SetEscrowHandle records the escrow handle observed on the ledger
func (r *PostgresRepository) SetEscrowHandle(ctx context.Context, id, handle string) error {
	return r.setAgreementField(ctx, id, "escrow_handle", handle)
}

// SetRightsToken records the rights token minted for the agreement
func (r *PostgresRepository) SetRightsToken(ctx context.Context, id, tokenID string) error {
	return r.setAgreementField(ctx, id, "rights_token_id", tokenID)
}

func (r *PostgresRepository) setAgreementField(ctx context.Context, id, column, value string) error {
	query := fmt.Sprintf("UPDATE agreements SET %s = $1, updated_at = $2 WHERE id = $3", column)
	result, err := r.pool.Exec(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", column, err)
	}
	if result.RowsAffected() == 0 {
		return ErrAgreementNotFound
	}
	return nil
}

// AddReleased adds to the released total, enforcing the committed ceiling
// in the same statement so concurrent releases cannot overshoot.
func (r *PostgresRepository) AddReleased(ctx context.Context, id string, amount float64) error {
	query := `
		UPDATE agreements
		SET released_amount = released_amount + $1, updated_at = $2
		WHERE id = $3 AND released_amount + $1 <= committed_amount
	`

	result, err := r.pool.Exec(ctx, query, amount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to add released amount: %w", err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM agreements WHERE id = $1)", id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check agreement existence: %w", err)
		}
		if !exists {
			return ErrAgreementNotFound
		}
		return ErrCommitmentExceeded
	}

	return nil
}

// FindAgreementByEscrow retrieves the agreement holding the escrow handle
func (r *PostgresRepository) FindAgreementByEscrow(ctx context.Context, handle string) (*models.Agreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM agreements WHERE escrow_handle = $1`
	a, err := scanAgreement(r.pool.QueryRow(ctx, query, handle))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgreementNotFound
		}
		return nil, fmt.Errorf("failed to find agreement by escrow: %w", err)
	}
	return a, nil
}

// FindAgreementByToken retrieves the agreement holding the rights token
func (r *PostgresRepository) FindAgreementByToken(ctx context.Context, tokenID string) (*models.Agreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM agreements WHERE rights_token_id = $1`
	a, err := scanAgreement(r.pool.QueryRow(ctx, query, tokenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgreementNotFound
		}
		return nil, fmt.Errorf("failed to find agreement by token: %w", err)
	}
	return a, nil
}

// CreateRecord inserts a data record together with its quality assessment
func (r *PostgresRepository) CreateRecord(ctx context.Context, rec *models.DataRecord, assessment *models.QualityAssessment) error {
	values, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal values: %w", err)
	}
	recCtx, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO data_records (id, owner_account, agreement_id, kind, record_values, record_context, captured_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.Exec(ctx, query,
		rec.ID, rec.OwnerAccount, rec.AgreementID, rec.Kind,
		values, recCtx, rec.CapturedAt, rec.SubmittedAt,
	); err != nil {
		return fmt.Errorf("failed to create data record: %w", err)
	}

	if assessment != nil {
		query = `
			INSERT INTO quality_assessments (record_id, completeness, accuracy, timeliness, composite, grade)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, err := tx.Exec(ctx, query,
			rec.ID, assessment.Completeness, assessment.Accuracy,
			assessment.Timeliness, assessment.Composite, assessment.Grade,
		); err != nil {
			return fmt.Errorf("failed to create quality assessment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}

	return nil
}

// GetRecord retrieves a data record by ID
func (r *PostgresRepository) GetRecord(ctx context.Context, id string) (*models.DataRecord, error) {
	query := `
		SELECT id, owner_account, agreement_id, kind, record_values, record_context, captured_at, submitted_at
		FROM data_records
		WHERE id = $1
	`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get data record: %w", err)
	}
	return rec, nil
}

// GetAssessment retrieves the quality assessment for a record
func (r *PostgresRepository) GetAssessment(ctx context.Context, recordID string) (*models.QualityAssessment, error) {
	query := `
		SELECT record_id, completeness, accuracy, timeliness, composite, grade
		FROM quality_assessments
		WHERE record_id = $1
	`

	a := &models.QualityAssessment{}
	err := r.pool.QueryRow(ctx, query, recordID).Scan(
		&a.RecordID, &a.Completeness, &a.Accuracy, &a.Timeliness, &a.Composite, &a.Grade,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get quality assessment: %w", err)
	}

	return a, nil
}

// ListUnrewardedRecords retrieves records of an agreement with no reward yet
func (r *PostgresRepository) ListUnrewardedRecords(ctx context.Context, agreementID string) ([]*models.DataRecord, error) {
	query := `
		SELECT d.id, d.owner_account, d.agreement_id, d.kind, d.record_values, d.record_context, d.captured_at, d.submitted_at
		FROM data_records d
		LEFT JOIN reward_records rw ON rw.record_id = d.id AND rw.agreement_id = d.agreement_id
		WHERE d.agreement_id = $1 AND rw.id IS NULL
		ORDER BY d.submitted_at
	`

	rows, err := r.pool.Query(ctx, query, agreementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unrewarded records: %w", err)
	}
	defer rows.Close()

	records := []*models.DataRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// SubmissionDays retrieves the distinct UTC days the owner submitted on
func (r *PostgresRepository) SubmissionDays(ctx context.Context, agreementID, ownerAccount string) ([]string, error) {
	query := `
		SELECT DISTINCT to_char(captured_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day
		FROM data_records
		WHERE agreement_id = $1 AND owner_account = $2
		ORDER BY day
	`

	rows, err := r.pool.Query(ctx, query, agreementID, ownerAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to list submission days: %w", err)
	}
	defer rows.Close()

	days := []string{}
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan submission day: %w", err)
		}
		days = append(days, day)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return days, nil
}

// CreateReward inserts a new reward record. Unique indexes on the
// idempotency key and on (agreement_id, record_id) reject duplicates.
func (r *PostgresRepository) CreateReward(ctx context.Context, rw *models.RewardRecord) error {
	now := time.Now().UTC()
	if rw.CreatedAt.IsZero() {
		rw.CreatedAt = now
	}
	rw.UpdatedAt = rw.CreatedAt

	var recordID *string
	if rw.RecordID != "" {
		recordID = &rw.RecordID
	}

	query := `
		INSERT INTO reward_records (id, agreement_id, record_id, period, recipient, amount, grade,
			streak_bonus, completion_bonus, idempotency_key, outcome, failure_reason, ledger_tx_ref,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.pool.Exec(ctx, query,
		rw.ID, rw.AgreementID, recordID, rw.Period, rw.Recipient, rw.Amount, rw.Grade,
		rw.StreakBonus, rw.CompletionBonus, rw.IdempotencyKey, rw.Outcome, rw.FailureReason, rw.LedgerTxRef,
		rw.CreatedAt, rw.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReward
		}
		return fmt.Errorf("failed to create reward record: %w", err)
	}

	return nil
}

const rewardColumns = `
	id, agreement_id, COALESCE(record_id, ''), period, recipient, amount, grade,
	streak_bonus, completion_bonus, idempotency_key, outcome,
	COALESCE(failure_reason, ''), COALESCE(ledger_tx_ref, ''), created_at, updated_at
`

// GetRewardByKey retrieves a reward by its idempotency key
func (r *PostgresRepository) GetRewardByKey(ctx context.Context, idempotencyKey string) (*models.RewardRecord, error) {
	query := `SELECT ` + rewardColumns + ` FROM reward_records WHERE idempotency_key = $1`
	rw, err := scanReward(r.pool.QueryRow(ctx, query, idempotencyKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("failed to get reward by key: %w", err)
	}
	return rw, nil
}

// UpdateRewardOutcome performs a compare-and-set outcome transition
func (r *PostgresRepository) UpdateRewardOutcome(ctx context.Context, id string, from, to models.RewardOutcome, txRef, reason string) error {
	query := `
		UPDATE reward_records
		SET outcome = $1,
			ledger_tx_ref = COALESCE(NULLIF($2, ''), ledger_tx_ref),
			failure_reason = NULLIF($3, ''),
			updated_at = $4
		WHERE id = $5 AND outcome = $6
	`

	result, err := r.pool.Exec(ctx, query, to, txRef, reason, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update reward outcome: %w", err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM reward_records WHERE id = $1)", id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check reward existence: %w", err)
		}
		if !exists {
			return ErrRewardNotFound
		}
		return ErrStatusConflict
	}

	return nil
}

// ListRewardsByAgreement retrieves all rewards for an agreement
func (r *PostgresRepository) ListRewardsByAgreement(ctx context.Context, agreementID string) ([]*models.RewardRecord, error) {
	query := `SELECT ` + rewardColumns + ` FROM reward_records WHERE agreement_id = $1 ORDER BY created_at`
	return r.queryRewards(ctx, query, agreementID)
}

// ListRewardsByOutcome retrieves rewards for an agreement in a given outcome
func (r *PostgresRepository) ListRewardsByOutcome(ctx context.Context, agreementID string, outcome models.RewardOutcome) ([]*models.RewardRecord, error) {
	query := `SELECT ` + rewardColumns + ` FROM reward_records WHERE agreement_id = $1 AND outcome = $2 ORDER BY created_at`
	return r.queryRewards(ctx, query, agreementID, outcome)
}

func (r *PostgresRepository) queryRewards(ctx context.Context, query string, args ...interface{}) ([]*models.RewardRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	defer rows.Close()

	rewards := []*models.RewardRecord{}
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rewards = append(rewards, rw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return rewards, nil
}

// SumConfirmedForPeriod sums sent and confirmed reward amounts for a
// recipient within a settlement period
func (r *PostgresRepository) SumConfirmedForPeriod(ctx context.Context, agreementID, recipient, period string) (float64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM reward_records
		WHERE agreement_id = $1 AND recipient = $2 AND period = $3
			AND outcome IN ('sent', 'confirmed')
	`

	var total float64
	if err := r.pool.QueryRow(ctx, query, agreementID, recipient, period).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum period rewards: %w", err)
	}

	return total, nil
}

// CompletionPaid reports whether a completion bonus was already granted
func (r *PostgresRepository) CompletionPaid(ctx context.Context, agreementID, recipient string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM reward_records
			WHERE agreement_id = $1 AND recipient = $2
				AND completion_bonus > 0 AND outcome != 'failed'
		)
	`

	var paid bool
	if err := r.pool.QueryRow(ctx, query, agreementID, recipient).Scan(&paid); err != nil {
		return false, fmt.Errorf("failed to check completion bonus: %w", err)
	}

	return paid, nil
}

// CreateGrant inserts a new access grant
func (r *PostgresRepository) CreateGrant(ctx context.Context, g *models.AccessGrant) error {
	kinds, err := json.Marshal(g.Kinds)
	if err != nil {
		return fmt.Errorf("failed to marshal grant kinds: %w", err)
	}

	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO access_grants (id, token_id, agreement_id, resource_id, kinds, not_before, not_after, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.pool.Exec(ctx, query,
		g.ID, g.TokenID, g.AgreementID, g.ResourceID, kinds,
		g.NotBefore, g.NotAfter, g.Status, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create access grant: %w", err)
	}

	return nil
}

// GetGrantByToken retrieves the grant bound to a rights token
func (r *PostgresRepository) GetGrantByToken(ctx context.Context, tokenID string) (*models.AccessGrant, error) {
	query := `
		SELECT id, token_id, agreement_id, resource_id, kinds, not_before, not_after, status, created_at
		FROM access_grants
		WHERE token_id = $1
	`
	g, err := scanGrant(r.pool.QueryRow(ctx, query, tokenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to get access grant: %w", err)
	}
	return g, nil
}

// UpdateGrantStatus sets the grant status
func (r *PostgresRepository) UpdateGrantStatus(ctx context.Context, id string, status models.GrantStatus) error {
	result, err := r.pool.Exec(ctx, "UPDATE access_grants SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to update grant status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// ListGrantsByAgreement retrieves all grants issued under an agreement
func (r *PostgresRepository) ListGrantsByAgreement(ctx context.Context, agreementID string) ([]*models.AccessGrant, error) {
	query := `
		SELECT id, token_id, agreement_id, resource_id, kinds, not_before, not_after, status, created_at
		FROM access_grants
		WHERE agreement_id = $1
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, agreementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list access grants: %w", err)
	}
	defer rows.Close()

	grants := []*models.AccessGrant{}
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access grant: %w", err)
		}
		grants = append(grants, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return grants, nil
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgreement(row rowScanner) (*models.Agreement, error) {
	a := &models.Agreement{}
	var participants, schedule, multipliers []byte
	var periodTerm []byte

	if err := row.Scan(
		&a.ID, &a.Kind, &a.BuyerAccount, &participants, &schedule, &periodTerm,
		&multipliers, &a.StreakLength, &a.StreakBonus, &a.CompletionBonus,
		&a.TargetDays, &a.PeriodCap, &a.MinParticipants, &a.MinRecords, &a.MinGrade,
		&a.CommittedAmount, &a.ReleasedAmount, &a.EscrowHandle, &a.RightsTokenID,
		&a.Status, &a.FormationDeadline, &a.WindowEnd, &a.SettlementDeadline,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(participants, &a.Participants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}
	if err := json.Unmarshal(schedule, &a.Schedule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	if len(periodTerm) > 0 {
		a.PeriodTerm = &models.RewardTerm{}
		if err := json.Unmarshal(periodTerm, a.PeriodTerm); err != nil {
			return nil, fmt.Errorf("failed to unmarshal period term: %w", err)
		}
	}
	if len(multipliers) > 0 {
		if err := json.Unmarshal(multipliers, &a.GradeMultipliers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal grade multipliers: %w", err)
		}
	}

	return a, nil
}

func scanRecord(row rowScanner) (*models.DataRecord, error) {
	rec := &models.DataRecord{}
	var values, recCtx []byte

	if err := row.Scan(
		&rec.ID, &rec.OwnerAccount, &rec.AgreementID, &rec.Kind,
		&values, &recCtx, &rec.CapturedAt, &rec.SubmittedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(values, &rec.Values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record values: %w", err)
	}
	if len(recCtx) > 0 {
		if err := json.Unmarshal(recCtx, &rec.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record context: %w", err)
		}
	}

	return rec, nil
}

func scanReward(row rowScanner) (*models.RewardRecord, error) {
	rw := &models.RewardRecord{}
	if err := row.Scan(
		&rw.ID, &rw.AgreementID, &rw.RecordID, &rw.Period, &rw.Recipient, &rw.Amount, &rw.Grade,
		&rw.StreakBonus, &rw.CompletionBonus, &rw.IdempotencyKey, &rw.Outcome,
		&rw.FailureReason, &rw.LedgerTxRef, &rw.CreatedAt, &rw.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return rw, nil
}

func scanGrant(row rowScanner) (*models.AccessGrant, error) {
	g := &models.AccessGrant{}
	var kinds []byte

	if err := row.Scan(
		&g.ID, &g.TokenID, &g.AgreementID, &g.ResourceID, &kinds,
		&g.NotBefore, &g.NotAfter, &g.Status, &g.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(kinds, &g.Kinds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant kinds: %w", err)
	}

	return g, nil
}
