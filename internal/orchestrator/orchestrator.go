// Package orchestrator drives agreements through their settlement
// lifecycle. It consumes correlated ledger events and scheduled
// settlement runs, serialized per agreement, and is the only component
// that requests fund release from the ledger.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/distributor"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/ledger"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/logging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/messaging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/metrics"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/repository"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/reward"
)

// Sender fans a reward batch out to the ledger. Satisfied by
// distributor.Distributor.
type Sender interface {
	Distribute(ctx context.Context, agreement *models.Agreement, rewards []*models.RewardRecord) []distributor.Outcome
}

// Orchestrator owns the agreement state machine.
type Orchestrator struct {
	repo      repository.Repository
	gateway   ledger.Gateway
	sender    Sender
	publisher messaging.Publisher
	retry     ledger.RetryPolicy
	logger    *logging.Logger
	locks     *keyedLocks
	now       func() time.Time
}

func New(repo repository.Repository, gateway ledger.Gateway, sender Sender, publisher messaging.Publisher, retry ledger.RetryPolicy, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		gateway:   gateway,
		sender:    sender,
		publisher: publisher,
		retry:     retry,
		logger:    logger,
		locks:     newKeyedLocks(),
		now:       time.Now,
	}
}

// CreateAgreement registers a new agreement in forming state and, when
// the buyer committed funds, requests the escrow on the ledger. The
// agreement only becomes active once the escrow_created event confirms
// funding.
func (o *Orchestrator) CreateAgreement(ctx context.Context, a *models.Agreement) error {
	if a.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate agreement id: %w", err)
		}
		a.ID = id.String()
	}
	a.Status = models.StatusForming

	if err := o.repo.CreateAgreement(ctx, a); err != nil {
		return fmt.Errorf("failed to persist agreement: %w", err)
	}

	log := o.logger.With(logging.AgreementID(a.ID))
	if a.CommittedAmount > 0 {
		payee := a.BuyerAccount
		if len(a.Participants) > 0 {
			payee = a.Participants[0].AccountID
		}
		var handle string
		err := o.retry.Do(ctx, func(ctx context.Context) error {
			var cErr error
			handle, cErr = o.gateway.CreateEscrow(ctx, a.BuyerAccount, payee, a.CommittedAmount, a.ID)
			return cErr
		})
		if err != nil {
			return fmt.Errorf("failed to create escrow for %s: %w", a.ID, err)
		}
		if err := o.repo.SetEscrowHandle(ctx, a.ID, handle); err != nil {
			return fmt.Errorf("failed to record escrow handle: %w", err)
		}
		a.EscrowHandle = &handle
		log.Info("escrow requested", logging.EscrowID(handle), logging.Amount(a.CommittedAmount))
	}

	log.Info("agreement created", "kind", string(a.Kind))
	return nil
}

// HandleEvent applies a deduplicated, correlated ledger event. Duplicate
// deliveries past the dedup window are harmless: every effect is gated
// on a persisted idempotency check.
func (o *Orchestrator) HandleEvent(ctx context.Context, agreement *models.Agreement, event *models.LedgerEvent) error {
	unlock := o.locks.Lock(agreement.ID)
	defer unlock()

	// Reload under the lock; the correlator's copy may be stale.
	current, err := o.repo.GetAgreement(ctx, agreement.ID)
	if err != nil {
		return fmt.Errorf("failed to load agreement %s: %w", agreement.ID, err)
	}

	log := o.logger.With(logging.AgreementID(current.ID), logging.EventID(event.ID))

	switch event.Kind {
	case models.EventEscrowCreated:
		return o.onEscrowCreated(ctx, current, event, log)
	case models.EventTokenOfferAccepted:
		if !event.Final {
			log.Debug("ignoring non-final token transfer event")
			return nil
		}
		return o.onTokenTransferred(ctx, current, event, log)
	case models.EventEscrowFinished:
		if !event.Final {
			log.Debug("ignoring non-final escrow finish event")
			return nil
		}
		return o.onEscrowFinished(ctx, current, event, log)
	case models.EventEscrowCancelled:
		return o.onEscrowCancelled(ctx, current, log)
	case models.EventTokenBurned:
		return o.onTokenBurned(ctx, event, log)
	default:
		log.Warn("unhandled ledger event kind", "kind", string(event.Kind))
		return nil
	}
}

func (o *Orchestrator) onEscrowCreated(ctx context.Context, a *models.Agreement, event *models.LedgerEvent, log *logging.Logger) error {
	if a.EscrowHandle == nil || *a.EscrowHandle != event.EscrowHandle {
		if err := o.repo.SetEscrowHandle(ctx, a.ID, event.EscrowHandle); err != nil {
			return fmt.Errorf("failed to record escrow handle: %w", err)
		}
	}

	// Funding observed: an agreement that met its commitment threshold
	// becomes active.
	if a.Status == models.StatusForming && a.CommittedParticipants() >= a.MinParticipants {
		if err := o.transition(ctx, a.ID, models.StatusForming, models.StatusActive, log); err != nil {
			return err
		}
	}
	log.Info("escrow funded", logging.EscrowID(event.EscrowHandle), logging.Amount(event.Amount))
	return nil
}

// onTokenTransferred implements the escrow-gated release protocol. The
// transfer reported by the event stream is never trusted on its own: the
// orchestrator independently queries token custody through the gateway
// before requesting the escrow finish.
func (o *Orchestrator) onTokenTransferred(ctx context.Context, a *models.Agreement, event *models.LedgerEvent, log *logging.Logger) error {
	var owner string
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		var qErr error
		owner, qErr = o.gateway.QueryTokenOwner(ctx, event.TokenID)
		return qErr
	})
	if err != nil {
		return fmt.Errorf("failed to verify token custody: %w", err)
	}
	if owner != a.BuyerAccount {
		log.Warn("token transfer event does not match ledger custody",
			logging.TokenID(event.TokenID), "owner", owner)
		return nil
	}

	if err := o.ensureGrant(ctx, a, event.TokenID, log); err != nil {
		return err
	}

	if a.EscrowHandle == nil {
		log.Warn("token transferred before escrow handle was recorded")
		return nil
	}
	return o.requestEscrowFinish(ctx, a, event.TokenID, log)
}

// ensureGrant creates the access grant for the buyer exactly once per
// rights token.
func (o *Orchestrator) ensureGrant(ctx context.Context, a *models.Agreement, tokenID string, log *logging.Logger) error {
	if _, err := o.repo.GetGrantByToken(ctx, tokenID); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrGrantNotFound) {
		return fmt.Errorf("failed to look up grant: %w", err)
	}

	kinds := make([]models.RecordKind, 0, len(a.Schedule))
	for kind := range a.Schedule {
		kinds = append(kinds, kind)
	}

	resource := a.BuyerAccount
	if len(a.Participants) == 1 {
		resource = a.Participants[0].AccountID
	}

	grant := &models.AccessGrant{
		ID:          uuid.NewString(),
		TokenID:     tokenID,
		AgreementID: a.ID,
		ResourceID:  resource,
		Kinds:       kinds,
		NotBefore:   o.now().UTC(),
		NotAfter:    a.WindowEnd,
		Status:      models.GrantActive,
	}
	if err := o.repo.CreateGrant(ctx, grant); err != nil {
		return fmt.Errorf("failed to create access grant: %w", err)
	}

	log.Info("access grant created", logging.TokenID(tokenID), "grant_id", grant.ID)
	return nil
}

func escrowFinishKey(agreementID string) string {
	return fmt.Sprintf("escrow:%s:finish", agreementID)
}

// requestEscrowFinish issues the escrow finish at most once. The attempt
// is persisted before the gateway call; a replayed event finds the
// sent/confirmed attempt and is a no-op.
func (o *Orchestrator) requestEscrowFinish(ctx context.Context, a *models.Agreement, proof string, log *logging.Logger) error {
	key := escrowFinishKey(a.ID)

	attempt, err := o.repo.GetRewardByKey(ctx, key)
	switch {
	case err == nil:
		switch attempt.Outcome {
		case models.OutcomeSent, models.OutcomeConfirmed:
			log.Debug("escrow finish already requested", logging.Outcome(string(attempt.Outcome)))
			return nil
		case models.OutcomeFailed:
			// A failed attempt is retried through the same record.
			if err := o.repo.UpdateRewardOutcome(ctx, attempt.ID, models.OutcomeFailed, models.OutcomePending, "", ""); err != nil {
				if errors.Is(err, repository.ErrStatusConflict) {
					return nil
				}
				return fmt.Errorf("failed to reset escrow finish attempt: %w", err)
			}
		}
		// A pending attempt means an earlier run stopped before the
		// gateway call resolved; re-issue the finish against the same
		// escrow handle.
	case errors.Is(err, repository.ErrRewardNotFound):
		recipient := a.BuyerAccount
		if len(a.Participants) > 0 {
			recipient = a.Participants[0].AccountID
		}
		attempt = &models.RewardRecord{
			ID:             uuid.NewString(),
			AgreementID:    a.ID,
			Period:         "escrow",
			Recipient:      recipient,
			Amount:         a.CommittedAmount - a.ReleasedAmount,
			IdempotencyKey: key,
			Outcome:        models.OutcomePending,
		}
		if err := o.repo.CreateReward(ctx, attempt); err != nil {
			if errors.Is(err, repository.ErrDuplicateReward) {
				return nil
			}
			return fmt.Errorf("failed to persist escrow finish attempt: %w", err)
		}
	default:
		return fmt.Errorf("failed to look up escrow finish attempt: %w", err)
	}

	var conf ledger.Confirmation
	err = o.retry.Do(ctx, func(ctx context.Context) error {
		var fErr error
		conf, fErr = o.gateway.FinishEscrow(ctx, *a.EscrowHandle, proof)
		return fErr
	})
	if err != nil {
		reason := "escrow finish failed"
		if uErr := o.repo.UpdateRewardOutcome(ctx, attempt.ID, models.OutcomePending, models.OutcomeFailed, "", reason); uErr != nil && !errors.Is(uErr, repository.ErrStatusConflict) {
			log.Error("failed to record escrow finish failure", logging.Error(uErr))
		}
		return fmt.Errorf("escrow finish for %s: %w", a.ID, err)
	}

	if err := o.repo.UpdateRewardOutcome(ctx, attempt.ID, models.OutcomePending, models.OutcomeSent, conf.TxRef, ""); err != nil && !errors.Is(err, repository.ErrStatusConflict) {
		return fmt.Errorf("failed to mark escrow finish sent: %w", err)
	}

	log.Info("escrow finish requested", logging.EscrowID(*a.EscrowHandle), "tx_ref", conf.TxRef)
	return nil
}

func (o *Orchestrator) onEscrowFinished(ctx context.Context, a *models.Agreement, event *models.LedgerEvent, log *logging.Logger) error {
	if event.Amount > 0 {
		if err := o.repo.AddReleased(ctx, a.ID, event.Amount); err != nil {
			if errors.Is(err, repository.ErrCommitmentExceeded) {
				log.Error("ledger released more than committed", logging.Amount(event.Amount))
			} else {
				return fmt.Errorf("failed to record released amount: %w", err)
			}
		}
	}

	// Confirm the originating attempt by its key, never by re-deriving
	// intent from the event.
	attempt, err := o.repo.GetRewardByKey(ctx, escrowFinishKey(a.ID))
	if err == nil {
		if uErr := o.repo.UpdateRewardOutcome(ctx, attempt.ID, models.OutcomeSent, models.OutcomeConfirmed, event.ID, ""); uErr == nil {
			metrics.RewardsByOutcome.WithLabelValues(string(models.OutcomeConfirmed)).Inc()
			metrics.RewardAmount.Add(attempt.Amount)
		} else if !errors.Is(uErr, repository.ErrStatusConflict) {
			return fmt.Errorf("failed to confirm escrow finish: %w", uErr)
		}
	} else if !errors.Is(err, repository.ErrRewardNotFound) {
		return fmt.Errorf("failed to match escrow finish confirmation: %w", err)
	}

	log.Info("escrow finish confirmed", logging.Amount(event.Amount))
	return o.maybeComplete(ctx, a.ID, log)
}

func (o *Orchestrator) onEscrowCancelled(ctx context.Context, a *models.Agreement, log *logging.Logger) error {
	if a.Status.Terminal() {
		return nil
	}
	if err := o.transition(ctx, a.ID, a.Status, models.StatusCancelled, log); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil
		}
		return err
	}
	if err := o.revokeGrants(ctx, a.ID); err != nil {
		return err
	}
	log.Info("agreement cancelled after escrow cancellation")
	return nil
}

func (o *Orchestrator) onTokenBurned(ctx context.Context, event *models.LedgerEvent, log *logging.Logger) error {
	grant, err := o.repo.GetGrantByToken(ctx, event.TokenID)
	if err != nil {
		if errors.Is(err, repository.ErrGrantNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up grant: %w", err)
	}
	if grant.Status != models.GrantActive {
		return nil
	}
	if err := o.repo.UpdateGrantStatus(ctx, grant.ID, models.GrantRevoked); err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	log.Info("access grant revoked after token burn", logging.TokenID(event.TokenID))
	return nil
}

// RunSettlement is the scheduled entry point: it advances the state
// machine, computes rewards for unrewarded records, and dispatches the
// pending batch. Safe to re-invoke for the same agreement and period.
func (o *Orchestrator) RunSettlement(ctx context.Context, agreementID, period string) error {
	unlock := o.locks.Lock(agreementID)
	defer unlock()

	a, err := o.repo.GetAgreement(ctx, agreementID)
	if err != nil {
		return fmt.Errorf("failed to load agreement %s: %w", agreementID, err)
	}
	log := o.logger.With(logging.AgreementID(a.ID), logging.Period(period))

	if a.Status.Terminal() {
		metrics.SettlementRuns.WithLabelValues("noop").Inc()
		return nil
	}

	switch a.Status {
	case models.StatusForming:
		metrics.SettlementRuns.WithLabelValues("noop").Inc()
		return o.checkFormationLocked(ctx, a, log)
	case models.StatusActive:
		if err := o.maybeEnterSettling(ctx, a, log); err != nil {
			metrics.SettlementRuns.WithLabelValues("error").Inc()
			return err
		}
		a, err = o.repo.GetAgreement(ctx, agreementID)
		if err != nil {
			return fmt.Errorf("failed to reload agreement %s: %w", agreementID, err)
		}
	}

	if err := o.computeRewards(ctx, a, period, log); err != nil {
		metrics.SettlementRuns.WithLabelValues("error").Inc()
		return err
	}
	if err := o.dispatchPending(ctx, a, log); err != nil {
		metrics.SettlementRuns.WithLabelValues("error").Inc()
		return err
	}

	if a.Status == models.StatusSettling || a.Status == models.StatusPartiallySettled {
		if err := o.maybeComplete(ctx, a.ID, log); err != nil {
			metrics.SettlementRuns.WithLabelValues("error").Inc()
			return err
		}
	}

	metrics.SettlementRuns.WithLabelValues("ok").Inc()
	return nil
}

// maybeEnterSettling moves an active agreement into settling when its
// window has ended or, for bilateral agreements, when the early-finish
// preconditions are already satisfied.
func (o *Orchestrator) maybeEnterSettling(ctx context.Context, a *models.Agreement, log *logging.Logger) error {
	now := o.now()
	if now.After(a.WindowEnd) {
		return o.transition(ctx, a.ID, models.StatusActive, models.StatusSettling, log)
	}

	if a.Kind == models.AgreementBilateral && a.MinRecords > 0 {
		eligible, err := o.countEligibleRecords(ctx, a)
		if err != nil {
			return err
		}
		if eligible >= a.MinRecords {
			log.Info("early finish preconditions met", "eligible_records", eligible)
			return o.transition(ctx, a.ID, models.StatusActive, models.StatusSettling, log)
		}
	}
	return nil
}

func (o *Orchestrator) countEligibleRecords(ctx context.Context, a *models.Agreement) (int, error) {
	count := 0

	rewards, err := o.repo.ListRewardsByAgreement(ctx, a.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list rewards: %w", err)
	}
	for _, rw := range rewards {
		if rw.RecordID != "" && rw.Grade.AtLeast(a.MinGrade) {
			count++
		}
	}

	records, err := o.repo.ListUnrewardedRecords(ctx, a.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}
	for _, rec := range records {
		if a.ParticipantShare(rec.OwnerAccount) == 0 {
			continue
		}
		assessment, err := o.repo.GetAssessment(ctx, rec.ID)
		if err != nil {
			continue
		}
		if assessment.Grade.AtLeast(a.MinGrade) {
			count++
		}
	}
	return count, nil
}

// computeRewards turns every unrewarded record into a persisted reward
// record, pending when eligible and failed otherwise so the record is
// never reprocessed. New amounts are scaled down if they would exceed
// the unreleased commitment.
func (o *Orchestrator) computeRewards(ctx context.Context, a *models.Agreement, period string, log *logging.Logger) error {
	if a.Kind == models.AgreementPooled {
		return o.computePooledRewards(ctx, a, log)
	}

	records, err := o.repo.ListUnrewardedRecords(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to list unrewarded records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	computed := make([]*models.RewardRecord, 0, len(records))
	for _, rec := range records {
		if a.ParticipantShare(rec.OwnerAccount) == 0 {
			log.Warn("record owner is not enrolled", logging.RecordID(rec.ID), logging.Account(rec.OwnerAccount))
			continue
		}
		assessment, err := o.repo.GetAssessment(ctx, rec.ID)
		if err != nil {
			log.Warn("record has no quality assessment", logging.RecordID(rec.ID))
			continue
		}

		history, err := o.buildHistory(ctx, a, rec.OwnerAccount, period)
		if err != nil {
			return err
		}

		rw, err := reward.Compute(a, reward.Input{Record: rec, Recipient: rec.OwnerAccount, Period: period}, *assessment, history)
		if err != nil {
			return fmt.Errorf("failed to compute reward for record %s: %w", rec.ID, err)
		}
		rw.ID = uuid.NewString()
		computed = append(computed, &rw)
	}

	o.scaleToRemaining(a, computed, log)

	for _, rw := range computed {
		if rw.Amount <= 0 {
			rw.Outcome = models.OutcomeFailed
			rw.FailureReason = "ineligible: below minimum grade or period cap"
		}
		if err := o.repo.CreateReward(ctx, rw); err != nil {
			if errors.Is(err, repository.ErrDuplicateReward) {
				continue
			}
			return fmt.Errorf("failed to persist reward: %w", err)
		}
		metrics.RewardsByOutcome.WithLabelValues(string(rw.Outcome)).Inc()
	}
	return nil
}

// computePooledRewards accrues one participant-period reward per committed
// participant per capture day. Records stay unlinked; the deterministic
// recipient-period idempotency key makes reprocessing a no-op.
func (o *Orchestrator) computePooledRewards(ctx context.Context, a *models.Agreement, log *logging.Logger) error {
	records, err := o.repo.ListUnrewardedRecords(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to list unrewarded records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	// Best assessment per (participant, capture day).
	type groupKey struct {
		owner string
		day   string
	}
	best := map[groupKey]*models.QualityAssessment{}
	for _, rec := range records {
		if a.ParticipantShare(rec.OwnerAccount) == 0 {
			continue
		}
		assessment, err := o.repo.GetAssessment(ctx, rec.ID)
		if err != nil {
			log.Warn("record has no quality assessment", logging.RecordID(rec.ID))
			continue
		}
		k := groupKey{owner: rec.OwnerAccount, day: rec.CapturedAt.UTC().Format("2006-01-02")}
		if cur, ok := best[k]; !ok || assessment.Composite > cur.Composite {
			best[k] = assessment
		}
	}

	computed := make([]*models.RewardRecord, 0, len(best))
	for k, assessment := range best {
		history, err := o.buildHistory(ctx, a, k.owner, k.day)
		if err != nil {
			return err
		}

		rw, err := reward.Compute(a, reward.Input{Recipient: k.owner, Period: k.day}, *assessment, history)
		if err != nil {
			return fmt.Errorf("failed to compute pooled reward for %s: %w", k.owner, err)
		}
		rw.ID = uuid.NewString()
		computed = append(computed, &rw)
	}

	o.scaleToRemaining(a, computed, log)

	for _, rw := range computed {
		if rw.Amount <= 0 {
			rw.Outcome = models.OutcomeFailed
			rw.FailureReason = "ineligible: below minimum grade or period cap"
		}
		if err := o.repo.CreateReward(ctx, rw); err != nil {
			if errors.Is(err, repository.ErrDuplicateReward) {
				continue
			}
			return fmt.Errorf("failed to persist pooled reward: %w", err)
		}
		metrics.RewardsByOutcome.WithLabelValues(string(rw.Outcome)).Inc()
	}
	return nil
}

// scaleToRemaining proportionally reduces a new batch that would exceed
// the buyer's unreleased commitment.
func (o *Orchestrator) scaleToRemaining(a *models.Agreement, batch []*models.RewardRecord, log *logging.Logger) {
	remaining := a.CommittedAmount - a.ReleasedAmount
	if remaining < 0 {
		remaining = 0
	}

	var total float64
	amounts := make([]float64, len(batch))
	for i, rw := range batch {
		amounts[i] = rw.Amount
		total += rw.Amount
	}
	if total <= remaining {
		return
	}

	log.Warn("reward batch exceeds remaining commitment, scaling",
		"batch_total", total, "remaining", remaining)
	scaled := reward.ScaleToBudget(amounts, remaining)
	for i, rw := range batch {
		rw.Amount = scaled[i]
	}
}

func (o *Orchestrator) buildHistory(ctx context.Context, a *models.Agreement, recipient, period string) (models.RewardHistory, error) {
	days, err := o.repo.SubmissionDays(ctx, a.ID, recipient)
	if err != nil {
		return models.RewardHistory{}, fmt.Errorf("failed to load submission days: %w", err)
	}
	confirmed, err := o.repo.SumConfirmedForPeriod(ctx, a.ID, recipient, period)
	if err != nil {
		return models.RewardHistory{}, fmt.Errorf("failed to sum period rewards: %w", err)
	}
	completionPaid, err := o.repo.CompletionPaid(ctx, a.ID, recipient)
	if err != nil {
		return models.RewardHistory{}, fmt.Errorf("failed to check completion bonus: %w", err)
	}

	return models.RewardHistory{
		ConsecutiveDays:     trailingConsecutiveDays(days),
		DaysSubmitted:       len(days),
		CompletionPaid:      completionPaid,
		ConfirmedThisPeriod: confirmed,
	}, nil
}

// trailingConsecutiveDays counts the run of consecutive days ending at
// the most recent submission day.
func trailingConsecutiveDays(days []string) int {
	if len(days) == 0 {
		return 0
	}

	run := 1
	for i := len(days) - 1; i > 0; i-- {
		cur, err := time.Parse("2006-01-02", days[i])
		if err != nil {
			break
		}
		prev, err := time.Parse("2006-01-02", days[i-1])
		if err != nil {
			break
		}
		if cur.Sub(prev) != 24*time.Hour {
			break
		}
		run++
	}
	return run
}

// dispatchPending sends the pending batch through the distributor and
// records each outcome. The exactly-once check is structural: a reward
// is only dispatched from pending, and the pending→sent transition is a
// compare-and-set.
func (o *Orchestrator) dispatchPending(ctx context.Context, a *models.Agreement, log *logging.Logger) error {
	pending, err := o.repo.ListRewardsByOutcome(ctx, a.ID, models.OutcomePending)
	if err != nil {
		return fmt.Errorf("failed to list pending rewards: %w", err)
	}

	batch := pending[:0]
	for _, rw := range pending {
		// The escrow finish attempt is driven by the event path.
		if rw.IdempotencyKey == escrowFinishKey(a.ID) {
			continue
		}
		batch = append(batch, rw)
	}
	if len(batch) == 0 {
		return nil
	}

	outcomes := o.sender.Distribute(ctx, a, batch)
	for i, out := range outcomes {
		rw := batch[i]
		if out.Err != nil {
			if uErr := o.repo.UpdateRewardOutcome(ctx, rw.ID, models.OutcomePending, models.OutcomeFailed, "", out.Err.Error()); uErr != nil && !errors.Is(uErr, repository.ErrStatusConflict) {
				return fmt.Errorf("failed to record reward failure: %w", uErr)
			}
			metrics.RewardsByOutcome.WithLabelValues(string(models.OutcomeFailed)).Inc()
			continue
		}

		if uErr := o.repo.UpdateRewardOutcome(ctx, rw.ID, models.OutcomePending, models.OutcomeSent, out.TxRef, ""); uErr != nil {
			if errors.Is(uErr, repository.ErrStatusConflict) {
				continue
			}
			return fmt.Errorf("failed to mark reward sent: %w", uErr)
		}
		metrics.RewardsByOutcome.WithLabelValues(string(models.OutcomeSent)).Inc()

		if out.Final {
			if uErr := o.repo.UpdateRewardOutcome(ctx, rw.ID, models.OutcomeSent, models.OutcomeConfirmed, "", ""); uErr != nil && !errors.Is(uErr, repository.ErrStatusConflict) {
				return fmt.Errorf("failed to confirm reward: %w", uErr)
			}
			metrics.RewardsByOutcome.WithLabelValues(string(models.OutcomeConfirmed)).Inc()
			metrics.RewardAmount.Add(rw.Amount)
		}
	}

	log.Info("reward batch dispatched", "batch_size", len(batch))
	return nil
}

// maybeComplete finalizes a settling agreement: completed when every
// owed reward is confirmed and, for bilateral agreements, the escrow
// finish has been confirmed; partially settled when the settlement
// deadline has passed with failures left over.
func (o *Orchestrator) maybeComplete(ctx context.Context, agreementID string, log *logging.Logger) error {
	a, err := o.repo.GetAgreement(ctx, agreementID)
	if err != nil {
		return fmt.Errorf("failed to reload agreement: %w", err)
	}
	if a.Status != models.StatusSettling && a.Status != models.StatusPartiallySettled {
		return nil
	}

	rewards, err := o.repo.ListRewardsByAgreement(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to list rewards: %w", err)
	}

	var unresolved, failed int
	escrowConfirmed := a.Kind != models.AgreementBilateral
	for _, rw := range rewards {
		switch rw.Outcome {
		case models.OutcomePending, models.OutcomeSent:
			unresolved++
		case models.OutcomeFailed:
			// Zero-amount rewards record ineligibility, not a failed payout.
			if rw.Amount > 0 {
				failed++
			}
		}
		if rw.IdempotencyKey == escrowFinishKey(a.ID) && rw.Outcome == models.OutcomeConfirmed {
			escrowConfirmed = true
		}
	}

	if unresolved == 0 && failed == 0 && escrowConfirmed {
		if err := o.transition(ctx, a.ID, a.Status, models.StatusCompleted, log); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return nil
			}
			return err
		}
		o.publish(ctx, messaging.SubjectSettlementCompleted, a.ID, log)
		return nil
	}

	if a.Status == models.StatusSettling && failed > 0 && o.now().After(a.SettlementDeadline) {
		if err := o.transition(ctx, a.ID, models.StatusSettling, models.StatusPartiallySettled, log); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return nil
			}
			return err
		}
		o.publish(ctx, messaging.SubjectSettlementPartial, a.ID, log)
	}
	return nil
}

// CheckFormation cancels a forming agreement whose deadline passed
// without reaching the commitment threshold.
func (o *Orchestrator) CheckFormation(ctx context.Context, agreementID string) error {
	unlock := o.locks.Lock(agreementID)
	defer unlock()

	a, err := o.repo.GetAgreement(ctx, agreementID)
	if err != nil {
		return fmt.Errorf("failed to load agreement %s: %w", agreementID, err)
	}
	return o.checkFormationLocked(ctx, a, o.logger.With(logging.AgreementID(a.ID)))
}

func (o *Orchestrator) checkFormationLocked(ctx context.Context, a *models.Agreement, log *logging.Logger) error {
	if a.Status != models.StatusForming {
		return nil
	}

	if a.CommittedParticipants() >= a.MinParticipants {
		if a.EscrowHandle != nil {
			return o.transition(ctx, a.ID, models.StatusForming, models.StatusActive, log)
		}
		return nil
	}

	if o.now().After(a.FormationDeadline) {
		log.Info("formation deadline passed without sufficient commitment",
			"committed", a.CommittedParticipants(), "required", a.MinParticipants)
		return o.cancelLocked(ctx, a, log)
	}
	return nil
}

// Cancel administratively cancels a non-terminal agreement.
func (o *Orchestrator) Cancel(ctx context.Context, agreementID string) error {
	unlock := o.locks.Lock(agreementID)
	defer unlock()

	a, err := o.repo.GetAgreement(ctx, agreementID)
	if err != nil {
		return fmt.Errorf("failed to load agreement %s: %w", agreementID, err)
	}
	if a.Status.Terminal() {
		return fmt.Errorf("agreement %s is already %s: %w", a.ID, a.Status, repository.ErrStatusConflict)
	}
	return o.cancelLocked(ctx, a, o.logger.With(logging.AgreementID(a.ID)))
}

func (o *Orchestrator) cancelLocked(ctx context.Context, a *models.Agreement, log *logging.Logger) error {
	// Refund the buyer if the escrow exists and nothing was released.
	if a.EscrowHandle != nil && a.ReleasedAmount == 0 {
		err := o.retry.Do(ctx, func(ctx context.Context) error {
			_, cErr := o.gateway.CancelEscrow(ctx, *a.EscrowHandle)
			return cErr
		})
		if err != nil {
			return fmt.Errorf("failed to cancel escrow for %s: %w", a.ID, err)
		}
		log.Info("escrow cancel requested", logging.EscrowID(*a.EscrowHandle))
	}

	if err := o.transition(ctx, a.ID, a.Status, models.StatusCancelled, log); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil
		}
		return err
	}
	return o.revokeGrants(ctx, a.ID)
}

func (o *Orchestrator) revokeGrants(ctx context.Context, agreementID string) error {
	grants, err := o.repo.ListGrantsByAgreement(ctx, agreementID)
	if err != nil {
		return fmt.Errorf("failed to list grants: %w", err)
	}
	for _, g := range grants {
		if g.Status != models.GrantActive {
			continue
		}
		if err := o.repo.UpdateGrantStatus(ctx, g.ID, models.GrantRevoked); err != nil {
			return fmt.Errorf("failed to revoke grant %s: %w", g.ID, err)
		}
	}
	return nil
}

// Status reports the agreement together with its failed reward IDs for
// operator reconciliation.
func (o *Orchestrator) Status(ctx context.Context, agreementID string) (*models.AgreementStatusResponse, error) {
	a, err := o.repo.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}

	failed, err := o.repo.ListRewardsByOutcome(ctx, agreementID, models.OutcomeFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed rewards: %w", err)
	}

	resp := &models.AgreementStatusResponse{Agreement: a}
	for _, rw := range failed {
		resp.FailedRewards = append(resp.FailedRewards, rw.ID)
	}
	return resp, nil
}

func (o *Orchestrator) transition(ctx context.Context, agreementID string, from, to models.AgreementStatus, log *logging.Logger) error {
	if err := o.repo.UpdateAgreementStatus(ctx, agreementID, from, to); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			log.Debug("status transition lost to a concurrent writer",
				"from", string(from), "to", string(to))
		}
		return err
	}
	metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	log.Info("agreement status changed", "from", string(from), "to", string(to))
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, subject, agreementID string, log *logging.Logger) {
	if o.publisher == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"agreement_id": agreementID,
		"at":           o.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := o.publisher.Publish(ctx, subject, payload); err != nil {
		log.Warn("failed to publish settlement notification", logging.Error(err))
	}
}
