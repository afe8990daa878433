// Package reward computes quality-weighted payout amounts. Computation is
// pure given its inputs: history arrives as an explicit parameter and all
// tuning comes from the agreement's own terms.
package reward

import (
	"fmt"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

// defaultMultipliers apply when an agreement does not override them.
var defaultMultipliers = map[models.Grade]float64{
	models.GradeA: 1.5,
	models.GradeB: 1.0,
	models.GradeC: 0.7,
	models.GradeD: 0,
}

// Input identifies what is being rewarded: one data record for bilateral
// agreements, or one participant-period for pooled ones.
type Input struct {
	Record    *models.DataRecord // nil for pooled participant-period rewards
	Recipient string
	Period    string // accounting period, YYYY-MM-DD
}

// Compute derives the reward record for one input. The returned record has
// outcome pending and carries a deterministic idempotency key; the caller
// assigns the storage identifier and timestamps on persist.
func Compute(agreement *models.Agreement, in Input, assessment models.QualityAssessment, history models.RewardHistory) (models.RewardRecord, error) {
	if agreement == nil {
		return models.RewardRecord{}, fmt.Errorf("agreement is required")
	}
	if in.Recipient == "" {
		return models.RewardRecord{}, fmt.Errorf("recipient is required")
	}
	if agreement.Kind == models.AgreementBilateral && in.Record == nil {
		return models.RewardRecord{}, fmt.Errorf("bilateral reward requires a record")
	}

	rec := models.RewardRecord{
		AgreementID:    agreement.ID,
		Recipient:      in.Recipient,
		Period:         in.Period,
		Grade:          assessment.Grade,
		IdempotencyKey: IdempotencyKey(agreement.ID, in),
		Outcome:        models.OutcomePending,
	}
	if in.Record != nil {
		rec.RecordID = in.Record.ID
	}

	amount := baseAmount(agreement, in, assessment)

	// Additive bonuses apply only when the base reward was earned.
	if amount > 0 {
		if bonus := streakBonus(agreement, history); bonus > 0 {
			rec.StreakBonus = bonus
			amount += bonus
		}
		if bonus := completionBonus(agreement, history); bonus > 0 {
			rec.CompletionBonus = bonus
			amount += bonus
		}
	}

	// Pooled payouts are weighted by the participant's contribution share.
	if agreement.Kind == models.AgreementPooled {
		amount *= agreement.ParticipantShare(in.Recipient)
	}

	rec.Amount = applyPeriodCap(amount, agreement.PeriodCap, history.ConfirmedThisPeriod)
	return rec, nil
}

// IdempotencyKey returns the stable settlement attempt identifier for an
// input. Reprocessing the same record or participant-period always yields
// the same key.
func IdempotencyKey(agreementID string, in Input) string {
	if in.Record != nil {
		return fmt.Sprintf("reward:%s:%s", agreementID, in.Record.ID)
	}
	return fmt.Sprintf("reward:%s:%s:%s", agreementID, in.Recipient, in.Period)
}

func baseAmount(agreement *models.Agreement, in Input, assessment models.QualityAssessment) float64 {
	var term models.RewardTerm
	if in.Record != nil {
		t, ok := agreement.Schedule[in.Record.Kind]
		if !ok {
			return 0
		}
		term = t
	} else {
		if agreement.PeriodTerm == nil {
			return 0
		}
		term = *agreement.PeriodTerm
	}

	if !assessment.Grade.AtLeast(term.MinGrade) {
		return 0
	}

	return term.BaseAmount * gradeMultiplier(agreement, assessment.Grade)
}

func gradeMultiplier(agreement *models.Agreement, grade models.Grade) float64 {
	if agreement.GradeMultipliers != nil {
		if m, ok := agreement.GradeMultipliers[grade]; ok {
			return m
		}
	}
	return defaultMultipliers[grade]
}

// streakBonus pays out each time the consecutive-day count crosses the
// configured threshold (e.g. every 7th consecutive day).
func streakBonus(agreement *models.Agreement, history models.RewardHistory) float64 {
	if agreement.StreakLength <= 0 || agreement.StreakBonus <= 0 {
		return 0
	}
	if history.ConsecutiveDays > 0 && history.ConsecutiveDays%agreement.StreakLength == 0 {
		return agreement.StreakBonus
	}
	return 0
}

// completionBonus is granted once, when the target duration is reached.
func completionBonus(agreement *models.Agreement, history models.RewardHistory) float64 {
	if agreement.TargetDays <= 0 || agreement.CompletionBonus <= 0 || history.CompletionPaid {
		return 0
	}
	if history.DaysSubmitted >= agreement.TargetDays {
		return agreement.CompletionBonus
	}
	return 0
}

// applyPeriodCap truncates the amount to what remains of the per-period cap
// after already-confirmed rewards. The result is never negative.
func applyPeriodCap(amount, cap, confirmedThisPeriod float64) float64 {
	if cap <= 0 {
		return amount
	}
	remaining := cap - confirmedThisPeriod
	if remaining <= 0 {
		return 0
	}
	if amount > remaining {
		return remaining
	}
	return amount
}

// ScaleToBudget proportionally reduces amounts so their sum does not exceed
// budget. Used for pooled settlement where raw computed rewards may exceed
// the pool's committed total. Amounts are returned unchanged when they
// already fit.
func ScaleToBudget(amounts []float64, budget float64) []float64 {
	var sum float64
	for _, a := range amounts {
		sum += a
	}
	if sum <= budget || sum == 0 {
		return amounts
	}

	factor := budget / sum
	scaled := make([]float64, len(amounts))
	for i, a := range amounts {
		scaled[i] = a * factor
	}
	return scaled
}
