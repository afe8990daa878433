package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

func bilateralAgreement() *models.Agreement {
	return &models.Agreement{
		ID:           "agr-1",
		Kind:         models.AgreementBilateral,
		BuyerAccount: "rBuyer",
		Participants: []models.Participant{{AccountID: "rPatient1", Share: 1, Committed: true}},
		Schedule: map[models.RecordKind]models.RewardTerm{
			models.KindGlucose: {BaseAmount: 3.0, MinGrade: models.GradeC},
		},
		StreakLength:    7,
		StreakBonus:     1.0,
		CompletionBonus: 10.0,
		TargetDays:      30,
		PeriodCap:       50,
		CommittedAmount: 500,
	}
}

func assessment(grade models.Grade) models.QualityAssessment {
	return models.QualityAssessment{RecordID: "rec-1", Grade: grade}
}

func record() *models.DataRecord {
	return &models.DataRecord{ID: "rec-1", Kind: models.KindGlucose, OwnerAccount: "rPatient1"}
}

func TestCompute_GradeMultiplier(t *testing.T) {
	tests := []struct {
		grade    models.Grade
		expected float64
	}{
		{models.GradeA, 4.5}, // 3.0 * 1.5
		{models.GradeB, 3.0},
		{models.GradeC, 2.1},
		{models.GradeD, 0}, // below minimum accepted grade
	}

	for _, tt := range tests {
		t.Run(string(tt.grade), func(t *testing.T) {
			r, err := Compute(bilateralAgreement(), Input{
				Record:    record(),
				Recipient: "rPatient1",
				Period:    "2026-03-10",
			}, assessment(tt.grade), models.RewardHistory{ConsecutiveDays: 1})
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, r.Amount, 1e-9)
			assert.Equal(t, models.OutcomePending, r.Outcome)
		})
	}
}

func TestCompute_AgreementOverridesMultipliers(t *testing.T) {
	agr := bilateralAgreement()
	agr.GradeMultipliers = map[models.Grade]float64{models.GradeA: 2.0}

	r, err := Compute(agr, Input{Record: record(), Recipient: "rPatient1", Period: "2026-03-10"},
		assessment(models.GradeA), models.RewardHistory{ConsecutiveDays: 1})
	require.NoError(t, err)
	assert.InDelta(t, 6.0, r.Amount, 1e-9)
}

func TestCompute_StreakBonus(t *testing.T) {
	tests := []struct {
		name            string
		consecutiveDays int
		expectedBonus   float64
	}{
		{"sixth day no bonus", 6, 0},
		{"seventh day pays", 7, 1.0},
		{"fourteenth day pays again", 14, 1.0},
		{"eighth day no bonus", 8, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Compute(bilateralAgreement(), Input{
				Record:    record(),
				Recipient: "rPatient1",
				Period:    "2026-03-10",
			}, assessment(models.GradeB), models.RewardHistory{ConsecutiveDays: tt.consecutiveDays})
			require.NoError(t, err)
			assert.InDelta(t, tt.expectedBonus, r.StreakBonus, 1e-9)
			assert.InDelta(t, 3.0+tt.expectedBonus, r.Amount, 1e-9)
		})
	}
}

func TestCompute_CompletionBonus(t *testing.T) {
	history := models.RewardHistory{ConsecutiveDays: 1, DaysSubmitted: 30}

	r, err := Compute(bilateralAgreement(), Input{Record: record(), Recipient: "rPatient1", Period: "2026-03-10"},
		assessment(models.GradeB), history)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, r.CompletionBonus, 1e-9)
	assert.InDelta(t, 13.0, r.Amount, 1e-9)

	// Once paid, never again.
	history.CompletionPaid = true
	r, err = Compute(bilateralAgreement(), Input{Record: record(), Recipient: "rPatient1", Period: "2026-03-10"},
		assessment(models.GradeB), history)
	require.NoError(t, err)
	assert.Zero(t, r.CompletionBonus)
	assert.InDelta(t, 3.0, r.Amount, 1e-9)
}

func TestCompute_NoBonusesWithoutBaseReward(t *testing.T) {
	// Grade D earns nothing, so streak and completion bonuses do not apply.
	r, err := Compute(bilateralAgreement(), Input{Record: record(), Recipient: "rPatient1", Period: "2026-03-10"},
		assessment(models.GradeD), models.RewardHistory{ConsecutiveDays: 7, DaysSubmitted: 30})
	require.NoError(t, err)
	assert.Zero(t, r.Amount)
	assert.Zero(t, r.StreakBonus)
	assert.Zero(t, r.CompletionBonus)
}

func TestCompute_PeriodCap(t *testing.T) {
	tests := []struct {
		name      string
		confirmed float64
		expected  float64
	}{
		{"under the cap", 0, 4.5},
		{"truncated to remaining", 47, 3.0},
		{"cap exhausted", 50, 0},
		{"cap overshoot never negative", 60, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Compute(bilateralAgreement(), Input{
				Record:    record(),
				Recipient: "rPatient1",
				Period:    "2026-03-10",
			}, assessment(models.GradeA), models.RewardHistory{ConsecutiveDays: 1, ConfirmedThisPeriod: tt.confirmed})
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, r.Amount, 1e-9)
		})
	}
}

func TestCompute_PooledShareWeighting(t *testing.T) {
	agr := &models.Agreement{
		ID:   "pool-1",
		Kind: models.AgreementPooled,
		Participants: []models.Participant{
			{AccountID: "rA", Share: 0.5, Committed: true},
			{AccountID: "rB", Share: 0.3, Committed: true},
			{AccountID: "rC", Share: 0.2, Committed: true},
		},
		PeriodTerm:      &models.RewardTerm{BaseAmount: 100, MinGrade: models.GradeD},
		CommittedAmount: 1000,
	}

	r, err := Compute(agr, Input{Recipient: "rB", Period: "2026-03"}, assessment(models.GradeB), models.RewardHistory{})
	require.NoError(t, err)
	assert.InDelta(t, 30.0, r.Amount, 1e-9) // 100 * 1.0 * 0.3
	assert.Empty(t, r.RecordID)
	assert.Equal(t, "reward:pool-1:rB:2026-03", r.IdempotencyKey)
}

func TestCompute_IdempotencyKeyDeterministic(t *testing.T) {
	in := Input{Record: record(), Recipient: "rPatient1", Period: "2026-03-10"}
	first, err := Compute(bilateralAgreement(), in, assessment(models.GradeA), models.RewardHistory{})
	require.NoError(t, err)
	second, err := Compute(bilateralAgreement(), in, assessment(models.GradeA), models.RewardHistory{})
	require.NoError(t, err)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.Equal(t, "reward:agr-1:rec-1", first.IdempotencyKey)
}

func TestCompute_Validation(t *testing.T) {
	_, err := Compute(nil, Input{Recipient: "x"}, assessment(models.GradeA), models.RewardHistory{})
	assert.Error(t, err)

	_, err = Compute(bilateralAgreement(), Input{Recipient: ""}, assessment(models.GradeA), models.RewardHistory{})
	assert.Error(t, err)

	_, err = Compute(bilateralAgreement(), Input{Recipient: "rPatient1"}, assessment(models.GradeA), models.RewardHistory{})
	assert.Error(t, err, "bilateral input without a record")
}

func TestScaleToBudget(t *testing.T) {
	t.Run("over budget scales proportionally", func(t *testing.T) {
		scaled := ScaleToBudget([]float64{600, 360, 240}, 1000)
		var sum float64
		for _, s := range scaled {
			sum += s
		}
		assert.InDelta(t, 1000, sum, 1e-9)
		assert.InDelta(t, 500, scaled[0], 1e-9)
		assert.InDelta(t, 300, scaled[1], 1e-9)
		assert.InDelta(t, 200, scaled[2], 1e-9)
	})

	t.Run("under budget unchanged", func(t *testing.T) {
		amounts := []float64{10, 20}
		assert.Equal(t, amounts, ScaleToBudget(amounts, 100))
	})

	t.Run("zero sum unchanged", func(t *testing.T) {
		amounts := []float64{0, 0}
		assert.Equal(t, amounts, ScaleToBudget(amounts, 100))
	})
}
