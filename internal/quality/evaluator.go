// Package quality scores submitted data records. Evaluation is a pure
// function of the record and the scoring config: it consults no external
// state, never fails, and is safe to run concurrently in any order.
package quality

import (
	"math"
	"time"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

// Composite weights: completeness 40%, accuracy 40%, timeliness 20%.
const (
	weightCompleteness = 0.4
	weightAccuracy     = 0.4
	weightTimeliness   = 0.2
)

// Completeness shares: required 70%, optional 15%, contextual 15%.
const (
	shareRequired   = 70.0
	shareOptional   = 15.0
	shareContextual = 15.0
)

// Evaluate scores a single record. Malformed or missing optional fields
// degrade the completeness sub-score and out-of-range values degrade the
// accuracy sub-score; neither is an error.
func Evaluate(rec models.DataRecord, cfg Config) models.QualityAssessment {
	spec := cfg.Kinds[rec.Kind]

	completeness := scoreCompleteness(rec, spec)
	accuracy := scoreAccuracy(rec, spec, cfg.Deductions)
	timeliness := scoreTimeliness(rec.CapturedAt, rec.SubmittedAt)

	composite := int(math.Round(
		weightCompleteness*float64(completeness) +
			weightAccuracy*float64(accuracy) +
			weightTimeliness*float64(timeliness),
	))

	return models.QualityAssessment{
		RecordID:     rec.ID,
		Completeness: completeness,
		Accuracy:     accuracy,
		Timeliness:   timeliness,
		Composite:    composite,
		Grade:        gradeFor(composite, cfg),
	}
}

func scoreCompleteness(rec models.DataRecord, spec KindSpec) int {
	score := presentShare(spec.Required, rec.Values)*shareRequired +
		presentShare(spec.Optional, rec.Values)*shareOptional +
		contextShare(spec.Contextual, rec.Context)*shareContextual

	return clamp(int(math.Round(score)))
}

// presentShare returns the fraction of expected value fields present.
// An empty expectation list earns its full share.
func presentShare(fields []string, values map[string]float64) float64 {
	if len(fields) == 0 {
		return 1
	}
	present := 0
	for _, f := range fields {
		if _, ok := values[f]; ok {
			present++
		}
	}
	return float64(present) / float64(len(fields))
}

func contextShare(fields []string, context map[string]string) float64 {
	if len(fields) == 0 {
		return 1
	}
	present := 0
	for _, f := range fields {
		if v, ok := context[f]; ok && v != "" {
			present++
		}
	}
	return float64(present) / float64(len(fields))
}

func scoreAccuracy(rec models.DataRecord, spec KindSpec, ded Deductions) int {
	score := 100

	for field, value := range rec.Values {
		if plausible, ok := spec.Plausible[field]; ok && !plausible.Contains(value) {
			score -= ded.Implausible
			continue
		}
		if usual, ok := spec.Usual[field]; ok && !usual.Contains(value) {
			score -= ded.Unusual
		}
	}

	if inconsistentPair(rec) {
		score -= ded.Inconsistent
	}

	return clamp(score)
}

// inconsistentPair checks internally contradictory paired values.
func inconsistentPair(rec models.DataRecord) bool {
	switch rec.Kind {
	case models.KindBloodPressure:
		sys, haveSys := rec.Values["systolic"]
		dia, haveDia := rec.Values["diastolic"]
		return haveSys && haveDia && sys <= dia
	case models.KindSleep:
		dur, haveDur := rec.Values["duration_min"]
		deep, haveDeep := rec.Values["deep_min"]
		return haveDur && haveDeep && deep > dur
	}
	return false
}

func scoreTimeliness(capturedAt, submittedAt time.Time) int {
	if !sameDay(capturedAt, submittedAt) {
		return 50
	}
	switch delay := submittedAt.Sub(capturedAt); {
	case delay <= time.Hour:
		return 100
	case delay <= 6*time.Hour:
		return 90
	default:
		return 75
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func gradeFor(composite int, cfg Config) models.Grade {
	switch {
	case composite >= cfg.GradeA:
		return models.GradeA
	case composite >= cfg.GradeB:
		return models.GradeB
	case composite >= cfg.GradeC:
		return models.GradeC
	default:
		return models.GradeD
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
