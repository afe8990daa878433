package models

import "time"

// RecordKind identifies the type of measurement a data record carries.
type RecordKind string

const (
	KindGlucose       RecordKind = "glucose"
	KindHeartRate     RecordKind = "heart_rate"
	KindBloodPressure RecordKind = "blood_pressure"
	KindSleep         RecordKind = "sleep"
	KindSteps         RecordKind = "steps"
)

// ValidRecordKind reports whether k is one of the supported record kinds.
func ValidRecordKind(k RecordKind) bool {
	switch k {
	case KindGlucose, KindHeartRate, KindBloodPressure, KindSleep, KindSteps:
		return true
	}
	return false
}

// DataRecord is one user-submitted measurement. Immutable once scored.
type DataRecord struct {
	ID           string             `json:"id"`
	OwnerAccount string             `json:"owner_account"`
	AgreementID  string             `json:"agreement_id"`
	Kind         RecordKind         `json:"kind"`
	Values       map[string]float64 `json:"values"`
	Context      map[string]string  `json:"context,omitempty"` // device, notes, meal tags
	CapturedAt   time.Time          `json:"captured_at"`
	SubmittedAt  time.Time          `json:"submitted_at"`
}

// Grade is the categorical quality bucket derived from the composite score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// gradeRank orders grades for comparison (higher is better).
var gradeRank = map[Grade]int{GradeD: 0, GradeC: 1, GradeB: 2, GradeA: 3}

// AtLeast reports whether g meets or exceeds the minimum grade min.
func (g Grade) AtLeast(min Grade) bool {
	return gradeRank[g] >= gradeRank[min]
}

// QualityAssessment is derived from exactly one DataRecord.
// All sub-scores are 0-100; the composite is a weighted sum.
type QualityAssessment struct {
	RecordID     string `json:"record_id"`
	Completeness int    `json:"completeness"`
	Accuracy     int    `json:"accuracy"`
	Timeliness   int    `json:"timeliness"`
	Composite    int    `json:"composite"`
	Grade        Grade  `json:"grade"`
}
