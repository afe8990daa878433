package quality

import "github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"

// Range is an inclusive value range.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// KindSpec declares the expected shape of one record kind: which value and
// context fields are expected, and the plausible ranges for each value.
type KindSpec struct {
	// Required value fields; missing ones cut into the 70% completeness share.
	Required []string
	// Optional value fields (15% completeness share).
	Optional []string
	// Contextual fields, read from the record context (15% share).
	Contextual []string
	// Plausible is the hard physiological bound per value field.
	Plausible map[string]Range
	// Usual is the narrower expected bound; values outside it but inside
	// Plausible take the smaller accuracy deduction.
	Usual map[string]Range
}

// Deductions are the accuracy penalties applied per finding.
type Deductions struct {
	Implausible  int // value outside the hard physiological bound
	Unusual      int // value outside the usual bound
	Inconsistent int // paired values that contradict each other
}

// Config carries the evaluator's scoring tables. It is passed explicitly so
// behavior is reproducible and overridable per agreement.
type Config struct {
	Kinds      map[models.RecordKind]KindSpec
	Deductions Deductions

	// Grade thresholds on the composite score.
	GradeA int
	GradeB int
	GradeC int
}

// DefaultConfig returns the stock scoring tables.
func DefaultConfig() Config {
	return Config{
		Kinds: map[models.RecordKind]KindSpec{
			models.KindGlucose: {
				Required:   []string{"glucose_mg_dl"},
				Optional:   []string{"carbs_g"},
				Contextual: []string{"device", "meal"},
				Plausible: map[string]Range{
					"glucose_mg_dl": {Min: 20, Max: 600},
					"carbs_g":       {Min: 0, Max: 500},
				},
				Usual: map[string]Range{
					"glucose_mg_dl": {Min: 60, Max: 250},
				},
			},
			models.KindHeartRate: {
				Required:   []string{"bpm"},
				Optional:   []string{"resting_bpm"},
				Contextual: []string{"device", "activity"},
				Plausible: map[string]Range{
					"bpm":         {Min: 20, Max: 250},
					"resting_bpm": {Min: 25, Max: 150},
				},
				Usual: map[string]Range{
					"bpm": {Min: 40, Max: 190},
				},
			},
			models.KindBloodPressure: {
				Required:   []string{"systolic", "diastolic"},
				Optional:   []string{"pulse"},
				Contextual: []string{"device", "posture"},
				Plausible: map[string]Range{
					"systolic":  {Min: 50, Max: 260},
					"diastolic": {Min: 30, Max: 160},
					"pulse":     {Min: 20, Max: 250},
				},
				Usual: map[string]Range{
					"systolic":  {Min: 85, Max: 180},
					"diastolic": {Min: 50, Max: 110},
				},
			},
			models.KindSleep: {
				Required:   []string{"duration_min"},
				Optional:   []string{"deep_min", "rem_min"},
				Contextual: []string{"device"},
				Plausible: map[string]Range{
					"duration_min": {Min: 0, Max: 1440},
					"deep_min":     {Min: 0, Max: 1440},
					"rem_min":      {Min: 0, Max: 1440},
				},
				Usual: map[string]Range{
					"duration_min": {Min: 120, Max: 840},
				},
			},
			models.KindSteps: {
				Required:   []string{"count"},
				Optional:   []string{"distance_km"},
				Contextual: []string{"device"},
				Plausible: map[string]Range{
					"count":       {Min: 0, Max: 200000},
					"distance_km": {Min: 0, Max: 300},
				},
				Usual: map[string]Range{
					"count": {Min: 0, Max: 50000},
				},
			},
		},
		Deductions: Deductions{
			Implausible:  40,
			Unusual:      15,
			Inconsistent: 30,
		},
		GradeA: 85,
		GradeB: 70,
		GradeC: 50,
	}
}
