package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateValues(t *testing.T) {
	for i := 0; i < 200; i++ {
		v := generateValues("glucose")
		if v["mg_dl"] < 70 || v["mg_dl"] > 180 {
			t.Errorf("glucose out of range: %v", v["mg_dl"])
		}

		bp := generateValues("blood_pressure")
		if bp["systolic"] <= bp["diastolic"] {
			t.Errorf("systolic %v not above diastolic %v", bp["systolic"], bp["diastolic"])
		}
	}
}

func TestBuildAgreement(t *testing.T) {
	spec := AgreementSpec{
		Kind:            "pooled",
		Participants:    4,
		CommittedAmount: 1000,
		RecordKinds:     []string{"sleep", "steps"},
		BaseAmount:      2,
		MinGrade:        "B",
		Days:            7,
		PerDay:          2,
	}

	a := buildAgreement(spec)

	parts, ok := a["participants"].([]map[string]any)
	if !ok {
		t.Fatal("participants missing or wrong type")
	}
	if len(parts) != 4 {
		t.Fatalf("expected 4 participants, got %d", len(parts))
	}
	totalShare := 0.0
	for _, p := range parts {
		totalShare += p["share"].(float64)
	}
	if totalShare < 0.999 || totalShare > 1.001 {
		t.Errorf("shares should sum to 1.0, got %v", totalShare)
	}

	schedule := a["schedule"].(map[string]any)
	if len(schedule) != 2 {
		t.Errorf("expected 2 schedule entries, got %d", len(schedule))
	}
	if a["period_term"] == nil {
		t.Error("pooled agreement should carry a period term")
	}
}

func TestApplyDefaults(t *testing.T) {
	spec := AgreementSpec{}
	applyDefaults(&spec)

	if spec.Kind != "bilateral" {
		t.Errorf("expected bilateral default, got %s", spec.Kind)
	}
	if spec.Participants != 1 {
		t.Errorf("expected 1 participant, got %d", spec.Participants)
	}
	if spec.CommittedAmount <= 0 {
		t.Error("committed amount should default to a positive value")
	}
	if len(spec.RecordKinds) == 0 {
		t.Error("record kinds should default to a non-empty set")
	}
	if spec.MinGrade != "C" {
		t.Errorf("expected min grade C, got %s", spec.MinGrade)
	}
}

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	content := `agreements:
  - kind: pooled
    participants: 3
    committed_amount: 750
    record_kinds: [glucose]
    days: 14
  - kind: bilateral
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := loadScenario(path)
	if err != nil {
		t.Fatalf("loadScenario failed: %v", err)
	}
	if len(s.Agreements) != 2 {
		t.Fatalf("expected 2 agreements, got %d", len(s.Agreements))
	}
	if s.Agreements[0].Days != 14 {
		t.Errorf("expected 14 days, got %d", s.Agreements[0].Days)
	}
	// Defaults fill the sparse second entry.
	if s.Agreements[1].Participants != 1 || len(s.Agreements[1].RecordKinds) == 0 {
		t.Error("defaults were not applied to sparse entry")
	}

	if _, err := loadScenario(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
