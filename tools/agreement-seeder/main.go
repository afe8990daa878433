// agreement-seeder populates a settlement service with synthetic
// agreements and health records for local development and load testing.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gopkg.in/yaml.v3"
)

var (
	apiURL       = flag.String("api-url", "http://localhost:8090", "settlement API base URL")
	scenarioPath = flag.String("scenario", "", "scenario YAML file (overrides count flags)")
	agreements   = flag.Int("agreements", 5, "number of agreements to create")
	participants = flag.Int("participants", 3, "participants per pooled agreement")
	days         = flag.Int("days", 7, "days of records per participant")
	perDay       = flag.Int("per-day", 2, "records per participant per day")
	interval     = flag.Duration("interval", 50*time.Millisecond, "delay between requests")
)

// Scenario describes a reproducible seeding run.
type Scenario struct {
	Agreements []AgreementSpec `yaml:"agreements"`
}

// AgreementSpec is one agreement template in a scenario file.
type AgreementSpec struct {
	Kind            string   `yaml:"kind"`
	CommittedAmount float64  `yaml:"committed_amount"`
	Participants    int      `yaml:"participants"`
	RecordKinds     []string `yaml:"record_kinds"`
	BaseAmount      float64  `yaml:"base_amount"`
	MinGrade        string   `yaml:"min_grade"`
	Days            int      `yaml:"days"`
	PerDay          int      `yaml:"per_day"`
	StreakLength    int      `yaml:"streak_length"`
	StreakBonus     float64  `yaml:"streak_bonus"`
	PeriodCap       float64  `yaml:"period_cap"`
}

var recordKinds = []string{"glucose", "heart_rate", "blood_pressure", "sleep", "steps"}

func main() {
	flag.Parse()
	gofakeit.Seed(time.Now().UnixNano())

	scenario := defaultScenario(*agreements, *participants, *days, *perDay)
	if *scenarioPath != "" {
		var err error
		scenario, err = loadScenario(*scenarioPath)
		if err != nil {
			log.Fatalf("Failed to load scenario: %v", err)
		}
	}

	log.Printf("Seeding %s with %d agreements", *apiURL, len(scenario.Agreements))

	client := &http.Client{Timeout: 10 * time.Second}
	created, failed := 0, 0
	records, recordsFailed := 0, 0

	for i, spec := range scenario.Agreements {
		agreement := buildAgreement(spec)
		var out map[string]any
		if err := post(client, *apiURL+"/api/v1/agreements", agreement, &out); err != nil {
			log.Printf("Failed to create agreement %d: %v", i, err)
			failed++
			continue
		}
		created++
		id, _ := out["id"].(string)
		log.Printf("Created agreement %s (%s)", id, spec.Kind)

		for _, p := range agreement["participants"].([]map[string]any) {
			owner := p["account_id"].(string)
			for d := 0; d < spec.Days; d++ {
				for n := 0; n < spec.PerDay; n++ {
					rec := buildRecord(id, owner, spec, d, n)
					if err := post(client, *apiURL+"/api/v1/records", rec, nil); err != nil {
						recordsFailed++
					} else {
						records++
					}
					if *interval > 0 {
						time.Sleep(*interval)
					}
				}
			}
		}
	}

	log.Printf("Seeding complete:")
	log.Printf("  Agreements: %d created, %d failed", created, failed)
	log.Printf("  Records:    %d created, %d failed", records, recordsFailed)
	if failed > 0 {
		os.Exit(1)
	}
}

func loadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("invalid scenario YAML: %w", err)
	}
	if len(s.Agreements) == 0 {
		return Scenario{}, fmt.Errorf("scenario has no agreements")
	}
	for i := range s.Agreements {
		applyDefaults(&s.Agreements[i])
	}
	return s, nil
}

func defaultScenario(agreements, participants, days, perDay int) Scenario {
	s := Scenario{}
	for i := 0; i < agreements; i++ {
		spec := AgreementSpec{
			Kind:         "bilateral",
			Participants: 1,
			Days:         days,
			PerDay:       perDay,
		}
		if i%2 == 1 {
			spec.Kind = "pooled"
			spec.Participants = participants
		}
		applyDefaults(&spec)
		s.Agreements = append(s.Agreements, spec)
	}
	return s
}

func applyDefaults(spec *AgreementSpec) {
	if spec.Kind == "" {
		spec.Kind = "bilateral"
	}
	if spec.Participants <= 0 {
		spec.Participants = 1
	}
	if spec.CommittedAmount <= 0 {
		spec.CommittedAmount = float64(gofakeit.Number(200, 2000))
	}
	if len(spec.RecordKinds) == 0 {
		n := 1 + rand.Intn(3)
		perm := rand.Perm(len(recordKinds))
		for _, idx := range perm[:n] {
			spec.RecordKinds = append(spec.RecordKinds, recordKinds[idx])
		}
	}
	if spec.BaseAmount <= 0 {
		spec.BaseAmount = float64(gofakeit.Number(1, 5))
	}
	if spec.MinGrade == "" {
		spec.MinGrade = "C"
	}
	if spec.Days <= 0 {
		spec.Days = 7
	}
	if spec.PerDay <= 0 {
		spec.PerDay = 2
	}
}

func buildAgreement(spec AgreementSpec) map[string]any {
	now := time.Now().UTC()
	parts := make([]map[string]any, 0, spec.Participants)
	share := 1.0 / float64(spec.Participants)
	for i := 0; i < spec.Participants; i++ {
		parts = append(parts, map[string]any{
			"account_id": fmt.Sprintf("acct-%s", gofakeit.LetterN(8)),
			"share":      share,
			"committed":  true,
		})
	}

	schedule := map[string]any{}
	for _, kind := range spec.RecordKinds {
		schedule[kind] = map[string]any{
			"base_amount": spec.BaseAmount,
			"min_grade":   spec.MinGrade,
		}
	}

	a := map[string]any{
		"kind":             spec.Kind,
		"buyer_account":    fmt.Sprintf("buyer-%s", gofakeit.LetterN(8)),
		"participants":     parts,
		"schedule":         schedule,
		"grade_multipliers": map[string]float64{
			"A": 1.5, "B": 1.2, "C": 1.0, "D": 0,
		},
		"streak_length":       spec.StreakLength,
		"streak_bonus":        spec.StreakBonus,
		"period_cap":          spec.PeriodCap,
		"min_participants":    spec.Participants,
		"committed_amount":    spec.CommittedAmount,
		"formation_deadline":  now.Add(24 * time.Hour),
		"window_end":          now.Add(time.Duration(spec.Days) * 24 * time.Hour),
		"settlement_deadline": now.Add(time.Duration(spec.Days+7) * 24 * time.Hour),
	}
	if spec.Kind == "pooled" {
		a["period_term"] = map[string]any{
			"base_amount": spec.BaseAmount,
			"min_grade":   spec.MinGrade,
		}
	}
	return a
}

func buildRecord(agreementID, owner string, spec AgreementSpec, day, n int) map[string]any {
	kind := spec.RecordKinds[rand.Intn(len(spec.RecordKinds))]
	captured := time.Now().UTC().
		AddDate(0, 0, -day).
		Add(-time.Duration(n) * time.Hour)

	return map[string]any{
		"owner_account": owner,
		"agreement_id":  agreementID,
		"kind":          kind,
		"values":        generateValues(kind),
		"context": map[string]string{
			"device": gofakeit.AppName(),
		},
		"captured_at": captured,
	}
}

func generateValues(kind string) map[string]float64 {
	switch kind {
	case "glucose":
		return map[string]float64{"mg_dl": float64(gofakeit.Number(70, 180))}
	case "heart_rate":
		return map[string]float64{"bpm": float64(gofakeit.Number(48, 110))}
	case "blood_pressure":
		return map[string]float64{
			"systolic":  float64(gofakeit.Number(95, 150)),
			"diastolic": float64(gofakeit.Number(60, 95)),
		}
	case "sleep":
		return map[string]float64{"hours": float64(gofakeit.Number(4, 10))}
	case "steps":
		return map[string]float64{"count": float64(gofakeit.Number(1000, 20000))}
	default:
		return map[string]float64{"value": gofakeit.Float64Range(0, 100)}
	}
}

func post(client *http.Client, url string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
