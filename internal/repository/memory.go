package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

// MemoryRepository is an in-memory Repository used by tests and local
// development. All methods are safe for concurrent use.
type MemoryRepository struct {
	mu          sync.RWMutex
	agreements  map[string]*models.Agreement
	records     map[string]*models.DataRecord
	assessments map[string]*models.QualityAssessment
	rewards     map[string]*models.RewardRecord
	rewardKeys  map[string]string // idempotency key -> reward id
	grants      map[string]*models.AccessGrant
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		agreements:  make(map[string]*models.Agreement),
		records:     make(map[string]*models.DataRecord),
		assessments: make(map[string]*models.QualityAssessment),
		rewards:     make(map[string]*models.RewardRecord),
		rewardKeys:  make(map[string]string),
		grants:      make(map[string]*models.AccessGrant),
	}
}

func (m *MemoryRepository) CreateAgreement(_ context.Context, a *models.Agreement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneAgreement(a)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	m.agreements[cp.ID] = cp
	return nil
}

func (m *MemoryRepository) GetAgreement(_ context.Context, id string) (*models.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agreements[id]
	if !ok {
		return nil, ErrAgreementNotFound
	}
	return cloneAgreement(a), nil
}

func (m *MemoryRepository) ListAgreementsByStatus(_ context.Context, status models.AgreementStatus) ([]*models.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Agreement
	for _, a := range m.agreements {
		if a.Status == status {
			out = append(out, cloneAgreement(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) UpdateAgreementStatus(_ context.Context, id string, from, to models.AgreementStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[id]
	if !ok {
		return ErrAgreementNotFound
	}
	if a.Status != from {
		return ErrStatusConflict
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) SetEscrowHandle(_ context.Context, id, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[id]
	if !ok {
		return ErrAgreementNotFound
	}
	a.EscrowHandle = &handle
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) SetRightsToken(_ context.Context, id, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[id]
	if !ok {
		return ErrAgreementNotFound
	}
	a.RightsTokenID = &tokenID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) AddReleased(_ context.Context, id string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[id]
	if !ok {
		return ErrAgreementNotFound
	}
	if a.ReleasedAmount+amount > a.CommittedAmount {
		return ErrCommitmentExceeded
	}
	a.ReleasedAmount += amount
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) FindAgreementByEscrow(_ context.Context, handle string) (*models.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.agreements {
		if a.EscrowHandle != nil && *a.EscrowHandle == handle {
			return cloneAgreement(a), nil
		}
	}
	return nil, ErrAgreementNotFound
}

func (m *MemoryRepository) FindAgreementByToken(_ context.Context, tokenID string) (*models.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.agreements {
		if a.RightsTokenID != nil && *a.RightsTokenID == tokenID {
			return cloneAgreement(a), nil
		}
	}
	return nil, ErrAgreementNotFound
}

func (m *MemoryRepository) CreateRecord(_ context.Context, rec *models.DataRecord, assessment *models.QualityAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc := cloneRecord(rec)
	if rc.SubmittedAt.IsZero() {
		rc.SubmittedAt = time.Now().UTC()
	}
	m.records[rc.ID] = rc
	if assessment != nil {
		ac := *assessment
		m.assessments[rc.ID] = &ac
	}
	return nil
}

func (m *MemoryRepository) GetRecord(_ context.Context, id string) (*models.DataRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(r), nil
}

func (m *MemoryRepository) GetAssessment(_ context.Context, recordID string) (*models.QualityAssessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assessments[recordID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) ListUnrewardedRecords(_ context.Context, agreementID string) ([]*models.DataRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rewarded := make(map[string]bool)
	for _, rw := range m.rewards {
		if rw.AgreementID == agreementID && rw.RecordID != "" {
			rewarded[rw.RecordID] = true
		}
	}
	var out []*models.DataRecord
	for _, r := range m.records {
		if r.AgreementID == agreementID && !rewarded[r.ID] {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (m *MemoryRepository) SubmissionDays(_ context.Context, agreementID, ownerAccount string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	for _, r := range m.records {
		if r.AgreementID == agreementID && r.OwnerAccount == ownerAccount {
			seen[r.CapturedAt.UTC().Format("2006-01-02")] = true
		}
	}
	days := make([]string, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Strings(days)
	return days, nil
}

func (m *MemoryRepository) CreateReward(_ context.Context, r *models.RewardRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rewardKeys[r.IdempotencyKey]; exists {
		return ErrDuplicateReward
	}
	if r.RecordID != "" {
		for _, rw := range m.rewards {
			if rw.AgreementID == r.AgreementID && rw.RecordID == r.RecordID {
				return ErrDuplicateReward
			}
		}
	}
	cp := *r
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	m.rewards[cp.ID] = &cp
	m.rewardKeys[cp.IdempotencyKey] = cp.ID
	return nil
}

func (m *MemoryRepository) GetRewardByKey(_ context.Context, idempotencyKey string) (*models.RewardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.rewardKeys[idempotencyKey]
	if !ok {
		return nil, ErrRewardNotFound
	}
	cp := *m.rewards[id]
	return &cp, nil
}

func (m *MemoryRepository) UpdateRewardOutcome(_ context.Context, id string, from, to models.RewardOutcome, txRef, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rewards[id]
	if !ok {
		return ErrRewardNotFound
	}
	if r.Outcome != from {
		return ErrStatusConflict
	}
	r.Outcome = to
	if txRef != "" {
		r.LedgerTxRef = txRef
	}
	r.FailureReason = reason
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) ListRewardsByAgreement(_ context.Context, agreementID string) ([]*models.RewardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.RewardRecord
	for _, r := range m.rewards {
		if r.AgreementID == agreementID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) ListRewardsByOutcome(_ context.Context, agreementID string, outcome models.RewardOutcome) ([]*models.RewardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.RewardRecord
	for _, r := range m.rewards {
		if r.AgreementID == agreementID && r.Outcome == outcome {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) SumConfirmedForPeriod(_ context.Context, agreementID, recipient, period string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, r := range m.rewards {
		if r.AgreementID == agreementID && r.Recipient == recipient && r.Period == period &&
			(r.Outcome == models.OutcomeConfirmed || r.Outcome == models.OutcomeSent) {
			total += r.Amount
		}
	}
	return total, nil
}

func (m *MemoryRepository) CompletionPaid(_ context.Context, agreementID, recipient string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rewards {
		if r.AgreementID == agreementID && r.Recipient == recipient &&
			r.CompletionBonus > 0 && r.Outcome != models.OutcomeFailed {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) CreateGrant(_ context.Context, g *models.AccessGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneGrant(g)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.grants[cp.ID] = cp
	return nil
}

func (m *MemoryRepository) GetGrantByToken(_ context.Context, tokenID string) (*models.AccessGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.grants {
		if g.TokenID == tokenID {
			return cloneGrant(g), nil
		}
	}
	return nil, ErrGrantNotFound
}

func (m *MemoryRepository) UpdateGrantStatus(_ context.Context, id string, status models.GrantStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok {
		return ErrGrantNotFound
	}
	g.Status = status
	return nil
}

func (m *MemoryRepository) ListGrantsByAgreement(_ context.Context, agreementID string) ([]*models.AccessGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AccessGrant
	for _, g := range m.grants {
		if g.AgreementID == agreementID {
			out = append(out, cloneGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) Close() error { return nil }

func cloneAgreement(a *models.Agreement) *models.Agreement {
	cp := *a
	cp.Participants = append([]models.Participant(nil), a.Participants...)
	if a.Schedule != nil {
		cp.Schedule = make(map[models.RecordKind]models.RewardTerm, len(a.Schedule))
		for k, v := range a.Schedule {
			cp.Schedule[k] = v
		}
	}
	if a.GradeMultipliers != nil {
		cp.GradeMultipliers = make(map[models.Grade]float64, len(a.GradeMultipliers))
		for k, v := range a.GradeMultipliers {
			cp.GradeMultipliers[k] = v
		}
	}
	if a.PeriodTerm != nil {
		t := *a.PeriodTerm
		cp.PeriodTerm = &t
	}
	if a.EscrowHandle != nil {
		h := *a.EscrowHandle
		cp.EscrowHandle = &h
	}
	if a.RightsTokenID != nil {
		t := *a.RightsTokenID
		cp.RightsTokenID = &t
	}
	return &cp
}

func cloneRecord(r *models.DataRecord) *models.DataRecord {
	cp := *r
	if r.Values != nil {
		cp.Values = make(map[string]float64, len(r.Values))
		for k, v := range r.Values {
			cp.Values[k] = v
		}
	}
	if r.Context != nil {
		cp.Context = make(map[string]string, len(r.Context))
		for k, v := range r.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}

func cloneGrant(g *models.AccessGrant) *models.AccessGrant {
	cp := *g
	cp.Kinds = append([]models.RecordKind(nil), g.Kinds...)
	return &cp
}
