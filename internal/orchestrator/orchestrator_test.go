package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/distributor"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/ledger"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/logging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/repository"
)

type fakeGateway struct {
	mu            sync.Mutex
	tokenOwners   map[string]string
	finishCalls   int
	cancelCalls   int
	transferCalls int
	finishErr     error
	transferErr   error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{tokenOwners: make(map[string]string)}
}

func (g *fakeGateway) CreateEscrow(context.Context, string, string, float64, string) (string, error) {
	return "ESC-1", nil
}

func (g *fakeGateway) FinishEscrow(_ context.Context, handle, _ string) (ledger.Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finishCalls++
	if g.finishErr != nil {
		return ledger.Confirmation{}, g.finishErr
	}
	return ledger.Confirmation{TxRef: fmt.Sprintf("TX-FIN-%d", g.finishCalls), Final: false}, nil
}

func (g *fakeGateway) CancelEscrow(context.Context, string) (ledger.Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	return ledger.Confirmation{TxRef: "TX-CAN", Final: true}, nil
}

func (g *fakeGateway) QueryTokenOwner(_ context.Context, tokenID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	owner, ok := g.tokenOwners[tokenID]
	if !ok {
		return "", ledger.ErrTokenNotFound
	}
	return owner, nil
}

func (g *fakeGateway) TransferFungible(_ context.Context, _, to string, _ float64, _ string) (ledger.Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transferCalls++
	if g.transferErr != nil {
		return ledger.Confirmation{}, g.transferErr
	}
	return ledger.Confirmation{TxRef: fmt.Sprintf("TX-%d", g.transferCalls), Final: true}, nil
}

func testRetry() ledger.RetryPolicy {
	return ledger.RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *repository.MemoryRepository, *fakeGateway) {
	t.Helper()

	repo := repository.NewMemoryRepository()
	gw := newFakeGateway()
	logger := logging.New(logging.ParseLevel("error"), "text")
	dist := distributor.New(gw, 4, testRetry(), logger)
	o := New(repo, gw, dist, nil, testRetry(), logger)
	return o, repo, gw
}

func bilateralAgreement(now time.Time) *models.Agreement {
	handle := "ESC-1"
	return &models.Agreement{
		ID:           "agr-1",
		Kind:         models.AgreementBilateral,
		BuyerAccount: "rBuyer1",
		Participants: []models.Participant{{AccountID: "rSeller1", Share: 1.0, Committed: true}},
		Schedule: map[models.RecordKind]models.RewardTerm{
			models.KindGlucose: {BaseAmount: 3.0, MinGrade: models.GradeC},
		},
		PeriodCap:          50,
		MinParticipants:    1,
		MinGrade:           models.GradeC,
		CommittedAmount:    500,
		EscrowHandle:       &handle,
		Status:             models.StatusActive,
		FormationDeadline:  now.Add(-time.Hour),
		WindowEnd:          now.Add(-time.Minute),
		SettlementDeadline: now.Add(24 * time.Hour),
	}
}

func addGlucoseRecord(t *testing.T, repo *repository.MemoryRepository, agreementID, id string, grade models.Grade, capturedAt time.Time) {
	t.Helper()
	rec := &models.DataRecord{
		ID:           id,
		OwnerAccount: "rSeller1",
		AgreementID:  agreementID,
		Kind:         models.KindGlucose,
		Values:       map[string]float64{"glucose_mg_dl": 104},
		CapturedAt:   capturedAt,
	}
	composite := map[models.Grade]int{models.GradeA: 95, models.GradeB: 75, models.GradeC: 60, models.GradeD: 30}[grade]
	require.NoError(t, repo.CreateRecord(context.Background(), rec, &models.QualityAssessment{
		RecordID: id, Completeness: composite, Accuracy: composite, Timeliness: composite,
		Composite: composite, Grade: grade,
	}))
}

func TestBilateralFlow(t *testing.T) {
	o, repo, gw := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	require.NoError(t, repo.CreateAgreement(ctx, a))
	addGlucoseRecord(t, repo, a.ID, "rec-1", models.GradeA, now.Add(-2*time.Hour))

	period := now.UTC().Format("2006-01-02")
	require.NoError(t, o.RunSettlement(ctx, a.ID, period))

	// Window ended: active -> settling, and the grade-A glucose record
	// paid base 3.0 x 1.5.
	got, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSettling, got.Status)

	rewards, err := repo.ListRewardsByAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.InDelta(t, 4.5, rewards[0].Amount, 1e-9)
	assert.Equal(t, models.OutcomeConfirmed, rewards[0].Outcome)

	// Rights token transfer observed: grant created, escrow finish
	// requested once.
	require.NoError(t, repo.SetRightsToken(ctx, a.ID, "NFT-1"))
	gw.tokenOwners["NFT-1"] = a.BuyerAccount
	agreement, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, o.HandleEvent(ctx, agreement, &models.LedgerEvent{
		ID: "evt-transfer", Kind: models.EventTokenOfferAccepted, TokenID: "NFT-1",
		Account: a.BuyerAccount, Final: true,
	}))
	assert.Equal(t, 1, gw.finishCalls)

	grant, err := repo.GetGrantByToken(ctx, "NFT-1")
	require.NoError(t, err)
	assert.Equal(t, models.GrantActive, grant.Status)

	// Ledger confirms the escrow finish: funds released, agreement
	// completes.
	agreement, err = repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, o.HandleEvent(ctx, agreement, &models.LedgerEvent{
		ID: "evt-finish", Kind: models.EventEscrowFinished, EscrowHandle: "ESC-1",
		Amount: 495.5, Final: true,
	}))

	got, err = repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.InDelta(t, 495.5, got.ReleasedAmount, 1e-9)
}

func TestDuplicateTokenTransferIssuesOneEscrowFinish(t *testing.T) {
	o, repo, gw := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	a.Status = models.StatusSettling
	require.NoError(t, repo.CreateAgreement(ctx, a))
	require.NoError(t, repo.SetRightsToken(ctx, a.ID, "NFT-1"))
	gw.tokenOwners["NFT-1"] = a.BuyerAccount

	event := &models.LedgerEvent{
		ID: "evt-transfer", Kind: models.EventTokenOfferAccepted, TokenID: "NFT-1",
		Account: a.BuyerAccount, Final: true,
	}
	agreement, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, o.HandleEvent(ctx, agreement, event))
	require.NoError(t, o.HandleEvent(ctx, agreement, event))

	assert.Equal(t, 1, gw.finishCalls, "replayed transfer must not finish the escrow twice")

	grants, err := repo.ListGrantsByAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1, "replayed transfer must not grant access twice")
}

func TestTokenTransferCustodyMismatchIsIgnored(t *testing.T) {
	o, repo, gw := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	require.NoError(t, repo.CreateAgreement(ctx, a))
	require.NoError(t, repo.SetRightsToken(ctx, a.ID, "NFT-1"))
	// Ledger custody disagrees with the event stream.
	gw.tokenOwners["NFT-1"] = "rSomeoneElse"

	agreement, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, o.HandleEvent(ctx, agreement, &models.LedgerEvent{
		ID: "evt-transfer", Kind: models.EventTokenOfferAccepted, TokenID: "NFT-1",
		Account: a.BuyerAccount, Final: true,
	}))

	assert.Equal(t, 0, gw.finishCalls)
	_, err = repo.GetGrantByToken(ctx, "NFT-1")
	assert.ErrorIs(t, err, repository.ErrGrantNotFound)
}

func TestRunSettlementIsIdempotent(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	require.NoError(t, repo.CreateAgreement(ctx, a))
	addGlucoseRecord(t, repo, a.ID, "rec-1", models.GradeB, now.Add(-2*time.Hour))

	period := now.UTC().Format("2006-01-02")
	require.NoError(t, o.RunSettlement(ctx, a.ID, period))
	require.NoError(t, o.RunSettlement(ctx, a.ID, period))
	require.NoError(t, o.RunSettlement(ctx, a.ID, period))

	rewards, err := repo.ListRewardsByAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, rewards, 1, "reprocessing must not duplicate rewards")
}

func TestIneligibleRecordGetsZeroReward(t *testing.T) {
	o, repo, gw := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	require.NoError(t, repo.CreateAgreement(ctx, a))
	addGlucoseRecord(t, repo, a.ID, "rec-1", models.GradeD, now.Add(-2*time.Hour))

	require.NoError(t, o.RunSettlement(ctx, a.ID, now.UTC().Format("2006-01-02")))

	rewards, err := repo.ListRewardsByAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, models.OutcomeFailed, rewards[0].Outcome)
	assert.Zero(t, rewards[0].Amount)
	assert.Equal(t, 0, gw.transferCalls)
}

func TestEarlyFinishPreconditions(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	a.WindowEnd = now.Add(24 * time.Hour) // window still open
	a.MinRecords = 2
	a.MinGrade = models.GradeB
	require.NoError(t, repo.CreateAgreement(ctx, a))
	addGlucoseRecord(t, repo, a.ID, "rec-1", models.GradeA, now.Add(-3*time.Hour))

	require.NoError(t, o.RunSettlement(ctx, a.ID, now.UTC().Format("2006-01-02")))
	got, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status, "one eligible record is below the minimum")

	addGlucoseRecord(t, repo, a.ID, "rec-2", models.GradeB, now.Add(-2*time.Hour))
	require.NoError(t, o.RunSettlement(ctx, a.ID, now.UTC().Format("2006-01-02")))

	got, err = repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSettling, got.Status)
}

func TestFormationDeadlineCancelsAndRefunds(t *testing.T) {
	o, repo, gw := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	handle := "ESC-1"
	a := &models.Agreement{
		ID:           "agr-pool",
		Kind:         models.AgreementPooled,
		BuyerAccount: "rBuyer1",
		Participants: []models.Participant{
			{AccountID: "rSeller1", Share: 0.5, Committed: true},
			{AccountID: "rSeller2", Share: 0.5, Committed: false},
		},
		MinParticipants:   2,
		CommittedAmount:   1000,
		EscrowHandle:      &handle,
		Status:            models.StatusForming,
		FormationDeadline: now.Add(-time.Hour),
	}
	require.NoError(t, repo.CreateAgreement(ctx, a))

	require.NoError(t, o.CheckFormation(ctx, a.ID))

	got, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, 1, gw.cancelCalls, "escrow must be cancelled so the buyer is refunded")
}

func TestAdminCancelSkipsEscrowAfterRelease(t *testing.T) {
	o, repo, gw := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	a.Status = models.StatusSettling
	a.ReleasedAmount = 0
	require.NoError(t, repo.CreateAgreement(ctx, a))
	require.NoError(t, repo.AddReleased(ctx, a.ID, 100))

	require.NoError(t, o.Cancel(ctx, a.ID))

	got, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, 0, gw.cancelCalls, "released funds cannot be clawed back")

	err = o.Cancel(ctx, a.ID)
	assert.Error(t, err, "terminal agreements cannot be cancelled again")
}

func TestPartialSettlementAfterDeadline(t *testing.T) {
	o, repo, gw := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	a.SettlementDeadline = now.Add(-time.Minute)
	require.NoError(t, repo.CreateAgreement(ctx, a))
	addGlucoseRecord(t, repo, a.ID, "rec-1", models.GradeA, now.Add(-2*time.Hour))

	gw.transferErr = &ledger.Error{Op: "payment", Code: "bad_destination", Transient: false}

	require.NoError(t, o.RunSettlement(ctx, a.ID, now.UTC().Format("2006-01-02")))

	got, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartiallySettled, got.Status)

	status, err := o.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, status.FailedRewards, 1, "failed payouts are surfaced for reconciliation")
}

func TestEscrowCancelledEventCancelsAgreement(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	require.NoError(t, repo.CreateAgreement(ctx, a))

	agreement, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, o.HandleEvent(ctx, agreement, &models.LedgerEvent{
		ID: "evt-cancel", Kind: models.EventEscrowCancelled, EscrowHandle: "ESC-1", Final: true,
	}))

	got, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestTokenBurnRevokesGrant(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	require.NoError(t, repo.CreateAgreement(ctx, a))
	require.NoError(t, repo.SetRightsToken(ctx, a.ID, "NFT-1"))
	require.NoError(t, repo.CreateGrant(ctx, &models.AccessGrant{
		ID: "grant-1", TokenID: "NFT-1", AgreementID: a.ID,
		ResourceID: "rSeller1", Status: models.GrantActive,
		NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour),
	}))

	agreement, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, o.HandleEvent(ctx, agreement, &models.LedgerEvent{
		ID: "evt-burn", Kind: models.EventTokenBurned, TokenID: "NFT-1", Final: true,
	}))

	grant, err := repo.GetGrantByToken(ctx, "NFT-1")
	require.NoError(t, err)
	assert.Equal(t, models.GrantRevoked, grant.Status)
}

func TestEscrowCreatedActivatesFormedAgreement(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	a.Status = models.StatusForming
	a.EscrowHandle = nil
	require.NoError(t, repo.CreateAgreement(ctx, a))

	agreement, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, o.HandleEvent(ctx, agreement, &models.LedgerEvent{
		ID: "evt-create", Kind: models.EventEscrowCreated, EscrowHandle: "ESC-1",
		Amount: 500, Final: true,
	}))

	got, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
	require.NotNil(t, got.EscrowHandle)
	assert.Equal(t, "ESC-1", *got.EscrowHandle)
}

func TestTrailingConsecutiveDays(t *testing.T) {
	tests := []struct {
		name string
		days []string
		want int
	}{
		{"empty", nil, 0},
		{"single", []string{"2026-03-10"}, 1},
		{"unbroken", []string{"2026-03-08", "2026-03-09", "2026-03-10"}, 3},
		{"gap resets", []string{"2026-03-01", "2026-03-09", "2026-03-10"}, 2},
		{"gap at end", []string{"2026-03-08", "2026-03-09", "2026-03-12"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trailingConsecutiveDays(tt.days))
		})
	}
}

func pooledAgreement(now time.Time) *models.Agreement {
	handle := "ESC-2"
	return &models.Agreement{
		ID:           "agr-pool",
		Kind:         models.AgreementPooled,
		BuyerAccount: "rBuyer1",
		Participants: []models.Participant{
			{AccountID: "rTeamA", Share: 0.6, Committed: true},
			{AccountID: "rTeamB", Share: 0.4, Committed: true},
		},
		PeriodTerm:         &models.RewardTerm{BaseAmount: 10, MinGrade: models.GradeC},
		MinParticipants:    2,
		CommittedAmount:    1000,
		EscrowHandle:       &handle,
		Status:             models.StatusActive,
		FormationDeadline:  now.Add(-time.Hour),
		WindowEnd:          now.Add(-time.Minute),
		SettlementDeadline: now.Add(24 * time.Hour),
	}
}

func addPooledRecord(t *testing.T, repo *repository.MemoryRepository, agreementID, id, owner string, grade models.Grade, capturedAt time.Time) {
	t.Helper()
	rec := &models.DataRecord{
		ID:           id,
		OwnerAccount: owner,
		AgreementID:  agreementID,
		Kind:         models.KindSteps,
		Values:       map[string]float64{"count": 9000},
		CapturedAt:   capturedAt,
	}
	composite := map[models.Grade]int{models.GradeA: 95, models.GradeB: 75, models.GradeC: 60, models.GradeD: 30}[grade]
	require.NoError(t, repo.CreateRecord(context.Background(), rec, &models.QualityAssessment{
		RecordID: id, Completeness: composite, Accuracy: composite, Timeliness: composite,
		Composite: composite, Grade: grade,
	}))
}

func TestPooledSettlementSharesPeriodRewards(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := pooledAgreement(now)
	require.NoError(t, repo.CreateAgreement(ctx, a))

	day := now.Add(-2 * time.Hour)
	// Two records for A on the same day collapse into one period reward
	// using the better assessment.
	addPooledRecord(t, repo, a.ID, "rec-a1", "rTeamA", models.GradeC, day)
	addPooledRecord(t, repo, a.ID, "rec-a2", "rTeamA", models.GradeA, day)
	addPooledRecord(t, repo, a.ID, "rec-b1", "rTeamB", models.GradeA, day)

	period := now.UTC().Format("2006-01-02")
	require.NoError(t, o.RunSettlement(ctx, a.ID, period))

	rewards, err := repo.ListRewardsByAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rewards, 2)

	byRecipient := map[string]float64{}
	for _, rw := range rewards {
		assert.Empty(t, rw.RecordID)
		assert.Equal(t, models.OutcomeConfirmed, rw.Outcome)
		byRecipient[rw.Recipient] = rw.Amount
	}
	// Base 10 x grade A 1.5, weighted by contribution share.
	assert.InDelta(t, 9.0, byRecipient["rTeamA"], 1e-9)
	assert.InDelta(t, 6.0, byRecipient["rTeamB"], 1e-9)

	// Reruns accrue nothing new: the recipient-period keys already exist.
	require.NoError(t, o.RunSettlement(ctx, a.ID, period))
	rewards, err = repo.ListRewardsByAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, rewards, 2)
}

func TestStalledEscrowFinishAttemptIsReissued(t *testing.T) {
	o, repo, gw := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	a.Status = models.StatusSettling
	require.NoError(t, repo.CreateAgreement(ctx, a))
	require.NoError(t, repo.SetRightsToken(ctx, a.ID, "NFT-1"))
	gw.tokenOwners["NFT-1"] = a.BuyerAccount

	// An earlier run persisted the attempt and crashed before the
	// gateway call resolved.
	require.NoError(t, repo.CreateReward(ctx, &models.RewardRecord{
		ID:             "rw-finish",
		AgreementID:    a.ID,
		Period:         "escrow",
		Recipient:      a.Participants[0].AccountID,
		Amount:         a.CommittedAmount,
		IdempotencyKey: escrowFinishKey(a.ID),
		Outcome:        models.OutcomePending,
	}))

	agreement, err := repo.GetAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, o.HandleEvent(ctx, agreement, &models.LedgerEvent{
		ID: "evt-transfer", Kind: models.EventTokenOfferAccepted, TokenID: "NFT-1",
		Account: a.BuyerAccount, Final: true,
	}))

	assert.Equal(t, 1, gw.finishCalls, "a stalled pending attempt must not block the finish")

	attempt, err := repo.GetRewardByKey(ctx, escrowFinishKey(a.ID))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSent, attempt.Outcome)

	// A replayed transfer finds the attempt sent and does not re-issue.
	require.NoError(t, o.HandleEvent(ctx, agreement, &models.LedgerEvent{
		ID: "evt-transfer-2", Kind: models.EventTokenOfferAccepted, TokenID: "NFT-1",
		Account: a.BuyerAccount, Final: true,
	}))
	assert.Equal(t, 1, gw.finishCalls)
}

func TestBilateralSettlementSkipsUnenrolledOwners(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := bilateralAgreement(now)
	require.NoError(t, repo.CreateAgreement(ctx, a))
	addGlucoseRecord(t, repo, a.ID, "rec-1", models.GradeA, now.Add(-3*time.Hour))

	// A record written for an account outside the agreement roster must
	// never accrue a reward, whatever its grade.
	rec := &models.DataRecord{
		ID:           "rec-x1",
		OwnerAccount: "rOutsider",
		AgreementID:  a.ID,
		Kind:         models.KindGlucose,
		Values:       map[string]float64{"glucose_mg_dl": 101},
		CapturedAt:   now.Add(-2 * time.Hour),
	}
	require.NoError(t, repo.CreateRecord(ctx, rec, &models.QualityAssessment{
		RecordID: "rec-x1", Completeness: 95, Accuracy: 95, Timeliness: 95,
		Composite: 95, Grade: models.GradeA,
	}))

	require.NoError(t, o.RunSettlement(ctx, a.ID, now.UTC().Format("2006-01-02")))

	rewards, err := repo.ListRewardsByAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, "rSeller1", rewards[0].Recipient)
	assert.Equal(t, "rec-1", rewards[0].RecordID)
}

func TestPooledSettlementIgnoresNonParticipants(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()
	now := time.Now()

	a := pooledAgreement(now)
	require.NoError(t, repo.CreateAgreement(ctx, a))
	addPooledRecord(t, repo, a.ID, "rec-x1", "rStranger", models.GradeA, now.Add(-2*time.Hour))

	require.NoError(t, o.RunSettlement(ctx, a.ID, now.UTC().Format("2006-01-02")))

	rewards, err := repo.ListRewardsByAgreement(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, rewards)
}
