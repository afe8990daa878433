package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/logging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/repository"
)

type recordingRunner struct {
	mu         sync.Mutex
	runs       []string
	formations []string
}

func (r *recordingRunner) RunSettlement(_ context.Context, agreementID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, agreementID)
	return nil
}

func (r *recordingRunner) CheckFormation(_ context.Context, agreementID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formations = append(r.formations, agreementID)
	return nil
}

func TestTick_CoversLiveStatuses(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()

	mk := func(id string, status models.AgreementStatus) {
		require.NoError(t, repo.CreateAgreement(ctx, &models.Agreement{ID: id, Status: status}))
	}
	mk("agr-forming", models.StatusForming)
	mk("agr-active", models.StatusActive)
	mk("agr-settling", models.StatusSettling)
	mk("agr-partial", models.StatusPartiallySettled)
	mk("agr-done", models.StatusCompleted)
	mk("agr-cancelled", models.StatusCancelled)

	runner := &recordingRunner{}
	s := New(repo, runner, time.Minute, logging.New(logging.ParseLevel("error"), "text"))
	s.Tick(ctx)

	assert.ElementsMatch(t, []string{"agr-forming"}, runner.formations)
	assert.ElementsMatch(t, []string{"agr-active", "agr-settling", "agr-partial"}, runner.runs,
		"terminal agreements are never scheduled")
}

func TestStartStop(t *testing.T) {
	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.CreateAgreement(context.Background(), &models.Agreement{ID: "agr-1", Status: models.StatusActive}))

	runner := &recordingRunner{}
	s := New(repo, runner, 5*time.Millisecond, logging.New(logging.ParseLevel("error"), "text"))
	s.Start(context.Background())

	assert.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.runs) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
}
