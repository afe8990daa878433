package distributor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/ledger"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/logging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

type fakeGateway struct {
	mu        sync.Mutex
	transfers []string
	inFlight  int32
	maxSeen   int32
	failFor   map[string]error
	failTimes map[string]int // 0 means fail every time
	delay     time.Duration
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failFor: make(map[string]error), failTimes: make(map[string]int)}
}

func (g *fakeGateway) CreateEscrow(context.Context, string, string, float64, string) (string, error) {
	return "ESC-1", nil
}

func (g *fakeGateway) FinishEscrow(context.Context, string, string) (ledger.Confirmation, error) {
	return ledger.Confirmation{TxRef: "TX-FIN", Final: true}, nil
}

func (g *fakeGateway) CancelEscrow(context.Context, string) (ledger.Confirmation, error) {
	return ledger.Confirmation{TxRef: "TX-CAN", Final: true}, nil
}

func (g *fakeGateway) QueryTokenOwner(context.Context, string) (string, error) {
	return "", ledger.ErrTokenNotFound
}

func (g *fakeGateway) TransferFungible(ctx context.Context, from, to string, amount float64, memo string) (ledger.Confirmation, error) {
	cur := atomic.AddInt32(&g.inFlight, 1)
	defer atomic.AddInt32(&g.inFlight, -1)
	for {
		max := atomic.LoadInt32(&g.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&g.maxSeen, max, cur) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	err := g.failFor[to]
	if err != nil {
		if remaining, limited := g.failTimes[to]; limited {
			if remaining > 0 {
				g.failTimes[to] = remaining - 1
			} else {
				err = nil
			}
		}
	}
	g.transfers = append(g.transfers, to)
	n := len(g.transfers)
	g.mu.Unlock()

	if err != nil {
		return ledger.Confirmation{}, err
	}
	return ledger.Confirmation{TxRef: fmt.Sprintf("TX-%d", n), Final: true}, nil
}

func noRetry() ledger.RetryPolicy {
	return ledger.RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond}
}

func testLogger() *logging.Logger {
	return logging.New(logging.ParseLevel("error"), "text")
}

func batch(n int) (*models.Agreement, []*models.RewardRecord) {
	agreement := &models.Agreement{ID: "agr-1", BuyerAccount: "rBuyer1"}
	rewards := make([]*models.RewardRecord, n)
	for i := range rewards {
		rewards[i] = &models.RewardRecord{
			ID:             fmt.Sprintf("rw-%d", i),
			AgreementID:    agreement.ID,
			Recipient:      fmt.Sprintf("rSeller%d", i),
			Amount:         3.0,
			IdempotencyKey: fmt.Sprintf("key-%d", i),
			Outcome:        models.OutcomePending,
		}
	}
	return agreement, rewards
}

func TestDistribute_AllSucceed(t *testing.T) {
	gw := newFakeGateway()
	d := New(gw, 4, noRetry(), testLogger())
	agreement, rewards := batch(5)

	outcomes := d.Distribute(context.Background(), agreement, rewards)

	require.Len(t, outcomes, 5)
	for i, out := range outcomes {
		assert.Equal(t, rewards[i].ID, out.RewardID, "outcomes must align with the batch")
		assert.NoError(t, out.Err)
		assert.NotEmpty(t, out.TxRef)
		assert.True(t, out.Final)
	}
}

func TestDistribute_OneFailureDoesNotAffectOthers(t *testing.T) {
	gw := newFakeGateway()
	gw.failFor["rSeller2"] = &ledger.Error{Op: "payment", Code: "bad_destination", Transient: false}
	d := New(gw, 4, noRetry(), testLogger())
	agreement, rewards := batch(5)

	outcomes := d.Distribute(context.Background(), agreement, rewards)

	require.Len(t, outcomes, 5)
	for i, out := range outcomes {
		if i == 2 {
			assert.Error(t, out.Err)
			continue
		}
		assert.NoError(t, out.Err, "outcome %d", i)
	}
}

func TestDistribute_BoundsConcurrency(t *testing.T) {
	gw := newFakeGateway()
	gw.delay = 20 * time.Millisecond
	d := New(gw, 2, noRetry(), testLogger())
	agreement, rewards := batch(8)

	d.Distribute(context.Background(), agreement, rewards)

	assert.LessOrEqual(t, atomic.LoadInt32(&gw.maxSeen), int32(2))
}

func TestDistribute_RetriesTransientFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.failFor["rSeller0"] = &ledger.Error{Op: "payment", Code: "unavailable", Transient: true}
	gw.failTimes["rSeller0"] = 2
	d := New(gw, 1, ledger.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, testLogger())

	agreement, rewards := batch(1)
	outcomes := d.Distribute(context.Background(), agreement, rewards)

	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
	assert.Len(t, gw.transfers, 3)
}

func TestDistribute_CancelledContextMarksRemainder(t *testing.T) {
	gw := newFakeGateway()
	gw.delay = 50 * time.Millisecond
	d := New(gw, 1, noRetry(), testLogger())
	agreement, rewards := batch(4)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcomes := d.Distribute(ctx, agreement, rewards)

	require.Len(t, outcomes, 4)
	var cancelled int
	for _, out := range outcomes {
		if out.Err != nil {
			cancelled++
		}
	}
	assert.Greater(t, cancelled, 0)
}
