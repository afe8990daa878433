// Package distributor sends batches of reward payments to the ledger
// gateway with bounded concurrency.
package distributor

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/ledger"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/logging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/metrics"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

// Outcome reports the result of sending one reward. Outcomes are
// index-aligned with the input batch so a failure for one recipient
// never obscures the results for the others.
type Outcome struct {
	RewardID string
	TxRef    string
	Final    bool
	Err      error
}

// Distributor fans a reward batch out to the gateway, at most
// FanoutLimit sends in flight at once.
type Distributor struct {
	gateway ledger.Gateway
	limit   int
	retry   ledger.RetryPolicy
	logger  *logging.Logger
}

func New(gateway ledger.Gateway, fanoutLimit int, retry ledger.RetryPolicy, logger *logging.Logger) *Distributor {
	if fanoutLimit <= 0 {
		fanoutLimit = 8
	}
	return &Distributor{
		gateway: gateway,
		limit:   fanoutLimit,
		retry:   retry,
		logger:  logger,
	}
}

// Distribute sends every reward in the batch from the buyer account to
// its recipient. It always returns one outcome per input reward; a
// cancelled context marks the unsent remainder with the context error.
func (d *Distributor) Distribute(ctx context.Context, agreement *models.Agreement, rewards []*models.RewardRecord) []Outcome {
	outcomes := make([]Outcome, len(rewards))
	sem := make(chan struct{}, d.limit)
	done := make(chan int)

	launched := 0
	for i, rw := range rewards {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			outcomes[i] = Outcome{RewardID: rw.ID, Err: ctx.Err()}
			continue
		}

		launched++
		go func(i int, rw *models.RewardRecord) {
			defer func() { <-sem }()
			outcomes[i] = d.send(ctx, agreement, rw)
			done <- i
		}(i, rw)
	}

	for n := 0; n < launched; n++ {
		<-done
	}
	return outcomes
}

func (d *Distributor) send(ctx context.Context, agreement *models.Agreement, rw *models.RewardRecord) Outcome {
	metrics.DistributorInFlight.Inc()
	defer metrics.DistributorInFlight.Dec()
	start := time.Now()
	defer func() { metrics.DistributorDuration.Observe(time.Since(start).Seconds()) }()

	var conf ledger.Confirmation
	err := d.retry.Do(ctx, func(ctx context.Context) error {
		var sendErr error
		conf, sendErr = d.gateway.TransferFungible(ctx, agreement.BuyerAccount, rw.Recipient, rw.Amount, rw.IdempotencyKey)
		return sendErr
	})
	if err != nil {
		d.logger.Warn("reward send failed",
			logging.AgreementID(agreement.ID),
			logging.RewardID(rw.ID),
			logging.Account(rw.Recipient),
			logging.Error(err))
		return Outcome{RewardID: rw.ID, Err: fmt.Errorf("failed to send reward %s: %w", rw.ID, err)}
	}

	d.logger.Debug("reward sent",
		logging.AgreementID(agreement.ID),
		logging.RewardID(rw.ID),
		logging.Amount(rw.Amount),
		"tx_ref", conf.TxRef)
	return Outcome{RewardID: rw.ID, TxRef: conf.TxRef, Final: conf.Final}
}
