package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/logging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/messaging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/metrics"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/repository"
)

// EventHandler consumes a correlated ledger event together with the
// agreement it resolved to.
type EventHandler interface {
	HandleEvent(ctx context.Context, agreement *models.Agreement, event *models.LedgerEvent) error
}

// Correlator consumes raw ledger events off the message bus, discards
// duplicates and events that match no agreement, and dispatches the rest
// to the handler on hash-partitioned workers. Events for the same
// agreement always land on the same partition, so the handler observes
// them in arrival order.
type Correlator struct {
	repo    repository.Repository
	dedup   Deduper
	handler EventHandler
	logger  *logging.Logger

	partitions []chan dispatch
	wg         sync.WaitGroup
	subs       []messaging.Subscription
	mu         sync.Mutex
	started    bool
}

type dispatch struct {
	agreement *models.Agreement
	event     *models.LedgerEvent
}

// Config controls partitioning and per-partition queue depth
type Config struct {
	Partitions     int
	PartitionQueue int
}

// New creates a correlator. Partition workers start on Start.
func New(repo repository.Repository, dedup Deduper, handler EventHandler, cfg Config, logger *logging.Logger) *Correlator {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}
	if cfg.PartitionQueue <= 0 {
		cfg.PartitionQueue = 64
	}

	partitions := make([]chan dispatch, cfg.Partitions)
	for i := range partitions {
		partitions[i] = make(chan dispatch, cfg.PartitionQueue)
	}

	return &Correlator{
		repo:       repo,
		dedup:      dedup,
		handler:    handler,
		logger:     logger,
		partitions: partitions,
	}
}

// Start launches the partition workers and subscribes to the ledger
// event subjects with a shared queue group.
func (c *Correlator) Start(ctx context.Context, subscriber messaging.Subscriber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("correlator already started")
	}

	for i, ch := range c.partitions {
		c.wg.Add(1)
		go c.worker(ctx, i, ch)
	}

	for _, subject := range []string{messaging.SubjectLedgerEventsEscrow, messaging.SubjectLedgerEventsToken} {
		sub, err := subscriber.QueueSubscribe(subject, messaging.QueueSettlementWorkers, c.onMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
	}

	c.started = true
	c.logger.Info("correlator started",
		"partitions", len(c.partitions),
		"subjects", []string{messaging.SubjectLedgerEventsEscrow, messaging.SubjectLedgerEventsToken})
	return nil
}

// Stop unsubscribes, drains the partition queues, and waits for the
// workers to finish the events already accepted.
func (c *Correlator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe", logging.Error(err))
		}
	}
	c.subs = nil

	for _, ch := range c.partitions {
		close(ch)
	}
	c.wg.Wait()
	c.started = false
	c.logger.Info("correlator stopped")
}

func (c *Correlator) onMessage(ctx context.Context, msg *messaging.Message) error {
	var event models.LedgerEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		c.logger.Warn("dropping malformed ledger event",
			"subject", msg.Subject, logging.Error(err))
		return nil
	}
	metrics.EventsConsumed.WithLabelValues(string(event.Kind)).Inc()
	if event.ID == "" || event.Kind == "" {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		c.logger.Warn("dropping ledger event without id or kind", "subject", msg.Subject)
		return nil
	}

	// Resolve before marking the event seen: a transient lookup failure
	// fails the delivery for redelivery without burning the dedup mark.
	agreement, err := c.resolve(ctx, &event)
	if err != nil {
		if errors.Is(err, repository.ErrAgreementNotFound) {
			metrics.EventsDropped.WithLabelValues("unmatched").Inc()
			c.logger.Debug("ledger event matches no agreement",
				logging.EventID(event.ID), "kind", string(event.Kind))
			return nil
		}
		return fmt.Errorf("failed to resolve event %s: %w", event.ID, err)
	}

	seen, err := c.dedup.Seen(ctx, event.ID)
	if err != nil {
		// Dedup store unreachable: fail the delivery so the bus redelivers
		// rather than risking a double apply.
		return fmt.Errorf("dedup check failed for event %s: %w", event.ID, err)
	}
	if seen {
		metrics.EventsDeduplicated.Inc()
		c.logger.Debug("duplicate ledger event discarded", logging.EventID(event.ID))
		return nil
	}

	part := c.partition(agreement.ID)
	select {
	case c.partitions[part] <- dispatch{agreement: agreement, event: &event}:
	case <-ctx.Done():
		// Marked but never enqueued: clear the mark so the redelivery
		// is not discarded as a duplicate.
		if fErr := c.dedup.Forget(context.WithoutCancel(ctx), event.ID); fErr != nil {
			c.logger.Error("failed to clear dedup mark", logging.EventID(event.ID), logging.Error(fErr))
		}
		return ctx.Err()
	}
	return nil
}

func (c *Correlator) resolve(ctx context.Context, event *models.LedgerEvent) (*models.Agreement, error) {
	if event.EscrowHandle != "" {
		return c.repo.FindAgreementByEscrow(ctx, event.EscrowHandle)
	}
	if event.TokenID != "" {
		return c.repo.FindAgreementByToken(ctx, event.TokenID)
	}
	return nil, repository.ErrAgreementNotFound
}

func (c *Correlator) partition(agreementID string) int {
	h := fnv.New32a()
	h.Write([]byte(agreementID))
	return int(h.Sum32() % uint32(len(c.partitions)))
}

func (c *Correlator) worker(ctx context.Context, id int, ch <-chan dispatch) {
	defer c.wg.Done()
	for d := range ch {
		if err := c.handler.HandleEvent(ctx, d.agreement, d.event); err != nil {
			c.logger.Error("event handling failed",
				logging.AgreementID(d.agreement.ID),
				logging.EventID(d.event.ID),
				"partition", id,
				logging.Error(err))
		}
	}
}
