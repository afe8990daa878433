// Package access gates data reads on current rights-token ownership.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/ledger"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/logging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/metrics"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/repository"
)

// Request identifies one access check.
type Request struct {
	TokenID    string
	Requester  string
	ResourceID string
	Kind       models.RecordKind
	// Fresh bypasses the ownership cache and queries the ledger directly.
	Fresh bool
}

// Gate answers whether a requester may read a resource right now.
type Gate struct {
	repo    repository.Repository
	gateway ledger.Gateway
	cache   OwnershipCache
	logger  *logging.Logger
}

func NewGate(repo repository.Repository, gateway ledger.Gateway, cache OwnershipCache, logger *logging.Logger) *Gate {
	return &Gate{repo: repo, gateway: gateway, cache: cache, logger: logger}
}

// Authorize checks token custody, grant scope, and validity in that
// order. Denials carry a typed reason and reveal nothing about other
// resources; errors are reserved for infrastructure failures.
func (g *Gate) Authorize(ctx context.Context, req Request) (models.Decision, error) {
	owner, err := g.tokenOwner(ctx, req)
	if err != nil {
		if errors.Is(err, ledger.ErrTokenNotFound) {
			return g.deny(req, models.DenyNotFound), nil
		}
		return models.Decision{}, fmt.Errorf("failed to query token owner: %w", err)
	}
	if owner != req.Requester {
		return g.deny(req, models.DenyWrongOwner), nil
	}

	grant, err := g.repo.GetGrantByToken(ctx, req.TokenID)
	if err != nil {
		if errors.Is(err, repository.ErrGrantNotFound) {
			return g.deny(req, models.DenyNotFound), nil
		}
		return models.Decision{}, fmt.Errorf("failed to load grant: %w", err)
	}

	if grant.ResourceID != req.ResourceID || !grant.CoversKind(req.Kind) {
		return g.deny(req, models.DenyScopeMismatch), nil
	}

	now := timeNow()
	if grant.Status != models.GrantActive || now.Before(grant.NotBefore) || now.After(grant.NotAfter) {
		return g.deny(req, models.DenyExpired), nil
	}

	metrics.AccessDecisions.WithLabelValues("allowed").Inc()
	return models.Decision{Allowed: true, Grant: grant}, nil
}

func (g *Gate) tokenOwner(ctx context.Context, req Request) (string, error) {
	if !req.Fresh && g.cache != nil {
		if owner, ok := g.cache.Get(ctx, req.TokenID); ok {
			return owner, nil
		}
	}

	owner, err := g.gateway.QueryTokenOwner(ctx, req.TokenID)
	if err != nil {
		return "", err
	}
	if g.cache != nil {
		g.cache.Set(ctx, req.TokenID, owner)
	}
	return owner, nil
}

func (g *Gate) deny(req Request, reason models.DenialReason) models.Decision {
	metrics.AccessDecisions.WithLabelValues(string(reason)).Inc()
	g.logger.Debug("access denied",
		logging.TokenID(req.TokenID),
		logging.Account(req.Requester),
		"reason", string(reason))
	return models.Decision{Allowed: false, Reason: reason}
}
