package models

import "time"

// GrantStatus is the lifecycle state of an access grant.
type GrantStatus string

const (
	GrantActive  GrantStatus = "active"
	GrantExpired GrantStatus = "expired"
	GrantRevoked GrantStatus = "revoked"
)

// AccessGrant binds a rights token to an agreement and a resource scope.
// Created when the orchestrator observes a ledger-confirmed rights-token
// transfer; consulted read-only by the access gate.
type AccessGrant struct {
	ID          string `json:"id"`
	TokenID     string `json:"token_id"`
	AgreementID string `json:"agreement_id"`

	// ResourceID identifies the individual's data scope the grant covers.
	ResourceID string       `json:"resource_id"`
	Kinds      []RecordKind `json:"kinds"`

	NotBefore time.Time   `json:"not_before"`
	NotAfter  time.Time   `json:"not_after"`
	Status    GrantStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// CoversKind reports whether the grant scope includes the given record kind.
// An empty kind list covers every kind in the resource scope.
func (g *AccessGrant) CoversKind(k RecordKind) bool {
	if len(g.Kinds) == 0 {
		return true
	}
	for _, kind := range g.Kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// DenialReason distinguishes why an access request was refused.
type DenialReason string

const (
	DenyNotFound      DenialReason = "not_found"
	DenyWrongOwner    DenialReason = "wrong_owner"
	DenyScopeMismatch DenialReason = "scope_mismatch"
	DenyExpired       DenialReason = "expired"
)

// Decision is the access gate result: either a grant or a typed denial.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Grant   *AccessGrant `json:"grant,omitempty"`
	Reason  DenialReason `json:"reason,omitempty"`
}
