package models

import "time"

// LedgerEventKind identifies the type of inbound ledger notification.
type LedgerEventKind string

const (
	EventEscrowCreated      LedgerEventKind = "escrow_created"
	EventEscrowFinished     LedgerEventKind = "escrow_finished"
	EventEscrowCancelled    LedgerEventKind = "escrow_cancelled"
	EventTokenOfferAccepted LedgerEventKind = "token_offer_accepted"
	EventTokenBurned        LedgerEventKind = "token_burned"
)

// LedgerEvent is an inbound notification from the external ledger.
// Transient: consumed by the correlator and not retained beyond audit
// logging.
type LedgerEvent struct {
	// ID is the ledger-native transaction identifier, used for deduplication.
	ID   string          `json:"id"`
	Kind LedgerEventKind `json:"kind"`

	EscrowHandle string  `json:"escrow_handle,omitempty"`
	TokenID      string  `json:"token_id,omitempty"`
	Account      string  `json:"account,omitempty"`      // destination / new owner
	Counterparty string  `json:"counterparty,omitempty"` // source account
	Amount       float64 `json:"amount,omitempty"`

	// LedgerIndex is the raw ledger sequence for ordering diagnostics.
	LedgerIndex uint64 `json:"ledger_index"`
	// Final indicates the transaction has reached ledger finality. Only
	// final events drive state transitions.
	Final bool `json:"final"`

	ReceivedAt time.Time `json:"received_at"`
}
