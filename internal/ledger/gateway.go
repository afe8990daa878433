// Package ledger defines the gateway to the external ledger network. The
// ledger itself (signing, consensus, finality) is out of scope; the service
// only issues requests and consumes confirmations through this interface.
package ledger

import "context"

// Confirmation is the result of a submitted ledger transaction. Only
// confirmations with Final set are authoritative for state transitions; a
// non-final confirmation means the transaction was accepted but has not
// reached ledger finality yet.
type Confirmation struct {
	TxRef string `json:"tx_ref"`
	Final bool   `json:"final"`
}

// Gateway is the narrow request/response interface to the ledger bridge.
// All calls cross an unreliable network; implementations return typed
// errors so callers can distinguish transient from terminal failures.
type Gateway interface {
	// CreateEscrow places a conditional hold of funds from payer to payee.
	// The returned handle correlates later finish/cancel operations and
	// inbound escrow events.
	CreateEscrow(ctx context.Context, payer, payee string, amount float64, releaseCondition string) (string, error)

	// FinishEscrow releases escrowed funds to the payee. proof satisfies
	// the escrow's release condition.
	FinishEscrow(ctx context.Context, handle, proof string) (Confirmation, error)

	// CancelEscrow returns escrowed funds to the payer.
	CancelEscrow(ctx context.Context, handle string) (Confirmation, error)

	// QueryTokenOwner returns the account currently holding a rights token.
	QueryTokenOwner(ctx context.Context, tokenID string) (string, error)

	// TransferFungible moves reward tokens between accounts.
	TransferFungible(ctx context.Context, from, to string, amount float64, memo string) (Confirmation, error)
}
