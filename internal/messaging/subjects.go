package messaging

// Subject constants for the settlement message bus.
// Follow the pattern: {domain}.{category}.{resource}
const (
	// Ledger event subjects - published by the ledger bridge
	SubjectLedgerEventsEscrow = "ledger.events.escrow" // escrow created/finished/cancelled
	SubjectLedgerEventsToken  = "ledger.events.token"  // rights-token offer accepted, token burned

	// Settlement lifecycle subjects - published by the orchestrator
	SubjectSettlementCompleted = "settlement.agreements.completed"
	SubjectSettlementPartial   = "settlement.agreements.partial"
)

// Queue group names for load-balanced consumers.
// Workers in the same queue group share messages (each message processed once).
const (
	QueueSettlementWorkers = "settlement-workers"
)
