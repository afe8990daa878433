package logging

import "log/slog"

// Common field names for consistent logging across the service.
const (
	FieldAgreementID = "agreement_id"
	FieldRecordID    = "record_id"
	FieldRewardID    = "reward_id"
	FieldEscrowID    = "escrow_id"
	FieldTokenID     = "token_id"
	FieldEventID     = "event_id"
	FieldAccount     = "account"
	FieldAmount      = "amount"
	FieldOutcome     = "outcome"
	FieldStatus      = "status"
	FieldPeriod      = "period"
	FieldError       = "error"
)

// AgreementID returns a slog attribute for an agreement identifier.
func AgreementID(id string) slog.Attr {
	return slog.String(FieldAgreementID, id)
}

// RecordID returns a slog attribute for a data record identifier.
func RecordID(id string) slog.Attr {
	return slog.String(FieldRecordID, id)
}

// RewardID returns a slog attribute for a reward record identifier.
func RewardID(id string) slog.Attr {
	return slog.String(FieldRewardID, id)
}

// EscrowID returns a slog attribute for an escrow handle.
func EscrowID(id string) slog.Attr {
	return slog.String(FieldEscrowID, id)
}

// TokenID returns a slog attribute for a rights token identifier.
func TokenID(id string) slog.Attr {
	return slog.String(FieldTokenID, id)
}

// EventID returns a slog attribute for a ledger event identifier.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// Account returns a slog attribute for a ledger account.
func Account(id string) slog.Attr {
	return slog.String(FieldAccount, id)
}

// Amount returns a slog attribute for a monetary amount.
func Amount(v float64) slog.Attr {
	return slog.Float64(FieldAmount, v)
}

// Outcome returns a slog attribute for a reward outcome.
func Outcome(o string) slog.Attr {
	return slog.String(FieldOutcome, o)
}

// Status returns a slog attribute for an agreement status.
func Status(s string) slog.Attr {
	return slog.String(FieldStatus, s)
}

// Period returns a slog attribute for an accounting period.
func Period(p string) slog.Attr {
	return slog.String(FieldPeriod, p)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
