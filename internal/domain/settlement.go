package domain

// FailureReason classifies why a submission produced no settled transaction.
type FailureReason string

const (
	FailRejected        FailureReason = "rejected"
	FailTimedOut        FailureReason = "timed_out"
	FailUnderfunded     FailureReason = "underfunded"
	FailSlippage        FailureReason = "slippage_exceeded"
	FailInvalidDelegate FailureReason = "invalid_delegate"
	FailUnknown         FailureReason = "unknown"
)

// Permanent reports whether the failure indicates a misconfiguration that
// retrying next block cannot fix.
func (r FailureReason) Permanent() bool {
	return r == FailInvalidDelegate
}

// SettlementResult is the decoded outcome of one submission: either a settled
// transaction ready to commit, or a classified failure. Err carries the decode
// diagnostic when the payload itself was malformed.
type SettlementResult struct {
	Tx      *Transaction
	Failure FailureReason
	Err     error
}

// Settled reports whether the result carries a committable transaction.
func (s SettlementResult) Settled() bool {
	return s.Tx != nil
}
