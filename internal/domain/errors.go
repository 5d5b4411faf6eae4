package domain

import "fmt"

// ConfigError reports an invalid rule definition. Fatal: the process must not
// start with a ruleset that fails validation.
type ConfigError struct {
	NetUID int
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("subnet %d: %s", e.NetUID, e.Reason)
}

// PriceFetchError means one subnet's price could not be read this block. The
// subnet is skipped until the next block; other subnets are unaffected.
type PriceFetchError struct {
	NetUID int
	Err    error
}

func (e *PriceFetchError) Error() string {
	return fmt.Sprintf("price fetch for subnet %d: %v", e.NetUID, e.Err)
}

func (e *PriceFetchError) Unwrap() error { return e.Err }

// SubmissionError classifies a failed order submission. Permanent errors
// disable the rule for the rest of the run; transient ones retry naturally on
// the next qualifying block.
type SubmissionError struct {
	NetUID    int
	Reason    FailureReason
	Permanent bool
	Err       error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission for subnet %d failed (%s): %v", e.NetUID, e.Reason, e.Err)
	}
	return fmt.Sprintf("submission for subnet %d failed (%s)", e.NetUID, e.Reason)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// DecodeError means a confirmation payload could not be interpreted. Treated
// like a failed submission for rule state, logged separately for diagnosis.
type DecodeError struct {
	NetUID int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode for subnet %d: %v", e.NetUID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// LedgerError wraps a storage failure. Fatal when persistence is unavailable
// at startup or a commit retry loop is exhausted; individual commit attempts
// are retried because the chain confirmation in hand is the source of truth.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }
