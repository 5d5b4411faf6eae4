package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TxKind string

const (
	TxStake   TxKind = "stake"
	TxUnstake TxKind = "unstake"
)

// CommitOutcome reports whether a ledger commit mutated state.
type CommitOutcome int

const (
	CommitApplied CommitOutcome = iota
	CommitDuplicate
)

// Position is the aggregate of all settled transactions on one subnet.
// It is mutated only through Ledger.Commit.
type Position struct {
	NetUID            int
	TotalAlphaRao     int64
	TotalTaoSpentRao  int64
	TotalFeePaidRao   int64
	RealizedProfitRao int64
	NumTransactions   int64
	LastUpdated       time.Time
}

// AvgEntryPrice is the average TAO paid per alpha held. Zero when the
// position holds no alpha.
func (p *Position) AvgEntryPrice() decimal.Decimal {
	if p.TotalAlphaRao == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(p.TotalTaoSpentRao).Div(decimal.NewFromInt(p.TotalAlphaRao))
}

// Transaction is one settled extrinsic, append-only. ExtrinsicHash is the
// idempotency key: the ledger ignores a commit whose hash it already holds.
type Transaction struct {
	NetUID        int
	Kind          TxKind
	TaoAmountRao   int64 // TAO spent for stakes, TAO received for unstakes
	AlphaAmountRao int64 // alpha received for stakes, alpha sold for unstakes
	FeePaidRao     int64
	Price         decimal.Decimal // execution price, TAO per alpha
	ExtrinsicHash string
	BlockHash     string
	BlockNumber   int64
	CreatedAt     time.Time
}
