package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChainClient is the injected connection to the chain node.
type ChainClient interface {
	// GetPrice returns the subnet's current spot price in TAO per alpha.
	GetPrice(ctx context.Context, netuid int) (decimal.Decimal, error)
	// GetPoolReserves returns the subnet's AMM reserves.
	GetPoolReserves(ctx context.Context, netuid int) (*PoolReserves, error)
	// SubmitOrder signs the order with the supplied capability, submits it and
	// waits until it lands in a block or ctx expires.
	SubmitOrder(ctx context.Context, order *OrderRequest, signer Signer) (*ExtrinsicReceipt, error)
	// SubscribeBlocks returns an infinite stream of head notifications in
	// height order. The channel closes when the connection is lost or ctx ends.
	SubscribeBlocks(ctx context.Context) (<-chan Block, error)
}

// Ledger is the durable, single source of truth for positions and settled
// transactions. Commit is atomic and idempotent on ExtrinsicHash.
type Ledger interface {
	// GetPosition returns the subnet's aggregate, zero-valued when absent.
	GetPosition(ctx context.Context, netuid int) (*Position, error)
	// Commit inserts the transaction and updates the position together, or
	// does nothing and reports CommitDuplicate when the extrinsic hash is
	// already recorded.
	Commit(ctx context.Context, tx *Transaction) (CommitOutcome, error)
	// ListTransactions returns the subnet's transactions in block order.
	ListTransactions(ctx context.Context, netuid int) ([]*Transaction, error)
	// HasTransactionAt reports whether a transaction of the given kind is
	// already committed for the subnet at the given block height.
	HasTransactionAt(ctx context.Context, netuid int, blockNumber int64, kind TxKind) (bool, error)
	Close() error
}

// Signer is the opaque signing capability supplied by the wallet. The core
// never inspects key material, it only passes the handle through.
type Signer interface {
	Address() string
	Sign(payload []byte) ([]byte, error)
}

// RuntimeContext carries the run-wide identity chosen at startup: which
// network the process targets, the signing capability, and the delegate used
// when a rule does not name one. Constructed once, never mutated.
type RuntimeContext struct {
	Network       string
	Signer        Signer
	DefaultHotkey string
}
