package domain

import "encoding/json"

// OrderRequest is a fully specified, unsigned limit-stake call. The limit
// price comes from the rule verbatim; it is the slippage ceiling fixed at
// config time.
type OrderRequest struct {
	NetUID        int
	Kind          TxKind
	Hotkey        string
	AmountRao     int64 // TAO rao for stakes, alpha rao for unstakes
	LimitPriceRao int64
	AllowPartial  bool
}

// Block is one head notification from the chain.
type Block struct {
	Number int64
	Hash   string
}

// ExtrinsicReceipt is what the chain client hands back once a submitted
// extrinsic lands in a block. RawEvents is the block's event payload for the
// decoder; the core never interprets it beyond handing it over.
type ExtrinsicReceipt struct {
	ExtrinsicHash string
	BlockHash     string
	BlockNumber   int64
	Success       bool
	DispatchError string
	RawEvents     json.RawMessage
}

// PoolReserves is the subnet's AMM state, in rao. Spot price is
// TaoInRao / AlphaInRao.
type PoolReserves struct {
	NetUID     int
	AlphaInRao int64
	TaoInRao   int64
}
