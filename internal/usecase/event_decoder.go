package usecase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sarna320/scalp/internal/domain"
)

const (
	eventStakeAdded   = "StakeAdded"
	eventStakeRemoved = "StakeRemoved"

	// Both stake events carry six attributes in pallet order:
	// coldkey, validator hotkey, tao amount, alpha amount, netuid, fee.
	stakeEventAttrs = 6
)

// rawEvent is the substrate event envelope as delivered by the chain client.
type rawEvent struct {
	Event struct {
		EventID    string            `json:"event_id"`
		Attributes []json.RawMessage `json:"attributes"`
	} `json:"event"`
}

// DecodeContext is everything the decoder needs besides the payload: whose
// events to keep and which extrinsic/block they settle.
type DecodeContext struct {
	NetUID        int
	Coldkey       string
	ExtrinsicHash string
	BlockHash     string
	BlockNumber   int64
	Now           time.Time
}

// EventDecoder translates raw confirmation payloads into settlement results.
// Pure and deterministic: failures come back as values, never panics.
type EventDecoder struct{}

func NewEventDecoder() *EventDecoder {
	return &EventDecoder{}
}

// DecodeStake scans block events for the StakeAdded entry belonging to the
// context's coldkey and subnet. A payload without such an entry means the
// order did not execute and decodes as rejected.
func (d *EventDecoder) DecodeStake(raw json.RawMessage, ctx DecodeContext) domain.SettlementResult {
	return d.decode(raw, ctx, eventStakeAdded, domain.TxStake)
}

// DecodeUnstake is DecodeStake for StakeRemoved events.
func (d *EventDecoder) DecodeUnstake(raw json.RawMessage, ctx DecodeContext) domain.SettlementResult {
	return d.decode(raw, ctx, eventStakeRemoved, domain.TxUnstake)
}

func (d *EventDecoder) decode(raw json.RawMessage, ctx DecodeContext, eventID string, kind domain.TxKind) domain.SettlementResult {
	var events []rawEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return domain.SettlementResult{
			Failure: domain.FailUnknown,
			Err:     &domain.DecodeError{NetUID: ctx.NetUID, Err: err},
		}
	}

	for _, ev := range events {
		if ev.Event.EventID != eventID {
			continue
		}
		attrs := ev.Event.Attributes
		if len(attrs) != stakeEventAttrs {
			return domain.SettlementResult{
				Failure: domain.FailUnknown,
				Err: &domain.DecodeError{NetUID: ctx.NetUID, Err: fmt.Errorf(
					"%s event has %d attributes, want %d", eventID, len(attrs), stakeEventAttrs)},
			}
		}

		coldkey, err := stringAttr(attrs[0])
		if err != nil {
			return decodeFailure(ctx, "coldkey", err)
		}
		if coldkey != ctx.Coldkey {
			// Another account's stake landing in the same block.
			continue
		}
		netuid, err := intAttr(attrs[4])
		if err != nil {
			return decodeFailure(ctx, "netuid", err)
		}
		if int(netuid) != ctx.NetUID {
			continue
		}

		taoRao, err := intAttr(attrs[2])
		if err != nil {
			return decodeFailure(ctx, "tao amount", err)
		}
		alphaRao, err := intAttr(attrs[3])
		if err != nil {
			return decodeFailure(ctx, "alpha amount", err)
		}
		feeRao, err := intAttr(attrs[5])
		if err != nil {
			return decodeFailure(ctx, "fee", err)
		}

		if alphaRao == 0 || taoRao == 0 {
			// The pallet emits a zero-amount event for an order that could
			// not fill; that is a rejection, not a settlement.
			return domain.SettlementResult{Failure: domain.FailRejected}
		}

		price := decimal.NewFromInt(taoRao).Div(decimal.NewFromInt(alphaRao))
		return domain.SettlementResult{Tx: &domain.Transaction{
			NetUID:         ctx.NetUID,
			Kind:           kind,
			TaoAmountRao:   taoRao,
			AlphaAmountRao: alphaRao,
			FeePaidRao:     feeRao,
			Price:          price,
			ExtrinsicHash:  ctx.ExtrinsicHash,
			BlockHash:      ctx.BlockHash,
			BlockNumber:    ctx.BlockNumber,
			CreatedAt:      ctx.Now,
		}}
	}

	return domain.SettlementResult{Failure: domain.FailRejected}
}

func decodeFailure(ctx DecodeContext, field string, err error) domain.SettlementResult {
	return domain.SettlementResult{
		Failure: domain.FailUnknown,
		Err:     &domain.DecodeError{NetUID: ctx.NetUID, Err: fmt.Errorf("%s: %w", field, err)},
	}
}

// stringAttr accepts both bare and quoted attribute encodings.
func stringAttr(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// intAttr tolerates numeric attributes arriving as numbers or as decimal
// strings, the way substrate serializes large balances.
func intAttr(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	return strconv.ParseInt(s, 10, 64)
}
