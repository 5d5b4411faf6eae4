package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sarna320/scalp/internal/domain"
)

const (
	defaultSubmitTimeout = 30 * time.Second
	commitRetries        = 3
	commitRetryBackoff   = 200 * time.Millisecond
)

// StakeEngine drives the block loop: on every head it refreshes prices,
// decides which rules fire, submits their orders, decodes confirmations and
// commits outcomes to the ledger. It keeps no authoritative state of its own;
// eligibility is re-derived each block from the ledger and the chain.
type StakeEngine struct {
	rules  *domain.RuleSet
	ledger domain.Ledger
	chain  domain.ChainClient
	rtc    *domain.RuntimeContext
	log    *zap.Logger

	builder *OrderBuilder
	decoder *EventDecoder
	planner *SellPlanner

	submitTimeout time.Duration

	// Rules switched off for the rest of the run by a permanent failure.
	disabled map[int]domain.FailureReason
}

func NewStakeEngine(
	rules *domain.RuleSet,
	ledger domain.Ledger,
	chain domain.ChainClient,
	rtc *domain.RuntimeContext,
	log *zap.Logger,
	submitTimeout time.Duration,
) *StakeEngine {
	if submitTimeout <= 0 {
		submitTimeout = defaultSubmitTimeout
	}
	return &StakeEngine{
		rules:         rules,
		ledger:        ledger,
		chain:         chain,
		rtc:           rtc,
		log:           log,
		builder:       NewOrderBuilder(),
		decoder:       NewEventDecoder(),
		planner:       NewSellPlanner(),
		submitTimeout: submitTimeout,
		disabled:      make(map[int]domain.FailureReason),
	}
}

// Run consumes the block stream until ctx is cancelled or the subscription
// ends. Blocks are handled one at a time; block N+1 is never started while N
// is still settling.
func (e *StakeEngine) Run(ctx context.Context) error {
	blocks, err := e.chain.SubscribeBlocks(ctx)
	if err != nil {
		return fmt.Errorf("subscribe blocks: %w", err)
	}
	e.log.Info("engine started",
		zap.String("network", e.rtc.Network),
		zap.String("coldkey", e.rtc.Signer.Address()),
		zap.Int("rules", e.rules.Len()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-blocks:
			if !ok {
				return errors.New("block subscription closed")
			}
			if err := e.HandleBlock(ctx, block); err != nil {
				return err
			}
		}
	}
}

// HandleBlock runs one full evaluation pass. Per-rule failures are contained;
// the only error that escapes is an exhausted ledger commit, which is fatal
// because a chain confirmation would otherwise be lost.
func (e *StakeEngine) HandleBlock(ctx context.Context, block domain.Block) error {
	e.log.Info("block", zap.Int64("height", block.Number))

	for _, rule := range e.rules.Rules() {
		if reason, off := e.disabled[rule.NetUID]; off {
			e.log.Debug("rule disabled for run",
				zap.Int("netuid", rule.NetUID), zap.String("reason", string(reason)))
			continue
		}

		price, err := e.chain.GetPrice(ctx, rule.NetUID)
		if err != nil {
			// This subnet idles this block; the others still run.
			e.log.Warn("price fetch failed",
				zap.Error(&domain.PriceFetchError{NetUID: rule.NetUID, Err: err}))
			continue
		}

		if err := e.stakePass(ctx, block, rule, price); err != nil {
			return err
		}
		if err := e.sellPass(ctx, block, rule, price); err != nil {
			return err
		}
	}
	return nil
}

// stakePass fires the rule when price is at or below activation, guarded by
// the ledger against a second submission at the same height after a restart.
func (e *StakeEngine) stakePass(ctx context.Context, block domain.Block, rule domain.Rule, price decimal.Decimal) error {
	if price.GreaterThan(rule.ActivationPrice) {
		return nil
	}

	done, err := e.ledger.HasTransactionAt(ctx, rule.NetUID, block.Number, domain.TxStake)
	if err != nil {
		e.log.Warn("ledger read failed, skipping subnet this block",
			zap.Int("netuid", rule.NetUID), zap.Error(err))
		return nil
	}
	if done {
		e.log.Debug("stake already committed at this height",
			zap.Int("netuid", rule.NetUID), zap.Int64("height", block.Number))
		return nil
	}

	e.log.Info("rule eligible",
		zap.Int("netuid", rule.NetUID),
		zap.String("price", price.String()),
		zap.String("activation", rule.ActivationPrice.String()))

	order := e.builder.BuildStake(rule, price)
	receipt, serr := e.submit(ctx, order)
	if serr != nil {
		e.noteFailure(rule, serr)
		return nil
	}

	result := e.decoder.DecodeStake(receipt.RawEvents, e.decodeContext(rule, receipt))
	return e.settle(ctx, rule, result)
}

// sellPass takes profit on rules that configured a target, once the spot
// price clears the plan's activation threshold.
func (e *StakeEngine) sellPass(ctx context.Context, block domain.Block, rule domain.Rule, price decimal.Decimal) error {
	if !rule.SellEnabled() {
		return nil
	}

	pos, err := e.ledger.GetPosition(ctx, rule.NetUID)
	if err != nil {
		e.log.Warn("ledger read failed, skipping sell pass",
			zap.Int("netuid", rule.NetUID), zap.Error(err))
		return nil
	}
	if pos.TotalAlphaRao <= 0 {
		return nil
	}

	done, err := e.ledger.HasTransactionAt(ctx, rule.NetUID, block.Number, domain.TxUnstake)
	if err != nil || done {
		return nil
	}

	reserves, err := e.chain.GetPoolReserves(ctx, rule.NetUID)
	if err != nil {
		e.log.Warn("reserve fetch failed",
			zap.Error(&domain.PriceFetchError{NetUID: rule.NetUID, Err: err}))
		return nil
	}

	plan := e.planner.Plan(rule, pos, reserves)
	if plan == nil || price.LessThan(plan.ActivationPrice()) {
		return nil
	}

	e.log.Info("sell plan activated",
		zap.Int("netuid", rule.NetUID),
		zap.String("price", price.String()),
		zap.String("activation", plan.ActivationPrice().String()),
		zap.Int64("gross_alpha_rao", plan.GrossAlphaRao),
		zap.Int64("expected_tao_net_rao", plan.ExpectedTaoNetRao))

	order := e.builder.BuildUnstake(rule, plan)
	receipt, serr := e.submit(ctx, order)
	if serr != nil {
		e.noteFailure(rule, serr)
		return nil
	}

	result := e.decoder.DecodeUnstake(receipt.RawEvents, e.decodeContext(rule, receipt))
	return e.settle(ctx, rule, result)
}

// submit signs and sends one order and waits for its receipt within the
// bounded submit window. Every outcome resolves before the pass continues.
func (e *StakeEngine) submit(ctx context.Context, order *domain.OrderRequest) (*domain.ExtrinsicReceipt, *domain.SubmissionError) {
	corr := uuid.NewString()
	e.log.Info("submitting order",
		zap.String("corr", corr),
		zap.Int("netuid", order.NetUID),
		zap.String("kind", string(order.Kind)),
		zap.Int64("amount_rao", order.AmountRao),
		zap.Int64("limit_price_rao", order.LimitPriceRao))

	sctx, cancel := context.WithTimeout(ctx, e.submitTimeout)
	defer cancel()

	receipt, err := e.chain.SubmitOrder(sctx, order, e.rtc.Signer)
	if err != nil {
		reason := domain.FailUnknown
		if errors.Is(err, context.DeadlineExceeded) {
			reason = domain.FailTimedOut
		}
		return nil, &domain.SubmissionError{NetUID: order.NetUID, Reason: reason, Err: err}
	}
	if !receipt.Success {
		return nil, classifyDispatchError(order.NetUID, receipt.DispatchError)
	}

	e.log.Info("order in block",
		zap.String("corr", corr),
		zap.Int("netuid", order.NetUID),
		zap.String("extrinsic", receipt.ExtrinsicHash),
		zap.Int64("height", receipt.BlockNumber))
	return receipt, nil
}

// settle commits a decoded result. Decode failures leave the rule eligible
// next block; a confirmed transaction must reach the ledger or the run ends.
func (e *StakeEngine) settle(ctx context.Context, rule domain.Rule, result domain.SettlementResult) error {
	if !result.Settled() {
		if result.Err != nil {
			e.log.Error("confirmation decode failed",
				zap.Int("netuid", rule.NetUID), zap.Error(result.Err))
		} else {
			e.log.Warn("order did not settle",
				zap.Int("netuid", rule.NetUID), zap.String("reason", string(result.Failure)))
		}
		if result.Failure.Permanent() {
			e.disable(rule, result.Failure)
		}
		return nil
	}

	outcome, err := e.commitWithRetry(ctx, result.Tx)
	if err != nil {
		return err
	}
	if outcome == domain.CommitDuplicate {
		e.log.Info("duplicate confirmation ignored",
			zap.Int("netuid", rule.NetUID),
			zap.String("extrinsic", result.Tx.ExtrinsicHash))
		return nil
	}

	if pos, err := e.ledger.GetPosition(ctx, rule.NetUID); err == nil {
		e.log.Info("position updated",
			zap.Int("netuid", pos.NetUID),
			zap.Int64("alpha_rao", pos.TotalAlphaRao),
			zap.Int64("tao_spent_rao", pos.TotalTaoSpentRao),
			zap.Int64("fee_paid_rao", pos.TotalFeePaidRao),
			zap.Int64("realized_profit_rao", pos.RealizedProfitRao),
			zap.String("avg_entry_price", pos.AvgEntryPrice().StringFixed(9)),
			zap.Int64("txs", pos.NumTransactions))
	}
	return nil
}

// commitWithRetry retries transient ledger failures. The confirmation is
// already on chain, so giving up means losing a transaction; exhaustion
// escalates to a fatal LedgerError.
func (e *StakeEngine) commitWithRetry(ctx context.Context, tx *domain.Transaction) (domain.CommitOutcome, error) {
	var lastErr error
	for attempt := 1; attempt <= commitRetries; attempt++ {
		outcome, err := e.ledger.Commit(ctx, tx)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		e.log.Warn("ledger commit failed",
			zap.Int("attempt", attempt),
			zap.String("extrinsic", tx.ExtrinsicHash),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(attempt) * commitRetryBackoff):
		}
	}
	return 0, &domain.LedgerError{Op: "commit", Err: lastErr}
}

func (e *StakeEngine) noteFailure(rule domain.Rule, serr *domain.SubmissionError) {
	e.log.Warn("submission failed", zap.Error(serr))
	if serr.Permanent {
		e.disable(rule, serr.Reason)
	}
}

func (e *StakeEngine) disable(rule domain.Rule, reason domain.FailureReason) {
	e.disabled[rule.NetUID] = reason
	e.log.Warn("rule disabled for remainder of run",
		zap.Int("netuid", rule.NetUID), zap.String("reason", string(reason)))
}

func (e *StakeEngine) decodeContext(rule domain.Rule, receipt *domain.ExtrinsicReceipt) DecodeContext {
	return DecodeContext{
		NetUID:        rule.NetUID,
		Coldkey:       e.rtc.Signer.Address(),
		ExtrinsicHash: receipt.ExtrinsicHash,
		BlockHash:     receipt.BlockHash,
		BlockNumber:   receipt.BlockNumber,
		Now:           time.Now().UTC(),
	}
}

// classifyDispatchError maps pallet dispatch errors onto the failure
// taxonomy. Unrecognized errors stay transient so the rule retries next
// block.
func classifyDispatchError(netuid int, msg string) *domain.SubmissionError {
	serr := &domain.SubmissionError{NetUID: netuid, Reason: domain.FailRejected}
	switch {
	case strings.Contains(msg, "SlippageTooHigh"):
		serr.Reason = domain.FailSlippage
	case strings.Contains(msg, "InsufficientBalance"), strings.Contains(msg, "NotEnoughBalanceToStake"):
		serr.Reason = domain.FailUnderfunded
	case strings.Contains(msg, "HotKeyAccountNotExists"), strings.Contains(msg, "DelegateTakeTooHigh"):
		serr.Reason = domain.FailInvalidDelegate
		serr.Permanent = true
	}
	serr.Err = errors.New(msg)
	return serr
}
