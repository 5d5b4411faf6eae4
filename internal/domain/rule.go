package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RaoPerTao is the base-unit scale of the chain: 1 TAO = 1e9 rao.
const RaoPerTao = 1_000_000_000

// TaoToRao converts a TAO-denominated decimal into integer rao, truncating
// anything below one rao.
func TaoToRao(v decimal.Decimal) int64 {
	return v.Shift(9).IntPart()
}

// RaoToTao converts integer rao back into an exact TAO decimal.
func RaoToTao(rao int64) decimal.Decimal {
	return decimal.New(rao, -9)
}

// Rule is one recurring limit order: whenever the subnet price is at or below
// ActivationPrice, stake StakeAmount TAO to ValidatorHotkey with LimitPrice as
// the worst acceptable fill. Rules are immutable after load.
type Rule struct {
	NetUID          int
	ActivationPrice decimal.Decimal // TAO per alpha
	LimitPrice      decimal.Decimal // TAO per alpha, never above ActivationPrice
	StakeAmount     decimal.Decimal // TAO per submission
	ValidatorHotkey string

	// Optional profit-taking side. Rules with a zero ProfitTarget never sell.
	ProfitTarget    decimal.Decimal // net proceeds multiplier over cost basis, > 1 when set
	SellSlippagePct decimal.Decimal // tolerated slide from sell activation down to limit, in (0, 1)
}

// SellEnabled reports whether the rule has a profit-taking side configured.
func (r Rule) SellEnabled() bool {
	return !r.ProfitTarget.IsZero()
}

// RuleSet is the validated, immutable collection of staking rules, one per
// subnet. Iteration order is declaration order.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates the rule definitions and rejects any configuration that
// could misprice an order or silently lose money. Validation failures are
// *ConfigError and must abort startup.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	one := decimal.NewFromInt(1)
	seen := make(map[int]bool, len(rules))
	for _, r := range rules {
		if seen[r.NetUID] {
			return nil, &ConfigError{NetUID: r.NetUID, Reason: "duplicate netuid"}
		}
		seen[r.NetUID] = true

		if r.LimitPrice.GreaterThan(r.ActivationPrice) {
			return nil, &ConfigError{NetUID: r.NetUID, Reason: fmt.Sprintf(
				"limit_price %s exceeds activation_price %s", r.LimitPrice, r.ActivationPrice)}
		}
		if !r.StakeAmount.IsPositive() {
			return nil, &ConfigError{NetUID: r.NetUID, Reason: fmt.Sprintf(
				"stake_amount %s must be positive", r.StakeAmount)}
		}
		if r.ValidatorHotkey == "" {
			return nil, &ConfigError{NetUID: r.NetUID, Reason: "validator_hotkey is required"}
		}

		if !r.SellEnabled() {
			continue
		}
		if r.ProfitTarget.LessThanOrEqual(one) {
			return nil, &ConfigError{NetUID: r.NetUID, Reason: fmt.Sprintf(
				"profit_target %s must be > 1", r.ProfitTarget)}
		}
		if !r.SellSlippagePct.IsPositive() || r.SellSlippagePct.GreaterThanOrEqual(one) {
			return nil, &ConfigError{NetUID: r.NetUID, Reason: fmt.Sprintf(
				"sell_slippage_pct %s must be in (0, 1)", r.SellSlippagePct)}
		}
		// Net multiplier after slippage must still clear the cost basis,
		// otherwise a fill at the limit price is a guaranteed loss.
		net := r.ProfitTarget.Mul(one.Sub(r.SellSlippagePct))
		if net.LessThanOrEqual(one) {
			return nil, &ConfigError{NetUID: r.NetUID, Reason: fmt.Sprintf(
				"profit_target %s with sell_slippage_pct %s nets %s, a loss at the limit price",
				r.ProfitTarget, r.SellSlippagePct, net)}
		}
	}
	return &RuleSet{rules: append([]Rule(nil), rules...)}, nil
}

// Rules returns the rules in declaration order.
func (s *RuleSet) Rules() []Rule {
	return s.rules
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	return len(s.rules)
}
