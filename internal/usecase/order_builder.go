package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/sarna320/scalp/internal/domain"
)

// OrderBuilder turns an eligible rule into a concrete limit-stake call. It
// makes no eligibility decisions; the engine calls it only after a rule has
// qualified.
type OrderBuilder struct{}

func NewOrderBuilder() *OrderBuilder {
	return &OrderBuilder{}
}

// BuildStake encodes the rule's limit price verbatim. The price that
// triggered the order never shapes it: the slippage ceiling is fixed at
// config time.
func (b *OrderBuilder) BuildStake(rule domain.Rule, currentPrice decimal.Decimal) *domain.OrderRequest {
	return &domain.OrderRequest{
		NetUID:        rule.NetUID,
		Kind:          domain.TxStake,
		Hotkey:        rule.ValidatorHotkey,
		AmountRao:     domain.TaoToRao(rule.StakeAmount),
		LimitPriceRao: domain.TaoToRao(rule.LimitPrice),
		AllowPartial:  true,
	}
}

// BuildUnstake encodes a profit-taking sell from a computed plan.
func (b *OrderBuilder) BuildUnstake(rule domain.Rule, plan *SellPlan) *domain.OrderRequest {
	return &domain.OrderRequest{
		NetUID:        rule.NetUID,
		Kind:          domain.TxUnstake,
		Hotkey:        rule.ValidatorHotkey,
		AmountRao:     plan.GrossAlphaRao,
		LimitPriceRao: plan.LimitPriceRao,
		AllowPartial:  true,
	}
}
