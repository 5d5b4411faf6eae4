package usecase

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/sarna320/scalp/internal/domain"
)

const (
	ppmDen      = 1_000_000
	alphaFeePPM = 500 // 0.05% pool fee, charged in alpha, rounded up

	// Flat extrinsic fee for remove_stake_limit, in rao.
	flatFeeUnstakeRao = 135_688

	planMaxIters = 20
)

// SellPlan is a self-consistent profit-taking unstake: if GrossAlphaRao fills
// at LimitPriceRao or better, net proceeds cover the sold cost basis times the
// rule's profit target, after the alpha fee and the flat extrinsic fee.
type SellPlan struct {
	NetUID int

	ActivationPriceRao int64 // submit once spot reaches this
	LimitPriceRao      int64 // worst acceptable fill

	GrossAlphaRao       int64 // alpha put into the extrinsic
	NetAlphaIntoPoolRao int64 // alpha reaching the pool after the alpha fee
	ExpectedTaoOutRao   int64 // AMM estimate, before the flat fee
	ExpectedTaoNetRao   int64 // after the flat fee

	CostBasisRao        int64
	RequiredProceedsRao int64
}

// ActivationPrice is the plan's activation threshold in TAO per alpha.
func (p *SellPlan) ActivationPrice() decimal.Decimal {
	return domain.RaoToTao(p.ActivationPriceRao)
}

// SellPlanner computes profit-taking plans from pool reserves and the current
// position. Pure integer math; pool products go through big.Int because
// reserve products overflow 64 bits.
type SellPlanner struct {
	flatFeeRao int64
}

func NewSellPlanner() *SellPlanner {
	return &SellPlanner{flatFeeRao: flatFeeUnstakeRao}
}

// Plan iterates to a fixed point between "how much we assume will fill" and
// "how much the pool lets fill above the limit that amount requires". Returns
// nil when no profitable fill exists under current reserves.
func (p *SellPlanner) Plan(rule domain.Rule, pos *domain.Position, res *domain.PoolReserves) *SellPlan {
	if pos == nil || pos.TotalAlphaRao <= 0 || !rule.SellEnabled() {
		return nil
	}

	sellCap := pos.TotalAlphaRao
	assumedFill := sellCap

	for i := 0; i < planMaxIters; i++ {
		bounds, ok := computeSellBounds(rule, pos, assumedFill, p.flatFeeRao)
		if !ok {
			return nil
		}
		fill, netAlpha, taoOut := estimateMaxFillUnderLimit(res, bounds.limitRao, sellCap)
		if fill <= 0 {
			return nil
		}
		if fill == assumedFill {
			return p.finish(rule.NetUID, bounds, fill, netAlpha, taoOut)
		}
		if fill < assumedFill {
			assumedFill = fill
			continue
		}
		// Estimate grew; accept and stop iterating.
		assumedFill = fill
		break
	}

	bounds, ok := computeSellBounds(rule, pos, assumedFill, p.flatFeeRao)
	if !ok {
		return nil
	}
	fill, netAlpha, taoOut := estimateMaxFillUnderLimit(res, bounds.limitRao, sellCap)
	if fill <= 0 {
		return nil
	}
	return p.finish(rule.NetUID, bounds, fill, netAlpha, taoOut)
}

func (p *SellPlanner) finish(netuid int, b sellBounds, fill, netAlpha, taoOut int64) *SellPlan {
	net := taoOut - p.flatFeeRao
	if net < 0 {
		net = 0
	}
	return &SellPlan{
		NetUID:              netuid,
		ActivationPriceRao:  b.activationRao,
		LimitPriceRao:       b.limitRao,
		GrossAlphaRao:       fill,
		NetAlphaIntoPoolRao: netAlpha,
		ExpectedTaoOutRao:   taoOut,
		ExpectedTaoNetRao:   net,
		CostBasisRao:        b.costBasisRao,
		RequiredProceedsRao: b.requiredRao,
	}
}

type sellBounds struct {
	activationRao int64
	limitRao      int64
	costBasisRao  int64
	requiredRao   int64
}

// computeSellBounds derives the limit price guaranteeing the profit target
// for an assumed gross fill, and the activation price that tolerates the
// configured slippage down to that limit. Rounding is conservative: fees and
// cost basis round up against us.
func computeSellBounds(rule domain.Rule, pos *domain.Position, grossFillRao, flatFeeRao int64) (sellBounds, bool) {
	if grossFillRao <= 0 {
		return sellBounds{}, false
	}
	if grossFillRao > pos.TotalAlphaRao {
		grossFillRao = pos.TotalAlphaRao
	}

	effectiveAlpha := grossFillRao - alphaFeeRao(grossFillRao)
	if effectiveAlpha <= 0 {
		return sellBounds{}, false
	}

	costBasis := mulDivCeil(pos.TotalTaoSpentRao, grossFillRao, pos.TotalAlphaRao)
	required := decimal.NewFromInt(costBasis).Mul(rule.ProfitTarget).Ceil().IntPart() + flatFeeRao

	// Smallest limit such that floor(limit * effectiveAlpha / 1e9) >= required.
	limitRao := mulDivCeil(required, domain.RaoPerTao, effectiveAlpha)

	slMult := decimal.NewFromInt(1).Sub(rule.SellSlippagePct)
	if !slMult.IsPositive() {
		return sellBounds{}, false
	}
	activationRao := decimal.NewFromInt(limitRao).Div(slMult).Ceil().IntPart()

	return sellBounds{
		activationRao: activationRao,
		limitRao:      limitRao,
		costBasisRao:  costBasis,
		requiredRao:   required,
	}, true
}

// estimateMaxFillUnderLimit finds the largest gross alpha sale whose final
// constant-product spot price stays at or above limitRao.
func estimateMaxFillUnderLimit(res *domain.PoolReserves, limitRao, maxGrossSellRao int64) (grossFill, netAlpha, taoOut int64) {
	if res == nil || res.AlphaInRao <= 0 || res.TaoInRao <= 0 || limitRao <= 0 {
		return 0, 0, 0
	}

	alphaIn := big.NewInt(res.AlphaInRao)
	k := new(big.Int).Mul(alphaIn, big.NewInt(res.TaoInRao))

	// final spot = k * 1e9 / newAlpha^2 >= limit  =>  newAlpha <= sqrt(k*1e9/limit)
	rhs := new(big.Int).Mul(k, big.NewInt(domain.RaoPerTao))
	rhs.Quo(rhs, big.NewInt(limitRao))
	if rhs.Sign() <= 0 {
		return 0, 0, 0
	}
	maxNewAlpha := new(big.Int).Sqrt(rhs)

	netLimit := new(big.Int).Sub(maxNewAlpha, alphaIn)
	if netLimit.Sign() <= 0 || !netLimit.IsInt64() {
		if netLimit.Sign() <= 0 {
			return 0, 0, 0
		}
		netLimit.SetInt64(maxGrossSellRao) // pool absorbs more than we could ever sell
	}

	grossFill = min(maxGrossSellRao, maxGrossAlphaForNetLimit(netLimit.Int64()))
	netAlpha = netAlphaIntoPoolRao(grossFill)
	if netAlpha <= 0 {
		return 0, 0, 0
	}

	newAlpha := new(big.Int).Add(alphaIn, big.NewInt(netAlpha))
	newTao := new(big.Int).Quo(k, newAlpha)
	out := new(big.Int).Sub(big.NewInt(res.TaoInRao), newTao)
	if out.Sign() < 0 {
		return grossFill, netAlpha, 0
	}
	return grossFill, netAlpha, out.Int64()
}

func alphaFeeRao(grossRao int64) int64 {
	if grossRao <= 0 {
		return 0
	}
	return mulDivCeil(grossRao, alphaFeePPM, ppmDen)
}

func netAlphaIntoPoolRao(grossRao int64) int64 {
	net := grossRao - alphaFeeRao(grossRao)
	if net < 0 {
		return 0
	}
	return net
}

// maxGrossAlphaForNetLimit inverts the fee rounding: the largest gross amount
// whose net pool contribution stays within netLimitRao.
func maxGrossAlphaForNetLimit(netLimitRao int64) int64 {
	if netLimitRao <= 0 {
		return 0
	}
	gross := new(big.Int).Mul(big.NewInt(netLimitRao), big.NewInt(ppmDen))
	gross.Quo(gross, big.NewInt(ppmDen-alphaFeePPM))
	g := gross.Int64()
	for netAlphaIntoPoolRao(g+1) <= netLimitRao {
		g++
	}
	for g > 0 && netAlphaIntoPoolRao(g) > netLimitRao {
		g--
	}
	return g
}

func mulDivCeil(a, b, den int64) int64 {
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	q, r := new(big.Int).QuoRem(num, big.NewInt(den), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}
