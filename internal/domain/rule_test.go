package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sarna320/scalp/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validRule(netuid int) domain.Rule {
	return domain.Rule{
		NetUID:          netuid,
		ActivationPrice: dec("0.0884"),
		LimitPrice:      dec("0.0874"),
		StakeAmount:     dec("0.005"),
		ValidatorHotkey: "5E2LP6EnZ54m3wS8s1yPvD5c3xo71kQroBw7aUVK32TKeZ5u",
	}
}

func TestNewRuleSetAcceptsValidRules(t *testing.T) {
	rules, err := domain.NewRuleSet([]domain.Rule{validRule(64), validRule(19)})
	require.NoError(t, err)
	require.Equal(t, 2, rules.Len())

	// Declaration order is preserved.
	require.Equal(t, 64, rules.Rules()[0].NetUID)
	require.Equal(t, 19, rules.Rules()[1].NetUID)
}

func TestNewRuleSetRejectsLimitAboveActivation(t *testing.T) {
	r := validRule(64)
	r.ActivationPrice = dec("0.08")
	r.LimitPrice = dec("0.09")

	_, err := domain.NewRuleSet([]domain.Rule{r})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, 64, cfgErr.NetUID)
}

func TestNewRuleSetRejectsNonPositiveStake(t *testing.T) {
	r := validRule(1)
	r.StakeAmount = decimal.Zero
	_, err := domain.NewRuleSet([]domain.Rule{r})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	r.StakeAmount = dec("-1")
	_, err = domain.NewRuleSet([]domain.Rule{r})
	require.ErrorAs(t, err, &cfgErr)
}

func TestNewRuleSetRejectsDuplicateNetuid(t *testing.T) {
	_, err := domain.NewRuleSet([]domain.Rule{validRule(64), validRule(64)})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "duplicate")
}

func TestNewRuleSetRejectsMissingHotkey(t *testing.T) {
	r := validRule(1)
	r.ValidatorHotkey = ""
	_, err := domain.NewRuleSet([]domain.Rule{r})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNewRuleSetRejectsLossMakingSellConfig(t *testing.T) {
	r := validRule(1)
	r.ProfitTarget = dec("1.05")
	r.SellSlippagePct = dec("0.05")

	// 1.05 * 0.95 = 0.9975: a fill at the limit price loses money.
	_, err := domain.NewRuleSet([]domain.Rule{r})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "loss")

	r.ProfitTarget = dec("1.10")
	_, err = domain.NewRuleSet([]domain.Rule{r})
	require.NoError(t, err)
}

func TestNewRuleSetRejectsBadSellBounds(t *testing.T) {
	r := validRule(1)
	r.ProfitTarget = dec("0.99")
	r.SellSlippagePct = dec("0.05")
	_, err := domain.NewRuleSet([]domain.Rule{r})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	r.ProfitTarget = dec("1.2")
	r.SellSlippagePct = dec("1.5")
	_, err = domain.NewRuleSet([]domain.Rule{r})
	require.ErrorAs(t, err, &cfgErr)
}

func TestAvgEntryPrice(t *testing.T) {
	p := &domain.Position{}
	require.True(t, p.AvgEntryPrice().IsZero())

	p = &domain.Position{TotalAlphaRao: 200_000_000, TotalTaoSpentRao: 10_000_000}
	require.True(t, p.AvgEntryPrice().Equal(dec("0.05")), "got %s", p.AvgEntryPrice())
}

func TestRaoConversions(t *testing.T) {
	require.Equal(t, int64(5_000_000), domain.TaoToRao(dec("0.005")))
	require.Equal(t, int64(87_400_000), domain.TaoToRao(dec("0.0874")))
	require.True(t, domain.RaoToTao(5_000_000).Equal(dec("0.005")))
}
