package usecase_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sarna320/scalp/internal/domain"
	"github.com/sarna320/scalp/internal/usecase"
)

func TestBuildStakeEncodesRuleVerbatim(t *testing.T) {
	b := usecase.NewOrderBuilder()
	rule := domain.Rule{
		NetUID:          64,
		ActivationPrice: decimal.RequireFromString("0.0884"),
		LimitPrice:      decimal.RequireFromString("0.0874"),
		StakeAmount:     decimal.RequireFromString("0.005"),
		ValidatorHotkey: "5Hotkey",
	}

	order := b.BuildStake(rule, decimal.RequireFromString("0.0880"))
	require.Equal(t, 64, order.NetUID)
	require.Equal(t, domain.TxStake, order.Kind)
	require.Equal(t, "5Hotkey", order.Hotkey)
	require.Equal(t, int64(5_000_000), order.AmountRao)
	require.True(t, order.AllowPartial)

	// The limit is the configured ceiling, never derived from the trigger price.
	require.Equal(t, int64(87_400_000), order.LimitPriceRao)

	again := b.BuildStake(rule, decimal.RequireFromString("0.0700"))
	require.Equal(t, order, again)
}

func TestBuildUnstakeUsesPlan(t *testing.T) {
	b := usecase.NewOrderBuilder()
	rule := domain.Rule{NetUID: 64, ValidatorHotkey: "5Hotkey"}
	plan := &usecase.SellPlan{
		NetUID:        64,
		GrossAlphaRao: 100_000_000_000,
		LimitPriceRao: 55_000_000,
	}

	order := b.BuildUnstake(rule, plan)
	require.Equal(t, domain.TxUnstake, order.Kind)
	require.Equal(t, int64(100_000_000_000), order.AmountRao)
	require.Equal(t, int64(55_000_000), order.LimitPriceRao)
	require.True(t, order.AllowPartial)
}
