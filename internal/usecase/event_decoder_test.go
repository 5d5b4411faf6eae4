package usecase_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sarna320/scalp/internal/domain"
	"github.com/sarna320/scalp/internal/usecase"
)

const testColdkey = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"

func decodeCtx() usecase.DecodeContext {
	return usecase.DecodeContext{
		NetUID:        64,
		Coldkey:       testColdkey,
		ExtrinsicHash: "0xabc",
		BlockHash:     "0xdef",
		BlockNumber:   1000,
		Now:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// stakeEvents builds the raw block-event payload the chain client hands over.
func stakeEvents(eventID, coldkey string, taoRao, alphaRao int64, netuid int, feeRao int64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`[{"event":{"event_id":"%s","attributes":["%s","5Hotkey",%d,%d,%d,%d]}}]`,
		eventID, coldkey, taoRao, alphaRao, netuid, feeRao))
}

func TestDecodeStakeSuccess(t *testing.T) {
	d := usecase.NewEventDecoder()
	raw := stakeEvents("StakeAdded", testColdkey, 5_000_000, 57_000_000, 64, 136_963)

	res := d.DecodeStake(raw, decodeCtx())
	require.True(t, res.Settled())
	require.Equal(t, domain.TxStake, res.Tx.Kind)
	require.Equal(t, int64(5_000_000), res.Tx.TaoAmountRao)
	require.Equal(t, int64(57_000_000), res.Tx.AlphaAmountRao)
	require.Equal(t, int64(136_963), res.Tx.FeePaidRao)
	require.Equal(t, "0xabc", res.Tx.ExtrinsicHash)
	require.Equal(t, int64(1000), res.Tx.BlockNumber)

	// price = tao / alpha
	require.Equal(t, "0.0877192982456140", res.Tx.Price.StringFixed(16))
}

func TestDecodeStakeAcceptsStringNumerics(t *testing.T) {
	d := usecase.NewEventDecoder()
	raw := json.RawMessage(fmt.Sprintf(
		`[{"event":{"event_id":"StakeAdded","attributes":["%s","5Hotkey","5000000","57000000","64","136963"]}}]`,
		testColdkey))

	res := d.DecodeStake(raw, decodeCtx())
	require.True(t, res.Settled())
	require.Equal(t, int64(57_000_000), res.Tx.AlphaAmountRao)
}

func TestDecodeStakeMissingEventIsRejected(t *testing.T) {
	d := usecase.NewEventDecoder()
	raw := json.RawMessage(`[{"event":{"event_id":"Transfer","attributes":[]}}]`)

	res := d.DecodeStake(raw, decodeCtx())
	require.False(t, res.Settled())
	require.Equal(t, domain.FailRejected, res.Failure)
	require.NoError(t, res.Err)
}

func TestDecodeStakeZeroAmountIsRejected(t *testing.T) {
	d := usecase.NewEventDecoder()
	raw := stakeEvents("StakeAdded", testColdkey, 5_000_000, 0, 64, 136_963)

	res := d.DecodeStake(raw, decodeCtx())
	require.False(t, res.Settled())
	require.Equal(t, domain.FailRejected, res.Failure)
}

func TestDecodeStakeMalformedPayload(t *testing.T) {
	d := usecase.NewEventDecoder()

	res := d.DecodeStake(json.RawMessage(`{not json`), decodeCtx())
	require.False(t, res.Settled())
	require.Equal(t, domain.FailUnknown, res.Failure)
	var decErr *domain.DecodeError
	require.ErrorAs(t, res.Err, &decErr)
}

func TestDecodeStakeMalformedNumeric(t *testing.T) {
	d := usecase.NewEventDecoder()
	raw := json.RawMessage(fmt.Sprintf(
		`[{"event":{"event_id":"StakeAdded","attributes":["%s","5Hotkey","not-a-number",57000000,64,136963]}}]`,
		testColdkey))

	res := d.DecodeStake(raw, decodeCtx())
	require.False(t, res.Settled())
	require.Equal(t, domain.FailUnknown, res.Failure)
	require.Error(t, res.Err)
}

func TestDecodeStakeSkipsForeignColdkey(t *testing.T) {
	d := usecase.NewEventDecoder()
	raw := stakeEvents("StakeAdded", "5SomeoneElse", 5_000_000, 57_000_000, 64, 136_963)

	res := d.DecodeStake(raw, decodeCtx())
	require.False(t, res.Settled())
	require.Equal(t, domain.FailRejected, res.Failure)
}

func TestDecodeStakeSkipsOtherSubnet(t *testing.T) {
	d := usecase.NewEventDecoder()
	raw := stakeEvents("StakeAdded", testColdkey, 5_000_000, 57_000_000, 19, 136_963)

	res := d.DecodeStake(raw, decodeCtx())
	require.False(t, res.Settled())
}

func TestDecodeUnstakeSuccess(t *testing.T) {
	d := usecase.NewEventDecoder()
	raw := stakeEvents("StakeRemoved", testColdkey, 19_990_000_000, 100_000_000_000, 64, 135_688)

	res := d.DecodeUnstake(raw, decodeCtx())
	require.True(t, res.Settled())
	require.Equal(t, domain.TxUnstake, res.Tx.Kind)
	require.Equal(t, int64(19_990_000_000), res.Tx.TaoAmountRao)
	require.Equal(t, int64(100_000_000_000), res.Tx.AlphaAmountRao)
}

func TestDecodeUnstakeIgnoresStakeAdded(t *testing.T) {
	d := usecase.NewEventDecoder()
	raw := stakeEvents("StakeAdded", testColdkey, 5_000_000, 57_000_000, 64, 136_963)

	res := d.DecodeUnstake(raw, decodeCtx())
	require.False(t, res.Settled())
	require.Equal(t, domain.FailRejected, res.Failure)
}
