package market

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryKindOfClassifiesExchangeEvents(t *testing.T) {
	registry := NewRegistry()

	cases := []struct {
		event string
		want  EventKind
	}{
		{"TakerAsk", KindTakerAsk},
		{"TakerBid", KindTakerBid},
		{"NewBidAskNonces", KindNewBidAskNonces},
		{"SubsetNoncesCancelled", KindSubsetNoncesCancelled},
		{"OrderNoncesCancelled", KindOrderNoncesCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.event, func(t *testing.T) {
			kind, ok := registry.KindOf(types.Log{Topics: []common.Hash{exchangeAbi.Events[tc.event].ID}})
			require.True(t, ok)
			assert.Equal(t, tc.want, kind)
		})
	}
}

func TestRegistryKindOfRejectsUnknownAndEmptyLogs(t *testing.T) {
	registry := NewRegistry()

	_, ok := registry.KindOf(types.Log{})
	assert.False(t, ok)

	_, ok = registry.KindOf(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	assert.False(t, ok)
}

func TestRegistryTellsERC20FromERC721Transfers(t *testing.T) {
	registry := NewRegistry()

	erc20 := types.Log{
		Topics: []common.Hash{
			erc20TransferSig,
			common.HexToHash("0x01"),
			common.HexToHash("0x02"),
		},
		Data: make([]byte, 32),
	}
	kind, ok := registry.KindOf(erc20)
	require.True(t, ok)
	assert.Equal(t, KindPaymentTransfer, kind)

	// Same signature with the token id as a fourth topic and no data.
	erc721 := types.Log{
		Topics: []common.Hash{
			erc20TransferSig,
			common.HexToHash("0x01"),
			common.HexToHash("0x02"),
			common.HexToHash("0x03"),
		},
	}
	_, ok = registry.KindOf(erc721)
	assert.False(t, ok)
}

func TestRegistryTopicsCoverEveryKind(t *testing.T) {
	registry := NewRegistry()
	topics := registry.Topics()
	assert.Len(t, topics, 6)
	assert.Contains(t, topics, erc20TransferSig)
	assert.Contains(t, topics, exchangeAbi.Events["TakerBid"].ID)
}

func TestRegistryDecodeRoundTrip(t *testing.T) {
	registry := NewRegistry()

	invalidation := NonceInvalidation{
		OrderHash:          common.HexToHash("0xC0FE000000000000000000000000000000000000000000000000000000000001"),
		OrderNonce:         big.NewInt(42),
		IsNonceInvalidated: true,
	}
	data, err := exchangeAbi.Events["TakerBid"].Inputs.Pack(
		invalidation,
		common.HexToAddress("0xB000000000000000000000000000000000000001"),
		common.HexToAddress("0xA000000000000000000000000000000000000001"),
		big.NewInt(9),
		common.HexToAddress("0xC000000000000000000000000000000000000001"),
		common.HexToAddress("0xCAFE000000000000000000000000000000000001"),
		[]*big.Int{big.NewInt(7)},
		[]*big.Int{big.NewInt(1)},
		[3]*big.Int{big.NewInt(100), big.NewInt(2), big.NewInt(3)},
	)
	require.NoError(t, err)

	decoded, err := registry.DecodeTakerBid(types.Log{Data: data})
	require.NoError(t, err)
	assert.Equal(t, [32]byte(common.HexToHash("0xC0FE000000000000000000000000000000000000000000000000000000000001")), decoded.NonceInvalidationParameters.OrderHash)
	assert.Equal(t, "42", decoded.NonceInvalidationParameters.OrderNonce.String())
	assert.True(t, decoded.NonceInvalidationParameters.IsNonceInvalidated)
	assert.Equal(t, common.HexToAddress("0xB000000000000000000000000000000000000001"), decoded.BidUser)
	assert.Equal(t, common.HexToAddress("0xA000000000000000000000000000000000000001"), decoded.AskUser)
	assert.Equal(t, "9", decoded.StrategyId.String())
	require.Len(t, decoded.ItemIds, 1)
	assert.Equal(t, "7", decoded.ItemIds[0].String())
	assert.Equal(t, "105", new(big.Int).Add(decoded.FeeAmounts[0], new(big.Int).Add(decoded.FeeAmounts[1], decoded.FeeAmounts[2])).String())
}

func TestRegistryDecodeRejectsMalformedPayload(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.DecodeTakerBid(types.Log{Data: []byte{0x01}})
	assert.Error(t, err)

	_, err = registry.DecodeNewBidAskNonces(types.Log{Data: []byte{0x01}})
	assert.Error(t, err)
}
