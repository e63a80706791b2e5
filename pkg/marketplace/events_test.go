package marketplace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginParamsEventID(t *testing.T) {
	origin := OriginParams{
		TxHash:     "0xab",
		LogIndex:   12,
		BatchIndex: 3,
	}
	assert.Equal(t, "0xab:12:3", origin.EventID())
}

func TestOriginParamsWithBatchIndexLeavesOriginalUntouched(t *testing.T) {
	origin := OriginParams{TxHash: "0xab", BatchIndex: 1}
	derived := origin.WithBatchIndex(2)

	assert.Equal(t, uint64(1), origin.BatchIndex)
	assert.Equal(t, uint64(2), derived.BatchIndex)
	assert.Equal(t, origin.TxHash, derived.TxHash)
}

func TestOnChainDataMergePreservesOrder(t *testing.T) {
	first := &OnChainData{
		FillEvents: []FillEvent{{OrderID: "a"}, {OrderID: "b"}},
		OrderInfos: []OrderInfo{{OrderID: "a"}},
	}
	second := &OnChainData{
		FillEvents:        []FillEvent{{OrderID: "c"}},
		NonceCancelEvents: []NonceCancelEvent{{Nonce: "5"}},
	}

	first.Merge(second)

	assert.Equal(t, []string{"a", "b", "c"}, []string{
		first.FillEvents[0].OrderID,
		first.FillEvents[1].OrderID,
		first.FillEvents[2].OrderID,
	})
	assert.Len(t, first.NonceCancelEvents, 1)
	assert.Len(t, first.OrderInfos, 1)
}

func TestOnChainDataMergeNil(t *testing.T) {
	data := &OnChainData{FillEvents: []FillEvent{{OrderID: "a"}}}
	data.Merge(nil)
	assert.Len(t, data.FillEvents, 1)
}

func TestOnChainDataEmpty(t *testing.T) {
	data := &OnChainData{}
	assert.True(t, data.Empty())

	data.MakerInfos = append(data.MakerInfos, MakerInfo{Maker: "0xa"})
	assert.False(t, data.Empty())
}
