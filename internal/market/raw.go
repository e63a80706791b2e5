package market

import (
	"strings"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/floorline/floornode/pkg/marketplace"
)

// Every raw event starts at this batch index; rules that derive several
// records from one log count up from here (or restart at 1 where the
// persisted key space expects that).
const baseBatchIndex = 1

// RawEvent is one filtered, classified chain log ready for normalization.
type RawEvent struct {
	Kind   EventKind
	Origin marketplace.OriginParams
	Log    types.Log
}

// NewRawEvent builds the origin params off the log in canonical lowercased
// form. The block timestamp is supplied by the caller, which owns header
// lookups.
func NewRawEvent(kind EventKind, lg types.Log, timestamp uint64) RawEvent {
	return RawEvent{
		Kind: kind,
		Origin: marketplace.OriginParams{
			TxHash:          strings.ToLower(lg.TxHash.Hex()),
			BlockHash:       strings.ToLower(lg.BlockHash.Hex()),
			BlockNumber:     lg.BlockNumber,
			TxIndex:         uint64(lg.TxIndex),
			LogIndex:        uint64(lg.Index),
			BatchIndex:      baseBatchIndex,
			Timestamp:       timestamp,
			ContractAddress: strings.ToLower(lg.Address.Hex()),
		},
		Log: lg,
	}
}
