package market

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventKind tags a raw log with the marketplace semantics it carries.
type EventKind string

func (k EventKind) String() string {
	return string(k)
}

const (
	KindTakerAsk              EventKind = "taker-ask"
	KindTakerBid              EventKind = "taker-bid"
	KindNewBidAskNonces       EventKind = "new-bid-ask-nonces"
	KindSubsetNoncesCancelled EventKind = "subset-nonces-cancelled"
	KindOrderNoncesCancelled  EventKind = "order-nonces-cancelled"
	KindPaymentTransfer       EventKind = "payment-transfer"
)

// Shared between ERC-20 and ERC-721 Transfer; the two are told apart by
// topic count and data length.
var erc20TransferSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

var exchangeAbi abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(`[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "user",     "type": "address"},
      {"indexed": false, "name": "bidNonce", "type": "uint256"},
      {"indexed": false, "name": "askNonce", "type": "uint256"}
    ],
    "name": "NewBidAskNonces",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "user",         "type": "address"},
      {"indexed": false, "name": "subsetNonces", "type": "uint256[]"}
    ],
    "name": "SubsetNoncesCancelled",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "user",        "type": "address"},
      {"indexed": false, "name": "orderNonces", "type": "uint256[]"}
    ],
    "name": "OrderNoncesCancelled",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {
        "components": [
          {"name": "orderHash",          "type": "bytes32"},
          {"name": "orderNonce",         "type": "uint256"},
          {"name": "isNonceInvalidated", "type": "bool"}
        ],
        "indexed": false,
        "name": "nonceInvalidationParameters",
        "type": "tuple"
      },
      {"indexed": false, "name": "askUser",    "type": "address"},
      {"indexed": false, "name": "bidUser",    "type": "address"},
      {"indexed": false, "name": "strategyId", "type": "uint256"},
      {"indexed": false, "name": "currency",   "type": "address"},
      {"indexed": false, "name": "collection", "type": "address"},
      {"indexed": false, "name": "itemIds",    "type": "uint256[]"},
      {"indexed": false, "name": "amounts",    "type": "uint256[]"},
      {"indexed": false, "name": "feeAmounts", "type": "uint256[3]"}
    ],
    "name": "TakerAsk",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {
        "components": [
          {"name": "orderHash",          "type": "bytes32"},
          {"name": "orderNonce",         "type": "uint256"},
          {"name": "isNonceInvalidated", "type": "bool"}
        ],
        "indexed": false,
        "name": "nonceInvalidationParameters",
        "type": "tuple"
      },
      {"indexed": false, "name": "bidUser",    "type": "address"},
      {"indexed": false, "name": "askUser",    "type": "address"},
      {"indexed": false, "name": "strategyId", "type": "uint256"},
      {"indexed": false, "name": "currency",   "type": "address"},
      {"indexed": false, "name": "collection", "type": "address"},
      {"indexed": false, "name": "itemIds",    "type": "uint256[]"},
      {"indexed": false, "name": "amounts",    "type": "uint256[]"},
      {"indexed": false, "name": "feeAmounts", "type": "uint256[3]"}
    ],
    "name": "TakerBid",
    "type": "event"
  }
]`))
	if err != nil {
		panic("failed to parse exchange ABI: " + err.Error())
	}
	exchangeAbi = parsed
}

// NonceInvalidation mirrors the nonceInvalidationParameters tuple.
type NonceInvalidation struct {
	OrderHash          [32]byte
	OrderNonce         *big.Int
	IsNonceInvalidated bool
}

// TakerAskEvent is a taker selling into a maker's bid.
type TakerAskEvent struct {
	NonceInvalidationParameters NonceInvalidation
	AskUser                     common.Address
	BidUser                     common.Address
	StrategyId                  *big.Int
	Currency                    common.Address
	Collection                  common.Address
	ItemIds                     []*big.Int
	Amounts                     []*big.Int
	FeeAmounts                  [3]*big.Int
}

// TakerBidEvent is a taker buying a maker's ask.
type TakerBidEvent struct {
	NonceInvalidationParameters NonceInvalidation
	BidUser                     common.Address
	AskUser                     common.Address
	StrategyId                  *big.Int
	Currency                    common.Address
	Collection                  common.Address
	ItemIds                     []*big.Int
	Amounts                     []*big.Int
	FeeAmounts                  [3]*big.Int
}

type BidAskNoncesEvent struct {
	User     common.Address
	BidNonce *big.Int
	AskNonce *big.Int
}

type SubsetNoncesCancelledEvent struct {
	User         common.Address
	SubsetNonces []*big.Int
}

type OrderNoncesCancelledEvent struct {
	User        common.Address
	OrderNonces []*big.Int
}

// Registry maps event signature topics to kinds and owns the typed decode
// of each kind's payload. Decode failures are data errors, never panics.
type Registry struct {
	kinds map[common.Hash]EventKind
}

func NewRegistry() *Registry {
	return &Registry{
		kinds: map[common.Hash]EventKind{
			exchangeAbi.Events["TakerAsk"].ID:              KindTakerAsk,
			exchangeAbi.Events["TakerBid"].ID:              KindTakerBid,
			exchangeAbi.Events["NewBidAskNonces"].ID:       KindNewBidAskNonces,
			exchangeAbi.Events["SubsetNoncesCancelled"].ID: KindSubsetNoncesCancelled,
			exchangeAbi.Events["OrderNoncesCancelled"].ID:  KindOrderNoncesCancelled,
			erc20TransferSig:                               KindPaymentTransfer,
		},
	}
}

// KindOf classifies a raw log. ERC-20 transfers are recognized so they flow
// into the transaction-scoped cache, even though no handler consumes them
// directly.
func (r *Registry) KindOf(lg types.Log) (EventKind, bool) {
	if len(lg.Topics) == 0 {
		return "", false
	}
	kind, ok := r.kinds[lg.Topics[0]]
	if !ok {
		return "", false
	}
	if kind == KindPaymentTransfer && !looksLikeERC20Transfer(lg) {
		return "", false
	}
	return kind, true
}

// Topics returns every signature topic the registry recognizes, for log
// filter queries.
func (r *Registry) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(r.kinds))
	for topic := range r.kinds {
		topics = append(topics, topic)
	}
	return topics
}

func (r *Registry) DecodeTakerAsk(lg types.Log) (*TakerAskEvent, error) {
	var event TakerAskEvent
	if err := exchangeAbi.UnpackIntoInterface(&event, "TakerAsk", lg.Data); err != nil {
		return nil, fmt.Errorf("unpack TakerAsk: %w", err)
	}
	return &event, nil
}

func (r *Registry) DecodeTakerBid(lg types.Log) (*TakerBidEvent, error) {
	var event TakerBidEvent
	if err := exchangeAbi.UnpackIntoInterface(&event, "TakerBid", lg.Data); err != nil {
		return nil, fmt.Errorf("unpack TakerBid: %w", err)
	}
	return &event, nil
}

func (r *Registry) DecodeNewBidAskNonces(lg types.Log) (*BidAskNoncesEvent, error) {
	var event BidAskNoncesEvent
	if err := exchangeAbi.UnpackIntoInterface(&event, "NewBidAskNonces", lg.Data); err != nil {
		return nil, fmt.Errorf("unpack NewBidAskNonces: %w", err)
	}
	return &event, nil
}

func (r *Registry) DecodeSubsetNoncesCancelled(lg types.Log) (*SubsetNoncesCancelledEvent, error) {
	var event SubsetNoncesCancelledEvent
	if err := exchangeAbi.UnpackIntoInterface(&event, "SubsetNoncesCancelled", lg.Data); err != nil {
		return nil, fmt.Errorf("unpack SubsetNoncesCancelled: %w", err)
	}
	return &event, nil
}

func (r *Registry) DecodeOrderNoncesCancelled(lg types.Log) (*OrderNoncesCancelledEvent, error) {
	var event OrderNoncesCancelledEvent
	if err := exchangeAbi.UnpackIntoInterface(&event, "OrderNoncesCancelled", lg.Data); err != nil {
		return nil, fmt.Errorf("unpack OrderNoncesCancelled: %w", err)
	}
	return &event, nil
}

func looksLikeERC20Transfer(lg types.Log) bool {
	// ERC-721 uses the same signature but indexes the token id as a fourth
	// topic and carries no data.
	return len(lg.Topics) == 3 && len(lg.Data) > 0
}
