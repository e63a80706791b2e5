package marketplace

import "fmt"

type OrderKind string

func (k OrderKind) String() string {
	return string(k)
}

const (
	OrderKindLooksRareV2 OrderKind = "looksrare-v2"
)

type OrderSide string

func (s OrderSide) String() string {
	return string(s)
}

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type TriggerKind string

const (
	TriggerKindSale           TriggerKind = "sale"
	TriggerKindCancellation   TriggerKind = "cancellation"
	TriggerKindApprovalChange TriggerKind = "approval-change"
)

type ApprovalKind string

const (
	ApprovalKindBuy  ApprovalKind = "buy-approval"
	ApprovalKindSell ApprovalKind = "sell-approval"
)

// OriginParams ties every canonical record back to the raw log it came from.
// BatchIndex disambiguates multiple records derived from a single log.
type OriginParams struct {
	TxHash          string `json:"tx_hash"`
	BlockHash       string `json:"block_hash"`
	BlockNumber     uint64 `json:"block_number"`
	TxIndex         uint64 `json:"tx_index"`
	LogIndex        uint64 `json:"log_index"`
	BatchIndex      uint64 `json:"batch_index"`
	Timestamp       uint64 `json:"timestamp"`
	ContractAddress string `json:"contract_address"`
}

// EventID is the idempotency key downstream persistence upserts on.
// It is deterministic across replays of the same chain history.
func (o OriginParams) EventID() string {
	return fmt.Sprintf("%s:%d:%d", o.TxHash, o.LogIndex, o.BatchIndex)
}

// WithBatchIndex returns a copy with the batch index replaced.
func (o OriginParams) WithBatchIndex(batchIndex uint64) OriginParams {
	o.BatchIndex = batchIndex
	return o
}

// FillEvent is a completed trade. Price is the native-asset price and is
// always present: a fill whose native price cannot be resolved is never
// emitted at all.
type FillEvent struct {
	OrderKind         OrderKind    `json:"order_kind"`
	OrderID           string       `json:"order_id"`
	OrderSide         OrderSide    `json:"order_side"`
	Maker             string       `json:"maker"`
	Taker             string       `json:"taker"`
	Price             string       `json:"price"`
	Currency          string       `json:"currency"`
	CurrencyPrice     string       `json:"currency_price"`
	UsdPrice          string       `json:"usd_price,omitempty"`
	Contract          string       `json:"contract"`
	TokenID           string       `json:"token_id"`
	Amount            string       `json:"amount"`
	OrderSourceID     string       `json:"order_source_id,omitempty"`
	AggregatorSourceID string      `json:"aggregator_source_id,omitempty"`
	FillSourceID      string       `json:"fill_source_id,omitempty"`
	OriginParams      OriginParams `json:"origin_params"`
}

// NonceCancelEvent invalidates one exact nonce for one maker. IsSubset marks
// the subset nonce namespace, which is distinct from the order nonce one.
type NonceCancelEvent struct {
	OrderKind    OrderKind    `json:"order_kind"`
	Maker        string       `json:"maker"`
	Nonce        string       `json:"nonce"`
	IsSubset     bool         `json:"is_subset"`
	OriginParams OriginParams `json:"origin_params"`
}

// BulkCancelEvent invalidates every order of the maker and side whose nonce
// is <= MinNonce.
type BulkCancelEvent struct {
	OrderKind    OrderKind    `json:"order_kind"`
	Maker        string       `json:"maker"`
	MinNonce     string       `json:"min_nonce"`
	OrderSide    OrderSide    `json:"order_side"`
	AcrossAll    bool         `json:"across_all"`
	OriginParams OriginParams `json:"origin_params"`
}

// OrderTrigger drives an order status transition in the order model.
type OrderTrigger struct {
	Kind        TriggerKind `json:"kind"`
	TxHash      string      `json:"tx_hash"`
	TxTimestamp uint64      `json:"tx_timestamp"`
}

// OrderInfo asks the order model to re-evaluate one order. Context is the
// dedup key: repeated triggers for the same cause collapse downstream.
type OrderInfo struct {
	Context string       `json:"context"`
	OrderID string       `json:"order_id"`
	Trigger OrderTrigger `json:"trigger"`
}

// FillInfo is the denormalized projection of a fill used for activity feeds
// and stats.
type FillInfo struct {
	Context   string    `json:"context"`
	OrderID   string    `json:"order_id"`
	OrderSide OrderSide `json:"order_side"`
	Contract  string    `json:"contract"`
	TokenID   string    `json:"token_id"`
	Amount    string    `json:"amount"`
	Price     string    `json:"price"`
	Timestamp uint64    `json:"timestamp"`
	Maker     string    `json:"maker"`
	Taker     string    `json:"taker"`
}

// ApprovalData names the approval state that should be re-synced.
type ApprovalData struct {
	Kind      ApprovalKind `json:"kind"`
	Contract  string       `json:"contract"`
	OrderKind OrderKind    `json:"order_kind"`
}

// MakerInfo signals that a maker's token approval state changed.
type MakerInfo struct {
	Context string       `json:"context"`
	Maker   string       `json:"maker"`
	Trigger OrderTrigger `json:"trigger"`
	Data    ApprovalData `json:"data"`
}

// OnChainData accumulates the canonical records of one normalization pass.
// It is append-only while the pass runs and owned exclusively by the engine;
// ownership moves to the caller when the pass completes.
type OnChainData struct {
	FillEvents        []FillEvent
	NonceCancelEvents []NonceCancelEvent
	BulkCancelEvents  []BulkCancelEvent
	OrderInfos        []OrderInfo
	FillInfos         []FillInfo
	MakerInfos        []MakerInfo
}

// Merge appends all records of other after the receiver's own, preserving
// each accumulator's internal order. Callers that parallelize batches merge
// worker accumulators back in chronological order.
func (d *OnChainData) Merge(other *OnChainData) {
	if other == nil {
		return
	}
	d.FillEvents = append(d.FillEvents, other.FillEvents...)
	d.NonceCancelEvents = append(d.NonceCancelEvents, other.NonceCancelEvents...)
	d.BulkCancelEvents = append(d.BulkCancelEvents, other.BulkCancelEvents...)
	d.OrderInfos = append(d.OrderInfos, other.OrderInfos...)
	d.FillInfos = append(d.FillInfos, other.FillInfos...)
	d.MakerInfos = append(d.MakerInfos, other.MakerInfos...)
}

// Empty reports whether the pass produced no records at all.
func (d *OnChainData) Empty() bool {
	return len(d.FillEvents) == 0 &&
		len(d.NonceCancelEvents) == 0 &&
		len(d.BulkCancelEvents) == 0 &&
		len(d.OrderInfos) == 0 &&
		len(d.FillInfos) == 0 &&
		len(d.MakerInfos) == 0
}
