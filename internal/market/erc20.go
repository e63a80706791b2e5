package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PaymentScanner finds the ERC-20 contract (if any) used as payment inside
// one transaction's logs. A hit triggers re-synchronization of the maker's
// token approval state.
type PaymentScanner interface {
	Scan(logs []types.Log) (common.Address, bool)
}

func NewDefaultPaymentScanner() *DefaultPaymentScanner {
	return &DefaultPaymentScanner{}
}

type DefaultPaymentScanner struct{}

func (s *DefaultPaymentScanner) Scan(logs []types.Log) (common.Address, bool) {
	for _, lg := range logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != erc20TransferSig {
			continue
		}
		if !looksLikeERC20Transfer(lg) {
			continue
		}
		if new(big.Int).SetBytes(lg.Data).Sign() <= 0 {
			continue
		}
		return lg.Address, true
	}
	return common.Address{}, false
}
