package market

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"
)

// ErrPriceUnavailable means no native-asset price exists for the currency.
// For a fill this is fatal to the record: the engine drops the whole fill
// rather than persist one without a native price.
var ErrPriceUnavailable = errors.New("no native price available for currency")

// Price is the resolved value of one unit of the traded asset.
type Price struct {
	// NativePrice is denominated in the chain's native asset (wei).
	NativePrice *big.Int
	// UsdPrice is denominated in whole USD; nil when no USD rate is known.
	UsdPrice *big.Int
}

type PriceResolver interface {
	Resolve(ctx context.Context, currency string, unitPrice *big.Int, timestamp uint64) (Price, error)
}

const (
	nativeCurrencyAddress  = "0x0000000000000000000000000000000000000000"
	wrappedNativeEthereum  = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	oneEtherInWei          = 1e18
	defaultResolverTimeout = 5 * time.Second
)

// DefaultPriceResolver knows the native currency, its canonical wrapper, and
// any extra currencies registered with an explicit native conversion rate.
type DefaultPriceResolver struct {
	// rate numerator/denominator: native wei per smallest currency unit.
	rates   map[string]*big.Rat
	ethUsd  *big.Int
	timeout time.Duration
}

func NewDefaultPriceResolver(ethUsd uint64, timeout time.Duration) *DefaultPriceResolver {
	if timeout == 0 {
		timeout = defaultResolverTimeout
	}
	one := big.NewRat(1, 1)
	return &DefaultPriceResolver{
		rates: map[string]*big.Rat{
			nativeCurrencyAddress: one,
			wrappedNativeEthereum: one,
		},
		ethUsd:  new(big.Int).SetUint64(ethUsd),
		timeout: timeout,
	}
}

// RegisterRate adds a conversion rate for a currency: native wei received
// per smallest unit of the currency.
func (p *DefaultPriceResolver) RegisterRate(currency string, rate *big.Rat) {
	p.rates[strings.ToLower(currency)] = rate
}

func (p *DefaultPriceResolver) Resolve(ctx context.Context, currency string, unitPrice *big.Int, timestamp uint64) (Price, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return Price{}, err
	}

	rate, ok := p.rates[strings.ToLower(currency)]
	if !ok {
		return Price{}, ErrPriceUnavailable
	}

	native := new(big.Int).Mul(unitPrice, rate.Num())
	native.Quo(native, rate.Denom())

	price := Price{NativePrice: native}
	if p.ethUsd.Sign() > 0 {
		usd := new(big.Int).Mul(native, p.ethUsd)
		usd.Quo(usd, big.NewInt(oneEtherInWei))
		price.UsdPrice = usd
	}
	return price, nil
}
