package market

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceResolverNativeAndWrappedNativePassThrough(t *testing.T) {
	resolver := NewDefaultPriceResolver(0, 0)

	price, err := resolver.Resolve(context.Background(), nativeCurrencyAddress, big.NewInt(12345), 1700000000)
	require.NoError(t, err)
	assert.Equal(t, "12345", price.NativePrice.String())
	assert.Nil(t, price.UsdPrice)

	price, err = resolver.Resolve(context.Background(), wrappedNativeEthereum, big.NewInt(777), 1700000000)
	require.NoError(t, err)
	assert.Equal(t, "777", price.NativePrice.String())
}

func TestPriceResolverCurrencyCaseInsensitive(t *testing.T) {
	resolver := NewDefaultPriceResolver(0, 0)

	price, err := resolver.Resolve(context.Background(), "0xC02AAA39B223FE8D0A0E5C4F27EAD9083C756CC2", big.NewInt(10), 1700000000)
	require.NoError(t, err)
	assert.Equal(t, "10", price.NativePrice.String())
}

func TestPriceResolverUnknownCurrencyFails(t *testing.T) {
	resolver := NewDefaultPriceResolver(0, 0)

	_, err := resolver.Resolve(context.Background(), "0x1111111111111111111111111111111111111111", big.NewInt(10), 1700000000)
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestPriceResolverRegisteredRateConverts(t *testing.T) {
	resolver := NewDefaultPriceResolver(0, 0)
	// 1 unit of the currency is worth 2 wei.
	resolver.RegisterRate("0x2222222222222222222222222222222222222222", big.NewRat(2, 1))

	price, err := resolver.Resolve(context.Background(), "0x2222222222222222222222222222222222222222", big.NewInt(100), 1700000000)
	require.NoError(t, err)
	assert.Equal(t, "200", price.NativePrice.String())
}

func TestPriceResolverUsdFromConfiguredRate(t *testing.T) {
	// 2000 USD per ether.
	resolver := NewDefaultPriceResolver(2000, 0)

	oneEther := new(big.Int).SetUint64(1e18)
	price, err := resolver.Resolve(context.Background(), nativeCurrencyAddress, oneEther, 1700000000)
	require.NoError(t, err)
	assert.Equal(t, oneEther.String(), price.NativePrice.String())
	require.NotNil(t, price.UsdPrice)
	assert.Equal(t, "2000", price.UsdPrice.String())

	halfEther := new(big.Int).SetUint64(5e17)
	price, err = resolver.Resolve(context.Background(), nativeCurrencyAddress, halfEther, 1700000000)
	require.NoError(t, err)
	assert.Equal(t, "1000", price.UsdPrice.String())
}

func TestPriceResolverCanceledContext(t *testing.T) {
	resolver := NewDefaultPriceResolver(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := resolver.Resolve(ctx, nativeCurrencyAddress, big.NewInt(1), 1700000000)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPriceUnavailable)
}
