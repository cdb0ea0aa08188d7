package lending

import (
	"fmt"
	"math/big"
)

// RateSource is the external price feed contract: the latest base-asset unit
// price in quote currency, scaled 1e8, updated out of band. Implementations
// must never mutate ledger state.
type RateSource interface {
	GetRate() (*big.Int, error)
}

// StaticRateSource returns a fixed rate. Used for development deployments and
// tests.
type StaticRateSource struct {
	rate *big.Int
}

// NewStaticRateSource wraps a fixed 1e8-scaled rate.
func NewStaticRateSource(rate *big.Int) *StaticRateSource {
	src := &StaticRateSource{}
	if rate != nil {
		src.rate = new(big.Int).Set(rate)
	}
	return src
}

// GetRate implements RateSource.
func (s *StaticRateSource) GetRate() (*big.Int, error) {
	if s == nil || s.rate == nil {
		return nil, fmt.Errorf("static rate not configured")
	}
	return new(big.Int).Set(s.rate), nil
}

// OracleAdapter converts between base-asset amounts and their quote-currency
// value using the latest published rate.
type OracleAdapter struct {
	source RateSource
}

// NewOracleAdapter wraps the external price feed.
func NewOracleAdapter(source RateSource) *OracleAdapter {
	return &OracleAdapter{source: source}
}

func (o *OracleAdapter) rate() (*big.Int, error) {
	if o == nil || o.source == nil {
		return nil, ErrNilOracle
	}
	rate, err := o.source.GetRate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, ErrOracleUnavailable
	}
	return rate, nil
}

// BaseToQuote values a base-asset amount in quote currency at wad scale:
// amount × rate × 1e10 / 1e18.
func (o *OracleAdapter) BaseToQuote(amount *big.Int) (*big.Int, error) {
	rate, err := o.rate()
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	value := new(big.Int).Mul(amount, rate)
	value.Mul(value, rateBridge)
	return value.Quo(value, wad), nil
}

// QuoteToBase inverts BaseToQuote, truncating toward zero.
func (o *OracleAdapter) QuoteToBase(value *big.Int) (*big.Int, error) {
	rate, err := o.rate()
	if err != nil {
		return nil, err
	}
	if value == nil || value.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	scaled := new(big.Int).Mul(value, wad)
	den := new(big.Int).Mul(rate, rateBridge)
	return scaled.Quo(scaled, den), nil
}
