package lending

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

type failingRateSource struct{}

func (failingRateSource) GetRate() (*big.Int, error) {
	return nil, fmt.Errorf("feed offline")
}

func TestOracleQuoteConversion(t *testing.T) {
	adapter := NewOracleAdapter(NewStaticRateSource(testRate))

	// 1 ETH at $2000 is a 2000e18 quote value.
	quote, err := adapter.BaseToQuote(amt("1000000000000000000"))
	if err != nil {
		t.Fatalf("base to quote: %v", err)
	}
	if quote.Cmp(amt("2000000000000000000000")) != 0 {
		t.Fatalf("unexpected quote value: %s", quote)
	}

	base, err := adapter.QuoteToBase(quote)
	if err != nil {
		t.Fatalf("quote to base: %v", err)
	}
	if base.Cmp(amt("1000000000000000000")) != 0 {
		t.Fatalf("unexpected base value: %s", base)
	}
}

func TestOracleConversionTruncates(t *testing.T) {
	adapter := NewOracleAdapter(NewStaticRateSource(big.NewInt(333_00000000)))

	base, err := adapter.QuoteToBase(big.NewInt(1000))
	if err != nil {
		t.Fatalf("quote to base: %v", err)
	}
	// 1000/333 truncates to 3.
	if base.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("unexpected truncated value: %s", base)
	}
}

func TestOracleFailureSurfacesSentinel(t *testing.T) {
	adapter := NewOracleAdapter(failingRateSource{})
	if _, err := adapter.BaseToQuote(amt("1000000000000000000")); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}

	zero := NewOracleAdapter(NewStaticRateSource(big.NewInt(0)))
	if _, err := zero.BaseToQuote(amt("1000000000000000000")); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable for zero rate, got %v", err)
	}

	env := newTestEnv(t)
	env.engine.SetOracle(failingRateSource{})
	user := makeAddress(env.owner.Prefix(), 0x50)
	env.collateral.mint(user, amt("1000000000000000000"))
	env.base.mint(env.module, amt("1000000000000000000"))
	if err := env.engine.DepositCollateral(user, env.market, amt("1000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Borrow(user, env.market, amt("1000000")); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable from borrow, got %v", err)
	}
}
