package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	wad         = mustBigInt("1000000000000000000") // 1e18 fixed-point scale
	rateBridge  = mustBigInt("10000000000")         // 1e10, lifts 1e8 oracle rates to wad
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// mulDiv computes a*b/den, truncating toward zero. A nil or zero denominator
// is a programming error: every caller must guard it, so mulDiv panics rather
// than masking the bug with a silent zero.
func mulDiv(a, b, den *big.Int) *big.Int {
	if den == nil || den.Sign() == 0 {
		panic("lending engine: zero denominator")
	}
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// bpsShare computes amount*bps/10_000, truncating.
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	return mulDiv(amount, new(big.Int).SetUint64(bps), basisPoints)
}

// ratioBps computes collateral*10_000/value, truncating. The result is the
// health factor in basis points.
func ratioBps(collateral, value *big.Int) *big.Int {
	return mulDiv(collateral, basisPoints, value)
}
