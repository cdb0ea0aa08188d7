package lending

// RiskParameters groups the fixed protocol constants governing fees and
// liquidation zones. All ratios are basis points.
type RiskParameters struct {
	// FeeBps is the borrow fee charged on every loan and routed to the
	// lenders' yield pool (5% = 500).
	FeeBps uint64
	// LiquidationBonusBps is the extra collateral granted to a partial
	// liquidator on top of the repaid value (5% = 500).
	LiquidationBonusBps uint64
	// FullLiquidationDropBps is the drop below a market's minimum ratio at
	// which full liquidation opens (30% of MCR = 3000).
	FullLiquidationDropBps uint64
	// SecondsPerYear anchors the time-weighted yield fraction.
	SecondsPerYear uint64
}

// DefaultRiskParameters mirrors the protocol's launch constants.
var DefaultRiskParameters = RiskParameters{
	FeeBps:                 500,
	LiquidationBonusBps:    500,
	FullLiquidationDropBps: 3000,
	SecondsPerYear:         31_536_000,
}

// EnsureDefaults backfills zero fields with the launch constants so a
// partially populated configuration stays safe.
func (p *RiskParameters) EnsureDefaults() {
	if p.FeeBps == 0 {
		p.FeeBps = DefaultRiskParameters.FeeBps
	}
	if p.LiquidationBonusBps == 0 {
		p.LiquidationBonusBps = DefaultRiskParameters.LiquidationBonusBps
	}
	if p.FullLiquidationDropBps == 0 {
		p.FullLiquidationDropBps = DefaultRiskParameters.FullLiquidationDropBps
	}
	if p.SecondsPerYear == 0 {
		p.SecondsPerYear = DefaultRiskParameters.SecondsPerYear
	}
}
