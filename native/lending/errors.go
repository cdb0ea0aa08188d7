package lending

import "errors"

// Sentinel errors returned by the ledger engine. Every validation failure maps
// to exactly one of these so callers always learn which precondition failed.
var (
	ErrNilState      = errors.New("lending engine: state not configured")
	ErrNilTokens     = errors.New("lending engine: token access not configured")
	ErrNilOracle     = errors.New("lending engine: oracle not configured")
	ErrNotOwner      = errors.New("lending engine: caller is not the owner")
	ErrInvalidAmount = errors.New("lending engine: amount must be positive")
	ErrInvalidRatio  = errors.New("lending engine: minimum ratio must be positive")

	ErrMarketNotEligible     = errors.New("lending engine: market not eligible")
	ErrMarketFrozen          = errors.New("lending engine: market is frozen")
	ErrMarketAlreadyFrozen   = errors.New("lending engine: market already frozen")
	ErrMarketNotFrozen       = errors.New("lending engine: market not frozen")
	ErrMarketRemoved         = errors.New("lending engine: market permanently removed")
	ErrMarketHasDeposits     = errors.New("lending engine: market still holds collateral")
	ErrInsufficientBalance   = errors.New("lending engine: insufficient balance")
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")

	ErrInsufficientCollateral = errors.New("lending engine: borrow would breach minimum collateralization ratio")
	ErrDebtOutstanding        = errors.New("lending engine: outstanding debt blocks collateral withdrawal")
	ErrExceedsMarketDebt      = errors.New("lending engine: repayment exceeds market debt")
	ErrNoOpenDebt             = errors.New("lending engine: no open debt for market")

	ErrNoBaseLent         = errors.New("lending engine: no base asset lent")
	ErrNoYield            = errors.New("lending engine: no yield accrued")
	ErrExceedsEntitlement = errors.New("lending engine: amount exceeds principal plus yield")

	ErrNotEligibleForFullLiquidation    = errors.New("lending engine: position not eligible for full liquidation")
	ErrNotEligibleForPartialLiquidation = errors.New("lending engine: position not eligible for partial liquidation")
	ErrExactDebtRequired                = errors.New("lending engine: payment must equal total market debt")
	ErrIncorrectDebtAmount              = errors.New("lending engine: payment must equal partial liquidation amount")

	ErrTransferFailed    = errors.New("lending engine: token transfer failed")
	ErrOracleUnavailable = errors.New("lending engine: oracle unavailable")
)
