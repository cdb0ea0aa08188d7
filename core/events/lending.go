package events

import (
	"math/big"
	"strconv"

	"lendledger/core/types"
	"lendledger/crypto"
)

const (
	// TypeMarketRegistered marks a collateral market entering the active set.
	TypeMarketRegistered = "lending.market.registered"
	// TypeMarketStatusChanged marks a freeze, unfreeze, or removal.
	TypeMarketStatusChanged = "lending.market.status"
	// TypeCollateralDeposited marks collateral locked by a borrower.
	TypeCollateralDeposited = "lending.collateral.deposited"
	// TypeCollateralWithdrawn marks collateral released back to its owner.
	TypeCollateralWithdrawn = "lending.collateral.withdrawn"
	// TypeLoanOpened marks a borrow against deposited collateral.
	TypeLoanOpened = "lending.loan.opened"
	// TypeLoanRepaid marks a repayment of fees and principal.
	TypeLoanRepaid = "lending.loan.repaid"
	// TypeLiquidation marks a full or partial liquidation.
	TypeLiquidation = "lending.liquidation.executed"
	// TypeBaseLent marks base asset supplied into the shared pool.
	TypeBaseLent = "lending.base.lent"
	// TypeLenderWithdrawal is the withdrawal record emitted whenever a lender
	// pulls principal, yield, or both out of the pool.
	TypeLenderWithdrawal = "lending.lender.withdrawal"
)

// MarketRegistered records a market joining (or re-joining) the registry.
type MarketRegistered struct {
	Market      crypto.Address
	MinRatioBps uint64
}

// EventType satisfies the events.Event interface.
func (MarketRegistered) EventType() string { return TypeMarketRegistered }

// Event converts the structured payload into a broadcastable event.
func (e MarketRegistered) Event() *types.Event {
	attrs := map[string]string{
		"minRatioBps": strconv.FormatUint(e.MinRatioBps, 10),
	}
	putAddr(attrs, "market", e.Market)
	return &types.Event{Type: TypeMarketRegistered, Attributes: attrs}
}

// MarketStatusChanged records a market transitioning between registry states.
type MarketStatusChanged struct {
	Market crypto.Address
	Status string
}

func (MarketStatusChanged) EventType() string { return TypeMarketStatusChanged }

// Event converts the structured payload into a broadcastable event.
func (e MarketStatusChanged) Event() *types.Event {
	attrs := map[string]string{"status": e.Status}
	putAddr(attrs, "market", e.Market)
	return &types.Event{Type: TypeMarketStatusChanged, Attributes: attrs}
}

// CollateralDeposited records collateral locked into the ledger.
type CollateralDeposited struct {
	User   crypto.Address
	Market crypto.Address
	Amount *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

// Event converts the structured payload into a broadcastable event.
func (e CollateralDeposited) Event() *types.Event {
	attrs := map[string]string{}
	putAddr(attrs, "user", e.User)
	putAddr(attrs, "market", e.Market)
	putAmount(attrs, "amount", e.Amount)
	return &types.Event{Type: TypeCollateralDeposited, Attributes: attrs}
}

// CollateralWithdrawn records collateral released back to its owner.
type CollateralWithdrawn struct {
	User   crypto.Address
	Market crypto.Address
	Amount *big.Int
}

func (CollateralWithdrawn) EventType() string { return TypeCollateralWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e CollateralWithdrawn) Event() *types.Event {
	attrs := map[string]string{}
	putAddr(attrs, "user", e.User)
	putAddr(attrs, "market", e.Market)
	putAmount(attrs, "amount", e.Amount)
	return &types.Event{Type: TypeCollateralWithdrawn, Attributes: attrs}
}

// LoanOpened records a borrow, including the fee routed to the yield pool.
type LoanOpened struct {
	Borrower  crypto.Address
	Market    crypto.Address
	Principal *big.Int
	Fee       *big.Int
}

func (LoanOpened) EventType() string { return TypeLoanOpened }

// Event converts the structured payload into a broadcastable event.
func (e LoanOpened) Event() *types.Event {
	attrs := map[string]string{}
	putAddr(attrs, "borrower", e.Borrower)
	putAddr(attrs, "market", e.Market)
	putAmount(attrs, "principalWei", e.Principal)
	putAmount(attrs, "feeWei", e.Fee)
	return &types.Event{Type: TypeLoanOpened, Attributes: attrs}
}

// LoanRepaid records a repayment split between fee and principal.
type LoanRepaid struct {
	Borrower      crypto.Address
	Market        crypto.Address
	FeePaid       *big.Int
	PrincipalPaid *big.Int
}

func (LoanRepaid) EventType() string { return TypeLoanRepaid }

// Event converts the structured payload into a broadcastable event.
func (e LoanRepaid) Event() *types.Event {
	attrs := map[string]string{}
	putAddr(attrs, "borrower", e.Borrower)
	putAddr(attrs, "market", e.Market)
	putAmount(attrs, "feePaidWei", e.FeePaid)
	putAmount(attrs, "principalPaidWei", e.PrincipalPaid)
	return &types.Event{Type: TypeLoanRepaid, Attributes: attrs}
}

// LiquidationExecuted records a liquidation outcome. Kind is "full" or
// "partial".
type LiquidationExecuted struct {
	Kind       string
	Liquidator crypto.Address
	Borrower   crypto.Address
	Market     crypto.Address
	Repaid     *big.Int
	Seized     *big.Int
}

func (LiquidationExecuted) EventType() string { return TypeLiquidation }

// Event converts the structured payload into a broadcastable event.
func (e LiquidationExecuted) Event() *types.Event {
	attrs := map[string]string{"kind": e.Kind}
	putAddr(attrs, "liquidator", e.Liquidator)
	putAddr(attrs, "borrower", e.Borrower)
	putAddr(attrs, "market", e.Market)
	putAmount(attrs, "repaidWei", e.Repaid)
	putAmount(attrs, "seizedWei", e.Seized)
	return &types.Event{Type: TypeLiquidation, Attributes: attrs}
}

// BaseLent records base asset supplied into the shared lending pool.
type BaseLent struct {
	Lender    crypto.Address
	Amount    *big.Int
	Timestamp uint64
}

func (BaseLent) EventType() string { return TypeBaseLent }

// Event converts the structured payload into a broadcastable event.
func (e BaseLent) Event() *types.Event {
	attrs := map[string]string{}
	putAddr(attrs, "lender", e.Lender)
	putAmount(attrs, "amountWei", e.Amount)
	if e.Timestamp > 0 {
		attrs["timestamp"] = strconv.FormatUint(e.Timestamp, 10)
	}
	return &types.Event{Type: TypeBaseLent, Attributes: attrs}
}

// LenderWithdrawal is the withdrawal record for lender-side payouts.
type LenderWithdrawal struct {
	Lender        crypto.Address
	Amount        *big.Int
	YieldPaid     *big.Int
	PrincipalPaid *big.Int
}

func (LenderWithdrawal) EventType() string { return TypeLenderWithdrawal }

// Event converts the structured payload into a broadcastable event.
func (e LenderWithdrawal) Event() *types.Event {
	attrs := map[string]string{}
	putAddr(attrs, "lender", e.Lender)
	putAmount(attrs, "amountWei", e.Amount)
	putAmount(attrs, "yieldPaidWei", e.YieldPaid)
	putAmount(attrs, "principalPaidWei", e.PrincipalPaid)
	return &types.Event{Type: TypeLenderWithdrawal, Attributes: attrs}
}

func putAddr(attrs map[string]string, key string, addr crypto.Address) {
	if addr.IsZero() {
		return
	}
	attrs[key] = addr.String()
}

func putAmount(attrs map[string]string, key string, amount *big.Int) {
	if amount == nil {
		return
	}
	attrs[key] = amount.String()
}
