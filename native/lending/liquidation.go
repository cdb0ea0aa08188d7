package lending

import (
	"fmt"
	"math/big"

	"lendledger/core/events"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
)

// Liquidation zones below a market's minimum ratio (MCR), in basis points:
//
//	full:    healthFactor ≤ MCR − 30%·MCR
//	partial: MCR − 30%·MCR < healthFactor < MCR
//
// Full liquidation seizes the whole collateral balance for an exact-debt
// repayment; partial liquidation restores the position toward 2×MCR and pays
// the liquidator a 5% collateral bonus on the repaid value.

// FullLiquidation repays the debtor's entire market debt and transfers the
// whole collateral balance to the liquidator. The payment must equal the debt
// exactly, over- and under-payment alike are rejected.
func (e *Engine) FullLiquidation(liquidator, debtor, token crypto.Address, payment *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if payment == nil || payment.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	market, err := e.registryMarket(token)
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(debtor, token)
	if err != nil {
		return nil, err
	}
	debt := position.Debt()
	if debt.Sign() == 0 {
		return nil, ErrNoOpenDebt
	}
	if payment.Cmp(debt) != 0 {
		return nil, ErrExactDebtRequired
	}

	health, err := e.healthFactor(position)
	if err != nil {
		return nil, err
	}
	if health.Cmp(fullLiquidationThreshold(market.MinRatioBps, e.params.FullLiquidationDropBps)) > 0 {
		return nil, ErrNotEligibleForFullLiquidation
	}

	collateral, err := e.tokens.Collateral(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMarketNotEligible, err)
	}

	if err := e.tokens.Base().TransferIn(liquidator, payment); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	seized := new(big.Int).Set(position.Collateral)
	position.Collateral = big.NewInt(0)
	position.Borrowed = big.NewInt(0)
	position.AccruedFee = big.NewInt(0)
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}

	if err := collateral.TransferOut(liquidator, seized); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	e.emit(events.LiquidationExecuted{
		Kind:       "full",
		Liquidator: liquidator,
		Borrower:   debtor,
		Market:     token,
		Repaid:     payment,
		Seized:     seized,
	})
	return seized, nil
}

// PartialLiquidationSpecs computes the exact base-asset amount a liquidator
// must pay to restore the position to twice the market's minimum ratio, given
// unchanged collateral.
func (e *Engine) PartialLiquidationSpecs(debtor, token crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	market, err := e.registryMarket(token)
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(debtor, token)
	if err != nil {
		return nil, err
	}
	return e.partialSpecs(position, market)
}

// PartialLiquidation pays down the debtor's debt by exactly the amount from
// PartialLiquidationSpecs (fee first, principal second) and seizes the repaid
// value's worth of collateral plus a 5% bonus.
func (e *Engine) PartialLiquidation(liquidator, debtor, token crypto.Address, payment *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if payment == nil || payment.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	market, err := e.registryMarket(token)
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(debtor, token)
	if err != nil {
		return nil, err
	}

	required, err := e.partialSpecs(position, market)
	if err != nil {
		return nil, err
	}
	if payment.Cmp(required) != 0 {
		return nil, ErrIncorrectDebtAmount
	}

	collateral, err := e.tokens.Collateral(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMarketNotEligible, err)
	}

	if err := e.tokens.Base().TransferIn(liquidator, payment); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	splitRepayment(position, payment)

	// Collateral payout: repaid value plus the liquidation bonus, capped at
	// the deposit.
	repaidValue, err := e.oracle.BaseToQuote(payment)
	if err != nil {
		return nil, err
	}
	seized := bpsShare(repaidValue, 10_000+e.params.LiquidationBonusBps)
	if seized.Cmp(position.Collateral) > 0 {
		seized = new(big.Int).Set(position.Collateral)
	}
	position.Collateral = new(big.Int).Sub(position.Collateral, seized)

	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}

	if err := collateral.TransferOut(liquidator, seized); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	e.emit(events.LiquidationExecuted{
		Kind:       "partial",
		Liquidator: liquidator,
		Borrower:   debtor,
		Market:     token,
		Repaid:     payment,
		Seized:     seized,
	})
	return seized, nil
}

// partialSpecs back-solves the repayment that restores the position to the
// ideal post-liquidation ratio of 2×MCR.
func (e *Engine) partialSpecs(position *Position, market *Market) (*big.Int, error) {
	debt := position.Debt()
	if debt.Sign() == 0 {
		return nil, ErrNoOpenDebt
	}
	health, err := e.healthFactor(position)
	if err != nil {
		return nil, err
	}

	minRatio := new(big.Int).SetUint64(market.MinRatioBps)
	fullThreshold := fullLiquidationThreshold(market.MinRatioBps, e.params.FullLiquidationDropBps)
	if health.Cmp(fullThreshold) <= 0 || health.Cmp(minRatio) >= 0 {
		return nil, ErrNotEligibleForPartialLiquidation
	}

	idealRatio := new(big.Int).Lsh(minRatio, 1)
	idealDebtValue := mulDiv(position.Collateral, basisPoints, idealRatio)
	idealDebt, err := e.oracle.QuoteToBase(idealDebtValue)
	if err != nil {
		return nil, err
	}

	required := new(big.Int).Sub(debt, idealDebt)
	if required.Sign() <= 0 {
		return nil, ErrNotEligibleForPartialLiquidation
	}
	return required, nil
}

// fullLiquidationThreshold computes MCR minus the configured drop, in basis
// points.
func fullLiquidationThreshold(minRatioBps, dropBps uint64) *big.Int {
	keep := uint64(10_000)
	if dropBps < keep {
		keep -= dropBps
	} else {
		keep = 0
	}
	return bpsShare(new(big.Int).SetUint64(minRatioBps), keep)
}
