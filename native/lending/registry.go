package lending

import (
	"fmt"

	"lendledger/core/events"
	"lendledger/crypto"
)

// Market registry operations. Per-market state machine:
//
//	Unregistered → Active ⇄ Frozen → Removed (terminal)
//
// Frozen still permits withdraw, repay, and liquidation; only deposit and
// borrow are blocked. Removed markets stay tombstoned forever.

// RegisterMarket adds a collateral market or overwrites the minimum ratio of
// an existing one. Owner-only; re-registration resets the frozen flag.
func (e *Engine) RegisterMarket(caller, token crypto.Address, minRatioBps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	if !caller.Equal(e.owner) {
		return ErrNotOwner
	}
	if minRatioBps == 0 {
		return ErrInvalidRatio
	}

	existing, err := e.state.GetMarket(token)
	if err != nil {
		return err
	}
	if existing != nil && existing.Removed {
		return ErrMarketRemoved
	}

	market := &Market{Token: token, MinRatioBps: minRatioBps}
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emit(events.MarketRegistered{Market: token, MinRatioBps: minRatioBps})
	return nil
}

// DeregisterMarket removes a market from the active set. It fails while the
// ledger still holds any of that collateral. The market ends permanently
// frozen and tombstoned.
func (e *Engine) DeregisterMarket(caller, token crypto.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	if e.tokens == nil {
		return ErrNilTokens
	}
	if !caller.Equal(e.owner) {
		return ErrNotOwner
	}

	market, err := e.registryMarket(token)
	if err != nil {
		return err
	}

	collateral, err := e.tokens.Collateral(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMarketNotEligible, err)
	}
	held, err := collateral.BalanceOf(e.moduleAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if held.Sign() != 0 {
		return ErrMarketHasDeposits
	}

	market.Frozen = true
	market.Removed = true
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emit(events.MarketStatusChanged{Market: token, Status: "removed"})
	return nil
}

// FreezeMarket blocks deposit and borrow for a market. Redundant freezes are
// rejected.
func (e *Engine) FreezeMarket(caller, token crypto.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	if !caller.Equal(e.owner) {
		return ErrNotOwner
	}

	market, err := e.registryMarket(token)
	if err != nil {
		return err
	}
	if market.Frozen {
		return ErrMarketAlreadyFrozen
	}

	market.Frozen = true
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emit(events.MarketStatusChanged{Market: token, Status: "frozen"})
	return nil
}

// UnfreezeMarket re-enables deposit and borrow. Unfreezing an active market
// is rejected.
func (e *Engine) UnfreezeMarket(caller, token crypto.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	if !caller.Equal(e.owner) {
		return ErrNotOwner
	}

	market, err := e.registryMarket(token)
	if err != nil {
		return err
	}
	if !market.Frozen {
		return ErrMarketNotFrozen
	}

	market.Frozen = false
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emit(events.MarketStatusChanged{Market: token, Status: "active"})
	return nil
}

// IsEligible reports whether the market is registered and not removed. Frozen
// markets remain eligible for withdraw, repay, and liquidation.
func (e *Engine) IsEligible(token crypto.Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return false, ErrNilState
	}
	market, err := e.state.GetMarket(token)
	if err != nil {
		return false, err
	}
	return market != nil && !market.Removed, nil
}

// MinimumRatio returns the market's minimum collateralization ratio in basis
// points.
func (e *Engine) MinimumRatio(token crypto.Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, ErrNilState
	}
	market, err := e.registryMarket(token)
	if err != nil {
		return 0, err
	}
	return market.MinRatioBps, nil
}

// ActiveMarkets lists every registered, non-removed market, frozen included.
func (e *Engine) ActiveMarkets() ([]*Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	markets, err := e.state.ListMarkets()
	if err != nil {
		return nil, err
	}
	active := make([]*Market, 0, len(markets))
	for _, market := range markets {
		if market == nil || market.Removed {
			continue
		}
		active = append(active, market.Clone())
	}
	return active, nil
}
