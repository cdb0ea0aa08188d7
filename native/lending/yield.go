package lending

import (
	"fmt"
	"math/big"

	"lendledger/core/events"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
)

// Lend supplies base asset into the shared pool. Each deposit appends an
// entry stamped with the engine's logical clock; yield accrues per entry from
// that time onward.
func (e *Engine) Lend(lender crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	if err := e.tokens.Base().TransferIn(lender, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	account, err := e.ensureLender(lender)
	if err != nil {
		return err
	}
	global, err := e.ensureGlobal()
	if err != nil {
		return err
	}

	account.TotalDeposited = new(big.Int).Add(account.TotalDeposited, amount)
	account.Entries = append(account.Entries, DepositEntry{
		Amount:    new(big.Int).Set(amount),
		Timestamp: e.timestamp,
		State:     EntryActive,
	})
	global.TotalBaseLent = new(big.Int).Add(global.TotalBaseLent, amount)

	if err := e.state.PutLenderAccount(account); err != nil {
		return err
	}
	if err := e.state.PutGlobalState(global); err != nil {
		return err
	}

	e.emit(events.BaseLent{Lender: lender, Amount: amount, Timestamp: e.timestamp})
	return nil
}

// CalculateYield reports the lender's currently claimable yield from the
// shared fee pool: time-weighted over the lender's active deposit entries and
// pool-share-weighted against all lent principal.
func (e *Engine) CalculateYield(lender crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, err := e.ensureLender(lender)
	if err != nil {
		return nil, err
	}
	global, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	return e.claimableYield(account, global)
}

// WithdrawLent pays the lender up to principal plus accrued yield. Yield is
// consumed first; any principal portion reduces the pool's lent total. See
// the three reconciliation cases below.
func (e *Engine) WithdrawLent(lender crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withdrawLent(lender, amount)
}

// WithdrawYield pays out exactly the accrued yield, leaving principal in
// place with a reset clock.
func (e *Engine) WithdrawYield(lender crypto.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	account, err := e.ensureLender(lender)
	if err != nil {
		return err
	}
	global, err := e.ensureGlobal()
	if err != nil {
		return err
	}
	yield, err := e.claimableYield(account, global)
	if err != nil {
		return err
	}
	if yield.Sign() == 0 {
		return ErrNoYield
	}
	return e.withdrawLent(lender, yield)
}

func (e *Engine) withdrawLent(lender crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	account, err := e.ensureLender(lender)
	if err != nil {
		return err
	}
	global, err := e.ensureGlobal()
	if err != nil {
		return err
	}

	yield, err := e.claimableYield(account, global)
	if err != nil {
		return err
	}

	entitlement := new(big.Int).Add(yield, account.TotalDeposited)
	if amount.Cmp(entitlement) > 0 {
		return ErrExceedsEntitlement
	}

	base := e.tokens.Base()
	balance, err := base.BalanceOf(e.moduleAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	yieldPaid := new(big.Int)
	principalPaid := new(big.Int)

	switch amount.Cmp(yield) {
	case -1:
		// Partial yield claim: the unclaimed remainder rolls back into
		// principal as a fresh entry, so it is never lost, but its clock
		// resets.
		yieldPaid.Set(amount)
		remainder := new(big.Int).Sub(yield, amount)
		global.YieldPool = new(big.Int).Sub(global.YieldPool, amount)
		account.TotalDeposited = new(big.Int).Add(account.TotalDeposited, remainder)
		global.TotalBaseLent = new(big.Int).Add(global.TotalBaseLent, remainder)
		account.Entries = append(account.Entries, DepositEntry{
			Amount:    remainder,
			Timestamp: e.timestamp,
			State:     EntryActive,
		})
	case 0:
		// Exact yield claim: principal untouched, every entry's clock
		// restarts now.
		yieldPaid.Set(amount)
		global.YieldPool = new(big.Int).Sub(global.YieldPool, amount)
		for i := range account.Entries {
			if account.Entries[i].State == EntryActive {
				account.Entries[i].Timestamp = e.timestamp
			}
		}
	case 1:
		// Yield plus principal: drain the yield, return principal, and
		// re-seed a single fresh entry with whatever principal remains.
		yieldPaid.Set(yield)
		principalPaid.Sub(amount, yield)
		global.YieldPool = new(big.Int).Sub(global.YieldPool, yield)
		account.TotalDeposited = new(big.Int).Sub(account.TotalDeposited, principalPaid)
		global.TotalBaseLent = new(big.Int).Sub(global.TotalBaseLent, principalPaid)
		for i := range account.Entries {
			account.Entries[i].State = EntryExhausted
		}
		if account.TotalDeposited.Sign() > 0 {
			account.Entries = append(account.Entries, DepositEntry{
				Amount:    new(big.Int).Set(account.TotalDeposited),
				Timestamp: e.timestamp,
				State:     EntryActive,
			})
		}
	}

	reconcileEntries(account)

	if err := e.state.PutLenderAccount(account); err != nil {
		return err
	}
	if err := e.state.PutGlobalState(global); err != nil {
		return err
	}

	if err := base.TransferOut(lender, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	e.emit(events.LenderWithdrawal{
		Lender:        lender,
		Amount:        amount,
		YieldPaid:     yieldPaid,
		PrincipalPaid: principalPaid,
	})
	return nil
}

// LenderState returns a copy of the lender's account.
func (e *Engine) LenderState(lender crypto.Address) (*LenderAccount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	account, err := e.ensureLender(lender)
	if err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

// claimableYield implements the accrual formula:
//
//	fraction = totalSecondsLent × wad / secondsPerYear
//	share    = totalDeposited × wad / totalBaseLent
//	yield    = share × pool / wad × fraction / wad
//
// Every division truncates toward zero. The fraction is not capped at 1.0,
// so entries older than a year keep accruing linearly.
func (e *Engine) claimableYield(account *LenderAccount, global *GlobalState) (*big.Int, error) {
	if global.TotalBaseLent.Sign() == 0 {
		return nil, ErrNoBaseLent
	}

	totalSeconds := new(big.Int)
	for _, entry := range account.Entries {
		if entry.State != EntryActive {
			continue
		}
		if e.timestamp > entry.Timestamp {
			totalSeconds.Add(totalSeconds, new(big.Int).SetUint64(e.timestamp-entry.Timestamp))
		}
	}

	fraction := mulDiv(totalSeconds, wad, new(big.Int).SetUint64(e.params.SecondsPerYear))
	share := mulDiv(account.TotalDeposited, wad, global.TotalBaseLent)

	yield := mulDiv(share, global.YieldPool, wad)
	return mulDiv(yield, fraction, wad), nil
}

// reconcileEntries drops exhausted entries so the active list again sums to
// TotalDeposited. Runs after every withdrawal.
func reconcileEntries(account *LenderAccount) {
	kept := account.Entries[:0]
	for _, entry := range account.Entries {
		if entry.State == EntryActive {
			kept = append(kept, entry)
		}
	}
	account.Entries = kept
}
