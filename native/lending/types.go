package lending

import (
	"math/big"

	"lendledger/crypto"
)

// Market captures the registry entry for one collateral asset. Amount values
// throughout the module are denominated in wei-style base units and expressed
// as big integers to preserve exact truncation semantics.
type Market struct {
	// Token is the collateral asset handle this market trades in.
	Token crypto.Address
	// MinRatioBps is the minimum collateralization ratio in basis points
	// (200% = 20_000).
	MinRatioBps uint64
	// Frozen blocks deposit and borrow while still permitting withdraw,
	// repay, and liquidation.
	Frozen bool
	// Removed marks the terminal registry state. A removed market stays
	// tombstoned so the identifier can never be re-registered.
	Removed bool
}

// Clone returns a deep copy of the market entry.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Position maintains one user's standing in one collateral market.
type Position struct {
	// User is the position owner.
	User crypto.Address
	// Token is the collateral market the position belongs to.
	Token crypto.Address
	// Collateral is the deposited collateral balance.
	Collateral *big.Int
	// Borrowed is the base-asset principal owed.
	Borrowed *big.Int
	// AccruedFee is the outstanding borrow fee owed on top of principal.
	AccruedFee *big.Int
}

// Debt returns borrowed principal plus accrued fee.
func (p *Position) Debt() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(p.Borrowed, p.AccruedFee)
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{User: p.User, Token: p.Token}
	if p.Collateral != nil {
		clone.Collateral = new(big.Int).Set(p.Collateral)
	}
	if p.Borrowed != nil {
		clone.Borrowed = new(big.Int).Set(p.Borrowed)
	}
	if p.AccruedFee != nil {
		clone.AccruedFee = new(big.Int).Set(p.AccruedFee)
	}
	return clone
}

// EntryState tags a lender deposit entry. The explicit tag replaces the
// zero-timestamp sentinel used by older ledgers so a legitimate logical time
// of zero stays unambiguous.
type EntryState uint8

const (
	// EntryActive entries accrue yield from their timestamp onward.
	EntryActive EntryState = iota
	// EntryExhausted entries contribute no further yield and are dropped at
	// the next reconciliation pass.
	EntryExhausted
)

// DepositEntry records one lender deposit with the logical time it was made.
type DepositEntry struct {
	Amount    *big.Int
	Timestamp uint64
	State     EntryState
}

// LenderAccount tracks a lender's principal and its time-stamped deposits.
// Invariant: the sum of active entry amounts equals TotalDeposited; the
// engine reconciles the list after every withdrawal.
type LenderAccount struct {
	Address        crypto.Address
	TotalDeposited *big.Int
	Entries        []DepositEntry
}

// Clone returns a deep copy of the lender account.
func (l *LenderAccount) Clone() *LenderAccount {
	if l == nil {
		return nil
	}
	clone := &LenderAccount{Address: l.Address}
	if l.TotalDeposited != nil {
		clone.TotalDeposited = new(big.Int).Set(l.TotalDeposited)
	}
	if l.Entries != nil {
		clone.Entries = make([]DepositEntry, len(l.Entries))
		for i, entry := range l.Entries {
			clone.Entries[i] = DepositEntry{Timestamp: entry.Timestamp, State: entry.State}
			if entry.Amount != nil {
				clone.Entries[i].Amount = new(big.Int).Set(entry.Amount)
			}
		}
	}
	return clone
}

// GlobalState holds the pool-wide counters shared by every lender and
// borrower. It is mutated under the same serialization discipline as per-user
// state, so no separate locking applies.
type GlobalState struct {
	// TotalBaseLent is the sum of all lender principal, excluding the fee
	// pool.
	TotalBaseLent *big.Int
	// YieldPool accumulates borrow fees awaiting time-weighted distribution.
	YieldPool *big.Int
}

// Clone returns a deep copy of the global counters.
func (g *GlobalState) Clone() *GlobalState {
	if g == nil {
		return nil
	}
	clone := &GlobalState{}
	if g.TotalBaseLent != nil {
		clone.TotalBaseLent = new(big.Int).Set(g.TotalBaseLent)
	}
	if g.YieldPool != nil {
		clone.YieldPool = new(big.Int).Set(g.YieldPool)
	}
	return clone
}
