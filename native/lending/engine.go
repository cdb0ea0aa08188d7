package lending

import (
	"fmt"
	"math/big"
	"sync"

	"lendledger/core/events"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
)

const moduleName = "lending"

// Engine orchestrates every state transition of the collateralized lending
// ledger. Each public operation runs to completion under one mutex so no
// caller ever observes a stale intermediate state; outbound asset transfers
// happen last, after internal state is already consistent.
type Engine struct {
	mu            sync.Mutex
	state         EngineState
	owner         crypto.Address
	moduleAddress crypto.Address
	params        RiskParameters
	oracle        *OracleAdapter
	tokens        TokenAccess
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	timestamp     uint64
}

// NewEngine constructs a ledger engine with a no-op emitter. The owner
// identity is immutable for the lifetime of the engine.
func NewEngine(owner, moduleAddr crypto.Address, params RiskParameters) *Engine {
	params.EnsureDefaults()
	return &Engine{
		owner:         owner,
		moduleAddress: moduleAddr,
		params:        params,
		emitter:       events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetOracle configures the price feed consulted for debt valuation.
func (e *Engine) SetOracle(source RateSource) {
	if e == nil {
		return
	}
	e.oracle = NewOracleAdapter(source)
}

// SetTokenAccess wires the base-asset and collateral transfer capabilities.
func (e *Engine) SetTokenAccess(tokens TokenAccess) {
	if e == nil {
		return
	}
	e.tokens = tokens
}

// SetEmitter configures the event sink. Passing nil resets the emitter to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the host-level pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetTimestamp records the caller-supplied logical time used by the yield
// clock. The host must supply a monotonic value; the engine never reads the
// wall clock.
func (e *Engine) SetTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.timestamp = ts
}

// Owner returns the immutable owner identity.
func (e *Engine) Owner() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.owner
}

// Params returns the engine's risk parameters.
func (e *Engine) Params() RiskParameters {
	if e == nil {
		return RiskParameters{}
	}
	return e.params
}

// DepositCollateral locks collateral for a user inside an active market.
func (e *Engine) DepositCollateral(user, token crypto.Address, amount *big.Int) error {
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

	market, err := e.activeMarket(token)
	if err != nil {
		return err
	}

	collateral, err := e.tokens.Collateral(market.Token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMarketNotEligible, err)
	}
	if err := collateral.TransferIn(user, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	position, err := e.ensurePosition(user, token)
	if err != nil {
		return err
	}
	position.Collateral = new(big.Int).Add(position.Collateral, amount)
	if err := e.state.PutPosition(position); err != nil {
		return err
	}

	e.emit(events.CollateralDeposited{User: user, Market: token, Amount: amount})
	return nil
}

// WithdrawCollateral releases collateral back to the user. The whole market
// debt (principal plus fee) must be zero. Frozen markets still permit
// withdrawal.
func (e *Engine) WithdrawCollateral(user, token crypto.Address, amount *big.Int) error {
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

	position, err := e.ensurePosition(user, token)
	if err != nil {
		return err
	}
	if position.Debt().Sign() > 0 {
		return ErrDebtOutstanding
	}
	if position.Collateral.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	collateral, err := e.tokens.Collateral(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMarketNotEligible, err)
	}

	position.Collateral = new(big.Int).Sub(position.Collateral, amount)
	if err := e.state.PutPosition(position); err != nil {
		return err
	}

	if err := collateral.TransferOut(user, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	e.emit(events.CollateralWithdrawn{User: user, Market: token, Amount: amount})
	return nil
}

// Borrow lends base asset against deposited collateral. The 5% fee is charged
// on top of the principal and routed to the lenders' yield pool. The fee
// amount is returned.
func (e *Engine) Borrow(borrower, token crypto.Address, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	market, err := e.activeMarket(token)
	if err != nil {
		return nil, err
	}

	base := e.tokens.Base()
	balance, err := base.BalanceOf(e.moduleAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	position, err := e.ensurePosition(borrower, token)
	if err != nil {
		return nil, err
	}

	fee := bpsShare(amount, e.params.FeeBps)

	// Health check against the projected post-borrow debt.
	projected := position.Debt()
	projected.Add(projected, amount)
	projected.Add(projected, fee)
	debtValue, err := e.oracle.BaseToQuote(projected)
	if err != nil {
		return nil, err
	}
	if debtValue.Sign() > 0 {
		health := ratioBps(position.Collateral, debtValue)
		if health.Cmp(new(big.Int).SetUint64(market.MinRatioBps)) < 0 {
			return nil, ErrInsufficientCollateral
		}
	}

	global, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}

	position.Borrowed = new(big.Int).Add(position.Borrowed, amount)
	position.AccruedFee = new(big.Int).Add(position.AccruedFee, fee)
	global.YieldPool = new(big.Int).Add(global.YieldPool, fee)

	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutGlobalState(global); err != nil {
		return nil, err
	}

	if err := base.TransferOut(borrower, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	e.emit(events.LoanOpened{Borrower: borrower, Market: token, Principal: amount, Fee: fee})
	return fee, nil
}

// Repay pays down market debt, fee first, principal second. Repayment above
// the total market debt is rejected outright. The fee and principal portions
// actually applied are returned.
func (e *Engine) Repay(borrower, token crypto.Address, amount *big.Int) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	position, err := e.ensurePosition(borrower, token)
	if err != nil {
		return nil, nil, err
	}
	debt := position.Debt()
	if debt.Sign() == 0 {
		return nil, nil, ErrNoOpenDebt
	}
	if amount.Cmp(debt) > 0 {
		return nil, nil, ErrExceedsMarketDebt
	}

	if err := e.tokens.Base().TransferIn(borrower, amount); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	feePaid, principalPaid := splitRepayment(position, amount)
	if err := e.state.PutPosition(position); err != nil {
		return nil, nil, err
	}

	e.emit(events.LoanRepaid{Borrower: borrower, Market: token, FeePaid: feePaid, PrincipalPaid: principalPaid})
	return feePaid, principalPaid, nil
}

// HealthFactor reports the position's health in basis points:
// collateral × 10_000 / quoteValue(debt). The factor is undefined, not
// infinite, when the market debt is zero.
func (e *Engine) HealthFactor(user, token crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(user, token)
	if err != nil {
		return nil, err
	}
	return e.healthFactor(position)
}

// Position returns a copy of the user's standing in the given market.
func (e *Engine) Position(user, token crypto.Address) (*Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	position, err := e.ensurePosition(user, token)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// PoolBalance reports the ledger's on-hand base asset.
func (e *Engine) PoolBalance() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tokens == nil {
		return nil, ErrNilTokens
	}
	balance, err := e.tokens.Base().BalanceOf(e.moduleAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return balance, nil
}

// --- internal helpers ---

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.tokens == nil {
		return ErrNilTokens
	}
	if e.oracle == nil {
		return ErrNilOracle
	}
	return nil
}

// activeMarket resolves a market eligible for deposit and borrow.
func (e *Engine) activeMarket(token crypto.Address) (*Market, error) {
	market, err := e.registryMarket(token)
	if err != nil {
		return nil, err
	}
	if market.Frozen {
		return nil, ErrMarketFrozen
	}
	return market, nil
}

// registryMarket resolves any registered, non-removed market.
func (e *Engine) registryMarket(token crypto.Address) (*Market, error) {
	market, err := e.state.GetMarket(token)
	if err != nil {
		return nil, err
	}
	if market == nil || market.Removed {
		return nil, ErrMarketNotEligible
	}
	return market, nil
}

func (e *Engine) ensurePosition(user, token crypto.Address) (*Position, error) {
	position, err := e.state.GetPosition(user, token)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{User: user, Token: token}
	}
	if position.Collateral == nil {
		position.Collateral = big.NewInt(0)
	}
	if position.Borrowed == nil {
		position.Borrowed = big.NewInt(0)
	}
	if position.AccruedFee == nil {
		position.AccruedFee = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) ensureLender(addr crypto.Address) (*LenderAccount, error) {
	account, err := e.state.GetLenderAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &LenderAccount{Address: addr}
	}
	if account.TotalDeposited == nil {
		account.TotalDeposited = big.NewInt(0)
	}
	for i := range account.Entries {
		if account.Entries[i].Amount == nil {
			account.Entries[i].Amount = big.NewInt(0)
		}
	}
	return account, nil
}

func (e *Engine) ensureGlobal() (*GlobalState, error) {
	global, err := e.state.GetGlobalState()
	if err != nil {
		return nil, err
	}
	if global == nil {
		global = &GlobalState{}
	}
	if global.TotalBaseLent == nil {
		global.TotalBaseLent = big.NewInt(0)
	}
	if global.YieldPool == nil {
		global.YieldPool = big.NewInt(0)
	}
	return global, nil
}

// healthFactor computes the position's current health in basis points.
func (e *Engine) healthFactor(position *Position) (*big.Int, error) {
	debt := position.Debt()
	if debt.Sign() == 0 {
		return nil, ErrNoOpenDebt
	}
	debtValue, err := e.oracle.BaseToQuote(debt)
	if err != nil {
		return nil, err
	}
	if debtValue.Sign() == 0 {
		// Debt too small to value; treat as undefined rather than infinite.
		return nil, ErrNoOpenDebt
	}
	return ratioBps(position.Collateral, debtValue), nil
}

// splitRepayment applies amount to the position, fee balance first. It
// returns the fee and principal portions paid.
func splitRepayment(position *Position, amount *big.Int) (*big.Int, *big.Int) {
	feePaid := new(big.Int).Set(position.AccruedFee)
	if feePaid.Cmp(amount) > 0 {
		feePaid.Set(amount)
	}
	principalPaid := new(big.Int).Sub(amount, feePaid)
	position.AccruedFee = new(big.Int).Sub(position.AccruedFee, feePaid)
	position.Borrowed = new(big.Int).Sub(position.Borrowed, principalPaid)
	return feePaid, principalPaid
}

func (e *Engine) emit(event events.Event) {
	e.emitter.Emit(event)
}
