package lending

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"lendledger/core/events"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(event events.Event) {
	r.events = append(r.events, event)
}

type mockEngineState struct {
	markets   map[string]*Market
	positions map[string]*Position
	lenders   map[string]*LenderAccount
	global    *GlobalState
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		markets:   make(map[string]*Market),
		positions: make(map[string]*Position),
		lenders:   make(map[string]*LenderAccount),
	}
}

func (m *mockEngineState) key(addr crypto.Address) string {
	return string(addr.Bytes())
}

func (m *mockEngineState) GetMarket(token crypto.Address) (*Market, error) {
	return m.markets[m.key(token)], nil
}

func (m *mockEngineState) PutMarket(market *Market) error {
	m.markets[m.key(market.Token)] = market
	return nil
}

func (m *mockEngineState) ListMarkets() ([]*Market, error) {
	out := make([]*Market, 0, len(m.markets))
	for _, market := range m.markets {
		out = append(out, market)
	}
	return out, nil
}

func (m *mockEngineState) GetPosition(user, token crypto.Address) (*Position, error) {
	return m.positions[m.key(user)+"/"+m.key(token)], nil
}

func (m *mockEngineState) PutPosition(position *Position) error {
	m.positions[m.key(position.User)+"/"+m.key(position.Token)] = position
	return nil
}

func (m *mockEngineState) GetLenderAccount(addr crypto.Address) (*LenderAccount, error) {
	return m.lenders[m.key(addr)], nil
}

func (m *mockEngineState) PutLenderAccount(account *LenderAccount) error {
	m.lenders[m.key(account.Address)] = account
	return nil
}

func (m *mockEngineState) GetGlobalState() (*GlobalState, error) {
	return m.global, nil
}

func (m *mockEngineState) PutGlobalState(global *GlobalState) error {
	m.global = global
	return nil
}

type mockToken struct {
	module   crypto.Address
	balances map[string]*big.Int
	failNext bool
}

func newMockToken(module crypto.Address) *mockToken {
	return &mockToken{module: module, balances: make(map[string]*big.Int)}
}

func (t *mockToken) balance(addr crypto.Address) *big.Int {
	if b, ok := t.balances[string(addr.Bytes())]; ok {
		return b
	}
	zero := big.NewInt(0)
	t.balances[string(addr.Bytes())] = zero
	return zero
}

func (t *mockToken) mint(addr crypto.Address, amount *big.Int) {
	t.balances[string(addr.Bytes())] = new(big.Int).Add(t.balance(addr), amount)
}

func (t *mockToken) TransferIn(from crypto.Address, amount *big.Int) error {
	if t.failNext {
		t.failNext = false
		return fmt.Errorf("transfer rejected")
	}
	if t.balance(from).Cmp(amount) < 0 {
		return fmt.Errorf("insufficient funds")
	}
	t.balances[string(from.Bytes())] = new(big.Int).Sub(t.balance(from), amount)
	t.balances[string(t.module.Bytes())] = new(big.Int).Add(t.balance(t.module), amount)
	return nil
}

func (t *mockToken) TransferOut(to crypto.Address, amount *big.Int) error {
	if t.failNext {
		t.failNext = false
		return fmt.Errorf("transfer rejected")
	}
	if t.balance(t.module).Cmp(amount) < 0 {
		return fmt.Errorf("insufficient funds")
	}
	t.balances[string(t.module.Bytes())] = new(big.Int).Sub(t.balance(t.module), amount)
	t.balances[string(to.Bytes())] = new(big.Int).Add(t.balance(to), amount)
	return nil
}

func (t *mockToken) BalanceOf(holder crypto.Address) (*big.Int, error) {
	return new(big.Int).Set(t.balance(holder)), nil
}

type mockTokenAccess struct {
	base        *mockToken
	collaterals map[string]*mockToken
}

func (a *mockTokenAccess) Base() Token { return a.base }

func (a *mockTokenAccess) Collateral(token crypto.Address) (Token, error) {
	if t, ok := a.collaterals[string(token.Bytes())]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown collateral token")
}

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	if s.modules == nil {
		return false
	}
	return s.modules[module]
}

func makeAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

func amt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid amount in test: " + value)
	}
	return v
}

// Fixed $2000/ETH rate at the oracle's 1e8 scale.
var testRate = amt("200000000000")

type testEnv struct {
	engine     *Engine
	state      *mockEngineState
	base       *mockToken
	collateral *mockToken
	access     *mockTokenAccess
	owner      crypto.Address
	module     crypto.Address
	market     crypto.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	owner := makeAddress(crypto.AccountPrefix, 0x01)
	module := makeAddress(crypto.AccountPrefix, 0x02)
	market := makeAddress(crypto.AssetPrefix, 0x10)

	base := newMockToken(module)
	collateral := newMockToken(module)
	access := &mockTokenAccess{
		base:        base,
		collaterals: map[string]*mockToken{string(market.Bytes()): collateral},
	}

	engine := NewEngine(owner, module, DefaultRiskParameters)
	state := newMockEngineState()
	engine.SetState(state)
	engine.SetTokenAccess(access)
	engine.SetOracle(NewStaticRateSource(testRate))

	if err := engine.RegisterMarket(owner, market, 20_000); err != nil {
		t.Fatalf("register market: %v", err)
	}

	return &testEnv{
		engine:     engine,
		state:      state,
		base:       base,
		collateral: collateral,
		access:     access,
		owner:      owner,
		module:     module,
		market:     market,
	}
}

func TestSetEmitterNilFallsBackToNoop(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("2000000000000000000"))

	recorder := &recordingEmitter{}
	env.engine.SetEmitter(recorder)
	if err := env.engine.DepositCollateral(user, env.market, amt("1000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if len(recorder.events) != 1 {
		t.Fatalf("expected one recorded event, got %d", len(recorder.events))
	}

	env.engine.SetEmitter(nil)
	if err := env.engine.DepositCollateral(user, env.market, amt("1000000000000000000")); err != nil {
		t.Fatalf("deposit with noop emitter: %v", err)
	}
	if len(recorder.events) != 1 {
		t.Fatalf("events leaked past emitter reset: %d", len(recorder.events))
	}
}

func TestDepositIncreasesCollateral(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("105000000000000000000"))

	if err := env.engine.DepositCollateral(user, env.market, amt("105000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	position, err := env.engine.Position(user, env.market)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Collateral.Cmp(amt("105000000000000000000")) != 0 {
		t.Fatalf("unexpected collateral: %s", position.Collateral)
	}
	held, _ := env.collateral.BalanceOf(env.module)
	if held.Cmp(amt("105000000000000000000")) != 0 {
		t.Fatalf("unexpected ledger collateral balance: %s", held)
	}
}

func TestDepositValidation(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("1000000000000000000"))

	if err := env.engine.DepositCollateral(user, env.market, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	unknown := makeAddress(crypto.AssetPrefix, 0x77)
	if err := env.engine.DepositCollateral(user, unknown, big.NewInt(1)); !errors.Is(err, ErrMarketNotEligible) {
		t.Fatalf("expected ErrMarketNotEligible, got %v", err)
	}

	if err := env.engine.FreezeMarket(env.owner, env.market); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := env.engine.DepositCollateral(user, env.market, big.NewInt(1)); !errors.Is(err, ErrMarketFrozen) {
		t.Fatalf("expected ErrMarketFrozen, got %v", err)
	}
}

func TestDepositTransferFailureLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("1000000000000000000"))
	env.collateral.failNext = true

	err := env.engine.DepositCollateral(user, env.market, amt("1000000000000000000"))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if len(env.state.positions) != 0 {
		t.Fatalf("expected no position to be created")
	}
}

func TestBorrowScenarioAtExactMinimumRatio(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("105000000000000000000"))
	env.base.mint(env.module, amt("1000000000000000000"))

	if err := env.engine.DepositCollateral(user, env.market, amt("105000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// 0.025 ETH at $2000 with the 5% fee values the debt at exactly $52.50,
	// which puts the health factor right at the 200% minimum.
	fee, err := env.engine.Borrow(user, env.market, amt("25000000000000000"))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if fee.Cmp(amt("1250000000000000")) != 0 {
		t.Fatalf("unexpected fee: %s", fee)
	}

	health, err := env.engine.HealthFactor(user, env.market)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if health.Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("unexpected health factor: %s", health)
	}

	balance, _ := env.base.BalanceOf(user)
	if balance.Cmp(amt("25000000000000000")) != 0 {
		t.Fatalf("unexpected borrower balance: %s", balance)
	}
	if env.state.global.YieldPool.Cmp(amt("1250000000000000")) != 0 {
		t.Fatalf("unexpected yield pool: %s", env.state.global.YieldPool)
	}
}

func TestBorrowRejectedBelowMinimumRatio(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("105000000000000000000"))
	env.base.mint(env.module, amt("1000000000000000000"))

	if err := env.engine.DepositCollateral(user, env.market, amt("105000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := env.engine.Borrow(user, env.market, amt("26000000000000000")); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}

	position, err := env.engine.Position(user, env.market)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Debt().Sign() != 0 {
		t.Fatalf("expected no debt after rejected borrow, got %s", position.Debt())
	}
}

func TestBorrowRequiresLiquidity(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("105000000000000000000"))

	if err := env.engine.DepositCollateral(user, env.market, amt("105000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Borrow(user, env.market, amt("25000000000000000")); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestWithdrawBlockedByOutstandingDebt(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("105000000000000000000"))
	env.base.mint(env.module, amt("1000000000000000000"))

	if err := env.engine.DepositCollateral(user, env.market, amt("105000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Borrow(user, env.market, amt("20000000000000000")); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err := env.engine.WithdrawCollateral(user, env.market, amt("1000000000000000000"))
	if !errors.Is(err, ErrDebtOutstanding) {
		t.Fatalf("expected ErrDebtOutstanding, got %v", err)
	}
}

func TestWithdrawAfterFullRepayment(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("105000000000000000000"))
	env.base.mint(env.module, amt("1000000000000000000"))
	env.base.mint(user, amt("1000000000000000"))

	if err := env.engine.DepositCollateral(user, env.market, amt("105000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Borrow(user, env.market, amt("20000000000000000")); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Repay principal 0.02 plus the 0.001 fee.
	if _, _, err := env.engine.Repay(user, env.market, amt("21000000000000000")); err != nil {
		t.Fatalf("repay: %v", err)
	}

	if err := env.engine.WithdrawCollateral(user, env.market, amt("105000000000000000000")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	position, err := env.engine.Position(user, env.market)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Collateral.Sign() != 0 {
		t.Fatalf("expected zero collateral, got %s", position.Collateral)
	}
	balance, _ := env.collateral.BalanceOf(user)
	if balance.Cmp(amt("105000000000000000000")) != 0 {
		t.Fatalf("expected collateral returned, got %s", balance)
	}
}

func TestWithdrawExceedingBalance(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("1000000000000000000"))

	if err := env.engine.DepositCollateral(user, env.market, amt("1000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	err := env.engine.WithdrawCollateral(user, env.market, amt("2000000000000000000"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestRepayFeeBeforePrincipal(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("105000000000000000000"))
	env.base.mint(env.module, amt("1000000000000000000"))

	if err := env.engine.DepositCollateral(user, env.market, amt("105000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Principal 0.02 ETH, fee 0.001 ETH.
	if _, err := env.engine.Borrow(user, env.market, amt("20000000000000000")); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	feePaid, principalPaid, err := env.engine.Repay(user, env.market, amt("500000000000000"))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if feePaid.Cmp(amt("500000000000000")) != 0 || principalPaid.Sign() != 0 {
		t.Fatalf("expected fee-first repayment, got fee=%s principal=%s", feePaid, principalPaid)
	}

	position, err := env.engine.Position(user, env.market)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.AccruedFee.Cmp(amt("500000000000000")) != 0 {
		t.Fatalf("unexpected remaining fee: %s", position.AccruedFee)
	}
	if position.Borrowed.Cmp(amt("20000000000000000")) != 0 {
		t.Fatalf("unexpected remaining principal: %s", position.Borrowed)
	}
}

func TestRepayValidation(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("105000000000000000000"))
	env.base.mint(env.module, amt("1000000000000000000"))

	if _, _, err := env.engine.Repay(user, env.market, amt("1")); !errors.Is(err, ErrNoOpenDebt) {
		t.Fatalf("expected ErrNoOpenDebt, got %v", err)
	}

	if err := env.engine.DepositCollateral(user, env.market, amt("105000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Borrow(user, env.market, amt("20000000000000000")); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if _, _, err := env.engine.Repay(user, env.market, amt("21000000000000001")); !errors.Is(err, ErrExceedsMarketDebt) {
		t.Fatalf("expected ErrExceedsMarketDebt, got %v", err)
	}
}

func TestHealthFactorUndefinedWithoutDebt(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	if _, err := env.engine.HealthFactor(user, env.market); !errors.Is(err, ErrNoOpenDebt) {
		t.Fatalf("expected ErrNoOpenDebt, got %v", err)
	}
}

func TestPauseGuardBlocksMutation(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetPauses(stubPauseView{modules: map[string]bool{moduleName: true}})
	user := makeAddress(crypto.AccountPrefix, 0x20)
	env.collateral.mint(user, amt("1000000000000000000"))

	err := env.engine.DepositCollateral(user, env.market, amt("1000000000000000000"))
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	balance, _ := env.collateral.BalanceOf(user)
	if balance.Cmp(amt("1000000000000000000")) != 0 {
		t.Fatalf("expected user balance unchanged, got %s", balance)
	}
}
