package lending

import (
	"errors"
	"math/big"
	"testing"

	"lendledger/crypto"
)

// seedPosition plants a position directly in state so tests can construct
// health factors the borrowing path would never allow.
func seedPosition(t *testing.T, env *testEnv, user crypto.Address, collateral, borrowed, fee string) {
	t.Helper()
	if err := env.state.PutPosition(&Position{
		User:       user,
		Token:      env.market,
		Collateral: amt(collateral),
		Borrowed:   amt(borrowed),
		AccruedFee: amt(fee),
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	env.collateral.mint(env.module, amt(collateral))
}

func TestFullLiquidationAtDropBoundary(t *testing.T) {
	env := newTestEnv(t)
	debtor := makeAddress(crypto.AccountPrefix, 0x40)
	liquidator := makeAddress(crypto.AccountPrefix, 0x41)

	// Debt 0.0375 ETH values at $75; collateral 105 units puts the health
	// factor at exactly 14000, the 30% drop below the 200% minimum.
	seedPosition(t, env, debtor, "105000000000000000000", "36000000000000000", "1500000000000000")
	env.base.mint(liquidator, amt("37500000000000000"))

	health, err := env.engine.HealthFactor(debtor, env.market)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if health.Cmp(big.NewInt(14_000)) != 0 {
		t.Fatalf("unexpected health factor: %s", health)
	}

	seized, err := env.engine.FullLiquidation(liquidator, debtor, env.market, amt("37500000000000000"))
	if err != nil {
		t.Fatalf("full liquidation: %v", err)
	}
	if seized.Cmp(amt("105000000000000000000")) != 0 {
		t.Fatalf("unexpected seizure: %s", seized)
	}

	position, err := env.engine.Position(debtor, env.market)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Collateral.Sign() != 0 || position.Debt().Sign() != 0 {
		t.Fatalf("expected cleared position, got %+v", position)
	}
	got, _ := env.collateral.BalanceOf(liquidator)
	if got.Cmp(amt("105000000000000000000")) != 0 {
		t.Fatalf("unexpected liquidator collateral: %s", got)
	}
	paid, _ := env.base.BalanceOf(env.module)
	if paid.Cmp(amt("37500000000000000")) != 0 {
		t.Fatalf("unexpected ledger base balance: %s", paid)
	}
}

func TestFullLiquidationRequiresExactDebt(t *testing.T) {
	env := newTestEnv(t)
	debtor := makeAddress(crypto.AccountPrefix, 0x40)
	liquidator := makeAddress(crypto.AccountPrefix, 0x41)
	seedPosition(t, env, debtor, "105000000000000000000", "36000000000000000", "1500000000000000")
	env.base.mint(liquidator, amt("37500000000000001"))

	if _, err := env.engine.FullLiquidation(liquidator, debtor, env.market, amt("37500000000000001")); !errors.Is(err, ErrExactDebtRequired) {
		t.Fatalf("expected ErrExactDebtRequired on overpayment, got %v", err)
	}
	if _, err := env.engine.FullLiquidation(liquidator, debtor, env.market, amt("37499999999999999")); !errors.Is(err, ErrExactDebtRequired) {
		t.Fatalf("expected ErrExactDebtRequired on underpayment, got %v", err)
	}

	position, err := env.engine.Position(debtor, env.market)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Debt().Cmp(amt("37500000000000000")) != 0 {
		t.Fatalf("position disturbed by rejected liquidation: %+v", position)
	}
}

func TestPartialZoneJustAboveDropBoundary(t *testing.T) {
	env := newTestEnv(t)
	debtor := makeAddress(crypto.AccountPrefix, 0x40)
	liquidator := makeAddress(crypto.AccountPrefix, 0x41)

	// One basis point above the full-liquidation threshold: 14001.
	seedPosition(t, env, debtor, "105007500000000000000", "36000000000000000", "1500000000000000")

	health, err := env.engine.HealthFactor(debtor, env.market)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if health.Cmp(big.NewInt(14_001)) != 0 {
		t.Fatalf("unexpected health factor: %s", health)
	}

	env.base.mint(liquidator, amt("37500000000000000"))
	if _, err := env.engine.FullLiquidation(liquidator, debtor, env.market, amt("37500000000000000")); !errors.Is(err, ErrNotEligibleForFullLiquidation) {
		t.Fatalf("expected ErrNotEligibleForFullLiquidation, got %v", err)
	}

	required, err := env.engine.PartialLiquidationSpecs(debtor, env.market)
	if err != nil {
		t.Fatalf("partial specs: %v", err)
	}
	// Back-solved so the remaining debt would sit at twice the 200% minimum.
	if required.Cmp(amt("24374062500000000")) != 0 {
		t.Fatalf("unexpected required payment: %s", required)
	}

	seized, err := env.engine.PartialLiquidation(liquidator, debtor, env.market, required)
	if err != nil {
		t.Fatalf("partial liquidation: %v", err)
	}
	// Payment value $48.748125 plus the 5% bonus.
	if seized.Cmp(amt("51185531250000000000")) != 0 {
		t.Fatalf("unexpected seizure: %s", seized)
	}

	position, err := env.engine.Position(debtor, env.market)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.AccruedFee.Sign() != 0 {
		t.Fatalf("fee should be repaid first, got %s", position.AccruedFee)
	}
	if position.Borrowed.Cmp(amt("13125937500000000")) != 0 {
		t.Fatalf("unexpected remaining principal: %s", position.Borrowed)
	}
	if position.Collateral.Cmp(amt("53821968750000000000")) != 0 {
		t.Fatalf("unexpected remaining collateral: %s", position.Collateral)
	}
}

func TestPartialLiquidationRequiresQuotedPayment(t *testing.T) {
	env := newTestEnv(t)
	debtor := makeAddress(crypto.AccountPrefix, 0x40)
	liquidator := makeAddress(crypto.AccountPrefix, 0x41)
	seedPosition(t, env, debtor, "105007500000000000000", "36000000000000000", "1500000000000000")
	env.base.mint(liquidator, amt("24374062500000000"))

	if _, err := env.engine.PartialLiquidation(liquidator, debtor, env.market, amt("24374062499999999")); !errors.Is(err, ErrIncorrectDebtAmount) {
		t.Fatalf("expected ErrIncorrectDebtAmount, got %v", err)
	}
}

func TestHealthyPositionCannotBeLiquidated(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(crypto.AccountPrefix, 0x20)
	liquidator := makeAddress(crypto.AccountPrefix, 0x41)
	env.collateral.mint(user, amt("105000000000000000000"))
	env.base.mint(env.module, amt("1000000000000000000"))

	if err := env.engine.DepositCollateral(user, env.market, amt("105000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.engine.Borrow(user, env.market, amt("25000000000000000")); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	env.base.mint(liquidator, amt("26250000000000000"))
	if _, err := env.engine.FullLiquidation(liquidator, user, env.market, amt("26250000000000000")); !errors.Is(err, ErrNotEligibleForFullLiquidation) {
		t.Fatalf("expected ErrNotEligibleForFullLiquidation, got %v", err)
	}
	if _, err := env.engine.PartialLiquidationSpecs(user, env.market); !errors.Is(err, ErrNotEligibleForPartialLiquidation) {
		t.Fatalf("expected ErrNotEligibleForPartialLiquidation, got %v", err)
	}
}

func TestLiquidationWithoutDebt(t *testing.T) {
	env := newTestEnv(t)
	debtor := makeAddress(crypto.AccountPrefix, 0x40)
	liquidator := makeAddress(crypto.AccountPrefix, 0x41)

	if _, err := env.engine.FullLiquidation(liquidator, debtor, env.market, amt("1")); !errors.Is(err, ErrNoOpenDebt) {
		t.Fatalf("expected ErrNoOpenDebt, got %v", err)
	}
	if _, err := env.engine.PartialLiquidationSpecs(debtor, env.market); !errors.Is(err, ErrNoOpenDebt) {
		t.Fatalf("expected ErrNoOpenDebt, got %v", err)
	}
}
