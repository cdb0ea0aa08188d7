package lending

import (
	"fmt"
	"math/big"

	"lendledger/crypto"
	"lendledger/native/lending"
)

// AccountToken is a balance ledger stored alongside the lending state, so
// token movements land in the same commit batch as the positions they fund.
type AccountToken struct {
	store  *Store
	symbol string
	module crypto.Address
}

func (s *Store) Token(symbol string, module crypto.Address) *AccountToken {
	return &AccountToken{store: s, symbol: symbol, module: module}
}

func (t *AccountToken) key(addr crypto.Address) string {
	return balancePrefix + t.symbol + "/" + addrHex(addr)
}

func (t *AccountToken) balance(addr crypto.Address) (*big.Int, error) {
	value := new(big.Int)
	ok, err := t.store.loadJSON(t.key(addr), value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (t *AccountToken) setBalance(addr crypto.Address, value *big.Int) error {
	return t.store.storeJSON(t.key(addr), value)
}

func (t *AccountToken) move(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("lending store: invalid %s transfer amount", t.symbol)
	}
	src, err := t.balance(from)
	if err != nil {
		return err
	}
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("lending store: insufficient %s balance for %s", t.symbol, from)
	}
	dst, err := t.balance(to)
	if err != nil {
		return err
	}
	if err := t.setBalance(from, new(big.Int).Sub(src, amount)); err != nil {
		return err
	}
	return t.setBalance(to, new(big.Int).Add(dst, amount))
}

func (t *AccountToken) TransferIn(from crypto.Address, amount *big.Int) error {
	return t.move(from, t.module, amount)
}

func (t *AccountToken) TransferOut(to crypto.Address, amount *big.Int) error {
	return t.move(t.module, to, amount)
}

func (t *AccountToken) BalanceOf(holder crypto.Address) (*big.Int, error) {
	return t.balance(holder)
}

// Mint credits an account out of thin air. Genesis funding and faucets only.
func (t *AccountToken) Mint(addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("lending store: invalid %s mint amount", t.symbol)
	}
	current, err := t.balance(addr)
	if err != nil {
		return err
	}
	return t.setBalance(addr, new(big.Int).Add(current, amount))
}

// TokenBook wires AccountTokens into the engine's token access: one base
// asset plus a collateral ledger per registered market token.
type TokenBook struct {
	base        *AccountToken
	collaterals map[string]*AccountToken
}

func NewTokenBook(base *AccountToken) *TokenBook {
	return &TokenBook{base: base, collaterals: make(map[string]*AccountToken)}
}

func (b *TokenBook) AddCollateral(token crypto.Address, ledger *AccountToken) {
	b.collaterals[string(token.Bytes())] = ledger
}

func (b *TokenBook) Base() lending.Token { return b.base }

func (b *TokenBook) Collateral(token crypto.Address) (lending.Token, error) {
	ledger, ok := b.collaterals[string(token.Bytes())]
	if !ok {
		return nil, fmt.Errorf("lending store: no collateral ledger for %s", token)
	}
	return ledger, nil
}

// CollateralLedger exposes the raw AccountToken for host-side minting.
func (b *TokenBook) CollateralLedger(token crypto.Address) (*AccountToken, bool) {
	ledger, ok := b.collaterals[string(token.Bytes())]
	return ledger, ok
}
