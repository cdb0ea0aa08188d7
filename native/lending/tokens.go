package lending

import (
	"math/big"

	"lendledger/crypto"
)

// Token is the fungible-token transfer capability the ledger uses to move
// assets between itself and a user. Every method is fallible and any failure
// aborts the whole operation with no partial state mutation.
type Token interface {
	TransferIn(from crypto.Address, amount *big.Int) error
	TransferOut(to crypto.Address, amount *big.Int) error
	BalanceOf(holder crypto.Address) (*big.Int, error)
}

// TokenAccess resolves the base asset and the collateral token behind each
// market identifier.
type TokenAccess interface {
	Base() Token
	Collateral(token crypto.Address) (Token, error)
}
