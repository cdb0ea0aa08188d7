package lending

import "lendledger/crypto"

// EngineState is the persistence boundary for the engine. Implementations
// must support atomic multi-field updates per operation; the production store
// stages every put and commits them in one batch.
//
// Getters return nil (with a nil error) when the record does not exist.
type EngineState interface {
	GetMarket(token crypto.Address) (*Market, error)
	PutMarket(market *Market) error
	ListMarkets() ([]*Market, error)

	GetPosition(user, token crypto.Address) (*Position, error)
	PutPosition(position *Position) error

	GetLenderAccount(addr crypto.Address) (*LenderAccount, error)
	PutLenderAccount(account *LenderAccount) error

	GetGlobalState() (*GlobalState, error)
	PutGlobalState(global *GlobalState) error
}
