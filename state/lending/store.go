package lending

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"lendledger/crypto"
	"lendledger/native/lending"
	"lendledger/storage"
)

const (
	marketPrefix   = "lending/market/"
	marketIndexKey = "lending/markets"
	positionPrefix = "lending/position/"
	lenderPrefix   = "lending/lender/"
	globalKey      = "lending/global"
	balancePrefix  = "lending/balance/"
)

// Store persists the lending engine's state in a key-value database. Writes
// accumulate in an overlay until Commit flushes them as a single batch, so a
// failed operation can be discarded without touching disk.
type Store struct {
	mu      sync.Mutex
	db      storage.Database
	overlay map[string]overlayEntry
}

type overlayEntry struct {
	value   []byte
	deleted bool
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db, overlay: make(map[string]overlayEntry)}
}

// Commit writes every pending change atomically and clears the overlay.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.overlay) == 0 {
		return nil
	}
	batch := &storage.Batch{}
	for key, entry := range s.overlay {
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := s.db.Write(batch); err != nil {
		return fmt.Errorf("lending store: commit: %w", err)
	}
	s.overlay = make(map[string]overlayEntry)
	return nil
}

// Discard drops every pending change.
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay = make(map[string]overlayEntry)
}

func (s *Store) get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.overlay[key]; ok {
		if entry.deleted {
			return nil, storage.ErrNotFound
		}
		return entry.value, nil
	}
	return s.db.Get([]byte(key))
}

func (s *Store) put(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay[key] = overlayEntry{value: value}
}

func (s *Store) loadJSON(key string, out interface{}) (bool, error) {
	raw, err := s.get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lending store: load %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("lending store: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) storeJSON(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("lending store: encode %s: %w", key, err)
	}
	s.put(key, raw)
	return nil
}

func addrHex(addr crypto.Address) string {
	return hex.EncodeToString(addr.Bytes())
}

func marketKey(token crypto.Address) string {
	return marketPrefix + addrHex(token)
}

func positionKey(user, token crypto.Address) string {
	return positionPrefix + addrHex(user) + "/" + addrHex(token)
}

func lenderKey(addr crypto.Address) string {
	return lenderPrefix + addrHex(addr)
}

func (s *Store) GetMarket(token crypto.Address) (*lending.Market, error) {
	market := new(lending.Market)
	ok, err := s.loadJSON(marketKey(token), market)
	if err != nil || !ok {
		return nil, err
	}
	return market, nil
}

func (s *Store) PutMarket(market *lending.Market) error {
	if market == nil {
		return fmt.Errorf("lending store: nil market")
	}
	if err := s.storeJSON(marketKey(market.Token), market); err != nil {
		return err
	}
	return s.indexMarket(market.Token)
}

// indexMarket records the token in the sorted market index so ListMarkets can
// enumerate without a database iterator.
func (s *Store) indexMarket(token crypto.Address) error {
	var index []string
	if _, err := s.loadJSON(marketIndexKey, &index); err != nil {
		return err
	}
	entry := token.String()
	pos := sort.SearchStrings(index, entry)
	if pos < len(index) && index[pos] == entry {
		return nil
	}
	index = append(index, "")
	copy(index[pos+1:], index[pos:])
	index[pos] = entry
	return s.storeJSON(marketIndexKey, index)
}

func (s *Store) ListMarkets() ([]*lending.Market, error) {
	var index []string
	if _, err := s.loadJSON(marketIndexKey, &index); err != nil {
		return nil, err
	}
	markets := make([]*lending.Market, 0, len(index))
	for _, entry := range index {
		token, err := crypto.DecodeAddress(entry)
		if err != nil {
			return nil, fmt.Errorf("lending store: market index entry %q: %w", entry, err)
		}
		market, err := s.GetMarket(token)
		if err != nil {
			return nil, err
		}
		if market != nil {
			markets = append(markets, market)
		}
	}
	return markets, nil
}

func (s *Store) GetPosition(user, token crypto.Address) (*lending.Position, error) {
	position := new(lending.Position)
	ok, err := s.loadJSON(positionKey(user, token), position)
	if err != nil || !ok {
		return nil, err
	}
	return position, nil
}

func (s *Store) PutPosition(position *lending.Position) error {
	if position == nil {
		return fmt.Errorf("lending store: nil position")
	}
	return s.storeJSON(positionKey(position.User, position.Token), position)
}

func (s *Store) GetLenderAccount(addr crypto.Address) (*lending.LenderAccount, error) {
	account := new(lending.LenderAccount)
	ok, err := s.loadJSON(lenderKey(addr), account)
	if err != nil || !ok {
		return nil, err
	}
	return account, nil
}

func (s *Store) PutLenderAccount(account *lending.LenderAccount) error {
	if account == nil {
		return fmt.Errorf("lending store: nil lender account")
	}
	return s.storeJSON(lenderKey(account.Address), account)
}

func (s *Store) GetGlobalState() (*lending.GlobalState, error) {
	global := new(lending.GlobalState)
	ok, err := s.loadJSON(globalKey, global)
	if err != nil || !ok {
		return nil, err
	}
	return global, nil
}

func (s *Store) PutGlobalState(global *lending.GlobalState) error {
	if global == nil {
		return fmt.Errorf("lending store: nil global state")
	}
	return s.storeJSON(globalKey, global)
}
