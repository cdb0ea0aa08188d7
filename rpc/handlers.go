package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"lendledger/crypto"
	"lendledger/native/lending"
)

func decodeRequest(r *http.Request, out interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, requestLimit)
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if err == io.EOF {
			return fmt.Errorf("empty request body")
		}
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s address: %v", field, err)
	}
	return addr, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: expected a decimal integer", field)
	}
	return amount, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type marketView struct {
	Token       string `json:"token"`
	MinRatioBps uint64 `json:"minRatioBps"`
	Frozen      bool   `json:"frozen"`
}

type positionView struct {
	User       string `json:"user"`
	Token      string `json:"token"`
	Collateral string `json:"collateral"`
	Borrowed   string `json:"borrowed"`
	AccruedFee string `json:"accruedFee"`
	Debt       string `json:"debt"`
}

func positionToView(position *lending.Position) positionView {
	return positionView{
		User:       position.User.String(),
		Token:      position.Token.String(),
		Collateral: bigString(position.Collateral),
		Borrowed:   bigString(position.Borrowed),
		AccruedFee: bigString(position.AccruedFee),
		Debt:       bigString(position.Debt()),
	}
}

type entryView struct {
	Amount    string `json:"amount"`
	Timestamp uint64 `json:"timestamp"`
}

type lenderView struct {
	Address        string      `json:"address"`
	TotalDeposited string      `json:"totalDeposited"`
	Entries        []entryView `json:"entries"`
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var markets []*lending.Market
	err := s.query(func() error {
		var qerr error
		markets, qerr = s.engine.ActiveMarkets()
		return qerr
	})
	if err != nil {
		s.observe("markets.list", writeError(w, err), started)
		return
	}
	views := make([]marketView, 0, len(markets))
	for _, market := range markets {
		views = append(views, marketView{
			Token:       market.Token.String(),
			MinRatioBps: market.MinRatioBps,
			Frozen:      market.Frozen,
		})
	}
	s.observe("markets.list", writeJSON(w, map[string]interface{}{"markets": views}), started)
}

type marketAdminRequest struct {
	Caller      string `json:"caller"`
	Token       string `json:"token"`
	MinRatioBps uint64 `json:"minRatioBps,omitempty"`
}

func (s *Server) decodeMarketAdmin(w http.ResponseWriter, r *http.Request) (crypto.Address, crypto.Address, uint64, bool) {
	var req marketAdminRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, 0, false
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, 0, false
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, 0, false
	}
	return caller, token, req.MinRatioBps, true
}

func (s *Server) handleRegisterMarket(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	caller, token, minRatio, ok := s.decodeMarketAdmin(w, r)
	if !ok {
		s.observe("markets.register", http.StatusBadRequest, started)
		return
	}
	err := s.mutate("markets.register", func() error {
		return s.engine.RegisterMarket(caller, token, minRatio)
	})
	if err != nil {
		s.observe("markets.register", writeError(w, err), started)
		return
	}
	s.observe("markets.register", writeJSON(w, map[string]string{"status": "registered"}), started)
}

func (s *Server) handleDeregisterMarket(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	caller, token, _, ok := s.decodeMarketAdmin(w, r)
	if !ok {
		s.observe("markets.deregister", http.StatusBadRequest, started)
		return
	}
	err := s.mutate("markets.deregister", func() error {
		return s.engine.DeregisterMarket(caller, token)
	})
	if err != nil {
		s.observe("markets.deregister", writeError(w, err), started)
		return
	}
	s.observe("markets.deregister", writeJSON(w, map[string]string{"status": "removed"}), started)
}

func (s *Server) handleFreezeMarket(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	caller, token, _, ok := s.decodeMarketAdmin(w, r)
	if !ok {
		s.observe("markets.freeze", http.StatusBadRequest, started)
		return
	}
	err := s.mutate("markets.freeze", func() error {
		return s.engine.FreezeMarket(caller, token)
	})
	if err != nil {
		s.observe("markets.freeze", writeError(w, err), started)
		return
	}
	s.observe("markets.freeze", writeJSON(w, map[string]string{"status": "frozen"}), started)
}

func (s *Server) handleUnfreezeMarket(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	caller, token, _, ok := s.decodeMarketAdmin(w, r)
	if !ok {
		s.observe("markets.unfreeze", http.StatusBadRequest, started)
		return
	}
	err := s.mutate("markets.unfreeze", func() error {
		return s.engine.UnfreezeMarket(caller, token)
	})
	if err != nil {
		s.observe("markets.unfreeze", writeError(w, err), started)
		return
	}
	s.observe("markets.unfreeze", writeJSON(w, map[string]string{"status": "active"}), started)
}

type collateralRequest struct {
	User   string `json:"user"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func (s *Server) decodeCollateral(w http.ResponseWriter, r *http.Request) (crypto.Address, crypto.Address, *big.Int, bool) {
	var req collateralRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, nil, false
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, nil, false
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, nil, false
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, nil, false
	}
	return user, token, amount, true
}

func (s *Server) handleDepositCollateral(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	user, token, amount, ok := s.decodeCollateral(w, r)
	if !ok {
		s.observe("collateral.deposit", http.StatusBadRequest, started)
		return
	}
	err := s.mutate("collateral.deposit", func() error {
		return s.engine.DepositCollateral(user, token, amount)
	})
	if err != nil {
		s.observe("collateral.deposit", writeError(w, err), started)
		return
	}
	s.observe("collateral.deposit", writeJSON(w, map[string]string{"status": "deposited"}), started)
}

func (s *Server) handleWithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	user, token, amount, ok := s.decodeCollateral(w, r)
	if !ok {
		s.observe("collateral.withdraw", http.StatusBadRequest, started)
		return
	}
	err := s.mutate("collateral.withdraw", func() error {
		return s.engine.WithdrawCollateral(user, token, amount)
	})
	if err != nil {
		s.observe("collateral.withdraw", writeError(w, err), started)
		return
	}
	s.observe("collateral.withdraw", writeJSON(w, map[string]string{"status": "withdrawn"}), started)
}

type loanRequest struct {
	Borrower string `json:"borrower"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
}

func (s *Server) decodeLoan(w http.ResponseWriter, r *http.Request) (crypto.Address, crypto.Address, *big.Int, bool) {
	var req loanRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, nil, false
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, nil, false
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, nil, false
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, nil, false
	}
	return borrower, token, amount, true
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	borrower, token, amount, ok := s.decodeLoan(w, r)
	if !ok {
		s.observe("loans.borrow", http.StatusBadRequest, started)
		return
	}
	var fee *big.Int
	err := s.mutate("loans.borrow", func() error {
		var merr error
		fee, merr = s.engine.Borrow(borrower, token, amount)
		return merr
	})
	if err != nil {
		s.observe("loans.borrow", writeError(w, err), started)
		return
	}
	s.observe("loans.borrow", writeJSON(w, map[string]string{"fee": bigString(fee)}), started)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	borrower, token, amount, ok := s.decodeLoan(w, r)
	if !ok {
		s.observe("loans.repay", http.StatusBadRequest, started)
		return
	}
	var feePaid, principalPaid *big.Int
	err := s.mutate("loans.repay", func() error {
		var merr error
		feePaid, principalPaid, merr = s.engine.Repay(borrower, token, amount)
		return merr
	})
	if err != nil {
		s.observe("loans.repay", writeError(w, err), started)
		return
	}
	s.observe("loans.repay", writeJSON(w, map[string]string{
		"feePaid":       bigString(feePaid),
		"principalPaid": bigString(principalPaid),
	}), started)
}

type positionRequest struct {
	User  string `json:"user"`
	Token string `json:"token"`
}

func (s *Server) decodePositionRef(w http.ResponseWriter, r *http.Request) (crypto.Address, crypto.Address, bool) {
	var req positionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, false
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, false
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, false
	}
	return user, token, true
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	user, token, ok := s.decodePositionRef(w, r)
	if !ok {
		s.observe("positions.get", http.StatusBadRequest, started)
		return
	}
	var position *lending.Position
	err := s.query(func() error {
		var qerr error
		position, qerr = s.engine.Position(user, token)
		return qerr
	})
	if err != nil {
		s.observe("positions.get", writeError(w, err), started)
		return
	}
	s.observe("positions.get", writeJSON(w, positionToView(position)), started)
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	user, token, ok := s.decodePositionRef(w, r)
	if !ok {
		s.observe("positions.health", http.StatusBadRequest, started)
		return
	}
	var health *big.Int
	err := s.query(func() error {
		var qerr error
		health, qerr = s.engine.HealthFactor(user, token)
		return qerr
	})
	if err != nil {
		s.observe("positions.health", writeError(w, err), started)
		return
	}
	s.observe("positions.health", writeJSON(w, map[string]string{"healthFactorBps": bigString(health)}), started)
}

type lenderRequest struct {
	Lender string `json:"lender"`
	Amount string `json:"amount,omitempty"`
}

func (s *Server) decodeLender(w http.ResponseWriter, r *http.Request, needAmount bool) (crypto.Address, *big.Int, bool) {
	var req lenderRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, nil, false
	}
	lenderAddr, err := parseAddress("lender", req.Lender)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, nil, false
	}
	if !needAmount {
		return lenderAddr, nil, true
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, nil, false
	}
	return lenderAddr, amount, true
}

func (s *Server) handlePoolBalance(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var balance *big.Int
	err := s.query(func() error {
		var qerr error
		balance, qerr = s.engine.PoolBalance()
		return qerr
	})
	if err != nil {
		s.observe("pool.balance", writeError(w, err), started)
		return
	}
	s.observe("pool.balance", writeJSON(w, map[string]string{"balance": bigString(balance)}), started)
}

func (s *Server) handleLend(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	lenderAddr, amount, ok := s.decodeLender(w, r, true)
	if !ok {
		s.observe("pool.lend", http.StatusBadRequest, started)
		return
	}
	err := s.mutate("pool.lend", func() error {
		return s.engine.Lend(lenderAddr, amount)
	})
	if err != nil {
		s.observe("pool.lend", writeError(w, err), started)
		return
	}
	s.observe("pool.lend", writeJSON(w, map[string]string{"status": "lent"}), started)
}

func (s *Server) handleWithdrawLent(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	lenderAddr, amount, ok := s.decodeLender(w, r, true)
	if !ok {
		s.observe("pool.withdraw", http.StatusBadRequest, started)
		return
	}
	err := s.mutate("pool.withdraw", func() error {
		return s.engine.WithdrawLent(lenderAddr, amount)
	})
	if err != nil {
		s.observe("pool.withdraw", writeError(w, err), started)
		return
	}
	s.observe("pool.withdraw", writeJSON(w, map[string]string{"status": "withdrawn"}), started)
}

func (s *Server) handleCalculateYield(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	lenderAddr, _, ok := s.decodeLender(w, r, false)
	if !ok {
		s.observe("pool.yield", http.StatusBadRequest, started)
		return
	}
	var yield *big.Int
	err := s.query(func() error {
		var qerr error
		yield, qerr = s.engine.CalculateYield(lenderAddr)
		return qerr
	})
	if err != nil {
		s.observe("pool.yield", writeError(w, err), started)
		return
	}
	s.observe("pool.yield", writeJSON(w, map[string]string{"yield": bigString(yield)}), started)
}

func (s *Server) handleWithdrawYield(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	lenderAddr, _, ok := s.decodeLender(w, r, false)
	if !ok {
		s.observe("pool.yield.withdraw", http.StatusBadRequest, started)
		return
	}
	err := s.mutate("pool.yield.withdraw", func() error {
		return s.engine.WithdrawYield(lenderAddr)
	})
	if err != nil {
		s.observe("pool.yield.withdraw", writeError(w, err), started)
		return
	}
	s.observe("pool.yield.withdraw", writeJSON(w, map[string]string{"status": "withdrawn"}), started)
}

func (s *Server) handleLenderState(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	lenderAddr, _, ok := s.decodeLender(w, r, false)
	if !ok {
		s.observe("lenders.get", http.StatusBadRequest, started)
		return
	}
	var account *lending.LenderAccount
	err := s.query(func() error {
		var qerr error
		account, qerr = s.engine.LenderState(lenderAddr)
		return qerr
	})
	if err != nil {
		s.observe("lenders.get", writeError(w, err), started)
		return
	}
	view := lenderView{
		Address:        account.Address.String(),
		TotalDeposited: bigString(account.TotalDeposited),
		Entries:        make([]entryView, 0, len(account.Entries)),
	}
	for _, entry := range account.Entries {
		view.Entries = append(view.Entries, entryView{
			Amount:    bigString(entry.Amount),
			Timestamp: entry.Timestamp,
		})
	}
	s.observe("lenders.get", writeJSON(w, view), started)
}

type liquidationRequest struct {
	Liquidator string `json:"liquidator,omitempty"`
	Borrower   string `json:"borrower"`
	Token      string `json:"token"`
	Payment    string `json:"payment,omitempty"`
}

func (s *Server) handlePartialSpecs(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req liquidationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		s.observe("liquidations.specs", http.StatusBadRequest, started)
		return
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		writeBadRequest(w, err.Error())
		s.observe("liquidations.specs", http.StatusBadRequest, started)
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeBadRequest(w, err.Error())
		s.observe("liquidations.specs", http.StatusBadRequest, started)
		return
	}
	var required *big.Int
	qerr := s.query(func() error {
		var err error
		required, err = s.engine.PartialLiquidationSpecs(borrower, token)
		return err
	})
	if qerr != nil {
		s.observe("liquidations.specs", writeError(w, qerr), started)
		return
	}
	s.observe("liquidations.specs", writeJSON(w, map[string]string{"requiredPayment": bigString(required)}), started)
}

func (s *Server) decodeLiquidation(w http.ResponseWriter, r *http.Request) (crypto.Address, crypto.Address, crypto.Address, *big.Int, bool) {
	var req liquidationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, crypto.Address{}, nil, false
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, crypto.Address{}, nil, false
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, crypto.Address{}, nil, false
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, crypto.Address{}, nil, false
	}
	payment, err := parseAmount("payment", req.Payment)
	if err != nil {
		writeBadRequest(w, err.Error())
		return crypto.Address{}, crypto.Address{}, crypto.Address{}, nil, false
	}
	return liquidator, borrower, token, payment, true
}

func (s *Server) handleFullLiquidation(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	liquidator, borrower, token, payment, ok := s.decodeLiquidation(w, r)
	if !ok {
		s.observe("liquidations.full", http.StatusBadRequest, started)
		return
	}
	var seized *big.Int
	err := s.mutate("liquidations.full", func() error {
		var merr error
		seized, merr = s.engine.FullLiquidation(liquidator, borrower, token, payment)
		return merr
	})
	if err != nil {
		s.observe("liquidations.full", writeError(w, err), started)
		return
	}
	s.metrics.RecordLiquidation("full")
	s.observe("liquidations.full", writeJSON(w, map[string]string{"seized": bigString(seized)}), started)
}

func (s *Server) handlePartialLiquidation(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	liquidator, borrower, token, payment, ok := s.decodeLiquidation(w, r)
	if !ok {
		s.observe("liquidations.partial", http.StatusBadRequest, started)
		return
	}
	var seized *big.Int
	err := s.mutate("liquidations.partial", func() error {
		var merr error
		seized, merr = s.engine.PartialLiquidation(liquidator, borrower, token, payment)
		return merr
	})
	if err != nil {
		s.observe("liquidations.partial", writeError(w, err), started)
		return
	}
	s.metrics.RecordLiquidation("partial")
	s.observe("liquidations.partial", writeJSON(w, map[string]string{"seized": bigString(seized)}), started)
}
