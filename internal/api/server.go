package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clob-exchange/matching-engine/internal/apperr"
	"github.com/clob-exchange/matching-engine/internal/exchange"
	"github.com/clob-exchange/matching-engine/internal/identity"
	"github.com/clob-exchange/matching-engine/internal/money"
	"github.com/clob-exchange/matching-engine/internal/orderstore"
)

// Server is the REST + WebSocket adapter over the core API facade.
type Server struct {
	x        *exchange.Exchange
	verifier *identity.Verifier // nil: the /orders/signed routes reject every request
	router   *mux.Router
	hub      *Hub
}

// NewServer builds a Server wired to x. Call Start to begin serving.
// verifier may be nil if the deployment never accepts EIP-712-signed
// orders (every other route works regardless).
func NewServer(x *exchange.Exchange, verifier *identity.Verifier) *Server {
	router := mux.NewRouter()
	// Instrument symbols contain a literal "/" (e.g. "BTC/USDT"); callers
	// must percent-encode it in the path, and UseEncodedPath keeps mux
	// matching against the still-escaped form instead of net/http's
	// pre-decoded r.URL.Path, where the slash would split the segment.
	router.UseEncodedPath()
	s := &Server{x: x, verifier: verifier, router: router, hub: NewHub()}
	s.setupRoutes()
	return s
}

// ServeHTTP lets Server itself be used as an http.Handler (e.g. with
// httptest.NewServer), without exposing the router or requiring the
// CORS/journal-bridge wiring Start does for production.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/instruments", s.handleListInstruments).Methods("GET")
	api.HandleFunc("/instruments/{symbol}", s.handleGetInstrument).Methods("GET")
	api.HandleFunc("/instruments/{symbol}/orderbook", s.handleGetOrderBook).Methods("GET")
	api.HandleFunc("/instruments/{symbol}/trades", s.handleGetTrades).Methods("GET")

	api.HandleFunc("/accounts/{account}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{account}/orders", s.handleListOrders).Methods("GET")

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/signed", s.handleSubmitSignedOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/cancel-signed", s.handleCancelSignedOrder).Methods("POST")

	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves HTTP on addr until the process exits or
// http.Serve returns an error (ListenAndServe never returns nil).
func (s *Server) Start(addr string, allowedOrigins []string) error {
	go s.hub.Run()
	events, unsubscribe := s.x.Subscribe()
	defer unsubscribe()
	go s.hub.RunJournalBridge(events)

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments := s.x.ListInstruments()
	out := make([]InstrumentInfo, len(instruments))
	for i, inst := range instruments {
		out[i] = InstrumentInfo{
			Symbol: inst.Symbol, Base: inst.Base, Quote: inst.Quote,
			TickSize: inst.TickSize.String(), LotSize: inst.LotSize.String(), Active: inst.Active,
		}
		if inst.ReferencePrice.IsPositive() {
			out[i].ReferencePrice = inst.ReferencePrice.String()
		}
	}
	respondJSON(w, out)
}

// symbolVar recovers the {symbol} path variable, undoing the percent-encoding
// a caller must apply to a symbol containing a literal "/" (e.g. "BTC/USDT")
// now that the router matches on the still-escaped path.
func symbolVar(r *http.Request) string {
	raw := mux.Vars(r)["symbol"]
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	symbol := symbolVar(r)
	inst, err := s.x.GetInstrument(symbol)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, InstrumentInfo{
		Symbol: inst.Symbol, Base: inst.Base, Quote: inst.Quote,
		TickSize: inst.TickSize.String(), LotSize: inst.LotSize.String(), Active: inst.Active,
	})
}

func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := symbolVar(r)
	view, err := s.x.GetOrderBook(r.Context(), symbol, 50)
	if err != nil {
		respondErr(w, err)
		return
	}

	bids := make([]PriceLevelInfo, len(view.Snapshot.Bids))
	for i, l := range view.Snapshot.Bids {
		bids[i] = PriceLevelInfo{Price: l.Price.String(), Size: l.Quantity.String(), OrderCount: l.OrderCount}
	}
	asks := make([]PriceLevelInfo, len(view.Snapshot.Asks))
	for i, l := range view.Snapshot.Asks {
		asks[i] = PriceLevelInfo{Price: l.Price.String(), Size: l.Quantity.String(), OrderCount: l.OrderCount}
	}

	resp := OrderBookSnapshot{Instrument: symbol, Bids: bids, Asks: asks}
	if view.HasSpread {
		resp.Spread = view.Spread.String()
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := symbolVar(r)
	trades, err := s.x.ListTrades(symbol, 100)
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = TradeInfo{
			ID: t.ID, Instrument: t.Instrument, Price: t.Price.String(),
			Quantity: t.Quantity.String(), BuyerAccount: t.BuyerAccount,
			SellerAccount: t.SellerAccount, Timestamp: t.Timestamp,
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	view := s.x.GetAccount(account)

	balances := make([]BalanceInfo, 0, len(view.Balances))
	for asset, bal := range view.Balances {
		balances = append(balances, BalanceInfo{Asset: asset, Available: bal.Available.String(), Locked: bal.Locked.String()})
	}
	positions := make([]PositionInfo, len(view.Positions))
	for i, p := range view.Positions {
		positions[i] = PositionInfo{
			Instrument: p.Instrument, Quantity: p.Quantity.String(),
			AverageCost: p.AverageCost.String(), TotalInvested: p.TotalInvested.String(),
		}
	}

	respondJSON(w, AccountInfo{Account: account, Balances: balances, Positions: positions})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	filter := exchange.ListOrdersFilter{Instrument: r.URL.Query().Get("instrument")}

	orders := s.x.ListOrders(account, filter)
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	typ, err := parseType(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid type", err.Error())
		return
	}
	quantity, err := money.NewFromString(req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quantity", err.Error())
		return
	}
	var price money.Amount
	if typ == orderstore.Limit {
		price, err = money.NewFromString(req.Price)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid price", err.Error())
			return
		}
	}

	res, err := s.x.PlaceOrder(r.Context(), exchange.PlaceOrderRequest{
		Account: req.Account, Instrument: req.Instrument, Side: side, Type: typ,
		Price: price, Quantity: quantity,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, PlaceOrderResponse{
		OrderID: res.OrderID, Status: res.Status.String(),
		Filled: res.Filled.String(), Remaining: res.Remaining.String(),
		Fills: fillsOf(res.Fills), RejectReason: res.RejectReason,
	})
}

// handleSubmitSignedOrder verifies an EIP-712 envelope before admitting the
// order; the recovered signer, not the caller-supplied owner, becomes the
// account id PlaceOrder sees.
func (s *Server) handleSubmitSignedOrder(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		respondError(w, http.StatusNotImplemented, "signed orders disabled", "no identity verifier configured")
		return
	}

	var req SignedOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	nonce, ok := new(big.Int).SetString(req.Nonce, 10)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid nonce", req.Nonce)
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return
	}

	env := &identity.OrderEnvelope{
		Instrument: req.Instrument, Side: req.Side, Type: req.Type,
		Price: req.Price, Quantity: req.Quantity, Nonce: nonce,
		Owner: common.HexToAddress(req.Owner),
	}
	signer, err := s.verifier.RecoverOrderSigner(env, sig)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "signature verification failed", err.Error())
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	typ, err := parseType(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid type", err.Error())
		return
	}
	quantity, err := money.NewFromString(req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quantity", err.Error())
		return
	}
	var price money.Amount
	if typ == orderstore.Limit {
		price, err = money.NewFromString(req.Price)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid price", err.Error())
			return
		}
	}

	res, err := s.x.PlaceOrder(r.Context(), exchange.PlaceOrderRequest{
		Account: signer.Hex(), Instrument: req.Instrument, Side: side, Type: typ,
		Price: price, Quantity: quantity,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, PlaceOrderResponse{
		OrderID: res.OrderID, Status: res.Status.String(),
		Filled: res.Filled.String(), Remaining: res.Remaining.String(),
		Fills: fillsOf(res.Fills), RejectReason: res.RejectReason,
	})
}

// handleCancelSignedOrder verifies an EIP-712 cancel envelope and cancels
// as the recovered signer.
func (s *Server) handleCancelSignedOrder(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		respondError(w, http.StatusNotImplemented, "signed cancels disabled", "no identity verifier configured")
		return
	}

	orderID := mux.Vars(r)["id"]
	var req SignedCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	nonce, ok := new(big.Int).SetString(req.Nonce, 10)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid nonce", req.Nonce)
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return
	}

	env := &identity.CancelEnvelope{OrderID: orderID, Nonce: nonce, Owner: common.HexToAddress(req.Owner)}
	signer, err := s.verifier.RecoverCancelSigner(env, sig)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "signature verification failed", err.Error())
		return
	}

	res, err := s.x.CancelOrder(r.Context(), signer.Hex(), orderID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, orderInfo(&res.Order))
}

// decodeSignature parses a 0x-prefixed hex signature into its 65 raw bytes.
func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := s.x.CancelOrder(r.Context(), req.Account, orderID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, orderInfo(&res.Order))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amount, err := money.NewFromString(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}
	available, locked, err := s.x.Deposit(req.Account, req.Asset, amount)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, LedgerResponse{Account: req.Account, Asset: req.Asset, Available: available.String(), Locked: locked.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amount, err := money.NewFromString(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}
	available, locked, err := s.x.Withdraw(req.Account, req.Asset, amount)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, LedgerResponse{Account: req.Account, Asset: req.Asset, Available: available.String(), Locked: locked.String()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func parseSide(s string) (orderstore.Side, error) {
	switch s {
	case "buy":
		return orderstore.Buy, nil
	case "sell":
		return orderstore.Sell, nil
	default:
		return 0, fmt.Errorf("side must be \"buy\" or \"sell\", got %q", s)
	}
}

func parseType(t string) (orderstore.Type, error) {
	switch t {
	case "limit":
		return orderstore.Limit, nil
	case "market":
		return orderstore.Market, nil
	default:
		return 0, fmt.Errorf("type must be \"limit\" or \"market\", got %q", t)
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONWithStatus(w, http.StatusOK, data)
}

func respondJSONWithStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	respondJSONWithStatus(w, status, ErrorResponse{Error: errMsg, Message: message})
}

// respondErr maps the §7 error taxonomy onto HTTP status codes.
func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrUnknownInstrument), errors.Is(err, apperr.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, apperr.ErrNotOwner):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, apperr.ErrInvalidOrder), errors.Is(err, apperr.ErrInvalidAmount), errors.Is(err, apperr.ErrNotCancellable):
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
	case errors.Is(err, apperr.ErrInsufficientFunds), errors.Is(err, apperr.ErrInsufficientShares), errors.Is(err, apperr.ErrNoLiquidity):
		respondError(w, http.StatusUnprocessableEntity, "economic rejection", err.Error())
	case errors.Is(err, apperr.ErrInstrumentInactive):
		respondError(w, http.StatusConflict, "instrument inactive", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}
