// Package api implements the REST + WebSocket adapter (§5): a thin
// translation layer over internal/exchange, mirroring the route tree and
// response shapes of the teacher's pkg/api package but for the CLOB domain
// instead of a perpetuals chain.
package api

import (
	"github.com/clob-exchange/matching-engine/internal/matching"
	"github.com/clob-exchange/matching-engine/internal/orderstore"
)

func sideString(s orderstore.Side) string {
	if s == orderstore.Buy {
		return "buy"
	}
	return "sell"
}

func typeString(t orderstore.Type) string {
	if t == orderstore.Limit {
		return "limit"
	}
	return "market"
}

// InstrumentInfo is the static configuration of one tradable market.
type InstrumentInfo struct {
	Symbol         string `json:"symbol"`
	Base           string `json:"base"`
	Quote          string `json:"quote"`
	TickSize       string `json:"tickSize"`
	LotSize        string `json:"lotSize"`
	Active         bool   `json:"active"`
	ReferencePrice string `json:"referencePrice,omitempty"`
}

// PriceLevelInfo is a [price, size, orderCount] tuple.
type PriceLevelInfo struct {
	Price      string `json:"price"`
	Size       string `json:"size"`
	OrderCount int    `json:"orderCount"`
}

// OrderBookSnapshot is the get_order_book response shape.
type OrderBookSnapshot struct {
	Instrument string           `json:"instrument"`
	Bids       []PriceLevelInfo `json:"bids"`
	Asks       []PriceLevelInfo `json:"asks"`
	Spread     string           `json:"spread,omitempty"`
}

// TradeInfo is one entry of the list_trades response.
type TradeInfo struct {
	ID            string `json:"id"`
	Instrument    string `json:"instrument"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	BuyerAccount  string `json:"buyerAccount"`
	SellerAccount string `json:"sellerAccount"`
	Timestamp     int64  `json:"timestamp"`
}

// BalanceInfo is one (asset) entry of an account's balance sheet.
type BalanceInfo struct {
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// PositionInfo is one open position.
type PositionInfo struct {
	Instrument    string `json:"instrument"`
	Quantity      string `json:"quantity"`
	AverageCost   string `json:"averageCost"`
	TotalInvested string `json:"totalInvested"`
}

// AccountInfo is the get_account response shape.
type AccountInfo struct {
	Account   string        `json:"account"`
	Balances  []BalanceInfo `json:"balances"`
	Positions []PositionInfo `json:"positions"`
}

// OrderInfo is one order's lifecycle record.
type OrderInfo struct {
	ID         string `json:"id"`
	Account    string `json:"account"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Price      string `json:"price,omitempty"`
	Quantity   string `json:"quantity"`
	Filled     string `json:"filled"`
	Remaining  string `json:"remaining"`
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp"`
}

func orderInfo(o *orderstore.Order) OrderInfo {
	info := OrderInfo{
		ID: o.ID, Account: o.Account, Instrument: o.Instrument,
		Side: sideString(o.Side), Type: typeString(o.Type),
		Quantity: o.Quantity.String(), Filled: o.Filled.String(),
		Remaining: o.Remaining().String(), Status: o.Status.String(),
		Timestamp: o.CreatedAt,
	}
	if o.Type == orderstore.Limit {
		info.Price = o.Price.String()
	}
	return info
}

// PlaceOrderRequest is the POST /orders request body. Quantities and prices
// are decimal strings, matching every other JSON boundary in this package.
type PlaceOrderRequest struct {
	Account    string `json:"account"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`  // "buy" or "sell"
	Type       string `json:"type"`  // "limit" or "market"
	Price      string `json:"price,omitempty"`
	Quantity   string `json:"quantity"`
}

// PlaceOrderResponse is the POST /orders response body.
type PlaceOrderResponse struct {
	OrderID      string  `json:"orderId"`
	Status       string  `json:"status"`
	Filled       string  `json:"filled"`
	Remaining    string  `json:"remaining"`
	Fills        []Fill  `json:"fills,omitempty"`
	RejectReason string  `json:"rejectReason,omitempty"`
}

// Fill mirrors one matching.Fill.
type Fill struct {
	TradeID      string `json:"tradeId"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	MakerOrderID string `json:"makerOrderId"`
	TakerOrderID string `json:"takerOrderId"`
}

func fillsOf(fills []matching.Fill) []Fill {
	out := make([]Fill, len(fills))
	for i, f := range fills {
		out[i] = Fill{
			TradeID: f.TradeID, Price: f.Price.String(), Quantity: f.Quantity.String(),
			MakerOrderID: f.MakerOrderID, TakerOrderID: f.TakerOrderID,
		}
	}
	return out
}

// CancelOrderRequest is the POST /orders/{id}/cancel request body.
type CancelOrderRequest struct {
	Account string `json:"account"`
}

// SignedOrderRequest is the POST /orders/signed request body: an
// EIP-712-signed order envelope, verified before it ever reaches the
// matching core. The recovered address becomes the account id, so the
// caller's "owner" field is never trusted on its own.
type SignedOrderRequest struct {
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Price      string `json:"price,omitempty"`
	Quantity   string `json:"quantity"`
	Nonce      string `json:"nonce"` // decimal string
	Owner      string `json:"owner"` // claimed signer address, hex
	Signature  string `json:"signature"` // 0x-prefixed 65-byte hex signature
}

// SignedCancelRequest is the POST /orders/{id}/cancel-signed request body.
type SignedCancelRequest struct {
	Nonce     string `json:"nonce"`
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

// DepositRequest is the POST /deposits request body.
type DepositRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

// WithdrawalRequest is the POST /withdrawals request body.
type WithdrawalRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

// LedgerResponse is the response to both deposit and withdrawal requests.
type LedgerResponse struct {
	Account   string `json:"account"`
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WSMessage is the envelope for every WebSocket push.
type WSMessage struct {
	Type string      `json:"type"` // "trade" (the journal bridge forwards trade events only)
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by a client to (un)subscribe to channels.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// TradeUpdate is broadcast on the "trades:<instrument>" channel.
type TradeUpdate struct {
	Instrument string `json:"instrument"`
	TradeID    string `json:"tradeId"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Timestamp  int64  `json:"timestamp"`
}
