// Package gateway implements the Session Gateway: the authenticated,
// duplex client connection that accepts subscriptions and trading
// commands and streams price, fill, and risk events back out. The
// connection-handling shape (hub/client, write/read pumps, ping/pong
// deadlines) mirrors a typical dashboard websocket hub; the protocol
// itself — the closed inbound/outbound message vocabulary — is new.
package gateway

import "encoding/json"

// InboundType is the closed vocabulary of client-to-server message types.
type InboundType string

const (
	InAuth                  InboundType = "AUTH"
	InSubscribe             InboundType = "SUBSCRIBE"
	InUnsubscribe           InboundType = "UNSUBSCRIBE"
	InSubscribeOrderBook    InboundType = "SUBSCRIBE_ORDER_BOOK"
	InUnsubscribeOrderBook  InboundType = "UNSUBSCRIBE_ORDER_BOOK"
	InPlaceOrder            InboundType = "PLACE_ORDER"
	InCancelOrder           InboundType = "CANCEL_ORDER"
	InGetPendingOrders      InboundType = "GET_PENDING_ORDERS"
	InClosePosition         InboundType = "CLOSE_POSITION"
	InModifyPosition        InboundType = "MODIFY_POSITION"
	InGetPositions          InboundType = "GET_POSITIONS"
	InPing                  InboundType = "PING"
	InPong                  InboundType = "PONG"
)

// OutboundType is the closed vocabulary of server-to-client message types.
type OutboundType string

const (
	OutConnected            OutboundType = "CONNECTED"
	OutAuthenticated        OutboundType = "AUTHENTICATED"
	OutAuthFailed           OutboundType = "AUTH_FAILED"
	OutPriceUpdate          OutboundType = "PRICE_UPDATE"
	OutOrderBookSnapshot    OutboundType = "ORDER_BOOK_SNAPSHOT"
	OutOrderBookUpdate      OutboundType = "ORDER_BOOK_UPDATE"
	OutOrderFilled          OutboundType = "ORDER_FILLED"
	OutPositionClosed       OutboundType = "POSITION_CLOSED"
	OutAccountBreached      OutboundType = "ACCOUNT_BREACHED"
	OutRiskWarning          OutboundType = "RISK_WARNING"
	OutEvaluationStepPassed OutboundType = "EVALUATION_STEP_PASSED"
	OutEvaluationPassed     OutboundType = "EVALUATION_PASSED"
	OutPong                 OutboundType = "PONG"
	OutError                OutboundType = "ERROR"
)

// Envelope is the wire shape of every message in both directions: a
// type tag plus an arbitrary payload, decoded/encoded in two stages so
// the dispatcher can switch on Type before committing to a payload shape.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func outbound(t OutboundType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: string(t), Payload: raw})
}

// ErrorPayload is the body of an OutError envelope.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// AuthPayload is the body of an InAuth envelope.
type AuthPayload struct {
	Token string `json:"token"`
}

// SubscribePayload is the body of InSubscribe/InUnsubscribe/
// InSubscribeOrderBook/InUnsubscribeOrderBook envelopes.
type SubscribePayload struct {
	Symbols []string `json:"symbols"`
}

// PlaceOrderPayload is the body of an InPlaceOrder envelope.
type PlaceOrderPayload struct {
	AccountID     string  `json:"accountId"`
	Symbol        string  `json:"symbol"`
	Direction     string  `json:"direction"`
	Type          string  `json:"type"`
	Size          string  `json:"size"`
	Leverage      int64   `json:"leverage"`
	LimitPrice    *string `json:"limitPrice,omitempty"`
	TakeProfit    *string `json:"takeProfit,omitempty"`
	StopLoss      *string `json:"stopLoss,omitempty"`
	ClientOrderID string  `json:"clientOrderId,omitempty"`
}

// CancelOrderPayload is the body of an InCancelOrder envelope.
type CancelOrderPayload struct {
	OrderID string `json:"orderId"`
}

// GetPendingOrdersPayload is the body of an InGetPendingOrders envelope.
type GetPendingOrdersPayload struct {
	AccountID string `json:"accountId"`
}

// ClosePositionPayload is the body of an InClosePosition envelope.
type ClosePositionPayload struct {
	PositionID string  `json:"positionId"`
	Quantity   *string `json:"quantity,omitempty"`
}

// ModifyPositionPayload is the body of an InModifyPosition envelope.
type ModifyPositionPayload struct {
	PositionID string  `json:"positionId"`
	TakeProfit *string `json:"takeProfit,omitempty"`
	StopLoss   *string `json:"stopLoss,omitempty"`
}

// GetPositionsPayload is the body of an InGetPositions envelope.
type GetPositionsPayload struct {
	AccountID string `json:"accountId"`
}
