package models

// Client actions accepted on the subscriber socket.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Server message types.
const (
	MessageConnected      = "connected"
	MessageMarketStatus   = "market-status"
	MessageTick           = "tick"
	MessageError          = "error"
	MessageServerShutdown = "server_shutdown"
)

// ClientMessage is a subscribe or unsubscribe request. Type is accepted as an alias of Action.
type ClientMessage struct {
	Action string `json:"action,omitempty"`
	Type   string `json:"type,omitempty"`
	Symbol string `json:"symbol"`
}

// Verb returns the requested action.
func (m ClientMessage) Verb() string {
	if m.Action != "" {
		return m.Action
	}
	return m.Type
}

// TickMessage wraps a tick for fan-out.
type TickMessage struct {
	Type string `json:"type"`
	Data Tick   `json:"data"`
}

// StatusMessage announces the market status after a subscribe.
type StatusMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	MarketStatus
}

// NoticeMessage carries connected, error and server_shutdown notices.
type NoticeMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}
