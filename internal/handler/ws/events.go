package ws

// clientFrame is the inbound message shape; Action discriminates.
type clientFrame struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols,omitempty"`
}

type connectedEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type subscriptionEvent struct {
	Type      string   `json:"type"`
	Symbols   []string `json:"symbols"`
	Timestamp string   `json:"timestamp"`
}

type pongEvent struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type errorEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type syncStatistics struct {
	NewRecords   int64   `json:"new_records"`
	TotalRecords int64   `json:"total_records"`
	LastPrice    float64 `json:"last_price"`
	LastRecord   int64   `json:"last_record"`
}

type syncCompleteEvent struct {
	Type       string         `json:"type"`
	Symbol     string         `json:"symbol"`
	Timestamp  string         `json:"timestamp"`
	Statistics syncStatistics `json:"statistics"`
}

type statsData struct {
	TotalConnections int            `json:"total_connections"`
	Subscriptions    map[string]int `json:"subscriptions"`
}

type statsEvent struct {
	Type      string    `json:"type"`
	Data      statsData `json:"data"`
	Timestamp string    `json:"timestamp"`
}
