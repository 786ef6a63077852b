package events

import "context"

// Channels
const (
	ChannelLedger = "events:ledger"
)

// Event types
const (
	EventLedgerTransition = "ledger_transition"
	EventDisputeOpened    = "dispute_opened"
	EventDisputeResolved  = "dispute_resolved"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
