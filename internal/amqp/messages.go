package amqp

import (
	"encoding/json"
	"time"
)

// TransactionEvent tells the balance worker that a transaction changed.
// It carries only identifiers; the worker reads current state from the
// database, so stale or replayed events are harmless.
type TransactionEvent struct {
	Event         string    `json:"event"`
	TransactionID int64     `json:"transaction_id"`
	AccountIDs    []int64   `json:"account_ids"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewTransactionEvent builds an event for the given operation and the
// accounts whose balances it touched.
func NewTransactionEvent(op string, txID int64, accountIDs []int64) *TransactionEvent {
	return &TransactionEvent{
		Event:         op,
		TransactionID: txID,
		AccountIDs:    accountIDs,
		OccurredAt:    time.Now(),
	}
}

// ToJSON converts the event to JSON bytes.
func (m *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionEventFromJSON parses an event from JSON bytes.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var msg TransactionEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
