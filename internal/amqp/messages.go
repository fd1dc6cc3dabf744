package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType names what happened in the ledger
type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
	EventTransactionDeleted EventType = "transaction.deleted"
	EventSchedulePosted     EventType = "schedule.posted"
	EventScheduleSkipped    EventType = "schedule.skipped"
)

// LedgerEvent is published after a unit of work commits. It carries ids only;
// consumers read current state from the store.
type LedgerEvent struct {
	Type          EventType `json:"type"`
	TransactionID string    `json:"transactionId,omitempty"`
	ScheduleID    string    `json:"scheduleId,omitempty"`
	AccountIDs    []string  `json:"accountIds,omitempty"`
	Version       int64     `json:"version,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewLedgerEvent stamps a new event with the current time
func NewLedgerEvent(typ EventType, transactionID string, version int64, accountIDs ...string) *LedgerEvent {
	return &LedgerEvent{
		Type:          typ,
		TransactionID: transactionID,
		AccountIDs:    accountIDs,
		Version:       version,
		Timestamp:     time.Now(),
	}
}

// Validate rejects events a consumer could not act on
func (e *LedgerEvent) Validate() error {
	switch e.Type {
	case EventTransactionCreated, EventTransactionUpdated, EventTransactionDeleted:
		if e.TransactionID == "" {
			return errors.New("transaction event without transaction id")
		}
	case EventSchedulePosted, EventScheduleSkipped:
		if e.ScheduleID == "" {
			return errors.New("schedule event without schedule id")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes and validates an event
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
