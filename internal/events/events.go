// Package events publishes pool lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"liquidity-pool/internal/domain"
)

// Event types, also used as AMQP routing keys.
const (
	TypePoolInitialized  = "pool.initialized"
	TypeDepositCompleted = "deposit.completed"
)

// Event is the envelope of every published message.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	PoolID     domain.Identity `json:"pool_id"`
	OccurredAt int64           `json:"occurred_at"` // unix milliseconds
	Payload    json.RawMessage `json:"payload"`
}

// Publisher delivers events. Publishing is best effort for callers:
// a failed publish never undoes a committed deposit.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

func newEvent(typ string, poolID domain.Identity, at time.Time, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		PoolID:     poolID,
		OccurredAt: at.UnixMilli(),
		Payload:    body,
	}, nil
}

// DepositCompleted builds the event of a committed deposit.
func DepositCompleted(rec *domain.DepositRecord) (Event, error) {
	return newEvent(TypeDepositCompleted, rec.PoolID, time.UnixMilli(rec.Timestamp), rec)
}

// PoolInitialized builds the event of a created pool.
func PoolInitialized(pool *domain.PoolState) (Event, error) {
	return newEvent(TypePoolInitialized, pool.ID, time.Unix(pool.CreatedAt, 0), pool)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records ev.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Close is a no-op.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*Recorder)(nil)
)
