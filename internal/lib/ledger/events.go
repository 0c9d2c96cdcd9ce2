package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

type EventType string

const (
	EventClaimed   EventType = "claimed"
	EventStaked    EventType = "staked"
	EventUnstaked  EventType = "unstaked"
	EventWithdrawn EventType = "withdrawn"
)

// Event is the audit record emitted once per successful state transition.
// Participant is the zero address for owner withdrawals.
type Event struct {
	Type        EventType     `json:"type"`
	Participant types.Address `json:"participant,omitempty"`
	AssetID     uint64        `json:"assetId"`
	Amount      uint64        `json:"amount"`
	WantsStake  bool          `json:"wantsStake,omitempty"`
	UnlockTime  time.Time     `json:"unlockTime,omitempty"`
	At          time.Time     `json:"at"`
}

type EventSink interface {
	Emit(ev Event)
}

// LogSink writes events to the given structured logger - the default sink.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ev Event) {
	attrs := []any{
		"participant", ev.Participant.String(),
		"asset", ev.AssetID,
		"amount", ev.Amount,
	}
	switch ev.Type {
	case EventClaimed:
		attrs = append(attrs, "wantsStake", ev.WantsStake)
	case EventStaked:
		attrs = append(attrs, "unlockTime", ev.UnlockTime)
	}
	s.Logger.Info(string(ev.Type), attrs...)
}

// MemorySink retains every emitted event - used by tests and the daemon's
// recent-events query.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// MultiSink fans a single emit out to several sinks in order.
type MultiSink []EventSink

func (s MultiSink) Emit(ev Event) {
	for _, sink := range s {
		sink.Emit(ev)
	}
}
