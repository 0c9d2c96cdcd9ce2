package ledger

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMultiSinkFansOut(t *testing.T) {
	first := &MemorySink{}
	second := &MemorySink{}
	sink := MultiSink{first, second, LogSink{Logger: slog.Default()}}

	ev := Event{
		Type:        EventStaked,
		Participant: userA,
		AssetID:     testAssetID,
		Amount:      5_000,
		UnlockTime:  time.Unix(87400, 0),
		At:          time.Unix(1000, 0),
	}
	sink.Emit(ev)

	assert.Equal(t, []Event{ev}, first.Events())
	assert.Equal(t, []Event{ev}, second.Events())
}

func TestMemorySinkPreservesOrder(t *testing.T) {
	sink := &MemorySink{}
	sink.Emit(Event{Type: EventClaimed, Participant: userA})
	sink.Emit(Event{Type: EventStaked, Participant: userA})
	sink.Emit(Event{Type: EventUnstaked, Participant: userA})

	events := sink.Events()
	assert.Equal(t, []EventType{EventClaimed, EventStaked, EventUnstaked},
		[]EventType{events[0].Type, events[1].Type, events[2].Type})
}
