package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_RegisterSendsSnapshot(t *testing.T) {
	hub := NewHub()
	sub := &recordingSub{}

	snapshot := Event{Type: EventSnapshot, JobID: "j1", Status: StatusPending}
	hub.Register(sub, snapshot)

	assert.Equal(t, 1, hub.Len())
	events := sub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventSnapshot, events[0].Type)
}

func TestHub_RegisterDropsFailingSubscriberImmediately(t *testing.T) {
	hub := NewHub()
	sub := &recordingSub{failed: true}

	hub.Register(sub, Event{Type: EventSnapshot, JobID: "j1"})

	assert.Equal(t, 0, hub.Len())
	assert.True(t, sub.closed)
}

func TestHub_BroadcastIsolatesFailures(t *testing.T) {
	hub := NewHub()
	healthy := &recordingSub{}
	dead := &recordingSub{}

	hub.Register(healthy, Event{Type: EventSnapshot, JobID: "j1"})
	hub.Register(dead, Event{Type: EventSnapshot, JobID: "j1"})
	require.Equal(t, 2, hub.Len())

	dead.failed = true
	hub.Broadcast(Event{Type: EventProgress, JobID: "j1", Progress: 50, Timestamp: time.Now()})

	// The dead connection is removed and closed, the healthy one keeps receiving
	assert.Equal(t, 1, hub.Len())
	assert.True(t, dead.closed)

	hub.Broadcast(Event{Type: EventComplete, JobID: "j1", Progress: 100})
	events := healthy.Events()
	require.Len(t, events, 3)
	assert.Equal(t, EventComplete, events[2].Type)
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub()
	sub := &recordingSub{}

	hub.Register(sub, Event{Type: EventSnapshot})
	hub.Unregister(sub)

	assert.Equal(t, 0, hub.Len())
	assert.False(t, sub.closed)

	hub.Broadcast(Event{Type: EventProgress})
	assert.Len(t, sub.Events(), 1)
}

func TestHub_CloseAll(t *testing.T) {
	hub := NewHub()
	a := &recordingSub{}
	b := &recordingSub{}

	hub.Register(a, Event{Type: EventSnapshot})
	hub.Register(b, Event{Type: EventSnapshot})

	hub.CloseAll()

	assert.Equal(t, 0, hub.Len())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
