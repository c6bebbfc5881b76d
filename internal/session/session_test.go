package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/netsync/internal/transport"
)

var thresholds = [transport.ChannelCount]int{1200, 1200}

func TestConnection_Observing(t *testing.T) {
	c := New(1, time.Now(), thresholds)
	assert.True(t, c.AddObserving(5))
	assert.False(t, c.AddObserving(5))
	assert.True(t, c.AddObserving(2))
	assert.Equal(t, []uint32{2, 5}, c.Observing())
	assert.True(t, c.IsObserving(5))

	assert.True(t, c.RemoveObserving(5))
	assert.False(t, c.RemoveObserving(5))

	assert.Equal(t, []uint32{2}, c.ClearObserving())
	assert.Equal(t, 0, c.ObservingCount())
}

func TestConnection_DiscardBatches(t *testing.T) {
	c := New(1, time.Now(), thresholds)
	require.True(t, c.Batcher(transport.Reliable).AddMessage([]byte{1}))
	require.True(t, c.Batcher(transport.Unreliable).AddMessage([]byte{2}))
	assert.Equal(t, 2, c.PendingMessages())
	c.DiscardBatches()
	assert.Equal(t, 0, c.PendingMessages())
}

func TestSet_HooksAndOrder(t *testing.T) {
	s := NewSet()
	var events []string
	s.OnConnected.Add(func(c *Connection) { events = append(events, "connected") })
	s.OnDisconnected.Add(func(c *Connection) {
		_, stillThere := s.Get(c.ID)
		assert.True(t, stillThere)
		events = append(events, "disconnected")
	})

	now := time.Now()
	s.Add(New(3, now, thresholds))
	s.Add(New(1, now, thresholds))
	ready := New(2, now, thresholds)
	ready.IsReady = true
	s.Add(ready)

	ids := []transport.ConnID{}
	for _, c := range s.All() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []transport.ConnID{1, 2, 3}, ids)
	require.Len(t, s.Ready(), 1)
	assert.Equal(t, transport.ConnID(2), s.Ready()[0].ID)

	_, ok := s.Remove(3)
	assert.True(t, ok)
	_, ok = s.Remove(3)
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"connected", "connected", "connected", "disconnected"}, events)
}
