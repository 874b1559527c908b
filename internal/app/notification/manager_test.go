package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveOne(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func TestManager_BroadcastReachesAllSubscribers(t *testing.T) {
	m := NewManager()
	defer m.Close()

	_, ch1 := m.Subscribe(0)
	_, ch2 := m.Subscribe(0)
	require.Equal(t, 2, m.SubscriberCount())

	m.Broadcast(Notification{Type: TypeStateChanged, State: "playing"})

	n1 := receiveOne(t, ch1)
	n2 := receiveOne(t, ch2)
	assert.Equal(t, TypeStateChanged, n1.Type)
	assert.Equal(t, n1.SequenceNo, n2.SequenceNo)
	assert.False(t, n1.OccurredAt.IsZero())
}

func TestManager_SequenceNumbersIncrease(t *testing.T) {
	m := NewManager()
	defer m.Close()

	_, ch := m.Subscribe(4)

	m.Broadcast(Notification{Type: TypeStatusUpdate})
	m.Broadcast(Notification{Type: TypeStatusUpdate})
	m.Broadcast(Notification{Type: TypeTrackChanged})

	first := receiveOne(t, ch)
	second := receiveOne(t, ch)
	third := receiveOne(t, ch)
	assert.Equal(t, first.SequenceNo+1, second.SequenceNo)
	assert.Equal(t, second.SequenceNo+1, third.SequenceNo)
}

func TestManager_SlowSubscriberLosesNotificationsOnly(t *testing.T) {
	m := NewManager()
	defer m.Close()

	_, slow := m.Subscribe(1)
	_, fast := m.Subscribe(8)

	for i := 0; i < 4; i++ {
		m.Broadcast(Notification{Type: TypeStatusUpdate})
	}

	// The slow subscriber kept only the first; the fast one got all.
	assert.Len(t, slow, 1)
	assert.Len(t, fast, 4)

	n := receiveOne(t, slow)
	assert.Equal(t, uint64(1), n.SequenceNo)
}

func TestManager_UnsubscribeClosesChannel(t *testing.T) {
	m := NewManager()
	defer m.Close()

	id, ch := m.Subscribe(0)
	m.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, m.SubscriberCount())

	// Unknown IDs are ignored.
	m.Unsubscribe("not-a-subscription")
}

func TestManager_CloseShutsDownSubscriptions(t *testing.T) {
	m := NewManager()

	_, ch := m.Subscribe(0)
	m.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, m.SubscriberCount())

	// Subscribing after close hands back a closed channel.
	_, late := m.Subscribe(0)
	_, open = <-late
	assert.False(t, open)
}
