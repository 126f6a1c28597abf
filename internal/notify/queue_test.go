package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushThenWaitDeliversDirectly(t *testing.T) {
	q := New(4, time.Minute)

	done := make(chan Notification, 1)
	go func() {
		n, ok := q.Wait("a1", time.Second)
		require.True(t, ok)
		done <- n
	}()

	time.Sleep(20 * time.Millisecond) // let Wait register as a waiter
	q.Push("a1", Notification{TaskID: "t1"})

	select {
	case n := <-done:
		require.Equal(t, "t1", n.TaskID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for direct delivery")
	}
}

func TestWaitTimesOutWithNoNotification(t *testing.T) {
	q := New(4, time.Minute)
	_, ok := q.Wait("a1", 20*time.Millisecond)
	require.False(t, ok)
}

func TestPushQueuesWhenNoWaiter(t *testing.T) {
	q := New(4, time.Minute)
	q.Push("a1", Notification{TaskID: "t1"})
	require.Equal(t, 1, q.Len("a1"))

	n, ok := q.Wait("a1", time.Second)
	require.True(t, ok)
	require.Equal(t, "t1", n.TaskID)
	require.Equal(t, 0, q.Len("a1"))
}

func TestPushDropsOldestWhenFull(t *testing.T) {
	q := New(2, time.Minute)
	q.Push("a1", Notification{TaskID: "t1"})
	q.Push("a1", Notification{TaskID: "t2"})
	q.Push("a1", Notification{TaskID: "t3"})
	require.Equal(t, 2, q.Len("a1"))

	n, ok := q.Wait("a1", time.Second)
	require.True(t, ok)
	require.Equal(t, "t2", n.TaskID, "oldest entry t1 should have been dropped")
}

func TestPruneExpiredDropsStaleEntries(t *testing.T) {
	q := New(8, time.Minute)
	base := time.Now()
	q.WithClock(func() time.Time { return base })
	q.Push("a1", Notification{TaskID: "stale"})

	q.WithClock(func() time.Time { return base.Add(2 * time.Minute) })
	q.Push("a1", Notification{TaskID: "fresh"})

	dropped := q.PruneExpired()
	require.Equal(t, 1, dropped)
	require.Equal(t, 1, q.Len("a1"))

	n, ok := q.Wait("a1", time.Second)
	require.True(t, ok)
	require.Equal(t, "fresh", n.TaskID)
}

func TestDrainReturnsAllUnexpiredAndClearsQueue(t *testing.T) {
	q := New(8, time.Minute)
	base := time.Now()
	q.WithClock(func() time.Time { return base })
	q.Push("a1", Notification{TaskID: "stale"})

	q.WithClock(func() time.Time { return base.Add(2 * time.Minute) })
	q.Push("a1", Notification{TaskID: "fresh1"})
	q.Push("a1", Notification{TaskID: "fresh2"})

	drained := q.Drain("a1")
	require.Len(t, drained, 2)
	require.Equal(t, "fresh1", drained[0].TaskID)
	require.Equal(t, "fresh2", drained[1].TaskID)
	require.Equal(t, 0, q.Len("a1"))
}

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	c1 := make(chan Event, 1)
	c2 := make(chan Event, 1)
	b.Subscribe(c1)
	b.Subscribe(c2)
	require.Equal(t, 2, b.Subscribers())

	b.Publish(Event{Kind: "task_completed", TaskID: "t1"})

	require.Equal(t, "t1", (<-c1).TaskID)
	require.Equal(t, "t1", (<-c2).TaskID)
}

func TestBroadcasterSkipsFullSubscriberWithoutBlocking(t *testing.T) {
	b := NewBroadcaster()
	full := make(chan Event) // unbuffered, nobody reading
	b.Subscribe(full)

	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: "x"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	c := make(chan Event, 1)
	b.Subscribe(c)
	b.Unsubscribe(c)
	require.Equal(t, 0, b.Subscribers())

	b.Publish(Event{Kind: "x"})
	select {
	case <-c:
		t.Fatal("unsubscribed channel should not receive events")
	default:
	}
}
