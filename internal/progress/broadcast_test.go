package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

func TestBroadcasterLatestWins(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	sub := b.Subscribe()
	for i := 1; i <= 5; i++ {
		b.Publish(crawler.ProgressSnapshot{Total: 5, Succeeded: i})
	}

	snap := <-sub.C()
	require.Equal(t, 5, snap.Succeeded)
	select {
	case extra := <-sub.C():
		t.Fatalf("unexpected buffered snapshot %+v", extra)
	default:
	}

	latest, ok := b.Latest()
	require.True(t, ok)
	require.Equal(t, 5, latest.Succeeded)
}

func TestBroadcasterPrimesNewSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	_, ok := b.Latest()
	require.False(t, ok)

	b.Publish(crawler.ProgressSnapshot{RunID: "r1", Pending: 3})
	sub := b.Subscribe()
	snap := <-sub.C()
	require.Equal(t, "r1", snap.RunID)
}

func TestBroadcasterPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	for i := 0; i < 10; i++ {
		b.Subscribe()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.Publish(crawler.ProgressSnapshot{Succeeded: i})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on unread subscribers")
	}
}

func TestBroadcasterCloseDeliversFinalSnapshot(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	sub := b.Subscribe()
	b.Publish(crawler.ProgressSnapshot{Complete: true, Total: 2, Succeeded: 2})
	b.Close()
	b.Close()
	b.Publish(crawler.ProgressSnapshot{Total: 99})

	var got []crawler.ProgressSnapshot
	for snap := range sub.C() {
		got = append(got, snap)
	}
	require.Len(t, got, 1)
	require.True(t, got[0].Complete)

	late := b.Subscribe()
	snap, ok := <-late.C()
	require.True(t, ok)
	require.Equal(t, 2, snap.Succeeded)
	_, ok = <-late.C()
	require.False(t, ok)
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	sub := b.Subscribe()
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Publish(crawler.ProgressSnapshot{Total: 1})
	_, ok := <-sub.C()
	require.False(t, ok)
	b.Close()
}

func TestBroadcasterConcurrentReaders(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		sub := b.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last crawler.ProgressSnapshot
			for snap := range sub.C() {
				last = snap
			}
			assert.True(t, last.Complete)
		}()
	}
	for i := 0; i < 100; i++ {
		b.Publish(crawler.ProgressSnapshot{Succeeded: i})
	}
	b.Publish(crawler.ProgressSnapshot{Complete: true})
	b.Close()
	wg.Wait()
}
