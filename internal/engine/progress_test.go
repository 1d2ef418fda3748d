package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressBusLastValueReplay(t *testing.T) {
	b := newProgressBus()
	b.publish(DownloadProgress{DownloadID: "a", DownloadedBytes: 10})

	ch, cancel := b.subscribeAll()
	defer cancel()

	select {
	case p := <-ch:
		assert.Equal(t, int64(10), p.DownloadedBytes)
	case <-time.After(time.Second):
		t.Fatal("expected replayed last value")
	}
}

func TestProgressBusDropsOldestOnOverflow(t *testing.T) {
	b := newProgressBus()
	ch, cancel := b.subscribeAll()
	defer cancel()

	for i := 0; i < progressBusCapacity+10; i++ {
		b.publish(DownloadProgress{DownloadID: "a", DownloadedBytes: int64(i)})
	}

	var last DownloadProgress
	for {
		select {
		case p := <-ch:
			last = p
		default:
			assert.Equal(t, int64(progressBusCapacity+9), last.DownloadedBytes)
			return
		}
	}
}

func TestProgressBusSubscribeFiltersByID(t *testing.T) {
	b := newProgressBus()
	ch, cancel := b.subscribe("target", func() (DownloadProgress, bool) { return DownloadProgress{}, false })
	defer cancel()

	b.publish(DownloadProgress{DownloadID: "other", DownloadedBytes: 1})
	b.publish(DownloadProgress{DownloadID: "target", DownloadedBytes: 2})

	select {
	case p := <-ch:
		require.Equal(t, DownloadID("target"), p.DownloadID)
		assert.Equal(t, int64(2), p.DownloadedBytes)
	case <-time.After(time.Second):
		t.Fatal("expected filtered progress for target")
	}
}

func TestProgressBusSubscribeSeedsCurrentSnapshot(t *testing.T) {
	b := newProgressBus()
	ch, cancel := b.subscribe("target", func() (DownloadProgress, bool) {
		return DownloadProgress{DownloadID: "target", DownloadedBytes: 99}, true
	})
	defer cancel()

	select {
	case p := <-ch:
		assert.Equal(t, int64(99), p.DownloadedBytes)
	case <-time.After(time.Second):
		t.Fatal("expected seeded snapshot")
	}
}
