package syncfeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lepm/internal/model"
)

func change(cursor int64) model.Change {
	return model.Change{Cursor: cursor, Entity: "pole", Op: model.OpCreate}
}

func TestHub_PublishReachesSubscribers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := h.Subscribe(ctx)
	b := h.Subscribe(ctx)

	h.Publish([]model.Change{change(1), change(2)})

	for _, ch := range []<-chan model.Change{a, b} {
		got := []model.Change{<-ch, <-ch}
		require.Len(t, got, 2)
		assert.Equal(t, int64(1), got[0].Cursor)
		assert.Equal(t, int64(2), got[1].Cursor)
	}
}

func TestHub_SlowSubscriberDropsOldest(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.Subscribe(ctx)

	var batch []model.Change
	for i := 1; i <= subscriberBuffer+1; i++ {
		batch = append(batch, change(int64(i)))
	}
	h.Publish(batch)

	// The first change was dropped to make room for the last.
	first := <-ch
	assert.Equal(t, int64(2), first.Cursor)

	drained := 1
	for {
		select {
		case <-ch:
			drained++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, drained)
}

func TestHub_UnsubscribeOnContextCancel(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel closes on cancel")
	case <-time.After(time.Second):
		t.Fatal("subscriber channel was not closed")
	}

	// Publishing after unsubscribe must not panic or block.
	h.Publish([]model.Change{change(1)})
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	h := NewHub()
	h.Close()

	ch := h.Subscribe(context.Background())
	_, ok := <-ch
	assert.False(t, ok)
}
