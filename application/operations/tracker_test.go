package operations

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pkgerrors "canvaschat/pkg/errors"
)

func TestTracker_StopAllOnlyTouchesOneEntity(t *testing.T) {
	tr := NewTracker(zaptest.NewLogger(t))
	a := tr.Start(context.Background(), "m1", "0-0")
	b := tr.Start(context.Background(), "m1", "0-1")
	c := tr.Start(context.Background(), "m1", "1-0")
	other := tr.Start(context.Background(), "m2", "0-0")

	assert.Equal(t, 3, tr.StopAll("m1"))

	for _, h := range []*Handle{a, b, c} {
		assert.True(t, h.Cancelled())
		assert.True(t, pkgerrors.IsCancelled(h.Check()))
		assert.Error(t, h.Context().Err())
	}
	assert.False(t, other.Cancelled())
	assert.NoError(t, other.Check())
	assert.NoError(t, other.Context().Err())

	assert.Equal(t, 0, tr.StopAll("m1"), "already cancelled handles are not counted twice")
}

func TestTracker_StopUnknownKey(t *testing.T) {
	tr := NewTracker(nil)
	h := tr.Start(context.Background(), "m1", "0-0")

	assert.False(t, tr.Stop("m1", "9-9"))
	assert.False(t, tr.Stop("nope", ""))
	assert.False(t, h.Cancelled())
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, []string{"0-0"}, tr.Active("m1"))
}

func TestTracker_StopLeavesSiblingsRunning(t *testing.T) {
	tr := NewTracker(nil)
	a := tr.Start(context.Background(), "m1", "0-0")
	b := tr.Start(context.Background(), "m1", "0-1")

	assert.True(t, tr.Stop("m1", "0-0"))
	assert.True(t, a.Cancelled())
	assert.False(t, b.Cancelled())
	// Registration stays until the worker finishes.
	assert.Equal(t, []string{"0-0", "0-1"}, tr.Active("m1"))
}

func TestTracker_CompleteRemovesEmptyContainer(t *testing.T) {
	tr := NewTracker(nil)
	tr.Start(context.Background(), "m1", "0-0")
	tr.Start(context.Background(), "m1", "0-1")

	assert.True(t, tr.Complete("m1", "0-0"))
	assert.True(t, tr.HasEntity("m1"))
	assert.True(t, tr.Complete("m1", "0-1"))
	assert.False(t, tr.HasEntity("m1"))
	assert.False(t, tr.Complete("m1", "0-1"))
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_RestartIsANewIdentity(t *testing.T) {
	tr := NewTracker(nil)
	first := tr.Start(context.Background(), "n1", "")
	require.True(t, tr.Release(first))

	second := tr.Start(context.Background(), "n1", "")
	assert.NotSame(t, first, second)
	assert.Greater(t, second.Seq(), first.Seq())

	// A late release from the first run must not remove the second.
	assert.False(t, tr.Release(first))
	assert.True(t, tr.IsCurrent(second))
	assert.False(t, second.Cancelled())
}

func TestTracker_StartSupersedesLiveHandle(t *testing.T) {
	tr := NewTracker(nil)
	var mu sync.Mutex
	var states []State
	tr.OnChange(func(_ Key, s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	first := tr.Start(context.Background(), "n1", "")
	second := tr.Start(context.Background(), "n1", "")

	assert.True(t, first.Cancelled())
	assert.False(t, second.Cancelled())
	assert.False(t, tr.IsCurrent(first))
	assert.Equal(t, []State{StateStarted, StateStopped, StateStarted}, states)
}

func TestTracker_ParentCancellationIsObserved(t *testing.T) {
	tr := NewTracker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	h := tr.Start(ctx, "n1", "")
	cancel()

	err := h.Check()
	assert.True(t, pkgerrors.IsCancelled(err))
	assert.False(t, h.Cancelled(), "only Stop marks the handle itself")
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := fmt.Sprintf("%d-%d", i/10, i%10)
			h := tr.Start(context.Background(), "m", sub)
			if i%3 == 0 {
				tr.Stop("m", sub)
			}
			tr.Release(h)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, tr.Len())
	assert.False(t, tr.HasEntity("m"))
}

func TestTracker_ShutdownAndKeys(t *testing.T) {
	tr := NewTracker(nil)
	tr.Start(context.Background(), "a", "")
	tr.Start(context.Background(), "b", "0-0")
	tr.Start(context.Background(), "b", "0-1")

	assert.Equal(t, []Key{{"a", ""}, {"b", "0-0"}, {"b", "0-1"}}, tr.Keys())
	assert.Equal(t, 3, tr.Shutdown())
	assert.Equal(t, "b/0-1", Key{"b", "0-1"}.String())
}

// shiftRows drops row 0 and moves every later row up by one.
func shiftRows(sub string) (string, bool) {
	var row, col int
	if _, err := fmt.Sscanf(sub, "%d-%d", &row, &col); err != nil {
		return sub, true
	}
	if row == 0 {
		return "", false
	}
	return fmt.Sprintf("%d-%d", row-1, col), true
}

func TestTracker_RekeyMovesLiveHandles(t *testing.T) {
	tr := NewTracker(zaptest.NewLogger(t))
	removed := tr.Start(context.Background(), "m1", "0-0")
	moved := tr.Start(context.Background(), "m1", "1-0")
	last := tr.Start(context.Background(), "m1", "2-0")
	other := tr.Start(context.Background(), "m2", "1-0")

	assert.Equal(t, 1, tr.Rekey("m1", shiftRows))

	assert.True(t, removed.Cancelled())
	assert.False(t, tr.IsCurrent(removed))
	assert.Equal(t, []string{"0-0", "1-0"}, tr.Active("m1"))
	assert.Equal(t, Key{EntityID: "m1", SubKey: "0-0"}, moved.Key())
	assert.Equal(t, "1-0", last.Key().SubKey)
	assert.True(t, tr.IsCurrent(moved))
	assert.Equal(t, "1-0", other.Key().SubKey, "other entities are untouched")

	// Stop now reaches the moved run under its new key only.
	assert.False(t, tr.Stop("m1", "2-0"))
	assert.True(t, tr.Stop("m1", "0-0"))
	assert.True(t, moved.Cancelled())
	assert.False(t, last.Cancelled())

	assert.True(t, tr.Release(moved))
	assert.False(t, tr.Release(removed))
	assert.Equal(t, []string{"1-0"}, tr.Active("m1"))
}

func TestTracker_RekeyCollisionKeepsNewest(t *testing.T) {
	tr := NewTracker(nil)
	older := tr.Start(context.Background(), "m1", "0-0")
	newer := tr.Start(context.Background(), "m1", "0-1")

	assert.Equal(t, 1, tr.Rekey("m1", func(string) (string, bool) { return "0-0", true }))
	assert.True(t, older.Cancelled())
	assert.False(t, newer.Cancelled())
	assert.Equal(t, []string{"0-0"}, tr.Active("m1"))

	assert.Equal(t, 1, tr.Rekey("m1", func(string) (string, bool) { return "", false }))
	assert.False(t, tr.HasEntity("m1"))
	assert.Equal(t, 0, tr.Rekey("m1", shiftRows))
}
