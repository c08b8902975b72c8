package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"canvaschat/application/ports"
	"canvaschat/domain/events"
)

var _ ports.EventBus = (*EventBus)(nil)

var ts = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func drain(ch <-chan events.DomainEvent) []string {
	var out []string
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e.GetEventType())
		default:
			return out
		}
	}
}

func TestEventBus_RoutesByGraph(t *testing.T) {
	bus := NewEventBus(8, zap.NewNop())
	ctx := context.Background()

	g1, stop1 := bus.Subscribe("g1")
	defer stop1()
	g2, stop2 := bus.Subscribe("g2")
	defer stop2()
	all, stopAll := bus.Subscribe(AllGraphs)
	defer stopAll()

	require.NoError(t, bus.PublishBatch(ctx, []events.DomainEvent{
		events.NewNodeAdded("g1", "n1", "note", ts),
		events.NewEdgeAdded("g1", "e1", "n0", "n1", "reply", ts),
		events.NewNodeRemoved("g2", "n9", nil, ts),
	}))

	assert.Equal(t, []string{events.TypeNodeAdded, events.TypeEdgeAdded}, drain(g1))
	assert.Equal(t, []string{events.TypeNodeRemoved}, drain(g2))
	assert.Len(t, drain(all), 3)
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus(1, zap.NewNop())
	ch, stop := bus.Subscribe("g1")
	assert.Equal(t, 1, bus.Subscribers("g1"))

	stop()
	stop()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Subscribers("g1"))

	require.NoError(t, bus.Publish(context.Background(), events.NewNodeAdded("g1", "n", "note", ts)))
}

func TestEventBus_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	bus := NewEventBus(1, zap.New(core))
	ch, stop := bus.Subscribe("g1")
	defer stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), events.NewNodeAdded("g1", "n", "note", ts)))
	}
	assert.Len(t, drain(ch), 1)
	assert.Equal(t, int64(2), bus.Dropped())
	drops := logs.FilterMessage("subscriber too slow, event dropped")
	assert.Equal(t, 2, drops.Len())
	assert.Equal(t, 2, drops.FilterLevelExact(zap.DebugLevel).Len())
	assert.Zero(t, logs.FilterLevelExact(zap.WarnLevel).Len())
}

func TestEventBus_NilLogger(t *testing.T) {
	bus := NewEventBus(1, nil)
	defer bus.Close()
	ch, stop := bus.Subscribe("g1")
	defer stop()

	for i := 0; i < 2; i++ {
		require.NoError(t, bus.Publish(context.Background(), events.NewNodeAdded("g1", "n", "note", ts)))
	}
	assert.Len(t, drain(ch), 1)
	assert.Equal(t, int64(1), bus.Dropped())
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(4, zap.NewNop())
	ch, stop := bus.Subscribe("g1")
	bus.Close()
	_, ok := <-ch
	assert.False(t, ok)
	stop()

	late, _ := bus.Subscribe("g1")
	_, ok = <-late
	assert.False(t, ok, "subscriptions after close are already ended")
	assert.NoError(t, bus.Publish(context.Background(), events.NewNodeAdded("g1", "n", "note", ts)))
}
