package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golift.io/logrotor/event"
)

func TestHookEmit(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var nilHook event.Hook
	nilHook.Emit(&event.Event{Kind: event.Rotated}) // must not panic.

	var got *event.Event

	hook := event.Hook(func(e *event.Event) { got = e })
	hook.Emit(&event.Event{Kind: event.Compressed, Path: "app.log.1.gz"})
	assert.Equal(event.Compressed, got.Kind)
	assert.False(got.Time.IsZero(), "emit must stamp the event time")
	assert.Equal("compressed", got.Kind.String())
	assert.Equal("unknown", event.Kind(99).String())
}

func TestBus(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	bus := event.NewBus()
	one, cancelOne := bus.Subscribe(1)
	two, cancelTwo := bus.Subscribe(4)

	defer cancelTwo()

	bus.Publish(&event.Event{Kind: event.Rotated})
	bus.Publish(&event.Event{Kind: event.Dropped}) // one is full now.

	assert.Equal(event.Rotated, (<-one).Kind)
	assert.Equal(event.Rotated, (<-two).Kind)
	assert.Equal(event.Dropped, (<-two).Kind)
	assert.EqualValues(1, bus.Dropped())

	cancelOne()
	cancelOne() // idempotent.

	_, open := <-one
	assert.False(open, "cancel must close the channel")

	bus.Publish(&event.Event{Kind: event.Reclaimed})
	assert.Equal(event.Reclaimed, (<-two).Kind)
}

func TestBusZeroValue(t *testing.T) {
	t.Parallel()

	var bus event.Bus

	bus.Publish(&event.Event{Kind: event.Rotated})

	events, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(&event.Event{Kind: event.Compressed})
	assert.Equal(t, event.Compressed, (<-events).Kind)
}
