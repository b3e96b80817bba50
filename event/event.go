// Package event carries rotation, compression and sweep notifications out of
// the engine. Pass a Hook to the engine, or fan events out to several readers
// with a Bus. Tests subscribe to a Bus instead of polling the file system.
package event

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies what happened.
type Kind uint8

// These are the events the engine emits.
const (
	Rotated        Kind = iota + 1 // An active file became generation 1.
	Dropped                        // A generation past the limit was deleted during rotation.
	RotateFailed                   // Rename or reopen failed during rotation.
	Compressed                     // A rotated file was gzipped.
	CompressFailed                 // Compression failed; the plain file stays.
	Reclaimed                      // A sweep moved or deleted an archived file.
	SweepFailed                    // An archive directory could not be swept.
)

// String makes Kind readable in logs.
func (k Kind) String() string {
	switch k {
	case Rotated:
		return "rotated"
	case Dropped:
		return "dropped"
	case RotateFailed:
		return "rotate-failed"
	case Compressed:
		return "compressed"
	case CompressFailed:
		return "compress-failed"
	case Reclaimed:
		return "reclaimed"
	case SweepFailed:
		return "sweep-failed"
	default:
		return "unknown"
	}
}

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind       Kind
	Stream     string        // Stream name, empty for untracked archive directories.
	Path       string        // File the event is about (archived, compressed or reclaimed path).
	Dest       string        // Reclaimed: destination path, empty when deleted.
	Generation int           // Rotated, Compressed: generation at the time of the event.
	Size       int64         // Rotated: bytes in the rotated file. Compressed: gz size.
	Elapsed    time.Duration // Compressed: time spent compressing.
	Time       time.Time
	Err        error
}

// Hook receives events. It is called synchronously from the goroutine that
// produced the event, so it must return quickly.
type Hook func(e *Event)

// Emit calls the hook if it is not nil and stamps the event time.
func (h Hook) Emit(e *Event) {
	if h == nil {
		return
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	h(e)
}

// Bus fans events out to any number of channel subscribers.
// Publishing never blocks: a subscriber with a full buffer misses the event.
// The zero value is ready to use.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan *Event
	next    uint64
	dropped atomic.Uint64
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan *Event)}
}

// Publish satisfies Hook. Use bus.Publish as an engine's event hook.
func (b *Bus) Publish(e *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a buffered channel of events and a function that
// unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan *Event, func()) {
	ch := make(chan *Event, buffer)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[uint64]chan *Event)
	}

	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
