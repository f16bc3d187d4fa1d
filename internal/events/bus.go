package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"
)

// Backpressure configuration, carried over from the teacher's bus.go:
// a slow subscriber gets a few short retries before its event is dropped
// rather than blocking the publisher.
const (
	maxBackpressureRetries = 3
	backpressureRetryDelay = 10 * time.Millisecond
	subscriberBufferSize   = 100
)

// Bus is the typed pub/sub described in SPEC_FULL.md §4.9. It publishes
// onto an embedded NATS subject per target, which gives "events for a
// given agent/task are delivered in the order produced by the owning
// component" for free: NATS preserves publish order per subject, and a
// Target funnels all of one entity's events onto one subject.
type Bus struct {
	transport     *Transport
	droppedEvents uint64
}

// NewBus creates a bus backed by a freshly started embedded transport.
func NewBus(cfg TransportConfig) (*Bus, error) {
	t, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &Bus{transport: t}, nil
}

// Shutdown tears down the underlying transport.
func (b *Bus) Shutdown() {
	b.transport.Shutdown()
}

// Publish sends an event on its target's subject, and also mirrors it to
// the wildcard "all" subject so TargetAll subscribers (e.g. the WebSocket
// relay) see every event regardless of entity.
func (b *Bus) Publish(evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}

	conn := b.transport.conn
	if evt.Target != TargetAll {
		if err := conn.Publish(subjectPrefix+evt.Target, data); err != nil {
			return fmt.Errorf("publish event %s to %s: %w", evt.ID, evt.Target, err)
		}
	}
	if err := conn.Publish(subjectPrefix+TargetAll, data); err != nil {
		return fmt.Errorf("publish event %s to all: %w", evt.ID, err)
	}
	return nil
}

// Subscribe returns a channel of events matching target (or every event,
// for target == TargetAll) filtered to the given types (nil/empty means
// all types). The returned cancel func must be called to release the
// underlying NATS subscription.
func (b *Bus) Subscribe(target string, types []Type) (<-chan Event, func(), error) {
	subject := subjectFor(target)

	raw := make(chan *nats.Msg, subscriberBufferSize)
	sub, err := b.transport.conn.ChanSubscribe(subject, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	out := make(chan Event, subscriberBufferSize)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal(msg.Data, &evt); err != nil {
					log.Printf("[EVENTS] failed to decode event on %s: %v", subject, err)
					continue
				}
				if !matchesTypes(evt.Type, types) {
					continue
				}
				b.deliver(out, evt, subject)
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = sub.Unsubscribe()
	}
	return out, cancel, nil
}

// deliver applies the teacher's bounded-retry-then-drop backpressure
// policy so one stalled subscriber can't block the decode goroutine.
func (b *Bus) deliver(out chan<- Event, evt Event, subject string) {
	select {
	case out <- evt:
		return
	default:
	}

	for retry := 1; retry <= maxBackpressureRetries; retry++ {
		time.Sleep(backpressureRetryDelay)
		select {
		case out <- evt:
			return
		default:
		}
	}

	dropped := atomic.AddUint64(&b.droppedEvents, 1)
	log.Printf("[EVENTS] dropped event after %d retries: type=%s subject=%s id=%s (total dropped: %d)",
		maxBackpressureRetries, evt.Type, subject, evt.ID, dropped)
}

// DroppedEventCount reports how many events were dropped to a slow
// subscriber since the bus started.
func (b *Bus) DroppedEventCount() uint64 {
	return atomic.LoadUint64(&b.droppedEvents)
}

func matchesTypes(t Type, types []Type) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}
