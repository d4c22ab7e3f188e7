// Package bus fans session lifecycle events out to subscribers over
// bounded per-subscriber queues.
//
// Invariants:
// - Events for one session are delivered in publish order.
// - A subscriber queue never exceeds its configured bound.
// - Overflow behavior is a bus-wide policy: block the publisher or drop the oldest.
//
// Usage:
//
//	b := bus.New(bus.Options{Policy: bus.PolicyBlock}, log.Logger)
//	sub, _ := b.Subscribe(sessionID)
//	defer b.Unsubscribe(sub)
//	for {
//		select {
//		case ev := <-sub.C:
//			_ = ev
//		case <-sub.Done():
//			return
//		}
//	}
package bus
