// Package buffer provides a bounded, non-blocking FIFO for fan-out paths
// where a slow consumer must never stall the producer.
//
// A Ring drops items when full, either the oldest queued item (the
// default) or the one being written:
//
//	ring, err := buffer.NewRing[Event](256,
//		buffer.WithOverflowPolicy[Event](buffer.DropOldest),
//		buffer.WithMetrics[Event](registry, "changes"),
//	)
//
// Consumers wait on Ready and drain with ReadBatch:
//
//	for {
//		select {
//		case <-ctx.Done():
//			return
//		case <-ring.Ready():
//			for _, ev := range ring.ReadBatch(64) {
//				send(ev)
//			}
//		}
//	}
//
// Ready holds at most one pending signal, so a consumer must drain fully
// after each wake-up.
package buffer
