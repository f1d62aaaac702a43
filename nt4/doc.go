// Package nt4 is a NetworkTables 4 websocket client.
//
// A Client holds a single connection to ws://<host>:5810/nt/<app name> and
// redials after a fixed delay whenever it drops. Publications and
// subscriptions are registered with the client rather than the connection:
// every new connection re-sends them with the same uids, so callers never
// need to react to reconnects.
//
// # Channels
//
// Text frames carry JSON arrays of {"method", "params"} objects. The client
// understands announce, unannounce and properties, and sends publish,
// unpublish, setproperties, subscribe and unsubscribe. Binary frames carry
// concatenated MessagePack arrays [id, timestamp, type, value]; a single
// frame may hold many samples.
//
// # Clock
//
// Timestamps are microseconds. On connect and every TimeSyncInterval the
// client sends its own time on id -1; the server echoes it with its clock.
// The offset is estimated assuming the server stamped the echo halfway
// through the round trip:
//
//	offset = serverTime + (received-sent)/2 - received
//
// ServerTime returns ClientTime plus the latest offset.
//
// # Concurrency
//
// A reader goroutine queues frames and a single processing goroutine
// decodes them and runs every callback in arrival order. A full queue
// blocks the reader. Publish, Subscribe and AddSample are safe to call from
// any goroutine, including from callbacks.
//
// # Usage
//
//	client, err := nt4.NewClient(cfg, nt4.Callbacks{
//	    OnAnnounce: func(t nt4.Topic) { ... },
//	    OnValue:    func(t nt4.Topic, ts int64, v any) { ... },
//	}, nt4.WithLogger(logger), nt4.WithMetrics(registry))
//	if err != nil {
//	    return err
//	}
//	client.Subscribe([]string{""}, nt4.SubscriptionOptions{All: true, Prefix: true})
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Stop(5 * time.Second)
package nt4
