// Package worker provides a generic bounded worker pool.
//
// A Pool owns a fixed number of goroutines reading from a buffered channel.
// Submit never blocks: when the queue is full it returns ErrQueueFull and
// the caller decides whether to retry or reject. Stop closes the queue, lets
// workers finish what was already accepted, and gives up after a timeout.
//
//	pool := worker.NewPool(2, 8, func(ctx context.Context, job importJob) error {
//	    return decode(ctx, job)
//	}, worker.WithMetrics[importJob](registry, "import"))
//
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// Counters are always kept (Stats); Prometheus metrics are registered only
// when WithMetrics is given, under ntscope_<name>_*.
package worker
