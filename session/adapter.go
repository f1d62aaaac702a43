package session

import (
	"log/slog"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/fieldstore"
	"github.com/c360/ntscope/metric"
	"github.com/c360/ntscope/nt4"
)

// liveAdapter writes NT4 client callbacks into one source. All callbacks
// arrive on the client's processing goroutine, so topics needs no lock.
type liveAdapter struct {
	session *Session
	epoch   uint64
	src     *fieldstore.Source
	logger  *slog.Logger
	metrics *metric.Metrics
	topics  map[string]struct{}
}

func newLiveAdapter(s *Session, epoch uint64, src *fieldstore.Source) *liveAdapter {
	a := &liveAdapter{
		session: s,
		epoch:   epoch,
		src:     src,
		logger:  s.logger.With("origin", string(OriginLive)),
		topics:  make(map[string]struct{}),
	}
	if s.registry != nil {
		a.metrics = s.registry.CoreMetrics()
	}
	return a
}

func (a *liveAdapter) callbacks() nt4.Callbacks {
	return nt4.Callbacks{
		OnAnnounce:   a.announce,
		OnUnannounce: a.unannounce,
		OnValue:      a.value,
		OnConnect:    a.connect,
		OnDisconnect: a.disconnect,
	}
}

func (a *liveAdapter) current() bool {
	return a.session.Current(a.epoch)
}

func (a *liveAdapter) announce(t nt4.Topic) {
	if !a.current() {
		return
	}
	a.src.Create(t.Name, fieldstore.ParseType(t.Type))
	a.topics[t.Name] = struct{}{}
	a.recordTopics()
}

func (a *liveAdapter) unannounce(t nt4.Topic) {
	if !a.current() {
		return
	}
	a.src.Delete(t.Name)
	delete(a.topics, t.Name)
	a.recordTopics()
}

func (a *liveAdapter) value(t nt4.Topic, ts int64, v any) {
	if !a.current() {
		return
	}
	if err := a.src.Update(t.Name, v, ts); err != nil {
		a.logger.Warn("struct schema rejected", "topic", t.Name, "error", err)
		if a.metrics != nil {
			a.metrics.RecordError("session", errors.Classify(err).String())
		}
	}
	if a.metrics != nil {
		a.metrics.RecordSample(string(OriginLive))
	}
}

func (a *liveAdapter) connect() {
	if a.current() {
		a.logger.Info("robot connected")
	}
}

func (a *liveAdapter) disconnect() {
	if a.current() {
		a.logger.Warn("robot disconnected")
	}
}

func (a *liveAdapter) recordTopics() {
	if a.metrics != nil {
		a.metrics.RecordTopics(string(OriginLive), len(a.topics))
	}
}
