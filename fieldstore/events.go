package fieldstore

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// ChangeKind classifies a change event.
type ChangeKind int

const (
	Created ChangeKind = iota + 1
	Deleted
	Updated
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// ChangeEvent reports a structural or value change of one field. TS is the
// sample timestamp for updates and zero otherwise.
type ChangeEvent struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
	TS   int64      `json:"ts"`
}

// Listener receives change events on the goroutine that made the change.
type Listener func(ChangeEvent)

type subscription struct {
	path string
	fn   Listener
}

// listeners fans events out to subscriptions on the changed path or any of
// its ancestors.
type listeners struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]subscription
}

func (l *listeners) add(path string, fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.subs == nil {
		l.subs = make(map[uint64]subscription)
	}
	id := l.next
	l.next++
	l.subs[id] = subscription{path: path, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) dispatch(events []ChangeEvent) {
	if len(events) == 0 {
		return
	}

	l.mu.RLock()
	subs := make([]subscription, 0, len(l.subs))
	for _, id := range slices.Sorted(maps.Keys(l.subs)) {
		subs = append(subs, l.subs[id])
	}
	l.mu.RUnlock()

	for _, ev := range events {
		for _, s := range subs {
			if covers(s.path, ev.Path) {
				s.fn(ev)
			}
		}
	}
}

// covers reports whether a listener on path hears events for target.
func covers(path, target string) bool {
	if path == "" || path == target {
		return true
	}
	return strings.HasPrefix(target, path+"/")
}
