package fieldstore

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/pkg/structschema"
)

// schemaPrefix marks topics that publish struct schemas.
const schemaPrefix = ".schema/struct:"

// Option configures a Source.
type Option func(*Source)

// WithTrees enables or disables the nested and flat trees. Disabling both
// leaves the nested tree enabled.
func WithTrees(nested, flat bool) Option {
	return func(s *Source) {
		s.enableNested = nested
		s.enableFlat = flat
	}
}

// WithLogger sets the logger used for schema and rebuild diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDecoder shares an existing struct decoder with the source.
func WithDecoder(d *structschema.Decoder) Option {
	return func(s *Source) {
		if d != nil {
			s.decoder = d
		}
	}
}

// Source owns the field trees of one data session: the nested and flat
// views, the struct decoder, playback position and time bounds, and the
// change listeners. Reads take a shared lock; a single writer is expected.
type Source struct {
	mu sync.RWMutex

	enableNested bool
	enableFlat   bool
	nested       *Tree
	flat         *Tree
	decoder      *structschema.Decoder

	ts        int64
	tsMin     int64
	tsMax     int64
	hasBounds bool

	listeners listeners
	logger    *slog.Logger
}

// NewSource creates an empty source with both trees enabled by default.
func NewSource(opts ...Option) *Source {
	s := &Source{
		enableNested: true,
		enableFlat:   true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.enableNested && !s.enableFlat {
		s.enableNested = true
	}
	if s.decoder == nil {
		s.decoder = structschema.NewDecoder()
	}
	if s.enableNested {
		s.nested = NewTree(Nested, s.decoder)
	}
	if s.enableFlat {
		s.flat = NewTree(Flat, s.decoder)
	}
	return s
}

// primary is the tree queries and events are served from.
func (s *Source) primary() *Tree {
	if s.nested != nil {
		return s.nested
	}
	return s.flat
}

func (s *Source) trees() []*Tree {
	out := make([]*Tree, 0, 2)
	if s.nested != nil {
		out = append(out, s.nested)
	}
	if s.flat != nil {
		out = append(out, s.flat)
	}
	return out
}

// drain collects the primary tree's events and discards the rest, so each
// logical change is reported once. Callers must hold s.mu.
func (s *Source) drain() []ChangeEvent {
	events := s.primary().drain()
	for _, t := range s.trees() {
		if t != s.primary() {
			t.drain()
		}
	}
	return events
}

// mutate runs fn under the write lock and then delivers the resulting
// events before returning.
func (s *Source) mutate(fn func() error) error {
	s.mu.Lock()
	err := fn()
	events := s.drain()
	s.mu.Unlock()

	s.listeners.dispatch(events)
	return err
}

// Create ensures path exists in every enabled tree.
func (s *Source) Create(path string, typ FieldType) {
	_ = s.mutate(func() error {
		for _, t := range s.trees() {
			t.Create(path, typ)
		}
		return nil
	})
}

// Delete removes path and its subtree from every enabled tree.
func (s *Source) Delete(path string) {
	_ = s.mutate(func() error {
		for _, t := range s.trees() {
			t.Delete(path)
		}
		return nil
	})
}

// Update records a sample for path and extends the time bounds. Samples on
// schema topics are also fed to the struct decoder; a schema that fails to
// parse is reported as an error after the raw sample is stored.
func (s *Source) Update(path string, value any, ts int64) error {
	return s.mutate(func() error {
		for _, t := range s.trees() {
			t.Update(path, value, ts)
		}
		s.extendBounds(ts)

		name, ok := SchemaName(path)
		if !ok {
			return nil
		}
		text, ok := schemaText(value)
		if !ok {
			return nil
		}
		return s.addSchemaLocked(name, text)
	})
}

// AddSchema registers schema text for a struct name directly.
func (s *Source) AddSchema(name, text string) error {
	return s.mutate(func() error {
		return s.addSchemaLocked(name, text)
	})
}

func (s *Source) addSchemaLocked(name, text string) error {
	resolved, err := s.decoder.AddSchema(name, text)
	if err != nil {
		return errors.Wrap(err, "Source", "AddSchema", "register struct schema")
	}
	if len(resolved) == 0 {
		return nil
	}
	for _, t := range s.trees() {
		t.Rebuild(resolved...)
	}
	s.logger.Debug("Struct schemas resolved", "schema", name, "resolved", resolved)
	return nil
}

func (s *Source) extendBounds(ts int64) {
	if !s.hasBounds {
		s.tsMin, s.tsMax, s.hasBounds = ts, ts, true
		return
	}
	s.tsMin = min(s.tsMin, ts)
	s.tsMax = max(s.tsMax, ts)
}

// SchemaName extracts the struct name from a schema topic path such as
// "/.schema/struct:Pose2d".
func SchemaName(path string) (string, bool) {
	name, ok := strings.CutPrefix(strings.TrimPrefix(path, "/"), schemaPrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// Get returns the value of path in effect at ts.
func (s *Source) Get(path string, ts int64) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary().Get(path, ts)
}

// Current returns the value of path at the playback timestamp.
func (s *Source) Current(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary().Get(path, s.ts)
}

// GetRange returns copies of the samples of path with timestamps in (start, stop].
func (s *Source) GetRange(path string, start, stop int64) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary().GetRange(path, start, stop)
}

// Lookup describes the field at path.
func (s *Source) Lookup(path string) (FieldRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary().Lookup(path)
}

// View returns read access to one tree, or false when it is disabled.
func (s *Source) View(mode Mode) (*View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if (mode == Nested && s.nested == nil) || (mode == Flat && s.flat == nil) {
		return nil, false
	}
	return &View{source: s, mode: mode}, true
}

// Subscribe registers fn for changes to path or anything below it. The
// empty path receives every change. The returned func cancels the
// subscription and is safe to call more than once.
func (s *Source) Subscribe(path string, fn Listener) func() {
	s.mu.RLock()
	normalized := s.primary().normalizePath(path)
	s.mu.RUnlock()
	return s.listeners.add(normalized, fn)
}

// TS returns the playback timestamp.
func (s *Source) TS() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ts
}

// SetTS moves the playback timestamp.
func (s *Source) SetTS(ts int64) {
	s.mu.Lock()
	s.ts = ts
	s.mu.Unlock()
}

// Bounds returns the earliest and latest sample timestamps seen, or false
// before the first sample.
func (s *Source) Bounds() (tsMin, tsMax int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tsMin, s.tsMax, s.hasBounds
}

// SetBounds overrides the time bounds.
func (s *Source) SetBounds(tsMin, tsMax int64) {
	s.mu.Lock()
	s.tsMin, s.tsMax, s.hasBounds = tsMin, tsMax, true
	s.mu.Unlock()
}

// Schemas returns every struct schema text seen so far.
func (s *Source) Schemas() map[string]string {
	return s.decoder.Schemas()
}

// View is locked read access to one of a source's trees.
type View struct {
	source *Source
	mode   Mode
}

func (v *View) tree() *Tree {
	if v.mode == Flat {
		return v.source.flat
	}
	return v.source.nested
}

// Get returns the value of path in effect at ts.
func (v *View) Get(path string, ts int64) (any, bool) {
	v.source.mu.RLock()
	defer v.source.mu.RUnlock()
	return v.tree().Get(path, ts)
}

// GetRange returns copies of the samples of path with timestamps in (start, stop].
func (v *View) GetRange(path string, start, stop int64) []Entry {
	v.source.mu.RLock()
	defer v.source.mu.RUnlock()
	return v.tree().GetRange(path, start, stop)
}

// Lookup describes the field at path.
func (v *View) Lookup(path string) (FieldRef, bool) {
	v.source.mu.RLock()
	defer v.source.mu.RUnlock()
	return v.tree().Lookup(path)
}
