package fieldstore

import (
	"slices"
	"strconv"
	"strings"

	"github.com/c360/ntscope/pkg/structschema"
)

// Mode selects how a tree maps paths onto fields.
type Mode int

const (
	// Nested splits paths on "/" into one field per segment.
	Nested Mode = iota
	// Flat keeps every top-level path as a single child of the root.
	Flat
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Flat {
		return "flat"
	}
	return "nested"
}

const (
	rootKey = ""
	keySep  = "\x00"
)

func childKey(parent, name string) string {
	if parent == rootKey {
		return name
	}
	return parent + keySep + name
}

// FieldRef describes a field at the time of the lookup.
type FieldRef struct {
	Path     string
	Name     string
	Type     FieldType
	Children []string
	Samples  int
	Derived  bool
}

// Tree is an arena of fields rooted at an untyped container. Fields refer
// to their parent and children by key. A Tree is not safe for concurrent
// use; Source serializes access to its trees.
type Tree struct {
	mode    Mode
	decoder *structschema.Decoder
	fields  map[string]*Field
	members map[string][]structschema.Field
	pending []ChangeEvent
}

// NewTree creates an empty tree. A nil decoder gets a private one.
func NewTree(mode Mode, decoder *structschema.Decoder) *Tree {
	if decoder == nil {
		decoder = structschema.NewDecoder()
	}
	t := &Tree{
		mode:    mode,
		decoder: decoder,
		fields:  make(map[string]*Field),
		members: make(map[string][]structschema.Field),
	}
	t.fields[rootKey] = newField(rootKey, "", rootKey, nil, false)
	return t
}

// Mode returns how the tree maps paths.
func (t *Tree) Mode() Mode { return t.mode }

func (t *Tree) root() *Field { return t.fields[rootKey] }

// writeSegments splits a path for creation. Flat trees keep the whole path
// as one segment.
func (t *Tree) writeSegments(path string) []string {
	if t.mode == Flat {
		if path == "" {
			return nil
		}
		return []string{path}
	}
	return splitPath(path)
}

// readSegments resolves a path against existing fields. In a flat tree the
// longest top-level key that prefixes the path wins and the remainder
// addresses derived children.
func (t *Tree) readSegments(path string) []string {
	if t.mode == Nested {
		return splitPath(path)
	}
	if path == "" {
		return nil
	}
	root := t.root()
	if _, ok := root.children[path]; ok {
		return []string{path}
	}
	for i := strings.LastIndex(path, "/"); i > 0; i = strings.LastIndex(path[:i], "/") {
		if _, ok := root.children[path[:i]]; ok {
			return append([]string{path[:i]}, splitPath(path[i+1:])...)
		}
	}
	return []string{path}
}

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// displayPath renders an arena key as a "/"-joined path.
func displayPath(key string) string {
	return strings.ReplaceAll(key, keySep, "/")
}

// normalizePath renders path the way events for it are reported.
func (t *Tree) normalizePath(path string) string {
	return strings.Join(t.readSegments(path), "/")
}

func (t *Tree) find(segs []string) *Field {
	f := t.root()
	for _, name := range segs {
		key, ok := f.children[name]
		if !ok {
			return nil
		}
		f = t.fields[key]
	}
	return f
}

func (t *Tree) emit(key string, kind ChangeKind, ts int64) {
	t.pending = append(t.pending, ChangeEvent{Path: displayPath(key), Kind: kind, TS: ts})
}

func (t *Tree) drain() []ChangeEvent {
	events := t.pending
	t.pending = nil
	return events
}

// Create ensures path exists, creating untyped intermediate containers.
// An existing leaf keeps its type; an untyped leaf takes typ.
func (t *Tree) Create(path string, typ FieldType) {
	t.create(t.writeSegments(path), typ)
}

func (t *Tree) create(segs []string, typ FieldType) *Field {
	if len(segs) == 0 {
		return nil
	}
	parent := t.root()
	for i, name := range segs {
		last := i == len(segs)-1
		key := childKey(parent.key, name)
		f, ok := t.fields[key]
		switch {
		case !ok:
			var ft FieldType
			if last {
				ft = typ
			}
			f = newField(key, name, parent.key, ft, false)
			t.fields[key] = f
			parent.children[name] = key
			t.emit(key, Created, 0)
		case last && f.typ == nil && typ != nil:
			f.setType(typ)
			t.rebuildField(f)
		}
		parent = f
	}
	return parent
}

// Delete removes the field at path with its subtree, then prunes ancestors
// left as empty untyped containers.
func (t *Tree) Delete(path string) {
	f := t.find(t.readSegments(path))
	if f == nil || f.key == rootKey {
		return
	}
	parent := t.fields[f.parent]
	delete(parent.children, f.name)
	t.removeSubtree(f)

	for parent.key != rootKey && len(parent.children) == 0 && parent.typ == nil && len(parent.log) == 0 {
		up := t.fields[parent.parent]
		delete(up.children, parent.name)
		delete(t.fields, parent.key)
		t.emit(parent.key, Deleted, 0)
		parent = up
	}
}

func (t *Tree) removeSubtree(f *Field) {
	for _, key := range sortedChildKeys(f) {
		t.removeSubtree(t.fields[key])
	}
	delete(t.fields, f.key)
	t.emit(f.key, Deleted, 0)
}

// Update inserts a sample into the leaf at path, creating it untyped when
// absent, and mirrors it into array and struct children.
func (t *Tree) Update(path string, value any, ts int64) {
	segs := t.writeSegments(path)
	f := t.find(segs)
	if f == nil {
		f = t.create(segs, nil)
	}
	if f == nil {
		return
	}
	t.write(f, value, ts)
}

func (t *Tree) write(f *Field, value any, ts int64) {
	pos := f.insert(Entry{TS: ts, Value: value})
	t.emit(f.key, Updated, ts)

	if f.built != nil {
		name, isArray, _ := structBacked(f.typ)
		decoded := t.decodeRaw(name, isArray, value)
		f.built[pos] = decoded
		if decoded == nil && !t.decoder.Resolved(name) {
			return
		}
		value = decoded
	}
	t.project(f, value, ts)
}

func (t *Tree) decodeRaw(name string, isArray bool, value any) any {
	data, ok := value.([]byte)
	if !ok {
		return nil
	}
	if isArray {
		if items, ok := t.decoder.DecodeArray(name, data); ok {
			return items
		}
		return nil
	}
	if m, ok := t.decoder.Decode(name, data); ok {
		return m
	}
	return nil
}

// project writes the parts of a decoded value into derived children.
func (t *Tree) project(f *Field, value any, ts int64) {
	switch typ := f.typ.(type) {
	case Array:
		items, _ := elements(value)
		for i, item := range items {
			t.write(t.child(f, strconv.Itoa(i), typ.Elem), item, ts)
		}
		// Children past the end of a shorter array go empty at ts.
		for i := len(items); ; i++ {
			key, ok := f.children[strconv.Itoa(i)]
			if !ok {
				break
			}
			t.write(t.fields[key], nil, ts)
		}
	case Struct:
		m, _ := value.(map[string]any)
		for _, member := range t.patternMembers(typ.Name) {
			var v any
			if m != nil {
				v = m[member.Name]
			}
			t.write(t.child(f, member.Name, memberType(member)), v, ts)
		}
	}
}

func (t *Tree) patternMembers(name string) []structschema.Field {
	if members, ok := t.members[name]; ok {
		return members
	}
	p, ok := t.decoder.Pattern(name)
	if !ok || !p.Resolved() {
		return nil
	}
	t.members[name] = p.Fields
	return p.Fields
}

func (t *Tree) child(f *Field, name string, typ FieldType) *Field {
	key := childKey(f.key, name)
	if c, ok := t.fields[key]; ok {
		return c
	}
	c := newField(key, name, f.key, typ, true)
	t.fields[key] = c
	f.children[name] = key
	t.emit(key, Created, 0)
	return c
}

// Rebuild recomputes every struct-backed field whose pattern is one of names.
func (t *Tree) Rebuild(names ...string) {
	if len(names) == 0 {
		return
	}
	keys := make([]string, 0)
	for key, f := range t.fields {
		name, _, ok := structBacked(f.typ)
		if ok && !f.derived && slices.Contains(names, name) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	for _, key := range keys {
		t.rebuildField(t.fields[key])
	}
}

func (t *Tree) rebuildField(f *Field) {
	name, isArray, ok := structBacked(f.typ)
	if !ok || f.derived {
		return
	}
	for _, key := range sortedChildKeys(f) {
		c := t.fields[key]
		if c.derived {
			delete(f.children, c.name)
			t.removeSubtree(c)
		}
	}

	f.built = make([]any, len(f.log))
	for i, e := range f.log {
		decoded := t.decodeRaw(name, isArray, e.Value)
		f.built[i] = decoded
		t.project(f, decoded, e.TS)
	}
	if n := len(f.log); n > 0 {
		t.emit(f.key, Updated, f.log[n-1].TS)
	}
}

// Get returns the value in effect at ts. Missing paths, untyped containers
// before their first sample, and empty entries report false.
func (t *Tree) Get(path string, ts int64) (any, bool) {
	f := t.find(t.readSegments(path))
	if f == nil {
		return nil, false
	}
	return f.get(ts)
}

// GetRange returns copies of the samples after the one in effect at start
// up to and including the one in effect at stop, i.e. timestamps in
// (start, stop].
func (t *Tree) GetRange(path string, start, stop int64) []Entry {
	f := t.find(t.readSegments(path))
	if f == nil {
		return nil
	}
	return f.getRange(start, stop)
}

// Lookup describes the field at path. The root is addressed by "".
func (t *Tree) Lookup(path string) (FieldRef, bool) {
	f := t.find(t.readSegments(path))
	if f == nil {
		return FieldRef{}, false
	}
	names := make([]string, 0, len(f.children))
	for name := range f.children {
		names = append(names, name)
	}
	slices.SortFunc(names, compareNames)
	return FieldRef{
		Path:     displayPath(f.key),
		Name:     f.name,
		Type:     f.typ,
		Children: names,
		Samples:  len(f.log),
		Derived:  f.derived,
	}, true
}

// walk visits every field except the root in key order.
func (t *Tree) walk(fn func(segs []string, f *Field)) {
	keys := make([]string, 0, len(t.fields))
	for key := range t.fields {
		if key != rootKey {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	for _, key := range keys {
		fn(strings.Split(key, keySep), t.fields[key])
	}
}

func sortedChildKeys(f *Field) []string {
	keys := make([]string, 0, len(f.children))
	for _, key := range f.children {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// compareNames orders numeric names numerically and before other names.
func compareNames(a, b string) int {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai - bi
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
