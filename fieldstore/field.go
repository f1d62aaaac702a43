package fieldstore

import (
	"slices"
	"sort"
)

// Entry is one timestamped sample in a value log. Timestamps are
// microseconds; a nil Value marks "no value" at that instant.
type Entry struct {
	TS    int64 `cbor:"t" json:"ts"`
	Value any   `cbor:"v" json:"value"`
}

// Field is one node of a tree. Children are referenced by arena key only.
type Field struct {
	key    string
	name   string
	parent string
	typ    FieldType

	log []Entry
	// built parallels log for struct-backed fields; it holds the decoded
	// value of each raw entry, or nil while the pattern is unresolved.
	built []any

	children map[string]string
	// derived fields are materialized from an array or struct parent.
	derived bool
}

func newField(key, name, parent string, typ FieldType, derived bool) *Field {
	f := &Field{
		key:      key,
		name:     name,
		parent:   parent,
		children: make(map[string]string),
		derived:  derived,
	}
	f.setType(typ)
	return f
}

// search returns the index of the sample in effect at t: -1 before the
// first sample, the last index at or after the last sample, otherwise the
// unique i with log[i].TS <= t < log[i+1].TS.
func search(log []Entry, t int64) int {
	n := len(log)
	if n == 0 || t < log[0].TS {
		return -1
	}
	if t >= log[n-1].TS {
		return n - 1
	}
	return sort.Search(n, func(i int) bool { return log[i].TS > t }) - 1
}

// insert places e after every entry with an equal or earlier timestamp and
// returns its index.
func (f *Field) insert(e Entry) int {
	pos := len(f.log)
	if pos > 0 && f.log[pos-1].TS > e.TS {
		pos = sort.Search(len(f.log), func(i int) bool { return f.log[i].TS > e.TS })
	}
	f.log = slices.Insert(f.log, pos, e)
	if f.built != nil {
		f.built = slices.Insert(f.built, pos, nil)
	}
	return pos
}

// setType assigns the type and prepares the built log for struct-backed
// fields.
func (f *Field) setType(t FieldType) {
	f.typ = t
	f.built = nil
	if _, _, ok := structBacked(t); ok && !f.derived {
		f.built = make([]any, len(f.log))
	}
}

// valueAt returns the externally visible value of entry i.
func (f *Field) valueAt(i int) any {
	if f.built != nil {
		return f.built[i]
	}
	return f.log[i].Value
}

func (f *Field) get(t int64) (any, bool) {
	i := search(f.log, t)
	if i < 0 {
		return nil, false
	}
	v := f.valueAt(i)
	return v, v != nil
}

func (f *Field) getRange(start, stop int64) []Entry {
	if stop < start {
		return nil
	}
	lo := search(f.log, start) + 1
	hi := search(f.log, stop) + 1
	if hi <= lo {
		return nil
	}
	out := make([]Entry, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, Entry{TS: f.log[i].TS, Value: f.valueAt(i)})
	}
	return out
}
