package wpilog

import (
	"context"
	stderrors "errors"
	"io"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/fieldstore"
)

// Stats summarizes one decode.
type Stats struct {
	Records int `json:"records"`
	Entries int `json:"entries"`
	Skipped int `json:"skipped"`
	// SchemaErrors counts struct schema records that failed to parse.
	// Their raw bytes are still stored.
	SchemaErrors int  `json:"schema_errors"`
	Truncated    bool `json:"truncated"`
}

// ProgressFunc receives the fraction of the file decoded, in [0, 1].
type ProgressFunc func(fraction float64)

// progressStep is the minimum fraction between two progress reports.
const progressStep = 0.01

// cancelCheckEvery is how many records are read between context checks.
const cancelCheckEvery = 4096

// Decode reads a whole WPILOG file into a new Source and returns its
// snapshot.
func Decode(data []byte, progress ProgressFunc, opts ...fieldstore.Option) (*fieldstore.Snapshot, error) {
	snap, _, err := DecodeContext(context.Background(), data, progress, opts...)
	return snap, err
}

// DecodeContext is Decode with cancellation and statistics. A file that
// ends inside a record keeps every complete record before it and reports
// Truncated. Records of unknown entries or with malformed payloads are
// counted in Skipped.
func DecodeContext(ctx context.Context, data []byte, progress ProgressFunc, opts ...fieldstore.Option) (*fieldstore.Snapshot, Stats, error) {
	var stats Stats

	r, err := NewReader(data)
	if err != nil {
		return nil, stats, err
	}

	src := fieldstore.NewSource(opts...)
	entries := make(map[uint32]StartData)
	report := newProgressReporter(progress)

	for {
		rec, err := r.Next()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if stderrors.Is(err, errors.ErrDataTruncated) {
				stats.Truncated = true
				break
			}
			return nil, stats, errors.WrapInvalid(err, "wpilog", "Decode", "read record")
		}

		stats.Records++
		if stats.Records%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, errors.WrapTransient(err, "wpilog", "Decode", "decode cancelled")
			}
		}
		report.update(r.Progress())

		if rec.IsControl() {
			applyControl(src, entries, rec, &stats)
			continue
		}

		start, ok := entries[rec.Entry]
		if !ok {
			stats.Skipped++
			continue
		}
		value, err := DecodeValue(start.Type, rec.Payload)
		if err != nil {
			stats.Skipped++
			continue
		}
		if err := src.Update(start.Name, value, rec.Timestamp); err != nil {
			stats.SchemaErrors++
		}
	}

	report.done()
	return src.ToSerialized(), stats, nil
}

func applyControl(src *fieldstore.Source, entries map[uint32]StartData, rec Record, stats *Stats) {
	kind, start, err := rec.Control()
	if err != nil {
		stats.Skipped++
		return
	}

	switch kind {
	case ControlStart:
		if _, exists := entries[start.Entry]; exists {
			stats.Skipped++
			return
		}
		entries[start.Entry] = start
		stats.Entries++
		src.Create(start.Name, FieldType(start.Type))
	case ControlFinish:
		// values already logged stay queryable
		delete(entries, start.Entry)
	case ControlSetMetadata:
		if e, ok := entries[start.Entry]; ok {
			e.Metadata = start.Metadata
			entries[start.Entry] = e
		}
	}
}

type progressReporter struct {
	fn   ProgressFunc
	last float64
}

func newProgressReporter(fn ProgressFunc) *progressReporter {
	return &progressReporter{fn: fn, last: -1}
}

func (p *progressReporter) update(fraction float64) {
	if p.fn == nil || fraction-p.last < progressStep {
		return
	}
	p.last = fraction
	p.fn(min(fraction, 1))
}

func (p *progressReporter) done() {
	if p.fn != nil && p.last < 1 {
		p.last = 1
		p.fn(1)
	}
}
