package gateway

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/c360/ntscope/fieldstore"
)

type fieldResponse struct {
	Path     string   `json:"path"`
	Name     string   `json:"name"`
	Type     string   `json:"type,omitempty"`
	Children []string `json:"children"`
	Samples  int      `json:"samples"`
	Derived  bool     `json:"derived,omitempty"`
}

type valueResponse struct {
	Path  string `json:"path"`
	TS    int64  `json:"ts"`
	Found bool   `json:"found"`
	Value any    `json:"value"`
}

type entryResponse struct {
	TS    int64 `json:"ts"`
	Value any   `json:"value"`
}

type rangeResponse struct {
	Path      string          `json:"path"`
	Start     int64           `json:"start"`
	Stop      int64           `json:"stop"`
	Entries   []entryResponse `json:"entries"`
	Truncated bool            `json:"truncated,omitempty"`
}

type playbackResponse struct {
	TS        int64 `json:"ts"`
	Min       int64 `json:"min"`
	Max       int64 `json:"max"`
	HasBounds bool  `json:"has_bounds"`
}

type playbackRequest struct {
	TS  *int64 `json:"ts"`
	Min *int64 `json:"min"`
	Max *int64 `json:"max"`
}

type sessionResponse struct {
	Origin  string `json:"origin"`
	Name    string `json:"name,omitempty"`
	Schemas int    `json:"schemas"`
}

// fieldPath renders a tree path with a leading slash.
func fieldPath(p string) string {
	return "/" + strings.TrimPrefix(p, "/")
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.sessions.Source().Lookup(r.URL.Query().Get("path"))
	if !ok {
		writeError(w, http.StatusNotFound, "field not found")
		return
	}
	children := ref.Children
	if children == nil {
		children = []string{}
	}
	writeJSON(w, http.StatusOK, fieldResponse{
		Path:     fieldPath(ref.Path),
		Name:     ref.Name,
		Type:     fieldstore.TypeString(ref.Type),
		Children: children,
		Samples:  ref.Samples,
		Derived:  ref.Derived,
	})
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	src := s.sessions.Source()
	q := r.URL.Query()
	path := q.Get("path")

	ts, ok := queryInt(w, q.Get("ts"), "ts", src.TS())
	if !ok {
		return
	}
	ref, exists := src.Lookup(path)
	if !exists {
		writeError(w, http.StatusNotFound, "field not found")
		return
	}

	v, found := src.Get(path, ts)
	writeJSON(w, http.StatusOK, valueResponse{
		Path:  fieldPath(ref.Path),
		TS:    ts,
		Found: found,
		Value: jsonValue(v),
	})
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	src := s.sessions.Source()
	q := r.URL.Query()
	path := q.Get("path")

	// start is exclusive, so an omitted start sits just before the first
	// sample.
	tsMin, tsMax, bounded := src.Bounds()
	defStart := int64(math.MinInt64)
	if bounded && tsMin > math.MinInt64 {
		defStart = tsMin - 1
	}
	start, ok := queryInt(w, q.Get("start"), "start", defStart)
	if !ok {
		return
	}
	stop, ok := queryInt(w, q.Get("stop"), "stop", tsMax)
	if !ok {
		return
	}
	if stop < start {
		writeError(w, http.StatusBadRequest, "stop is before start")
		return
	}
	ref, exists := src.Lookup(path)
	if !exists {
		writeError(w, http.StatusNotFound, "field not found")
		return
	}

	entries := src.GetRange(path, start, stop)
	resp := rangeResponse{
		Path:    fieldPath(ref.Path),
		Start:   start,
		Stop:    stop,
		Entries: make([]entryResponse, 0, min(len(entries), s.cfg.MaxRangeSamples)),
	}
	if len(entries) > s.cfg.MaxRangeSamples {
		entries = entries[:s.cfg.MaxRangeSamples]
		resp.Truncated = true
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, entryResponse{TS: e.TS, Value: jsonValue(e.Value)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) playback(src *fieldstore.Source) playbackResponse {
	tsMin, tsMax, ok := src.Bounds()
	return playbackResponse{TS: src.TS(), Min: tsMin, Max: tsMax, HasBounds: ok}
}

func (s *Server) handlePlayback(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.playback(s.sessions.Source()))
}

func (s *Server) handleSetPlayback(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, 4096)
	if !ok {
		return
	}
	var req playbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid playback request")
		return
	}
	if (req.Min == nil) != (req.Max == nil) {
		writeError(w, http.StatusBadRequest, "min and max must be set together")
		return
	}
	if req.Min != nil && *req.Min > *req.Max {
		writeError(w, http.StatusBadRequest, "min is after max")
		return
	}

	src := s.sessions.Source()
	if req.Min != nil {
		src.SetBounds(*req.Min, *req.Max)
	}
	if req.TS != nil {
		src.SetTS(*req.TS)
	}
	writeJSON(w, http.StatusOK, s.playback(src))
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	origin, name := s.sessions.Origin()
	writeJSON(w, http.StatusOK, sessionResponse{
		Origin:  string(origin),
		Name:    name,
		Schemas: len(s.sessions.Source().Schemas()),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, _ *http.Request) {
	if err := s.sessions.Close(); err != nil {
		s.logger.Warn("close session", "error", err)
		writeError(w, statusFor(err), sanitizeError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpenLog(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	data, ok := readBody(w, r, s.cfg.MaxUploadSize)
	if !ok {
		return
	}

	jobID, err := s.sessions.OpenLog(r.Context(), name, data)
	if err != nil {
		s.logger.Warn("open log", "name", name, "error", err)
		writeError(w, statusFor(err), sanitizeError(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "name": name})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.sessions.Health()
	if s.monitor != nil {
		s.monitor.Update("session", status)
		s.monitor.Refresh()
		status = s.monitor.AggregateHealth("ntscope")
	}

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// queryInt parses an int64 query parameter, writing a 400 on failure.
func queryInt(w http.ResponseWriter, raw, name string, def int64) (int64, bool) {
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

// jsonValue replaces non-finite floats, which JSON cannot carry, with
// their string names.
func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case []float64:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = finite(f)
		}
		return out
	case []float32:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = finite(float64(f))
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonValue(e)
		}
		return out
	default:
		return v
	}
}

func finite(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}
