// Package gateway serves a session's field store over HTTP.
//
// Routes:
//
//	GET    /api/v1/fields?path=           field type, children and sample count
//	GET    /api/v1/value?path=&ts=        value in effect at ts (default: playback ts)
//	GET    /api/v1/range?path=&start=&stop=  samples after start up to stop
//	GET    /api/v1/playback               playback ts and time bounds
//	PUT    /api/v1/playback               {"ts": n} and/or {"min": a, "max": b}
//	GET    /api/v1/session                current origin and name
//	DELETE /api/v1/session                detach the current data source
//	POST   /api/v1/logs?name=             body is a WPILOG file, decoded in the background
//	GET    /api/v1/changes?path=          websocket stream of change events
//	GET    /health                        aggregated component health
//	GET    /metrics                       Prometheus exposition
//
// Paths use "/" separators; a missing field answers 404 while a field with
// no data at ts answers 200 with "found": false. Every response carries an
// X-Request-ID header, echoed from the request when present.
//
// The change stream sends JSON arrays of
// {"type":"change","path":...,"kind":"created|deleted|updated","ts":...}
// and a {"type":"swap","origin":...} frame whenever the session replaces
// its source. Slow clients lose the oldest queued events rather than
// holding up the store.
package gateway
