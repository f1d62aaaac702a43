package gateway

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/health"
	"github.com/c360/ntscope/metric"
	"github.com/c360/ntscope/session"
)

type fixture struct {
	session  *session.Session
	server   *Server
	http     *httptest.Server
	registry *metric.MetricsRegistry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	registry := metric.NewMetricsRegistry()

	sess := session.New(session.DefaultConfig())
	require.NoError(t, sess.Start(t.Context()))
	t.Cleanup(func() { _ = sess.Stop(5 * time.Second) })

	srv, err := NewServer(cfg, sess, WithMetrics(registry), WithMonitor(health.NewMonitor()))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Stop(time.Second)
		ts.Close()
	})
	return &fixture{session: sess, server: srv, http: ts, registry: registry}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	src := f.session.Source()
	require.NoError(t, src.Update("/drive/speed", 1.0, 10))
	require.NoError(t, src.Update("/drive/speed", 2.0, 20))
	require.NoError(t, src.Update("/drive/speed", 3.0, 30))
	require.NoError(t, src.Update("/drive/mode", "auto", 10))
}

func TestServer_Fields(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.seed(t)

	var field fieldResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/fields?path=/drive", &field))
	assert.Equal(t, "/drive", field.Path)
	assert.Equal(t, []string{"mode", "speed"}, field.Children)

	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/fields?path=/drive/speed", &field))
	assert.Equal(t, 3, field.Samples)
	assert.Empty(t, field.Children)

	var root fieldResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/fields", &root))
	assert.Equal(t, []string{"drive"}, root.Children)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/fields?path=/missing", nil))
}

func TestServer_Value(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.seed(t)

	var v valueResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/value?path=/drive/speed&ts=25", &v))
	assert.True(t, v.Found)
	assert.Equal(t, 2.0, v.Value)

	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/value?path=/drive/speed&ts=5", &v))
	assert.False(t, v.Found)
	assert.Nil(t, v.Value)

	f.session.Source().SetTS(100)
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/value?path=/drive/mode", &v))
	assert.Equal(t, int64(100), v.TS)
	assert.Equal(t, "auto", v.Value)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/value?path=/drive/speed&ts=soon", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/value?path=/nope", nil))
}

func TestServer_Range(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRangeSamples = 1
	f := newFixture(t, cfg)
	f.seed(t)

	var rr rangeResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/range?path=/drive/speed&start=10&stop=30", &rr))
	assert.True(t, rr.Truncated)
	require.Len(t, rr.Entries, 1)
	assert.Equal(t, int64(20), rr.Entries[0].TS)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/range?path=/drive/speed&start=30&stop=10", nil))
}

func TestServer_RangeDefaultsToBounds(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.seed(t)

	var rr rangeResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/range?path=/drive/speed", &rr))
	assert.Equal(t, int64(9), rr.Start)
	assert.Equal(t, int64(30), rr.Stop)
	assert.False(t, rr.Truncated)
	require.Len(t, rr.Entries, 3)
	assert.Equal(t, int64(10), rr.Entries[0].TS)
	assert.Equal(t, 1.0, rr.Entries[0].Value)
	assert.Equal(t, 3.0, rr.Entries[2].Value)

	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/range?path=/drive/speed&start=10", &rr))
	require.Len(t, rr.Entries, 2)
	assert.Equal(t, int64(20), rr.Entries[0].TS)
}

func TestServer_Playback(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.seed(t)

	var pb playbackResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/playback", &pb))
	assert.True(t, pb.HasBounds)
	assert.Equal(t, int64(10), pb.Min)
	assert.Equal(t, int64(30), pb.Max)

	resp := f.do(t, http.MethodPut, "/api/v1/playback", []byte(`{"ts":15,"min":0,"max":100}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pb))
	assert.Equal(t, playbackResponse{TS: 15, Min: 0, Max: 100, HasBounds: true}, pb)
	assert.Equal(t, int64(15), f.session.Source().TS())

	resp = f.do(t, http.MethodPut, "/api/v1/playback", []byte(`{"min":5}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.do(t, http.MethodPut, "/api/v1/playback", []byte(`{"min":9,"max":1}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.do(t, http.MethodPut, "/api/v1/playback", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_OpenLog(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	resp := f.do(t, http.MethodPost, "/api/v1/logs?name=match.wpilog", logWithDouble("/v", 7, 1.25))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.NotEmpty(t, accepted["job_id"])

	require.Eventually(t, func() bool {
		origin, _ := f.session.Origin()
		return origin == session.OriginLog
	}, 5*time.Second, 10*time.Millisecond)

	var v valueResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/value?path=/v&ts=7", &v))
	assert.Equal(t, 1.25, v.Value)

	var info sessionResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/session", &info))
	assert.Equal(t, "log", info.Origin)
	assert.Equal(t, "match.wpilog", info.Name)

	resp = f.do(t, http.MethodPost, "/api/v1/logs", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServer_UploadTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadSize = 8
	f := newFixture(t, cfg)

	resp := f.do(t, http.MethodPost, "/api/v1/logs?name=big", make([]byte, 9))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestServer_Changes(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/v1/changes?path=/drive"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the handler subscribes after the upgrade completes, so keep writing
	// until the first event arrives
	src := f.session.Source()
	msgs := make(chan []streamMessage, 8)
	go func() {
		for {
			var batch []streamMessage
			if err := conn.ReadJSON(&batch); err != nil {
				close(msgs)
				return
			}
			select {
			case msgs <- batch:
			case <-time.After(time.Second):
			}
		}
	}()

	var got []streamMessage
	deadline := time.After(5 * time.Second)
	for ts := int64(1); len(got) == 0; ts++ {
		require.NoError(t, src.Update("/elevator/height", 0.5, ts))
		require.NoError(t, src.Update("/drive/speed", 1.0, ts))
		select {
		case batch := <-msgs:
			got = append(got, batch...)
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("timeout waiting for change event")
		}
	}
	for _, m := range got {
		assert.Equal(t, "change", m.Type)
		assert.True(t, strings.HasPrefix(m.Path, "/drive"), m.Path)
	}

	_, err = f.session.OpenLog(t.Context(), "swap.wpilog", logWithDouble("/x", 1, 1))
	require.NoError(t, err)

	for {
		select {
		case batch, ok := <-msgs:
			require.True(t, ok, "stream closed")
			for _, m := range batch {
				if m.Type == "swap" {
					assert.Equal(t, "log", m.Origin)
					return
				}
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for swap frame")
		}
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	var status health.Status
	require.Equal(t, http.StatusOK, f.get(t, "/health", &status))
	assert.True(t, status.IsHealthy())

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ntscope_gateway_requests_total")
}

func TestServer_RequestIDEcho(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/api/v1/playback", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc123", resp.Header.Get("X-Request-ID"))
}

func TestServer_CORS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableCORS = true
	cfg.CORSOrigins = []string{"http://viewer.local"}
	f := newFixture(t, cfg)

	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/api/v1/value", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://viewer.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://viewer.local", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestNewServer_InvalidConfig(t *testing.T) {
	sess := session.New(session.DefaultConfig())

	_, err := NewServer(Config{EnableCORS: true}, sess)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewServer(DefaultConfig(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestServer_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	sess := session.New(session.DefaultConfig())
	srv, err := NewServer(cfg, sess)
	require.NoError(t, err)

	require.NoError(t, srv.Start(t.Context()))
	assert.Error(t, srv.Start(t.Context()))

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/playback")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(time.Second))
	require.NoError(t, srv.Stop(time.Second))
}

func TestJSONValue(t *testing.T) {
	v := jsonValue(map[string]any{
		"a": math.NaN(),
		"b": []float64{1, math.Inf(1)},
		"c": []any{float32(math.Inf(-1)), "x"},
	})
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"NaN","b":[1,"Infinity"],"c":["-Infinity","x"]}`, string(data))
}

// logWithDouble builds a WPILOG holding one double entry with one sample.
func logWithDouble(name string, ts byte, v float64) []byte {
	out := []byte("WPILOG")
	out = binary.LittleEndian.AppendUint16(out, 0x0100)
	out = binary.LittleEndian.AppendUint32(out, 0)

	str := func(p []byte, s string) []byte {
		p = binary.LittleEndian.AppendUint32(p, uint32(len(s)))
		return append(p, s...)
	}
	start := binary.LittleEndian.AppendUint32([]byte{0}, 1)
	start = str(start, name)
	start = str(start, "double")
	start = str(start, "")
	out = append(out, 0, 0, byte(len(start)), 0)
	out = append(out, start...)

	payload := binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))
	out = append(out, 0, 1, byte(len(payload)), ts)
	return append(out, payload...)
}
