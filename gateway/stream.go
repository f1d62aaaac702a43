package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/ntscope/fieldstore"
	"github.com/c360/ntscope/pkg/buffer"
	"github.com/c360/ntscope/session"
)

const (
	streamBatch  = 256
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
)

// streamMessage is one change-stream frame. Type "change" carries a field
// change; "swap" announces that the session replaced its source, after
// which clients should re-read the tree.
type streamMessage struct {
	Type   string `json:"type"`
	Path   string `json:"path,omitempty"`
	Kind   string `json:"kind,omitempty"`
	TS     int64  `json:"ts,omitempty"`
	Origin string `json:"origin,omitempty"`
}

func changeMessage(ev fieldstore.ChangeEvent) streamMessage {
	return streamMessage{Type: "change", Path: fieldPath(ev.Path), Kind: ev.Kind.String(), TS: ev.TS}
}

// changeStream forwards change events under one path to a websocket
// client. Events queue in a ring that drops the oldest when the client
// falls behind, so store writers never wait on the network.
type changeStream struct {
	server *Server
	conn   *websocket.Conn
	path   string
	ring   *buffer.Ring[streamMessage]

	mu     sync.Mutex
	cancel func()
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("change stream upgrade failed", "error", err)
		return
	}

	ring, err := buffer.NewRing[streamMessage](s.cfg.StreamBuffer,
		buffer.WithDropCallback[streamMessage](func(streamMessage) { s.metrics.dropped() }))
	if err != nil {
		_ = conn.Close()
		return
	}

	st := &changeStream{server: s, conn: conn, path: path, ring: ring}
	s.streams.Add(1)
	defer s.streams.Done()
	s.metrics.clients(1)
	defer s.metrics.clients(-1)

	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	st.run(base)
}

func (st *changeStream) subscribe(src *fieldstore.Source) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cancel != nil {
		st.cancel()
	}
	st.cancel = src.Subscribe(st.path, func(ev fieldstore.ChangeEvent) {
		_ = st.ring.Write(changeMessage(ev))
	})
}

func (st *changeStream) unsubscribe() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
}

func (st *changeStream) run(base context.Context) {
	ctx, cancel := context.WithCancel(base)
	defer cancel()
	defer st.conn.Close()
	defer st.ring.Close()

	st.subscribe(st.server.sessions.Source())
	defer st.unsubscribe()
	stopSwaps := st.server.sessions.OnSwap(func(src *fieldstore.Source, origin session.Origin) {
		st.subscribe(src)
		_ = st.ring.Write(streamMessage{Type: "swap", Origin: string(origin)})
	})
	defer stopSwaps()

	// the read loop only consumes control frames and notices disconnects
	go func() {
		defer cancel()
		_ = st.conn.SetReadDeadline(time.Now().Add(pongWait))
		st.conn.SetPongHandler(func(string) error {
			return st.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := st.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			st.closeFrame()
			return
		case <-ping.C:
			if err := st.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-st.ring.Ready():
			if err := st.flush(); err != nil {
				st.server.logger.Debug("change stream write failed", "error", err)
				return
			}
		}
	}
}

// flush sends everything queued, one JSON array per batch.
func (st *changeStream) flush() error {
	for {
		batch := st.ring.ReadBatch(streamBatch)
		if len(batch) == 0 {
			return nil
		}
		data, err := json.Marshal(batch)
		if err != nil {
			return err
		}
		if err := st.write(websocket.TextMessage, data); err != nil {
			return err
		}
	}
}

func (st *changeStream) write(msgType int, data []byte) error {
	_ = st.conn.SetWriteDeadline(time.Now().Add(st.server.cfg.WriteTimeout))
	return st.conn.WriteMessage(msgType, data)
}

func (st *changeStream) closeFrame() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = st.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
