package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/observe"
	"github.com/poirierunited/get-ahead-ai/internal/session"
)

// Client message types.
const (
	msgStart      = "start"
	msgDisconnect = "disconnect"
	msgBack       = "back"
)

// Server message types.
const (
	msgState      = "state"
	msgTranscript = "transcript"
	msgSpeaking   = "speaking"
	msgRedirect   = "redirect"
)

type clientMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	State     string `json:"state,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Speaking  *bool  `json:"speaking,omitempty"`
	Path      string `json:"path,omitempty"`
}

// peer relays controller changes to the browser. It implements
// [session.Observer].
type peer struct {
	conn *websocket.Conn
	log  *slog.Logger
}

func (p *peer) send(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := p.conn.Write(ctx, websocket.MessageText, data); err != nil {
		p.log.Debug("api: session message dropped", "type", msg.Type, "err", err)
	}
}

// Changed pushes state, new final turns and speaking changes.
func (p *peer) Changed(prev, next session.Snapshot) {
	if prev.State != next.State {
		p.send(serverMessage{Type: msgState, State: next.State.String()})
	}
	for _, t := range next.Turns[min(len(prev.Turns), len(next.Turns)):] {
		p.send(serverMessage{Type: msgTranscript, Role: string(t.Role), Content: t.Content})
	}
	if prev.Speaking != next.Speaking {
		speaking := next.Speaking
		p.send(serverMessage{Type: msgSpeaking, Speaking: &speaking})
	}
}

// Navigate pushes the redirect target.
func (p *peer) Navigate(path string) {
	p.send(serverMessage{Type: msgRedirect, Path: path})
}

var _ session.Observer = (*peer)(nil)

// handleSession handles GET /interviews/{interviewID}/session?userId=. It
// upgrades to a websocket that carries one voice session: text frames are
// control messages, binary frames are caller audio in and assistant audio
// out. Closing the socket tears the session down; a submission already under
// way still completes.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, r, feedback.ValidationFault("userId is required", nil))
		return
	}
	iv, err := s.lookupInterview(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		// Accept has already written the response.
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	log := observe.Logger(r.Context())
	snap := session.NewSnapshot(uuid.NewString(), iv, userID, s.language(r))
	ch := s.cfg.Voice.NewChannel()
	p := &peer{conn: conn, log: log}
	ctrl := session.NewController(s.cfg.Machine(), ch, s.cfg.Submitter(r), snap,
		session.WithObserver(p),
		session.WithMetrics(s.cfg.Metrics),
		session.WithLogger(log),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if s.cfg.Sessions != nil {
		s.cfg.Sessions.Add(ctrl, cancel)
		defer s.cfg.Sessions.Remove(snap.ID)
	}

	p.send(serverMessage{Type: msgState, SessionID: snap.ID, State: snap.State.String()})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		s.readClient(ctx, conn, ctrl, ch.SendAudio)
	}()
	go func() {
		defer wg.Done()
		pumpAudio(ctx, conn, ch.Audio())
	}()

	if err := ctrl.Run(ctx); err != nil {
		log.Warn("api: session run failed", "err", err)
	}

	// Close before cancelling so the reader sees the close handshake rather
	// than a torn connection.
	final := ctrl.Snapshot()
	if final.Done() {
		conn.Close(websocket.StatusNormalClosure, "session over")
	} else {
		conn.Close(websocket.StatusGoingAway, "session cancelled")
	}
	cancel()
	wg.Wait()
	log.Info("api: session closed", "session_id", snap.ID, "state", final.State, "turns", len(final.Turns))
}

// readClient reads control messages and caller audio until the socket closes
// or ctx is done.
func (s *Server) readClient(ctx context.Context, conn *websocket.Conn, ctrl *session.Controller, sendAudio func([]byte) error) {
	log := observe.Logger(ctx)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				log.Debug("api: session read ended", "err", err)
			}
			return
		}
		if typ == websocket.MessageBinary {
			if err := sendAudio(data); err != nil {
				log.Debug("api: caller audio dropped", "err", err)
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug("api: malformed client message", "err", err)
			continue
		}
		var ev session.Event
		switch msg.Type {
		case msgStart:
			ev = session.CallRequested{}
		case msgDisconnect:
			ev = session.UserDisconnected{At: time.Now()}
		case msgBack:
			ev = session.UserBackedOut{}
		default:
			log.Debug("api: unknown client message", "type", msg.Type)
			continue
		}
		if !ctrl.Dispatch(ev) {
			return
		}
	}
}

// pumpAudio forwards assistant audio to the socket until the stream closes or
// ctx is done.
func pumpAudio(ctx context.Context, conn *websocket.Conn, audio <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-audio:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		}
	}
}
