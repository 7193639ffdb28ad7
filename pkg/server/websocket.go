package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/aeolun/wschat/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts requests without an Origin header (non-browser clients)
// and browsers whose origin is allow-listed
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.config.AllowedOrigins
	if len(allowed) == 0 || lo.Contains(allowed, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || lo.Contains(allowed, origin)
}

// HandleWebSocket upgrades HTTP connection to WebSocket and handles it as a session
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written an HTTP error
		debugLog.Printf("WebSocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	transport := newWSTransport(ws, s.config.WriteTimeout)
	sess := newSession(uuid.NewString(), transport)

	// Pongs only count once the client is registered
	ws.SetPongHandler(func(string) error {
		s.registry.MarkAlive(sess.ID)
		return nil
	})

	if !s.trackSession(sess) {
		_ = transport.Close(protocol.CloseNormalClosure, protocol.ErrMsgServerShutdown)
		return
	}
	debugLog.Printf("WebSocket connection from %s (session %s)", transport.RemoteAddr(), sess.ID)

	sess.armAuthDeadline(s.config.AuthTimeout, func() {
		s.rejectUnauthenticated(sess, ErrAuthTimeout)
	})

	go s.messageLoop(sess, ws)
}

// messageLoop reads frames until the connection ends. It owns the session's
// cleanup and reports panics as server faults.
func (s *Server) messageLoop(sess *Session, ws *websocket.Conn) {
	defer s.wg.Done()
	defer s.closeSession(sess)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("session %s: panic in message loop: %v", sess.ID, r)
			errorLog.Printf("%v\n%s", err, debug.Stack())
			s.reportFault(err)
		}
	}()

	limit := s.config.readLimit()
	for {
		messageType, r, err := ws.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				debugLog.Printf("Session %s read error: %v", sess.ID, err)
			} else {
				debugLog.Printf("Session %s disconnected", sess.ID)
			}
			return
		}

		if messageType != websocket.TextMessage {
			if _, err := io.Copy(io.Discard, r); err != nil {
				debugLog.Printf("Session %s read error: %v", sess.ID, err)
				return
			}
			s.sendError(sess, protocol.ErrMsgInvalidMessageType)
			continue
		}

		data, err := readFrame(r, limit)
		if errors.Is(err, errFrameTooLarge) {
			s.handleOversizedFrame(sess)
			continue
		}
		if err != nil {
			debugLog.Printf("Session %s read error: %v", sess.ID, err)
			return
		}
		s.handleMessage(sess, data)
	}
}

var errFrameTooLarge = errors.New("frame exceeds read limit")

// readFrame reads at most limit bytes of a frame. Anything longer is drained
// and reported as errFrameTooLarge, leaving the connection usable.
func readFrame(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) <= limit {
		return data, nil
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return nil, errFrameTooLarge
}

// closeSession runs once the read loop has ended
func (s *Server) closeSession(sess *Session) {
	prev := sess.markClosed()
	if _, ok := prev.(stateAuthenticated); ok {
		s.registry.Unregister(sess.ID)
	}
	_ = sess.transport.Terminate()

	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	s.metrics.RecordSessionClosed()
	debugLog.Printf("Session %s closed after %v", sess.ID, time.Since(sess.OpenedAt).Round(time.Millisecond))
}
