package server

import (
	"context"
	"errors"
	"log"

	"github.com/aeolun/wschat/pkg/database"
	"github.com/aeolun/wschat/pkg/protocol"
	"github.com/samber/lo"
)

// handleMessage dispatches one inbound text frame according to the session state
func (s *Server) handleMessage(sess *Session, raw []byte) {
	in, err := protocol.DecodeInbound(raw)
	if err != nil {
		debugLog.Printf("Session %s: rejected envelope: %v", sess.ID, err)
		s.sendError(sess, protocol.ErrMsgInvalidMessageType)
		return
	}
	s.metrics.RecordMessageReceived(in.Type)

	switch st := sess.currentState().(type) {
	case stateUnauthenticated:
		if in.Type != protocol.TypeJoin {
			s.rejectUnauthenticated(sess, ErrAuthRequired)
			return
		}
		s.handleJoin(sess, safeDeref(in.Username, ""))
	case stateAuthenticated:
		if in.Type != protocol.TypeMessage {
			s.sendError(sess, protocol.ErrMsgInvalidMessageType)
			return
		}
		s.handlePostMessage(sess, st.username, safeDeref(in.Message, ""))
	case stateClosed:
		// late frame after close, nothing to do
	}
}

// handleOversizedFrame answers a frame too large to decode. It cannot be a
// valid join, so an unauthenticated session is closed.
func (s *Server) handleOversizedFrame(sess *Session) {
	debugLog.Printf("Session %s: %v", sess.ID, errFrameTooLarge)
	switch sess.currentState().(type) {
	case stateUnauthenticated:
		s.rejectUnauthenticated(sess, ErrAuthRequired)
	case stateAuthenticated:
		s.sendError(sess, protocol.ErrMsgMessageTooLong)
	}
}

// handleJoin handles the one-time JOIN handshake
func (s *Server) handleJoin(sess *Session, username string) {
	if err := s.validator.Username(username); err != nil {
		debugLog.Printf("Session %s: join rejected: %v", sess.ID, err)
		if sess.closeIfUnauthenticated() {
			sess.cancelAuthDeadline()
			s.metrics.RecordAuthFailure("username")
			s.sendError(sess, validationMessage(err))
			_ = sess.transport.Close(protocol.ClosePolicyViolation, validationMessage(err))
		}
		return
	}

	joined, err := sess.authenticate(username, func() error {
		_, err := s.registry.Register(sess.ID, username, sess.transport)
		return err
	})
	if err != nil {
		errorLog.Printf("Session %s: failed to register: %v", sess.ID, err)
		s.sendError(sess, protocol.ErrMsgInternalError)
		return
	}
	if !joined {
		// the auth deadline won the race
		return
	}
	sess.cancelAuthDeadline()
	log.Printf("Session %s joined as %q from %s", sess.ID, username, sess.transport.RemoteAddr())

	// History goes to this connection only. A broadcast that lands between
	// Register and Recent may show up twice, but never goes missing.
	ctx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
	defer cancel()

	recent, err := s.store.Recent(ctx, s.config.HistoryLimit)
	if err != nil {
		errorLog.Printf("Session %s: failed to load history: %v", sess.ID, err)
		s.sendError(sess, protocol.ErrMsgDatabaseError)
		return
	}

	entries := lo.Map(recent, func(m database.ChatMessage, _ int) protocol.HistoryEntry {
		return protocol.HistoryEntry{
			Username:  m.Username,
			Message:   m.Body,
			Timestamp: protocol.FormatTimestamp(m.CreatedAt),
		}
	})
	if err := s.registry.SendTo(sess.ID, protocol.NewHistory(entries)); err != nil {
		debugLog.Printf("Session %s: failed to send history: %v", sess.ID, err)
	}
}

// handlePostMessage persists a chat message and fans it out to every client
func (s *Server) handlePostMessage(sess *Session, username, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
	defer cancel()

	msg, err := s.store.Append(ctx, username, body)
	if err != nil {
		if errors.Is(err, database.ErrValidation) {
			s.sendError(sess, validationMessage(err))
			return
		}
		errorLog.Printf("Session %s: failed to store message: %v", sess.ID, err)
		s.sendError(sess, protocol.ErrMsgDatabaseError)
		return
	}
	s.metrics.RecordMessageStored()

	result, err := s.registry.Broadcast(protocol.NewBroadcast(msg.Username, msg.Body, msg.CreatedAt))
	if err != nil {
		errorLog.Printf("Session %s: broadcast failed: %v", sess.ID, err)
		return
	}
	debugLog.Printf("Message %d from %q delivered to %d/%d clients", msg.ID, username, result.Delivered, result.Recipients)
}

// rejectUnauthenticated sends the error event and closes with 1008
func (s *Server) rejectUnauthenticated(sess *Session, reason error) {
	if !sess.closeIfUnauthenticated() {
		return
	}
	sess.cancelAuthDeadline()

	text := protocol.ErrMsgAuthRequired
	label := "required"
	if errors.Is(reason, ErrAuthTimeout) {
		text = protocol.ErrMsgAuthTimeout
		label = "timeout"
	}
	s.metrics.RecordAuthFailure(label)
	debugLog.Printf("Session %s: %v", sess.ID, reason)

	s.sendError(sess, text)
	_ = sess.transport.Close(protocol.ClosePolicyViolation, text)
}

// sendError sends an ERROR event directly on the session transport
func (s *Server) sendError(sess *Session, message string) {
	if !sess.transport.IsOpen() {
		return
	}
	data, err := protocol.Encode(protocol.NewError(message))
	if err != nil {
		errorLog.Printf("Session %s: failed to encode error: %v", sess.ID, err)
		return
	}
	if err := sess.transport.Send(data); err != nil {
		debugLog.Printf("Session %s: failed to send error %q: %v", sess.ID, message, err)
	}
}

// validationMessage maps a validation failure to the text sent to clients
func validationMessage(err error) string {
	var verr *database.ValidationError
	if !errors.As(err, &verr) {
		return protocol.ErrMsgInternalError
	}
	switch verr.Reason {
	case database.ReasonInvalidUsername:
		return protocol.ErrMsgInvalidUsername
	case database.ReasonUsernameTooLong:
		return protocol.ErrMsgUsernameTooLong
	case database.ReasonEmptyMessage:
		return protocol.ErrMsgEmptyMessage
	case database.ReasonMessageTooLong:
		return protocol.ErrMsgMessageTooLong
	default:
		return protocol.ErrMsgInternalError
	}
}
