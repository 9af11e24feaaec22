package client

import (
	"encoding/json"
	"fmt"

	domain "github.com/example/campus-presence/domain/presence"
	"github.com/example/campus-presence/modules/presence"
)

// inFrame is a server-to-client frame as received.
type inFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func parseWelcome(raw []byte) (string, error) {
	var f inFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("malformed welcome frame: %w", err)
	}
	if f.Type != presence.OutConnected {
		return "", fmt.Errorf("unexpected first frame %q", f.Type)
	}
	var p presence.ConnectedPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return "", fmt.Errorf("malformed welcome payload: %w", err)
	}
	if p.ConnectionID == "" {
		return "", fmt.Errorf("welcome frame missing connection id")
	}
	return p.ConnectionID, nil
}

// readLoop re-emits server events as typed callbacks for the lifetime of
// the connection.
func (s *Session) readLoop(conn wire) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			wasConnected := s.connected && s.conn == conn
			if wasConnected {
				s.connected = false
			}
			s.mu.Unlock()

			if wasConnected && s.events.OnDisconnect != nil {
				s.events.OnDisconnect(err)
			}
			return
		}
		s.dispatch(raw)
	}
}

func (s *Session) dispatch(raw []byte) {
	var f inFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		s.logger.Warn("malformed server frame", "error", err)
		return
	}

	switch f.Type {
	case presence.OutNewMessage:
		var msg domain.Message
		if s.unmarshal(f.Payload, &msg) && s.events.OnNewMessage != nil {
			s.events.OnNewMessage(msg)
		}

	case presence.OutUserJoined:
		var p presence.UserJoinedPayload
		if s.unmarshal(f.Payload, &p) && s.events.OnUserJoined != nil {
			s.events.OnUserJoined(p.RoomID, p.User)
		}

	case presence.OutUserLeft:
		var p presence.UserLeftPayload
		if s.unmarshal(f.Payload, &p) && s.events.OnUserLeft != nil {
			s.events.OnUserLeft(p.RoomID, p.User)
		}

	case presence.OutUserTyping:
		var p presence.UserTypingPayload
		if s.unmarshal(f.Payload, &p) && s.events.OnUserTyping != nil {
			s.events.OnUserTyping(p.RoomID, p.UserID, p.UserName, p.IsTyping)
		}

	case presence.OutRoomUsers:
		var p presence.RoomUsersPayload
		if s.unmarshal(f.Payload, &p) && s.events.OnRoomUsers != nil {
			s.events.OnRoomUsers(p.RoomID, p.Users)
		}

	case presence.OutPrivateMessage:
		var msg domain.Message
		if s.unmarshal(f.Payload, &msg) && s.events.OnPrivateMessage != nil {
			s.events.OnPrivateMessage(msg)
		}

	case presence.OutPrivateMessageSent:
		var msg domain.Message
		if s.unmarshal(f.Payload, &msg) && s.events.OnPrivateMessageSent != nil {
			s.events.OnPrivateMessageSent(msg)
		}

	case presence.OutError:
		if s.events.OnError != nil {
			s.events.OnError(f.Error)
		}

	case presence.OutConnected:
		// Already consumed during Connect; a duplicate is harmless.

	default:
		s.logger.Debug("unhandled server frame", "type", f.Type)
	}
}

func (s *Session) unmarshal(raw json.RawMessage, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("malformed server payload", "error", err)
		return false
	}
	return true
}
