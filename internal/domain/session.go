package domain

import "time"

// SessionMode says whether a connection is currently talking to a space
// or to a single peer.
type SessionMode string

const (
	ModeSpace  SessionMode = "space"
	ModeDirect SessionMode = "direct"
)

// Session is the live, connection-scoped state of one websocket
// connection. Sessions exist only in memory; a restart loses them all.
// Exactly one of Space (ModeSpace) or Peer/ConversationID (ModeDirect)
// is meaningful at a time.
type Session struct {
	ConnectionID   string
	Nickname       string
	Mode           SessionMode
	Space          string
	Peer           string
	ConversationID string
	JoinedAt       time.Time
}

// NewSpaceSession creates a session joined to a space.
func NewSpaceSession(connectionID, nickname, space string) Session {
	return Session{
		ConnectionID: connectionID,
		Nickname:     nickname,
		Mode:         ModeSpace,
		Space:        space,
		JoinedAt:     time.Now(),
	}
}

// EnterSpace returns a copy of the session moved into the given space.
func (s Session) EnterSpace(space string) Session {
	s.Mode = ModeSpace
	s.Space = space
	s.Peer = ""
	s.ConversationID = ""
	return s
}

// EnterConversation returns a copy of the session moved into a direct
// conversation with peer.
func (s Session) EnterConversation(peer, conversationID string) Session {
	s.Mode = ModeDirect
	s.Space = ""
	s.Peer = peer
	s.ConversationID = conversationID
	return s
}

// InSpace reports whether the session is in ModeSpace for the given space.
func (s Session) InSpace(space string) bool {
	return s.Mode == ModeSpace && s.Space == space
}

// InConversation reports whether the session is in ModeDirect for the
// given conversation.
func (s Session) InConversation(conversationID string) bool {
	return s.Mode == ModeDirect && s.ConversationID == conversationID
}

// SpaceUser is one roster entry of a space.
type SpaceUser struct {
	ConnectionID string `json:"connection_id"`
	Nickname     string `json:"nickname"`
}

// Identity is one entry of the global connected-users list.
type Identity struct {
	Nickname string `json:"nickname"`
}
