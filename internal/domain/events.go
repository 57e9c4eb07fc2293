package domain

// WebSocket message types from client.
const (
	MsgTypeJoin        = "join"
	MsgTypeSwitchSpace = "switch_space"
	MsgTypeStartDirect = "start_direct"
	MsgTypeEndDirect   = "end_direct"
	MsgTypeSendMessage = "send_message"
	MsgTypePing        = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeJoined        = "joined"
	MsgTypeSpaceChanged  = "space_changed"
	MsgTypeDirectStarted = "direct_started"
	MsgTypeDirectClosed  = "direct_closed"
	MsgTypeSpaceUsers    = "space_users"
	MsgTypeAllUsers      = "all_users"
	MsgTypeChatHistory   = "chat_history"
	MsgTypeDirectHistory = "direct_history"
	MsgTypeMessage       = "message"
	MsgTypeDirectMessage = "direct_message"
	MsgTypeDirectPreview = "direct_preview"
	MsgTypeError         = "error"
	MsgTypePong          = "pong"
)

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeSendFailed    = "SEND_FAILED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type JoinMessage struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
	Space    string `json:"space,omitempty"`
}

type SwitchSpaceMessage struct {
	Type  string `json:"type"`
	Space string `json:"space"`
}

type StartDirectMessage struct {
	Type string `json:"type"`
	Peer string `json:"peer"`
}

type EndDirectMessage struct {
	Type  string `json:"type"`
	Space string `json:"space,omitempty"`
}

type SendMessageWS struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Image   string `json:"image,omitempty"`
}

// Server -> Client messages

type JoinedMessage struct {
	Type  string `json:"type"`
	Space string `json:"space"`
}

type SpaceChangedMessage struct {
	Type  string `json:"type"`
	Space string `json:"space"`
}

type DirectStartedMessage struct {
	Type         string `json:"type"`
	Peer         string `json:"peer"`
	Conversation string `json:"conversation"`
}

type DirectClosedMessage struct {
	Type  string `json:"type"`
	Space string `json:"space"`
}

type SpaceUsersMessage struct {
	Type  string      `json:"type"`
	Space string      `json:"space"`
	Users []SpaceUser `json:"users"`
}

type AllUsersMessage struct {
	Type  string     `json:"type"`
	Users []Identity `json:"users"`
}

type ChatHistoryMessage struct {
	Type     string    `json:"type"`
	Space    string    `json:"space"`
	Messages []Message `json:"messages"`
}

type DirectHistoryMessage struct {
	Type     string    `json:"type"`
	Peer     string    `json:"peer"`
	Messages []Message `json:"messages"`
}

type MessageOut struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

type DirectPreviewMessage struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Preview string `json:"preview"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
