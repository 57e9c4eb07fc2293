package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Chat
	FieldConnectionID = "connection_id"
	FieldNickname     = "nickname"
	FieldSpace        = "space"
	FieldPeer         = "peer"
	FieldConversation = "conversation"
	FieldMessageID    = "message_id"

	// Service
	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
