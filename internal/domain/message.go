package domain

import "time"

// MessageKind distinguishes space messages from direct messages.
type MessageKind string

const (
	MessageKindSpace  MessageKind = "space"
	MessageKindDirect MessageKind = "direct"
)

// Message is one persisted chat utterance. A direct message's
// conversation is the unordered pair {Sender, Recipient}: two messages
// with swapped sender/recipient belong to the same conversation.
type Message struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient,omitempty"`
	Space     string      `json:"space,omitempty"`
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content,omitempty"`
	Image     string      `json:"image,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Sender    string    `gorm:"type:varchar(50);index;not null"`
	Recipient string    `gorm:"type:varchar(50);index"`
	Space     string    `gorm:"type:varchar(100);index"`
	Kind      string    `gorm:"type:varchar(10);index;not null"`
	Content   string    `gorm:"type:text"`
	Image     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:        m.ID,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Space:     m.Space,
		Kind:      MessageKind(m.Kind),
		Content:   m.Content,
		Image:     m.Image,
		CreatedAt: m.CreatedAt,
	}
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Space:     msg.Space,
		Kind:      string(msg.Kind),
		Content:   msg.Content,
		Image:     msg.Image,
		CreatedAt: msg.CreatedAt,
	}
}
