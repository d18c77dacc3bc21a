package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Conversation struct {
	Id         int       `json:"id"`
	ExternalId string    `json:"external_id"`
	PeerA      User      `json:"peer_a"`
	PeerB      User      `json:"peer_b"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// MessageStatus is the delivery state of a message. States are ordered:
// a message never moves backwards from read to delivered.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank returns the ordering of a status for monotonic updates. Unknown
// statuses rank below sent.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

type Message struct {
	Id             string        `json:"id"`
	ConversationId string        `json:"conversation_id"`
	SenderId       int           `json:"sender_id"`
	RecipientId    int           `json:"recipient_id"`
	Content        string        `json:"content,omitempty"`
	VoiceUrl       string        `json:"voice_url,omitempty"`
	Status         MessageStatus `json:"status"`
	Edited         bool          `json:"edited,omitempty"`
	Deleted        bool          `json:"deleted,omitempty"`
	Pinned         bool          `json:"pinned,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// CallOutcome is the terminal disposition of a call record.
type CallOutcome string

const (
	CallMissed    CallOutcome = "missed"
	CallRejected  CallOutcome = "rejected"
	CallCompleted CallOutcome = "completed"
)

type Call struct {
	Id        int         `json:"id"`
	CallerId  int         `json:"caller_id"`
	CalleeId  int         `json:"callee_id"`
	AudioOnly bool        `json:"audio_only"`
	Outcome   CallOutcome `json:"outcome"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at,omitempty"`
}
