package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Conversation struct {
	Id         int
	ExternalId string
	PeerAId    int
	PeerBId    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Message struct {
	Seq            int
	Id             string
	ConversationId int
	SenderId       int
	RecipientId    int
	Content        string
	VoiceUrl       string
	Status         string
	Edited         bool
	Deleted        bool
	Pinned         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Call struct {
	Id        int
	CallerId  int
	CalleeId  int
	AudioOnly bool
	Outcome   string
	StartedAt time.Time
	EndedAt   time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	PasswordHash string
}

type CreateConversationParams struct {
	ExternalId string
	PeerAId    int
	PeerBId    int
}

type CreateCallParams struct {
	CallerId  int
	CalleeId  int
	AudioOnly bool
	Outcome   string
	StartedAt time.Time
}
