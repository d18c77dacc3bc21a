package database

import "time"

type RelayRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	GetAccountByUsername(username string) (User, error)
	CreateConversation(params CreateConversationParams) (Conversation, error)
	GetConversationByExternalId(externalId string) (Conversation, error)
	GetConversationByPeers(peerAId, peerBId int) (Conversation, error)
	ListConversations(accountId int) ([]Conversation, error)
	CreateMessage(msg Message) error
	GetMessage(id string) (Message, error)
	UpdateMessageStatus(id, status string) error
	UpdateMessageContent(id, content string) error
	SetMessageDeleted(id string) error
	SetMessagePinned(id string, pinned bool) error
	GetMessages(conversationId, before, after, limit int) ([]Message, error)
	CreateCall(params CreateCallParams) (Call, error)
	UpdateCallOutcome(id int, outcome string, endedAt time.Time) error
	ListCalls(accountId, limit int) ([]Call, error)
}
