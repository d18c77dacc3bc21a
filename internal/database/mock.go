package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRelayRepository struct {
	mock.Mock
}

func (m *MockRelayRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRelayRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRelayRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRelayRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRelayRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRelayRepository) GetAccountByUsername(username string) (User, error) {
	args := m.Called(username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRelayRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	args := m.Called(params)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRelayRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	args := m.Called(externalId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRelayRepository) GetConversationByPeers(peerAId, peerBId int) (Conversation, error) {
	args := m.Called(peerAId, peerBId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRelayRepository) ListConversations(accountId int) ([]Conversation, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Conversation), args.Error(1)
}
func (m *MockRelayRepository) CreateMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockRelayRepository) GetMessage(id string) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRelayRepository) UpdateMessageStatus(id, status string) error {
	args := m.Called(id, status)
	return args.Error(0)
}
func (m *MockRelayRepository) UpdateMessageContent(id, content string) error {
	args := m.Called(id, content)
	return args.Error(0)
}
func (m *MockRelayRepository) SetMessageDeleted(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRelayRepository) SetMessagePinned(id string, pinned bool) error {
	args := m.Called(id, pinned)
	return args.Error(0)
}
func (m *MockRelayRepository) GetMessages(conversationId, before, after, limit int) ([]Message, error) {
	args := m.Called(conversationId, before, after, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRelayRepository) CreateCall(params CreateCallParams) (Call, error) {
	args := m.Called(params)
	return args.Get(0).(Call), args.Error(1)
}
func (m *MockRelayRepository) UpdateCallOutcome(id int, outcome string, endedAt time.Time) error {
	args := m.Called(id, outcome, endedAt)
	return args.Error(0)
}
func (m *MockRelayRepository) ListCalls(accountId, limit int) ([]Call, error) {
	args := m.Called(accountId, limit)
	return args.Get(0).([]Call), args.Error(1)
}
