package relay

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/registry"
	"github.com/npezzotti/go-relay/internal/stats"
	"github.com/npezzotti/go-relay/internal/testutil"
	"github.com/npezzotti/go-relay/internal/types"
)

// newTestRelayServer creates a RelayServer instance for testing purposes
func newTestRelayServer(t *testing.T, db database.RelayRepository, su *stats.MockStatsUpdater) *RelayServer {
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	rs, err := NewRelayServer(logger, db, registry.NewMemoryRegistry(), nil, su)
	if err != nil {
		t.Fatalf("failed to create test RelayServer: %v", err)
	}
	return rs
}

// newTestClient builds an identified-capable client without a live
// websocket connection.
func newTestClient(t *testing.T, rs *RelayServer, user types.User) *Client {
	return &Client{
		id:     rs.newConnId(),
		server: rs,
		log:    testutil.TestLogger(t),
		user:   user,
		send:   make(chan *ServerMessage, 16),
		stop:   make(chan struct{}),
	}
}

// identify registers a client the way a join event would, without the
// response/broadcast noise.
func identify(t *testing.T, rs *RelayServer, c *Client) {
	t.Helper()
	rs.clients[c] = struct{}{}
	rs.conns[c.id] = c
	if err := rs.registry.Register(context.Background(), c.user.Username, c.id); err != nil {
		t.Fatalf("failed to register test client: %v", err)
	}
}

// drain empties a client's send queue and returns what was queued.
func drain(c *Client) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestNewRelayServer(t *testing.T) {
	db := &database.MockRelayRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	rs, err := NewRelayServer(logger, db, registry.NewMemoryRegistry(), nil, su)
	assert.NoError(t, err, "expected no error creating RelayServer")
	assert.NotNil(t, rs, "expected RelayServer to be non-nil")
	assert.Equal(t, logger, rs.log, "expected logger to be set")
	assert.Equal(t, db, rs.db, "expected database repository to be set")
	assert.NotEmpty(t, rs.instanceId, "expected instance id to be assigned")
	assert.NotNil(t, rs.eventChan, "expected eventChan to be initialized")
	assert.NotNil(t, rs.RegisterChan, "expected RegisterChan to be initialized")
	assert.NotNil(t, rs.deRegisterChan, "expected deRegisterChan to be initialized")
	assert.NotNil(t, rs.clients, "expected clients map to be initialized")
	assert.NotNil(t, rs.conns, "expected conns map to be initialized")
	assert.NotNil(t, rs.calls, "expected calls map to be initialized")
}

func TestRelayServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		rs := newTestRelayServer(t, &database.MockRelayRepository{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		go func() {
			select {
			case req := <-rs.stop:
				assert.NotNil(t, req.done, "expected done channel in stop request")
				close(req.done)
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := rs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		rs := newTestRelayServer(t, &database.MockRelayRepository{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		go func() {
			select {
			case <-rs.stop:
				// do not close req.done to simulate a hang
			case <-time.After(time.Second):
				t.Error("expected signal on stop chan")
			}
		}()

		err := rs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})
}

func TestRelayServerShutdown_Integration(t *testing.T) {
	rs := newTestRelayServer(t, &database.MockRelayRepository{}, &stats.MockStatsUpdater{})
	go rs.Run()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := rs.Shutdown(ctx)
	assert.NoError(t, err, "expected successful shutdown without error")
}

func TestHandleJoin(t *testing.T) {
	t.Run("rejects username mismatch", func(t *testing.T) {
		rs := newTestRelayServer(t, &database.MockRelayRepository{}, &stats.MockStatsUpdater{})
		c := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})

		rs.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Join:        &Join{Username: "mallory"},
			client:      c,
		})

		msgs := drain(c)
		assert.Len(t, msgs, 1, "expected exactly one response")
		assert.Equal(t, http.StatusForbidden, msgs[0].Response.ResponseCode, "expected forbidden response")

		_, ok, err := rs.registry.Lookup(context.Background(), "alice")
		assert.NoError(t, err)
		assert.False(t, ok, "expected no registration for mismatched join")
	})

	t.Run("registers and broadcasts presence", func(t *testing.T) {
		rs := newTestRelayServer(t, &database.MockRelayRepository{}, &stats.MockStatsUpdater{})
		bob := newTestClient(t, rs, types.User{Id: 2, Username: "bob"})
		identify(t, rs, bob)

		alice := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})
		rs.clients[alice] = struct{}{}

		rs.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Join:        &Join{Username: "alice"},
			client:      alice,
		})

		connId, ok, err := rs.registry.Lookup(context.Background(), "alice")
		assert.NoError(t, err)
		assert.True(t, ok, "expected alice to be registered")
		assert.Equal(t, alice.id, connId, "expected alice's connection id in the registry")
		assert.Same(t, alice, rs.conns[alice.id], "expected alice in the local conn table")

		aliceMsgs := drain(alice)
		assert.Len(t, aliceMsgs, 2, "expected join response followed by presence broadcast")
		assert.Equal(t, http.StatusOK, aliceMsgs[0].Response.ResponseCode)
		assert.Equal(t, alice.id, aliceMsgs[0].Response.Data["conn_id"], "expected conn id in join response")
		assert.Contains(t, aliceMsgs[1].Joined, "alice", "expected alice in the presence set")
		assert.Contains(t, aliceMsgs[1].Joined, "bob", "expected bob in the presence set")

		bobMsgs := drain(bob)
		assert.Len(t, bobMsgs, 1, "expected bob to receive the presence broadcast")
		assert.Contains(t, bobMsgs[0].Joined, "alice")
	})

	t.Run("last join wins on reconnect", func(t *testing.T) {
		rs := newTestRelayServer(t, &database.MockRelayRepository{}, &stats.MockStatsUpdater{})

		first := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})
		second := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})
		rs.clients[first] = struct{}{}
		rs.clients[second] = struct{}{}

		for _, c := range []*Client{first, second} {
			rs.handleJoin(&ClientMessage{
				BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
				Join:        &Join{Username: "alice"},
				client:      c,
			})
		}

		connId, ok, err := rs.registry.Lookup(context.Background(), "alice")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, second.id, connId, "expected the newer connection to own the registration")
	})
}

func TestRemoveClient(t *testing.T) {
	t.Run("purges registration and presence", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Decr", statNumConnections).Once()
		defer su.AssertExpectations(t)

		rs := newTestRelayServer(t, &database.MockRelayRepository{}, su)
		c := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})
		identify(t, rs, c)

		rs.removeClient(c)

		_, ok, err := rs.registry.Lookup(context.Background(), "alice")
		assert.NoError(t, err)
		assert.False(t, ok, "expected registration to be removed")
		assert.NotContains(t, rs.conns, c.id, "expected conn table entry to be removed")
		assert.NotContains(t, rs.clients, c, "expected client to be removed")
	})

	t.Run("stale disconnect keeps newer registration", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Decr", statNumConnections).Once()
		defer su.AssertExpectations(t)

		rs := newTestRelayServer(t, &database.MockRelayRepository{}, su)

		old := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})
		identify(t, rs, old)

		newer := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})
		identify(t, rs, newer)

		// the old connection disconnects after the reconnect took over
		rs.removeClient(old)

		connId, ok, err := rs.registry.Lookup(context.Background(), "alice")
		assert.NoError(t, err)
		assert.True(t, ok, "expected alice to still be registered")
		assert.Equal(t, newer.id, connId, "expected the newer registration to survive")
	})

	t.Run("unidentified client is only dropped", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Decr", statNumConnections).Once()
		defer su.AssertExpectations(t)

		rs := newTestRelayServer(t, &database.MockRelayRepository{}, su)
		c := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})
		rs.clients[c] = struct{}{}

		rs.removeClient(c)
		assert.NotContains(t, rs.clients, c)
	})
}

func TestHandleSend(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}
	bobAcct := database.User{Id: 2, Username: "bob"}
	conv := database.Conversation{Id: 7, ExternalId: "conv-abc", PeerAId: 1, PeerBId: 2}

	t.Run("unknown recipient", func(t *testing.T) {
		db := &database.MockRelayRepository{}
		db.On("GetAccountByUsername", "nobody").Return(database.User{}, sql.ErrNoRows)
		defer db.AssertExpectations(t)

		rs := newTestRelayServer(t, db, &stats.MockStatsUpdater{})
		c := newTestClient(t, rs, alice)

		rs.handleSend(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Send:        &SendMessage{To: "nobody", Content: "hi"},
			UserId:      alice.Id,
			client:      c,
		})

		msgs := drain(c)
		assert.Len(t, msgs, 1)
		assert.Equal(t, http.StatusNotFound, msgs[0].Response.ResponseCode, "expected not found for unknown recipient")
	})

	t.Run("delivers to present recipient", func(t *testing.T) {
		db := &database.MockRelayRepository{}
		db.On("GetAccountByUsername", "bob").Return(bobAcct, nil)
		db.On("GetConversationByPeers", 1, 2).Return(conv, nil)
		db.On("CreateMessage", mock.MatchedBy(func(m database.Message) bool {
			return m.ConversationId == conv.Id && m.SenderId == 1 && m.RecipientId == 2 &&
				m.Content == "hello" && m.Status == string(types.StatusSent) && m.Id != ""
		})).Return(nil)
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("Incr", statMessagesRelayed).Once()
		defer su.AssertExpectations(t)

		rs := newTestRelayServer(t, db, su)
		sender := newTestClient(t, rs, alice)
		recipient := newTestClient(t, rs, types.User{Id: 2, Username: "bob"})
		identify(t, rs, recipient)

		rs.handleSend(&ClientMessage{
			BaseMessage: BaseMessage{Id: 3, Timestamp: Now()},
			Send:        &SendMessage{To: "bob", Content: "hello"},
			UserId:      alice.Id,
			client:      sender,
		})

		senderMsgs := drain(sender)
		assert.Len(t, senderMsgs, 1, "expected an acknowledgment to the sender")
		assert.Equal(t, http.StatusOK, senderMsgs[0].Response.ResponseCode)
		assert.NotEmpty(t, senderMsgs[0].Response.Data["message_id"], "expected persisted message id in the ack")
		assert.Equal(t, conv.ExternalId, senderMsgs[0].Response.Data["conversation_id"])

		recipientMsgs := drain(recipient)
		assert.Len(t, recipientMsgs, 1, "expected exactly one message event for the recipient")
		assert.Equal(t, "hello", recipientMsgs[0].Message.Content)
		assert.Equal(t, types.StatusSent, recipientMsgs[0].Message.Status)
		assert.Equal(t, senderMsgs[0].Response.Data["message_id"], recipientMsgs[0].Message.Id,
			"expected the delivered message to carry the persisted id")
	})

	t.Run("absent recipient persists without live delivery", func(t *testing.T) {
		db := &database.MockRelayRepository{}
		db.On("GetAccountByUsername", "bob").Return(bobAcct, nil)
		db.On("GetConversationByPeers", 1, 2).Return(conv, nil)
		db.On("CreateMessage", mock.Anything).Return(nil)
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("Incr", statMessagesRelayed).Once()
		defer su.AssertExpectations(t)

		rs := newTestRelayServer(t, db, su)
		sender := newTestClient(t, rs, alice)

		rs.handleSend(&ClientMessage{
			BaseMessage: BaseMessage{Id: 4, Timestamp: Now()},
			Send:        &SendMessage{To: "bob", Content: "you there?"},
			UserId:      alice.Id,
			client:      sender,
		})

		senderMsgs := drain(sender)
		assert.Len(t, senderMsgs, 1, "expected only the ack, no delivery events")
		assert.Equal(t, http.StatusOK, senderMsgs[0].Response.ResponseCode,
			"expected success ack even though the recipient is offline")
	})

	t.Run("creates conversation on first message", func(t *testing.T) {
		db := &database.MockRelayRepository{}
		db.On("GetAccountByUsername", "bob").Return(bobAcct, nil)
		db.On("GetConversationByPeers", 1, 2).Return(database.Conversation{}, sql.ErrNoRows)
		db.On("CreateConversation", mock.MatchedBy(func(p database.CreateConversationParams) bool {
			return p.PeerAId == 1 && p.PeerBId == 2 && p.ExternalId == "fresh-id"
		})).Return(database.Conversation{Id: 9, ExternalId: "fresh-id", PeerAId: 1, PeerBId: 2}, nil)
		db.On("CreateMessage", mock.Anything).Return(nil)
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("Incr", statMessagesRelayed).Once()
		defer su.AssertExpectations(t)

		rs := newTestRelayServer(t, db, su)
		rs.generateShortId = func() (string, error) { return "fresh-id", nil }
		sender := newTestClient(t, rs, alice)

		rs.handleSend(&ClientMessage{
			BaseMessage: BaseMessage{Id: 5, Timestamp: Now()},
			Send:        &SendMessage{To: "bob", Content: "first"},
			UserId:      alice.Id,
			client:      sender,
		})

		msgs := drain(sender)
		assert.Len(t, msgs, 1)
		assert.Equal(t, http.StatusOK, msgs[0].Response.ResponseCode)
		assert.Equal(t, "fresh-id", msgs[0].Response.Data["conversation_id"])
	})

	t.Run("persistence failure surfaces in the ack", func(t *testing.T) {
		db := &database.MockRelayRepository{}
		db.On("GetAccountByUsername", "bob").Return(bobAcct, nil)
		db.On("GetConversationByPeers", 1, 2).Return(conv, nil)
		db.On("CreateMessage", mock.Anything).Return(errors.New("insert failed"))
		defer db.AssertExpectations(t)

		rs := newTestRelayServer(t, db, &stats.MockStatsUpdater{})
		sender := newTestClient(t, rs, alice)

		rs.handleSend(&ClientMessage{
			BaseMessage: BaseMessage{Id: 6, Timestamp: Now()},
			Send:        &SendMessage{To: "bob", Content: "doomed"},
			UserId:      alice.Id,
			client:      sender,
		})

		msgs := drain(sender)
		assert.Len(t, msgs, 1)
		assert.Equal(t, http.StatusInternalServerError, msgs[0].Response.ResponseCode,
			"expected the persistence failure to be reported to the sender")
	})
}

func TestHandleStatus(t *testing.T) {
	dbMsg := database.Message{
		Id:          "msg-1",
		SenderId:    1,
		RecipientId: 2,
		Status:      string(types.StatusSent),
	}

	t.Run("recipient marks read and sender is notified", func(t *testing.T) {
		db := &database.MockRelayRepository{}
		db.On("GetMessage", "msg-1").Return(dbMsg, nil)
		db.On("UpdateMessageStatus", "msg-1", string(types.StatusRead)).Return(nil)
		db.On("GetAccountById", 1).Return(database.User{Id: 1, Username: "alice"}, nil)
		defer db.AssertExpectations(t)

		rs := newTestRelayServer(t, db, &stats.MockStatsUpdater{})
		sender := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})
		identify(t, rs, sender)
		recipient := newTestClient(t, rs, types.User{Id: 2, Username: "bob"})

		rs.handleStatus(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Status:      &StatusUpdate{MessageId: "msg-1", Status: types.StatusRead},
			UserId:      2,
			client:      recipient,
		})

		recipientMsgs := drain(recipient)
		assert.Len(t, recipientMsgs, 1)
		assert.Equal(t, http.StatusOK, recipientMsgs[0].Response.ResponseCode)

		senderMsgs := drain(sender)
		assert.Len(t, senderMsgs, 1, "expected a status update for the original sender")
		assert.Equal(t, "msg-1", senderMsgs[0].Status.MessageId)
		assert.Equal(t, types.StatusRead, senderMsgs[0].Status.Status)
	})

	t.Run("only the recipient may update status", func(t *testing.T) {
		db := &database.MockRelayRepository{}
		db.On("GetMessage", "msg-1").Return(dbMsg, nil)
		defer db.AssertExpectations(t)

		rs := newTestRelayServer(t, db, &stats.MockStatsUpdater{})
		sender := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})

		rs.handleStatus(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Status:      &StatusUpdate{MessageId: "msg-1", Status: types.StatusRead},
			UserId:      1,
			client:      sender,
		})

		msgs := drain(sender)
		assert.Len(t, msgs, 1)
		assert.Equal(t, http.StatusForbidden, msgs[0].Response.ResponseCode)
	})

	t.Run("status never moves backwards", func(t *testing.T) {
		readMsg := dbMsg
		readMsg.Status = string(types.StatusRead)

		db := &database.MockRelayRepository{}
		db.On("GetMessage", "msg-1").Return(readMsg, nil)
		defer db.AssertExpectations(t)

		rs := newTestRelayServer(t, db, &stats.MockStatsUpdater{})
		recipient := newTestClient(t, rs, types.User{Id: 2, Username: "bob"})

		rs.handleStatus(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Status:      &StatusUpdate{MessageId: "msg-1", Status: types.StatusDelivered},
			UserId:      2,
			client:      recipient,
		})

		msgs := drain(recipient)
		assert.Len(t, msgs, 1)
		assert.Equal(t, http.StatusOK, msgs[0].Response.ResponseCode,
			"expected an OK ack without a database update")
		db.AssertNotCalled(t, "UpdateMessageStatus", mock.Anything, mock.Anything)
	})

	t.Run("rejects invalid status value", func(t *testing.T) {
		rs := newTestRelayServer(t, &database.MockRelayRepository{}, &stats.MockStatsUpdater{})
		recipient := newTestClient(t, rs, types.User{Id: 2, Username: "bob"})

		rs.handleStatus(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Status:      &StatusUpdate{MessageId: "msg-1", Status: types.StatusSent},
			UserId:      2,
			client:      recipient,
		})

		msgs := drain(recipient)
		assert.Len(t, msgs, 1)
		assert.Equal(t, http.StatusBadRequest, msgs[0].Response.ResponseCode)
	})
}

func TestHandleEdit(t *testing.T) {
	dbMsg := database.Message{
		Id:          "msg-2",
		SenderId:    1,
		RecipientId: 2,
		Content:     "typoo",
		Status:      string(types.StatusSent),
	}

	t.Run("sender edits and peer is notified", func(t *testing.T) {
		db := &database.MockRelayRepository{}
		db.On("GetMessage", "msg-2").Return(dbMsg, nil)
		db.On("UpdateMessageContent", "msg-2", "typo").Return(nil)
		db.On("GetAccountById", 2).Return(database.User{Id: 2, Username: "bob"}, nil)
		defer db.AssertExpectations(t)

		rs := newTestRelayServer(t, db, &stats.MockStatsUpdater{})
		sender := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})
		peer := newTestClient(t, rs, types.User{Id: 2, Username: "bob"})
		identify(t, rs, peer)

		rs.handleEdit(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Edit:        &EditMessage{MessageId: "msg-2", Content: "typo"},
			UserId:      1,
			client:      sender,
		})

		senderMsgs := drain(sender)
		assert.Len(t, senderMsgs, 1)
		assert.Equal(t, http.StatusOK, senderMsgs[0].Response.ResponseCode)

		peerMsgs := drain(peer)
		assert.Len(t, peerMsgs, 1)
		assert.Equal(t, "msg-2", peerMsgs[0].Edit.MessageId)
		assert.Equal(t, "typo", peerMsgs[0].Edit.Content)
	})

	t.Run("non-sender may not edit", func(t *testing.T) {
		db := &database.MockRelayRepository{}
		db.On("GetMessage", "msg-2").Return(dbMsg, nil)
		defer db.AssertExpectations(t)

		rs := newTestRelayServer(t, db, &stats.MockStatsUpdater{})
		peer := newTestClient(t, rs, types.User{Id: 2, Username: "bob"})

		rs.handleEdit(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Edit:        &EditMessage{MessageId: "msg-2", Content: "hijack"},
			UserId:      2,
			client:      peer,
		})

		msgs := drain(peer)
		assert.Len(t, msgs, 1)
		assert.Equal(t, http.StatusForbidden, msgs[0].Response.ResponseCode)
	})
}

func TestHandleDelete(t *testing.T) {
	dbMsg := database.Message{
		Id:          "msg-3",
		SenderId:    1,
		RecipientId: 2,
		Status:      string(types.StatusSent),
	}

	db := &database.MockRelayRepository{}
	db.On("GetMessage", "msg-3").Return(dbMsg, nil)
	db.On("SetMessageDeleted", "msg-3").Return(nil)
	db.On("GetAccountById", 2).Return(database.User{Id: 2, Username: "bob"}, nil)
	defer db.AssertExpectations(t)

	rs := newTestRelayServer(t, db, &stats.MockStatsUpdater{})
	sender := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})
	peer := newTestClient(t, rs, types.User{Id: 2, Username: "bob"})
	identify(t, rs, peer)

	rs.handleDelete(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
		Delete:      &DeleteMessage{MessageId: "msg-3"},
		UserId:      1,
		client:      sender,
	})

	senderMsgs := drain(sender)
	assert.Len(t, senderMsgs, 1)
	assert.Equal(t, http.StatusOK, senderMsgs[0].Response.ResponseCode)

	peerMsgs := drain(peer)
	assert.Len(t, peerMsgs, 1)
	assert.Equal(t, "msg-3", peerMsgs[0].Delete.MessageId)
}

func TestHandlePin(t *testing.T) {
	dbMsg := database.Message{
		Id:          "msg-4",
		SenderId:    1,
		RecipientId: 2,
		Status:      string(types.StatusSent),
	}

	t.Run("either party may pin", func(t *testing.T) {
		db := &database.MockRelayRepository{}
		db.On("GetMessage", "msg-4").Return(dbMsg, nil)
		db.On("SetMessagePinned", "msg-4", true).Return(nil)
		db.On("GetAccountById", 1).Return(database.User{Id: 1, Username: "alice"}, nil)
		defer db.AssertExpectations(t)

		rs := newTestRelayServer(t, db, &stats.MockStatsUpdater{})
		sender := newTestClient(t, rs, types.User{Id: 1, Username: "alice"})
		identify(t, rs, sender)
		recipient := newTestClient(t, rs, types.User{Id: 2, Username: "bob"})

		// the recipient pins, the sender is the peer to notify
		rs.handlePin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Pin:         &PinMessage{MessageId: "msg-4", Pinned: true},
			UserId:      2,
			client:      recipient,
		})

		recipientMsgs := drain(recipient)
		assert.Len(t, recipientMsgs, 1)
		assert.Equal(t, http.StatusOK, recipientMsgs[0].Response.ResponseCode)

		senderMsgs := drain(sender)
		assert.Len(t, senderMsgs, 1)
		assert.True(t, senderMsgs[0].Pin.Pinned)
	})

	t.Run("outsider may not pin", func(t *testing.T) {
		db := &database.MockRelayRepository{}
		db.On("GetMessage", "msg-4").Return(dbMsg, nil)
		defer db.AssertExpectations(t)

		rs := newTestRelayServer(t, db, &stats.MockStatsUpdater{})
		outsider := newTestClient(t, rs, types.User{Id: 3, Username: "carol"})

		rs.handlePin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Pin:         &PinMessage{MessageId: "msg-4", Pinned: true},
			UserId:      3,
			client:      outsider,
		})

		msgs := drain(outsider)
		assert.Len(t, msgs, 1)
		assert.Equal(t, http.StatusForbidden, msgs[0].Response.ResponseCode)
	})
}
