package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/npezzotti/go-relay/internal/bus"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/registry"
	"github.com/npezzotti/go-relay/internal/stats"
	"github.com/npezzotti/go-relay/internal/types"
	"github.com/teris-io/shortid"
)

const (
	statNumConnections   = "NumConnections"
	statNumActiveCalls   = "NumActiveCalls"
	statMessagesRelayed  = "MessagesRelayed"
	statSignalsForwarded = "SignalsForwarded"
)

type stopReq struct {
	done chan struct{}
}

type remoteDelivery struct {
	connId string
	msg    *ServerMessage
}

// RelayServer owns the event loop. Every inbound client event, connect and
// disconnect is processed on a single goroutine, so the local connection
// tables and call sessions need no locking.
type RelayServer struct {
	log        *log.Logger
	db         database.RelayRepository
	registry   registry.Registry
	bus        bus.Bus
	stats      stats.StatsProvider
	instanceId string

	clients map[*Client]struct{}
	conns   map[string]*Client
	calls   map[string]*callSession

	eventChan      chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	touchChan      chan *Client
	remoteChan     chan *remoteDelivery
	stop           chan stopReq
	done           chan struct{}

	generateShortId func() (string, error)
}

// NewRelayServer creates the relay. The peer bus may be nil for
// single-instance deployments; remote connection ids are then treated as
// unreachable.
func NewRelayServer(logger *log.Logger, db database.RelayRepository, reg registry.Registry, peerBus bus.Bus, sp stats.StatsProvider) (*RelayServer, error) {
	rs := &RelayServer{
		log:             logger,
		db:              db,
		registry:        reg,
		bus:             peerBus,
		stats:           sp,
		instanceId:      uuid.NewString(),
		clients:         make(map[*Client]struct{}),
		conns:           make(map[string]*Client),
		calls:           make(map[string]*callSession),
		eventChan:       make(chan *ClientMessage, 256),
		RegisterChan:    make(chan *Client, 256),
		deRegisterChan:  make(chan *Client, 256),
		touchChan:       make(chan *Client, 256),
		remoteChan:      make(chan *remoteDelivery, 256),
		stop:            make(chan stopReq),
		done:            make(chan struct{}),
		generateShortId: shortid.Generate,
	}

	sp.RegisterMetric(statNumConnections)
	sp.RegisterMetric(statNumActiveCalls)
	sp.RegisterMetric(statMessagesRelayed)
	sp.RegisterMetric(statSignalsForwarded)

	if peerBus != nil {
		err := peerBus.Subscribe(context.Background(), rs.instanceId, func(connId string, payload []byte) {
			msg, err := deserializeMessage(payload)
			if err != nil {
				logger.Println("bus: bad payload:", err)
				return
			}
			select {
			case rs.remoteChan <- &remoteDelivery{connId: connId, msg: msg}:
			default:
				logger.Println("remoteChan full, dropping bus delivery")
			}
		})
		if err != nil {
			return nil, err
		}
	}

	return rs, nil
}

// InstanceId identifies this relay instance; it prefixes every connection
// id minted here.
func (rs *RelayServer) InstanceId() string {
	return rs.instanceId
}

func (rs *RelayServer) newConnId() string {
	return rs.instanceId + ":" + uuid.NewString()
}

func (rs *RelayServer) RegisterClient(c *Client) {
	rs.RegisterChan <- c
}

func (rs *RelayServer) Run() {
	for {
		select {
		case c := <-rs.RegisterChan:
			rs.log.Printf("adding connection from %q", c.user.Username)
			rs.clients[c] = struct{}{}
			rs.stats.Incr(statNumConnections)
		case c := <-rs.deRegisterChan:
			rs.log.Printf("removing connection from %q", c.user.Username)
			rs.removeClient(c)
		case c := <-rs.touchChan:
			rs.refreshPresence(c)
		case msg := <-rs.eventChan:
			rs.dispatch(msg)
		case rd := <-rs.remoteChan:
			if c, ok := rs.conns[rd.connId]; ok {
				c.queueMessage(rd.msg)
			}
		case req := <-rs.stop:
			rs.log.Println("stopping relay server")
			for c := range rs.clients {
				c.stopClient()
			}
			close(req.done)
			return
		}
	}
}

func (rs *RelayServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case rs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (rs *RelayServer) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		rs.handleJoin(msg)
	case msg.Send != nil:
		rs.handleSend(msg)
	case msg.Status != nil:
		rs.handleStatus(msg)
	case msg.Edit != nil:
		rs.handleEdit(msg)
	case msg.Delete != nil:
		rs.handleDelete(msg)
	case msg.Pin != nil:
		rs.handlePin(msg)
	case msg.Offer != nil:
		rs.handleOffer(msg)
	case msg.Answer != nil:
		rs.handleAnswer(msg)
	case msg.Candidate != nil:
		rs.handleCandidate(msg)
	case msg.Hangup != nil:
		rs.handleHangup(msg)
	case msg.Reject != nil:
		rs.handleReject(msg)
	default:
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// handleJoin binds an authenticated connection to the presence registry. A
// reconnect for the same user silently replaces the prior registration.
func (rs *RelayServer) handleJoin(msg *ClientMessage) {
	c := msg.client
	if msg.Join.Username != c.user.Username {
		rs.log.Printf("join username %q does not match authenticated user %q", msg.Join.Username, c.user.Username)
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	if err := rs.registry.Register(context.Background(), c.user.Username, c.id); err != nil {
		rs.log.Println("register presence:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	rs.conns[c.id] = c
	c.queueMessage(NoErrOK(msg.Id, map[string]any{"conn_id": c.id}))
	rs.broadcastPresence()
}

func (rs *RelayServer) refreshPresence(c *Client) {
	if _, ok := rs.conns[c.id]; !ok {
		return
	}

	if err := rs.registry.Register(context.Background(), c.user.Username, c.id); err != nil {
		rs.log.Println("refresh presence:", err)
	}
}

func (rs *RelayServer) removeClient(c *Client) {
	if _, ok := rs.clients[c]; !ok {
		return
	}

	delete(rs.clients, c)
	rs.stats.Decr(statNumConnections)

	if _, identified := rs.conns[c.id]; !identified {
		return
	}
	delete(rs.conns, c.id)

	// the registry guards against a stale handle removing a newer
	// registration for the same user
	if err := rs.registry.Remove(context.Background(), c.user.Username, c.id); err != nil {
		rs.log.Println("remove presence:", err)
	}

	rs.endCallsFor(c.user.Username)
	rs.broadcastPresence()
}

// broadcastPresence pushes the full presence set to every identified
// connection. Full-set fan-out is O(n) per join/leave and acceptable at
// this scale.
func (rs *RelayServer) broadcastPresence() {
	snapshot, err := rs.registry.Snapshot(context.Background())
	if err != nil {
		rs.log.Println("presence snapshot:", err)
		return
	}

	msg := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Joined:      snapshot,
	}
	for _, c := range rs.conns {
		c.queueMessage(msg)
	}
}

// deliverToUser pushes an event to the recipient's live connection, if
// any. Returns false when the user has no reachable connection; callers
// treat that as a silent no-op per the delivery model.
func (rs *RelayServer) deliverToUser(username string, msg *ServerMessage) bool {
	connId, ok, err := rs.registry.Lookup(context.Background(), username)
	if err != nil {
		rs.log.Println("presence lookup:", err)
		return false
	}
	if !ok {
		return false
	}

	if c, local := rs.conns[connId]; local {
		return c.queueMessage(msg)
	}

	if rs.bus != nil && instanceOf(connId) != rs.instanceId {
		payload, err := serializeMessage(msg)
		if err != nil {
			rs.log.Println("serialize for bus:", err)
			return false
		}
		if err := rs.bus.Publish(context.Background(), instanceOf(connId), connId, payload); err != nil {
			rs.log.Println("bus publish:", err)
			return false
		}
		return true
	}

	return false
}

func (rs *RelayServer) handleSend(msg *ClientMessage) {
	c := msg.client
	recipient, err := rs.db.GetAccountByUsername(msg.Send.To)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrNotFound(msg.Id))
		} else {
			rs.log.Println("GetAccountByUsername:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	conv, err := rs.conversationFor(c.user.Id, recipient.Id)
	if err != nil {
		rs.log.Println("conversationFor:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	dbMsg := database.Message{
		Id:             uuid.NewString(),
		ConversationId: conv.Id,
		SenderId:       c.user.Id,
		RecipientId:    recipient.Id,
		Content:        msg.Send.Content,
		VoiceUrl:       msg.Send.VoiceUrl,
		Status:         string(types.StatusSent),
		CreatedAt:      msg.Timestamp,
	}

	// persistence failure is reported to the sender and not retried
	// server-side; retry is the sending client's responsibility
	if err := rs.db.CreateMessage(dbMsg); err != nil {
		rs.log.Println("CreateMessage:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"message_id":      dbMsg.Id,
		"conversation_id": conv.ExternalId,
		"status":          string(types.StatusSent),
	}))

	rs.stats.Incr(statMessagesRelayed)

	// absent recipient: the message stays persisted with status sent and
	// is picked up via history fetch on their next connect
	rs.deliverToUser(recipient.Username, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: msg.Timestamp},
		Message: &types.Message{
			Id:             dbMsg.Id,
			ConversationId: conv.ExternalId,
			SenderId:       c.user.Id,
			RecipientId:    recipient.Id,
			Content:        dbMsg.Content,
			VoiceUrl:       dbMsg.VoiceUrl,
			Status:         types.StatusSent,
			Timestamp:      msg.Timestamp,
		},
	})
}

// conversationFor finds or lazily creates the pairwise conversation.
func (rs *RelayServer) conversationFor(senderId, recipientId int) (database.Conversation, error) {
	conv, err := rs.db.GetConversationByPeers(senderId, recipientId)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return database.Conversation{}, err
	}

	sid, err := rs.generateShortId()
	if err != nil {
		return database.Conversation{}, err
	}

	return rs.db.CreateConversation(database.CreateConversationParams{
		ExternalId: sid,
		PeerAId:    senderId,
		PeerBId:    recipientId,
	})
}

func (rs *RelayServer) handleStatus(msg *ClientMessage) {
	c := msg.client
	newStatus := msg.Status.Status
	if newStatus != types.StatusDelivered && newStatus != types.StatusRead {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	dbMsg, err := rs.db.GetMessage(msg.Status.MessageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrNotFound(msg.Id))
		} else {
			rs.log.Println("GetMessage:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	// only the recipient advances delivery state
	if dbMsg.RecipientId != c.user.Id {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	// status is monotonic: a read message never drops back to delivered
	if newStatus.Rank() <= types.MessageStatus(dbMsg.Status).Rank() {
		c.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	if err := rs.db.UpdateMessageStatus(dbMsg.Id, string(newStatus)); err != nil {
		rs.log.Println("UpdateMessageStatus:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))

	sender, err := rs.db.GetAccountById(dbMsg.SenderId)
	if err != nil {
		rs.log.Println("GetAccountById:", err)
		return
	}

	rs.deliverToUser(sender.Username, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Status: &StatusEvent{
			MessageId: dbMsg.Id,
			Status:    newStatus,
		},
	})
}

func (rs *RelayServer) handleEdit(msg *ClientMessage) {
	c := msg.client
	dbMsg, ok := rs.ownedMessage(c, msg.Id, msg.Edit.MessageId)
	if !ok {
		return
	}

	if err := rs.db.UpdateMessageContent(dbMsg.Id, msg.Edit.Content); err != nil {
		rs.log.Println("UpdateMessageContent:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
	rs.deliverToPeer(c.user.Id, dbMsg, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Edit: &EditEvent{
			MessageId: dbMsg.Id,
			Content:   msg.Edit.Content,
		},
	})
}

func (rs *RelayServer) handleDelete(msg *ClientMessage) {
	c := msg.client
	dbMsg, ok := rs.ownedMessage(c, msg.Id, msg.Delete.MessageId)
	if !ok {
		return
	}

	if err := rs.db.SetMessageDeleted(dbMsg.Id); err != nil {
		rs.log.Println("SetMessageDeleted:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
	rs.deliverToPeer(c.user.Id, dbMsg, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Delete:      &DeleteEvent{MessageId: dbMsg.Id},
	})
}

func (rs *RelayServer) handlePin(msg *ClientMessage) {
	c := msg.client
	dbMsg, err := rs.db.GetMessage(msg.Pin.MessageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrNotFound(msg.Id))
		} else {
			rs.log.Println("GetMessage:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	// either side of the conversation may pin
	if dbMsg.SenderId != c.user.Id && dbMsg.RecipientId != c.user.Id {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	if err := rs.db.SetMessagePinned(dbMsg.Id, msg.Pin.Pinned); err != nil {
		rs.log.Println("SetMessagePinned:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
	rs.deliverToPeer(c.user.Id, dbMsg, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Pin: &PinEvent{
			MessageId: dbMsg.Id,
			Pinned:    msg.Pin.Pinned,
		},
	})
}

// ownedMessage loads a message and verifies the acting user is its sender.
func (rs *RelayServer) ownedMessage(c *Client, reqId int, messageId string) (database.Message, bool) {
	dbMsg, err := rs.db.GetMessage(messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrNotFound(reqId))
		} else {
			rs.log.Println("GetMessage:", err)
			c.queueMessage(ErrInternalError(reqId))
		}
		return database.Message{}, false
	}

	if dbMsg.SenderId != c.user.Id {
		c.queueMessage(ErrForbidden(reqId))
		return database.Message{}, false
	}

	return dbMsg, true
}

// deliverToPeer forwards an event to whichever side of the message the
// actor is not.
func (rs *RelayServer) deliverToPeer(actorId int, dbMsg database.Message, sm *ServerMessage) {
	peerId := dbMsg.RecipientId
	if actorId == dbMsg.RecipientId {
		peerId = dbMsg.SenderId
	}

	peer, err := rs.db.GetAccountById(peerId)
	if err != nil {
		rs.log.Println("GetAccountById:", err)
		return
	}

	rs.deliverToUser(peer.Username, sm)
}

func instanceOf(connId string) string {
	for i := 0; i < len(connId); i++ {
		if connId[i] == ':' {
			return connId[:i]
		}
	}
	return connId
}

func deserializeMessage(payload []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
