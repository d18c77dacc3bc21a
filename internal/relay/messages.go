package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/npezzotti/go-relay/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound envelope. Exactly one of the event fields
// is populated; the populated key is the event name on the wire.
type ClientMessage struct {
	BaseMessage
	Join      *Join          `json:"join,omitempty"`
	Send      *SendMessage   `json:"send,omitempty"`
	Status    *StatusUpdate  `json:"status,omitempty"`
	Edit      *EditMessage   `json:"edit,omitempty"`
	Delete    *DeleteMessage `json:"delete,omitempty"`
	Pin       *PinMessage    `json:"pin,omitempty"`
	Offer     *Offer         `json:"offer,omitempty"`
	Answer    *Answer        `json:"answer,omitempty"`
	Candidate *Candidate     `json:"icecandidate,omitempty"`
	Hangup    *Hangup        `json:"call_ended,omitempty"`
	Reject    *Reject        `json:"call_rejected,omitempty"`
	UserId    int            `json:"-"`
	client    *Client        `json:"-"`
}

// GetUserId returns the id of the user the message originated from.
func (cm *ClientMessage) GetUserId() int {
	if cm.UserId != 0 {
		return cm.UserId
	}

	if cm.client != nil {
		return cm.client.user.Id
	}

	return 0
}

type Join struct {
	Username string `json:"username"`
}

type SendMessage struct {
	To       string `json:"to"`
	Content  string `json:"content,omitempty"`
	VoiceUrl string `json:"voice_url,omitempty"`
}

type StatusUpdate struct {
	MessageId string              `json:"message_id"`
	Status    types.MessageStatus `json:"status"`
}

type EditMessage struct {
	MessageId string `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteMessage struct {
	MessageId string `json:"message_id"`
}

type PinMessage struct {
	MessageId string `json:"message_id"`
	Pinned    bool   `json:"pinned"`
}

type Offer struct {
	To        string `json:"to"`
	SDP       string `json:"sdp"`
	AudioOnly bool   `json:"audio_only,omitempty"`
}

type Answer struct {
	To  string `json:"to"`
	SDP string `json:"sdp"`
}

type Candidate struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

type Hangup struct {
	To string `json:"to"`
}

type Reject struct {
	To string `json:"to"`
}

// ServerMessage is the outbound envelope.
type ServerMessage struct {
	BaseMessage
	Response *Response         `json:"response,omitempty"`
	Message  *types.Message    `json:"message,omitempty"`
	Status   *StatusEvent      `json:"status_update,omitempty"`
	Edit     *EditEvent        `json:"edit,omitempty"`
	Delete   *DeleteEvent      `json:"delete,omitempty"`
	Pin      *PinEvent         `json:"pin,omitempty"`
	Signal   *Signal           `json:"signal,omitempty"`
	Joined   map[string]string `json:"joined,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type StatusEvent struct {
	MessageId string              `json:"message_id"`
	Status    types.MessageStatus `json:"status"`
}

type EditEvent struct {
	MessageId string `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteEvent struct {
	MessageId string `json:"message_id"`
}

type PinEvent struct {
	MessageId string `json:"message_id"`
	Pinned    bool   `json:"pinned"`
}

// SignalKind names the call-signaling events a Signal can carry.
type SignalKind string

const (
	SignalOffer           SignalKind = "offer"
	SignalAnswer          SignalKind = "answer"
	SignalCandidate       SignalKind = "icecandidate"
	SignalCallEnded       SignalKind = "call_ended"
	SignalCallRejected    SignalKind = "call_rejected"
	SignalCallUnavailable SignalKind = "call_unavailable"
)

// Signal is a relayed call-signaling event. The mediator never inspects
// SDP or candidate contents, it only moves them between the two parties.
type Signal struct {
	Kind      SignalKind      `json:"kind"`
	From      string          `json:"from"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	AudioOnly bool            `json:"audio_only,omitempty"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "not found",
		},
	}
}

func ErrForbidden(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "forbidden",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
