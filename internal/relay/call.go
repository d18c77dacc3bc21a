package relay

import (
	"database/sql"
	"errors"
	"time"

	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/types"
)

type callState int

const (
	callRinging callState = iota
	callConnected
)

// callSession tracks a call between two users from offer to a terminal
// event. The mediator never touches media; the session exists so that
// missed/rejected/completed outcomes can be recorded and so a dropped
// connection mid-call can be surfaced to the peer.
type callSession struct {
	caller    string
	callee    string
	audioOnly bool
	state     callState
	dbId      int
	startedAt time.Time
}

// pairKey is order-independent: the answer arrives from the opposite side
// of the offer.
func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

func (rs *RelayServer) handleOffer(msg *ClientMessage) {
	c := msg.client
	caller := c.user.Username
	callee := msg.Offer.To

	calleeAcct, err := rs.db.GetAccountByUsername(callee)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrNotFound(msg.Id))
		} else {
			rs.log.Println("GetAccountByUsername:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	signal := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: msg.Timestamp},
		Signal: &Signal{
			Kind:      SignalOffer,
			From:      caller,
			SDP:       msg.Offer.SDP,
			AudioOnly: msg.Offer.AudioOnly,
		},
	}

	if !rs.deliverToUser(callee, signal) {
		// callee unreachable: tell the caller explicitly and record a
		// missed call instead of letting the offer vanish
		rs.recordCall(c.user.Id, calleeAcct.Id, msg.Offer.AudioOnly, types.CallMissed, msg.Timestamp)
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Signal: &Signal{
				Kind: SignalCallUnavailable,
				From: callee,
			},
		})
		return
	}

	rs.stats.Incr(statSignalsForwarded)

	key := pairKey(caller, callee)
	if session, ok := rs.calls[key]; ok {
		// renegotiation of a live call, keep the existing session
		if session.state == callConnected {
			return
		}
		// a repeated offer while ringing replaces the pending one
		rs.calls[key] = &callSession{
			caller:    caller,
			callee:    callee,
			audioOnly: msg.Offer.AudioOnly,
			state:     callRinging,
			dbId:      session.dbId,
			startedAt: session.startedAt,
		}
		return
	}

	call := rs.recordCall(c.user.Id, calleeAcct.Id, msg.Offer.AudioOnly, types.CallMissed, msg.Timestamp)
	rs.calls[key] = &callSession{
		caller:    caller,
		callee:    callee,
		audioOnly: msg.Offer.AudioOnly,
		state:     callRinging,
		dbId:      call.Id,
		startedAt: msg.Timestamp,
	}
	rs.stats.Incr(statNumActiveCalls)
}

func (rs *RelayServer) handleAnswer(msg *ClientMessage) {
	c := msg.client

	// an answer without a live session has nothing to connect; the
	// session its offer belonged to already ended
	session, ok := rs.calls[pairKey(c.user.Username, msg.Answer.To)]
	if !ok {
		return
	}
	session.state = callConnected

	delivered := rs.deliverToUser(msg.Answer.To, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: msg.Timestamp},
		Signal: &Signal{
			Kind: SignalAnswer,
			From: c.user.Username,
			SDP:  msg.Answer.SDP,
		},
	})
	if delivered {
		rs.stats.Incr(statSignalsForwarded)
	}
}

// handleCandidate is a dumb pipe: candidates arriving before the remote
// description is set are the receiving peer's problem to buffer. Candidates
// only flow while a session exists between the two parties.
func (rs *RelayServer) handleCandidate(msg *ClientMessage) {
	if _, ok := rs.calls[pairKey(msg.client.user.Username, msg.Candidate.To)]; !ok {
		return
	}

	delivered := rs.deliverToUser(msg.Candidate.To, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: msg.Timestamp},
		Signal: &Signal{
			Kind:      SignalCandidate,
			From:      msg.client.user.Username,
			Candidate: msg.Candidate.Candidate,
		},
	})
	if delivered {
		rs.stats.Incr(statSignalsForwarded)
	}
}

func (rs *RelayServer) handleHangup(msg *ClientMessage) {
	c := msg.client
	rs.closeCall(c.user.Username, msg.Hangup.To, SignalCallEnded)
}

func (rs *RelayServer) handleReject(msg *ClientMessage) {
	c := msg.client
	rs.closeCall(c.user.Username, msg.Reject.To, SignalCallRejected)
}

// closeCall forwards a terminal event and settles the session, if one
// exists. A terminal event for an unknown session is still forwarded:
// a second hangup is a harmless no-op on the receiving side.
func (rs *RelayServer) closeCall(from, to string, kind SignalKind) {
	key := pairKey(from, to)
	if session, ok := rs.calls[key]; ok {
		outcome := types.CallMissed
		switch {
		case kind == SignalCallRejected:
			outcome = types.CallRejected
		case session.state == callConnected:
			outcome = types.CallCompleted
		}

		if err := rs.db.UpdateCallOutcome(session.dbId, string(outcome), Now()); err != nil {
			rs.log.Println("UpdateCallOutcome:", err)
		}

		delete(rs.calls, key)
		rs.stats.Decr(statNumActiveCalls)
	}

	delivered := rs.deliverToUser(to, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Signal: &Signal{
			Kind: kind,
			From: from,
		},
	})
	if delivered {
		rs.stats.Incr(statSignalsForwarded)
	}
}

// endCallsFor settles any session involving a user whose connection
// dropped without an explicit hangup, so the peer is not left ringing or
// talking to a dead connection.
func (rs *RelayServer) endCallsFor(username string) {
	for key, session := range rs.calls {
		if session.caller != username && session.callee != username {
			continue
		}

		peer := session.caller
		if peer == username {
			peer = session.callee
		}

		outcome := types.CallMissed
		if session.state == callConnected {
			outcome = types.CallCompleted
		}
		if err := rs.db.UpdateCallOutcome(session.dbId, string(outcome), Now()); err != nil {
			rs.log.Println("UpdateCallOutcome:", err)
		}

		delete(rs.calls, key)
		rs.stats.Decr(statNumActiveCalls)

		rs.deliverToUser(peer, &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Signal: &Signal{
				Kind: SignalCallEnded,
				From: username,
			},
		})
	}
}

func (rs *RelayServer) recordCall(callerId, calleeId int, audioOnly bool, outcome types.CallOutcome, startedAt time.Time) database.Call {
	call, err := rs.db.CreateCall(database.CreateCallParams{
		CallerId:  callerId,
		CalleeId:  calleeId,
		AudioOnly: audioOnly,
		Outcome:   string(outcome),
		StartedAt: startedAt,
	})
	if err != nil {
		rs.log.Println("CreateCall:", err)
	}

	return call
}
