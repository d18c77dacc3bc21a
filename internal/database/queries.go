package database

import (
	"database/sql"
	"fmt"
	"time"
)

func (db *PgRelayRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email, created_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgRelayRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, username, email",
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgRelayRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
	)

	return user, err
}

func (db *PgRelayRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
	)

	return user, err
}

func (db *PgRelayRepository) GetAccountByUsername(username string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email FROM accounts "+
			"WHERE username = $1 LIMIT 1",
		username,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
	)

	return user, err
}

func (db *PgRelayRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	res := db.conn.QueryRow(
		"INSERT INTO conversations (external_id, peer_a_id, peer_b_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, external_id, peer_a_id, peer_b_id, created_at, updated_at",
		params.ExternalId,
		params.PeerAId,
		params.PeerBId,
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var conv Conversation
	err := res.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.PeerAId,
		&conv.PeerBId,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)

	return conv, err
}

func (db *PgRelayRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, peer_a_id, peer_b_id, created_at FROM conversations "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.PeerAId,
		&conv.PeerBId,
		&conv.CreatedAt,
	)

	return conv, err
}

// GetConversationByPeers looks up the conversation between two accounts
// regardless of which side created it.
func (db *PgRelayRepository) GetConversationByPeers(peerAId, peerBId int) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, peer_a_id, peer_b_id, created_at FROM conversations "+
			"WHERE (peer_a_id = $1 AND peer_b_id = $2) OR (peer_a_id = $2 AND peer_b_id = $1) LIMIT 1",
		peerAId,
		peerBId,
	)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.PeerAId,
		&conv.PeerBId,
		&conv.CreatedAt,
	)

	return conv, err
}

func (db *PgRelayRepository) ListConversations(accountId int) ([]Conversation, error) {
	rows, err := db.conn.Query(
		"SELECT id, external_id, peer_a_id, peer_b_id, created_at FROM conversations "+
			"WHERE peer_a_id = $1 OR peer_b_id = $1 ORDER BY updated_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		if err = rows.Scan(&conv.Id, &conv.ExternalId, &conv.PeerAId, &conv.PeerBId, &conv.CreatedAt); err != nil {
			break
		}

		convs = append(convs, conv)
	}
	return convs, err
}

func (db *PgRelayRepository) CreateMessage(msg Message) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, voice_url, status, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.RecipientId,
		msg.Content,
		msg.VoiceUrl,
		msg.Status,
		msg.CreatedAt,
		msg.CreatedAt,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		"UPDATE conversations SET updated_at = $1 WHERE id = $2",
		msg.CreatedAt,
		msg.ConversationId,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRelayRepository) GetMessage(id string) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT seq, id, conversation_id, sender_id, recipient_id, content, voice_url, status, edited, deleted, pinned, created_at FROM messages "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var msg Message
	err := row.Scan(
		&msg.Seq,
		&msg.Id,
		&msg.ConversationId,
		&msg.SenderId,
		&msg.RecipientId,
		&msg.Content,
		&msg.VoiceUrl,
		&msg.Status,
		&msg.Edited,
		&msg.Deleted,
		&msg.Pinned,
		&msg.CreatedAt,
	)

	return msg, err
}

func (db *PgRelayRepository) UpdateMessageStatus(id, status string) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET status = $2, updated_at = $3 WHERE id = $1",
		id,
		status,
		time.Now().UTC(),
	)

	return err
}

func (db *PgRelayRepository) UpdateMessageContent(id, content string) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET content = $2, edited = TRUE, updated_at = $3 WHERE id = $1",
		id,
		content,
		time.Now().UTC(),
	)

	return err
}

func (db *PgRelayRepository) SetMessageDeleted(id string) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET deleted = TRUE, content = '', voice_url = '', updated_at = $2 WHERE id = $1",
		id,
		time.Now().UTC(),
	)

	return err
}

func (db *PgRelayRepository) SetMessagePinned(id string, pinned bool) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET pinned = $2, updated_at = $3 WHERE id = $1",
		id,
		pinned,
		time.Now().UTC(),
	)

	return err
}

func (db *PgRelayRepository) GetMessages(conversationId, before, after, limit int) ([]Message, error) {
	var upper, lower int = 1<<31 - 1, 0
	if before > 0 {
		upper = before - 1
	}

	if after > 0 {
		lower = after
	}

	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT seq, id, conversation_id, sender_id, recipient_id, content, voice_url, status, edited, deleted, pinned, created_at FROM messages "+
			"WHERE conversation_id = $1 AND seq BETWEEN $2 AND $3 ORDER BY seq DESC LIMIT $4",
		conversationId,
		lower,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Seq, &msg.Id, &msg.ConversationId, &msg.SenderId, &msg.RecipientId,
			&msg.Content, &msg.VoiceUrl, &msg.Status, &msg.Edited, &msg.Deleted, &msg.Pinned, &msg.CreatedAt); err != nil {
			break
		}

		messages = append(messages, msg)
	}
	return messages, err
}

func (db *PgRelayRepository) CreateCall(params CreateCallParams) (Call, error) {
	res := db.conn.QueryRow(
		"INSERT INTO calls (caller_id, callee_id, audio_only, outcome, started_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, caller_id, callee_id, audio_only, outcome, started_at",
		params.CallerId,
		params.CalleeId,
		params.AudioOnly,
		params.Outcome,
		params.StartedAt,
	)

	var call Call
	err := res.Scan(
		&call.Id,
		&call.CallerId,
		&call.CalleeId,
		&call.AudioOnly,
		&call.Outcome,
		&call.StartedAt,
	)

	return call, err
}

func (db *PgRelayRepository) UpdateCallOutcome(id int, outcome string, endedAt time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE calls SET outcome = $2, ended_at = $3 WHERE id = $1",
		id,
		outcome,
		endedAt,
	)

	return err
}

func (db *PgRelayRepository) ListCalls(accountId, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT id, caller_id, callee_id, audio_only, outcome, started_at, ended_at FROM calls "+
			"WHERE caller_id = $1 OR callee_id = $1 ORDER BY started_at DESC LIMIT $2",
		accountId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var (
			call    Call
			endedAt sql.NullTime
		)
		if err = rows.Scan(&call.Id, &call.CallerId, &call.CalleeId, &call.AudioOnly,
			&call.Outcome, &call.StartedAt, &endedAt); err != nil {
			break
		}

		if endedAt.Valid {
			call.EndedAt = endedAt.Time
		}

		calls = append(calls, call)
	}

	if err != nil {
		return nil, fmt.Errorf("scan calls: %w", err)
	}

	return calls, rows.Err()
}
