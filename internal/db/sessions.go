package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/marketplace_support/backend/internal/models"
)

var ErrSessionClosed = errors.New("chat session is closed")

const sessionColumns = `id, visitor_fingerprint, visitor_name, visitor_email, status, mode, assigned_agent_id, started_at, updated_at, closed_at`

const messageColumns = `id, session_id, sender_type, sender_id, client_id, content, created_at, is_read`

func scanSession(row pgx.Row) (models.ChatSession, error) {
	var s models.ChatSession
	err := row.Scan(&s.ID, &s.VisitorFingerprint, &s.VisitorName, &s.VisitorEmail, &s.Status, &s.Mode, &s.AssignedAgentID, &s.StartedAt, &s.UpdatedAt, &s.ClosedAt)
	return s, err
}

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.SessionID, &m.SenderType, &m.SenderID, &m.ClientID, &m.Content, &m.CreatedAt, &m.IsRead)
	return m, err
}

func collectSessions(rows pgx.Rows) ([]models.ChatSession, error) {
	defer rows.Close()
	out := []models.ChatSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (s *Store) CreateSession(ctx context.Context, sess models.ChatSession) (models.ChatSession, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = models.SessionWaiting
	}
	if sess.Mode == "" {
		sess.Mode = models.ModeAI
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (id, visitor_fingerprint, visitor_name, visitor_email, status, mode)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+sessionColumns,
		sess.ID, sess.VisitorFingerprint, sess.VisitorName, sess.VisitorEmail, sess.Status, sess.Mode)
	return scanSession(row)
}

func (s *Store) GetSession(ctx context.Context, id string) (models.ChatSession, error) {
	sess, err := scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1`, id))
	return sess, notFound(err)
}

// FindOpenSessionByFingerprint returns the most recent session of the visitor
// that is not CLOSED.
func (s *Store) FindOpenSessionByFingerprint(ctx context.Context, fingerprint string) (models.ChatSession, error) {
	sess, err := scanSession(s.Pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE visitor_fingerprint = $1 AND status <> 'CLOSED'
		ORDER BY started_at DESC LIMIT 1`, fingerprint))
	return sess, notFound(err)
}

func (s *Store) ListVisitorSessions(ctx context.Context, fingerprint string) ([]models.ChatSession, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE visitor_fingerprint = $1
		ORDER BY started_at DESC`, fingerprint)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (s *Store) ListSessions(ctx context.Context, status, mode string, limit, offset int) ([]models.ChatSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions`
	var args []any
	var wheres []string
	if status != "" {
		args = append(args, status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if mode != "" {
		args = append(args, mode)
		wheres = append(wheres, fmt.Sprintf("mode = $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY updated_at DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ActivateSession moves a WAITING session to ACTIVE. It reports whether the
// status changed.
func (s *Store) ActivateSession(ctx context.Context, id string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `UPDATE chat_sessions SET status = 'ACTIVE', updated_at = NOW() WHERE id = $1 AND status = 'WAITING'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateSessionMode sets the mode of an open session. It reports whether the
// mode changed, so repeated requests for the current mode are no-ops.
func (s *Store) UpdateSessionMode(ctx context.Context, id, mode string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `UPDATE chat_sessions SET mode = $2, updated_at = NOW() WHERE id = $1 AND mode <> $2 AND status <> 'CLOSED'`, id, mode)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AssignAgent(ctx context.Context, id, agentID string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE chat_sessions SET assigned_agent_id = $2, updated_at = NOW() WHERE id = $1`, id, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseSession appends the closing notice and marks the session CLOSED in one
// transaction. Closing a closed session returns it unchanged with
// closed=false and no notice.
func (s *Store) CloseSession(ctx context.Context, id string, notice models.Message) (models.ChatSession, models.Message, bool, error) {
	var (
		sess   models.ChatSession
		posted models.Message
		closed bool
	)
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		current, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}
		if current.Status == models.SessionClosed {
			sess = current
			return nil
		}
		notice.SessionID = id
		if posted, err = insertMessage(ctx, tx, notice); err != nil {
			return err
		}
		sess, err = scanSession(tx.QueryRow(ctx, `
			UPDATE chat_sessions SET status = 'CLOSED', closed_at = NOW(), updated_at = NOW()
			WHERE id = $1
			RETURNING `+sessionColumns, id))
		closed = err == nil
		return err
	})
	return sess, posted, closed, err
}

// FindMessageByClientID returns the message stored for a client id.
func (s *Store) FindMessageByClientID(ctx context.Context, sessionID, clientID string) (models.Message, error) {
	m, err := scanMessage(s.Pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE session_id = $1 AND client_id = $2`, sessionID, clientID))
	return m, notFound(err)
}

// AppendMessage stores a message at the end of the session. Appends to one
// session are serialized on the session row, and created_at never goes
// backwards. When the message carries a client id that was already stored,
// the stored message is returned with created=false. New messages to a
// CLOSED session fail with ErrSessionClosed.
func (s *Store) AppendMessage(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	var (
		out     models.Message
		created bool
	)
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM chat_sessions WHERE id = $1 FOR UPDATE`, msg.SessionID).Scan(&status); err != nil {
			return notFound(err)
		}

		if msg.ClientID != nil && *msg.ClientID != "" {
			existing, err := scanMessage(tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE session_id = $1 AND client_id = $2`, msg.SessionID, *msg.ClientID))
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}
		if status == models.SessionClosed {
			return ErrSessionClosed
		}

		m, err := insertMessage(ctx, tx, msg)
		if err != nil {
			return err
		}
		out = m
		created = true
		return nil
	})
	return out, created, err
}

// insertMessage appends msg inside a transaction that holds the session row.
func insertMessage(ctx context.Context, tx pgx.Tx, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	var last *time.Time
	if err := tx.QueryRow(ctx, `SELECT MAX(created_at) FROM chat_messages WHERE session_id = $1`, msg.SessionID).Scan(&last); err != nil {
		return models.Message{}, err
	}
	createdAt := time.Now().UTC()
	if last != nil && !createdAt.After(*last) {
		createdAt = last.Add(time.Microsecond)
	}
	msg.CreatedAt = createdAt

	m, err := scanMessage(tx.QueryRow(ctx, `
		INSERT INTO chat_messages (id, session_id, sender_type, sender_id, client_id, content, created_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		RETURNING `+messageColumns,
		msg.ID, msg.SessionID, msg.SenderType, msg.SenderID, msg.ClientID, msg.Content, msg.CreatedAt))
	if err != nil {
		return models.Message{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE chat_sessions SET updated_at = NOW() WHERE id = $1`, msg.SessionID); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// ListMessages returns the session's messages in append order. A non-empty
// afterID limits the result to messages appended after that message.
func (s *Store) ListMessages(ctx context.Context, sessionID, afterID string) ([]models.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if afterID == "" {
		rows, err = s.Pool.Query(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
	} else {
		rows, err = s.Pool.Query(ctx, `
			SELECT `+messageColumns+` FROM chat_messages
			WHERE session_id = $1 AND seq > COALESCE((SELECT seq FROM chat_messages WHERE id = $2 AND session_id = $1), 0)
			ORDER BY seq ASC`, sessionID, afterID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessagesRead flags unread messages from the given sender types as read.
func (s *Store) MarkMessagesRead(ctx context.Context, sessionID string, senderTypes []string) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `UPDATE chat_messages SET is_read = TRUE WHERE session_id = $1 AND is_read = FALSE AND sender_type = ANY($2)`, sessionID, senderTypes)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
