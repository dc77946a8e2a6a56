package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/parley-social/parley/internal/auth"
	"github.com/parley-social/parley/internal/conversation"
	"github.com/parley-social/parley/internal/message"
	"github.com/parley-social/parley/internal/user"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type userRepo struct {
	db *sql.DB
}

const selectUser = `SELECT id, username, first_name, last_name, password_hash, created_at FROM users`

func (r *userRepo) Create(ctx context.Context, u user.User) error {
	if u.ID == "" || u.Username == "" || u.CreatedAt.IsZero() {
		return errors.New("user id, username, and created_at are required")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, username, first_name, last_name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, u.ID, u.Username, u.FirstName, u.LastName, nullString(u.PasswordHash), u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user: %w", user.ErrInvalidInput)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id user.ID) (user.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id), "select user by id")
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (user.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectUser+` WHERE username = $1`, username), "select user by username")
}

func (r *userRepo) scanOne(row *sql.Row, op string) (user.User, error) {
	var u user.User
	var passwordHash sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &passwordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.PasswordHash = passwordHash.String
	return u, nil
}

type tokenRepo struct {
	db *sql.DB
}

func (r *tokenRepo) Create(ctx context.Context, t auth.Token) error {
	if t.Digest == "" || t.UserID == "" || t.ExpiresAt.IsZero() {
		return errors.New("token digest, user_id, and expires_at are required")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO auth_tokens (digest, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)`, t.Digest, t.UserID, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (r *tokenRepo) GetByDigest(ctx context.Context, digest string) (auth.Token, error) {
	row := r.db.QueryRowContext(ctx, `SELECT digest, user_id, created_at, expires_at
		FROM auth_tokens WHERE digest = $1`, digest)
	var t auth.Token
	if err := row.Scan(&t.Digest, &t.UserID, &t.CreatedAt, &t.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Token{}, auth.ErrTokenNotFound
		}
		return auth.Token{}, fmt.Errorf("select token: %w", err)
	}
	return t, nil
}

func (r *tokenRepo) Delete(ctx context.Context, digest string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE digest = $1`, digest)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete token rows: %w", err)
	}
	if n == 0 {
		return auth.ErrTokenNotFound
	}
	return nil
}

type connectionRepo struct {
	db *sql.DB
}

func (r *connectionRepo) IsConnected(ctx context.Context, a, b user.ID) (bool, error) {
	if a > b {
		a, b = b, a
	}
	var ok bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM connections WHERE user_a = $1 AND user_b = $2 AND accepted
	)`, a, b).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("select connection: %w", err)
	}
	return ok, nil
}

type conversationRepo struct {
	db *sql.DB
}

func (r *conversationRepo) FindByParticipants(ctx context.Context, a, b user.ID) (conversation.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT c.name, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants pa ON pa.conversation = c.name AND pa.user_id = $1
		JOIN conversation_participants pb ON pb.conversation = c.name AND pb.user_id = $2
		WHERE (SELECT COUNT(*) FROM conversation_participants p WHERE p.conversation = c.name) = 2
		LIMIT 1`, a, b)
	c := conversation.Conversation{Participants: [2]user.ID{a, b}}
	if err := row.Scan(&c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Conversation{}, conversation.ErrNotFound
		}
		return conversation.Conversation{}, fmt.Errorf("select conversation: %w", err)
	}
	return c, nil
}

func (r *conversationRepo) Create(ctx context.Context, c conversation.Conversation) error {
	if c.Name == "" || c.Participants[0] == "" || c.Participants[1] == "" || c.CreatedAt.IsZero() {
		return errors.New("conversation name, participants, and created_at are required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conversation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO conversations (name, created_at, updated_at)
		VALUES ($1, $2, $3)`, c.Name, c.CreatedAt, c.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return conversation.ErrConflict
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	for _, id := range c.Participants {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation, user_id)
			VALUES ($1, $2)`, c.Name, id); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return conversation.ErrConflict
		}
		return fmt.Errorf("commit conversation: %w", err)
	}
	return nil
}

func (r *conversationRepo) ListForUser(ctx context.Context, id user.ID) ([]conversation.Summary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT c.name, c.created_at, c.updated_at, peer.user_id, u.username
		FROM conversations c
		JOIN conversation_participants me ON me.conversation = c.name AND me.user_id = $1
		JOIN conversation_participants peer ON peer.conversation = c.name AND peer.user_id <> $1
		JOIN users u ON u.id = peer.user_id
		ORDER BY c.updated_at DESC, c.name`, id)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []conversation.Summary
	for rows.Next() {
		var s conversation.Summary
		if err := rows.Scan(&s.Name, &s.CreatedAt, &s.UpdatedAt, &s.PeerID, &s.PeerUsername); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		s.Participants = [2]user.ID{id, s.PeerID}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

type messageRepo struct {
	db *sql.DB
}

func (r *messageRepo) Append(ctx context.Context, m message.Message) error {
	if m.ID == "" || m.Conversation == "" || m.SenderID == "" || m.CreatedAt.IsZero() {
		return errors.New("message id, conversation, sender_id, and created_at are required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO messages (id, conversation, sender_id, text, media, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.Conversation, m.SenderID, nullString(m.Text), nullString(m.Media), m.Read, m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = GREATEST(updated_at, $2) WHERE name = $1`, m.Conversation, m.CreatedAt); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

const selectMessages = `SELECT m.id, m.conversation, m.sender_id, u.username, u.first_name, u.last_name,
		m.text, m.media, m.read, m.created_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id
	WHERE m.conversation = $1`

func (r *messageRepo) ListAfter(ctx context.Context, conv string, cursor *message.Cursor, limit int) ([]message.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	var (
		rows *sql.Rows
		err  error
	)
	if cursor == nil {
		rows, err = r.db.QueryContext(ctx, selectMessages+`
			ORDER BY m.created_at, m.id LIMIT $2`, conv, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, selectMessages+`
			AND (m.created_at, m.id) > ($2, $3)
			ORDER BY m.created_at, m.id LIMIT $4`, conv, cursor.CreatedAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]message.Message, 0, limit)
	for rows.Next() {
		var m message.Message
		var text, media sql.NullString
		if err := rows.Scan(&m.ID, &m.Conversation, &m.SenderID, &m.Sender.Username, &m.Sender.FirstName, &m.Sender.LastName,
			&text, &media, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Text = text.String
		m.Media = media.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (r *messageRepo) MarkRead(ctx context.Context, conv string, reader user.ID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read = TRUE
		WHERE conversation = $1 AND sender_id <> $2 AND NOT read`, conv, reader)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read rows: %w", err)
	}
	return n, nil
}
