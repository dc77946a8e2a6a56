package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/parley-social/parley/internal/auth"
	"github.com/parley-social/parley/internal/connection"
	"github.com/parley-social/parley/internal/conversation"
	"github.com/parley-social/parley/internal/message"
	"github.com/parley-social/parley/internal/user"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	db            *sql.DB
	users         *userRepo
	tokens        *tokenRepo
	connections   *connectionRepo
	conversations *conversationRepo
	messages      *messageRepo
}

func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	if dbURL == "" {
		return nil, errors.New("db url is required")
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return newPostgresStore(db), nil
}

func newPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:            db,
		users:         &userRepo{db: db},
		tokens:        &tokenRepo{db: db},
		connections:   &connectionRepo{db: db},
		conversations: &conversationRepo{db: db},
		messages:      &messageRepo{db: db},
	}
}

func (s *PostgresStore) Close(context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return NewMigrator(s.db, migrationsFS).Up(ctx)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db is required")
	}
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Users() user.Repository {
	return s.users
}

func (s *PostgresStore) Tokens() auth.TokenRepository {
	return s.tokens
}

func (s *PostgresStore) Connections() connection.Repository {
	return s.connections
}

func (s *PostgresStore) Conversations() conversation.Repository {
	return s.conversations
}

func (s *PostgresStore) Messages() message.Repository {
	return s.messages
}
