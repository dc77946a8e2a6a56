package storage

import (
	"context"

	"github.com/parley-social/parley/internal/auth"
	"github.com/parley-social/parley/internal/connection"
	"github.com/parley-social/parley/internal/conversation"
	"github.com/parley-social/parley/internal/message"
	"github.com/parley-social/parley/internal/user"
)

// Store hands out the per-domain repositories over one database.
type Store interface {
	Close(ctx context.Context) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Users() user.Repository
	Tokens() auth.TokenRepository
	Connections() connection.Repository
	Conversations() conversation.Repository
	Messages() message.Repository
}

var _ Store = (*PostgresStore)(nil)
