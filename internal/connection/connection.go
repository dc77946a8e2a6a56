// Package connection answers whether two users share an accepted social
// connection. Requests and accept/decline are handled elsewhere; this package
// only reads the outcome.
package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/parley-social/parley/internal/user"
)

var ErrNotConnected = errors.New("users are not connected")

type Repository interface {
	// IsConnected reports whether an accepted connection exists for the
	// unordered pair.
	IsConnected(ctx context.Context, a, b user.ID) (bool, error)
}

type Directory struct {
	repo Repository
}

func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo}
}

// Authorize returns nil when a and b may converse and ErrNotConnected when
// they may not. A user is never connected to themselves.
func (d *Directory) Authorize(ctx context.Context, a, b user.ID) error {
	if d.repo == nil {
		return errors.New("repository is required")
	}
	if a == "" || b == "" || a == b {
		return ErrNotConnected
	}
	ok, err := d.repo.IsConnected(ctx, a, b)
	if err != nil {
		return fmt.Errorf("check connection: %w", err)
	}
	if !ok {
		return ErrNotConnected
	}
	return nil
}
