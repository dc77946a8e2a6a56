package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parley-social/parley/internal/user"
)

const defaultTokenTTL = 24 * time.Hour

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTokenNotFound   = errors.New("token not found")
)

// Token is the stored form of an issued credential. Only the digest of the
// raw key is kept.
type Token struct {
	Digest    string
	UserID    user.ID
	CreatedAt time.Time
	ExpiresAt time.Time
}

type TokenRepository interface {
	Create(ctx context.Context, token Token) error
	GetByDigest(ctx context.Context, digest string) (Token, error)
	Delete(ctx context.Context, digest string) error
}

type UserStore interface {
	GetByID(ctx context.Context, id user.ID) (user.User, error)
	GetByUsername(ctx context.Context, username string) (user.User, error)
}

// Session is returned by Login. Token is the raw credential and is never
// stored.
type Session struct {
	Token     string
	User      user.User
	ExpiresAt time.Time
}

type Service struct {
	users    UserStore
	tokens   TokenRepository
	now      func() time.Time
	tokenTTL time.Duration
}

func NewService(users UserStore, tokens TokenRepository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Service{
		users:    users,
		tokens:   tokens,
		now:      time.Now,
		tokenTTL: ttl,
	}
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	if s.users == nil || s.tokens == nil {
		return Session{}, errors.New("user store and token repository are required")
	}
	if strings.TrimSpace(username) == "" || password == "" {
		return Session{}, ErrInvalidInput
	}

	found, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return Session{}, ErrUnauthenticated
		}
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if found.PasswordHash == "" {
		return Session{}, ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(found.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrUnauthenticated
	}

	raw, err := randomToken()
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	token := Token{
		Digest:    Digest(raw),
		UserID:    found.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokenTTL),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return Session{}, fmt.Errorf("store token: %w", err)
	}
	return Session{Token: raw, User: found, ExpiresAt: token.ExpiresAt}, nil
}

// ResolveIdentity maps a raw credential to its user. Unknown, expired and
// orphaned tokens all yield ErrUnauthenticated.
func (s *Service) ResolveIdentity(ctx context.Context, credential string) (user.User, error) {
	if s.users == nil || s.tokens == nil {
		return user.User{}, errors.New("user store and token repository are required")
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return user.User{}, ErrUnauthenticated
	}

	digest := Digest(credential)
	token, err := s.tokens.GetByDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return user.User{}, ErrUnauthenticated
		}
		return user.User{}, fmt.Errorf("load token: %w", err)
	}
	if !token.ExpiresAt.IsZero() && s.now().After(token.ExpiresAt) {
		_ = s.tokens.Delete(ctx, digest)
		return user.User{}, ErrUnauthenticated
	}

	u, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, ErrUnauthenticated
		}
		return user.User{}, fmt.Errorf("load token owner: %w", err)
	}
	return u, nil
}

func (s *Service) Logout(ctx context.Context, credential string) error {
	if s.tokens == nil {
		return errors.New("token repository is required")
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ErrUnauthenticated
	}
	if err := s.tokens.Delete(ctx, Digest(credential)); err != nil && !errors.Is(err, ErrTokenNotFound) {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// CredentialFromRequest extracts the raw credential from an
// "Authorization: Token <key>" header (Bearer is accepted too) or, failing
// that, a token query parameter.
func CredentialFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && (strings.EqualFold(parts[0], "token") || strings.EqualFold(parts[0], "bearer")) {
			return parts[1]
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Digest is the lookup key stored for a raw credential.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
