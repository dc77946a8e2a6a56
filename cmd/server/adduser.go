package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/parley-social/parley/internal/auth"
	"github.com/parley-social/parley/internal/config"
	"github.com/parley-social/parley/internal/securelog"
	"github.com/parley-social/parley/internal/storage"
	"github.com/parley-social/parley/internal/user"
)

const addUserUsage = "usage: server adduser <username> <first name> [last name]"

// runAddUser creates one account against the configured database. The
// password comes from PARLEY_NEW_PASSWORD, or the first line of stdin.
func runAddUser(args []string, stdin io.Reader) error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := storage.NewPostgresStore(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer func() { _ = store.Close(context.WithoutCancel(ctx)) }()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	u, err := addUser(ctx, user.NewService(store.Users()), args, stdin)
	if err != nil {
		return err
	}
	log.Printf("created user ref=%s", securelog.Ref(string(u.ID)))
	return nil
}

func addUser(ctx context.Context, users *user.Service, args []string, stdin io.Reader) (user.User, error) {
	if len(args) < 2 || len(args) > 3 {
		return user.User{}, errors.New(addUserUsage)
	}
	password, err := readPassword(stdin)
	if err != nil {
		return user.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	var lastName string
	if len(args) == 3 {
		lastName = args[2]
	}
	u, err := users.Create(ctx, args[0], args[1], lastName, hash)
	if err != nil {
		return user.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func readPassword(stdin io.Reader) (string, error) {
	if pw, ok := os.LookupEnv("PARLEY_NEW_PASSWORD"); ok && pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
