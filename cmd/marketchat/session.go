package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"

	"campusmarket/internal/app/chat"
	"campusmarket/internal/sdk"
)

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".marketchat-session"
	}
	return filepath.Join(dir, "marketchat", "session")
}

func loadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read session: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func saveToken(path, token string) error {
	if token == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func newLogger(c *cli.Context) *slog.Logger {
	var w io.Writer = io.Discard
	if c.Bool("verbose") {
		w = os.Stderr
	}
	return slog.New(tint.NewHandler(w, &tint.Options{Level: slog.LevelDebug, TimeFormat: time.Kitchen}))
}

// newClient builds an API client carrying the flag token or the saved session.
func newClient(c *cli.Context) (*sdk.Client, error) {
	token := c.String("token")
	if token == "" {
		saved, err := loadToken(c.String("session-file"))
		if err != nil {
			return nil, err
		}
		token = saved
	}
	return sdk.New(c.String("api"), sdk.WithToken(token), sdk.WithLogger(newLogger(c)))
}

func signedInClient(c *cli.Context) (*sdk.Client, error) {
	client, err := newClient(c)
	if err != nil {
		return nil, err
	}
	if client.Token() == "" {
		return nil, fmt.Errorf("%w: run `marketchat login` first", sdk.ErrNotSignedIn)
	}
	return client, nil
}

// openMessenger starts a chat session against the API. onStream may be nil.
func openMessenger(ctx context.Context, c *cli.Context, client *sdk.Client, onStream func([]chat.Entry)) (*chat.Messenger, error) {
	return chat.NewMessenger(ctx, chat.MessengerDeps{
		Identity:  client,
		Store:     client,
		Feed:      client.Feed(),
		Storage:   client,
		Logger:    newLogger(c),
		OpTimeout: 20 * time.Second,
		OnStream:  onStream,
	})
}

func conversationArg(c *cli.Context) (string, error) {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return "", errors.New("conversation id is required")
	}
	return id, nil
}
