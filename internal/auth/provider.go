// ABOUTME: Session providers backed by a static token or an env var / token file
// ABOUTME: Every call re-validates expiry so stale sessions are never handed out

package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StaticProvider serves a session parsed from a fixed token.
type StaticProvider struct {
	token  string
	secret []byte
	now    func() time.Time
}

// NewStaticProvider creates a provider for token. An empty token yields
// ErrNoSession on every call.
func NewStaticProvider(token string, secret []byte) *StaticProvider {
	return &StaticProvider{token: token, secret: secret, now: time.Now}
}

// Session implements Provider.
func (p *StaticProvider) Session(_ context.Context) (Session, error) {
	return resolve(p.token, p.secret, p.now())
}

// FileProvider reads the token from an environment variable, falling back to
// a file. Both are consulted on every call.
type FileProvider struct {
	envVar string
	path   string
	secret []byte
	now    func() time.Time
}

// NewFileProvider creates a provider. Either source may be empty.
func NewFileProvider(envVar, path string, secret []byte) *FileProvider {
	return &FileProvider{envVar: envVar, path: path, secret: secret, now: time.Now}
}

// Session implements Provider.
func (p *FileProvider) Session(_ context.Context) (Session, error) {
	token, err := p.token()
	if err != nil {
		return Session{}, err
	}
	return resolve(token, p.secret, p.now())
}

func (p *FileProvider) token() (string, error) {
	if p.envVar != "" {
		if token := os.Getenv(p.envVar); token != "" {
			return token, nil
		}
	}
	if p.path == "" {
		return "", ErrNoSession
	}

	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// DefaultTokenPath returns $XDG_CONFIG_HOME/resale-inbox/token, falling back
// to ~/.config.
func DefaultTokenPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "resale-inbox", "token")
}

func resolve(token string, secret []byte, now time.Time) (Session, error) {
	s, err := ParseToken(token, secret)
	if err != nil {
		return Session{}, err
	}
	if s.Expired(now) {
		return Session{}, ErrSessionExpired
	}
	return s, nil
}
