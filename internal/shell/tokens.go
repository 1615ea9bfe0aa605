package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/dyluth/depi/pkg/depi"
)

// TokenStore persists session tokens between runs, keyed by user.
type TokenStore interface {
	Load(user string) (string, error)
	Save(user, token string) error
}

// FileTokenStore keeps tokens in a JSON file readable only by the owner.
type FileTokenStore struct {
	Path string
	mu   sync.Mutex
}

// Load returns the stored token of user, or "" when there is none.
func (f *FileTokenStore) Load(user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tokens, err := f.read()
	if err != nil {
		return "", err
	}
	return tokens[user], nil
}

// Save stores token for user. An empty token removes the entry.
func (f *FileTokenStore) Save(user, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tokens, err := f.read()
	if err != nil {
		return err
	}
	if token == "" {
		delete(tokens, user)
	} else {
		tokens[user] = token
	}

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

func (f *FileTokenStore) read() (map[string]string, error) {
	tokens := make(map[string]string)
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return tokens, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", f.Path, err)
	}
	return tokens, nil
}

// Connect logs user in, silently with a stored token when one is still accepted,
// otherwise with password. The fresh token is stored for the next run.
func Connect(ctx context.Context, t depi.Transport, user, password string, store TokenStore) (*depi.Session, error) {
	if store != nil {
		token, err := store.Load(user)
		if err != nil {
			log.Printf("[Shell] Ignoring token store: %v", err)
		} else if token != "" {
			s, err := depi.LoginWithToken(ctx, t, user, token)
			if err == nil {
				saveToken(store, s)
				return s, nil
			}
			if !depi.IsAuth(err) {
				return nil, err
			}
			log.Printf("[Shell] Stored token rejected, logging in with password")
		}
	}

	if password == "" {
		return nil, depi.Errorf(depi.KindAuth, depi.MethodLogin, "no valid token and no password for %s", user)
	}
	s, err := depi.Login(ctx, t, user, password)
	if err != nil {
		return nil, err
	}
	saveToken(store, s)
	return s, nil
}

func saveToken(store TokenStore, s *depi.Session) {
	if store == nil || s.Token() == "" {
		return
	}
	if err := store.Save(s.User(), s.Token()); err != nil {
		log.Printf("[Shell] Failed to store token: %v", err)
	}
}
