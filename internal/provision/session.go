package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/config"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNoStoredSession means no storage state file exists yet.
	ErrNoStoredSession = errors.New("no stored session")
	// ErrSessionExpired means the stored access token is expired or about to be.
	ErrSessionExpired = errors.New("stored session expired")
	// ErrTokenMissing means the stored state carries no access token.
	ErrTokenMissing = errors.New("stored session has no access token")
)

var parserUnverified = jwt.NewParser()

// SessionStore keeps an authenticated storage state on disk so later runs
// can skip the login form.
type SessionStore struct {
	path        string
	tokenKey    string
	minLifetime time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewSessionStore expands the configured path; a leading ~ is the home directory.
func NewSessionStore(cfg config.SessionConfig, logger *zap.Logger) (*SessionStore, error) {
	path, err := homedir.Expand(cfg.StorageStatePath)
	if err != nil {
		return nil, fmt.Errorf("expand storage state path: %w", err)
	}
	return &SessionStore{
		path:        path,
		tokenKey:    cfg.TokenKey,
		minLifetime: cfg.MinTokenLifetime,
		now:         time.Now,
		logger:      logger.Named("session"),
	}, nil
}

// Path is the expanded location of the storage state file.
func (s *SessionStore) Path() string { return s.path }

// Save writes page's current storage state.
func (s *SessionStore) Save(ctx context.Context, page browser.Page) error {
	st, err := page.StorageState(ctx)
	if err != nil {
		return fmt.Errorf("read storage state: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create storage state dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write storage state: %w", err)
	}
	s.logger.Info("Storage state saved.", zap.String("path", s.path), zap.Int("cookies", len(st.Cookies)))
	return nil
}

// Load reads the stored state.
func (s *SessionStore) Load() (schemas.StorageState, error) {
	var st schemas.StorageState
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, fmt.Errorf("%w at %s", ErrNoStoredSession, s.path)
	}
	if err != nil {
		return st, fmt.Errorf("read storage state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode storage state %s: %w", s.path, err)
	}
	return st, nil
}

// TokenExpiry decodes the stored access token without verifying it and
// returns its exp claim. A token without exp yields the zero time.
func (s *SessionStore) TokenExpiry(st schemas.StorageState) (time.Time, error) {
	raw := s.token(st)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w under %q", ErrTokenMissing, s.tokenKey)
	}
	token, _, err := parserUnverified.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("decode access token: %w", err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// token looks in localStorage first, then cookies. Values stored through
// JSON.stringify arrive quoted.
func (s *SessionStore) token(st schemas.StorageState) string {
	if v, ok := st.LocalStorage[s.tokenKey]; ok {
		return strings.Trim(v, `"`)
	}
	for _, c := range st.Cookies {
		if c != nil && c.Name == s.tokenKey {
			return c.Value
		}
	}
	return ""
}

// Fresh reports ErrSessionExpired when the token lives shorter than the
// configured minimum.
func (s *SessionStore) Fresh(st schemas.StorageState) error {
	exp, err := s.TokenExpiry(st)
	if err != nil {
		return err
	}
	if exp.IsZero() {
		return nil
	}
	if left := exp.Sub(s.now()); left < s.minLifetime {
		return fmt.Errorf("%w: token expires at %s", ErrSessionExpired, exp.Format(time.RFC3339))
	}
	return nil
}

// Restore installs the stored state into page. The page is moved onto the
// stored origin first so localStorage lands there, then reloaded.
func (s *SessionStore) Restore(ctx context.Context, page browser.Page) error {
	st, err := s.Load()
	if err != nil {
		return err
	}
	if err := s.Fresh(st); err != nil {
		return err
	}
	if st.Origin != "" {
		if err := page.Goto(ctx, st.Origin); err != nil {
			return err
		}
	}
	if err := page.RestoreStorageState(ctx, st); err != nil {
		return fmt.Errorf("restore storage state: %w", err)
	}
	if err := page.Reload(ctx); err != nil {
		return err
	}
	s.logger.Debug("Storage state restored.", zap.String("origin", st.Origin))
	return nil
}

// Bootstrap signs in through the login form and saves the result.
func (s *SessionStore) Bootstrap(ctx context.Context, env *workflow.Env, cred schemas.Credential) error {
	if err := workflow.NewLogin(env).SignIn(ctx, cred); err != nil {
		return err
	}
	return s.Save(ctx, env.Page)
}

// Ensure restores a usable stored session into env's page, signing in and
// saving a new one when the stored state is missing or stale.
func (s *SessionStore) Ensure(ctx context.Context, env *workflow.Env, cred schemas.Credential) error {
	err := s.Restore(ctx, env.Page)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoStoredSession), errors.Is(err, ErrSessionExpired), errors.Is(err, ErrTokenMissing):
		s.logger.Info("Stored session unusable, signing in again.", zap.Error(err))
		return s.Bootstrap(ctx, env, cred)
	default:
		return err
	}
}
