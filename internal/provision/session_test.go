package provision_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser/browsertest"
	"github.com/xkilldash9x/mapharness/internal/config"
	"github.com/xkilldash9x/mapharness/internal/provision"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

func newStore(t *testing.T) *provision.SessionStore {
	t.Helper()
	cfg := config.SessionConfig{
		StorageStatePath: filepath.Join(t.TempDir(), "state", "storage-state.json"),
		TokenKey:         "token",
		MinTokenLifetime: 5 * time.Minute,
	}
	s, err := provision.NewSessionStore(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestSessionStore_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	s, err := provision.NewSessionStore(config.SessionConfig{StorageStatePath: "~/.mapharness/state.json"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".mapharness", "state.json"), s.Path())
}

func TestSessionStore_SaveAndRestore(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	token := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	src := newPage(t)
	src.SetURL(testBaseURL + "/dashboard/building")
	src.SetCookies(&schemas.Cookie{Name: "csrftoken", Value: "c1", Domain: "app.test", Path: "/"})
	src.SetLocalStorage("token", `"`+token+`"`)
	require.NoError(t, s.Save(ctx, src))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dst := newPage(t)
	require.NoError(t, s.Restore(ctx, dst))

	st, err := dst.StorageState(ctx)
	require.NoError(t, err)
	assert.Equal(t, testBaseURL, st.Origin)
	assert.Equal(t, `"`+token+`"`, st.LocalStorage["token"])
	require.Len(t, st.Cookies, 1)
	assert.Equal(t, "c1", st.Cookies[0].Value)

	gotos := dst.ActionsOf(browsertest.ActionGoto)
	require.Len(t, gotos, 1)
	assert.Equal(t, testBaseURL, gotos[0].Value)
	assert.Len(t, dst.ActionsOf(browsertest.ActionReload), 1)
}

func TestSessionStore_LoadMissing(t *testing.T) {
	_, err := newStore(t).Load()
	require.ErrorIs(t, err, provision.ErrNoStoredSession)
}

func TestSessionStore_Fresh(t *testing.T) {
	s := newStore(t)
	state := func(token string) schemas.StorageState {
		return schemas.StorageState{LocalStorage: map[string]string{"token": token}}
	}

	require.NoError(t, s.Fresh(state(signedToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}))))
	require.NoError(t, s.Fresh(state(signedToken(t, jwt.MapClaims{"sub": "7"}))), "a token without exp never expires")

	err := s.Fresh(state(signedToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()})))
	require.ErrorIs(t, err, provision.ErrSessionExpired, "less than the minimum lifetime left")

	err = s.Fresh(schemas.StorageState{})
	require.ErrorIs(t, err, provision.ErrTokenMissing)

	err = s.Fresh(state("not-a-jwt"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, provision.ErrSessionExpired)
}

func TestSessionStore_TokenFromCookie(t *testing.T) {
	s := newStore(t)
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	st := schemas.StorageState{Cookies: []*schemas.Cookie{{Name: "token", Value: signedToken(t, jwt.MapClaims{"exp": exp.Unix()})}}}

	got, err := s.TokenExpiry(st)
	require.NoError(t, err)
	assert.True(t, exp.Equal(got), "got %s want %s", got, exp)
}

func TestSessionStore_EnsureSignsInWhenMissing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	page := newPage(t)
	cfg := testConfig()
	env := workflow.NewEnv(page, cfg, zaptest.NewLogger(t))
	token := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	page.Add(&browsertest.Element{Tag: "input", Selectors: []string{`input[type="email"], input[name="email"], [placeholder*="email" i]`}})
	page.Add(&browsertest.Element{Tag: "input", Selectors: []string{`input[type="password"], input[name="password"], [placeholder*="password" i]`}})
	submit := page.Add(&browsertest.Element{Tag: "button", Text: "Sign in", Selectors: []string{`button[type="submit"]`}})
	submit.OnClick = func(context.Context, schemas.Point) error {
		page.SetURL(testBaseURL + "/dashboard/building")
		page.SetLocalStorage("token", token)
		page.Add(browsertest.Div("Dashboard"))
		return nil
	}

	require.NoError(t, s.Ensure(ctx, env, schemas.Credential{Email: "editor@example.com", Password: "s3cret"}))

	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, token, st.LocalStorage["token"])
	assert.Equal(t, testBaseURL, st.Origin)

	// A second call restores instead of signing in again.
	clicks := len(page.ActionsOf(browsertest.ActionClick))
	require.NoError(t, s.Ensure(ctx, env, schemas.Credential{}))
	assert.Len(t, page.ActionsOf(browsertest.ActionClick), clicks)
}
