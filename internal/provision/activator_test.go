package provision_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser/browsertest"
	"github.com/xkilldash9x/mapharness/internal/provision"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

var newAccount = provision.Account{
	Inbox:      "data_editor_1700000000000",
	Credential: schemas.Credential{Email: "data_editor_1700000000000@mailinator.com", Password: "Str0ng!pass"},
}

// primary wires the main page: the inbox renders under the inbox URL, the
// landing page anywhere on the application.
type primary struct {
	page    *browsertest.Page
	inbox   *inboxPage
	landing *landingPage
}

func newPrimary(t *testing.T, subject string, cred schemas.Credential) *primary {
	p := &primary{page: newPage(t)}
	p.page.SetCookies(&schemas.Cookie{Name: "sessionid", Value: "admin"})
	p.page.SetLocalStorage("token", "admin-token")
	p.page.OnNavigate = func(u string) {
		switch {
		case strings.HasPrefix(u, "https://inbox.test/"):
			p.page.Reset()
			p.inbox = newInboxPage(p.page, subject)
		case strings.HasPrefix(u, testBaseURL):
			// Signed out, every route lands on the public page.
			p.page.SetURL(testBaseURL + "/")
			p.page.Reset()
			p.landing = newLandingPage(p.page, cred)
		}
	}
	return p
}

func TestActivator_WebInbox(t *testing.T) {
	cfg := testConfig()
	p := newPrimary(t, "User Activation", newAccount.Credential)
	popup := newPage(t)
	setup := newSetupPage(popup)
	p.page.QueuePopup(popup)

	logger := zaptest.NewLogger(t)
	mailbox := provision.NewWebInbox(p.page, cfg.MailCfg, logger)
	err := provision.NewActivator(mailbox, nil, cfg, logger).Activate(context.Background(), p.page, newAccount)
	require.NoError(t, err)

	gotos := p.page.ActionsOf(browsertest.ActionGoto)
	require.Len(t, gotos, 2)
	assert.Equal(t, "https://inbox.test/v4/public/inboxes.jsp?to=data_editor_1700000000000", gotos[0].Value)
	assert.Equal(t, testBaseURL+"/dashboard/building", gotos[1].Value)

	assert.True(t, p.inbox.opened)
	assert.Equal(t, newAccount.Credential.Password, setup.newPassword.CurrentValue())
	assert.True(t, setup.changed)
	assert.True(t, setup.dashboard)
	assert.True(t, popup.Closed())

	assert.True(t, p.landing.signedIn)
	st, err := p.page.StorageState(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Cookies)
	assert.Empty(t, st.LocalStorage)

	// Cookies go before navigating, storage after, then the page reloads.
	var order []string
	for _, a := range p.page.Actions() {
		switch a.Kind {
		case browsertest.ActionClearCookies, browsertest.ActionClearStorage, browsertest.ActionReload:
			order = append(order, a.Kind)
		}
	}
	assert.Equal(t, []string{browsertest.ActionClearCookies, browsertest.ActionClearStorage, browsertest.ActionReload}, order)
}

func TestActivator_MailNeverArrives(t *testing.T) {
	cfg := testConfig()
	p := newPrimary(t, "Weekly digest", newAccount.Credential)

	logger := zaptest.NewLogger(t)
	mailbox := provision.NewWebInbox(p.page, cfg.MailCfg, logger)
	err := provision.NewActivator(mailbox, nil, cfg, logger).Activate(context.Background(), p.page, newAccount)
	require.ErrorIs(t, err, provision.ErrActivationMailMissing)

	var stepErr *workflow.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "open activation link", stepErr.Step)
	assert.Empty(t, p.page.ActionsOf(browsertest.ActionClearCookies))
}

// linkMailbox hands out a fixed link, the way the IMAP provider does.
type linkMailbox struct {
	link    string
	inboxes []string
}

func (m *linkMailbox) ActivationLink(_ context.Context, inbox string) (string, error) {
	m.inboxes = append(m.inboxes, inbox)
	return m.link, nil
}

func TestActivator_LinkMailboxOpensPage(t *testing.T) {
	cfg := testConfig()
	p := newPrimary(t, "User Activation", newAccount.Credential)
	launcher := browsertest.NewLauncher(t)
	t.Cleanup(func() { _ = launcher.Close() })
	launcher.Setup = func(page *browsertest.Page) { newSetupPage(page) }

	mailbox := &linkMailbox{link: testLink}
	err := provision.NewActivator(mailbox, launcher, cfg, zaptest.NewLogger(t)).Activate(context.Background(), p.page, newAccount)
	require.NoError(t, err)

	assert.Equal(t, []string{newAccount.Inbox}, mailbox.inboxes)
	pages := launcher.Pages()
	require.Len(t, pages, 1)
	gotos := pages[0].ActionsOf(browsertest.ActionGoto)
	require.Len(t, gotos, 1)
	assert.Equal(t, testLink, gotos[0].Value)
	assert.True(t, pages[0].Closed())
	assert.True(t, p.landing.signedIn)
}

func TestActivator_WrongPasswordStaysOnLanding(t *testing.T) {
	cfg := testConfig()
	p := newPrimary(t, "User Activation", schemas.Credential{Email: newAccount.Credential.Email, Password: "something else"})
	popup := newPage(t)
	newSetupPage(popup)
	p.page.QueuePopup(popup)

	logger := zaptest.NewLogger(t)
	mailbox := provision.NewWebInbox(p.page, cfg.MailCfg, logger)

	start := time.Now()
	err := provision.NewActivator(mailbox, nil, cfg, logger).Activate(context.Background(), p.page, newAccount)
	require.ErrorIs(t, err, workflow.ErrAssertion)
	assert.Less(t, time.Since(start), 5*time.Second)

	var stepErr *workflow.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "sign in as new account", stepErr.Step)
}
