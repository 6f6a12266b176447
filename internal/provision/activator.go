package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/config"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

// Selectors of the password setup page the activation link opens.
var (
	newPasswordField     = browser.ByLabel(browser.Exact("New Password"))
	confirmPasswordField = browser.ByLabel(browser.Exact("Confirm Password"))
	changePasswordButton = browser.Role("button", browser.Pattern("change password"))
	loginPageLink        = browser.Role("link", browser.Exact("Login page"))
	dashboardButton      = browser.Role("button", browser.Exact("ड्यासबोर्ड"))
)

// Selectors of the landing page sign-in dialog.
var (
	landingSignInButton = browser.Role("button", browser.Exact("साइन इन"))
	landingEmailField   = browser.ByLabel(browser.Exact("इमेल"))
	landingPassword     = browser.ByLabel(browser.Exact("पासवर्ड"))
	landingLoginButton  = browser.Role("button", browser.Exact("लग इन"))
)

// Account is a freshly created user awaiting activation.
type Account struct {
	Inbox      string
	Credential schemas.Credential
}

// AccountFor pairs a created user with the password it will be given.
func AccountFor(u workflow.User, password string) Account {
	return Account{
		Inbox:      u.Inbox(),
		Credential: schemas.Credential{Email: u.Email, Password: password},
	}
}

// PageOpener opens a standalone page; browser.Launcher satisfies it.
type PageOpener interface {
	NewPage(ctx context.Context) (browser.Page, error)
}

// Activator completes account activation: it follows the mailed link, sets
// the password, then signs the new account in on the primary page.
type Activator struct {
	mailbox Mailbox
	opener  PageOpener
	target  config.TargetConfig
	network config.NetworkConfig
	logger  *zap.Logger
}

// NewActivator returns an activator. opener is only used when mailbox can
// not open the activation page itself, and may be nil otherwise.
func NewActivator(mailbox Mailbox, opener PageOpener, cfg config.Interface, logger *zap.Logger) *Activator {
	return &Activator{
		mailbox: mailbox,
		opener:  opener,
		target:  cfg.Target(),
		network: cfg.Network(),
		logger:  logger.Named("activation"),
	}
}

func (a *Activator) step(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &workflow.StepError{Flow: "activation", Step: name, Err: err}
	}
	if err := fn(ctx); err != nil {
		a.logger.Debug("Step failed.", zap.String("step", name), zap.Error(err))
		return &workflow.StepError{Flow: "activation", Step: name, Err: err}
	}
	return nil
}

// Activate runs the whole activation for acct and leaves page signed in as
// the new account on the dashboard.
func (a *Activator) Activate(ctx context.Context, page browser.Page, acct Account) error {
	var setup browser.Page
	err := a.step(ctx, "open activation link", func(ctx context.Context) error {
		var err error
		setup, err = a.openActivation(ctx, acct.Inbox)
		return err
	})
	if err != nil {
		return err
	}

	err = a.step(ctx, "set password", func(ctx context.Context) error {
		return a.setPassword(ctx, setup, acct.Credential.Password)
	})
	closeErr := setup.Close()
	if err != nil {
		return err
	}
	if closeErr != nil && !errors.Is(closeErr, browser.ErrPageClosed) {
		a.logger.Debug("Activation page close failed.", zap.Error(closeErr))
	}

	if err := a.step(ctx, "reset primary session", func(ctx context.Context) error {
		return a.resetSession(ctx, page)
	}); err != nil {
		return err
	}
	if err := a.step(ctx, "sign in as new account", func(ctx context.Context) error {
		return a.signIn(ctx, page, acct.Credential)
	}); err != nil {
		return err
	}
	a.logger.Info("Account activated.", zap.String("email", acct.Credential.Email))
	return nil
}

func (a *Activator) openActivation(ctx context.Context, inbox string) (browser.Page, error) {
	if pm, ok := a.mailbox.(PopupMailbox); ok {
		return pm.OpenActivation(ctx, inbox)
	}
	link, err := a.mailbox.ActivationLink(ctx, inbox)
	if err != nil {
		return nil, err
	}
	if a.opener == nil {
		return nil, errors.New("mailbox returned a link but no page opener is configured")
	}
	page, err := a.opener.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open activation page: %w", err)
	}
	if err := page.Goto(ctx, link); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

// setPassword fills the setup form and walks through to the dashboard once,
// which completes the first login the application requires.
func (a *Activator) setPassword(ctx context.Context, setup browser.Page, password string) error {
	if err := setup.Locate(newPasswordField).Fill(ctx, password); err != nil {
		return err
	}
	if err := setup.Locate(confirmPasswordField).Fill(ctx, password); err != nil {
		return err
	}
	if err := setup.Locate(changePasswordButton).Click(ctx); err != nil {
		return err
	}
	if err := setup.Locate(loginPageLink).Click(ctx); err != nil {
		return err
	}
	return setup.Locate(dashboardButton).Click(ctx)
}

// resetSession drops whatever account the primary page was signed in as.
// Storage is per origin, so the page is moved onto the application first.
func (a *Activator) resetSession(ctx context.Context, page browser.Page) error {
	if err := page.ClearCookies(ctx); err != nil {
		return err
	}
	if err := page.Goto(ctx, a.target.URL(a.target.Routes.Dashboard)); err != nil {
		return err
	}
	if err := browser.Pause(ctx, a.network.PostLoadWait); err != nil {
		return err
	}
	if err := page.ClearStorage(ctx); err != nil {
		return err
	}
	return page.Reload(ctx)
}

func (a *Activator) signIn(ctx context.Context, page browser.Page, cred schemas.Credential) error {
	if err := page.Locate(landingSignInButton).Click(ctx); err != nil {
		return err
	}
	if err := page.Locate(landingEmailField).Fill(ctx, cred.Email); err != nil {
		return err
	}
	if err := page.Locate(landingPassword).Fill(ctx, cred.Password); err != nil {
		return err
	}
	if err := page.Locate(landingLoginButton).Click(ctx); err != nil {
		return err
	}

	want := a.target.Routes.Dashboard
	var last string
	err := browser.Poll(ctx, a.network.ElementTimeout, a.network.PollInterval, func(ctx context.Context) (bool, error) {
		u, err := page.URL(ctx)
		if err != nil {
			return false, err
		}
		last = u
		return strings.Contains(u, want), nil
	})
	if errors.Is(err, browser.ErrTimeout) {
		return fmt.Errorf("%w: url %q did not reach %q", workflow.ErrAssertion, last, want)
	}
	return err
}
