package provision

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/config"
)

var (
	linksTab       = browser.Role("tab", browser.Exact("LINKS"))
	activationHref = browser.CSS(`a[href*="` + activationPath + `"]`).Nth(0)
)

// WebInbox reads activation mail from a public web inbox in the browser.
type WebInbox struct {
	page   browser.Page
	cfg    config.MailConfig
	logger *zap.Logger
}

var _ PopupMailbox = (*WebInbox)(nil)

// NewWebInbox drives the inbox pages on page.
func NewWebInbox(page browser.Page, cfg config.MailConfig, logger *zap.Logger) *WebInbox {
	return &WebInbox{page: page, cfg: cfg, logger: logger.Named("webinbox")}
}

// InboxURL returns the address of the public inbox for inbox.
func (w *WebInbox) InboxURL(inbox string) (string, error) {
	u, err := url.Parse(w.cfg.WebInboxURL)
	if err != nil {
		return "", fmt.Errorf("parse web inbox url: %w", err)
	}
	q := u.Query()
	q.Set("to", inbox)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// openMessage shows the newest activation message with its links tab selected.
func (w *WebInbox) openMessage(ctx context.Context, inbox string) error {
	target, err := w.InboxURL(inbox)
	if err != nil {
		return err
	}
	if err := w.page.Goto(ctx, target); err != nil {
		return err
	}

	row := w.page.Locate(browser.CSS("tr").Filter(browser.Text(w.cfg.Subject)).Nth(0))
	if err := row.WaitVisible(ctx, w.cfg.MessageTimeout); err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			return fmt.Errorf("%w: no %q message for %s within %s", ErrActivationMailMissing, w.cfg.Subject, inbox, w.cfg.MessageTimeout)
		}
		return err
	}
	w.logger.Debug("Activation message arrived.", zap.String("inbox", inbox))
	if err := row.Click(ctx); err != nil {
		return err
	}
	return w.page.Locate(linksTab).Click(ctx)
}

// ActivationLink returns the verification link without following it.
func (w *WebInbox) ActivationLink(ctx context.Context, inbox string) (string, error) {
	if err := w.openMessage(ctx, inbox); err != nil {
		return "", err
	}
	link := w.page.Locate(activationHref)
	if err := link.WaitVisible(ctx, 0); err != nil {
		return "", fmt.Errorf("%w: %v", ErrActivationLinkMissing, err)
	}
	href, ok, err := link.Attribute(ctx, "href")
	if err != nil {
		return "", err
	}
	if !ok || href == "" {
		return "", fmt.Errorf("%w: link carries no href", ErrActivationLinkMissing)
	}
	return href, nil
}

// OpenActivation clicks the verification link and returns the popup it raises.
func (w *WebInbox) OpenActivation(ctx context.Context, inbox string) (browser.Page, error) {
	if err := w.openMessage(ctx, inbox); err != nil {
		return nil, err
	}
	link := w.page.Locate(activationHref)
	if err := link.WaitVisible(ctx, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrActivationLinkMissing, err)
	}
	return w.page.ExpectPopup(ctx, func(ctx context.Context) error {
		return link.Click(ctx)
	})
}
