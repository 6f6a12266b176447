// Package provision bridges the harness to the collaborators that sit
// outside the application under test: the mail service that delivers account
// activation links, and the on-disk cache of an authenticated session.
package provision

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/config"
)

var (
	// ErrActivationMailMissing means no activation message reached the inbox in time.
	ErrActivationMailMissing = errors.New("activation mail not received")
	// ErrActivationLinkMissing means the activation message carried no verification link.
	ErrActivationLinkMissing = errors.New("activation link not found")
)

// activationPath identifies the verification link inside an activation message.
const activationPath = "/email-verification/"

var activationLink = regexp.MustCompile(`https?://[^\s"'<>]+` + regexp.QuoteMeta(activationPath) + `[^\s"'<>]*`)

// Mailbox resolves the activation link sent to an inbox. The inbox is the
// local part of the account's address.
type Mailbox interface {
	ActivationLink(ctx context.Context, inbox string) (string, error)
}

// PopupMailbox is a Mailbox that can follow the link itself, handing back
// the browsing context the link opened.
type PopupMailbox interface {
	Mailbox
	OpenActivation(ctx context.Context, inbox string) (browser.Page, error)
}

// NewMailbox returns the provider selected by cfg.Provider. The web provider
// drives page; the IMAP provider ignores it.
func NewMailbox(cfg config.MailConfig, page browser.Page, logger *zap.Logger) (Mailbox, error) {
	switch cfg.Provider {
	case config.MailProviderWeb:
		if page == nil {
			return nil, errors.New("web mailbox requires a page")
		}
		return NewWebInbox(page, cfg, logger), nil
	case config.MailProviderIMAP:
		return NewIMAPInbox(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// InboxOf returns the local part of an email address.
func InboxOf(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// findActivationLink extracts the first verification link from a message
// body, decoding HTML entities left over from href attributes.
func findActivationLink(body string) (string, error) {
	raw := activationLink.FindString(body)
	if raw == "" {
		return "", ErrActivationLinkMissing
	}
	link := html.UnescapeString(raw)
	if _, err := url.Parse(link); err != nil {
		return "", fmt.Errorf("%w: malformed link %q: %v", ErrActivationLinkMissing, link, err)
	}
	return link, nil
}
