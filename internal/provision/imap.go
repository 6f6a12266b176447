package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/mapharness/internal/config"
)

// maxBodyPart bounds how much of one MIME part is scanned for the link.
const maxBodyPart = 512 * 1024

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
}

// IMAPInbox polls an IMAP mailbox for activation mail. Every poll opens a
// fresh connection; polls are spaced by the configured interval.
type IMAPInbox struct {
	cfg         config.MailConfig
	dialTimeout time.Duration
	logger      *zap.Logger
	newClient   func(config.IMAPConfig) (imapClient, error)
}

var _ Mailbox = (*IMAPInbox)(nil)

// NewIMAPInbox returns a mailbox reading cfg.IMAP.
func NewIMAPInbox(cfg config.MailConfig, logger *zap.Logger) *IMAPInbox {
	in := &IMAPInbox{
		cfg:         cfg,
		dialTimeout: 10 * time.Second,
		logger:      logger.Named("imap"),
	}
	in.newClient = in.dial
	return in
}

// ActivationLink waits up to the message timeout for a message addressed to
// inbox whose subject matches, and returns the link in the newest one.
func (in *IMAPInbox) ActivationLink(ctx context.Context, inbox string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, in.cfg.MessageTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(in.cfg.IMAP.PollInterval), 1)
	polls := 0
	for {
		// Wait fails early when the next slot lies past the deadline.
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w: no %q message for %s after %d polls within %s", ErrActivationMailMissing, in.cfg.Subject, inbox, polls, in.cfg.MessageTimeout)
		}
		polls++

		raw, err := in.newest(inbox)
		if err != nil {
			return "", err
		}
		if raw == nil {
			in.logger.Debug("Activation message not in mailbox yet.", zap.String("inbox", inbox), zap.Int("poll", polls))
			continue
		}
		body, err := messageText(raw)
		if err != nil {
			return "", fmt.Errorf("parse activation message: %w", err)
		}
		return findActivationLink(body)
	}
}

// newest returns the raw bytes of the newest matching message, or nil when
// none has arrived.
func (in *IMAPInbox) newest(inbox string) ([]byte, error) {
	imapCfg := in.cfg.IMAP
	client, err := in.newClient(imapCfg)
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	defer in.safeClose(client)

	if err := client.Login(imapCfg.Username, imapCfg.Password).Wait(); err != nil {
		return nil, fmt.Errorf("imap auth: %w", err)
	}
	mailbox := imapCfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", mailbox, err)
	}

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "To", Value: inbox + "@"},
			{Key: "Subject", Value: in.cfg.Subject},
		},
	}
	found, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := found.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	latest := slices.Max(uids)

	section := &imap.FetchItemBodySection{}
	bufs, err := client.Fetch(imap.UIDSetNum(latest), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	for _, buf := range bufs {
		if body := buf.FindBodySection(section); body != nil {
			if err := client.Logout().Wait(); err != nil {
				in.logger.Debug("IMAP logout failed.", zap.Error(err))
			}
			return append([]byte(nil), body...), nil
		}
	}
	return nil, fmt.Errorf("imap fetch: uid %d returned no body", latest)
}

func (in *IMAPInbox) safeClose(client imapClient) {
	if err := client.Close(); err != nil {
		in.logger.Debug("IMAP close failed.", zap.Error(err))
	}
}

func (in *IMAPInbox) dial(cfg config.IMAPConfig) (imapClient, error) {
	if cfg.Address == "" {
		return nil, errors.New("imap address is empty")
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: in.dialTimeout}}
	var (
		client *imapclient.Client
		err    error
	)
	if cfg.TLS {
		client, err = imapclient.DialTLS(cfg.Address, opts)
	} else {
		client, err = imapclient.DialInsecure(cfg.Address, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}

// messageText concatenates the decoded inline parts of a message, HTML
// included, since the verification link usually lives in an href.
func messageText(raw []byte) (string, error) {
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return "", err
	}
	var b strings.Builder
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", err
		}
		if _, ok := part.Header.(*gomail.InlineHeader); !ok {
			continue
		}
		chunk, err := io.ReadAll(io.LimitReader(part.Body, maxBodyPart))
		if err != nil {
			return "", err
		}
		b.Write(chunk)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
