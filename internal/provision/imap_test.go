package provision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mapharness/internal/config"
)

const activationMail = "From: noreply@app.test\r\n" +
	"To: qa_inbox@mailinator.com\r\n" +
	"Subject: User Activation\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Welcome aboard. Activate your account from the HTML version.\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"<p><a href=3D\"https://app.test/email-verification/MjQ/c7x?next=3D1&amp;lang=3Den\">Activate</a></p>\r\n" +
	"--b1--\r\n"

func imapTestConfig() config.MailConfig {
	return config.MailConfig{
		Provider:       config.MailProviderIMAP,
		Subject:        "User Activation",
		MessageTimeout: 200 * time.Millisecond,
		IMAP: config.IMAPConfig{
			Address:      "mail.test:993",
			Username:     "qa",
			Password:     "secret",
			Mailbox:      "INBOX",
			PollInterval: 20 * time.Millisecond,
		},
	}
}

func newTestInbox(t *testing.T, factory func(config.IMAPConfig) (imapClient, error)) *IMAPInbox {
	in := NewIMAPInbox(imapTestConfig(), zaptest.NewLogger(t))
	in.newClient = factory
	return in
}

func TestIMAPInbox_ActivationLink(t *testing.T) {
	client := &fakeIMAPClient{
		uids:   []imap.UID{3, 9, 5},
		bodies: map[imap.UID][]byte{9: []byte(activationMail)},
	}
	in := newTestInbox(t, func(config.IMAPConfig) (imapClient, error) { return client, nil })

	link, err := in.ActivationLink(context.Background(), "qa_inbox")
	require.NoError(t, err)
	assert.Equal(t, "https://app.test/email-verification/MjQ/c7x?next=1&lang=en", link)

	assert.Equal(t, []imap.UID{9}, client.fetched, "only the newest match is fetched")
	assert.True(t, client.readOnly)
	assert.True(t, client.closed)
	require.NotNil(t, client.criteria)
	assert.Contains(t, client.criteria.Header, imap.SearchCriteriaHeaderField{Key: "To", Value: "qa_inbox@"})
	assert.Contains(t, client.criteria.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: "User Activation"})
}

func TestIMAPInbox_PollsUntilDelivered(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	in := newTestInbox(t, func(config.IMAPConfig) (imapClient, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials < 3 {
			return &fakeIMAPClient{}, nil
		}
		return &fakeIMAPClient{
			uids:   []imap.UID{1},
			bodies: map[imap.UID][]byte{1: []byte(activationMail)},
		}, nil
	})

	link, err := in.ActivationLink(context.Background(), "qa_inbox")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "https://app.test/email-verification/"))
	assert.Equal(t, 3, dials)
}

func TestIMAPInbox_NeverDelivered(t *testing.T) {
	in := newTestInbox(t, func(config.IMAPConfig) (imapClient, error) { return &fakeIMAPClient{}, nil })

	start := time.Now()
	_, err := in.ActivationLink(context.Background(), "qa_inbox")
	require.ErrorIs(t, err, ErrActivationMailMissing)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestIMAPInbox_CancelledContext(t *testing.T) {
	in := newTestInbox(t, func(config.IMAPConfig) (imapClient, error) { return &fakeIMAPClient{}, nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := in.ActivationLink(ctx, "qa_inbox")
	require.ErrorIs(t, err, context.Canceled)
}

func TestIMAPInbox_Errors(t *testing.T) {
	cases := map[string]struct {
		factory func(config.IMAPConfig) (imapClient, error)
		want    string
	}{
		"connect": {func(config.IMAPConfig) (imapClient, error) { return nil, errors.New("dial failed") }, "imap connect"},
		"auth":    {func(config.IMAPConfig) (imapClient, error) { return &fakeIMAPClient{loginErr: errors.New("bad creds")}, nil }, "imap auth"},
		"select":  {func(config.IMAPConfig) (imapClient, error) { return &fakeIMAPClient{selectErr: errors.New("no inbox")}, nil }, "imap select INBOX"},
		"search":  {func(config.IMAPConfig) (imapClient, error) { return &fakeIMAPClient{searchErr: errors.New("bad query")}, nil }, "imap search"},
		"fetch":   {func(config.IMAPConfig) (imapClient, error) { return &fakeIMAPClient{uids: []imap.UID{1}, fetchErr: errors.New("gone")}, nil }, "imap fetch"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newTestInbox(t, tc.factory).ActivationLink(context.Background(), "qa_inbox")
			require.ErrorContains(t, err, tc.want)
			assert.NotErrorIs(t, err, ErrActivationMailMissing)
		})
	}
}

func TestIMAPInbox_MessageWithoutLink(t *testing.T) {
	plain := "Subject: User Activation\r\nContent-Type: text/plain\r\n\r\nYour account is ready.\r\n"
	in := newTestInbox(t, func(config.IMAPConfig) (imapClient, error) {
		return &fakeIMAPClient{uids: []imap.UID{1}, bodies: map[imap.UID][]byte{1: []byte(plain)}}, nil
	})

	_, err := in.ActivationLink(context.Background(), "qa_inbox")
	require.ErrorIs(t, err, ErrActivationLinkMissing)
}

func TestFindActivationLink(t *testing.T) {
	link, err := findActivationLink(`<a href="https://app.test/email-verification/abc/?a=1&amp;b=2">go</a>`)
	require.NoError(t, err)
	assert.Equal(t, "https://app.test/email-verification/abc/?a=1&b=2", link)

	_, err = findActivationLink("https://app.test/reset-password/abc/")
	require.ErrorIs(t, err, ErrActivationLinkMissing)
}

type fakeIMAPClient struct {
	uids   []imap.UID
	bodies map[imap.UID][]byte

	loginErr  error
	selectErr error
	searchErr error
	fetchErr  error

	criteria *imap.SearchCriteria
	readOnly bool
	fetched  []imap.UID
	closed   bool
}

func (c *fakeIMAPClient) Login(_, _ string) commandWaiter { return &fakeCommand{err: c.loginErr} }
func (c *fakeIMAPClient) Logout() commandWaiter           { return &fakeCommand{} }
func (c *fakeIMAPClient) Close() error                    { c.closed = true; return nil }
func (c *fakeIMAPClient) Select(_ string, options *imap.SelectOptions) selectWaiter {
	c.readOnly = options != nil && options.ReadOnly
	return &fakeSelect{err: c.selectErr}
}
func (c *fakeIMAPClient) UIDSearch(criteria *imap.SearchCriteria, _ *imap.SearchOptions) searchWaiter {
	c.criteria = criteria
	data := &imap.SearchData{All: imap.UIDSetNum(c.uids...)}
	return &fakeSearch{err: c.searchErr, data: data}
}
func (c *fakeIMAPClient) Fetch(numSet imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	if c.fetchErr != nil {
		return &fakeFetch{err: c.fetchErr}
	}
	var bufs []*imapclient.FetchMessageBuffer
	set, _ := numSet.(imap.UIDSet)
	for _, uid := range c.uids {
		if !set.Contains(uid) {
			continue
		}
		c.fetched = append(c.fetched, uid)
		bufs = append(bufs, &imapclient.FetchMessageBuffer{
			UID: uid,
			BodySection: []imapclient.FetchBodySectionBuffer{{
				Section: &imap.FetchItemBodySection{},
				Bytes:   append([]byte(nil), c.bodies[uid]...),
			}},
		})
	}
	return &fakeFetch{bufs: bufs}
}

type fakeCommand struct{ err error }

func (c *fakeCommand) Wait() error { return c.err }

type fakeSelect struct{ err error }

func (s *fakeSelect) Wait() (*imap.SelectData, error) { return &imap.SelectData{}, s.err }

type fakeSearch struct {
	err  error
	data *imap.SearchData
}

func (s *fakeSearch) Wait() (*imap.SearchData, error) { return s.data, s.err }

type fakeFetch struct {
	err  error
	bufs []*imapclient.FetchMessageBuffer
}

func (f *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
