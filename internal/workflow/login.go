package workflow

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/netwatch"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// InvalidCredentialPattern matches the sign-in endpoint's rejection detail
// and the message the login form shows for it.
const InvalidCredentialPattern = `invalid|incorrect|no active account|credential`

var invalidCredential = regexp.MustCompile("(?i)" + InvalidCredentialPattern)

var (
	emailField    = browser.CSS(`input[type="email"], input[name="email"], [placeholder*="email" i]`)
	passwordField = browser.CSS(`input[type="password"], input[name="password"], [placeholder*="password" i]`)
	submitButton  = browser.CSS(`button[type="submit"]`)
)

// Login drives the sign-in form.
type Login struct {
	flow
}

// NewLogin returns the sign-in flow.
func NewLogin(env *Env) *Login {
	return &Login{flow: newFlow(env, "login")}
}

// Open loads the login route and waits for the form.
func (l *Login) Open(ctx context.Context) error {
	return l.step(ctx, "open login form", func(ctx context.Context) error {
		if err := l.env.Page.Goto(ctx, l.env.target.URL(l.env.target.Routes.Login)); err != nil {
			return err
		}
		return l.locate(emailField).WaitVisible(ctx, 0)
	})
}

// Submit fills the form and clicks the submit button without judging the result.
func (l *Login) Submit(ctx context.Context, cred schemas.Credential) error {
	return l.step(ctx, "submit credentials", func(ctx context.Context) error {
		return l.submit(ctx, cred)
	})
}

func (l *Login) submit(ctx context.Context, cred schemas.Credential) error {
	if err := l.locate(emailField).Fill(ctx, cred.Email); err != nil {
		return err
	}
	if err := l.locate(passwordField).Fill(ctx, cred.Password); err != nil {
		return err
	}
	return l.click(ctx, submitButton)
}

// SignIn logs in and asserts the dashboard replaced the login route.
func (l *Login) SignIn(ctx context.Context, cred schemas.Credential) error {
	if err := l.Open(ctx); err != nil {
		return err
	}
	if err := l.Submit(ctx, cred); err != nil {
		return err
	}
	return l.step(ctx, "land on dashboard", func(ctx context.Context) error {
		if err := l.expectURL(ctx, l.env.target.Routes.Login, false); err != nil {
			return err
		}
		return l.expectText(ctx, browser.Pattern("dashboard"))
	})
}

type signInError struct {
	Detail string `json:"detail"`
}

// SignInExpectingRejection submits credentials the application must refuse.
// The sign-in call has to answer 401 with a detail naming the credentials as
// invalid, and the form has to stay on the login route showing that message.
// It returns the detail.
func (l *Login) SignInExpectingRejection(ctx context.Context, cred schemas.Credential) (string, error) {
	if err := l.Open(ctx); err != nil {
		return "", err
	}

	var detail string
	err := l.step(ctx, "submit rejected credentials", func(ctx context.Context) error {
		outcomes, err := l.env.Net.Correlate(ctx, netwatch.ActionSpec{
			Name:    "sign-in",
			Trigger: func(ctx context.Context) error { return l.submit(ctx, cred) },
			Expectations: []netwatch.Expectation{
				netwatch.MustOccur(l.env.target.Endpoints.SignIn).
					WithMethod(http.MethodPost).
					WithStatus(http.StatusUnauthorized).
					Named("sign-in rejected"),
			},
		})
		if err != nil {
			return err
		}
		body, err := outcomes[0].Event.ReadBody(ctx)
		if err != nil {
			return fmt.Errorf("read sign-in response: %w", err)
		}
		var payload signInError
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("%w: sign-in response is not JSON: %v", ErrAssertion, err)
		}
		if !invalidCredential.MatchString(payload.Detail) {
			return fmt.Errorf("%w: sign-in detail %q does not report invalid credentials", ErrAssertion, payload.Detail)
		}
		detail = payload.Detail
		return nil
	})
	if err != nil {
		return "", err
	}

	err = l.step(ctx, "stay on login form", func(ctx context.Context) error {
		if err := l.expectURL(ctx, l.env.target.Routes.Login, true); err != nil {
			return err
		}
		return l.expectText(ctx, browser.Pattern(InvalidCredentialPattern))
	})
	return detail, err
}
