package pw

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

func TestTextArg(t *testing.T) {
	v, exact, err := textArg(browser.Text("Submit"))
	require.NoError(t, err)
	assert.Equal(t, "Submit", v)
	assert.False(t, *exact)

	v, exact, err = textArg(browser.Exact("Road Data"))
	require.NoError(t, err)
	assert.Equal(t, "Road Data", v)
	assert.True(t, *exact)

	v, exact, err = textArg(browser.Pattern("^save"))
	require.NoError(t, err)
	assert.Nil(t, exact)
	re, ok := v.(*regexp.Regexp)
	require.True(t, ok)
	assert.True(t, re.MatchString("SAVE changes"))

	_, _, err = textArg(browser.Pattern("("))
	assert.Error(t, err)
}

func TestHasTextArg_ExactBecomesAnchoredRegexp(t *testing.T) {
	v, err := hasTextArg(browser.Exact("  Ward  1 "))
	require.NoError(t, err)
	re, ok := v.(*regexp.Regexp)
	require.True(t, ok)
	assert.True(t, re.MatchString("Ward 1"))
	assert.False(t, re.MatchString("Ward 10"))

	v, err = hasTextArg(browser.Text("ward"))
	require.NoError(t, err)
	assert.Equal(t, "ward", v)
}

func TestTimeoutMS(t *testing.T) {
	assert.Equal(t, 5000.0, *timeoutMS(context.Background(), 5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got := *timeoutMS(ctx, time.Minute)
	assert.LessOrEqual(t, got, 1000.0)
	assert.Greater(t, got, 0.0)
}

func TestAwait_GivesUpOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	defer close(release)
	cancel()

	_, err := await(ctx, func() (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	v, err := await(context.Background(), func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCookieConversionRoundTrip(t *testing.T) {
	in := &schemas.Cookie{
		Name:     "sessionid",
		Value:    "abc",
		Domain:   "dma-dev.naxa.com.np",
		Expires:  1893456000,
		HTTPOnly: true,
		Secure:   true,
		SameSite: schemas.CookieSameSiteLax,
	}
	opt := toPlaywrightCookie(in)
	assert.Equal(t, "/", *opt.Path)
	assert.Equal(t, 1893456000.0, *opt.Expires)
	assert.Equal(t, playwright.SameSiteAttribute("Lax"), *opt.SameSite)

	ss := playwright.SameSiteAttribute("Lax")
	out := fromPlaywrightCookie(playwright.Cookie{
		Name: "sessionid", Value: "abc", Domain: in.Domain, Path: "/",
		Expires: in.Expires, HttpOnly: true, Secure: true, SameSite: &ss,
	})
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, schemas.CookieSameSiteLax, out.SameSite)
	assert.True(t, out.HTTPOnly)
}

func TestMouseButton(t *testing.T) {
	assert.Equal(t, playwright.MouseButtonLeft, mouseButton(schemas.ButtonLeft))
	assert.Nil(t, mouseButton(schemas.ButtonNone))
}
