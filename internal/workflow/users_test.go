package workflow_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser/browsertest"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

// userPage renders the user management page. Its header search form carries
// a user name field of its own, so unscoped lookups would fill the wrong one.
type userPage struct {
	decoy       *browsertest.Element
	name, email *browsertest.Element
	designation *browsertest.Element
	role        *dropdown
	added       int
}

func newUserPage(a *app) *userPage {
	u := &userPage{}
	search := a.page.Add(&browsertest.Element{Tag: "form", Selectors: []string{"form"}})
	search.Append(browsertest.Div("Search"))
	u.decoy = search.Append(&browsertest.Element{Tag: "input", Placeholder: "Enter User Name"})

	add := a.page.Add(browsertest.Button("add नयाँ प्रयोगकर्ता थप्नुहोस्"))
	modal := showOnClick(a.page.Add, add, &browsertest.Element{Tag: "form", Selectors: []string{"form"}})
	modal.Append(browsertest.Div("User Name"))
	u.name = modal.Append(&browsertest.Element{Tag: "input", Placeholder: "Enter User Name"})
	u.email = modal.Append(&browsertest.Element{Tag: "input", Placeholder: "Enter Email Address"})
	u.designation = modal.Append(&browsertest.Element{Tag: "input", Placeholder: "Enter Designation"})
	u.role = addDropdown(modal.Append, browsertest.Textbox("Choose"), workflow.Roles...)
	save := modal.Append(browsertest.Button("Add User"))
	save.OnClick = func(context.Context, schemas.Point) error {
		u.added++
		modal.SetHidden(true)
		a.page.Add(browsertest.Div("User added successfully"))
		return nil
	}
	return u
}

func TestNewUser(t *testing.T) {
	u := workflow.NewUser("Municipal admin", "mailinator.com", time.UnixMilli(1700000000000))

	assert.Equal(t, workflow.User{
		Name:        "Auto Municipal admin 1700000000000",
		Email:       "municipal_admin_1700000000000@mailinator.com",
		Designation: "Automation Tester",
		Role:        "Municipal admin",
	}, u)
	assert.Equal(t, "municipal_admin_1700000000000", u.Inbox())
}

func TestUserManagement_Create(t *testing.T) {
	a := newApp(t)
	page := newUserPage(a)
	ctx := context.Background()
	m := workflow.NewUserManagement(a.env)
	u := workflow.NewUser("Data editor", "mailinator.com", time.UnixMilli(1700000000000))

	require.NoError(t, m.Open(ctx))
	require.NoError(t, m.Create(ctx, u))

	assert.Equal(t, u.Name, page.name.CurrentValue())
	assert.Equal(t, u.Email, page.email.CurrentValue())
	assert.Equal(t, u.Designation, page.designation.CurrentValue())
	assert.Equal(t, "Data editor", page.role.last())
	assert.Empty(t, page.decoy.CurrentValue(), "the page's own search form must stay untouched")
	assert.Equal(t, 1, page.added)
}

func TestUserManagement_CreateForRole(t *testing.T) {
	for _, role := range workflow.Roles {
		t.Run(role, func(t *testing.T) {
			a := newApp(t)
			page := newUserPage(a)

			u, err := workflow.NewUserManagement(a.env).CreateForRole(context.Background(), role)
			require.NoError(t, err)
			assert.Equal(t, role, u.Role)
			assert.True(t, strings.HasSuffix(u.Email, "@"+a.cfg.MailCfg.Domain), u.Email)
			assert.Equal(t, role, page.role.last())
		})
	}
}

func TestUserManagement_RoleFieldMissing(t *testing.T) {
	a := newApp(t)
	page := newUserPage(a)
	ctx := context.Background()
	m := workflow.NewUserManagement(a.env)

	require.NoError(t, m.Open(ctx))
	page.role.box.Remove()

	err := m.Create(ctx, workflow.NewUser("Data user", "mailinator.com", time.Now()))
	var stepErr *workflow.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "fill user form", stepErr.Step)
	assert.Zero(t, page.added)
}
