package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/browser/controls"
)

var (
	addUserButton    = browser.Role("button", browser.Text("नयाँ प्रयोगकर्ता थप्नुहोस्"))
	userNameField    = browser.ByPlaceholder(browser.Exact("Enter User Name"))
	userEmailField   = browser.ByPlaceholder(browser.Exact("Enter Email Address"))
	designationField = browser.ByPlaceholder(browser.Exact("Enter Designation"))
	userRoleField    = browser.Role("textbox", browser.Exact("Choose"))
	saveUserButton   = browser.Role("button", browser.Exact("Add User"))
	userAddedToast   = browser.Pattern("user added successfully")
)

// userFormDiscriminator tells the add-user modal apart from the page form
// underneath it, which carries equally named fields.
const userFormDiscriminator = "User Name"

// Roles offered by the user management page.
var Roles = []string{
	"Data editor",
	"Data user",
	"Municipal admin",
	"Municipal editor",
	"Municipal viewer",
	"Super admin",
}

// User is an account created through the user management page.
type User struct {
	Name        string
	Email       string
	Designation string
	Role        string
}

// NewUser derives a unique user for role in the mail domain. stamp keeps
// repeated runs from colliding.
func NewUser(role, domain string, stamp time.Time) User {
	ts := stamp.UnixMilli()
	local := strings.ReplaceAll(strings.ToLower(role), " ", "_")
	return User{
		Name:        fmt.Sprintf("Auto %s %d", role, ts),
		Email:       fmt.Sprintf("%s_%d@%s", local, ts, domain),
		Designation: "Automation Tester",
		Role:        role,
	}
}

// Inbox is the local part of the user's address.
func (u User) Inbox() string {
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// UserManagement drives the user management page.
type UserManagement struct {
	flow
}

// NewUserManagement returns the user management flow.
func NewUserManagement(env *Env) *UserManagement {
	return &UserManagement{flow: newFlow(env, "users")}
}

// Open loads the user management page.
func (m *UserManagement) Open(ctx context.Context) error {
	return m.step(ctx, "open user management", func(ctx context.Context) error {
		if err := m.open(ctx, m.env.target.Routes.UserManagement); err != nil {
			return err
		}
		return m.locate(addUserButton).WaitVisible(ctx, 0)
	})
}

// Create adds u through the modal form and waits for the confirmation.
func (m *UserManagement) Create(ctx context.Context, u User) error {
	if err := m.step(ctx, "open add user", func(ctx context.Context) error {
		return m.click(ctx, addUserButton)
	}); err != nil {
		return err
	}
	modal := m.env.Controls.ScopedModal("form", userFormDiscriminator)
	if err := m.step(ctx, "fill user form", func(ctx context.Context) error {
		if err := modal.WaitVisible(ctx, 0); err != nil {
			return err
		}
		for _, f := range []struct {
			q     browser.Query
			value string
		}{
			{userNameField, u.Name},
			{userEmailField, u.Email},
			{designationField, u.Designation},
		} {
			if err := m.env.Controls.FillField(ctx, modal.Locate(f.q), f.value); err != nil {
				return err
			}
		}
		return m.env.Controls.SelectOption(ctx, modal.Locate(userRoleField), controls.OptionQuery(u.Role))
	}); err != nil {
		return err
	}
	return m.step(ctx, "save user", func(ctx context.Context) error {
		if err := modal.Locate(saveUserButton).Click(ctx); err != nil {
			return err
		}
		return m.expectText(ctx, userAddedToast)
	})
}

// CreateForRole opens the page and creates a fresh user holding role.
func (m *UserManagement) CreateForRole(ctx context.Context, role string) (User, error) {
	u := NewUser(role, m.env.mailDomain, time.Now())
	if err := m.Open(ctx); err != nil {
		return User{}, err
	}
	if err := m.Create(ctx, u); err != nil {
		return User{}, err
	}
	m.logger.Info("User created.", zap.String("email", u.Email), zap.String("role", role))
	return u, nil
}
