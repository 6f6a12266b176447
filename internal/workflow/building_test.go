package workflow_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/browser/browsertest"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

// buildingForm renders the add-building wizard with every step on one page.
type buildingForm struct {
	dropdowns  []*dropdown
	ownerName  *browsertest.Element
	plinthArea *browsertest.Element
	confirms   int
}

func newBuildingForm(a *app) *buildingForm {
	f := &buildingForm{}
	add := a.page.Add(browsertest.Button("add नयाँ भवन थप्नुहोस्"))
	form := showOnClick(a.page.Add, add, &browsertest.Element{Tag: "form"})

	options := [][]string{
		{"Main", "Auxiliary"},
		{"Governmental", "Non governmental"},
		{"Permanent", "Temporary"},
		{"Registered and completed", "Unregistered"},
		{"Framed", "Load bearing"},
		{"RCC", "Tin"},
		{"Residential", "Commercial"},
		{"Hospitality", "Hospital"},
	}
	for i, opts := range options {
		f.dropdowns = append(f.dropdowns, addDropdown(form.Append, browsertest.Textbox(""), opts...))
		if i == 2 {
			f.ownerName = form.Append(&browsertest.Element{Tag: "input", Placeholder: "मालिकको नाम प्रविष्ट गर्नुहोस्"})
		}
		if i == 5 {
			f.plinthArea = form.Append(&browsertest.Element{Tag: "input", Placeholder: "Enter Plinth Area of Building"})
		}
	}

	form.Append(browsertest.Button("Next"))
	form.Append(browsertest.Button("draw गेट खिच्नुहोस्"))
	form.Append(browsertest.Button("draw पुन: छान्नुहोस्"))
	form.Append(browsertest.Button("Complete chevron_right"))
	submit := form.Append(browsertest.Button("Submit Anyways chevron_right"))
	submit.OnClick = func(context.Context, schemas.Point) error {
		f.confirms++
		if f.confirms == 3 {
			a.page.Add(browsertest.Div("Building added successfully"))
		}
		return nil
	}
	return f
}

func TestBuildingWizard_Add(t *testing.T) {
	a := newApp(t)
	newFakeMap(a)
	form := newBuildingForm(a)
	b := workflow.DefaultBuilding()

	require.NoError(t, workflow.NewBuildingWizard(a.env).Add(context.Background(), b))

	var selected []string
	for _, d := range form.dropdowns {
		selected = append(selected, d.last())
	}
	want := []string{
		b.Association, b.Ownership, b.Permanency,
		b.Registration, b.Structure, b.Roof, b.UseCategory, b.SpecificUse,
	}
	if diff := cmp.Diff(want, selected); diff != "" {
		t.Errorf("dropdown selections mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, b.OwnerName, form.ownerName.CurrentValue())
	assert.Equal(t, b.PlinthArea, form.plinthArea.CurrentValue())
	assert.Equal(t, 3, form.confirms)

	// Footprint, gate, then the zoom before picking the road.
	assert.Equal(t, []string{"click", "click", "click", "dblclick", "click", "wheel"}, kinds(gestures(a.page.MouseEvents())))
	assert.Equal(t, 6, countClicks(a.page, browser.Role("button", browser.Pattern("Next|अर्को chevron_right")).String()))

	var pick *browsertest.Action
	for _, act := range a.page.ActionsOf(browsertest.ActionClick) {
		if act.Force {
			act := act
			pick = &act
		}
	}
	require.NotNil(t, pick, "road must be picked with a forced click")
	assert.Equal(t, schemas.Point{X: mapBox.X + b.Road.X, Y: mapBox.Y + b.Road.Y}, pick.Point)
}

func TestBuildingWizard_OptionMissing(t *testing.T) {
	a := newApp(t)
	newFakeMap(a)
	newBuildingForm(a)
	b := workflow.DefaultBuilding()
	b.Roof = "Thatch"

	err := workflow.NewBuildingWizard(a.env).Add(context.Background(), b)
	require.Error(t, err)

	var stepErr *workflow.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "building", stepErr.Flow)
	assert.Equal(t, "describe building", stepErr.Step)
}

func TestBuildingWizard_MapMissing(t *testing.T) {
	a := newApp(t)
	newBuildingForm(a)

	err := workflow.NewBuildingWizard(a.env).Add(context.Background(), workflow.DefaultBuilding())
	var stepErr *workflow.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "draw footprint", stepErr.Step)
	assert.Empty(t, a.page.MouseEvents())
}
