package workflow

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

// Shared wizard buttons of the building and road forms.
var (
	nextButton          = browser.Role("button", browser.Pattern("Next|अर्को chevron_right"))
	completeButton      = browser.Role("button", browser.Exact("Complete chevron_right"))
	submitAnywaysButton = browser.Role("button", browser.Exact("Submit Anyways chevron_right"))
)

var (
	addBuildingButton  = browser.Role("button", browser.Exact("add नयाँ भवन थप्नुहोस्"))
	ownerNameField     = browser.ByPlaceholder(browser.Exact("मालिकको नाम प्रविष्ट गर्नुहोस्"))
	plinthAreaField    = browser.ByPlaceholder(browser.Exact("Enter Plinth Area of Building"))
	drawGateButton     = browser.Role("button", browser.Pattern("draw गेट खिच्नुहोस्"))
	reselectRoadButton = browser.Role("button", browser.Pattern("draw पुन: छान्नुहोस्"))
	buildingAddedToast = browser.Pattern("building added successfully")
)

const buildingConfirmRuns = 3

// The building form's dropdowns are unlabeled textboxes, told apart only by
// their position in the form.
const (
	buildingAssociationBox = iota
	buildingOwnershipBox
	buildingPermanencyBox
	registrationTypeBox
	structureTypeBox
	roofTypeBox
	useCategoryBox
	specificUseBox
)

// Building is the data entered through the add-building wizard.
type Building struct {
	Association string
	Ownership   string
	Permanency  string
	OwnerName   string

	// Footprint is drawn as a polygon, the last vertex closing it.
	Footprint []schemas.RelativePoint
	Gate      schemas.RelativePoint
	// Road is the pixel offset, inside the map, of the adjoining road to select.
	Road schemas.Point

	Registration string
	Structure    string
	Roof         string
	PlinthArea   string
	UseCategory  string
	SpecificUse  string
}

// DefaultBuilding is a complete, valid building around the default map view.
func DefaultBuilding() Building {
	return Building{
		Association: "Main",
		Ownership:   "Non governmental",
		Permanency:  "Temporary",
		OwnerName:   "prajwol",
		Footprint: []schemas.RelativePoint{
			{X: 0.55, Y: 0.45},
			{X: 0.56, Y: 0.46},
			{X: 0.57, Y: 0.45},
			{X: 0.56, Y: 0.44},
		},
		Gate:         schemas.RelativePoint{X: 0.56, Y: 0.45},
		Road:         schemas.Point{X: 299, Y: 308},
		Registration: "Registered and completed",
		Structure:    "Framed",
		Roof:         "RCC",
		PlinthArea:   "0",
		UseCategory:  "Residential",
		SpecificUse:  "Hospitality",
	}
}

// BuildingWizard drives the add-building form.
type BuildingWizard struct {
	flow
}

// NewBuildingWizard returns the add-building flow.
func NewBuildingWizard(env *Env) *BuildingWizard {
	return &BuildingWizard{flow: newFlow(env, "building")}
}

func (w *BuildingWizard) textbox(i int) *browser.Locator {
	return w.locate(browser.Role("textbox", browser.TextMatch{}).Nth(i))
}

func (w *BuildingWizard) selectAt(ctx context.Context, box int, option string) error {
	return w.env.Controls.SelectDropdown(ctx, w.textbox(box), option)
}

func (w *BuildingWizard) next(ctx context.Context) error {
	return w.click(ctx, nextButton)
}

// Add creates b and waits for the success toast.
func (w *BuildingWizard) Add(ctx context.Context, b Building) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"open building data", func(ctx context.Context) error {
			return w.open(ctx, w.env.target.Routes.BuildingData)
		}},
		{"open add form", func(ctx context.Context) error {
			if err := w.click(ctx, addBuildingButton); err != nil {
				return err
			}
			return w.textbox(buildingAssociationBox).WaitVisible(ctx, 0)
		}},
		{"classify building", func(ctx context.Context) error {
			if err := w.selectAt(ctx, buildingAssociationBox, b.Association); err != nil {
				return err
			}
			if err := w.selectAt(ctx, buildingOwnershipBox, b.Ownership); err != nil {
				return err
			}
			if err := w.selectAt(ctx, buildingPermanencyBox, b.Permanency); err != nil {
				return err
			}
			if err := w.env.Controls.FillField(ctx, w.locate(ownerNameField), b.OwnerName); err != nil {
				return err
			}
			return w.next(ctx)
		}},
		{"draw footprint", func(ctx context.Context) error {
			if err := w.env.Map.DrawPath(ctx, b.Footprint); err != nil {
				return err
			}
			return w.next(ctx)
		}},
		{"place gate", func(ctx context.Context) error {
			if err := w.click(ctx, drawGateButton); err != nil {
				return err
			}
			if err := w.env.Map.PlacePoint(ctx, b.Gate); err != nil {
				return err
			}
			return w.next(ctx)
		}},
		{"select adjoining road", func(ctx context.Context) error {
			if err := w.env.Map.WaitReady(ctx); err != nil {
				return err
			}
			if err := w.click(ctx, reselectRoadButton); err != nil {
				return err
			}
			if err := browser.Pause(ctx, w.env.mapCfg.ClickSettle); err != nil {
				return err
			}
			if err := w.env.Map.PickAt(ctx, b.Road); err != nil {
				return err
			}
			// Road selection is followed by two steps that need no input.
			for i := 0; i < 3; i++ {
				if err := w.next(ctx); err != nil {
					return fmt.Errorf("advance %d: %w", i+1, err)
				}
			}
			return nil
		}},
		{"describe building", func(ctx context.Context) error {
			if err := w.selectAt(ctx, registrationTypeBox, b.Registration); err != nil {
				return err
			}
			if err := w.selectAt(ctx, structureTypeBox, b.Structure); err != nil {
				return err
			}
			if err := w.selectAt(ctx, roofTypeBox, b.Roof); err != nil {
				return err
			}
			if err := w.env.Controls.FillField(ctx, w.locate(plinthAreaField), b.PlinthArea); err != nil {
				return err
			}
			if err := w.selectAt(ctx, useCategoryBox, b.UseCategory); err != nil {
				return err
			}
			return w.selectAt(ctx, specificUseBox, b.SpecificUse)
		}},
		{"submit", func(ctx context.Context) error {
			if err := w.click(ctx, completeButton); err != nil {
				return err
			}
			// The form raises one confirmation per incomplete optional
			// section; each needs its own click.
			for i := 0; i < buildingConfirmRuns; i++ {
				if err := w.click(ctx, submitAnywaysButton); err != nil {
					return fmt.Errorf("confirmation %d: %w", i+1, err)
				}
			}
			return w.expectText(ctx, buildingAddedToast)
		}},
	}
	for _, s := range steps {
		if err := w.step(ctx, s.name, s.fn); err != nil {
			return err
		}
	}
	return nil
}
