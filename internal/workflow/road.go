package workflow

import (
	"context"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

var (
	roadCategoryField   = browser.Role("textbox", browser.Exact("सडक श्रेणी छान्नुहोस्"))
	administrativeField = browser.Role("textbox", browser.Exact("प्रशासनिक वर्ग छान्नुहोस्"))
	surfaceTypeField    = browser.Role("textbox", browser.Exact("सडक बाटो प्रकार छान्नुहोस्"))
	municipalClassField = browser.Role("textbox", browser.Exact("नगर सडक वर्ग छान्नुहोस्"))
	roadNameField       = browser.CSS(`input[name="road_name_en"]`)
	roadCodeField       = browser.Role("textbox", browser.Exact("e.g. 27-M-01-A001"))
	roadAddedToast      = browser.Pattern("road added successfully")
)

// Validation messages the road form shows for each missing input.
var (
	MissingRoadCategory   = browser.Pattern("सडक श्रेणी")
	MissingRoadName       = browser.Pattern("road name")
	MissingRoadGeometry   = browser.Pattern("draw a geometry")
	MissingAdministrative = browser.Exact("Required")
	MissingSurfaceType    = browser.Pattern("बाटो प्रकार")
	MissingMunicipalClass = browser.Pattern("नगर सडक वर्ग")
)

// Road is the data entered through the add-road wizard. Empty fields are
// left untouched, which is how validation paths are exercised.
type Road struct {
	Category string
	Name     string
	Code     string
	// Route is drawn as a line, the last vertex ending it.
	Route          []schemas.RelativePoint
	Administrative string
	Surface        string
	MunicipalClass string
}

// DefaultRoad is a complete, valid road across the default map view.
func DefaultRoad() Road {
	return Road{
		Category: "Major",
		Name:     "dallu",
		Route: []schemas.RelativePoint{
			{X: 0.45, Y: 0.52},
			{X: 0.55, Y: 0.48},
			{X: 0.65, Y: 0.5},
		},
		Administrative: "National highway",
		Surface:        "Black Topped",
		MunicipalClass: "A",
	}
}

// RoadWizard drives the add-road form. Its steps are exported so validation
// checks can stop anywhere along the way.
type RoadWizard struct {
	flow
}

// NewRoadWizard returns the add-road flow.
func NewRoadWizard(env *Env) *RoadWizard {
	return &RoadWizard{flow: newFlow(env, "road")}
}

// Open loads the road form directly.
func (w *RoadWizard) Open(ctx context.Context) error {
	return w.step(ctx, "open road form", func(ctx context.Context) error {
		if err := w.open(ctx, w.env.target.Routes.RoadForm); err != nil {
			return err
		}
		return w.locate(roadCategoryField).WaitVisible(ctx, 0)
	})
}

func (w *RoadWizard) selectIf(ctx context.Context, q browser.Query, option string) error {
	if option == "" {
		return nil
	}
	field := w.locate(q)
	if err := field.WaitVisible(ctx, 0); err != nil {
		return err
	}
	return w.env.Controls.SelectDropdown(ctx, field, option)
}

func (w *RoadWizard) next(ctx context.Context) error {
	next := w.locate(nextButton)
	if err := next.WaitEnabled(ctx, 0); err != nil {
		return err
	}
	return next.Click(ctx)
}

// Next advances the wizard one step.
func (w *RoadWizard) Next(ctx context.Context) error {
	return w.step(ctx, "next", w.next)
}

// EnterBasics fills category, name and code, then advances to the map step.
func (w *RoadWizard) EnterBasics(ctx context.Context, r Road) error {
	return w.step(ctx, "enter basics", func(ctx context.Context) error {
		if err := w.selectIf(ctx, roadCategoryField, r.Category); err != nil {
			return err
		}
		if r.Name != "" {
			name := w.locate(roadNameField)
			if err := name.WaitVisible(ctx, 0); err != nil {
				return err
			}
			if err := w.env.Controls.FillField(ctx, name, r.Name); err != nil {
				return err
			}
		}
		if r.Code != "" {
			if err := w.env.Controls.FillField(ctx, w.locate(roadCodeField), r.Code); err != nil {
				return err
			}
		}
		if err := w.next(ctx); err != nil {
			return err
		}
		// The map step mounts its map after the transition.
		return w.settle(ctx)
	})
}

// DrawRoute draws r.Route and advances.
func (w *RoadWizard) DrawRoute(ctx context.Context, r Road) error {
	return w.step(ctx, "draw route", func(ctx context.Context) error {
		if err := w.env.Map.DrawPath(ctx, r.Route); err != nil {
			return err
		}
		return w.next(ctx)
	})
}

// Classify fills the classification dropdowns and advances.
func (w *RoadWizard) Classify(ctx context.Context, r Road) error {
	return w.step(ctx, "classify road", func(ctx context.Context) error {
		if err := w.selectIf(ctx, administrativeField, r.Administrative); err != nil {
			return err
		}
		if err := w.selectIf(ctx, surfaceTypeField, r.Surface); err != nil {
			return err
		}
		if err := w.selectIf(ctx, municipalClassField, r.MunicipalClass); err != nil {
			return err
		}
		return w.next(ctx)
	})
}

// Submit completes the form, confirms once and waits for the success toast.
func (w *RoadWizard) Submit(ctx context.Context) error {
	return w.step(ctx, "submit", func(ctx context.Context) error {
		if err := w.click(ctx, completeButton); err != nil {
			return err
		}
		if err := w.click(ctx, submitAnywaysButton); err != nil {
			return err
		}
		return w.expectText(ctx, roadAddedToast)
	})
}

// Add runs the whole wizard for r.
func (w *RoadWizard) Add(ctx context.Context, r Road) error {
	for _, fn := range []func(context.Context) error{
		w.Open,
		func(ctx context.Context) error { return w.EnterBasics(ctx, r) },
		func(ctx context.Context) error { return w.DrawRoute(ctx, r) },
		func(ctx context.Context) error { return w.Classify(ctx, r) },
		w.Submit,
	} {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ExpectValidation asserts the form shows message.
func (w *RoadWizard) ExpectValidation(ctx context.Context, message browser.TextMatch) error {
	return w.step(ctx, "expect validation "+message.String(), func(ctx context.Context) error {
		return w.expectText(ctx, message)
	})
}
