package scenario

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/config"
	"github.com/xkilldash9x/mapharness/internal/provision"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

// Tags shared by the built-in scenarios.
const (
	TagSmoke         = "smoke"
	TagLogin         = "login"
	TagBuilding      = "building"
	TagRoad          = "road"
	TagValidation    = "validation"
	TagStyling       = "styling"
	TagVisualization = "visualization"
	TagNetwork       = "network"
	TagFilter        = "filter"
	TagUsers         = "users"
)

const (
	filterLayer   = "ram test"
	wrongPassword = "Wrong@Pass#2024"
)

// Default returns a registry holding every built-in scenario.
func Default() *Registry {
	r := NewRegistry()
	for _, group := range [][]Scenario{
		loginScenarios(),
		buildingScenarios(),
		roadScenarios(),
		stylingScenarios(),
		visualizationScenarios(),
		filterScenarios(),
		userScenarios(),
	} {
		for _, s := range group {
			if err := r.Register(s); err != nil {
				// Built-in names are fixed; a clash is a programming error.
				panic(err)
			}
		}
	}
	return r
}

func loginScenarios() []Scenario {
	return []Scenario{
		{
			Name:        "login/valid",
			Description: "Valid credentials reach the dashboard.",
			Tags:        []string{TagLogin, TagSmoke},
			Run: func(ctx context.Context, sc *Context) error {
				return workflow.NewLogin(sc.Env).SignIn(ctx, sc.Env.Target().Credentials)
			},
		},
		{
			Name:        "login/wrong-password",
			Description: "A wrong password is refused with 401 and the form stays.",
			Tags:        []string{TagLogin, TagNetwork},
			Run: func(ctx context.Context, sc *Context) error {
				cred := sc.Env.Target().Credentials
				cred.Password = wrongPassword
				return rejected(ctx, sc, cred)
			},
		},
		{
			Name:        "login/wrong-email",
			Description: "An unknown email is refused with 401 and the form stays.",
			Tags:        []string{TagLogin, TagNetwork},
			Run: func(ctx context.Context, sc *Context) error {
				cred := sc.Env.Target().Credentials
				cred.Email = "no_such_user@" + sc.Config.Mail().Domain
				return rejected(ctx, sc, cred)
			},
		},
	}
}

func rejected(ctx context.Context, sc *Context, cred schemas.Credential) error {
	detail, err := workflow.NewLogin(sc.Env).SignInExpectingRejection(ctx, cred)
	if err != nil {
		return err
	}
	sc.Logger.Info("Sign-in refused.", zap.String("detail", detail))
	return nil
}

func buildingScenarios() []Scenario {
	return []Scenario{{
		Name:        "building/add",
		Description: "A building is drawn, classified and saved.",
		Tags:        []string{TagBuilding, TagSmoke},
		Auth:        true,
		Run: func(ctx context.Context, sc *Context) error {
			return workflow.NewBuildingWizard(sc.Env).Add(ctx, workflow.DefaultBuilding())
		},
	}}
}

// roadValidation runs the road wizard through steps and expects message.
func roadValidation(name, description string, message browser.TextMatch, steps func(*workflow.RoadWizard, workflow.Road) []func(context.Context) error) Scenario {
	return Scenario{
		Name:        name,
		Description: description,
		Tags:        []string{TagRoad, TagValidation},
		Auth:        true,
		Run: func(ctx context.Context, sc *Context) error {
			w := workflow.NewRoadWizard(sc.Env)
			r := workflow.DefaultRoad()
			all := append([]func(context.Context) error{w.Open}, steps(w, r)...)
			for _, fn := range all {
				if err := fn(ctx); err != nil {
					return err
				}
			}
			return w.ExpectValidation(ctx, message)
		},
	}
}

func roadScenarios() []Scenario {
	basics := func(w *workflow.RoadWizard, r workflow.Road) func(context.Context) error {
		return func(ctx context.Context) error { return w.EnterBasics(ctx, r) }
	}
	route := func(w *workflow.RoadWizard, r workflow.Road) func(context.Context) error {
		return func(ctx context.Context) error { return w.DrawRoute(ctx, r) }
	}
	classify := func(w *workflow.RoadWizard, r workflow.Road) func(context.Context) error {
		return func(ctx context.Context) error { return w.Classify(ctx, r) }
	}

	return []Scenario{
		{
			Name:        "road/add",
			Description: "A road is entered, drawn, classified and saved.",
			Tags:        []string{TagRoad, TagSmoke},
			Auth:        true,
			Run: func(ctx context.Context, sc *Context) error {
				return workflow.NewRoadWizard(sc.Env).Add(ctx, workflow.DefaultRoad())
			},
		},
		roadValidation("road/missing-category", "The road category is mandatory.", workflow.MissingRoadCategory,
			func(w *workflow.RoadWizard, r workflow.Road) []func(context.Context) error {
				r.Category = ""
				return []func(context.Context) error{basics(w, r)}
			}),
		roadValidation("road/missing-name", "The road name is mandatory.", workflow.MissingRoadName,
			func(w *workflow.RoadWizard, r workflow.Road) []func(context.Context) error {
				r.Name = ""
				return []func(context.Context) error{basics(w, r)}
			}),
		roadValidation("road/missing-geometry", "The road has to be drawn on the map.", workflow.MissingRoadGeometry,
			func(w *workflow.RoadWizard, r workflow.Road) []func(context.Context) error {
				return []func(context.Context) error{basics(w, r), w.Next}
			}),
		roadValidation("road/missing-administrative", "The administrative class is mandatory.", workflow.MissingAdministrative,
			func(w *workflow.RoadWizard, r workflow.Road) []func(context.Context) error {
				r.Administrative, r.Surface, r.MunicipalClass = "", "", ""
				return []func(context.Context) error{basics(w, r), route(w, r), classify(w, r)}
			}),
		roadValidation("road/missing-surface", "The surface type is mandatory.", workflow.MissingSurfaceType,
			func(w *workflow.RoadWizard, r workflow.Road) []func(context.Context) error {
				r.Surface, r.MunicipalClass = "", ""
				return []func(context.Context) error{basics(w, r), route(w, r), classify(w, r)}
			}),
		roadValidation("road/missing-municipal-class", "The municipal road class is mandatory.", workflow.MissingMunicipalClass,
			func(w *workflow.RoadWizard, r workflow.Road) []func(context.Context) error {
				r.MunicipalClass = ""
				return []func(context.Context) error{basics(w, r), route(w, r), classify(w, r)}
			}),
	}
}

func stylingScenarios() []Scenario {
	return []Scenario{
		{
			Name:        "styling/base-map",
			Description: "A saved base map is the one the map page loads.",
			Tags:        []string{TagStyling, TagNetwork},
			Auth:        true,
			Run: func(ctx context.Context, sc *Context) error {
				return workflow.NewStylingPanel(sc.Env).VerifyBaseMapSelection(ctx)
			},
		},
		{
			Name:        "styling/layer-arrangement",
			Description: "Layers saved off stop loading on the map and load again once saved on.",
			Tags:        []string{TagStyling, TagNetwork},
			Auth:        true,
			Run: func(ctx context.Context, sc *Context) error {
				return workflow.NewStylingPanel(sc.Env).VerifyLayerArrangement(ctx)
			},
		},
	}
}

// onMap opens the map page before running fn.
func onMap(fn func(ctx context.Context, v *workflow.Visualization, sc *Context) error) Func {
	return func(ctx context.Context, sc *Context) error {
		v := workflow.NewVisualization(sc.Env)
		if err := v.Open(ctx); err != nil {
			return err
		}
		return fn(ctx, v, sc)
	}
}

// layerToggle checks each named layer turns off and back on.
func layerToggle(boundaries bool, names ...string) Func {
	return onMap(func(ctx context.Context, v *workflow.Visualization, sc *Context) error {
		if err := v.OpenLayerPanel(ctx, boundaries); err != nil {
			return err
		}
		for _, name := range names {
			l, err := sc.Env.Layer(name)
			if err != nil {
				return err
			}
			if err := v.VerifyLayerToggle(ctx, l); err != nil {
				return err
			}
		}
		return nil
	})
}

// GPS pins checked against the location service, by map pixel.
var gpsPins = []struct {
	At   schemas.Point
	Want workflow.LatLng
}{
	{schemas.Point{X: 653, Y: 292}, workflow.LatLng{Lat: 27.782570623984967, Lng: 85.33527454190073}},
	{schemas.Point{X: 615, Y: 411}, workflow.LatLng{Lat: 27.769272947009412, Lng: 85.33047523366326}},
	{schemas.Point{X: 653, Y: 292}, workflow.LatLng{Lat: 27.782570623984967, Lng: 85.33527454190073}},
}

func visualizationScenarios() []Scenario {
	tags := []string{TagVisualization, TagNetwork}
	return []Scenario{
		{
			Name:        "visualization/base-maps",
			Description: "The Naxa and satellite base maps load their tiles.",
			Tags:        append([]string{TagSmoke}, tags...),
			Auth:        true,
			Run: onMap(func(ctx context.Context, v *workflow.Visualization, _ *Context) error {
				return v.VerifyBaseMaps(ctx)
			}),
		},
		{
			Name:        "visualization/road-building-toggle",
			Description: "Road and building layers stop and resume loading with their switches.",
			Tags:        tags,
			Auth:        true,
			Run:         layerToggle(false, "road", "building"),
		},
		{
			Name:        "visualization/boundary-toggle",
			Description: "Ward and palika boundaries stop and resume loading with their switches.",
			Tags:        tags,
			Auth:        true,
			Run:         layerToggle(true, "ward", "palika"),
		},
		{
			Name:        "visualization/toolbox-navigation",
			Description: "The toolbox shortcuts open the building and road forms.",
			Tags:        []string{TagVisualization},
			Auth:        true,
			Run: onMap(func(ctx context.Context, v *workflow.Visualization, _ *Context) error {
				return v.VerifyToolboxNavigation(ctx)
			}),
		},
		{
			Name:        "visualization/export",
			Description: "The map exports at A3, A2 and A1.",
			Tags:        []string{TagVisualization},
			Auth:        true,
			Run: onMap(func(ctx context.Context, v *workflow.Visualization, sc *Context) error {
				paths, err := v.Export(ctx, workflow.ExportSizes...)
				if err != nil {
					return err
				}
				sc.Logger.Info("Map exported.", zap.Strings("files", paths))
				return nil
			}),
		},
		{
			Name:        "visualization/proximity",
			Description: "A proximity analysis around a house shows toggleable building and road results.",
			Tags:        tags,
			Auth:        true,
			Run: onMap(func(ctx context.Context, v *workflow.Visualization, _ *Context) error {
				return v.Proximity(ctx, schemas.Point{X: 537, Y: 510}, "50")
			}),
		},
		{
			Name:        "visualization/measurement",
			Description: "Measured segments add up to the reported total.",
			Tags:        []string{TagVisualization},
			Auth:        true,
			Run: onMap(func(ctx context.Context, v *workflow.Visualization, _ *Context) error {
				offsets := []schemas.Point{{X: 616, Y: 203}, {X: 635, Y: 252}, {X: 629, Y: 314}, {X: 658, Y: 374}}
				return v.MeasureDistance(ctx, offsets, []string{"652.94 m", "773.93 m", "828.04 m"}, "2254.90 m")
			}),
		},
		{
			Name:        "visualization/gps-pin",
			Description: "Pinning the map looks up the clicked coordinates.",
			Tags:        tags,
			Auth:        true,
			Run: onMap(func(ctx context.Context, v *workflow.Visualization, _ *Context) error {
				if err := v.OpenGPSPin(ctx); err != nil {
					return err
				}
				for _, pin := range gpsPins {
					if err := v.PinAndVerify(ctx, pin.At, pin.Want); err != nil {
						return err
					}
				}
				return nil
			}),
		},
	}
}

// filterLifecycle creates f, finds it and deletes it.
func filterLifecycle(f workflow.Filter) Func {
	return func(ctx context.Context, sc *Context) error {
		b := workflow.NewFilterBuilder(sc.Env)
		for _, fn := range []func(context.Context) error{
			b.Open,
			func(ctx context.Context) error { return b.Create(ctx, f) },
			func(ctx context.Context) error { return b.Search(ctx, f.Name) },
			func(ctx context.Context) error { return b.Delete(ctx, f.Name) },
		} {
			if err := fn(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func filterScenarios() []Scenario {
	out := []Scenario{
		{
			Name:        "filter/lifecycle",
			Description: "A table filter is created, found and deleted.",
			Tags:        []string{TagFilter, TagSmoke},
			Auth:        true,
			Run: func(ctx context.Context, sc *Context) error {
				name := fmt.Sprintf("test %d", time.Now().UnixMilli()%1000)
				return filterLifecycle(workflow.TableFilter(name, filterLayer))(ctx, sc)
			},
		},
		{
			Name:        "filter/missing-name",
			Description: "A filter without a name is refused.",
			Tags:        []string{TagFilter, TagValidation},
			Auth:        true,
			Run: func(ctx context.Context, sc *Context) error {
				f := workflow.TableFilter("", filterLayer)
				f.Rows = nil
				b := workflow.NewFilterBuilder(sc.Env)
				if err := b.Open(ctx); err != nil {
					return err
				}
				return b.CreateRejected(ctx, f)
			},
		},
	}
	for _, chart := range workflow.ChartTypes {
		out = append(out, Scenario{
			Name:        "filter/chart-" + slug(chart),
			Description: fmt.Sprintf("A %s chart filter is created, found and deleted.", chart),
			Tags:        []string{TagFilter},
			Auth:        true,
			Run:         filterLifecycle(workflow.ChartFilter("filter2-"+chart, filterLayer, chart)),
		})
	}
	return out
}

func userScenarios() []Scenario {
	out := make([]Scenario, 0, len(workflow.Roles))
	for _, role := range workflow.Roles {
		out = append(out, Scenario{
			Name:        "users/create-" + slug(role),
			Description: fmt.Sprintf("A %s account is created, and activated when an activation password is configured.", role),
			Tags:        []string{TagUsers},
			Auth:        true,
			Run:         createUser(role),
		})
	}
	return out
}

func createUser(role string) Func {
	return func(ctx context.Context, sc *Context) error {
		u, err := workflow.NewUserManagement(sc.Env).CreateForRole(ctx, role)
		if err != nil {
			return err
		}
		mail := sc.Config.Mail()
		if mail.ActivationPassword == "" {
			sc.Logger.Debug("No activation password configured; leaving account inactive.", zap.String("email", u.Email))
			return nil
		}

		var inbox browser.Page
		if mail.Provider == config.MailProviderWeb {
			if inbox, err = sc.Pages.NewPage(ctx); err != nil {
				return fmt.Errorf("open inbox page: %w", err)
			}
			defer func() { _ = inbox.Close() }()
		}
		mailbox, err := provision.NewMailbox(mail, inbox, sc.Logger)
		if err != nil {
			return err
		}
		return provision.NewActivator(mailbox, sc.Pages, sc.Config, sc.Logger).
			Activate(ctx, sc.Env.Page, provision.AccountFor(u, mail.ActivationPassword))
	}
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "-")
}
