package workflow

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/netwatch"
)

var (
	baseMapControl  = browser.CSS("p.text-sm.capitalize").Parent()
	saveLayerButton = browser.Role("button", browser.Exact("Save Layer Arrangement"))
	layerSavedToast = browser.Text("Layer setting updated successfully")
)

// Base map choices of the styling page.
const (
	StylingBaseMapOSM  = "OSM"
	StylingBaseMapNaxa = "Naxa Layer"
)

// StylingPanel drives the layer arrangement settings and checks their effect
// on the map page.
type StylingPanel struct {
	flow
	viz *Visualization
}

// NewStylingPanel returns the styling flow.
func NewStylingPanel(env *Env) *StylingPanel {
	return &StylingPanel{flow: newFlow(env, "styling"), viz: NewVisualization(env)}
}

// Open loads the styling page and reloads it so it reflects saved settings.
func (s *StylingPanel) Open(ctx context.Context) error {
	return s.step(ctx, "open styling", func(ctx context.Context) error {
		if err := s.open(ctx, s.env.target.Routes.Styling); err != nil {
			return err
		}
		if err := s.env.Page.Reload(ctx); err != nil {
			return err
		}
		return s.settle(ctx)
	})
}

func (s *StylingPanel) save(ctx context.Context) error {
	if err := s.click(ctx, saveLayerButton); err != nil {
		return err
	}
	return s.expectText(ctx, layerSavedToast)
}

// SetBaseMap selects the base map option and saves the arrangement.
func (s *StylingPanel) SetBaseMap(ctx context.Context, option string) error {
	return s.step(ctx, "set base map "+option, func(ctx context.Context) error {
		if err := s.env.Controls.SelectDropdown(ctx, s.locate(baseMapControl), option); err != nil {
			return err
		}
		return s.save(ctx)
	})
}

// ToggleLayers flips every layer switch, asserts each flipped, and saves.
// It returns the saved states in switch order.
func (s *StylingPanel) ToggleLayers(ctx context.Context) ([]bool, error) {
	layers := s.env.Layers()
	states := make([]bool, len(layers))
	err := s.step(ctx, "toggle layers", func(ctx context.Context) error {
		for i, l := range layers {
			before, err := s.env.Controls.SwitchState(ctx, l.Switch)
			if err != nil {
				return err
			}
			if err := s.env.Controls.ToggleSwitch(ctx, l.Switch); err != nil {
				return err
			}
			if err := s.expectSwitch(ctx, l.Switch, !before); err != nil {
				return fmt.Errorf("%s: %w", l.Name, err)
			}
			states[i] = !before
		}
		return s.save(ctx)
	})
	return states, err
}

// VerifyBaseMapTiles opens the map page and requires tiles from endpoint
// after a forced refresh.
func (s *StylingPanel) VerifyBaseMapTiles(ctx context.Context, endpoint string) error {
	if err := s.viz.Open(ctx); err != nil {
		return err
	}
	return s.step(ctx, "base map tiles "+endpoint, func(ctx context.Context) error {
		_, err := s.env.Net.Correlate(ctx, netwatch.ActionSpec{
			Name:         "refresh base map",
			Trigger:      s.env.Map.ForceTileRefresh,
			Expectations: []netwatch.Expectation{netwatch.MustOccur(endpoint).Named("base map tiles")},
		})
		return err
	})
}

// VerifyLayersHidden opens the map page and asserts no layer loads tiles
// after a forced refresh. All layers share one absence window.
func (s *StylingPanel) VerifyLayersHidden(ctx context.Context) error {
	if err := s.viz.Open(ctx); err != nil {
		return err
	}
	return s.step(ctx, "no layer tiles", func(ctx context.Context) error {
		var exps []netwatch.Expectation
		for _, l := range s.env.Layers() {
			exps = append(exps, netwatch.MustNotOccur(l.Endpoint).Named(l.Name+" tiles"))
		}
		_, err := s.env.Net.Correlate(ctx, netwatch.ActionSpec{
			Name:         "refresh hidden layers",
			Trigger:      s.env.Map.ForceTileRefresh,
			Expectations: exps,
		})
		return err
	})
}

// VerifyLayersShown opens the map page and requires every layer's tiles to
// load after a single zoom gesture. All observers are armed before it.
func (s *StylingPanel) VerifyLayersShown(ctx context.Context) ([]netwatch.Outcome, error) {
	if err := s.viz.Open(ctx); err != nil {
		return nil, err
	}
	var outcomes []netwatch.Outcome
	err := s.step(ctx, "all layer tiles", func(ctx context.Context) error {
		if err := s.env.Map.Region().Hover(ctx); err != nil {
			return err
		}
		if err := browser.Pause(ctx, s.env.mapCfg.HoverSettle); err != nil {
			return err
		}
		var exps []netwatch.Expectation
		for _, l := range s.env.Layers() {
			exps = append(exps, netwatch.MustOccur(l.Endpoint).Named(l.Name+" tiles"))
		}
		var err error
		outcomes, err = s.env.Net.Correlate(ctx, netwatch.ActionSpec{
			Name: "zoom all layers",
			Trigger: func(ctx context.Context) error {
				return s.env.Map.ZoomOut(ctx, s.env.mapCfg.RefreshWheelDeltas[0])
			},
			Expectations: exps,
		})
		return err
	})
	return outcomes, err
}

// VerifyBaseMapSelection saves the OSM and then the Naxa base map, checking
// the map page loads the matching tiles after each.
func (s *StylingPanel) VerifyBaseMapSelection(ctx context.Context) error {
	ep := s.env.target.Endpoints
	for _, choice := range []struct{ option, endpoint string }{
		{StylingBaseMapOSM, ep.OSMBaseMap},
		{StylingBaseMapNaxa, ep.NaxaBaseMap},
	} {
		if err := s.Open(ctx); err != nil {
			return err
		}
		if err := s.SetBaseMap(ctx, choice.option); err != nil {
			return err
		}
		if err := s.VerifyBaseMapTiles(ctx, choice.endpoint); err != nil {
			return err
		}
	}
	return nil
}

// VerifyLayerArrangement turns every layer off, checks the map stops loading
// them, turns them back on, and checks all four load again together.
func (s *StylingPanel) VerifyLayerArrangement(ctx context.Context) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	if _, err := s.ToggleLayers(ctx); err != nil {
		return err
	}
	if err := s.VerifyLayersHidden(ctx); err != nil {
		return err
	}
	if err := s.Open(ctx); err != nil {
		return err
	}
	if _, err := s.ToggleLayers(ctx); err != nil {
		return err
	}
	_, err := s.VerifyLayersShown(ctx)
	return err
}
