package workflow

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/config"
	"github.com/xkilldash9x/mapharness/internal/netwatch"
)

var (
	layersButton      = browser.Role("button", browser.Exact("layers"))
	boundariesSection = browser.ByText(browser.Text("Administrative Boundariesexpand_more"))
	toolboxButton     = browser.CSS("div").Filter(browser.Pattern("^build_circle$"))
	addHouseTool      = browser.Role("button", browser.Pattern("add house"))
	addRoadTool       = browser.Role("button", browser.Pattern("add road"))
	exportButton      = browser.Role("button", browser.Pattern("export"))
	downloadButton    = browser.Role("button", browser.Pattern("^download"))
	proximityTool     = browser.Role("button", browser.Pattern("proximity|near"))
	houseTarget       = browser.ByText(browser.Exact("House"))
	radiusField       = browser.ByPlaceholder(browser.Pattern("radius"))
	runAnalysisButton = browser.Role("button", browser.Pattern("^run|analy[sz]e"))
	analysisResult    = browser.ByText(browser.Pattern("result"))
	distanceTool      = browser.Role("button", browser.Pattern("distance|measure"))
	gpsPinTool        = browser.Role("button", browser.Pattern("gps|pin"))
)

const (
	defaultPaperSize = "A4"
	// coordinateTolerance is in degrees, roughly 10 cm.
	coordinateTolerance = 1e-6
)

// Base maps offered by the visualization page, by image name.
const (
	BaseMapNaxa      = "Naxa Layer"
	BaseMapSatellite = "Satellite"
)

// ExportSizes are the paper sizes exported in turn, each one step up from
// the previous selection.
var ExportSizes = []string{"A3", "A2", "A1"}

// Layer is a map overlay with its panel switch and the tile endpoint it loads.
type Layer struct {
	Name     string
	Switch   int
	Endpoint string
	// Boundary layers sit in the collapsed administrative boundaries section.
	Boundary bool
}

func layersOf(t config.TargetConfig) []Layer {
	ep := t.Endpoints
	return []Layer{
		{Name: "road", Switch: 0, Endpoint: ep.RoadTiles},
		{Name: "building", Switch: 1, Endpoint: ep.BuildingTiles},
		{Name: "ward", Switch: 2, Endpoint: ep.WardTiles, Boundary: true},
		{Name: "palika", Switch: 3, Endpoint: ep.PalikaTiles, Boundary: true},
	}
}

// Layers lists the overlays in switch order.
func (e *Env) Layers() []Layer { return layersOf(e.target) }

// Layer returns the overlay called name.
func (e *Env) Layer(name string) (Layer, error) {
	for _, l := range e.Layers() {
		if l.Name == name {
			return l, nil
		}
	}
	return Layer{}, fmt.Errorf("unknown layer %q", name)
}

// LatLng is a geographic coordinate in degrees.
type LatLng struct {
	Lat float64
	Lng float64
}

// Visualization drives the map page.
type Visualization struct {
	flow
}

// NewVisualization returns the map page flow.
func NewVisualization(env *Env) *Visualization {
	return &Visualization{flow: newFlow(env, "visualization")}
}

// Open loads the map page, reloads it once so layer settings saved
// elsewhere apply, and waits for the map.
func (v *Visualization) Open(ctx context.Context) error {
	return v.step(ctx, "open map", func(ctx context.Context) error {
		if err := v.open(ctx, v.env.target.Routes.Visualization); err != nil {
			return err
		}
		if err := v.env.Page.Reload(ctx); err != nil {
			return err
		}
		if err := v.settle(ctx); err != nil {
			return err
		}
		return v.env.Map.WaitReady(ctx)
	})
}

// SelectBaseMap clicks the named base map and requires its tiles to load.
func (v *Visualization) SelectBaseMap(ctx context.Context, name, endpoint string) error {
	return v.step(ctx, "select base map "+name, func(ctx context.Context) error {
		_, err := v.env.Net.Correlate(ctx, netwatch.ActionSpec{
			Name:         "select " + name,
			Trigger:      func(ctx context.Context) error { return v.click(ctx, browser.Role("img", browser.Exact(name))) },
			Expectations: []netwatch.Expectation{netwatch.MustOccur(endpoint).Named(name + " tiles")},
		})
		if err != nil {
			return err
		}
		return v.env.Map.Region().WaitVisible(ctx, 0)
	})
}

// VerifyBaseMaps switches to the Naxa and then the satellite base map.
func (v *Visualization) VerifyBaseMaps(ctx context.Context) error {
	ep := v.env.target.Endpoints
	if err := v.SelectBaseMap(ctx, BaseMapNaxa, ep.NaxaBaseMap); err != nil {
		return err
	}
	return v.SelectBaseMap(ctx, BaseMapSatellite, ep.SatelliteMap)
}

// OpenLayerPanel opens the layer switches, expanding the boundary section
// when boundaries is set.
func (v *Visualization) OpenLayerPanel(ctx context.Context, boundaries bool) error {
	return v.step(ctx, "open layer panel", func(ctx context.Context) error {
		if err := v.click(ctx, layersButton); err != nil {
			return err
		}
		if !boundaries {
			return nil
		}
		return v.click(ctx, boundariesSection)
	})
}

// VerifyLayerToggle checks that l is on, that switching it off stops its
// tile requests, and that switching it back on restores them.
func (v *Visualization) VerifyLayerToggle(ctx context.Context, l Layer) error {
	if err := v.step(ctx, l.Name+" defaults on", func(ctx context.Context) error {
		return v.expectSwitch(ctx, l.Switch, true)
	}); err != nil {
		return err
	}
	if err := v.step(ctx, l.Name+" off", func(ctx context.Context) error {
		return v.LayerOff(ctx, l)
	}); err != nil {
		return err
	}
	return v.step(ctx, l.Name+" on", func(ctx context.Context) error {
		return v.LayerOn(ctx, l)
	})
}

// LayerOff switches l off, forces a tile refresh, and asserts no tile of l
// loads within the absence window.
func (v *Visualization) LayerOff(ctx context.Context, l Layer) error {
	if err := v.env.Controls.ToggleSwitch(ctx, l.Switch); err != nil {
		return err
	}
	_, err := v.env.Net.Correlate(ctx, netwatch.ActionSpec{
		Name:         "refresh without " + l.Name,
		Trigger:      v.env.Map.ForceTileRefresh,
		Expectations: []netwatch.Expectation{netwatch.MustNotOccur(l.Endpoint).Named(l.Name + " tiles")},
	})
	return err
}

// LayerOn switches l on and requires its tiles to load after a forced
// refresh. The observer is armed before the switch is touched.
func (v *Visualization) LayerOn(ctx context.Context, l Layer) error {
	obs := v.env.Net.Arm(netwatch.MustOccur(l.Endpoint).Named(l.Name + " tiles"))
	if err := v.env.Controls.ToggleSwitch(ctx, l.Switch); err != nil {
		netwatch.Release(obs)
		return err
	}
	if err := v.env.Map.ForceTileRefresh(ctx); err != nil {
		netwatch.Release(obs)
		return err
	}
	_, err := v.env.Net.Await(ctx, obs)
	return err
}

func (v *Visualization) openToolbox(ctx context.Context) error {
	return v.click(ctx, toolboxButton)
}

// VerifyToolboxNavigation follows the toolbox shortcuts to the building and
// road forms.
func (v *Visualization) VerifyToolboxNavigation(ctx context.Context) error {
	routes := v.env.target.Routes
	if err := v.step(ctx, "add house shortcut", func(ctx context.Context) error {
		if err := v.openToolbox(ctx); err != nil {
			return err
		}
		if err := v.click(ctx, addHouseTool); err != nil {
			return err
		}
		if err := v.expectURL(ctx, routes.BuildingForm, true); err != nil {
			return err
		}
		return v.env.Page.GoBack(ctx)
	}); err != nil {
		return err
	}
	return v.step(ctx, "add road shortcut", func(ctx context.Context) error {
		if err := v.openToolbox(ctx); err != nil {
			return err
		}
		if err := v.click(ctx, addRoadTool); err != nil {
			return err
		}
		return v.expectURL(ctx, routes.RoadForm, true)
	})
}

// Export exports the map at each size in turn and verifies every download.
// It returns the downloaded file paths.
func (v *Visualization) Export(ctx context.Context, sizes ...string) ([]string, error) {
	if err := v.step(ctx, "open export", func(ctx context.Context) error {
		if err := v.env.Map.WaitReady(ctx); err != nil {
			return err
		}
		if err := v.openToolbox(ctx); err != nil {
			return err
		}
		return v.click(ctx, exportButton)
	}); err != nil {
		return nil, err
	}

	var paths []string
	current := defaultPaperSize
	for _, size := range sizes {
		from := current
		err := v.step(ctx, "export "+size, func(ctx context.Context) error {
			paper := v.locate(browser.ByText(browser.Exact(from)))
			if err := v.env.Controls.SelectOption(ctx, paper, browser.ByText(browser.Exact(size))); err != nil {
				return err
			}
			path, err := v.download(ctx)
			if err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return paths, err
		}
		current = size
	}
	return paths, nil
}

func (v *Visualization) download(ctx context.Context) (string, error) {
	d, err := v.env.Page.ExpectDownload(ctx, func(ctx context.Context) error {
		return v.click(ctx, downloadButton)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadVerificationFailed, err)
	}
	if d.SuggestedFilename() == "" {
		return "", fmt.Errorf("%w: download has no file name", ErrDownloadVerificationFailed)
	}
	path, err := d.Path(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrDownloadVerificationFailed, d.SuggestedFilename(), err)
	}
	if path == "" {
		return "", fmt.Errorf("%w: %s has no path", ErrDownloadVerificationFailed, d.SuggestedFilename())
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrDownloadVerificationFailed, d.SuggestedFilename(), err)
	}
	v.logger.Info("Export downloaded.", zap.String("file", d.SuggestedFilename()), zap.String("path", path))
	return path, nil
}

// Proximity runs a proximity analysis of houses around a map pixel, then
// checks the building and road layers of the result.
func (v *Visualization) Proximity(ctx context.Context, at schemas.Point, radius string) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"open proximity tool", func(ctx context.Context) error {
			if err := v.openToolbox(ctx); err != nil {
				return err
			}
			if err := v.click(ctx, proximityTool); err != nil {
				return err
			}
			if err := v.click(ctx, houseTarget); err != nil {
				return err
			}
			return v.env.Map.WaitReady(ctx)
		}},
		{"run analysis", func(ctx context.Context) error {
			if err := v.env.Map.ClickPixel(ctx, at, false); err != nil {
				return err
			}
			if err := v.env.Controls.FillField(ctx, v.locate(radiusField), radius); err != nil {
				return err
			}
			if err := v.click(ctx, runAnalysisButton); err != nil {
				return err
			}
			if err := v.env.Map.WaitReady(ctx); err != nil {
				return err
			}
			return v.expectText(ctx, analysisResult)
		}},
	}
	for _, s := range steps {
		if err := v.step(ctx, s.name, s.fn); err != nil {
			return err
		}
	}
	for _, name := range []string{"building", "road"} {
		l, err := v.env.Layer(name)
		if err != nil {
			return err
		}
		if err := v.VerifyLayerToggle(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// MeasureDistance draws a measurement through pixel offsets and checks the
// segment labels add up to the total label.
func (v *Visualization) MeasureDistance(ctx context.Context, offsets []schemas.Point, segments []string, total string) error {
	if err := v.step(ctx, "draw measurement", func(ctx context.Context) error {
		if err := v.click(ctx, distanceTool); err != nil {
			return err
		}
		return v.env.Map.MeasurePath(ctx, offsets)
	}); err != nil {
		return err
	}
	return v.step(ctx, "check total", func(ctx context.Context) error {
		var sum float64
		for _, s := range segments {
			if err := v.expectText(ctx, browser.Exact(s)); err != nil {
				return err
			}
			d, err := parseMeters(s)
			if err != nil {
				return err
			}
			sum += d
		}
		if err := v.expectText(ctx, browser.Exact(total)); err != nil {
			return err
		}
		want, err := parseMeters(total)
		if err != nil {
			return err
		}
		// Labels carry two decimals.
		if math.Abs(sum-want) > 0.01 {
			return fmt.Errorf("%w: segments sum to %.2f m, total reads %s", ErrAssertion, sum, total)
		}
		return nil
	})
}

func parseMeters(label string) (float64, error) {
	s := strings.TrimSpace(label)
	scale := 1.0
	switch {
	case strings.HasSuffix(s, "km"):
		s, scale = strings.TrimSuffix(s, "km"), 1000
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: distance label %q: %v", ErrAssertion, label, err)
	}
	return f * scale, nil
}

// OpenGPSPin activates the GPS pin tool.
func (v *Visualization) OpenGPSPin(ctx context.Context) error {
	return v.step(ctx, "open gps pin", func(ctx context.Context) error {
		if err := v.click(ctx, gpsPinTool); err != nil {
			return err
		}
		return v.env.Map.WaitReady(ctx)
	})
}

// PinAndVerify clicks the map at a pixel offset and requires the location
// lookup it triggers to report want.
func (v *Visualization) PinAndVerify(ctx context.Context, at schemas.Point, want LatLng) error {
	name := fmt.Sprintf("pin at (%g, %g)", at.X, at.Y)
	return v.step(ctx, name, func(ctx context.Context) error {
		outcomes, err := v.env.Net.Correlate(ctx, netwatch.ActionSpec{
			Name:         name,
			Trigger:      func(ctx context.Context) error { return v.env.Map.ClickPixel(ctx, at, true) },
			Expectations: []netwatch.Expectation{netwatch.MustOccur(v.env.target.Endpoints.LocationInfo).Named("location info")},
		})
		if err != nil {
			return err
		}
		got, err := coordinatesOf(ctx, outcomes[0].Event)
		if err != nil {
			return err
		}
		if math.Abs(got.Lat-want.Lat) > coordinateTolerance || math.Abs(got.Lng-want.Lng) > coordinateTolerance {
			return fmt.Errorf("%w: location lookup for %s reported %v, want %v", ErrAssertion, name, got, want)
		}
		return nil
	})
}

var (
	latKeys = []string{"lat", "latitude"}
	lngKeys = []string{"lng", "lon", "long", "longitude"}
)

// coordinatesOf reads the coordinate of a location lookup from its query
// string, falling back to the response body.
func coordinatesOf(ctx context.Context, ev schemas.NetworkEvent) (LatLng, error) {
	if u, err := url.Parse(ev.URL); err == nil {
		q := u.Query()
		lat, okLat := queryFloat(q, latKeys)
		lng, okLng := queryFloat(q, lngKeys)
		if okLat && okLng {
			return LatLng{Lat: lat, Lng: lng}, nil
		}
	}
	body, err := ev.ReadBody(ctx)
	if err != nil {
		return LatLng{}, fmt.Errorf("read location info: %w", err)
	}
	lat, okLat := bodyFloat(body, latKeys)
	lng, okLng := bodyFloat(body, lngKeys)
	if !okLat || !okLng {
		return LatLng{}, fmt.Errorf("%w: location info carries no coordinate: %s", ErrAssertion, truncate(body, 200))
	}
	return LatLng{Lat: lat, Lng: lng}, nil
}

func queryFloat(q url.Values, keys []string) (float64, bool) {
	for _, k := range keys {
		if s := q.Get(k); s != "" {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func bodyFloat(body []byte, keys []string) (float64, bool) {
	for _, root := range [][]interface{}{nil, {"data"}} {
		for _, k := range keys {
			v := json.Get(body, append(root, k)...)
			if v.ValueType() == jsoniter.NumberValue || v.ValueType() == jsoniter.StringValue {
				if f := v.ToFloat64(); f != 0 || v.ToString() == "0" {
					return f, true
				}
			}
		}
	}
	return 0, false
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
