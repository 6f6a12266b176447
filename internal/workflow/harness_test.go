package workflow_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser/browsertest"
	"github.com/xkilldash9x/mapharness/internal/config"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

const testBaseURL = "https://app.test"

var mapBox = schemas.Rect{X: 100, Y: 50, Width: 800, Height: 600}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.TargetCfg.BaseURL = testBaseURL

	cfg.NetworkCfg.Timeout = 300 * time.Millisecond
	cfg.NetworkCfg.AbsenceWindow = 50 * time.Millisecond
	cfg.NetworkCfg.ElementTimeout = 300 * time.Millisecond
	cfg.NetworkCfg.OptionTimeout = 300 * time.Millisecond
	cfg.NetworkCfg.PollInterval = 5 * time.Millisecond
	cfg.NetworkCfg.PostLoadWait = 0

	cfg.MapCfg.ReadyTimeout = 200 * time.Millisecond
	cfg.MapCfg.HoverSettle = time.Millisecond
	cfg.MapCfg.RefreshSettle = time.Millisecond
	cfg.MapCfg.PickSettle = time.Millisecond
	cfg.MapCfg.ClickSettle = time.Millisecond
	return cfg
}

// app is one fake page with the flows' environment bound to it.
type app struct {
	page *browsertest.Page
	cfg  *config.Config
	env  *workflow.Env
}

func newApp(t *testing.T) *app {
	t.Helper()
	page := browsertest.NewPage(t)
	t.Cleanup(func() { _ = page.Close() })
	cfg := testConfig()
	return &app{page: page, cfg: cfg, env: workflow.NewEnv(page, cfg, zaptest.NewLogger(t))}
}

func (a *app) url(route string) string { return a.cfg.TargetCfg.URL(route) }

func (a *app) endpoints() config.EndpointsConfig { return a.cfg.TargetCfg.Endpoints }

// dropdown is a textbox revealing its options on click. Picking an option
// hides the list again and records the choice.
type dropdown struct {
	box      *browsertest.Element
	list     *browsertest.Element
	selected []string
}

func addDropdown(parent func(*browsertest.Element) *browsertest.Element, box *browsertest.Element, options ...string) *dropdown {
	d := &dropdown{box: parent(box), list: parent(&browsertest.Element{Tag: "ul", Hidden: true})}
	for _, o := range options {
		o := o
		item := d.list.Append(browsertest.ListItem(o))
		item.OnClick = func(context.Context, schemas.Point) error {
			d.selected = append(d.selected, o)
			d.list.SetHidden(true)
			return nil
		}
	}
	box.OnClick = func(context.Context, schemas.Point) error {
		d.list.SetHidden(false)
		return nil
	}
	return d
}

func (d *dropdown) last() string {
	if len(d.selected) == 0 {
		return ""
	}
	return d.selected[len(d.selected)-1]
}

// showOnClick adds el hidden and reveals it when trigger is clicked.
func showOnClick(parent func(*browsertest.Element) *browsertest.Element, trigger, el *browsertest.Element) *browsertest.Element {
	el.Hidden = true
	parent(el)
	trigger.OnClick = func(context.Context, schemas.Point) error {
		el.SetHidden(false)
		return nil
	}
	return el
}

// fakeMap renders the map surface and the four layer switches. Every wheel
// tick over the map loads one tile of the current base map and of each
// layer that is switched on.
type fakeMap struct {
	page   *browsertest.Page
	region *browsertest.Element

	mu        sync.Mutex
	on        []bool
	endpoints []string
	baseMap   string
	// ignoreSwitches keeps every layer loading whatever its switch reads.
	ignoreSwitches bool
}

func newFakeMap(a *app, on ...bool) *fakeMap {
	ep := a.endpoints()
	m := &fakeMap{
		page:      a.page,
		region:    a.page.Add(browsertest.Region("Map", mapBox)),
		on:        append([]bool(nil), on...),
		endpoints: []string{ep.RoadTiles, ep.BuildingTiles, ep.WardTiles, ep.PalikaTiles},
		baseMap:   ep.NaxaBaseMap,
	}
	for i := range m.on {
		i := i
		sw := a.page.Add(browsertest.Switch(m.on[i]))
		sw.OnClick = func(context.Context, schemas.Point) error {
			m.mu.Lock()
			m.on[i] = !m.on[i]
			state := m.on[i]
			m.mu.Unlock()
			if state {
				sw.SetAttr("aria-checked", "true")
			} else {
				sw.SetAttr("aria-checked", "false")
			}
			return nil
		}
	}
	a.page.OnMouse = func(ev schemas.MouseEventData) {
		if ev.Type == schemas.MouseWheel {
			m.refresh()
		}
	}
	return m
}

func (m *fakeMap) setBaseMap(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseMap = endpoint
}

func (m *fakeMap) refresh() {
	m.mu.Lock()
	urls := []string{testBaseURL + "/tiles/" + m.baseMap + "/12/3004/1736.png"}
	for i, ep := range m.endpoints {
		if m.on[i] || m.ignoreSwitches {
			urls = append(urls, testBaseURL+ep+"12/3004/1736.pbf")
		}
	}
	m.mu.Unlock()
	for _, u := range urls {
		m.page.Emit(browsertest.Response(u, http.MethodGet, http.StatusOK))
	}
}

// clickGesture is a pointer interaction reduced to what the map client sees.
type clickGesture struct {
	Kind string
	At   schemas.Point
}

func gestures(events []schemas.MouseEventData) []clickGesture {
	var out []clickGesture
	for _, ev := range events {
		p := schemas.Point{X: ev.X, Y: ev.Y}
		switch ev.Type {
		case schemas.MousePress:
			if ev.ClickCount == 2 && len(out) > 0 && out[len(out)-1].Kind == "click" && out[len(out)-1].At == p {
				out[len(out)-1].Kind = "dblclick"
				continue
			}
			out = append(out, clickGesture{Kind: "click", At: p})
		case schemas.MouseWheel:
			out = append(out, clickGesture{Kind: "wheel", At: p})
		}
	}
	return out
}

func kinds(gs []clickGesture) []string {
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = g.Kind
	}
	return out
}

func countClicks(p *browsertest.Page, query string) int {
	n := 0
	for _, a := range p.ActionsOf(browsertest.ActionClick) {
		if a.Query == query {
			n++
		}
	}
	return n
}
