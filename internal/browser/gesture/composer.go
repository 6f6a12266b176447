// Package gesture composes multi-point map interactions (polygon and line
// drawing, point placement, feature picking, tile refresh) from the raw
// pointer primitives of a page.
package gesture

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/browser/geometry"
	"github.com/xkilldash9x/mapharness/internal/config"
)

// ErrMapNotReady means the map surface did not become visible with a usable
// box within the ready timeout.
var ErrMapNotReady = errors.New("map surface not ready")

// Composer drives one page's map surface.
type Composer struct {
	page      browser.Page
	region    *browser.Locator
	projector *geometry.Projector
	cfg       config.MapConfig
	logger    *zap.Logger
}

// NewComposer locates the map surface by cfg.RegionRole and cfg.RegionName.
func NewComposer(page browser.Page, projector *geometry.Projector, cfg config.MapConfig, logger *zap.Logger) *Composer {
	region := page.Locate(browser.Role(cfg.RegionRole, browser.Exact(cfg.RegionName)))
	return &Composer{
		page:      page,
		region:    region,
		projector: projector,
		cfg:       cfg,
		logger:    logger.Named("gesture"),
	}
}

// Region returns the map surface locator.
func (c *Composer) Region() *browser.Locator { return c.region }

// WaitReady blocks until the map is visible and has a non-empty box.
func (c *Composer) WaitReady(ctx context.Context) error {
	err := browser.Poll(ctx, c.cfg.ReadyTimeout, browser.DefaultPollInterval, func(ctx context.Context) (bool, error) {
		st, err := c.region.State(ctx)
		if err != nil {
			return false, err
		}
		return st.Found && st.Visible && !st.Box.Empty(), nil
	})
	if errors.Is(err, browser.ErrTimeout) {
		return fmt.Errorf("%w: %s within %s", ErrMapNotReady, c.region, c.cfg.ReadyTimeout)
	}
	return err
}

// DrawPath clicks every point of path in order. Every point but the last gets a
// single click; the last gets a double click, which the map client treats as
// the end of the shape. A one-point path is therefore a single double click.
func (c *Composer) DrawPath(ctx context.Context, path []schemas.RelativePoint) error {
	if len(path) == 0 {
		return geometry.ErrEmptyPath
	}
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	last := len(path) - 1
	for i, p := range path {
		// Fresh projection per point: the previous click may have reflowed the layout.
		pt, err := c.projector.Project(ctx, c.region, p)
		if err != nil {
			return fmt.Errorf("draw point %d: %w", i, err)
		}
		if i == last {
			err = browser.DoubleClickAt(ctx, c.page.Mouse(), pt)
		} else {
			err = browser.ClickAt(ctx, c.page.Mouse(), pt)
		}
		if err != nil {
			return fmt.Errorf("draw point %d: %w", i, err)
		}
	}
	c.logger.Debug("Drew path.", zap.Int("points", len(path)))
	return nil
}

// PlacePoint places a single-point geometry with one click.
func (c *Composer) PlacePoint(ctx context.Context, p schemas.RelativePoint) error {
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	pt, err := c.projector.Project(ctx, c.region, p)
	if err != nil {
		return err
	}
	return browser.ClickAt(ctx, c.page.Mouse(), pt)
}

// ForceTileRefresh makes the map client re-request tiles that it would
// otherwise serve from its own cache. It hovers the map, zooms out by the
// configured wheel ticks at the center, and lets the client settle.
func (c *Composer) ForceTileRefresh(ctx context.Context) error {
	if err := c.region.Hover(ctx); err != nil {
		return fmt.Errorf("hover map: %w", err)
	}
	if err := browser.Pause(ctx, c.cfg.HoverSettle); err != nil {
		return err
	}
	center, err := c.projector.Project(ctx, c.region, schemas.RelativePoint{X: 0.5, Y: 0.5})
	if err != nil {
		return err
	}
	for _, delta := range c.cfg.RefreshWheelDeltas {
		if err := browser.WheelAt(ctx, c.page.Mouse(), center, 0, delta); err != nil {
			return fmt.Errorf("wheel %g: %w", delta, err)
		}
	}
	c.logger.Debug("Forced tile refresh.", zap.Float64s("wheel_deltas", c.cfg.RefreshWheelDeltas))
	return browser.Pause(ctx, c.cfg.RefreshSettle)
}

// ZoomOut hovers the map and scrolls by delta at its center.
func (c *Composer) ZoomOut(ctx context.Context, delta float64) error {
	if err := c.region.Hover(ctx); err != nil {
		return fmt.Errorf("hover map: %w", err)
	}
	center, err := c.projector.Project(ctx, c.region, schemas.RelativePoint{X: 0.5, Y: 0.5})
	if err != nil {
		return err
	}
	return browser.WheelAt(ctx, c.page.Mouse(), center, 0, delta)
}

// ClickPixel clicks the map at a pixel offset from its top-left corner. A
// forced click skips the actionability checks, which overlays on top of the
// map canvas would otherwise fail.
func (c *Composer) ClickPixel(ctx context.Context, offset schemas.Point, force bool) error {
	opts := []browser.ClickOption{browser.At(offset)}
	if force {
		// A forced click skips the locator's own waits.
		if err := c.projector.Present(ctx, c.region); err != nil {
			return err
		}
		opts = append(opts, browser.Forced())
	}
	return c.region.Click(ctx, opts...)
}

// PickAt selects an existing feature rendered at a pixel offset: zoom out a
// tick so the feature is drawn, wait for the render, then force-click it.
func (c *Composer) PickAt(ctx context.Context, offset schemas.Point) error {
	if err := c.ZoomOut(ctx, c.cfg.PickWheelDelta); err != nil {
		return err
	}
	if err := browser.Pause(ctx, c.cfg.PickSettle); err != nil {
		return err
	}
	if err := c.ClickPixel(ctx, offset, true); err != nil {
		return fmt.Errorf("pick at (%g, %g): %w", offset.X, offset.Y, err)
	}
	return browser.Pause(ctx, c.cfg.ClickSettle)
}

// MeasurePath draws a polyline through pixel offsets, ending with a double
// click like DrawPath.
func (c *Composer) MeasurePath(ctx context.Context, offsets []schemas.Point) error {
	if len(offsets) == 0 {
		return geometry.ErrEmptyPath
	}
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	last := len(offsets) - 1
	for i, off := range offsets {
		pt, err := c.projector.ProjectPixel(ctx, c.region, off)
		if err != nil {
			return fmt.Errorf("measure point %d: %w", i, err)
		}
		if i == last {
			err = browser.DoubleClickAt(ctx, c.page.Mouse(), pt)
		} else {
			err = browser.ClickAt(ctx, c.page.Mouse(), pt)
		}
		if err != nil {
			return fmt.Errorf("measure point %d: %w", i, err)
		}
	}
	return nil
}
