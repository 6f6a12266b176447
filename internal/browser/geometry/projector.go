// Package geometry converts resolution independent map coordinates into
// absolute device coordinates on a live page.
package geometry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

var (
	// ErrRegionNotFound means the region is missing, invisible or has no area.
	ErrRegionNotFound = errors.New("viewport region not found")
	// ErrEmptyPath is returned when a path has no points.
	ErrEmptyPath = errors.New("path has no points")
	// ErrOutOfRange is returned for a relative coordinate outside [0, 1].
	ErrOutOfRange = errors.New("relative coordinate out of range")
)

// Region is anything whose on-screen box can be read. *browser.Locator satisfies it.
type Region interface {
	BoundingBox(ctx context.Context) (schemas.Rect, error)
}

// Projector maps relative and pixel-offset coordinates onto a Region.
//
// The region's geometry is read again on every call and never cached: the
// host layout reflows freely (side panels, wizard steps, window resizes), so
// a box read before one gesture is not valid for the next.
type Projector struct {
	logger *zap.Logger
}

// NewProjector creates a Projector.
func NewProjector(logger *zap.Logger) *Projector {
	return &Projector{logger: logger.Named("projector")}
}

// Project returns origin + size*p for the region's current box.
func (pr *Projector) Project(ctx context.Context, region Region, p schemas.RelativePoint) (schemas.Point, error) {
	if !p.Valid() {
		return schemas.Point{}, fmt.Errorf("%w: (%g, %g)", ErrOutOfRange, p.X, p.Y)
	}
	box, err := pr.box(ctx, region)
	if err != nil {
		return schemas.Point{}, err
	}
	pt := schemas.Point{X: box.X + box.Width*p.X, Y: box.Y + box.Height*p.Y}
	pr.logger.Debug("Projected relative point.",
		zap.Float64("rel_x", p.X), zap.Float64("rel_y", p.Y),
		zap.Float64("x", pt.X), zap.Float64("y", pt.Y))
	return pt, nil
}

// ProjectPixel offsets a pixel position from the region's current origin.
// Offsets may fall outside the box; the caller owns that choice.
func (pr *Projector) ProjectPixel(ctx context.Context, region Region, offset schemas.Point) (schemas.Point, error) {
	box, err := pr.box(ctx, region)
	if err != nil {
		return schemas.Point{}, err
	}
	return schemas.Point{X: box.X + offset.X, Y: box.Y + offset.Y}, nil
}

// Present fails with ErrRegionNotFound unless region is on the page with a
// non-zero box.
func (pr *Projector) Present(ctx context.Context, region Region) error {
	_, err := pr.box(ctx, region)
	return err
}

// ProjectPath projects every point of path, reading the region once per point.
func (pr *Projector) ProjectPath(ctx context.Context, region Region, path []schemas.RelativePoint) ([]schemas.Point, error) {
	if len(path) == 0 {
		return nil, ErrEmptyPath
	}
	out := make([]schemas.Point, 0, len(path))
	for i, p := range path {
		pt, err := pr.Project(ctx, region, p)
		if err != nil {
			return nil, fmt.Errorf("path point %d: %w", i, err)
		}
		out = append(out, pt)
	}
	return out, nil
}

func (pr *Projector) box(ctx context.Context, region Region) (schemas.Rect, error) {
	box, err := region.BoundingBox(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			return schemas.Rect{}, fmt.Errorf("%w: %v", ErrRegionNotFound, err)
		}
		return schemas.Rect{}, err
	}
	if box.Empty() {
		return schemas.Rect{}, fmt.Errorf("%w: zero-size box", ErrRegionNotFound)
	}
	return box, nil
}
