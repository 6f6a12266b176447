package browser

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/mapharness/api/schemas"
)

// The helpers below compose raw pointer events into gestures. All drivers
// receive the same press/release sequences, so a double click is always two
// press/release pairs with an increasing click count.

// MoveTo moves the pointer without pressing any button.
func MoveTo(ctx context.Context, m Mouse, p schemas.Point) error {
	return m.Dispatch(ctx, schemas.MouseEventData{
		Type:   schemas.MouseMove,
		X:      p.X,
		Y:      p.Y,
		Button: schemas.ButtonNone,
	})
}

// ClickAt performs a single left click at p.
func ClickAt(ctx context.Context, m Mouse, p schemas.Point) error {
	if err := MoveTo(ctx, m, p); err != nil {
		return err
	}
	return pressRelease(ctx, m, p, 1)
}

// DoubleClickAt performs a left double click at p.
func DoubleClickAt(ctx context.Context, m Mouse, p schemas.Point) error {
	if err := MoveTo(ctx, m, p); err != nil {
		return err
	}
	for count := 1; count <= 2; count++ {
		if err := pressRelease(ctx, m, p, count); err != nil {
			return err
		}
	}
	return nil
}

// WheelAt scrolls by (dx, dy) with the pointer resting at p.
func WheelAt(ctx context.Context, m Mouse, p schemas.Point, dx, dy float64) error {
	return m.Dispatch(ctx, schemas.MouseEventData{
		Type:   schemas.MouseWheel,
		X:      p.X,
		Y:      p.Y,
		Button: schemas.ButtonNone,
		DeltaX: dx,
		DeltaY: dy,
	})
}

func pressRelease(ctx context.Context, m Mouse, p schemas.Point, clickCount int) error {
	press := schemas.MouseEventData{
		Type:       schemas.MousePress,
		X:          p.X,
		Y:          p.Y,
		Button:     schemas.ButtonLeft,
		Buttons:    1,
		ClickCount: clickCount,
	}
	if err := m.Dispatch(ctx, press); err != nil {
		return fmt.Errorf("mouse press at (%.1f, %.1f): %w", p.X, p.Y, err)
	}
	release := press
	release.Type = schemas.MouseRelease
	release.Buttons = 0
	if err := m.Dispatch(ctx, release); err != nil {
		return fmt.Errorf("mouse release at (%.1f, %.1f): %w", p.X, p.Y, err)
	}
	return nil
}
