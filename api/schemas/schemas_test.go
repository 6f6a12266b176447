package schemas_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mapharness/api/schemas"
)

func TestRelativePointValid(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name  string
		point schemas.RelativePoint
		valid bool
	}{
		{"Origin", schemas.RelativePoint{X: 0, Y: 0}, true},
		{"FarCorner", schemas.RelativePoint{X: 1, Y: 1}, true},
		{"Interior", schemas.RelativePoint{X: 0.55, Y: 0.45}, true},
		{"NegativeX", schemas.RelativePoint{X: -0.01, Y: 0.5}, false},
		{"OverflowY", schemas.RelativePoint{X: 0.5, Y: 1.2}, false},
		{"NaN", schemas.RelativePoint{X: math.NaN(), Y: 0.5}, false},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.valid, tt.point.Valid())
		})
	}
}

func TestRect(t *testing.T) {
	t.Parallel()
	r := schemas.Rect{X: 100, Y: 50, Width: 800, Height: 600}

	assert.False(t, r.Empty())
	assert.True(t, schemas.Rect{Width: 10}.Empty())
	assert.Equal(t, schemas.Point{X: 500, Y: 350}, r.Center())
	assert.True(t, r.Contains(schemas.Point{X: 100, Y: 50}))
	assert.True(t, r.Contains(schemas.Point{X: 900, Y: 650}))
	assert.False(t, r.Contains(schemas.Point{X: 901, Y: 300}))
}

func TestNetworkEvent(t *testing.T) {
	t.Parallel()

	t.Run("SuccessClass", func(t *testing.T) {
		for status, want := range map[int]bool{200: true, 204: true, 299: true, 301: false, 401: false, 500: false, 0: false} {
			assert.Equal(t, want, schemas.NetworkEvent{Status: status}.Successful(), "status %d", status)
		}
	})

	t.Run("BodyUnavailable", func(t *testing.T) {
		_, err := schemas.NetworkEvent{}.ReadBody(context.Background())
		assert.ErrorIs(t, err, schemas.ErrBodyUnavailable)
	})

	t.Run("BodyAccessor", func(t *testing.T) {
		ev := schemas.NetworkEvent{Body: func(context.Context) ([]byte, error) {
			return []byte(`{"detail":"nope"}`), nil
		}}
		body, err := ev.ReadBody(context.Background())
		require.NoError(t, err)
		assert.JSONEq(t, `{"detail":"nope"}`, string(body))
	})
}
