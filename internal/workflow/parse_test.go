package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mapharness/api/schemas"
)

func TestParseMeters(t *testing.T) {
	cases := map[string]float64{
		"120.50 m":   120.5,
		"1,310.00 m": 1310,
		"0.25 km":    250,
		" 42 ":       42,
	}
	for label, want := range cases {
		got, err := parseMeters(label)
		require.NoError(t, err, label)
		assert.InDelta(t, want, got, 1e-9, label)
	}

	_, err := parseMeters("n/a")
	require.ErrorIs(t, err, ErrAssertion)
}

func TestCoordinatesOf(t *testing.T) {
	body := func(s string) func(context.Context) ([]byte, error) {
		return func(context.Context) ([]byte, error) { return []byte(s), nil }
	}
	cases := []struct {
		name string
		ev   schemas.NetworkEvent
		want LatLng
	}{
		{"query", schemas.NetworkEvent{URL: "https://app.test/my-location-info/?latitude=27.5&lon=85.25"}, LatLng{27.5, 85.25}},
		{"root body", schemas.NetworkEvent{URL: "https://app.test/my-location-info/", Body: body(`{"lat":27.5,"lng":85.25}`)}, LatLng{27.5, 85.25}},
		{"nested string body", schemas.NetworkEvent{URL: "https://app.test/my-location-info/", Body: body(`{"data":{"lat":"27.5","long":"85.25"}}`)}, LatLng{27.5, 85.25}},
		{"zero is a coordinate", schemas.NetworkEvent{URL: "https://app.test/my-location-info/?lat=0&lng=0"}, LatLng{0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := coordinatesOf(context.Background(), tc.ev)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate([]byte("abc"), 5))
	assert.Equal(t, "ab...", truncate([]byte("abcdef"), 2))
}
