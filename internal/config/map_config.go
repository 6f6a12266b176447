// File: internal/config/map_config.go
// This file defines the MapConfig struct, which holds the tunable parameters of
// the map gesture composer: how the map surface is located, how long to wait
// for it, and the wheel/settle timings used to defeat client side tile caching.
//
// The timings are empirical. They reflect how long the map client debounces
// viewport changes before requesting tiles, so they are configuration rather
// than constants.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// MapConfig holds the gesture settings for the map surface.
type MapConfig struct {
	// RegionRole and RegionName locate the map surface by accessible role/name.
	RegionRole   string        `mapstructure:"region_role" yaml:"region_role"`
	RegionName   string        `mapstructure:"region_name" yaml:"region_name"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`

	// RefreshWheelDeltas are applied, in order, as vertical wheel ticks during a forced tile refresh.
	RefreshWheelDeltas []float64     `mapstructure:"refresh_wheel_deltas" yaml:"refresh_wheel_deltas"`
	HoverSettle        time.Duration `mapstructure:"hover_settle" yaml:"hover_settle"`
	RefreshSettle      time.Duration `mapstructure:"refresh_settle" yaml:"refresh_settle"`

	// PickWheelDelta and PickSettle drive the zoom-out before picking a feature by pixel.
	PickWheelDelta float64       `mapstructure:"pick_wheel_delta" yaml:"pick_wheel_delta"`
	PickSettle     time.Duration `mapstructure:"pick_settle" yaml:"pick_settle"`
	ClickSettle    time.Duration `mapstructure:"click_settle" yaml:"click_settle"`
}

func setMapDefaults(v *viper.Viper) {
	v.SetDefault("map.region_role", "region")
	v.SetDefault("map.region_name", "Map")
	v.SetDefault("map.ready_timeout", "10s")
	v.SetDefault("map.refresh_wheel_deltas", []float64{-3100, -3100})
	v.SetDefault("map.hover_settle", "800ms")
	v.SetDefault("map.refresh_settle", "800ms")
	v.SetDefault("map.pick_wheel_delta", 100.0)
	v.SetDefault("map.pick_settle", "600ms")
	v.SetDefault("map.click_settle", "500ms")
}

// Validate checks the MapConfig settings.
func (m *MapConfig) Validate() error {
	if m.RegionRole == "" {
		return fmt.Errorf("region_role is required")
	}
	if m.ReadyTimeout <= 0 {
		return fmt.Errorf("ready_timeout must be a positive duration")
	}
	if len(m.RefreshWheelDeltas) == 0 {
		return fmt.Errorf("refresh_wheel_deltas must contain at least one tick")
	}
	if m.HoverSettle < 0 || m.RefreshSettle < 0 || m.PickSettle < 0 || m.ClickSettle < 0 {
		return fmt.Errorf("settle durations must not be negative")
	}
	return nil
}
