// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, DriverCDP, cfg.Browser().Driver)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 1280, cfg.Browser().Viewport.Width)
	assert.Equal(t, 30*time.Second, cfg.Network().Timeout)
	assert.Equal(t, 4*time.Second, cfg.Network().AbsenceWindow)
	assert.Equal(t, 10*time.Second, cfg.Network().OptionTimeout)
	assert.Equal(t, 10*time.Second, cfg.Map().ReadyTimeout)
	assert.Equal(t, []float64{-3100, -3100}, cfg.Map().RefreshWheelDeltas)
	assert.Equal(t, 800*time.Millisecond, cfg.Map().RefreshSettle)
	assert.Equal(t, "/api/v1/tile/road-vector-tile/", cfg.Target().Endpoints.RoadTiles)
	assert.Equal(t, "World_Imagery/MapServer/tile", cfg.Target().Endpoints.SatelliteMap)
	assert.Equal(t, MailProviderWeb, cfg.Mail().Provider)
	assert.Equal(t, 90*time.Second, cfg.Mail().MessageTimeout)
	assert.False(t, cfg.Session().Shared)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestTargetURL(t *testing.T) {
	target := TargetConfig{BaseURL: "https://dma-dev.naxa.com.np"}
	assert.Equal(t, "https://dma-dev.naxa.com.np/setting/styling", target.URL("/setting/styling"))

	nested := TargetConfig{BaseURL: "https://example.test/app/"}
	assert.Equal(t, "https://example.test/visualization", nested.URL("/visualization"))
	assert.Equal(t, "https://example.test/app/login", nested.URL("login"))
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate())

		badDriver := *cfg
		badDriver.BrowserCfg.Driver = "rod"
		err := badDriver.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.driver must be one of")

		badViewport := *cfg
		badViewport.BrowserCfg.Viewport.Height = 0
		err = badViewport.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.viewport width and height must be positive integers")

		relativeBase := *cfg
		relativeBase.TargetCfg.BaseURL = "/relative"
		err = relativeBase.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "target.base_url must be an absolute URL")
	})

	t.Run("Network Validation", func(t *testing.T) {
		valid := NetworkConfig{
			Timeout:        30 * time.Second,
			AbsenceWindow:  4 * time.Second,
			ElementTimeout: 10 * time.Second,
			OptionTimeout:  10 * time.Second,
			PollInterval:   100 * time.Millisecond,
		}
		assert.NoError(t, valid.Validate())

		noWindow := valid
		noWindow.AbsenceWindow = 0
		err := noWindow.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "absence_window must be a positive duration")

		noTimeout := valid
		noTimeout.Timeout = -time.Second
		err = noTimeout.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout must be a positive duration")
	})

	t.Run("Map Validation", func(t *testing.T) {
		valid := MapConfig{
			RegionRole:         "region",
			ReadyTimeout:       10 * time.Second,
			RefreshWheelDeltas: []float64{-3100},
		}
		assert.NoError(t, valid.Validate())

		noTicks := valid
		noTicks.RefreshWheelDeltas = nil
		err := noTicks.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "refresh_wheel_deltas must contain at least one tick")

		negativeSettle := valid
		negativeSettle.HoverSettle = -time.Millisecond
		assert.Error(t, negativeSettle.Validate())
	})

	t.Run("Mail Validation", func(t *testing.T) {
		web := MailConfig{Provider: MailProviderWeb, WebInboxURL: "https://inbox.test", MessageTimeout: time.Minute}
		assert.NoError(t, web.Validate())

		imapMissing := MailConfig{Provider: MailProviderIMAP, MessageTimeout: time.Minute}
		err := imapMissing.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "imap.address and imap.username are required")

		imapOK := imapMissing
		imapOK.IMAP = IMAPConfig{Address: "mail.test:993", Username: "qa", PollInterval: time.Second}
		assert.NoError(t, imapOK.Validate())

		unknown := MailConfig{Provider: "pigeon", MessageTimeout: time.Minute}
		assert.Error(t, unknown.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  driver: playwright
  viewport:
    width: 1920
    height: 1080
network:
  absence_window: 6s
map:
  refresh_wheel_deltas: [-1200]
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, DriverPlaywright, cfg.Browser().Driver)
		assert.Equal(t, 1920, cfg.Browser().Viewport.Width)
		assert.Equal(t, 6*time.Second, cfg.Network().AbsenceWindow)
		assert.Equal(t, []float64{-1200}, cfg.Map().RefreshWheelDeltas)
		// Check a default value was also loaded
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("network.timeout", "0s")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "timeout must be a positive duration")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		t.Setenv("MAPHARNESS_EMAIL", "qa@example.test")
		t.Setenv("MAPHARNESS_PASSWORD", "s3cret")
		t.Setenv("MAPHARNESS_IMAP_PASSWORD", "imap-pass")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "qa@example.test", cfg.Target().Credentials.Email)
		assert.Equal(t, "s3cret", cfg.Target().Credentials.Password)
		assert.Equal(t, "imap-pass", cfg.Mail().IMAP.Password)
	})
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetBrowserDriver(DriverPlaywright)
	iface.SetBrowserHeadless(false)
	iface.SetSessionShared(true)
	iface.SetRunConfig(RunConfig{Scenarios: []string{"login-valid"}, FailFast: true})

	assert.Equal(t, DriverPlaywright, iface.Browser().Driver)
	assert.False(t, iface.Browser().Headless)
	assert.True(t, iface.Session().Shared)
	assert.Equal(t, []string{"login-valid"}, iface.Run().Scenarios)
	assert.True(t, iface.Run().FailFast)
}
