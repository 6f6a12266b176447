// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/mapharness/api/schemas"
)

// Driver names accepted by browser.driver.
const (
	DriverCDP        = "cdp"
	DriverPlaywright = "playwright"
)

// Mail providers accepted by mail.provider.
const (
	MailProviderWeb  = "web"
	MailProviderIMAP = "imap"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Map() MapConfig
	Target() TargetConfig
	Mail() MailConfig
	Session() SessionConfig
	Run() RunConfig
	SetRunConfig(rc RunConfig)

	// Browser Setters
	SetBrowserDriver(string)
	SetBrowserHeadless(bool)

	// Session Setters
	SetSessionShared(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	NetworkCfg NetworkConfig `mapstructure:"network" yaml:"network"`
	MapCfg     MapConfig     `mapstructure:"map" yaml:"map"`
	TargetCfg  TargetConfig  `mapstructure:"target" yaml:"target"`
	MailCfg    MailConfig    `mapstructure:"mail" yaml:"mail"`
	SessionCfg SessionConfig `mapstructure:"session" yaml:"session"`
	// RunCfg gets its marching orders from CLI flags, not the config file.
	RunCfg RunConfig `mapstructure:"-" yaml:"-"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig { return c.NetworkCfg }
func (c *Config) Map() MapConfig         { return c.MapCfg }
func (c *Config) Target() TargetConfig   { return c.TargetCfg }
func (c *Config) Mail() MailConfig       { return c.MailCfg }
func (c *Config) Session() SessionConfig { return c.SessionCfg }
func (c *Config) Run() RunConfig         { return c.RunCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetRunConfig(rc RunConfig) { c.RunCfg = rc }

func (c *Config) SetBrowserDriver(d string) { c.BrowserCfg.Driver = d }
func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

func (c *Config) SetSessionShared(b bool) { c.SessionCfg.Shared = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ViewportConfig is the size of every page the harness opens. Relative map
// coordinates are resolution independent, pixel coordinates are not.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the browser instances.
type BrowserConfig struct {
	Driver          string         `mapstructure:"driver" yaml:"driver"`
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	SlowMo          time.Duration  `mapstructure:"slow_mo" yaml:"slow_mo"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	DisableGPU      bool           `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	InstallDrivers  bool           `mapstructure:"install_drivers" yaml:"install_drivers"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	DownloadDir     string         `mapstructure:"download_dir" yaml:"download_dir"`
	LaunchTimeout   time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// NetworkConfig holds the budgets of every wait the harness performs.
type NetworkConfig struct {
	// Timeout bounds a mustOccur expectation.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// AbsenceWindow is the passive observation window of a mustNotOccur expectation.
	AbsenceWindow     time.Duration `mapstructure:"absence_window" yaml:"absence_window"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	OptionTimeout     time.Duration `mapstructure:"option_timeout" yaml:"option_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// RoutesConfig lists the application paths, relative to TargetConfig.BaseURL.
type RoutesConfig struct {
	Login          string `mapstructure:"login" yaml:"login"`
	Dashboard      string `mapstructure:"dashboard" yaml:"dashboard"`
	BuildingData   string `mapstructure:"building_data" yaml:"building_data"`
	BuildingForm   string `mapstructure:"building_form" yaml:"building_form"`
	RoadData       string `mapstructure:"road_data" yaml:"road_data"`
	RoadForm       string `mapstructure:"road_form" yaml:"road_form"`
	Styling        string `mapstructure:"styling" yaml:"styling"`
	ManageFilter   string `mapstructure:"manage_filter" yaml:"manage_filter"`
	UserManagement string `mapstructure:"user_management" yaml:"user_management"`
	Visualization  string `mapstructure:"visualization" yaml:"visualization"`
}

// EndpointsConfig holds URL substrings of the network surface the harness observes.
type EndpointsConfig struct {
	SignIn        string `mapstructure:"sign_in" yaml:"sign_in"`
	RoadTiles     string `mapstructure:"road_tiles" yaml:"road_tiles"`
	BuildingTiles string `mapstructure:"building_tiles" yaml:"building_tiles"`
	WardTiles     string `mapstructure:"ward_tiles" yaml:"ward_tiles"`
	PalikaTiles   string `mapstructure:"palika_tiles" yaml:"palika_tiles"`
	LocationInfo  string `mapstructure:"location_info" yaml:"location_info"`
	NaxaBaseMap   string `mapstructure:"naxa_base_map" yaml:"naxa_base_map"`
	SatelliteMap  string `mapstructure:"satellite_base_map" yaml:"satellite_base_map"`
	OSMBaseMap    string `mapstructure:"osm_base_map" yaml:"osm_base_map"`
}

// TargetConfig describes the application under test.
type TargetConfig struct {
	BaseURL     string             `mapstructure:"base_url" yaml:"base_url"`
	Credentials schemas.Credential `mapstructure:"credentials" yaml:"-"`
	Routes      RoutesConfig       `mapstructure:"routes" yaml:"routes"`
	Endpoints   EndpointsConfig    `mapstructure:"endpoints" yaml:"endpoints"`
}

// URL joins a route onto the base URL.
func (t TargetConfig) URL(route string) string {
	base, err := url.Parse(t.BaseURL)
	if err != nil {
		return t.BaseURL + route
	}
	ref, err := url.Parse(route)
	if err != nil {
		return t.BaseURL + route
	}
	return base.ResolveReference(ref).String()
}

// IMAPConfig defines the mailbox the IMAP activation provider reads.
type IMAPConfig struct {
	Address      string        `mapstructure:"address" yaml:"address"`
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"-"`
	Mailbox      string        `mapstructure:"mailbox" yaml:"mailbox"`
	TLS          bool          `mapstructure:"tls" yaml:"tls"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// MailConfig configures the account activation mail service.
type MailConfig struct {
	Provider       string        `mapstructure:"provider" yaml:"provider"`
	WebInboxURL    string        `mapstructure:"web_inbox_url" yaml:"web_inbox_url"`
	Domain         string        `mapstructure:"domain" yaml:"domain"`
	Subject        string        `mapstructure:"subject" yaml:"subject"`
	MessageTimeout time.Duration `mapstructure:"message_timeout" yaml:"message_timeout"`
	IMAP           IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	// ActivationPassword, when set, makes user creation scenarios activate
	// the new account and sign in with it.
	ActivationPassword string `mapstructure:"activation_password" yaml:"-"`
}

// SessionConfig controls authenticated session reuse.
type SessionConfig struct {
	StorageStatePath string        `mapstructure:"storage_state_path" yaml:"storage_state_path"`
	TokenKey         string        `mapstructure:"token_key" yaml:"token_key"`
	MinTokenLifetime time.Duration `mapstructure:"min_token_lifetime" yaml:"min_token_lifetime"`
	// Shared hands a single page to consecutive scenarios instead of one page each.
	Shared bool `mapstructure:"shared" yaml:"shared"`
}

// RunConfig selects what a single invocation executes.
type RunConfig struct {
	Scenarios []string
	Tags      []string
	FailFast  bool
	RunID     string
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mapharness")
	v.SetDefault("logger.log_file", "mapharness.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.driver", DriverCDP)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.slow_mo", "0s")
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.install_drivers", true)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)
	v.SetDefault("browser.download_dir", "~/.mapharness/downloads")
	v.SetDefault("browser.launch_timeout", "60s")

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.absence_window", "4s")
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.element_timeout", "10s")
	v.SetDefault("network.option_timeout", "10s")
	v.SetDefault("network.poll_interval", "100ms")
	v.SetDefault("network.post_load_wait", "2s")

	setMapDefaults(v)

	// -- Target --
	v.SetDefault("target.base_url", "https://dma-dev.naxa.com.np")
	v.SetDefault("target.routes.login", "/login")
	v.SetDefault("target.routes.dashboard", "/dashboard/building")
	v.SetDefault("target.routes.building_data", "/data-management/building-data")
	v.SetDefault("target.routes.building_form", "/data-management/building-data/form")
	v.SetDefault("target.routes.road_data", "/data-management/road-data")
	v.SetDefault("target.routes.road_form", "/data-management/road-data/form")
	v.SetDefault("target.routes.styling", "/setting/styling")
	v.SetDefault("target.routes.manage_filter", "/setting/manage-filter")
	v.SetDefault("target.routes.user_management", "/user-management")
	v.SetDefault("target.routes.visualization", "/visualization")
	v.SetDefault("target.endpoints.sign_in", "/api/v1/user/login/")
	v.SetDefault("target.endpoints.road_tiles", "/api/v1/tile/road-vector-tile/")
	v.SetDefault("target.endpoints.building_tiles", "/api/v1/tile/building-vector-tile/")
	v.SetDefault("target.endpoints.ward_tiles", "/api/v1/tile/palika-ward-boundary/")
	v.SetDefault("target.endpoints.palika_tiles", "/api/v1/tile/palika-boundary/")
	v.SetDefault("target.endpoints.location_info", "my-location-info")
	v.SetDefault("target.endpoints.naxa_base_map", "shortbread_v1")
	v.SetDefault("target.endpoints.satellite_base_map", "World_Imagery/MapServer/tile")
	v.SetDefault("target.endpoints.osm_base_map", "openstreetmap")
	v.SetDefault("target.credentials.email", "")
	v.SetDefault("target.credentials.password", "")

	// -- Mail --
	v.SetDefault("mail.provider", MailProviderWeb)
	v.SetDefault("mail.web_inbox_url", "https://www.mailinator.com/v4/public/inboxes.jsp")
	v.SetDefault("mail.domain", "mailinator.com")
	v.SetDefault("mail.subject", "User Activation")
	v.SetDefault("mail.message_timeout", "90s")
	v.SetDefault("mail.imap.mailbox", "INBOX")
	v.SetDefault("mail.imap.tls", true)
	v.SetDefault("mail.imap.poll_interval", "5s")

	// -- Session --
	v.SetDefault("session.storage_state_path", "~/.mapharness/storage-state.json")
	v.SetDefault("session.token_key", "token")
	v.SetDefault("session.min_token_lifetime", "5m")
	v.SetDefault("session.shared", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("target.credentials.email", "MAPHARNESS_EMAIL")
	_ = v.BindEnv("target.credentials.password", "MAPHARNESS_PASSWORD")
	_ = v.BindEnv("mail.imap.password", "MAPHARNESS_IMAP_PASSWORD")
	_ = v.BindEnv("mail.activation_password", "MAPHARNESS_ACTIVATION_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.BrowserCfg.Driver {
	case DriverCDP, DriverPlaywright:
	default:
		return fmt.Errorf("browser.driver must be one of %q or %q, got %q", DriverCDP, DriverPlaywright, c.BrowserCfg.Driver)
	}
	if c.BrowserCfg.Viewport.Width <= 0 || c.BrowserCfg.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport width and height must be positive integers")
	}
	if err := c.NetworkCfg.Validate(); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}
	if err := c.MapCfg.Validate(); err != nil {
		return fmt.Errorf("map configuration invalid: %w", err)
	}
	u, err := url.Parse(c.TargetCfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target.base_url must be an absolute URL, got %q", c.TargetCfg.BaseURL)
	}
	if err := c.MailCfg.Validate(); err != nil {
		return fmt.Errorf("mail configuration invalid: %w", err)
	}
	return nil
}

// Validate checks that every wait budget is usable.
func (n *NetworkConfig) Validate() error {
	if n.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if n.AbsenceWindow <= 0 {
		return fmt.Errorf("absence_window must be a positive duration")
	}
	if n.ElementTimeout <= 0 || n.OptionTimeout <= 0 {
		return fmt.Errorf("element_timeout and option_timeout must be positive durations")
	}
	if n.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	return nil
}

// Validate checks the mail provider settings.
func (m *MailConfig) Validate() error {
	switch m.Provider {
	case MailProviderWeb:
		if m.WebInboxURL == "" {
			return fmt.Errorf("web_inbox_url is required for the web provider")
		}
	case MailProviderIMAP:
		if m.IMAP.Address == "" || m.IMAP.Username == "" {
			return fmt.Errorf("imap.address and imap.username are required for the imap provider")
		}
		if m.IMAP.PollInterval <= 0 {
			return fmt.Errorf("imap.poll_interval must be a positive duration")
		}
	default:
		return fmt.Errorf("provider must be one of %q or %q, got %q", MailProviderWeb, MailProviderIMAP, m.Provider)
	}
	if m.MessageTimeout <= 0 {
		return fmt.Errorf("message_timeout must be a positive duration")
	}
	return nil
}
