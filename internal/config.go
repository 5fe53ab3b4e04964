package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the node configuration. One config runs one device;
// the phone and watch roles differ only in these values.
type Config struct {
	App         ApplicationConfig `yaml:"app"`
	Device      DeviceConfig      `yaml:"device"`
	Store       StoreConfig       `yaml:"store"`
	Link        LinkConfig        `yaml:"link"`
	Capture     CaptureConfig     `yaml:"capture"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Transcribe  TranscribeConfig  `yaml:"transcribe"`
	Permissions PermissionConfig  `yaml:"permissions"`
	Auth        AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Device.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DeviceConfig names this node. The name appears in logs only; sync
// roles are symmetric.
type DeviceConfig struct {
	Name string `yaml:"name"`
}

// Validate validates the device configuration.
func (c *DeviceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
	)
}

// StoreConfig holds record store and audio artifact paths.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	AudioDir   string `yaml:"audio_dir"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SQLitePath, validation.Required),
		validation.Field(&c.AudioDir, validation.Required),
	)
}

// LinkConfig holds the device-link settings. PeerURL is the companion's
// link endpoint (ws://host:port/link); leave it empty on the node that
// only accepts the incoming connection.
type LinkConfig struct {
	PeerURL string `yaml:"peer_url"`
}

// CaptureConfig holds the capture source and the optional ingest drop
// directory for externally recorded files.
type CaptureConfig struct {
	DevicePath string `yaml:"device_path"`
	IngestDir  string `yaml:"ingest_dir"`
}

// PlaybackConfig holds the external player command, e.g. ffplay.
type PlaybackConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// TranscribeConfig holds the speech-to-text command. An empty command
// means recognition is unavailable on this device class.
type TranscribeConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// PermissionConfig controls how permission prompts resolve on a headless
// node: auto_grant answers every prompt with a grant, otherwise prompts
// resolve to denied. Decisions persist in grants_path.
type PermissionConfig struct {
	GrantsPath string `yaml:"grants_path"`
	AutoGrant  bool   `yaml:"auto_grant"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Device: DeviceConfig{
			Name: "phone",
		},
		Store: StoreConfig{
			SQLitePath: "./voicebridge.db",
			AudioDir:   "./audio",
		},
		Capture: CaptureConfig{
			DevicePath: "/dev/null",
		},
		Permissions: PermissionConfig{
			GrantsPath: "./grants.json",
			AutoGrant:  true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
