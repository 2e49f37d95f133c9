// ABOUTME: Configuration loading and validation for vpsbot
// ABOUTME: TOML or YAML by file extension, with ${VAR} expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/vpsbot/internal/provision"
	"github.com/2389/vpsbot/internal/remote"
)

// Config is the complete vpsbot configuration. It is read once at startup and
// never modified afterwards.
type Config struct {
	Matrix        MatrixConfig        `toml:"matrix" yaml:"matrix"`
	Authorization AuthorizationConfig `toml:"authorization" yaml:"authorization"`
	Proxmox       ProxmoxConfig       `toml:"proxmox" yaml:"proxmox"`
	Guest         GuestConfig         `toml:"guest" yaml:"guest"`
	Audit         AuditConfig         `toml:"audit" yaml:"audit"`
	Tailscale     TailscaleConfig     `toml:"tailscale" yaml:"tailscale"`
	Metrics       MetricsConfig       `toml:"metrics" yaml:"metrics"`
	Store         StoreConfig         `toml:"store" yaml:"store"`
	Logging       LoggingConfig       `toml:"logging" yaml:"logging"`
}

// MatrixConfig holds the chat connection. Either Username/Password or
// UserID/AccessToken must be set.
type MatrixConfig struct {
	Homeserver  string `toml:"homeserver" yaml:"homeserver"`
	Username    string `toml:"username" yaml:"username"`
	Password    string `toml:"password" yaml:"password"`
	UserID      string `toml:"user_id" yaml:"user_id"`
	AccessToken string `toml:"access_token" yaml:"access_token"`
	DeviceName  string `toml:"device_name" yaml:"device_name"`

	// Encryption enables E2EE; RecoveryKey additionally verifies the device.
	Encryption  bool   `toml:"encryption" yaml:"encryption"`
	RecoveryKey string `toml:"recovery_key" yaml:"recovery_key"`
	DataDir     string `toml:"data_dir" yaml:"data_dir"`

	AllowedRooms    []string `toml:"allowed_rooms" yaml:"allowed_rooms"`
	CommandPrefix   string   `toml:"command_prefix" yaml:"command_prefix"`
	TypingIndicator bool     `toml:"typing_indicator" yaml:"typing_indicator"`
	AutoJoin        bool     `toml:"auto_join" yaml:"auto_join"`
}

// PasswordLogin reports whether the bot logs in with a password.
func (m MatrixConfig) PasswordLogin() bool {
	return m.AccessToken == ""
}

// AuthorizationConfig decides who may provision guests.
type AuthorizationConfig struct {
	// AuthorizedRoles may invoke create-vps. Empty denies everyone.
	AuthorizedRoles []string `toml:"authorized_roles" yaml:"authorized_roles"`
	// Members maps a role name to the Matrix user ids holding it.
	Members map[string][]string `toml:"members" yaml:"members"`
	// PowerLevelRoles grants "admin" (>= 100) and "moderator" (>= 50) from the
	// invoking room's power levels.
	PowerLevelRoles bool `toml:"power_level_roles" yaml:"power_level_roles"`
}

// ProxmoxConfig is the single hypervisor host commands run on.
type ProxmoxConfig struct {
	Host           string `toml:"host" yaml:"host"`
	Port           int    `toml:"port" yaml:"port"`
	User           string `toml:"user" yaml:"user"`
	Password       string `toml:"password" yaml:"password"`
	PrivateKeyFile string `toml:"private_key_file" yaml:"private_key_file"`

	HostKeyPolicy      string `toml:"host_key_policy" yaml:"host_key_policy"`
	KnownHostsFile     string `toml:"known_hosts_file" yaml:"known_hosts_file"`
	HostKeyFingerprint string `toml:"host_key_fingerprint" yaml:"host_key_fingerprint"`

	MaxOutputBytes int `toml:"max_output_bytes" yaml:"max_output_bytes"`

	DialTimeout    time.Duration `toml:"-" yaml:"-"`
	CommandTimeout time.Duration `toml:"-" yaml:"-"`

	// Raw string values for unmarshaling
	DialTimeoutRaw    string `toml:"dial_timeout" yaml:"dial_timeout"`
	CommandTimeoutRaw string `toml:"command_timeout" yaml:"command_timeout"`
}

// PrivateKey reads the configured key file, or returns nil when none is set.
func (p ProxmoxConfig) PrivateKey() ([]byte, error) {
	if p.PrivateKeyFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(expandHome(p.PrivateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return data, nil
}

// GuestConfig holds the fixed fields of every created guest.
type GuestConfig struct {
	Image     string `toml:"image" yaml:"image"`
	Storage   string `toml:"storage" yaml:"storage"`
	Bridge    string `toml:"bridge" yaml:"bridge"`
	Interface string `toml:"interface" yaml:"interface"`
	FirstID   int    `toml:"first_id" yaml:"first_id"`
	// SeedFromHost asks the cluster for its next free id once at startup.
	SeedFromHost bool `toml:"seed_from_host" yaml:"seed_from_host"`
}

// Template returns the guest template.
func (g GuestConfig) Template() provision.Template {
	return provision.Template{
		Image:     g.Image,
		Storage:   g.Storage,
		Bridge:    g.Bridge,
		Interface: g.Interface,
	}
}

// AuditConfig holds the audit webhook. An empty WebhookURL disables auditing.
type AuditConfig struct {
	WebhookURL     string `toml:"webhook_url" yaml:"webhook_url"`
	SigningSecret  string `toml:"signing_secret" yaml:"signing_secret"`
	RecordFailures bool   `toml:"record_failures" yaml:"record_failures"`

	Timeout    time.Duration `toml:"-" yaml:"-"`
	TimeoutRaw string        `toml:"timeout" yaml:"timeout"`
}

// TailscaleConfig routes SSH through an embedded tailnet node.
type TailscaleConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	Hostname  string `toml:"hostname" yaml:"hostname"`
	AuthKey   string `toml:"auth_key" yaml:"auth_key"`
	StateDir  string `toml:"state_dir" yaml:"state_dir"`
	Ephemeral bool   `toml:"ephemeral" yaml:"ephemeral"`
}

// MetricsConfig holds the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
	Path    string `toml:"path" yaml:"path"`
}

// StoreConfig holds the local request ledger. An empty Path means
// DefaultStoreFile inside the data directory.
type StoreConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Defaults applied by Load when a field is left empty.
const (
	DefaultCommandPrefix  = "!"
	DefaultDeviceName     = "vpsbot"
	DefaultProxmoxPort    = 22
	DefaultProxmoxUser    = "root"
	DefaultDialTimeout    = 10 * time.Second
	DefaultCommandTimeout = 5 * time.Minute
	DefaultImage          = "local:vztmpl/debian-12-standard_12.7-1_amd64.tar.zst"
	DefaultStorage        = "local-lvm"
	DefaultBridge         = "vmbr0"
	DefaultInterface      = "eth0"
	DefaultAuditTimeout   = 10 * time.Second
	DefaultMetricsAddr    = "127.0.0.1:9464"
	DefaultMetricsPath    = "/metrics"
	DefaultTailnetName    = "vpsbot"
	DefaultStoreFile      = "vpsbot.db"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads a configuration file. Files ending in .yaml or .yml are parsed as
// YAML, anything else as TOML. ${VAR} references are expanded from the
// environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), formatFor(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is a config file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Parse decodes already-expanded config text, applies defaults and validates.
func Parse(text string, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(text, &cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing config file: unknown keys %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with the environment variable's value, or
// the empty string when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"proxmox.dial_timeout", cfg.Proxmox.DialTimeoutRaw, &cfg.Proxmox.DialTimeout},
		{"proxmox.command_timeout", cfg.Proxmox.CommandTimeoutRaw, &cfg.Proxmox.CommandTimeout},
		{"audit.timeout", cfg.Audit.TimeoutRaw, &cfg.Audit.Timeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Matrix.CommandPrefix == "" {
		c.Matrix.CommandPrefix = DefaultCommandPrefix
	}
	if c.Matrix.DeviceName == "" {
		c.Matrix.DeviceName = DefaultDeviceName
	}
	if c.Matrix.RecoveryKey != "" {
		c.Matrix.Encryption = true
	}

	if c.Proxmox.Port == 0 {
		c.Proxmox.Port = DefaultProxmoxPort
	}
	if c.Proxmox.User == "" {
		c.Proxmox.User = DefaultProxmoxUser
	}
	if c.Proxmox.HostKeyPolicy == "" {
		c.Proxmox.HostKeyPolicy = string(remote.HostKeyKnownHosts)
	}
	if c.Proxmox.DialTimeout == 0 {
		c.Proxmox.DialTimeout = DefaultDialTimeout
	}
	if c.Proxmox.CommandTimeout == 0 {
		c.Proxmox.CommandTimeout = DefaultCommandTimeout
	}

	if c.Guest.Image == "" {
		c.Guest.Image = DefaultImage
	}
	if c.Guest.Storage == "" {
		c.Guest.Storage = DefaultStorage
	}
	if c.Guest.Bridge == "" {
		c.Guest.Bridge = DefaultBridge
	}
	if c.Guest.Interface == "" {
		c.Guest.Interface = DefaultInterface
	}
	if c.Guest.FirstID == 0 {
		c.Guest.FirstID = provision.MinGuestID
	}

	if c.Audit.Timeout == 0 {
		c.Audit.Timeout = DefaultAuditTimeout
	}

	if c.Tailscale.Hostname == "" {
		c.Tailscale.Hostname = DefaultTailnetName
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that required fields are present and valid. It returns the
// first failure found.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if err := validateHTTPURL(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver: %w", err)
	}
	if c.Matrix.PasswordLogin() {
		if c.Matrix.Username == "" || c.Matrix.Password == "" {
			return fmt.Errorf("matrix.username and matrix.password are required (or set matrix.user_id and matrix.access_token)")
		}
	} else if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required with matrix.access_token")
	}
	for _, room := range c.Matrix.AllowedRooms {
		if !strings.HasPrefix(room, "!") {
			return fmt.Errorf("matrix.allowed_rooms: %q is not a room id", room)
		}
	}

	for role, users := range c.Authorization.Members {
		for _, u := range users {
			if !strings.HasPrefix(u, "@") || !strings.Contains(u, ":") {
				return fmt.Errorf("authorization.members.%s: %q is not a Matrix user id", role, u)
			}
		}
	}

	if c.Proxmox.Host == "" {
		return fmt.Errorf("proxmox.host is required")
	}
	if c.Proxmox.Port < 1 || c.Proxmox.Port > 65535 {
		return fmt.Errorf("proxmox.port %d is out of range", c.Proxmox.Port)
	}
	if c.Proxmox.Password == "" && c.Proxmox.PrivateKeyFile == "" {
		return fmt.Errorf("proxmox.password or proxmox.private_key_file is required")
	}
	if !slices.Contains(remote.ValidHostKeyPolicies, remote.HostKeyPolicy(c.Proxmox.HostKeyPolicy)) {
		return fmt.Errorf("proxmox.host_key_policy %q must be one of %v", c.Proxmox.HostKeyPolicy, remote.ValidHostKeyPolicies)
	}
	if remote.HostKeyPolicy(c.Proxmox.HostKeyPolicy) == remote.HostKeyFingerprint && c.Proxmox.HostKeyFingerprint == "" {
		return fmt.Errorf("proxmox.host_key_fingerprint is required with host_key_policy = %q", remote.HostKeyFingerprint)
	}
	if c.Proxmox.MaxOutputBytes < 0 {
		return fmt.Errorf("proxmox.max_output_bytes must not be negative")
	}

	if err := c.Guest.Template().Validate(); err != nil {
		return fmt.Errorf("guest: %w", err)
	}
	if c.Guest.FirstID < provision.MinGuestID || c.Guest.FirstID > provision.MaxGuestID {
		return fmt.Errorf("guest.first_id %d must be between %d and %d", c.Guest.FirstID, provision.MinGuestID, provision.MaxGuestID)
	}

	if c.Audit.WebhookURL != "" {
		if err := validateHTTPURL(c.Audit.WebhookURL); err != nil {
			return fmt.Errorf("audit.webhook_url: %w", err)
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
