package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "wastechat"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "WASTECHAT_DATA_DIR"
	// BackendURLEnv overrides the configured backend URL.
	BackendURLEnv = "WASTECHAT_BACKEND_URL"

	// DefaultConversationInterval is the conversation list polling period.
	DefaultConversationInterval = 10 * time.Second
	// DefaultLatestMessagesInterval is the open-conversation polling period.
	DefaultLatestMessagesInterval = 5 * time.Second
	// DefaultPresenceInterval is the counterparty presence polling period.
	DefaultPresenceInterval = 10 * time.Second
	// DefaultHeartbeatInterval is the own-activity reporting period.
	DefaultHeartbeatInterval = 20 * time.Second
	// DefaultRequestTimeout bounds one backend request.
	DefaultRequestTimeout = 15 * time.Second

	// DefaultDiscoveryService is the mDNS service browsed for a backend.
	DefaultDiscoveryService = "_wastechat._tcp"
	// DefaultDiscoveryTimeout bounds one discovery lookup.
	DefaultDiscoveryTimeout = 3 * time.Second

	// DefaultGatewayListen is the gateway HTTP listen address.
	DefaultGatewayListen = ":8080"
	// DefaultCookieName carries the access token for gateway pages.
	DefaultCookieName = "access_token"
	// DefaultPresenceTTL is how long the gateway shares one presence answer.
	DefaultPresenceTTL = 5 * time.Second

	configFileName = "config.yaml"
)

// DefaultProtectedRoutes are the page routes that require a signed-in user.
var DefaultProtectedRoutes = []string{
	"/products",
	"/chat",
	"/new-listing",
	"/geo-location",
	"/profile-settings",
	"/products-listing",
	"/sales-order",
	"/purchased-order",
}

// Polling holds the poller periods.
type Polling struct {
	Conversations  time.Duration `yaml:"conversations"`
	LatestMessages time.Duration `yaml:"latest_messages"`
	Presence       time.Duration `yaml:"presence"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
}

// Discovery controls mDNS backend lookup.
type Discovery struct {
	Enabled bool          `yaml:"enabled"`
	Service string        `yaml:"service"`
	Timeout time.Duration `yaml:"timeout"`
}

// Gateway controls the web gateway.
type Gateway struct {
	Listen          string        `yaml:"listen"`
	CookieName      string        `yaml:"cookie_name"`
	ProtectedRoutes []string      `yaml:"protected_routes"`
	PresenceTTL     time.Duration `yaml:"presence_ttl"`
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	Advertise       bool          `yaml:"advertise"`
	InstanceName    string        `yaml:"instance_name"`
}

// ClientConfig contains persistent client settings.
type ClientConfig struct {
	ClientID       string        `yaml:"client_id"`
	BackendURL     string        `yaml:"backend_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SecretKeyPath  string        `yaml:"secret_key_path"`
	Polling        Polling       `yaml:"polling"`
	Discovery      Discovery     `yaml:"discovery"`
	Gateway        Gateway       `yaml:"gateway"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If WASTECHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.yaml for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.yaml from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.yaml to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
// A backend URL from WASTECHAT_BACKEND_URL wins over the file value but is
// never persisted.
func LoadOrCreate() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	if override := strings.TrimSpace(os.Getenv(BackendURLEnv)); override != "" {
		cfg.BackendURL = override
	}

	return cfg, cfgPath, nil
}

// DataDir returns the directory holding the config file.
func DataDir(cfgPath string) string {
	return filepath.Dir(cfgPath)
}

func defaultConfig(dataDir string) *ClientConfig {
	cfg := &ClientConfig{
		Discovery: Discovery{Enabled: true},
	}
	normalizeDefaults(cfg, dataDir)
	return cfg
}

func normalizeDefaults(cfg *ClientConfig, dataDir string) bool {
	updated := false

	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
		updated = true
	}

	trimmed := strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	if trimmed != cfg.BackendURL {
		cfg.BackendURL = trimmed
		updated = true
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
		updated = true
	}

	if cfg.SecretKeyPath == "" {
		cfg.SecretKeyPath = filepath.Join(dataDir, "keys", "session.key")
		updated = true
	}

	updated = normalizeDuration(&cfg.Polling.Conversations, DefaultConversationInterval) || updated
	updated = normalizeDuration(&cfg.Polling.LatestMessages, DefaultLatestMessagesInterval) || updated
	updated = normalizeDuration(&cfg.Polling.Presence, DefaultPresenceInterval) || updated
	// A negative heartbeat disables it; only a missing value gets the default.
	if cfg.Polling.Heartbeat == 0 {
		cfg.Polling.Heartbeat = DefaultHeartbeatInterval
		updated = true
	}

	if cfg.Discovery.Service == "" {
		cfg.Discovery.Service = DefaultDiscoveryService
		updated = true
	}
	updated = normalizeDuration(&cfg.Discovery.Timeout, DefaultDiscoveryTimeout) || updated

	if cfg.Gateway.Listen == "" {
		cfg.Gateway.Listen = DefaultGatewayListen
		updated = true
	}
	if cfg.Gateway.CookieName == "" {
		cfg.Gateway.CookieName = DefaultCookieName
		updated = true
	}
	if len(cfg.Gateway.ProtectedRoutes) == 0 {
		cfg.Gateway.ProtectedRoutes = append([]string(nil), DefaultProtectedRoutes...)
		updated = true
	}
	updated = normalizeDuration(&cfg.Gateway.PresenceTTL, DefaultPresenceTTL) || updated
	if cfg.Gateway.InstanceName == "" {
		name := "wastechat gateway"
		if host, err := os.Hostname(); err == nil && host != "" {
			name = host
		}
		cfg.Gateway.InstanceName = name
		updated = true
	}

	return updated
}

func normalizeDuration(value *time.Duration, fallback time.Duration) bool {
	if *value > 0 {
		return false
	}
	*value = fallback
	return true
}
