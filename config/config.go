// Package config resolves the on-disk data directory and persists
// per-device settings as TOML, with environment-variable overrides
// layered in first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "lanxfer"
	// DefaultDiscoveryPort is the default configured UDP discovery port.
	// discovery.Service remaps this exact value to a random port in
	// 40000-49999 when it starts.
	DefaultDiscoveryPort = 34567
	// DefaultTransferPort is the TCP port used for file transfer connections.
	DefaultTransferPort = 34568
	// configFileName is the persisted configuration file.
	configFileName = "config.toml"
)

// DeviceConfig contains persistent local-device settings.
//
// EncryptionPassword is deliberately absent: unlike the rest of this
// struct it is runtime-only (set via SetEncryptionPassword on the
// Transfer Manager) and never written to disk.
type DeviceConfig struct {
	DeviceID           string `toml:"device_id"`
	DeviceName         string `toml:"device_name"`
	DiscoveryPort      int    `toml:"discovery_port"`
	TransferPort       int    `toml:"transfer_port"`
	DownloadDir        string `toml:"download_dir"`
	EncryptionEnabled  bool   `toml:"encryption_enabled"`
}

// envOverrides are environment-variable overrides consulted before the
// TOML file is loaded.
type envOverrides struct {
	DataDir string `envconfig:"DATA_DIR"`
}

func loadEnvOverrides() envOverrides {
	var overrides envOverrides
	// Process never fails for optional string fields with no default;
	// an error here would only indicate a malformed env var we don't set.
	_ = envconfig.Process("LANXFER", &overrides)
	return overrides
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If LANXFER_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := loadEnvOverrides().DataDir; override != "" {
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

// ConfigPath returns the full path to config.toml for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "files"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.toml from disk.
func Load(path string) (*DeviceConfig, error) {
	var cfg DeviceConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return &cfg, nil
}

// Save marshals and writes config.toml to disk.
func Save(path string, cfg *DeviceConfig) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open config for write: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*DeviceConfig, string, error) {
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

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *DeviceConfig {
	deviceName := "lanxfer device"
	if host, err := os.Hostname(); err == nil && host != "" {
		deviceName = host
	}

	return &DeviceConfig{
		DeviceID:          uuid.NewString(),
		DeviceName:        deviceName,
		DiscoveryPort:     DefaultDiscoveryPort,
		TransferPort:      DefaultTransferPort,
		DownloadDir:       filepath.Join(dataDir, "files"),
		EncryptionEnabled: false,
	}
}

func normalizeDefaults(cfg *DeviceConfig, dataDir string) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}

	if cfg.DeviceName == "" {
		deviceName := "lanxfer device"
		if host, err := os.Hostname(); err == nil && host != "" {
			deviceName = host
		}
		cfg.DeviceName = deviceName
		updated = true
	}

	if cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = DefaultDiscoveryPort
		updated = true
	}

	if cfg.TransferPort == 0 {
		cfg.TransferPort = DefaultTransferPort
		updated = true
	}

	if cfg.DownloadDir == "" {
		cfg.DownloadDir = filepath.Join(dataDir, "files")
		updated = true
	}

	return updated
}
