package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"adbappmgr/pkg/bridge"

	"github.com/tidwall/gjson"
)

// AppName names the per-user configuration directory
const AppName = "ADBAppManager"

// SettingsFile is the settings file name inside the configuration directory
const SettingsFile = "settings.json"

// ErrInvalidSettings is returned when settings.json cannot be used
var ErrInvalidSettings = errors.New("invalid settings")

// ADBSettings configures the bridge to adb
type ADBSettings struct {
	Path      string  `json:"path"`
	Timeout   string  `json:"timeout,omitempty"` // Go duration, empty waits forever
	RateLimit float64 `json:"rateLimit,omitempty"`
	Burst     int     `json:"burst,omitempty"`
}

// LogSettings configures logging
type LogSettings struct {
	Level string `json:"level"`
	File  bool   `json:"file"`
}

// UninstallSettings configures uninstall behaviour of the front ends
type UninstallSettings struct {
	Confirm bool `json:"confirm"`
}

// Settings represents persistent application settings
type Settings struct {
	ADB       ADBSettings       `json:"adb"`
	Log       LogSettings       `json:"log"`
	Uninstall UninstallSettings `json:"uninstall"`
}

// DefaultSettings matches the behaviour of a bare `adb` on PATH with no timeout
func DefaultSettings() Settings {
	return Settings{
		ADB: ADBSettings{
			Path:  bridge.DefaultPath,
			Burst: 1,
		},
		Log: LogSettings{
			Level: "info",
		},
		Uninstall: UninstallSettings{
			Confirm: true,
		},
	}
}

// BridgeOptions converts the adb settings into bridge options
func (s Settings) BridgeOptions() (bridge.Options, error) {
	timeout, err := parseTimeout(s.ADB.Timeout)
	if err != nil {
		return bridge.Options{}, err
	}
	return bridge.Options{
		Path:      s.ADB.Path,
		Timeout:   timeout,
		RateLimit: s.ADB.RateLimit,
		Burst:     s.ADB.Burst,
	}, nil
}

func parseTimeout(v string) (time.Duration, error) {
	if v == "" || v == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: adb.timeout %q: %v", ErrInvalidSettings, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: adb.timeout must not be negative", ErrInvalidSettings)
	}
	return d, nil
}

// Parse reads settings JSON. Missing keys keep their defaults, so a file
// holding only {"adb":{"timeout":"30s"}} is valid.
func Parse(data []byte) (Settings, error) {
	s := DefaultSettings()
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	if !gjson.ValidBytes(data) {
		return s, fmt.Errorf("%w: malformed JSON", ErrInvalidSettings)
	}

	doc := gjson.ParseBytes(data)

	if v := doc.Get("adb.path"); v.Exists() && v.String() != "" {
		s.ADB.Path = v.String()
	}
	if v := doc.Get("adb.timeout"); v.Exists() {
		// bare numbers are seconds
		if v.Type == gjson.Number {
			s.ADB.Timeout = (time.Duration(v.Float() * float64(time.Second))).String()
		} else {
			s.ADB.Timeout = v.String()
		}
	}
	if v := doc.Get("adb.rateLimit"); v.Exists() {
		s.ADB.RateLimit = v.Float()
	}
	if v := doc.Get("adb.burst"); v.Exists() && v.Int() > 0 {
		s.ADB.Burst = int(v.Int())
	}
	if v := doc.Get("log.level"); v.Exists() && v.String() != "" {
		s.Log.Level = strings.ToLower(v.String())
	}
	if v := doc.Get("log.file"); v.Exists() {
		s.Log.File = v.Bool()
	}
	if v := doc.Get("uninstall.confirm"); v.Exists() {
		s.Uninstall.Confirm = v.Bool()
	}

	if _, err := parseTimeout(s.ADB.Timeout); err != nil {
		return DefaultSettings(), err
	}
	if s.ADB.RateLimit < 0 {
		return DefaultSettings(), fmt.Errorf("%w: adb.rateLimit must not be negative", ErrInvalidSettings)
	}
	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return DefaultSettings(), fmt.Errorf("%w: unknown log.level %q", ErrInvalidSettings, s.Log.Level)
	}
	return s, nil
}

// Config for creating a new settings Service
type Config struct {
	ConfigDir string
	LogFunc   func(format string, args ...interface{})
}

// Service manages settings persistence
type Service struct {
	configDir    string
	settingsPath string

	mu       sync.RWMutex
	settings Settings

	logFunc func(format string, args ...interface{})
}

// New creates the configuration directory if needed and loads settings.json.
// A missing file yields defaults; a broken one is an error.
func New(cfg Config) (*Service, error) {
	configDir := cfg.ConfigDir
	if configDir == "" {
		var err error
		configDir, err = os.UserConfigDir()
		if err != nil {
			configDir = os.TempDir()
		}
		configDir = filepath.Join(configDir, AppName)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	s := &Service{
		configDir:    configDir,
		settingsPath: filepath.Join(configDir, SettingsFile),
		settings:     DefaultSettings(),
		logFunc:      cfg.LogFunc,
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) log(format string, args ...interface{}) {
	if s.logFunc != nil {
		s.logFunc(format, args...)
	}
}

// Reload re-reads settings.json. On error the current settings are kept.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.settingsPath)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.settings = DefaultSettings()
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.settingsPath, err)
	}

	settings, err := Parse(data)
	if err != nil {
		s.log("Error parsing %s: %v", s.settingsPath, err)
		return fmt.Errorf("%s: %w", s.settingsPath, err)
	}

	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	return nil
}

// Settings returns the current settings
func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update replaces the settings in memory; call Save to persist them
func (s *Service) Update(settings Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

// Save persists settings to disk
func (s *Service) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.settings, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.settingsPath, data, 0644); err != nil {
		s.log("Error saving settings to %s: %v", s.settingsPath, err)
		return err
	}
	return nil
}

// ConfigDir returns the configuration directory path
func (s *Service) ConfigDir() string {
	return s.configDir
}

// SettingsPath returns the settings file path
func (s *Service) SettingsPath() string {
	return s.settingsPath
}
