// Package config provides configuration management for the door access
// system. It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all door access system configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Storage     StorageConfig     `yaml:"storage"`
	Door        DoorConfig        `yaml:"door"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings.
type CameraConfig struct {
	Device       string `yaml:"device"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	FPS          int    `yaml:"fps"`
	WarmupMillis int    `yaml:"warmup_millis"`
}

// LivenessConfig holds liveness engine settings. Threshold values are
// deployment tuning knobs, not contracts; the defaults come from field
// testing on the Raspberry Pi camera.
type LivenessConfig struct {
	TimeoutSeconds int    `yaml:"timeout"`
	Policy         string `yaml:"policy"` // "all" or "blink-and-one"

	EnableTexture  bool `yaml:"enable_texture"`
	EnableBlink    bool `yaml:"enable_blink"`
	EnableMovement bool `yaml:"enable_movement"`
	EnableFocus    bool `yaml:"enable_focus"`

	RequiredBlinks int     `yaml:"required_blinks"`
	TextureQuorum  int     `yaml:"texture_quorum"`
	EARFloor       float64 `yaml:"ear_floor"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	Tolerance float64 `yaml:"tolerance"`
	ModelPath string  `yaml:"model_path"`
}

// StorageConfig holds enrolled-identity storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// DoorConfig holds relay and unlock settings.
type DoorConfig struct {
	Pin           int  `yaml:"pin"`
	UnlockSeconds int  `yaml:"unlock_seconds"`
	GPIOEnabled   bool `yaml:"gpio_enabled"`
}

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	CACert   string `yaml:"ca_cert"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Enabled  bool   `yaml:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/doorguard")
	return &Config{
		Camera: CameraConfig{
			Device:       "/dev/video0",
			Width:        640,
			Height:       480,
			FPS:          30,
			WarmupMillis: 500,
		},
		Liveness: LivenessConfig{
			TimeoutSeconds: 30,
			Policy:         "blink-and-one",
			EnableTexture:  true,
			EnableBlink:    true,
			EnableMovement: true,
			EnableFocus:    false,
			RequiredBlinks: 2,
			TextureQuorum:  5,
			EARFloor:       0.20,
		},
		Recognition: RecognitionConfig{
			Tolerance: 0.4,
			ModelPath: filepath.Join(dataDir, "models"),
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			EncryptionEnabled: true,
		},
		Door: DoorConfig{
			Pin:           17,
			UnlockSeconds: 10,
			GPIOEnabled:   true,
		},
		MQTT: MQTTConfig{
			Broker:   "localhost",
			Port:     8883,
			ClientID: "doorguard",
			Enabled:  false,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "doorguard.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	// System config first
	if _, err := os.Stat("/etc/doorguard/doorguard.yaml"); err == nil {
		return Load("/etc/doorguard/doorguard.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/doorguard/doorguard.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}

	if c.Liveness.TimeoutSeconds <= 0 {
		return fmt.Errorf("liveness timeout must be positive, got %d", c.Liveness.TimeoutSeconds)
	}
	if c.Liveness.Policy != "all" && c.Liveness.Policy != "blink-and-one" {
		return fmt.Errorf("invalid liveness policy: %s (must be all or blink-and-one)", c.Liveness.Policy)
	}
	if c.Liveness.RequiredBlinks < 1 {
		return fmt.Errorf("required_blinks must be at least 1, got %d", c.Liveness.RequiredBlinks)
	}
	if c.Liveness.TextureQuorum < 0 || c.Liveness.TextureQuorum > 7 {
		return fmt.Errorf("texture_quorum must be between 0 and 7, got %d", c.Liveness.TextureQuorum)
	}
	if c.Liveness.EARFloor <= 0 || c.Liveness.EARFloor >= 1 {
		return fmt.Errorf("ear_floor must be between 0 and 1, got %f", c.Liveness.EARFloor)
	}

	if c.Recognition.Tolerance < 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("tolerance must be between 0 and 1, got %f", c.Recognition.Tolerance)
	}

	if c.Door.UnlockSeconds <= 0 {
		return fmt.Errorf("unlock_seconds must be positive, got %d", c.Door.UnlockSeconds)
	}
	if c.Door.Pin < 0 || c.Door.Pin > 27 {
		return fmt.Errorf("invalid BCM pin: %d", c.Door.Pin)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker must be set when mqtt is enabled")
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			return fmt.Errorf("invalid mqtt port: %d", c.MQTT.Port)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.MQTT.CACert = ExpandPath(c.MQTT.CACert)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	usersDir := filepath.Join(c.Storage.DataDir, "users")
	if err := os.MkdirAll(usersDir, 0700); err != nil {
		return fmt.Errorf("failed to create users directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	logDir := filepath.Dir(c.Logging.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	return nil
}
