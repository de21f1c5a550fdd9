// Package config handles flowkeeper configuration via YAML files and
// environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--backend, --data-dir, --log-level)
//  2. Environment variables (FLOWKEEPER_*)
//  3. Config file (config.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	fmt.Println(cfg)
//
// Environment Variables (all use FLOWKEEPER_ prefix):
//
// Engine:
//   - FLOWKEEPER_FLOW_ID="42"
//   - FLOWKEEPER_HISTORY_LIMIT=50
//
// Persistence:
//   - FLOWKEEPER_BACKEND="memory", "file", "badger" or "redis"
//   - FLOWKEEPER_DATA_DIR="./data"
//   - FLOWKEEPER_REDIS_URL="redis://localhost:6379/0"
//   - FLOWKEEPER_REDIS_NAMESPACE="flowkeeper:"
//   - FLOWKEEPER_SNAPSHOT_TTL=0
//   - FLOWKEEPER_SYNC_WRITES=false
//   - FLOWKEEPER_SAVE_COOLDOWN=10s
//   - FLOWKEEPER_RECOVERY_COOLDOWN=30s
//   - FLOWKEEPER_MOUNT_DELAY=2s
//   - FLOWKEEPER_RECOVERY_INTERVAL=10s
//   - FLOWKEEPER_SAVE_DELAY=1s
//
// Drag:
//   - FLOWKEEPER_DRAG_REALTIME_THRESHOLD=4
//   - FLOWKEEPER_DRAG_FRAME_INTERVAL=16ms
//
// Logging:
//   - FLOWKEEPER_LOG_LEVEL="info"
//   - FLOWKEEPER_LOG_FORMAT="console" or "json"
//   - FLOWKEEPER_LOG_OUTPUT="stderr", "stdout" or "file"
//   - FLOWKEEPER_LOG_FILE="./logs/flowkeeper.log"
//
// Durations accept Go syntax ("1500ms") or plain seconds ("10").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all flowkeeper configuration.
//
// Sections:
//   - Engine: history and flow identity
//   - Persistence: snapshot store and recovery timers
//   - Drag: drag-time edge update scheduling
//   - Logging: zerolog setup
type Config struct {
	Engine      EngineConfig
	Persistence PersistenceConfig
	Drag        DragConfig
	Logging     LoggingConfig
}

// EngineConfig holds graph engine settings.
type EngineConfig struct {
	// FlowID scopes the snapshot keys. Empty uses the shared fallback key.
	FlowID string
	// HistoryLimit bounds the undo log.
	HistoryLimit int
}

// PersistenceConfig holds snapshot store and recovery settings.
type PersistenceConfig struct {
	// Backend is one of memory, file, badger, redis.
	Backend string
	// DataDir is used by the file and badger backends.
	DataDir string
	// RedisURL is a redis:// or rediss:// URL.
	RedisURL string
	// RedisNamespace prefixes every redis key.
	RedisNamespace string
	// SnapshotTTL expires redis snapshots. Zero keeps them forever.
	SnapshotTTL time.Duration
	// SyncWrites makes badger fsync every write.
	SyncWrites bool

	SaveCooldown     time.Duration
	RecoveryCooldown time.Duration
	MountDelay       time.Duration
	Interval         time.Duration
	SaveDelay        time.Duration
}

// DragConfig holds drag scheduling settings.
type DragConfig struct {
	// RealtimeThreshold is the connection count at which updates are
	// deferred to the next frame.
	RealtimeThreshold int
	FrameInterval     time.Duration
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string
	Format string
	Output string
	File   string
}

var validBackends = map[string]bool{
	"memory": true,
	"file":   true,
	"badger": true,
	"redis":  true,
}

// LoadDefaults returns a Config populated with built-in defaults only.
func LoadDefaults() *Config {
	return &Config{
		Engine: EngineConfig{
			HistoryLimit: 50,
		},
		Persistence: PersistenceConfig{
			Backend:          "memory",
			DataDir:          "./data",
			RedisURL:         "redis://localhost:6379/0",
			RedisNamespace:   "flowkeeper:",
			SaveCooldown:     10 * time.Second,
			RecoveryCooldown: 30 * time.Second,
			MountDelay:       2 * time.Second,
			Interval:         10 * time.Second,
			SaveDelay:        1 * time.Second,
		},
		Drag: DragConfig{
			RealtimeThreshold: 4,
			FrameInterval:     16 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// LoadFromEnv returns defaults overridden by FLOWKEEPER_* variables.
func LoadFromEnv() *Config {
	cfg := LoadDefaults()
	applyEnvVars(cfg)
	return cfg
}

// ApplyEnvVars overlays environment variables onto cfg.
func ApplyEnvVars(cfg *Config) {
	applyEnvVars(cfg)
}

func applyEnvVars(cfg *Config) {
	cfg.Engine.FlowID = getEnv("FLOWKEEPER_FLOW_ID", cfg.Engine.FlowID)
	cfg.Engine.HistoryLimit = getEnvInt("FLOWKEEPER_HISTORY_LIMIT", cfg.Engine.HistoryLimit)

	p := &cfg.Persistence
	p.Backend = strings.ToLower(getEnv("FLOWKEEPER_BACKEND", p.Backend))
	p.DataDir = getEnv("FLOWKEEPER_DATA_DIR", p.DataDir)
	p.RedisURL = getEnv("FLOWKEEPER_REDIS_URL", p.RedisURL)
	p.RedisNamespace = getEnv("FLOWKEEPER_REDIS_NAMESPACE", p.RedisNamespace)
	p.SnapshotTTL = getEnvDuration("FLOWKEEPER_SNAPSHOT_TTL", p.SnapshotTTL)
	p.SyncWrites = getEnvBool("FLOWKEEPER_SYNC_WRITES", p.SyncWrites)
	p.SaveCooldown = getEnvDuration("FLOWKEEPER_SAVE_COOLDOWN", p.SaveCooldown)
	p.RecoveryCooldown = getEnvDuration("FLOWKEEPER_RECOVERY_COOLDOWN", p.RecoveryCooldown)
	p.MountDelay = getEnvDuration("FLOWKEEPER_MOUNT_DELAY", p.MountDelay)
	p.Interval = getEnvDuration("FLOWKEEPER_RECOVERY_INTERVAL", p.Interval)
	p.SaveDelay = getEnvDuration("FLOWKEEPER_SAVE_DELAY", p.SaveDelay)

	cfg.Drag.RealtimeThreshold = getEnvInt("FLOWKEEPER_DRAG_REALTIME_THRESHOLD", cfg.Drag.RealtimeThreshold)
	cfg.Drag.FrameInterval = getEnvDuration("FLOWKEEPER_DRAG_FRAME_INTERVAL", cfg.Drag.FrameInterval)

	cfg.Logging.Level = getEnv("FLOWKEEPER_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("FLOWKEEPER_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = getEnv("FLOWKEEPER_LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.File = getEnv("FLOWKEEPER_LOG_FILE", cfg.Logging.File)
}

// YAMLConfig mirrors the config file layout. Durations are strings.
type YAMLConfig struct {
	Engine struct {
		FlowID       string `yaml:"flow_id"`
		HistoryLimit int    `yaml:"history_limit"`
	} `yaml:"engine"`

	Persistence struct {
		Backend          string `yaml:"backend"`
		DataDir          string `yaml:"data_dir"`
		RedisURL         string `yaml:"redis_url"`
		RedisNamespace   string `yaml:"redis_namespace"`
		SnapshotTTL      string `yaml:"snapshot_ttl"`
		SyncWrites       bool   `yaml:"sync_writes"`
		SaveCooldown     string `yaml:"save_cooldown"`
		RecoveryCooldown string `yaml:"recovery_cooldown"`
		MountDelay       string `yaml:"mount_delay"`
		Interval         string `yaml:"interval"`
		SaveDelay        string `yaml:"save_delay"`
	} `yaml:"persistence"`

	// Storage is an alias for persistence.data_dir.
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Drag struct {
		RealtimeThreshold int    `yaml:"realtime_threshold"`
		FrameInterval     string `yaml:"frame_interval"`
	} `yaml:"drag"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
}

// LoadFromFile applies defaults, then the YAML file at configPath, then the
// environment. A missing file is not an error.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := LoadDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := applyYAML(cfg, data); err != nil {
				return nil, err
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvVars(cfg)
	return cfg, nil
}

func applyYAML(cfg *Config, data []byte) error {
	var y YAMLConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if y.Engine.FlowID != "" {
		cfg.Engine.FlowID = y.Engine.FlowID
	}
	if y.Engine.HistoryLimit > 0 {
		cfg.Engine.HistoryLimit = y.Engine.HistoryLimit
	}

	p := &cfg.Persistence
	if y.Persistence.Backend != "" {
		p.Backend = strings.ToLower(y.Persistence.Backend)
	}
	if y.Storage.Path != "" {
		p.DataDir = y.Storage.Path
	}
	if y.Persistence.DataDir != "" {
		p.DataDir = y.Persistence.DataDir
	}
	if y.Persistence.RedisURL != "" {
		p.RedisURL = y.Persistence.RedisURL
	}
	if y.Persistence.RedisNamespace != "" {
		p.RedisNamespace = y.Persistence.RedisNamespace
	}
	if y.Persistence.SyncWrites {
		p.SyncWrites = true
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"persistence.snapshot_ttl", y.Persistence.SnapshotTTL, &p.SnapshotTTL},
		{"persistence.save_cooldown", y.Persistence.SaveCooldown, &p.SaveCooldown},
		{"persistence.recovery_cooldown", y.Persistence.RecoveryCooldown, &p.RecoveryCooldown},
		{"persistence.mount_delay", y.Persistence.MountDelay, &p.MountDelay},
		{"persistence.interval", y.Persistence.Interval, &p.Interval},
		{"persistence.save_delay", y.Persistence.SaveDelay, &p.SaveDelay},
		{"drag.frame_interval", y.Drag.FrameInterval, &cfg.Drag.FrameInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := parseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}

	if y.Drag.RealtimeThreshold > 0 {
		cfg.Drag.RealtimeThreshold = y.Drag.RealtimeThreshold
	}

	if y.Logging.Level != "" {
		cfg.Logging.Level = y.Logging.Level
	}
	if y.Logging.Format != "" {
		cfg.Logging.Format = y.Logging.Format
	}
	if y.Logging.Output != "" {
		cfg.Logging.Output = y.Logging.Output
	}
	if y.Logging.File != "" {
		cfg.Logging.File = y.Logging.File
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Engine.HistoryLimit <= 0 {
		return fmt.Errorf("invalid history limit: %d", c.Engine.HistoryLimit)
	}

	p := c.Persistence
	if !validBackends[p.Backend] {
		return fmt.Errorf("invalid backend: %q", p.Backend)
	}
	if (p.Backend == "file" || p.Backend == "badger") && p.DataDir == "" {
		return fmt.Errorf("backend %s requires a data dir", p.Backend)
	}
	if p.Backend == "redis" && p.RedisURL == "" {
		return fmt.Errorf("backend redis requires a redis url")
	}
	if p.MountDelay < 0 || p.Interval <= 0 || p.SaveDelay <= 0 {
		return fmt.Errorf("recovery timers must be positive (mount %s, interval %s, save delay %s)",
			p.MountDelay, p.Interval, p.SaveDelay)
	}

	if c.Drag.RealtimeThreshold <= 0 {
		return fmt.Errorf("invalid drag realtime threshold: %d", c.Drag.RealtimeThreshold)
	}
	if c.Drag.FrameInterval <= 0 {
		return fmt.Errorf("invalid drag frame interval: %s", c.Drag.FrameInterval)
	}

	if c.Logging.Output == "file" && c.Logging.File == "" {
		return fmt.Errorf("log output file requires a log file path")
	}
	return nil
}

// String returns a log-safe summary. The redis URL may carry a password and
// is reduced to its host.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Flow: %q, History: %d, Backend: %s, DataDir: %s, Redis: %s, Drag: %d/%s, Log: %s}",
		c.Engine.FlowID,
		c.Engine.HistoryLimit,
		c.Persistence.Backend,
		c.Persistence.DataDir,
		redactURL(c.Persistence.RedisURL),
		c.Drag.RealtimeThreshold, c.Drag.FrameInterval,
		c.Logging.Level,
	)
}

func redactURL(raw string) string {
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		scheme := ""
		if j := strings.Index(raw, "://"); j >= 0 && j < i {
			scheme = raw[:j+3]
		}
		return scheme + "***@" + raw[i+1:]
	}
	return raw
}

// FindConfigFile searches standard locations and returns the first config
// file found, or "".
// Search order:
//  1. ~/.flowkeeper/config.yaml
//  2. Next to the binary (config.yaml, flowkeeper.yaml)
//  3. Current working directory (config.yaml, flowkeeper.yaml)
//  4. ~/.config/flowkeeper/config.yaml
func FindConfigFile() string {
	var candidates []string

	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".flowkeeper", "config.yaml"))
	}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, "config.yaml"),
			filepath.Join(exeDir, "flowkeeper.yaml"),
		)
	}
	candidates = append(candidates, "config.yaml", "flowkeeper.yaml")
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "flowkeeper", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := parseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// parseDuration accepts Go duration syntax or a plain number of seconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a duration: %q", s)
	}
	return time.Duration(secs) * time.Second, nil
}
