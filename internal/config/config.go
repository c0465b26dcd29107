package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	otelPkg "github.com/basket/workforce/internal/otel"
)

// EmployeeConfig declares one roster member.
type EmployeeConfig struct {
	ID        string `yaml:"id" validate:"required,excludesall=:/\\"`
	Name      string `yaml:"name"`
	Workspace string `yaml:"workspace"`
	Emoji     string `yaml:"emoji"`
}

// BridgeConfig tunes event normalization.
type BridgeConfig struct {
	DebounceMS       int `yaml:"debounce_ms"`
	FlushIntervalMS  int `yaml:"flush_interval_ms"`
	ThinkingMaxChars int `yaml:"thinking_max_chars"`
}

// MemoryConfig bounds episodes and working memory.
type MemoryConfig struct {
	RecentTasks       int `yaml:"recent_tasks"`
	MaxChars          int `yaml:"max_chars"`
	BriefMaxChars     int `yaml:"brief_max_chars"`
	EpisodeMaxOutputs int `yaml:"episode_max_outputs"`
}

// StageCueConfig maps message keywords to a stage. Order matters: the
// first matching cue wins.
type StageCueConfig struct {
	Stage    string   `yaml:"stage" validate:"oneof=prepare clarify plan execute review deliver"`
	Keywords []string `yaml:"keywords" validate:"min=1"`
}

// RetentionConfig controls journal pruning.
type RetentionConfig struct {
	Schedule    string `yaml:"schedule"`
	JournalDays int    `yaml:"journal_days"`
}

// RateLimitConfig throttles gateway clients.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

type Config struct {
	HomeDir string `yaml:"-"`
	// FirstRun is set when config.yaml did not exist.
	FirstRun bool `yaml:"-"`

	BindAddr     string          `yaml:"bind_addr"`
	LogLevel     string          `yaml:"log_level"`
	AuthToken    string          `yaml:"auth_token"`
	AllowOrigins []string        `yaml:"allow_origins"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`

	TasksDir    string `yaml:"tasks_dir"`
	MemoryDir   string `yaml:"memory_dir"`
	JournalPath string `yaml:"journal_path"`

	Employees []EmployeeConfig `yaml:"employees" validate:"dive"`
	Bridge    BridgeConfig     `yaml:"bridge"`
	Memory    MemoryConfig     `yaml:"memory"`
	StageCues []StageCueConfig `yaml:"stage_cues" validate:"dive"`
	Retention RetentionConfig  `yaml:"retention"`
	Telemetry otelPkg.Config   `yaml:"telemetry"`
}

var validate = validator.New()

// ConfigPath returns the config.yaml location under homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Debounce returns the streaming-text broadcast window.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.Bridge.DebounceMS) * time.Millisecond
}

// FlushInterval returns how often idle streaming text is flushed.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Bridge.FlushIntervalMS) * time.Millisecond
}

// RetentionWindow returns how long journal rows are kept.
func (c Config) RetentionWindow() time.Duration {
	return time.Duration(c.Retention.JournalDays) * 24 * time.Hour
}

// EmployeeWorkspace returns the workspace for e, defaulting to
// <home>/workspaces/<id>.
func (c Config) EmployeeWorkspace(e EmployeeConfig) string {
	if e.Workspace != "" {
		return c.resolve(e.Workspace)
	}
	return filepath.Join(c.HomeDir, "workspaces", e.ID)
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|tasks=%s|memory=%s|origins=%v|debounce=%d",
		c.BindAddr, c.LogLevel, c.TasksDir, c.MemoryDir, c.AllowOrigins, c.Bridge.DebounceMS)
	for _, e := range c.Employees {
		fmt.Fprintf(h, "|emp=%s:%s", e.ID, e.Workspace)
	}
	for _, cue := range c.StageCues {
		fmt.Fprintf(h, "|cue=%s:%s", cue.Stage, strings.Join(cue.Keywords, ","))
	}
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:18790",
		LogLevel: "info",
		Bridge: BridgeConfig{
			DebounceMS:       80,
			FlushIntervalMS:  100,
			ThinkingMaxChars: 300,
		},
		Memory: MemoryConfig{
			RecentTasks:       10,
			MaxChars:          4000,
			BriefMaxChars:     500,
			EpisodeMaxOutputs: 20,
		},
		Retention: RetentionConfig{
			Schedule:    "@daily",
			JournalDays: 30,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("WORKFORCE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".workforce")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create workforce home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.FirstRun = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := check(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	def := defaultConfig()
	if cfg.BindAddr == "" {
		cfg.BindAddr = def.BindAddr
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.TasksDir == "" {
		cfg.TasksDir = "tasks"
	}
	if cfg.MemoryDir == "" {
		cfg.MemoryDir = "memory"
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = "journal.db"
	}
	cfg.TasksDir = cfg.resolve(cfg.TasksDir)
	cfg.MemoryDir = cfg.resolve(cfg.MemoryDir)
	cfg.JournalPath = cfg.resolve(cfg.JournalPath)

	if cfg.Bridge.DebounceMS <= 0 {
		cfg.Bridge.DebounceMS = def.Bridge.DebounceMS
	}
	if cfg.Bridge.FlushIntervalMS <= 0 {
		cfg.Bridge.FlushIntervalMS = def.Bridge.FlushIntervalMS
	}
	if cfg.Bridge.ThinkingMaxChars <= 0 {
		cfg.Bridge.ThinkingMaxChars = def.Bridge.ThinkingMaxChars
	}
	if cfg.Memory.RecentTasks <= 0 {
		cfg.Memory.RecentTasks = def.Memory.RecentTasks
	}
	if cfg.Memory.MaxChars <= 0 {
		cfg.Memory.MaxChars = def.Memory.MaxChars
	}
	if cfg.Memory.BriefMaxChars <= 0 {
		cfg.Memory.BriefMaxChars = def.Memory.BriefMaxChars
	}
	if cfg.Memory.EpisodeMaxOutputs <= 0 {
		cfg.Memory.EpisodeMaxOutputs = def.Memory.EpisodeMaxOutputs
	}
	if strings.TrimSpace(cfg.Retention.Schedule) == "" {
		cfg.Retention.Schedule = def.Retention.Schedule
	}
	if cfg.Retention.JournalDays <= 0 {
		cfg.Retention.JournalDays = def.Retention.JournalDays
	}
	for i := range cfg.Employees {
		cfg.Employees[i].ID = strings.TrimSpace(cfg.Employees[i].ID)
	}
	for i := range cfg.StageCues {
		cfg.StageCues[i].Stage = strings.ToLower(strings.TrimSpace(cfg.StageCues[i].Stage))
	}
}

func check(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s: failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	seen := make(map[string]struct{}, len(cfg.Employees))
	for _, e := range cfg.Employees {
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("config: duplicate employee %q", e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("WORKFORCE_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("WORKFORCE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("WORKFORCE_AUTH_TOKEN"); raw != "" {
		cfg.AuthToken = raw
	}
	if raw := os.Getenv("WORKFORCE_DEBOUNCE_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Bridge.DebounceMS = v
		}
	}
}

func (c Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.HomeDir, p)
}
