package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TASKGRAPH_MAX_PARALLEL_TASKS.
const EnvPrefix = "TASKGRAPH"

// DirName is the per-project directory holding config, logs and state.
const DirName = ".taskgraph"

// HistoryConfig controls the run history database
type HistoryConfig struct {
	// Enabled records every run and attempt in SQLite
	Enabled bool `mapstructure:"enabled"`

	// DBPath is the SQLite database file
	DBPath string `mapstructure:"db_path"`
}

// RouteConfig is a dedicated command for one task_type.
type RouteConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// ExecutorConfig describes the command that performs tasks.
type ExecutorConfig struct {
	// Command is the program run once per attempt
	Command string `mapstructure:"command"`

	// Args is the argument template; {{prompt}} is replaced by the task prompt
	Args []string `mapstructure:"args"`

	// WorkDir is where commands run and relative artifact paths resolve
	WorkDir string `mapstructure:"work_dir"`

	// StdinJSON sends the whole request as JSON on stdin
	StdinJSON bool `mapstructure:"stdin_json"`

	// AgentsDir holds subagent definitions; empty uses ~/.claude/agents
	AgentsDir string `mapstructure:"agents_dir"`

	// Agents overrides the task_type -> subagent mapping
	Agents map[string]string `mapstructure:"agents"`

	// Routes gives task types their own command
	Routes map[string]RouteConfig `mapstructure:"routes"`
}

// Config represents taskgraph configuration
type Config struct {
	// MaxParallelTasks bounds concurrent task attempts (0 = unlimited)
	MaxParallelTasks int

	// TimeoutPerTask bounds each attempt (0 = none)
	TimeoutPerTask time.Duration

	// MaxRetries is the default attempt budget for tasks that do not set one
	MaxRetries int

	// LogLevel is one of trace, debug, info, warn, error
	LogLevel string

	// LogDir receives run-*.log files
	LogDir string

	// CheckpointPath is the snapshot file used for resume
	CheckpointPath string

	History  HistoryConfig
	Executor ExecutorConfig

	// File is the config file that was read, empty when defaults were used
	File string
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		MaxParallelTasks: 4,
		TimeoutPerTask:   5 * time.Minute,
		MaxRetries:       2,
		LogLevel:         "info",
		LogDir:           filepath.Join(DirName, "logs"),
		CheckpointPath:   filepath.Join(DirName, "checkpoint.json"),
		History: HistoryConfig{
			Enabled: true,
			DBPath:  filepath.Join(DirName, "history.db"),
		},
		Executor: ExecutorConfig{
			Command: "claude",
			Args:    []string{"-p", "{{prompt}}", "--output-format", "json"},
		},
	}
}

func newViper(defaults *Config) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("max_parallel_tasks", defaults.MaxParallelTasks)
	v.SetDefault("timeout_per_task", defaults.TimeoutPerTask)
	v.SetDefault("max_retries", defaults.MaxRetries)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_dir", defaults.LogDir)
	v.SetDefault("checkpoint_path", defaults.CheckpointPath)
	v.SetDefault("history.enabled", defaults.History.Enabled)
	v.SetDefault("history.db_path", defaults.History.DBPath)
	v.SetDefault("executor.command", defaults.Executor.Command)
	v.SetDefault("executor.args", defaults.Executor.Args)
	v.SetDefault("executor.work_dir", defaults.Executor.WorkDir)
	v.SetDefault("executor.stdin_json", defaults.Executor.StdinJSON)
	v.SetDefault("executor.agents_dir", defaults.Executor.AgentsDir)
	return v
}

// LoadConfig loads configuration from a YAML file, layered over the
// defaults and under TASKGRAPH_* environment variables. A missing file
// is not an error.
func LoadConfig(path string) (*Config, error) {
	v := newViper(DefaultConfig())

	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			cfg.File = path
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg.MaxParallelTasks = v.GetInt("max_parallel_tasks")
	cfg.MaxRetries = v.GetInt("max_retries")
	cfg.LogLevel = strings.ToLower(v.GetString("log_level"))
	cfg.LogDir = v.GetString("log_dir")
	cfg.CheckpointPath = v.GetString("checkpoint_path")
	cfg.History.Enabled = v.GetBool("history.enabled")
	cfg.History.DBPath = v.GetString("history.db_path")

	timeout, err := parseDuration(v.Get("timeout_per_task"))
	if err != nil {
		return nil, fmt.Errorf("invalid timeout_per_task: %w", err)
	}
	cfg.TimeoutPerTask = timeout

	cfg.Executor.Command = v.GetString("executor.command")
	cfg.Executor.Args = v.GetStringSlice("executor.args")
	cfg.Executor.WorkDir = v.GetString("executor.work_dir")
	cfg.Executor.StdinJSON = v.GetBool("executor.stdin_json")
	cfg.Executor.AgentsDir = v.GetString("executor.agents_dir")
	if v.IsSet("executor.agents") {
		cfg.Executor.Agents = v.GetStringMapString("executor.agents")
	}
	if v.IsSet("executor.routes") {
		if err := v.UnmarshalKey("executor.routes", &cfg.Executor.Routes); err != nil {
			return nil, fmt.Errorf("invalid executor.routes: %w", err)
		}
	}

	return cfg, nil
}

// parseDuration accepts durations as strings ("90s", "5m") or as numbers of seconds.
func parseDuration(raw any) (time.Duration, error) {
	switch val := raw.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return val, nil
	case int:
		return time.Duration(val) * time.Second, nil
	case int64:
		return time.Duration(val) * time.Second, nil
	case float64:
		return time.Duration(val * float64(time.Second)), nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", val, err)
		}
		return d, nil
	}
	return 0, fmt.Errorf("unsupported duration value %v", raw)
}

// LoadConfigFromDir loads configuration from .taskgraph/config.yaml in dir.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, DirName, "config.yaml"))
}

// Overrides carries CLI flag values; nil fields were not set on the command line.
type Overrides struct {
	MaxParallel     *int
	TimeoutPerTask  *time.Duration
	MaxRetries      *int
	LogLevel        *string
	LogDir          *string
	CheckpointPath  *string
	HistoryDBPath   *string
	NoHistory       *bool
	ExecutorCommand *string
	ExecutorArgs    []string
}

// MergeWithFlags applies CLI flag overrides. Flags always win over the file.
func (c *Config) MergeWithFlags(o Overrides) {
	if o.MaxParallel != nil {
		c.MaxParallelTasks = *o.MaxParallel
	}
	if o.TimeoutPerTask != nil {
		c.TimeoutPerTask = *o.TimeoutPerTask
	}
	if o.MaxRetries != nil {
		c.MaxRetries = *o.MaxRetries
	}
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
	if o.LogDir != nil {
		c.LogDir = *o.LogDir
	}
	if o.CheckpointPath != nil {
		c.CheckpointPath = *o.CheckpointPath
	}
	if o.HistoryDBPath != nil {
		c.History.DBPath = *o.HistoryDBPath
	}
	if o.NoHistory != nil && *o.NoHistory {
		c.History.Enabled = false
	}
	if o.ExecutorCommand != nil {
		c.Executor.Command = *o.ExecutorCommand
	}
	if o.ExecutorArgs != nil {
		c.Executor.Args = o.ExecutorArgs
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MaxParallelTasks < 0 {
		return fmt.Errorf("max_parallel_tasks must be >= 0, got %d", c.MaxParallelTasks)
	}
	if c.TimeoutPerTask < 0 {
		return fmt.Errorf("timeout_per_task must be >= 0, got %v", c.TimeoutPerTask)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("history.db_path cannot be empty when history is enabled")
	}
	if strings.TrimSpace(c.Executor.Command) == "" {
		return fmt.Errorf("executor.command cannot be empty")
	}
	for taskType, route := range c.Executor.Routes {
		if strings.TrimSpace(route.Command) == "" {
			return fmt.Errorf("executor.routes.%s.command cannot be empty", taskType)
		}
	}

	return nil
}
