package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for coursesync.
type Config struct {
	Paths    PathsConfig    `yaml:"paths,omitempty"`
	Courses  []Course       `yaml:"courses"`
	Build    BuildConfig    `yaml:"build,omitempty"`
	Resolver ResolverConfig `yaml:"resolver,omitempty"`
	Publish  PublishConfig  `yaml:"publish,omitempty"`
	Git      GitConfig      `yaml:"git,omitempty"`
	Daemon   DaemonConfig   `yaml:"daemon,omitempty"`
	State    StateConfig    `yaml:"state,omitempty"`
	Notify   NotifyConfig   `yaml:"notify,omitempty"`
}

// Defaults applied in Load. Course repositories historically live on master,
// so that is the branch default rather than main.
const (
	DefaultExercisesRoot = "exercises"
	DefaultStaticRoot    = "static"
	DefaultBranch        = "master"
	DefaultBuildScript   = "build.sh"
	DefaultInterpreter   = "python3"
	DefaultResolver      = "gitmanager/cron.py"
	DefaultHTTPAddr      = ":8764"
	DefaultSyncInterval  = 5 * time.Minute
	DefaultDBPath        = "coursesync.db"
	DefaultNotifySubject = "coursesync.events"
)

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist, just log it
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Paths.ExercisesRoot == "" {
		c.Paths.ExercisesRoot = DefaultExercisesRoot
	}
	if c.Paths.StaticRoot == "" {
		c.Paths.StaticRoot = DefaultStaticRoot
	}
	if c.Build.ScriptName == "" {
		c.Build.ScriptName = DefaultBuildScript
	}
	if c.Resolver.Interpreter == "" {
		c.Resolver.Interpreter = DefaultInterpreter
	}
	if c.Resolver.Script == "" {
		c.Resolver.Script = DefaultResolver
	}
	if c.Daemon.SyncInterval == "" {
		c.Daemon.SyncInterval = DefaultSyncInterval.String()
	}
	if c.Daemon.SyncConcurrency < 1 {
		c.Daemon.SyncConcurrency = 1
	}
	if c.Daemon.HTTP.Addr == "" {
		c.Daemon.HTTP.Addr = DefaultHTTPAddr
	}
	if c.Notify.Subject == "" {
		c.Notify.Subject = DefaultNotifySubject
	}
	for i := range c.Courses {
		c.Courses[i].Key = NormalizeKey(c.Courses[i].Key)
		if c.Courses[i].Branch == "" {
			c.Courses[i].Branch = DefaultBranch
		}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Courses))
	for _, course := range c.Courses {
		if err := ValidateKey(course.Key); err != nil {
			return fmt.Errorf("course %q: %w", course.Key, err)
		}
		if course.URL == "" {
			return fmt.Errorf("course %q: url is required", course.Key)
		}
		if _, dup := seen[course.Key]; dup {
			return fmt.Errorf("duplicate course key %q", course.Key)
		}
		seen[course.Key] = struct{}{}
	}
	if c.Daemon.SyncInterval != "" {
		if _, err := time.ParseDuration(c.Daemon.SyncInterval); err != nil {
			return fmt.Errorf("daemon.sync_interval: %w", err)
		}
	}
	if c.Build.Timeout != "" {
		if _, err := time.ParseDuration(c.Build.Timeout); err != nil {
			return fmt.Errorf("build.timeout: %w", err)
		}
	}
	return nil
}

// SyncInterval returns the parsed daemon sync interval.
func (c *Config) SyncInterval() time.Duration {
	d, err := time.ParseDuration(c.Daemon.SyncInterval)
	if err != nil || d <= 0 {
		return DefaultSyncInterval
	}
	return d
}

// BuildTimeout returns the parsed build timeout; 0 means no deadline.
func (c *Config) BuildTimeout() time.Duration {
	if c.Build.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Build.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// CourseByKey returns the configured course with the given (normalized) key.
func (c *Config) CourseByKey(key string) (Course, bool) {
	key = NormalizeKey(key)
	for _, course := range c.Courses {
		if course.Key == key {
			return course, true
		}
	}
	return Course{}, false
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	exampleConfig := Config{
		Paths: PathsConfig{
			ExercisesRoot: DefaultExercisesRoot,
			StaticRoot:    DefaultStaticRoot,
		},
		Courses: []Course{
			{
				Key:    "intro-py",
				ID:     "101",
				URL:    "https://example.org/intro-py.git",
				Branch: "master",
			},
			{
				Key:    "advanced-algo",
				URL:    "https://example.org/advanced-algo.git",
				Branch: "main",
				Auth: &AuthConfig{
					Type:  "token",
					Token: "YOUR_FORGE_TOKEN",
				},
			},
		},
		Resolver: ResolverConfig{
			Interpreter: DefaultInterpreter,
			Script:      DefaultResolver,
		},
		Daemon: DaemonConfig{
			SyncInterval: DefaultSyncInterval.String(),
			HTTP:         HTTPConfig{Addr: DefaultHTTPAddr},
			WatchConfig:  true,
		},
		State: StateConfig{DBPath: DefaultDBPath},
	}

	data, err := yaml.Marshal(&exampleConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
