package config

// Course represents one course-material repository to keep in sync.
type Course struct {
	Key    string      `yaml:"key"`
	ID     string      `yaml:"id,omitempty"` // upstream course identifier; logged, never used for logic
	URL    string      `yaml:"url"`
	Branch string      `yaml:"branch,omitempty"`
	Auth   *AuthConfig `yaml:"auth,omitempty"`
}

// AuthType enumerates supported authentication methods (stringly for YAML compatibility)
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeToken AuthType = "token"
	AuthTypeBasic AuthType = "basic"
)

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Type     AuthType `yaml:"type"` // ssh|token|basic|none
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Token    string   `yaml:"token,omitempty"`
	KeyPath  string   `yaml:"key_path,omitempty"`
}

// IsZero reports whether no auth method specified.
func (a *AuthConfig) IsZero() bool { return a == nil || a.Type == "" || a.Type == AuthTypeNone }

// PathsConfig locates the two filesystem roots the sync pipeline works in.
type PathsConfig struct {
	// ExercisesRoot holds one git working copy per course key.
	ExercisesRoot string `yaml:"exercises_root,omitempty"`
	// StaticRoot is the served tree; it contains one symlink per published course.
	StaticRoot string `yaml:"static_root,omitempty"`
}

// BuildConfig controls the per-course build step.
type BuildConfig struct {
	// ScriptName is the file looked up at the working-copy root. Missing script means no build.
	ScriptName string `yaml:"script_name,omitempty"`
	// Timeout is a duration string; empty or 0 disables the deadline.
	Timeout  string `yaml:"timeout,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// ResolverConfig describes the external helper that reports which subdirectory
// of a built course constitutes its servable static output.
type ResolverConfig struct {
	Interpreter string   `yaml:"interpreter,omitempty"`
	Script      string   `yaml:"script,omitempty"`
	Args        []string `yaml:"args,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
}

// PublishConfig controls symlink publication behavior.
type PublishConfig struct {
	// OverwriteNonSymlink permits replacing a plain file or directory that occupies
	// a course's publish path. Off by default: an occupied path is an operator problem,
	// not something to silently delete.
	OverwriteNonSymlink bool `yaml:"overwrite_non_symlink,omitempty"`
}

// GitConfig holds sync tuning knobs shared by all courses.
type GitConfig struct {
	// ShallowDepth, when >0, performs shallow clones limited to the specified number
	// of commits (git --depth semantics). 0 (default) means full history.
	ShallowDepth int `yaml:"shallow_depth,omitempty"`
	// Retry policy fields (apply to transient fetch/clone failures)
	MaxRetries        int              `yaml:"max_retries,omitempty"`
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff,omitempty"`       // fixed|linear|exponential
	RetryInitialDelay string           `yaml:"retry_initial_delay,omitempty"` // duration string
	RetryMaxDelay     string           `yaml:"retry_max_delay,omitempty"`     // cap for exponential
	// HardResetOnDiverge resets the local branch to origin/<branch> when local history
	// has diverged. CleanUntracked removes untracked files after a successful update.
	HardResetOnDiverge bool `yaml:"hard_reset_on_diverge,omitempty"`
	CleanUntracked     bool `yaml:"clean_untracked,omitempty"`
}

// DaemonConfig configures long-running mode.
type DaemonConfig struct {
	SyncInterval    string     `yaml:"sync_interval,omitempty"` // duration string, default 5m
	SyncConcurrency int        `yaml:"sync_concurrency,omitempty"`
	HTTP            HTTPConfig `yaml:"http,omitempty"`
	WatchConfig     bool       `yaml:"watch_config,omitempty"`
}

// HTTPConfig configures the daemon's HTTP listener.
type HTTPConfig struct {
	Addr string `yaml:"addr,omitempty"` // host:port, default :8764
}

// StateConfig locates the run store. Empty DBPath disables run recording.
type StateConfig struct {
	DBPath string `yaml:"db_path,omitempty"`
}

// NotifyConfig configures NATS run-event publishing.
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}
