package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/errs"
)

const EnvPrefix = "IF"

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	State     StateConfig     `mapstructure:"state"`
	Lock      LockConfig      `mapstructure:"lock"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	// Instance is the owner tag this process claims issues under.
	Instance string `mapstructure:"instance"`
	// Channels limits this instance to the given channel ids. Empty serves
	// every channel of a project.
	Channels []string `mapstructure:"channels"`
}

type StateConfig struct {
	Dir  string `mapstructure:"dir"`
	File string `mapstructure:"file"`
}

// SlotFile is the path of the slot document.
func (s StateConfig) SlotFile() string {
	if filepath.IsAbs(s.File) {
		return s.File
	}
	return filepath.Join(s.Dir, s.File)
}

type LockConfig struct {
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
}

type WorkflowConfig struct {
	SharedFile string `mapstructure:"shared_file"`
	ProjectDir string `mapstructure:"project_dir"`
}

type HeartbeatConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	StaleWorkerAfter time.Duration `mapstructure:"stale_worker_after"`
	AutoChain        bool          `mapstructure:"auto_chain"`
	// Watch triggers an extra tick when workflow files change.
	Watch bool `mapstructure:"watch"`
}

type TimeoutsConfig struct {
	Provider time.Duration `mapstructure:"provider"`
	Git      time.Duration `mapstructure:"git"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type TrackerConfig struct {
	Provider string       `mapstructure:"provider"`
	GitHub   GitHubConfig `mapstructure:"github"`
}

type GitHubConfig struct {
	Token          string `mapstructure:"token"`
	BaseURL        string `mapstructure:"base_url"`
	AppID          int64  `mapstructure:"app_id"`
	InstallationID int64  `mapstructure:"installation_id"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
}

type RuntimeConfig struct {
	Program string   `mapstructure:"program"`
	Args    []string `mapstructure:"args"`
	LogDir  string   `mapstructure:"log_dir"`
	// WorkspaceDir holds one checkout per project slug. Empty uses the
	// project's repo field as the checkout path.
	WorkspaceDir string `mapstructure:"workspace_dir"`
}

type NotifyConfig struct {
	NATSURL       string        `mapstructure:"nats_url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	QueueSize     int           `mapstructure:"queue_size"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("instance", cfg.App.Instance),
		slog.String("slot_file", cfg.State.SlotFile()),
		slog.String("tracker", cfg.Tracker.Provider),
		slog.String("database_driver", cfg.Database.Driver),
	)
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if strings.TrimSpace(c.App.Instance) == "" {
		return errors.New("app.instance is required")
	}
	if strings.TrimSpace(c.State.File) == "" {
		return errors.New("state.file is required")
	}
	if c.Heartbeat.Interval <= 0 {
		return errors.New("heartbeat.interval must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "issueflow")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.instance", "issueflow")
	v.SetDefault("app.channels", []string{})

	v.SetDefault("state.dir", ".issueflow")
	v.SetDefault("state.file", "workers.json")

	v.SetDefault("lock.retry_interval", 50*time.Millisecond)
	v.SetDefault("lock.timeout", 10*time.Second)
	v.SetDefault("lock.stale_after", 30*time.Second)

	v.SetDefault("workflow.shared_file", ".issueflow/workflow.yaml")
	v.SetDefault("workflow.project_dir", ".issueflow/projects")

	v.SetDefault("heartbeat.interval", time.Minute)
	v.SetDefault("heartbeat.stale_worker_after", time.Duration(0))
	v.SetDefault("heartbeat.auto_chain", false)
	v.SetDefault("heartbeat.watch", true)

	v.SetDefault("timeouts.provider", time.Duration(0))
	v.SetDefault("timeouts.git", time.Duration(0))

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".issueflow/issueflow.sqlite")

	v.SetDefault("tracker.provider", "local")
	v.SetDefault("tracker.github.token", "")
	v.SetDefault("tracker.github.base_url", "")
	v.SetDefault("tracker.github.app_id", 0)
	v.SetDefault("tracker.github.installation_id", 0)
	v.SetDefault("tracker.github.private_key_file", "")
	v.SetDefault("tracker.github.webhook_secret", "")

	v.SetDefault("runtime.program", "")
	v.SetDefault("runtime.args", []string{})
	v.SetDefault("runtime.log_dir", ".issueflow/sessions")
	v.SetDefault("runtime.workspace_dir", "")

	v.SetDefault("notify.nats_url", "")
	v.SetDefault("notify.subject_prefix", "issueflow")
	v.SetDefault("notify.queue_size", 64)
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("http.addr", ":9090")
}
