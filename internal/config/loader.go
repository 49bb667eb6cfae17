package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	appName        = "workloop"
	configFileName = "config.yaml"
	localFileName  = "workloop.yaml"
	envPrefix      = "WORKLOOP"
)

// envAliases are short environment variables bound in addition to the
// automatic WORKLOOP_<SECTION>_<KEY> names.
var envAliases = map[string]string{
	"llm.api_key":               "WORKLOOP_API_KEY",
	"store.dsn":                 "WORKLOOP_DATABASE_URL",
	"invoker.agent.binary_path": "WORKLOOP_AGENT_PATH",
}

// Loader handles configuration loading with Viper.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader with defaults registered and environment
// overrides enabled.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		_ = v.BindEnv(key, "WORKLOOP_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	setDefaults(v, DefaultConfig())
	return &Loader{v: v}
}

// setDefaults registers every default so AutomaticEnv can override keys that
// no config file mentions.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("execution.max_iterations", d.Exec.MaxIterations)
	v.SetDefault("execution.per_step_timeout", d.Exec.PerStepTimeout)
	v.SetDefault("execution.per_step_retry_limit", d.Exec.PerStepRetryLimit)
	v.SetDefault("execution.worker_pool_size", d.Exec.WorkerPoolSize)
	v.SetDefault("execution.backoff.initial", d.Exec.Backoff.Initial)
	v.SetDefault("execution.backoff.multiplier", d.Exec.Backoff.Multiplier)
	v.SetDefault("execution.backoff.max", d.Exec.Backoff.Max)
	v.SetDefault("execution.invoke_rate", d.Exec.InvokeRate)
	v.SetDefault("execution.invoke_burst", d.Exec.InvokeBurst)
	v.SetDefault("execution.reverify_limit", d.Exec.ReverifyLimit)

	v.SetDefault("verification.strategies", d.Verification.Strategies)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.endpoint", d.Store.Endpoint)
	v.SetDefault("store.bucket", d.Store.Bucket)
	v.SetDefault("store.prefix", d.Store.Prefix)
	v.SetDefault("store.region", d.Store.Region)
	v.SetDefault("store.access_key", d.Store.AccessKey)
	v.SetDefault("store.secret_key", d.Store.SecretKey)
	v.SetDefault("store.use_ssl", d.Store.UseSSL)

	v.SetDefault("planner.kind", d.Planner.Kind)
	v.SetDefault("planner.manifest_path", d.Planner.ManifestPath)

	v.SetDefault("llm.endpoint", d.LLM.Endpoint)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.pass_threshold", d.LLM.PassThreshold)

	v.SetDefault("invoker.kind", d.Invoker.Kind)
	v.SetDefault("invoker.shell", d.Invoker.Shell)
	v.SetDefault("invoker.work_dir", d.Invoker.WorkDir)
	v.SetDefault("invoker.transient_exit_codes", d.Invoker.TransientExitCodes)
	v.SetDefault("invoker.agent.binary_path", d.Invoker.Agent.BinaryPath)
	v.SetDefault("invoker.agent.args", d.Invoker.Agent.Args)
	v.SetDefault("invoker.agent.model", d.Invoker.Agent.Model)

	v.SetDefault("log.level", d.Log.Level)
}

// Load resolves the config file by priority and returns the merged configuration.
//
// When no config file is found the defaults and environment overrides are
// used. A file that exists but cannot be parsed is an error.
func (l *Loader) Load() (*Config, error) {
	if path := l.findConfigFile(); path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadFromFile loads configuration from an explicit path. The format is
// taken from the file extension.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		l.v.SetConfigType(ext)
	}
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return &cfg, nil
}

// findConfigFile returns the highest-priority config file that exists.
func (l *Loader) findConfigFile() string {
	if path := os.Getenv("WORKLOOP_CONFIG_PATH"); path != "" {
		return path
	}
	if path, err := DefaultConfigPath(); err == nil {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	if _, err := os.Stat(localFileName); err == nil {
		return localFileName
	}
	return ""
}

// MustLoad loads configuration and panics on error.
func MustLoad() *Config {
	cfg, err := NewLoader().Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// ConfigDir returns the platform-standard workloop config directory.
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(dir, appName), nil
}

// DefaultConfigPath returns the config file path inside [ConfigDir].
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// EnsureConfigDir creates the config directory if it does not exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return nil
}
