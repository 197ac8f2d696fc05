package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codeberg.org/iclab/ppglogger/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configName       = "ppglogger"
	defaultEnvPrefix = "PPGLOGGER"
	DefaultLogLevel  = LogLevelInfo
)

var errFactory = errors.New()

type Config struct {
	LogLevel       LogLevel      `mapstructure:"log_level"`
	Database       string        `mapstructure:"database"`
	BackupDir      string        `mapstructure:"backup_dir"`
	PIDFile        string        `mapstructure:"pid_file"`
	Listen         string        `mapstructure:"listen"`
	Autostart      bool          `mapstructure:"autostart"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	QueuePolicy    QueuePolicy   `mapstructure:"queue_policy"`
	PPGChannels    []string      `mapstructure:"ppg_channels"`
	Sim            SimConfig     `mapstructure:"sim"`

	// ConfigFile is the file the values were read from, empty when none.
	ConfigFile string `mapstructure:"-"`
}

// SimConfig drives the simulated sensing service.
type SimConfig struct {
	BatchInterval time.Duration `mapstructure:"batch_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	ConnectDelay  time.Duration `mapstructure:"connect_delay"`
	// FailConnect makes every handshake fail: "", "permission", "policy" or "transport".
	FailConnect string `mapstructure:"fail_connect"`
}

var defaults = map[string]any{
	"log_level":          string(DefaultLogLevel),
	"database":           "/var/lib/ppglogger/ppglogger.db",
	"backup_dir":         "/var/lib/ppglogger/backups",
	"pid_file":           "/run/ppglogger.pid",
	"listen":             "127.0.0.1:8089",
	"autostart":          false,
	"connect_timeout":    10 * time.Second,
	"connect_retries":    3,
	"queue_capacity":     4096,
	"queue_policy":       string(QueueDropOldest),
	"ppg_channels":       []string{"green", "red", "ir"},
	"sim.batch_interval": time.Second,
	"sim.batch_size":     25,
	"sim.connect_delay":  200 * time.Millisecond,
	"sim.fail_connect":   "",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
	fs.String("database", "", "Path to the record database")
	fs.String("backup-dir", "", "Directory for schema migration backups")
	fs.String("pid-file", "", "Path to the PID file held while collecting")
	fs.String("listen", "", "Address of the local control surface")
	fs.Bool("autostart", false, "Start collecting once bound")
	fs.Duration("connect-timeout", 0, "Sensing service handshake timeout")
	fs.Int("connect-retries", 0, "Handshake retries on transient failure")
	fs.Int("queue-capacity", 0, "Write queue capacity in batches (0 = unbounded)")
	fs.String("queue-policy", "", "Full queue policy (drop_oldest, drop_newest)")
	fs.StringSlice("ppg-channels", nil, "PPG channels to subscribe (green, red, ir)")
	fs.Duration("sim-batch-interval", 0, "Simulator batch interval (0 = manual)")
	fs.Int("sim-batch-size", 0, "Simulator samples per batch")
	fs.Duration("sim-connect-delay", 0, "Simulator handshake delay")
	fs.String("sim-fail-connect", "", "Simulator handshake failure (permission, policy, transport)")
	return fs
}

// flagKey maps a flag name onto its configuration key.
func flagKey(name string) string {
	key := strings.ReplaceAll(name, "-", "_")
	if strings.HasPrefix(key, "sim_") {
		key = "sim." + strings.TrimPrefix(key, "sim_")
	}
	return key
}

// Load reads the configuration from defaults, the config file, the
// environment and args, in increasing order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	o := &options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load configuration from file
	path := o.configPath
	if f := fs.Lookup("config"); f != nil && f.Changed {
		path = f.Value.String()
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	// Override config file values with command line flags
	var flagErr error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if f.Value.Type() == "stringSlice" {
			values, err := fs.GetStringSlice(f.Name)
			if err != nil {
				flagErr = err
				return
			}
			v.Set(flagKey(f.Name), values)
			return
		}
		v.Set(flagKey(f.Name), f.Value.String())
	})
	if flagErr != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, flagErr)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.LogLevel = LogLevel(strings.ToLower(string(cfg.LogLevel)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every field and returns the first violation.
func (c *Config) Validate() error {
	if !c.LogLevel.IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel,
			invalid("log_level", c.LogLevel, "must be debug, info, warning or error"))
	}

	switch {
	case c.Database == "":
		return invalidConfig("database", c.Database, "must not be empty")
	case c.Listen == "":
		return invalidConfig("listen", c.Listen, "must not be empty")
	case c.ConnectTimeout <= 0:
		return invalidConfig("connect_timeout", c.ConnectTimeout, "must be positive")
	case c.ConnectRetries < 0:
		return invalidConfig("connect_retries", c.ConnectRetries, "must not be negative")
	case c.QueueCapacity < 0:
		return invalidConfig("queue_capacity", c.QueueCapacity, "must not be negative")
	case !c.QueuePolicy.IsValid():
		return invalidConfig("queue_policy", c.QueuePolicy, "must be drop_oldest or drop_newest")
	case len(c.PPGChannels) == 0:
		return invalidConfig("ppg_channels", c.PPGChannels, "must name at least one channel")
	case c.Sim.BatchInterval < 0:
		return invalidConfig("sim.batch_interval", c.Sim.BatchInterval, "must not be negative")
	case c.Sim.BatchSize <= 0:
		return invalidConfig("sim.batch_size", c.Sim.BatchSize, "must be positive")
	case c.Sim.ConnectDelay < 0:
		return invalidConfig("sim.connect_delay", c.Sim.ConnectDelay, "must not be negative")
	}

	for _, ch := range c.PPGChannels {
		switch ch {
		case "green", "red", "ir":
		default:
			return invalidConfig("ppg_channels", ch, "unknown channel")
		}
	}

	switch c.Sim.FailConnect {
	case "", "permission", "policy", "transport":
	default:
		return invalidConfig("sim.fail_connect", c.Sim.FailConnect, "must be permission, policy or transport")
	}

	return nil
}

type validationError struct {
	field  string
	value  interface{}
	reason string
}

func invalid(field string, value interface{}, reason string) *validationError {
	return &validationError{field: field, value: value, reason: reason}
}

func invalidConfig(field string, value interface{}, reason string) error {
	return errFactory.WithData(errors.ErrInvalidConfig, invalid(field, value, reason))
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s=%v: %s", e.field, e.value, e.reason)
}

func (e *validationError) Field() string      { return e.field }
func (e *validationError) Value() interface{} { return e.value }
func (e *validationError) Reason() string     { return e.reason }
