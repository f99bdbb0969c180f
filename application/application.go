package application

import (
	"fmt"
	"os"
	"strings"
	"time"

	glog "github.com/lk2023060901/tabletop-garden-go/pkg/log"
	gviper "github.com/lk2023060901/tabletop-garden-go/pkg/util/viper"
)

// Application is the main runtime container for a Garden service.
// It owns configuration and manages common dependencies.
type Application struct {
	cfg     *gviper.Config
	srvCfg  *ServerConfig
	loggers map[string]*glog.MLogger
}

// ServerConfig holds the typed server-level configuration, loaded from the
// "server" key of the config file.
type ServerConfig struct {
	// ListenAddr is the HTTP/WebSocket listen address, e.g. ":8787".
	ListenAddr string `mapstructure:"listen-addr"`

	// RedisAddr is the session store address, e.g. "127.0.0.1:6379".
	RedisAddr string `mapstructure:"redis-addr"`
	// RedisDB is the redis logical database index.
	RedisDB int `mapstructure:"redis-db"`
	// RedisPassword is the optional redis auth password.
	RedisPassword string `mapstructure:"redis-password"`
	// KeyPrefix is prepended to every store key.
	KeyPrefix string `mapstructure:"key-prefix"`

	// StoreOpTimeout bounds a single store round-trip.
	StoreOpTimeout time.Duration `mapstructure:"store-op-timeout"`
	// EmptySessionTTL is how long an empty session survives before the
	// store expires it.
	EmptySessionTTL time.Duration `mapstructure:"empty-session-ttl"`
	// StaleThreshold is how long a member may go without a heartbeat
	// before being reported offline.
	StaleThreshold time.Duration `mapstructure:"stale-threshold"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`

	// DispatchPoolSize is the goroutine pool size for message handling.
	DispatchPoolSize int `mapstructure:"dispatch-pool-size"`
}

// New creates a new Application instance.
func New() *Application {
	return &Application{}
}

// Run is the entry of a Garden application.
// It parses command-line arguments (os.Args) and loads configuration file
// using the following priority:
//  1. Default: ./config.yaml
//  2. Env: GARDEN_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
func (a *Application) Run() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := a.initLogging(); err != nil {
		return err
	}

	srvCfg := defaultServerConfig()
	if err := cfg.UnmarshalKey("server", srvCfg); err != nil {
		return fmt.Errorf("unmarshal server config: %w", err)
	}
	a.srvCfg = srvCfg

	return nil
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *gviper.Config {
	return a.cfg
}

// ServerConfig returns the typed server configuration.
// It is only valid after Run has succeeded.
func (a *Application) ServerConfig() *ServerConfig {
	if a.srvCfg == nil {
		return defaultServerConfig()
	}
	return a.srvCfg
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *glog.MLogger {
	if a.loggers == nil {
		return &glog.MLogger{Logger: glog.L()}
	}
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &glog.MLogger{Logger: glog.L()}
}

func defaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:       ":8787",
		RedisAddr:        "127.0.0.1:6379",
		KeyPrefix:        "garden",
		StoreOpTimeout:   3 * time.Second,
		EmptySessionTTL:  time.Hour,
		StaleThreshold:   60 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		DispatchPoolSize: 256,
	}
}

// loadConfig resolves config file path and loads it via viper wrapper.
func (a *Application) loadConfig() (*gviper.Config, error) {
	configPath := "./config.yaml"

	if envPath := os.Getenv("GARDEN_CONFIG_FILE_PATH"); envPath != "" {
		configPath = envPath
	}

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value after --config")
			}
			configPath = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			val := strings.TrimPrefix(arg, "--config=")
			if val != "" {
				configPath = val
			}
			continue
		}
	}

	cfg := gviper.New()
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file %q: %w", configPath, err)
	}

	return cfg, nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	if err := a.initModuleLoggersFromConfig(); err != nil {
		return err
	}
	return nil
}

// initGlobalLoggerFromEnv configures the process-wide logger based on GARDEN_LOG_* env vars.
//
// Priority:
//   - GARDEN_LOG_ENABLE: "1"/"true" to enable outputs; others treated as disabled.
//   - GARDEN_LOG_LEVEL: log level (default "info").
//   - GARDEN_LOG_STDOUT: whether to log to stdout (default false).
//   - GARDEN_LOG_FILE_DIR: log directory.
//   - GARDEN_LOG_FILE: log file name (empty means no file).
//   - GARDEN_LOG_FORMAT: log format ("text" or "json", default "text").
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("GARDEN_LOG_ENABLE", false)

	cfg := &glog.Config{
		Level:               getenvDefault("GARDEN_LOG_LEVEL", "info"),
		Format:              getenvDefault("GARDEN_LOG_FORMAT", "text"),
		DisableTimestamp:    false,
		Stdout:              getenvBool("GARDEN_LOG_STDOUT", false),
		DisableCaller:       false,
		DisableStacktrace:   false,
		DisableErrorVerbose: true,
		File: glog.FileLogConfig{
			RootPath: getenvDefault("GARDEN_LOG_FILE_DIR", ""),
			Filename: getenvDefault("GARDEN_LOG_FILE", ""),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := glog.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("init global logger from env: %w", err)
	}
	glog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from YAML config under "logging" key.
//
// Example:
//
//	logging:
//	  dispatch:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: dispatch.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil {
		return nil
	}

	// Unmarshal "logging" section into a map[name]Config.
	raw := make(map[string]glog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		// If the key doesn't exist, UnmarshalKey typically leaves raw empty without error.
		// Any real error should be returned.
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*glog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := glog.InitLogger(&cfgCopy)
		if err != nil {
			return fmt.Errorf("init module logger %q: %w", name, err)
		}
		a.loggers[name] = &glog.MLogger{Logger: logger}
	}

	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
