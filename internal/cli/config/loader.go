package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	intconfig "github.com/leapstack-labs/querydeck/internal/config"
	"github.com/leapstack-labs/querydeck/internal/pool"
	"github.com/leapstack-labs/querydeck/internal/server"
	"github.com/leapstack-labs/querydeck/internal/translate"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read into the config.
const EnvPrefix = "QUERYDECK_"

// loggerKey is used to store the logger in the command context.
type loggerKey struct{}

// envSections are the nested config sections reachable with a single
// underscore, so QUERYDECK_LLM_API_KEY maps to llm.api_key.
var envSections = []string{"llm", "pool", "server"}

// flagKeys maps CLI flags onto config keys. Flags not listed here are
// command options and never reach the config.
var flagKeys = map[string]string{
	"state":   "state_path",
	"port":    "port",
	"verbose": "verbose",
	"output":  "output",
}

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config
)

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

func defaults() map[string]any {
	return map[string]any{
		"state_path":             intconfig.DefaultStatePath,
		"port":                   intconfig.DefaultPort,
		"verbose":                false,
		"output":                 intconfig.DefaultOutput,
		"llm.api_key":            "",
		"llm.api_url":            translate.DefaultAPIURL,
		"llm.model":              translate.DefaultModel,
		"llm.temperature":        translate.DefaultTemperature,
		"llm.timeout":            translate.DefaultTimeout,
		"pool.max_conns":         pool.DefaultMaxConns,
		"pool.acquire_timeout":   pool.DefaultAcquireTimeout,
		"pool.idle_timeout":      pool.DefaultIdleTimeout,
		"pool.max_lifetime":      pool.DefaultMaxLifetime,
		"pool.connect_timeout":   pool.DefaultConnectTimeout,
		"pool.probe_timeout":     pool.DefaultProbeTimeout,
		"server.rate_limit":      float64(server.DefaultRateLimit),
		"server.rate_burst":      server.DefaultRateBurst,
		"server.allowed_origins": []string{"*"},
		"server.trust_proxy":     false,
	}
}

// envKey transforms QUERYDECK_POOL_MAX_CONNS into pool.max_conns.
// A double underscore always separates nesting levels.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if strings.Contains(key, ".") {
		return key
	}
	for _, section := range envSections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// LoadConfig loads configuration from defaults, the config file, a .env file,
// environment variables and flags.
// Precedence (highest to lowest): flags > env vars > .env > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Load config file: explicit path or querydeck.yaml in the working directory
	configFileUsed = cfgFile
	if configFileUsed == "" {
		if cwd, err := os.Getwd(); err == nil {
			configFileUsed = intconfig.FindConfigFile(cwd)
		}
	}
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Populate the process environment from .env without overriding it
	_ = godotenv.Load()

	// 4. Load environment variables (QUERYDECK_ prefix)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 5. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 6. Unmarshal into Config struct
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	statePath, err := intconfig.ExpandHome(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	cfg.StatePath = statePath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	currentConfig = &cfg
	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
// This is available after LoadConfig is called.
func GetCurrentConfig() *Config {
	return currentConfig
}

// NewLogger builds the CLI logger: text on w, debug level when verbose.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// WithLogger stores the logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}
