package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with ROUTELANE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or ROUTELANE_DATA_DATABASE_SOURCE: MySQL connection string
//   - ENCRYPTION_KEY or ROUTELANE_GATEWAY_ENCRYPTION_KEY: provider credential encryption key
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with ROUTELANE_ prefix
	v.SetEnvPrefix("ROUTELANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without ROUTELANE_ prefix) for compatibility
	// Bind specific environment variables for required fields
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "ROUTELANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "ROUTELANE_DATA_REDIS_ADDR")
	_ = v.BindEnv("gateway.encryption.key", "ENCRYPTION_KEY", "ROUTELANE_GATEWAY_ENCRYPTION_KEY")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Gateway: &Gateway{
			ApiKeys: v.GetStringSlice("gateway.api_keys"),
			Encryption: &Gateway_Encryption{
				Key: v.GetString("gateway.encryption.key"),
			},
			Upstream: &Gateway_Upstream{
				Timeout:  durationpb.New(v.GetDuration("gateway.upstream.timeout")),
				ProxyUrl: v.GetString("gateway.upstream.proxy_url"),
			},
		},
		Router: &Router{
			BreakerEnabled:     v.GetBool("router.breaker_enabled"),
			FailureThreshold:   v.GetInt32("router.failure_threshold"),
			RateLimitThreshold: v.GetInt32("router.rate_limit_threshold"),
			BaseOpenDuration:   durationpb.New(v.GetDuration("router.base_open_duration")),
			MaxOpenDuration:    durationpb.New(v.GetDuration("router.max_open_duration")),
			HalfOpenFactor:     v.GetFloat64("router.half_open_factor"),
			RecoveryRampWindow: durationpb.New(v.GetDuration("router.recovery_ramp_window")),
			DefaultCooldown:    durationpb.New(v.GetDuration("router.default_cooldown")),
			ClosedDecayWindow:  durationpb.New(v.GetDuration("router.closed_decay_window")),
			SyncInterval:       durationpb.New(v.GetDuration("router.sync_interval")),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 10*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Gateway defaults
	// Note: gateway.encryption.key is required from environment
	v.SetDefault("gateway.upstream.timeout", 5*time.Minute)

	// Router defaults. The breaker ships disabled so a bare deployment behaves
	// exactly like plain weighted selection until it is switched on.
	v.SetDefault("router.breaker_enabled", false)
	v.SetDefault("router.failure_threshold", 5)
	v.SetDefault("router.rate_limit_threshold", 3)
	v.SetDefault("router.base_open_duration", 30*time.Second)
	v.SetDefault("router.max_open_duration", 10*time.Minute)
	v.SetDefault("router.half_open_factor", 0.2)
	v.SetDefault("router.recovery_ramp_window", 60*time.Second)
	v.SetDefault("router.default_cooldown", 60*time.Second)
	v.SetDefault("router.closed_decay_window", 5*time.Minute)
	v.SetDefault("router.sync_interval", 30*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	// Check required gateway configuration
	if bc.Gateway == nil || bc.Gateway.Encryption == nil || bc.Gateway.Encryption.Key == "" {
		missingFields = append(missingFields, "gateway.encryption.key (ENCRYPTION_KEY)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	if bc.Router != nil && (bc.Router.HalfOpenFactor < 0 || bc.Router.HalfOpenFactor > 1) {
		return fmt.Errorf("router.half_open_factor must be within [0, 1], got %v", bc.Router.HalfOpenFactor)
	}

	return nil
}
