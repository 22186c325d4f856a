// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration structure for the RouteLane service.
type Bootstrap struct {
	Server  *Server
	Data    *Data
	Gateway *Gateway
	Router  *Router
	Log     *Log
}

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration (MySQL and Redis).
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds database connection configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds Redis connection configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Gateway holds the gateway-facing configuration: inbound API keys,
// credential encryption and the upstream HTTP client settings.
type Gateway struct {
	ApiKeys    []string
	Encryption *Gateway_Encryption
	Upstream   *Gateway_Upstream
}

// Gateway_Encryption holds the key used to decrypt provider credentials at rest.
type Gateway_Encryption struct {
	Key string
}

// Gateway_Upstream holds the upstream HTTP client configuration.
type Gateway_Upstream struct {
	Timeout  *durationpb.Duration
	ProxyUrl string
}

// Router holds the adaptive routing and circuit breaker tunables.
//
// With BreakerEnabled false (the default) selection degrades to plain
// static-weight selection and outcome reports do not affect routing.
type Router struct {
	BreakerEnabled     bool
	FailureThreshold   int32
	RateLimitThreshold int32
	BaseOpenDuration   *durationpb.Duration
	MaxOpenDuration    *durationpb.Duration
	HalfOpenFactor     float64
	RecoveryRampWindow *durationpb.Duration
	DefaultCooldown    *durationpb.Duration
	ClosedDecayWindow  *durationpb.Duration
	SyncInterval       *durationpb.Duration
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
