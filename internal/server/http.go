// Package server assembles the HTTP transport.
package server

import (
	"RouteLane/internal/conf"
	"RouteLane/internal/metrics"
	"RouteLane/internal/server/middleware"
	"RouteLane/internal/service"
	pkglog "RouteLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(
	c *conf.Server,
	gw *conf.Gateway,
	gateway *service.GatewayService,
	admin *service.AdminService,
	m *metrics.Metrics,
	logger log.Logger,
) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var apiKeys []string
	if gw != nil {
		apiKeys = gw.ApiKeys
	}

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		// Proxy routes stream raw bodies, so auth and access logging run as
		// net/http filters rather than Kratos middleware.
		http.Filter(
			middleware.Logging(logHelper),
			middleware.Auth(apiKeys, logHelper),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	// OpenAI-compatible proxy surface.
	srv.HandleFunc("/v1/chat/completions", gateway.ChatCompletions)
	srv.HandleFunc("/v1/completions", gateway.Completions)
	srv.HandleFunc("/v1/embeddings", gateway.Embeddings)
	srv.HandleFunc("/v1/models", gateway.Models)

	// Operational surface.
	srv.HandleFunc("/admin/providers", admin.Providers)
	srv.HandleFunc("/admin/providers/sync", admin.SyncProviders)
	srv.HandleFunc("/healthz", admin.Healthz)
	srv.Handle("/metrics", m.Handler())

	return srv
}
