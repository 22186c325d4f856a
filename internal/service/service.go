// Package service wires the HTTP-facing handlers of the gateway.
package service

import (
	"RouteLane/internal/conf"
	"RouteLane/pkg/upstream"

	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewUpstreamClient,
	NewGatewayService,
	NewAdminService,
)

// NewUpstreamClient builds the upstream HTTP client from gateway config.
func NewUpstreamClient(c *conf.Gateway) (*upstream.Client, error) {
	var (
		timeout  = upstream.DefaultTimeout
		proxyURL string
	)
	if c != nil && c.Upstream != nil {
		if c.Upstream.Timeout != nil {
			timeout = c.Upstream.Timeout.AsDuration()
		}
		proxyURL = c.Upstream.ProxyUrl
	}
	return upstream.NewClient(timeout, proxyURL)
}
