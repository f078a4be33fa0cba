package client

import (
	"log/slog"

	"github.com/hashfleet/hashfleet/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the authentication token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithNodeID binds the connection to a cluster node. Agents set this;
// operator tooling leaves it empty.
func WithNodeID(nodeID string) Option {
	return func(c *Client) { c.nodeID = nodeID }
}

// WithFormat sets the wire format for frame encoding.
// Supported values: "json" (default), "msgpack".
func WithFormat(format string) Option {
	return func(c *Client) { c.format = format }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReconnect enables automatic reconnection with the given retry
// budget and backoff strategy.
func WithReconnect(maxRetries int, strategy backoff.Strategy) Option {
	return func(c *Client) {
		c.reconnect = true
		c.maxRetries = maxRetries
		if strategy != nil {
			c.retryBackoff = strategy
		}
	}
}
