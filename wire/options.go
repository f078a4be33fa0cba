package wire

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a Server.
type Option func(*Server)

// WithAuthenticator sets the authenticator for incoming connections.
func WithAuthenticator(auth Authenticator) Option {
	return func(s *Server) { s.auth = auth }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBasePath sets the WebSocket endpoint path. Default "/wire".
func WithBasePath(path string) Option {
	return func(s *Server) { s.basePath = path }
}

// WithDefaultCodec sets the codec used before format negotiation.
func WithDefaultCodec(codec Codec) Option {
	return func(s *Server) { s.defaultCodec = codec }
}

// WithRateLimit sets the per-connection inbound frame rate limit.
// Zero limit disables throttling.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) {
		s.rateLimit = limit
		s.rateBurst = burst
	}
}

// WithSendTimeout bounds assignment and stop deliveries to agents.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Server) { s.sendTimeout = d }
}
