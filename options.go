package hashfleet

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Coordinator.
type Option func(*Coordinator) error

// Storer is the minimal store interface held by the Coordinator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// engineRunner is an internal interface for engine lifecycle.
type engineRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Coordinator is the per-node entry point for cluster coordination. It
// holds the node's configuration, store, and logger, and is handed to
// engine.Build which wires the membership table, election manager,
// scheduler, and aggregator around it.
type Coordinator struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	nodeID     string
	extensions extensionEmitter
	engine     engineRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Coordinator with the given options.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *slog.Logger { return c.logger }

// Store returns the coordinator's store.
func (c *Coordinator) Store() Storer { return c.store }

// Config returns a copy of the coordinator's configuration.
func (c *Coordinator) Config() Config { return c.config }

// NodeID returns the configured node identity, or "" if the engine
// should generate one.
func (c *Coordinator) NodeID() string { return c.nodeID }

// SetEngine sets the engine runner (called by the engine package).
func (c *Coordinator) SetEngine(e engineRunner) { c.engine = e }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Coordinator) SetExtensions(e extensionEmitter) { c.extensions = e }

// Start begins cluster coordination on this node.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.engine == nil {
		return ErrNoStore
	}
	if err := c.engine.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the coordinator.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.engine != nil && c.started {
		if err := c.engine.Stop(ctx); err != nil {
			c.logger.Error("engine stop error", "error", err)
		}
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithStore sets the persistence backend for the coordinator.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Coordinator) error {
		c.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the coordinator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) error {
		c.logger = l
		return nil
	}
}

// WithNodeID pins the node identity instead of generating one. Useful for
// stable identities across restarts and for tests.
func WithNodeID(nodeID string) Option {
	return func(c *Coordinator) error {
		c.nodeID = nodeID
		return nil
	}
}

// WithAddr sets the network address this node advertises to peers.
func WithAddr(addr string) Option {
	return func(c *Coordinator) error {
		c.config.Addr = addr
		return nil
	}
}

// WithQuorumMode selects majority or single-ack election.
func WithQuorumMode(m QuorumMode) Option {
	return func(c *Coordinator) error {
		c.config.QuorumMode = m
		return nil
	}
}

// WithHeartbeatInterval sets how often this node reports liveness.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.HeartbeatInterval = d
		return nil
	}
}

// WithHealthTimeouts sets the suspect and dead thresholds. suspect must be
// shorter than dead; values are applied as given.
func WithHealthTimeouts(suspect, dead time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.SuspectTimeout = suspect
		c.config.DeadTimeout = dead
		return nil
	}
}

// WithElectionTimeout bounds the randomized election timeout.
func WithElectionTimeout(minTimeout, maxTimeout time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.ElectionTimeoutMin = minTimeout
		c.config.ElectionTimeoutMax = maxTimeout
		return nil
	}
}

// WithTickInterval sets the scheduler cadence on the leader.
func WithTickInterval(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.TickInterval = d
		return nil
	}
}

// WithRetryBudget sets how many times a work unit may be reassigned
// before its job fails.
func WithRetryBudget(n int) Option {
	return func(c *Coordinator) error {
		c.config.RetryBudget = n
		return nil
	}
}
