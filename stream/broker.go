package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashfleet/hashfleet/ext"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Broker)(nil)
	_ ext.NodeJoined        = (*Broker)(nil)
	_ ext.NodeHealthChanged = (*Broker)(nil)
	_ ext.NodeDead          = (*Broker)(nil)
	_ ext.NodeEvicted       = (*Broker)(nil)
	_ ext.LeaderChanged     = (*Broker)(nil)
	_ ext.ElectionFailed    = (*Broker)(nil)
	_ ext.UnitAssigned      = (*Broker)(nil)
	_ ext.UnitRequeued      = (*Broker)(nil)
	_ ext.UnitCompleted     = (*Broker)(nil)
	_ ext.JobSubmitted      = (*Broker)(nil)
	_ ext.JobCompleted      = (*Broker)(nil)
	_ ext.JobFailed         = (*Broker)(nil)
	_ ext.JobCancelled      = (*Broker)(nil)
	_ ext.PasswordCracked   = (*Broker)(nil)
	_ ext.Shutdown          = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the
// ext.Extension interface to receive lifecycle events and fans them
// out to subscribers via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use (e.g., the wire
// server's subscribe handler).
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish creates an event and broadcasts it to all matching topics.
func (b *Broker) publish(evt *Event) {
	topics := resolveTopics(evt)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Membership lifecycle hooks ──────────────────────

func (b *Broker) OnNodeJoined(_ context.Context, n *membership.Node) error {
	b.publish(&Event{
		Type:      EventNodeJoined,
		Timestamp: time.Now().UTC(),
		Topic:     NodeTopic(n.ID.String()),
		Data: mustMarshal(NodeEventData{
			NodeID:   n.ID.String(),
			Addr:     n.Addr,
			Hostname: n.Hostname,
		}),
	})
	return nil
}

func (b *Broker) OnNodeHealthChanged(_ context.Context, n *membership.Node, from, to membership.Health) error {
	b.publish(&Event{
		Type:      EventNodeHealthChanged,
		Timestamp: time.Now().UTC(),
		Topic:     NodeTopic(n.ID.String()),
		Data: mustMarshal(NodeEventData{
			NodeID: n.ID.String(),
			Addr:   n.Addr,
			From:   string(from),
			To:     string(to),
		}),
	})
	return nil
}

func (b *Broker) OnNodeDead(_ context.Context, n *membership.Node) error {
	b.publish(&Event{
		Type:      EventNodeDead,
		Timestamp: time.Now().UTC(),
		Topic:     NodeTopic(n.ID.String()),
		Data: mustMarshal(NodeEventData{
			NodeID:   n.ID.String(),
			Addr:     n.Addr,
			Hostname: n.Hostname,
		}),
	})
	return nil
}

func (b *Broker) OnNodeEvicted(_ context.Context, n *membership.Node) error {
	b.publish(&Event{
		Type:      EventNodeEvicted,
		Timestamp: time.Now().UTC(),
		Topic:     NodeTopic(n.ID.String()),
		Data: mustMarshal(NodeEventData{
			NodeID:   n.ID.String(),
			Hostname: n.Hostname,
		}),
	})
	return nil
}

// ── Election lifecycle hooks ────────────────────────

func (b *Broker) OnLeaderChanged(_ context.Context, leader id.NodeID, term uint64) error {
	b.publish(&Event{
		Type:      EventLeaderChanged,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(LeaderEventData{
			LeaderID: leader.String(),
			Term:     term,
		}),
	})
	return nil
}

func (b *Broker) OnElectionFailed(_ context.Context, term uint64) error {
	b.publish(&Event{
		Type:      EventElectionFailed,
		Timestamp: time.Now().UTC(),
		Data:      mustMarshal(LeaderEventData{Term: term}),
	})
	return nil
}

// ── Scheduling lifecycle hooks ──────────────────────

func (b *Broker) OnUnitAssigned(_ context.Context, u *job.WorkUnit, nodeID id.NodeID) error {
	b.publish(&Event{
		Type:      EventUnitAssigned,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(u.JobID.String()),
		Data: mustMarshal(UnitEventData{
			UnitID:     u.ID.String(),
			JobID:      u.JobID.String(),
			NodeID:     nodeID.String(),
			RangeStart: u.Range.Start,
			RangeEnd:   u.Range.End,
			Attempts:   u.Attempts,
		}),
	})
	return nil
}

func (b *Broker) OnUnitRequeued(_ context.Context, u *job.WorkUnit, lostNode id.NodeID) error {
	b.publish(&Event{
		Type:      EventUnitRequeued,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(u.JobID.String()),
		Data: mustMarshal(UnitEventData{
			UnitID:     u.ID.String(),
			JobID:      u.JobID.String(),
			NodeID:     lostNode.String(),
			RangeStart: u.Range.Start,
			RangeEnd:   u.Range.End,
			Attempts:   u.Attempts,
		}),
	})
	return nil
}

func (b *Broker) OnUnitCompleted(_ context.Context, u *job.WorkUnit) error {
	b.publish(&Event{
		Type:      EventUnitCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(u.JobID.String()),
		Data: mustMarshal(UnitEventData{
			UnitID:     u.ID.String(),
			JobID:      u.JobID.String(),
			RangeStart: u.Range.Start,
			RangeEnd:   u.Range.End,
			Fraction:   u.Fraction,
		}),
	})
	return nil
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobSubmitted(_ context.Context, j *job.Job) error {
	b.publish(&Event{
		Type:      EventJobSubmitted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(JobEventData{
			JobID:    j.ID.String(),
			JobName:  j.Name,
			HashType: j.HashType,
		}),
	})
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.publish(&Event{
		Type:      EventJobCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(JobEventData{
			JobID:        j.ID.String(),
			JobName:      j.Name,
			HashType:     j.HashType,
			CrackedCount: j.CrackedCount,
			ElapsedMs:    elapsed.Milliseconds(),
		}),
	})
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	b.publish(&Event{
		Type:      EventJobFailed,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(JobEventData{
			JobID:   j.ID.String(),
			JobName: j.Name,
			Error:   jobErr.Error(),
		}),
	})
	return nil
}

func (b *Broker) OnJobCancelled(_ context.Context, j *job.Job) error {
	b.publish(&Event{
		Type:      EventJobCancelled,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(JobEventData{
			JobID:   j.ID.String(),
			JobName: j.Name,
		}),
	})
	return nil
}

func (b *Broker) OnPasswordCracked(_ context.Context, jobID id.JobID, cred job.Credential) error {
	b.publish(&Event{
		Type:      EventPasswordCracked,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(jobID.String()),
		Data: mustMarshal(CrackedEventData{
			JobID:     jobID.String(),
			Hash:      cred.Hash,
			CrackedBy: cred.CrackedBy.String(),
		}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
