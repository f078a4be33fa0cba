package client

import (
	"context"
	"fmt"

	"github.com/hashfleet/hashfleet/stream"
	"github.com/hashfleet/hashfleet/wire"
)

// Subscribe subscribes to a stream topic and returns a channel of
// events. The channel is closed when the client disconnects or
// Unsubscribe is called.
//
// Topics follow the stream convention:
//   - "job:<jobID>"   — events for a specific job
//   - "node:<nodeID>" — events for a specific node
//   - "cluster"       — membership and election events
//   - "jobs"          — all job and unit lifecycle events
//   - "firehose"      — everything
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan *stream.Event, error) {
	_, err := c.request(ctx, wire.MethodSubscribe, wire.SubscribeRequest{
		Channel: channel,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", channel, err)
	}

	ch := make(chan *stream.Event, 64)
	c.subs.Store(channel, ch)

	return ch, nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	_, err := c.request(ctx, wire.MethodUnsubscribe, wire.UnsubscribeRequest{
		Channel: channel,
	})

	// Close and remove the local channel regardless.
	if val, ok := c.subs.LoadAndDelete(channel); ok {
		ch := val.(chan *stream.Event) //nolint:errcheck // subs map always stores chan *stream.Event
		close(ch)
	}

	return err
}

// WatchJob subscribes to events for a specific job. This is a
// convenience method that subscribes to "job:<jobID>".
func (c *Client) WatchJob(ctx context.Context, jobID string) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.JobTopic(jobID))
}

// WatchCluster subscribes to membership and election events.
func (c *Client) WatchCluster(ctx context.Context) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.TopicCluster)
}
