// Copyright (c) 2025 La Comanda Ops
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/la-comanda/internal/notify"
)

// ChannelFor returns the Pub/Sub channel carrying one tenant's kitchen
// order changes.
func ChannelFor(tenantID string) string {
	return fmt.Sprintf("restaurantes:%s:pedidosCocina", tenantID)
}

// RedisChangeSource implements notify.ChangeSource over Redis Pub/Sub.
// The order service publishes a change document on every order write;
// each watcher holds one subscription on its tenant's channel.
type RedisChangeSource struct {
	client *redis.Client
}

// NewRedisChangeSource creates a change source on an existing client.
func NewRedisChangeSource(client *redis.Client) *RedisChangeSource {
	return &RedisChangeSource{client: client}
}

// Subscribe opens the tenant's change channel. The returned stream
// closes when ctx is cancelled or the Pub/Sub connection is lost for
// good. Malformed change documents surface as batches with Err set, so
// connected displays learn the feed hiccuped.
func (s *RedisChangeSource) Subscribe(ctx context.Context, tenantID string) (<-chan notify.ChangeBatch, error) {
	pubsub := s.client.Subscribe(ctx, ChannelFor(tenantID))

	// Confirm the subscription before handing out the stream.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to change feed for tenant %s: %w", tenantID, err)
	}

	out := make(chan notify.ChangeBatch, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					log.Printf("Change feed channel closed for tenant %s", tenantID)
					return
				}

				var change notify.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					log.Printf("Malformed change document on %s: %v", msg.Channel, err)
					s.deliver(ctx, out, notify.ChangeBatch{Err: fmt.Errorf("malformed change document: %w", err)})
					continue
				}

				s.deliver(ctx, out, notify.ChangeBatch{Changes: []notify.Change{change}})
			}
		}
	}()

	return out, nil
}

func (s *RedisChangeSource) deliver(ctx context.Context, out chan<- notify.ChangeBatch, batch notify.ChangeBatch) {
	select {
	case out <- batch:
	case <-ctx.Done():
	}
}

// Publisher broadcasts order document changes onto tenant change feed
// channels. The order store calls it on every write; losing a publish
// only delays a notification, the order list read path stays truthful.
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a publisher on an existing client.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishChange broadcasts one change document for a tenant.
func (p *Publisher) PublishChange(ctx context.Context, tenantID string, change notify.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change document: %w", err)
	}
	if err := p.client.Publish(ctx, ChannelFor(tenantID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish change for tenant %s: %w", tenantID, err)
	}
	return nil
}
