// Package events publishes movement notifications to Redis for the
// out-of-band worker (email, cache refresh). Publishing is
// best-effort: a Redis outage never fails a committed movement.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const Channel = "assets:movements"

type Event struct {
	Action  string    `json:"action"`
	AssetID int64     `json:"asset_id"`
	Barcode string    `json:"barcode"`
	Asset   string    `json:"asset"`
	Actor   string    `json:"actor"`
	At      time.Time `json:"at"`
}

type Publisher struct {
	redis *redis.Client
}

func NewPublisher(redisClient *redis.Client) *Publisher {
	return &Publisher{redis: redisClient}
}

func (p *Publisher) Publish(ctx context.Context, evt Event) {
	if p == nil || p.redis == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("events: marshal failed: %v", err)
		return
	}
	if err := p.redis.Publish(ctx, Channel, payload).Err(); err != nil {
		log.Printf("events: publish failed: %v", err)
	}
}

// Subscribe delivers decoded events to fn until ctx is cancelled.
func Subscribe(ctx context.Context, redisClient *redis.Client, fn func(Event)) error {
	sub := redisClient.Subscribe(ctx, Channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.Printf("events: bad payload: %v", err)
				continue
			}
			fn(evt)
		}
	}
}
