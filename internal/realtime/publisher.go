package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"aural-realtime/internal/protocol"
)

// RedisPublisher sends registry broadcasts through the Redis broadcast
// channel, where RunRedisSubscriber feeds them back into the hub and other
// consumers of the channel can observe them. Sessions live in one registry
// process, so only a single service instance is supported. When Redis
// rejects a broadcast it is delivered to the local hub only.
type RedisPublisher struct {
	rdb   *redis.Client
	local *Hub
}

func NewRedisPublisher(rdb *redis.Client, local *Hub) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, local: local}
}

func (p *RedisPublisher) Publish(ctx context.Context, b protocol.Broadcast) {
	data, err := json.Marshal(b)
	if err != nil {
		log.Printf("realtime: marshal broadcast: %v", err)
		return
	}
	if err := p.rdb.Publish(ctx, BroadcastChannel, string(data)).Err(); err != nil {
		log.Printf("realtime: publish %s: %v", b.Frame.Event, err)
		if p.local != nil {
			p.local.Publish(ctx, b)
		}
	}
}
