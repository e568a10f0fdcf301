package realtime

import (
	"context"
	"encoding/json"

	"quantflow/cache"
	"quantflow/pipeline"
)

// Relay consumes execution status events from the Redis event channel
// and rebroadcasts them to connected SSE and WebSocket clients, then to
// any extra sinks (webhook delivery, metrics). It runs until the context
// is canceled. A nil Redis client makes it a no-op so the API still
// serves with caching disabled.
func (b *Broker) Relay(ctx context.Context, redis *cache.RedisClient, sinks ...func(pipeline.StatusEvent)) {
	sub := redis.Subscribe(ctx, pipeline.EventChannel)
	if sub == nil {
		b.log.Warn().Msg("redis unavailable, realtime relay disabled")
		return
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event pipeline.StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.Warn().Err(err).Msg("malformed status event dropped")
				continue
			}
			b.Broadcast(event.ExecutionID, "execution_status", event)
			for _, sink := range sinks {
				sink(event)
			}
		}
	}
}
