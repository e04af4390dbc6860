package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kirinyoku/dinetrack/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ChangeFeed carries channel events over Redis pub/sub so every service
// instance's local hub observes every publish. One Redis channel per
// logical channel keeps unrelated tables and orders independent; Redis
// preserves per-channel delivery order for a given subscriber.
type ChangeFeed struct {
	rdb *redis.Client
}

func NewChangeFeed(rdb *redis.Client) *ChangeFeed {
	return &ChangeFeed{rdb: rdb}
}

func (f *ChangeFeed) Publish(ctx context.Context, channel string, ev domain.Event) error {
	if ev.TsUnix == 0 {
		ev.TsUnix = time.Now().Unix()
	}

	b, _ := json.Marshal(ev)

	return f.rdb.Publish(ctx, channelKey(channel), b).Err()
}

// Run subscribes to every feed channel and invokes handler for each
// message until ctx is cancelled. Malformed payloads are skipped.
func (f *ChangeFeed) Run(
	ctx context.Context,
	handler func(ctx context.Context, channel string, ev domain.Event),
) error {
	sub := f.rdb.PSubscribe(ctx, channelPattern())
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil && ev.Type != "" {
				handler(ctx, channelFromKey(m.Channel), ev)
			}
		}
	}
}
