package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// Broadcast publishes payload to every relay instance listening on channel.
func (c *Client) Broadcast(ctx context.Context, channel string, payload []byte) error {
	return c.Publish(ctx, channel, payload).Err()
}

// Listen streams payloads published on channel until ctx is cancelled, then
// closes the returned channel.
func (c *Client) Listen(ctx context.Context, channel string) <-chan string {
	pubsub := c.Subscribe(ctx, channel)
	out := make(chan string, 64)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// VisitorChannel carries widget events for one visitor of one site.
func VisitorChannel(siteID, visitorID string) string {
	return fmt.Sprintf("visitor:%s:%s", siteID, visitorID)
}
