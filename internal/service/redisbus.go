package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
	"github.com/rs/zerolog"
)

// DefaultChannel is the Redis pub/sub channel shared by every replica.
const DefaultChannel = "mapwidget:events"

// RedisBus publishes through Redis so events reach instance streams held by
// other replicas. Received events are fanned out locally.
type RedisBus struct {
	rdb     *redis.Client
	ps      *redis.PubSub
	channel string
	local   *EventBus
	log     *zerolog.Logger
	done    chan struct{}
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus connects to addr and starts relaying channel into the local
// subscribers.
func NewRedisBus(ctx context.Context, addr, channel string, log *zerolog.Logger) (*RedisBus, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ps := rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	b := &RedisBus{
		rdb:     rdb,
		ps:      ps,
		channel: channel,
		local:   NewEventBus(),
		log:     log,
		done:    make(chan struct{}),
	}
	go b.relay()
	return b, nil
}

func (b *RedisBus) relay() {
	defer close(b.done)
	for msg := range b.ps.Channel() {
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed event")
			continue
		}
		_ = b.local.Publish(context.Background(), e)
	}
}

// Publish sends e to every replica, this one included.
func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe() chan Event { return b.local.Subscribe() }

func (b *RedisBus) Unsubscribe(ch chan Event) { b.local.Unsubscribe(ch) }

// Close stops the relay and closes the connection.
func (b *RedisBus) Close() error {
	err := b.ps.Close()
	<-b.done
	return errors.Join(err, b.rdb.Close())
}
