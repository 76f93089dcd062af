// Package eventbus mirrors widget events onto a watermill pub/sub, in memory
// by default or on a Redis stream.
package eventbus

import (
	"context"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Bus publishes records to one topic.
type Bus struct {
	topic      string
	publisher  message.Publisher
	subscriber message.Subscriber
	closers    []func() error
}

// New builds a Bus backed by Redis Streams when settings.Enabled, and by an
// in-process go channel otherwise. The bus and its watermill components log
// to logger.
func New(s Settings, logger zerolog.Logger) (*Bus, error) {
	topic := strings.TrimSpace(s.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	logger = logger.With().Str("component", "eventbus").Logger()
	adapter := NewZerologAdapter(logger)

	if !s.Enabled {
		logger.Debug().Str("topic", topic).Msg("mirroring events in memory")
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, adapter)
		return &Bus{
			topic:      topic,
			publisher:  ch,
			subscriber: ch,
			closers:    []func() error{ch.Close},
		}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, adapter)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "eventbus: redis publisher")
	}
	logger.Info().Str("addr", s.Addr).Str("topic", topic).Msg("mirroring events to redis")
	return &Bus{
		topic:     topic,
		publisher: pub,
		closers:   []func() error{pub.Close, client.Close},
	}, nil
}

func (b *Bus) Topic() string { return b.topic }

func (b *Bus) Publish(r Record) error {
	if b == nil || b.publisher == nil {
		return nil
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	payload, err := r.Marshal()
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(r.Kind))
	if err := b.publisher.Publish(b.topic, msg); err != nil {
		return errors.Wrapf(err, "eventbus: publish %s", r.Kind)
	}
	return nil
}

// Subscribe returns the records published on the in-memory bus. Redis
// buses are read with a group subscriber instead, see Tail.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Record, error) {
	if b == nil || b.subscriber == nil {
		return nil, errors.New("eventbus: bus has no subscriber")
	}
	msgs, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, errors.Wrap(err, "eventbus: subscribe")
	}
	return decode(ctx, msgs), nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// Tail subscribes to a Redis stream with a consumer group created at the
// stream tail, so only new records are delivered.
func Tail(ctx context.Context, s Settings) (<-chan Record, func() error, error) {
	topic := strings.TrimSpace(s.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	if err := EnsureGroupAtTail(ctx, s.Addr, topic, s.Group); err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, NewZerologAdapter(log.With().Str("component", "eventbus").Logger()))
	if err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "eventbus: redis subscriber")
	}
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		_ = sub.Close()
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "eventbus: subscribe")
	}
	closer := func() error {
		err := sub.Close()
		_ = client.Close()
		return err
	}
	return decode(ctx, msgs), closer, nil
}

func decode(ctx context.Context, msgs <-chan *message.Message) <-chan Record {
	out := make(chan Record, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			r, err := UnmarshalRecord(msg.Payload)
			msg.Ack()
			if err != nil {
				log.Warn().Err(err).Str("component", "eventbus").Msg("dropping undecodable record")
				continue
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// EnsureGroupAtTail creates the consumer group for stream at the tail ($) if
// it does not exist yet.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "eventbus: create group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
