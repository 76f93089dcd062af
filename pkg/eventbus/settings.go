package eventbus

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const SectionSlug = "redis"

// Settings holds the Redis Streams mirror configuration.
type Settings struct {
	Enabled  bool   `glazed:"redis-enabled"`
	Addr     string `glazed:"redis-addr"`
	Topic    string `glazed:"redis-topic"`
	Group    string `glazed:"redis-group"`
	Consumer string `glazed:"redis-consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Topic:    DefaultTopic,
		Group:    "chatwidget",
		Consumer: "tail-1",
	}
}

// NewSection returns the section definition for the Redis Streams mirror.
func NewSection() (schema.Section, error) {
	d := DefaultSettings()
	return schema.NewSection(
		SectionSlug,
		"Redis Streams mirror for widget events",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Mirror widget events to a Redis stream")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault(d.Addr),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-topic", fields.TypeString, fields.WithDefault(d.Topic),
				fields.WithHelp("Stream the events are published to")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault(d.Group),
				fields.WithHelp("Consumer group used by tail")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault(d.Consumer),
				fields.WithHelp("Consumer name used by tail")),
		),
	)
}
