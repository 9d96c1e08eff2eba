package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// GoChannelBus implements Publisher and Subscriber on top of watermill's
// in-process GoChannel. Messages published to a topic are delivered to all
// current subscribers of that topic in publish order.
type GoChannelBus struct {
	channel *gochannel.GoChannel
	logger  *slog.Logger
}

func NewGoChannelBus(logger *slog.Logger) *GoChannelBus {
	return &GoChannelBus{
		channel: gochannel.NewGoChannel(gochannel.Config{
			// Keep publishers from blocking on a slow subscriber; per-topic
			// order is preserved regardless of the buffer.
			OutputChannelBuffer: 64,
		}, watermill.NewStdLogger(false, false)),
		logger:  logger,
	}
}

func (b *GoChannelBus) Publish(ctx context.Context, msg Message) error {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	if err := b.channel.Publish(msg.Topic, wmMsg); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	return nil
}

func (b *GoChannelBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := b.channel.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("Subscribe: %w", err)
	}

	go func() {
		for wmMsg := range messages {
			msg := Message{Topic: topic, Payload: wmMsg.Payload}
			if err := handler(ctx, msg); err != nil {
				b.logger.Error("handle message",
					slog.String("topic", topic), slog.String("msg.id", wmMsg.UUID),
					slog.String("error", err.Error()))
			}
			// The in-process channel does not redeliver; ack either way.
			wmMsg.Ack()
		}
	}()

	return nil
}

func (b *GoChannelBus) Close() error {
	return b.channel.Close()
}
