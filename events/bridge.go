// Bridge support for multi-process deployments: a ChangeEvent raised on one
// host can be published to JetStream and redelivered into another host's
// Emitter, so the rule engine sees the same cascade regardless of which
// process owns the write.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"

	"rulegraph/ast"
)

// Bridge publishes ChangeEvents to a JetStream stream and redelivers
// incoming messages to a local Emitter.
type Bridge struct {
	js      jetstream.JetStream
	stream  string
	subject string
	emitter *Emitter
}

// NewBridge creates the JetStream context and ensures the stream exists.
func NewBridge(ctx context.Context, nc *nats.Conn, stream, subject string, emitter *Emitter) (*Bridge, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, errors.Wrap(err, "creating jetstream context")
	}
	b := &Bridge{js: js, stream: stream, subject: subject, emitter: emitter}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	}); err != nil {
		return nil, errors.Wrapf(err, "ensuring stream %s", stream)
	}
	return b, nil
}

// Publish marshals change and publishes it to the bridge's subject.
func (b *Bridge) Publish(ctx context.Context, change ast.ChangeEvent) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return errors.Wrap(err, "marshaling change event")
	}
	if _, err := b.js.Publish(ctx, b.subject, payload); err != nil {
		return errors.Wrapf(err, "publishing to %s", b.subject)
	}
	return nil
}

// Deliver implements Subscriber, so a Bridge can itself be subscribed to a
// local Emitter in order to forward locally-raised events outward.
func (b *Bridge) Deliver(ctx context.Context, change ast.ChangeEvent) {
	if err := b.Publish(ctx, change); err != nil {
		return
	}
}

// StartConsumer creates a durable pull consumer and redelivers every message
// it receives to the bridge's local emitter, acking only on success so a
// panic or error leaves the message for redelivery.
func (b *Bridge) StartConsumer(ctx context.Context, consumerName string) error {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		FilterSubject: b.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
	})
	if err != nil {
		return errors.Wrapf(err, "creating consumer %s", consumerName)
	}

	msgs, err := consumer.Messages()
	if err != nil {
		return errors.Wrap(err, "starting message iterator")
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			msg, err := msgs.Next()
			if err != nil {
				continue
			}
			var change ast.ChangeEvent
			if err := json.Unmarshal(msg.Data(), &change); err != nil {
				msg.Nak()
				continue
			}
			b.emitter.Emit(ctx, change)
			msg.Ack()
		}
	}()
	return nil
}

// Close shuts down the underlying NATS connection.
func (b *Bridge) Close(nc *nats.Conn) {
	nc.Close()
}
