// Package notification publishes order lifecycle events to RabbitMQ. Each
// event goes to a topic exchange under a per-kind routing key, so downstream
// consumers (mail, SMS, analytics) can bind to exactly the kinds they handle.
package notification

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/telshop/storefront/internal/domain/notify"
)

const (
	exchangeName = "order.events"
	queueName    = "order.events.q"
	bindingKey   = "order.#"
)

var _ notify.Dispatcher = (*AMQPDispatcher)(nil)

// AMQPDispatcher implements notify.Dispatcher on top of an AMQP channel.
type AMQPDispatcher struct {
	ch *amqp.Channel
}

// NewAMQPDispatcher declares the topic exchange, the catch-all queue, and its
// binding, and enables publisher confirms.
func NewAMQPDispatcher(ch *amqp.Channel) (*AMQPDispatcher, error) {
	if err := ch.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, errors.Wrap(err, "declare exchange")
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, errors.Wrap(err, "declare queue")
	}

	if err := ch.QueueBind(q.Name, bindingKey, exchangeName, false, nil); err != nil {
		return nil, errors.Wrap(err, "bind queue")
	}

	if err := ch.Confirm(false); err != nil {
		return nil, errors.Wrap(err, "enable confirm mode")
	}

	return &AMQPDispatcher{ch: ch}, nil
}

// Notify publishes the event under the routing key "order.<kind>" as a
// persistent JSON message.
func (d *AMQPDispatcher) Notify(ctx context.Context, ev notify.Event) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("kind", func(e *jx.Encoder) { e.Str(string(ev.Kind)) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(ev.OrderID) })
		e.Field("order_number", func(e *jx.Encoder) { e.Str(ev.OrderNumber) })
		e.Field("account_id", func(e *jx.Encoder) { e.Str(ev.AccountID) })
		e.Field("old_status", func(e *jx.Encoder) { e.Str(ev.OldStatus) })
		e.Field("new_status", func(e *jx.Encoder) { e.Str(ev.NewStatus) })
		e.Field("total_amount", func(e *jx.Encoder) { e.Str(ev.TotalAmount.String()) })
	})

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         e.Bytes(),
	}

	err := d.ch.PublishWithContext(ctx, exchangeName, "order."+string(ev.Kind), false, false, pub)
	if err != nil {
		return errors.Wrap(err, "publish")
	}
	return nil
}
