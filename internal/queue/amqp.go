package queue

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

const dispatchQueueName = "dispatch_jobs"

// AMQPQueue publishes dispatch jobs to RabbitMQ and consumes them in the
// worker process.
type AMQPQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *logrus.Logger
}

func NewAMQPQueue(url string, logger *logrus.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	_, err = ch.QueueDeclare(
		dispatchQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPQueue{conn: conn, channel: ch, logger: logger}, nil
}

func (q *AMQPQueue) PublishDispatch(job DispatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.channel.Publish(
		"",
		dispatchQueueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Consume delivers jobs to the handler until the context is cancelled. A
// failing job is requeued once; a redelivered failure is acked and dropped
// so a poison message cannot spin the worker.
func (q *AMQPQueue) Consume(ctx context.Context, handler func(DispatchJob) error) error {
	msgs, err := q.channel.Consume(
		dispatchQueueName,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			var job DispatchJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				q.logger.WithError(err).Warn("invalid dispatch job payload, dropping")
				d.Ack(false)
				continue
			}

			if err := handler(job); err != nil {
				if d.Redelivered {
					q.logger.WithError(err).WithField("batch_id", job.BatchID).
						Error("dispatch job failed twice, dropping")
					d.Ack(false)
				} else {
					q.logger.WithError(err).WithField("batch_id", job.BatchID).
						Warn("dispatch job failed, requeueing")
					d.Nack(false, true)
				}
				continue
			}

			d.Ack(false)
		}
	}
}

func (q *AMQPQueue) Close() {
	q.channel.Close()
	q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
