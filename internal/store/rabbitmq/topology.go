package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology is the intake queue layout. The publisher and the worker must
// declare the exact same arguments: AMQP rejects a redeclare with
// inequivalent arguments as a channel error, so both binaries go through
// this one definition.
type Topology struct {
	Main  string
	Retry string
	DLQ   string
}

func NewTopology(queue string) Topology {
	return Topology{
		Main:  queue,
		Retry: queue + ".retry",
		DLQ:   queue + ".dlq",
	}
}

// MainArgs dead-letters rejected/nacked messages to the DLQ.
func (t Topology) MainArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.DLQ,
	}
}

// RetryArgs routes expired messages back to the main queue.
func (t Topology) RetryArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.Main,
	}
}

// Declare creates the three durable queues on ch.
func (t Topology) Declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(t.Retry, true, false, false, false, t.RetryArgs()); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(t.Main, true, false, false, false, t.MainArgs()); err != nil {
		return err
	}
	return nil
}
