package app

import (
	"context"

	"grouper-dispatcher/internal/brokers"
	"grouper-dispatcher/internal/common/errors"
	"grouper-dispatcher/internal/common/logging"
	"grouper-dispatcher/internal/common/validation"
	"grouper-dispatcher/internal/envelope"
)

// Publish sends one envelope to queue in its own transaction, keyed by the
// envelope's group the way the change-log producer keys it.
func Publish(ctx context.Context, factory brokers.Factory, queue string, env *envelope.ChangeEnvelope, format envelope.Format) error {
	if err := validation.ValidateVar(queue, "queue_name"); err != nil {
		return err
	}
	op, ok := envelope.LookupOperation(env.Operation)
	if !ok {
		return errors.ValidationError("unknown operation " + env.Operation)
	}
	env.Operation = string(op)
	if env.Name == "" {
		return errors.ValidationError("a group or stem name is required")
	}

	body, contentType, err := envelope.Encode(env, format)
	if err != nil {
		return err
	}

	conn, err := factory(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	session, err := conn.CreateSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	producer, err := session.CreateProducer(queue)
	if err != nil {
		return err
	}
	defer producer.Close()

	msg := &brokers.Message{
		GroupID:     env.GroupKey(),
		ContentType: contentType,
		Body:        body,
	}
	if err := producer.Send(ctx, msg); err != nil {
		return errors.TransportError("failed to send to "+queue, err)
	}
	if err := session.Commit(); err != nil {
		return errors.TransportError("failed to commit", err)
	}

	logging.Info("Envelope published",
		logging.String("queue", queue),
		logging.String("group", env.GroupKey()),
		logging.String("operation", env.Operation),
		logging.String("format", string(format)),
	)
	return nil
}
