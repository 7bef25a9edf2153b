package natsstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

// consumerManager manages the per-(class, level) pull consumers and tracks
// in-flight messages so a later Ack/Nack can settle the right one.
type consumerManager struct {
	js        jetstream.JetStream
	consumers sync.Map // map[string]jetstream.Consumer, keyed by consumer name
	inflight  sync.Map // map[string]jetstream.Msg, keyed by job ID
}

func newConsumerManager(js jetstream.JetStream) *consumerManager {
	return &consumerManager{js: js}
}

func (cm *consumerManager) consumer(ctx context.Context, class core.QueueClass, level int) (jetstream.Consumer, error) {
	name := ConsumerName(class, level)
	if c, ok := cm.consumers.Load(name); ok {
		return c.(jetstream.Consumer), nil
	}

	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       name,
		FilterSubject: QueueSubject(class, level),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       60 * time.Second,
		MaxDeliver:    1, // retries are driven through the KV retry index
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer %s: %w", name, err)
	}

	cm.consumers.Store(name, consumer)
	return consumer, nil
}

// fetch pulls up to count job IDs from one level's consumer. A fetch timeout
// with no messages is not an error.
func (cm *consumerManager) fetch(ctx context.Context, class core.QueueClass, level, count int) ([]string, error) {
	consumer, err := cm.consumer(ctx, class, level)
	if err != nil {
		return nil, err
	}

	msgs, err := consumer.Fetch(count, jetstream.FetchMaxWait(100*time.Millisecond))
	if err != nil {
		return nil, nil
	}

	var jobIDs []string
	for msg := range msgs.Messages() {
		jobID := string(msg.Data())
		if jobID == "" {
			msg.Ack()
			continue
		}
		cm.inflight.Store(jobID, msg)
		jobIDs = append(jobIDs, jobID)
	}
	return jobIDs, nil
}

// ack settles the JetStream message for a job. An untracked job ID is fine:
// the message was already settled or belonged to a previous process.
func (cm *consumerManager) ack(jobID string) error {
	v, ok := cm.inflight.LoadAndDelete(jobID)
	if !ok {
		return nil
	}
	msg := v.(jetstream.Msg)
	return msg.Ack()
}

// inProgress extends the ack wait of an in-flight message.
func (cm *consumerManager) inProgress(jobID string) error {
	v, ok := cm.inflight.Load(jobID)
	if !ok {
		return fmt.Errorf("no in-flight message for job %s", jobID)
	}
	msg := v.(jetstream.Msg)
	return msg.InProgress()
}
