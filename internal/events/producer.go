// Package events publishes task lifecycle notifications to Kafka so
// downstream tooling (dashboards, alerting) can follow executions
// without polling the run DB. Publishing is best-effort: a broker
// outage is logged and never fails the task that triggered it.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"task-scheduler-service/internal/rundb"
)

const writeTimeout = 10 * time.Second

// Publisher writes lifecycle payloads to one Kafka topic, keyed by task
// name. It satisfies the harness Notifier contract.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher configures a Kafka producer for the given brokers and
// topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: int(kafka.RequireOne),
		Async:        false,
	})
	log.Printf("events: Kafka producer configured for topic %s", topic)
	return &Publisher{writer: writer}
}

func (p *Publisher) TaskStarted(taskName, recordID string) {
	p.publish(taskName, TaskStartedPayload{
		TaskName: taskName,
		RecordID: recordID,
		StartUTC: rundb.NowUTC(),
	})
}

func (p *Publisher) TaskFinished(taskName, recordID string, status rundb.Status, returnValue string) {
	p.publish(taskName, TaskFinishedPayload{
		TaskName:    taskName,
		RecordID:    recordID,
		Status:      string(status),
		ReturnValue: returnValue,
		EndUTC:      rundb.NowUTC(),
	})
}

func (p *Publisher) publish(key string, payload any) {
	value, err := json.Marshal(payload)
	if err != nil {
		log.Printf("events: failed to marshal payload for %s: %v", key, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	msg := kafka.Message{Key: []byte(key), Value: value}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Printf("events: failed to publish event for %s: %v", key, err)
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
