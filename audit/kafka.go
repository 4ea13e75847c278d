package audit

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink produces Avro encoded events to a topic, keyed by deployment.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects a producer to brokers. Extra client options are
// appended after the defaults.
func NewKafkaSink(brokers []string, topic string, opts ...kgo.Opt) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("audit: kafka sink needs at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("audit: kafka sink needs a topic")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("polyguard-audit"),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("audit: kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

// Publish implements Sink. It waits for the broker acknowledgement.
func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	rec, err := Record(s.topic, ev)
	if err != nil {
		return err
	}
	if err := s.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("audit: produce %s: %w", ev.ID, err)
	}
	return nil
}

// Ping checks broker connectivity. It matches health.Check.
func (s *KafkaSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close closes the client.
func (s *KafkaSink) Close() {
	s.client.Close()
}

// Record builds the Kafka record for ev.
func Record(topic string, ev Event) (*kgo.Record, error) {
	value, err := Encode(ev)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(ev.Deployment),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "content-type", Value: []byte("avro/binary")},
			{Key: "schema", Value: []byte("polyguard.audit.DeniedResolution")},
			{Key: "event-id", Value: []byte(ev.ID)},
		},
	}, nil
}
