package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"relay/internal/broker"
	"relay/internal/config"
)

func setupKafka(t *testing.T, ctx context.Context) config.KafkaConfig {
	t.Helper()

	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("test-cluster"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	brokers, err := container.Brokers(ctx)
	if err != nil {
		t.Fatalf("failed to get kafka brokers: %v", err)
	}

	return config.KafkaConfig{
		Brokers: brokers,
		GroupID: "relay-test",
	}
}

func TestKafkaBroker_PublishConsumeRoundtrip(t *testing.T) {
	requireIntegration(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := setupKafka(t, ctx)

	producer := broker.NewKafkaProducer(cfg, createTestLogger())
	t.Cleanup(func() {
		producer.Close()
	})

	consumer := broker.NewKafkaConsumer(cfg, createTestLogger())
	consumer.SetServiceName("broker-test")
	t.Cleanup(func() {
		consumer.Close()
	})

	received := make(chan []byte, 1)
	go consumer.Consume(ctx, "dispatch_events", func(_ context.Context, raw []byte) error {
		select {
		case received <- raw:
		default:
		}
		return nil
	})

	payload := []byte(`{"messageId":"msg-1","pipelineName":"pl_a"}`)

	// Publishing retries until the consumer group has the topic assigned.
	require.Eventually(t, func() bool {
		return producer.Publish(ctx, "dispatch_events", "msg-1", payload) == nil
	}, 30*time.Second, time.Second)

	select {
	case raw := <-received:
		assert.JSONEq(t, string(payload), string(raw))
	case <-time.After(60 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}
}
