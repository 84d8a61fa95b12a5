package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
)

// Producer mirrors heartbeats and motion notices to Kafka.
type Producer struct {
	producer       sarama.SyncProducer
	clientID       string
	heartbeatTopic string
	eventTopic     string
}

// NewProducer создаёт продюсер с настройками
func NewProducer(brokers []string, clientID, heartbeatTopic, eventTopic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Timeout = 5 * time.Second
	config.Producer.Retry.Max = 0 // доставка не более одного раза

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return newProducer(producer, clientID, heartbeatTopic, eventTopic), nil
}

func newProducer(p sarama.SyncProducer, clientID, heartbeatTopic, eventTopic string) *Producer {
	return &Producer{
		producer:       p,
		clientID:       clientID,
		heartbeatTopic: heartbeatTopic,
		eventTopic:     eventTopic,
	}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

func (p *Producer) Name() string {
	return "kafka"
}

// SendHeartbeat отправляет heartbeat агента в Kafka
func (p *Producer) SendHeartbeat(ctx context.Context) error {
	return p.send(p.heartbeatTopic, models.Heartbeat{ClientID: p.clientID})
}

// Record publishes an image-less notice for a motion event.
func (p *Producer) Record(ctx context.Context, rec models.EventRecord) error {
	return p.send(p.eventTopic, rec.Event.Notice(rec.Delivered()))
}

func (p *Producer) send(topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(p.clientID),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err = p.producer.SendMessage(kafkaMsg); err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	return nil
}
