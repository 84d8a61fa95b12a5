package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
)

const retryDelay = 5 * time.Second

// CommandHandler applies one remote command. A returned error leaves the
// message unacknowledged.
type CommandHandler func(ctx context.Context, cmd models.AgentCommand) error

// Consumer оборачивает Sarama ConsumerGroup и читает команды для агента
type Consumer struct {
	group    sarama.ConsumerGroup
	topic    string
	clientID string
	log      *slog.Logger
}

// NewConsumer создаёт и возвращает новый Consumer
func NewConsumer(brokers []string, groupID, topic, clientID string, log *slog.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	// старые команды после перезапуска не нужны
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:    group,
		topic:    topic,
		clientID: clientID,
		log:      log,
	}, nil
}

// Run consumes until ctx is cancelled, rejoining the group after errors.
func (c *Consumer) Run(ctx context.Context, handle CommandHandler) {
	handler := &commandGroupHandler{clientID: c.clientID, handle: handle, log: c.log}

	for {
		if ctx.Err() != nil {
			c.log.Info("command consumer stopped")
			return
		}

		c.log.Debug("command consumer: starting consumption cycle")
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			c.log.Warn("command consume error", "err", err, "retry_in", retryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}
	}
}

// Close останавливает потребитель и освобождает ресурсы
func (c *Consumer) Close() error {
	return c.group.Close()
}

// commandGroupHandler реализует интерфейс sarama.ConsumerGroupHandler
type commandGroupHandler struct {
	clientID string
	handle   CommandHandler
	log      *slog.Logger
}

func (h *commandGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *commandGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *commandGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if h.process(sess.Context(), msg) {
				// Подтверждаем сообщение только после успешной обработки
				sess.MarkMessage(msg, "")
			}
		case <-sess.Context().Done():
			return nil
		}
	}
}

// process returns true when the message should be acknowledged.
func (h *commandGroupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	var cmd models.AgentCommand
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		// битое сообщение не станет валидным при повторе
		h.log.Warn("invalid command message", "err", err, "offset", msg.Offset)
		return true
	}

	if cmd.ClientID != "" && cmd.ClientID != h.clientID {
		return true
	}

	if err := h.handle(ctx, cmd); err != nil {
		h.log.Error("command failed", "action", cmd.Action, "err", err)
		return false
	}
	h.log.Info("command applied", "action", cmd.Action)
	return true
}
