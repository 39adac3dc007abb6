package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// DefaultEventsQueue - очередь доменных событий по умолчанию.
	DefaultEventsQueue = "story_events"
	appID              = "rpg-novel-server"
	publishAttempts    = 3
	publishTimeout     = 10 * time.Second
)

// amqpChannel - часть *amqp.Channel, нужная паблишеру.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher публикует доменные события в durable-очередь.
type RabbitMQPublisher struct {
	channel   amqpChannel
	queueName string
	backoff   time.Duration
	logger    *zap.Logger
}

var _ interfaces.EventPublisher = (*RabbitMQPublisher)(nil)

// NewRabbitMQPublisher открывает канал и объявляет очередь событий.
func NewRabbitMQPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("event publisher: не удалось открыть канал: %w", err)
	}
	p, err := newPublisher(ch, queueName, logger)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(ch amqpChannel, queueName string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if queueName == "" {
		queueName = DefaultEventsQueue
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("event publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	log := logger.Named("EventPublisher")
	log.Info("Очередь событий объявлена", zap.String("queue", queueName))
	return &RabbitMQPublisher{
		channel:   ch,
		queueName: queueName,
		backoff:   100 * time.Millisecond,
		logger:    log,
	}, nil
}

func (p *RabbitMQPublisher) PublishEvent(ctx context.Context, event models.DomainEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события %s: %w", event.Type, err)
	}
	if err := p.publishMessage(ctx, event.Type, body); err != nil {
		p.logger.Warn("Ошибка публикации события",
			zap.String("type", event.Type),
			zap.String("userID", event.UserID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// publishMessage публикует сообщение с повторами.
func (p *RabbitMQPublisher) publishMessage(ctx context.Context, eventType string, body []byte) error {
	if p.channel == nil {
		return errors.New("канал RabbitMQ не инициализирован")
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange по умолчанию
			p.queueName, // routing key = имя очереди
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Type:         eventType,
				Timestamp:    time.Now(),
				AppId:        appID,
			},
		)
		if err == nil {
			p.logger.Debug("Событие опубликовано", zap.String("type", eventType), zap.Int("attempt", attempt))
			return nil
		}
		p.logger.Debug("Ошибка публикации, повтор", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("публикация в очередь %s прервана: %w", p.queueName, ctx.Err())
		case <-time.After(time.Duration(attempt) * p.backoff):
		}
	}
	return fmt.Errorf("ошибка публикации в очередь %s после повторов: %w", p.queueName, err)
}

// Close закрывает канал.
func (p *RabbitMQPublisher) Close() error {
	if p.channel == nil {
		return nil
	}
	return p.channel.Close()
}

// Connect подключается к RabbitMQ с несколькими попытками.
func Connect(url string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", maxRetries, err)
}
