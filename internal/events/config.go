package events

import (
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Backends.
const (
	BackendLog      = "log"
	BackendKafka    = "kafka"
	BackendRabbitMQ = "rabbitmq"
)

// Config selects and configures the event backend.
type Config struct {
	Backend  string        `default:"log" usage:"Event backend: log, kafka or rabbitmq"`
	Workers  int           `default:"8" usage:"Maximum concurrent publishes"`
	Timeout  time.Duration `default:"5s" usage:"Publish timeout"`
	Kafka    KafkaConfig
	RabbitMQ RabbitMQConfig
}

// NewPublisher creates the publisher for cfg.Backend.
func NewPublisher(cfg Config, lg *zap.Logger) (Publisher, error) {
	switch cfg.Backend {
	case "", BackendLog:
		return NewLogPublisher(lg), nil
	case BackendKafka:
		return NewKafkaPublisher(cfg.Kafka, lg)
	case BackendRabbitMQ:
		return NewRabbitMQPublisher(cfg.RabbitMQ, lg)
	default:
		return nil, errors.Errorf("unknown event backend %q", cfg.Backend)
	}
}
