package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/event"
)

// PublisherConfig holds outbound-bus destination configuration.
type PublisherConfig struct {
	Brokers      []string
	Topic        string
	Compression  string
	MaxRetries   int
	WriteTimeout time.Duration
}

// PublicEvent is the outbound shape consumed by other platform services.
type PublicEvent struct {
	EventID          string                 `json:"event_id"`
	Tool             string                 `json:"tool"`
	EventType        string                 `json:"event_type"`
	Operation        string                 `json:"operation"`
	MachineID        string                 `json:"machine_id,omitempty"`
	Hostname         string                 `json:"hostname,omitempty"`
	OrganizationID   string                 `json:"organization_id,omitempty"`
	OrganizationName string                 `json:"organization_name,omitempty"`
	Summary          string                 `json:"summary,omitempty"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	OccurredAtMs     int64                  `json:"occurred_at_ms"`
}

// publishJob pairs the encoded public event with its partition key and
// visibility. Invisible events are swallowed at publish time so the durable
// log still records them for audit.
type publishJob struct {
	key     string
	value   []byte
	eventID string
	visible bool
}

// Publisher publishes unified events on the outbound bus, keyed by the
// device identifier so consumers see per-device ordering.
type Publisher struct {
	config   PublisherConfig
	producer sarama.SyncProducer
	logger   *slog.Logger

	published atomic.Uint64
	swallowed atomic.Uint64
	errors    atomic.Uint64
}

// NewPublisher creates the outbound-bus destination.
func NewPublisher(cfg PublisherConfig, logger *slog.Logger) (*Publisher, error) {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = cfg.MaxRetries
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Timeout = cfg.WriteTimeout
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	switch cfg.Compression {
	case "gzip":
		saramaCfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaCfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaCfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaCfg.Producer.Compression = sarama.CompressionZSTD
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create outbound producer: %w", err)
	}

	return &Publisher{
		config:   cfg,
		producer: producer,
		logger:   logger.With("component", "outbound-publisher"),
	}, nil
}

// Name returns the destination name.
func (p *Publisher) Name() string { return "outbound-bus" }

// Transform projects a unified event into its public shape.
func (p *Publisher) Transform(ev *event.UnifiedEvent) (Payload, error) {
	pub := PublicEvent{
		EventID:          ev.CompositeKey(),
		Tool:             ev.Tool,
		EventType:        string(ev.Type),
		Operation:        string(ev.Operation),
		MachineID:        ev.Context.MachineID,
		Hostname:         ev.Context.Hostname,
		OrganizationID:   ev.Context.OrganizationID,
		OrganizationName: ev.Context.OrganizationName,
		Summary:          ev.Summary,
		Payload:          ev.ResultPayload,
		OccurredAtMs:     ev.OccurredAtMs,
	}

	value, err := json.Marshal(&pub)
	if err != nil {
		return nil, fmt.Errorf("%w: unencodable public event", ErrRejected)
	}

	return &publishJob{
		key:     ev.PublishKey(),
		value:   value,
		eventID: pub.EventID,
		visible: ev.Visible,
	}, nil
}

// HandleCreate publishes the event.
func (p *Publisher) HandleCreate(ctx context.Context, pl Payload) error {
	return p.publish(ctx, pl.(*publishJob))
}

// HandleRead publishes the event.
func (p *Publisher) HandleRead(ctx context.Context, pl Payload) error {
	return p.publish(ctx, pl.(*publishJob))
}

// HandleUpdate publishes the event.
func (p *Publisher) HandleUpdate(ctx context.Context, pl Payload) error {
	return p.publish(ctx, pl.(*publishJob))
}

// HandleDelete publishes the event.
func (p *Publisher) HandleDelete(ctx context.Context, pl Payload) error {
	return p.publish(ctx, pl.(*publishJob))
}

func (p *Publisher) publish(_ context.Context, job *publishJob) error {
	if !job.visible {
		p.swallowed.Add(1)
		p.logger.Debug("swallowing invisible event", "event_id", job.eventID)
		return nil
	}

	msg := &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(job.key),
		Value: sarama.ByteEncoder(job.value),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("publish %s: %w", job.eventID, err)
	}

	p.published.Add(1)
	return nil
}

// Close closes the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}

// Stats returns publisher counters.
func (p *Publisher) Stats() map[string]interface{} {
	return map[string]interface{}{
		"published": p.published.Load(),
		"swallowed": p.swallowed.Load(),
		"errors":    p.errors.Load(),
	}
}
