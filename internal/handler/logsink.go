package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/event"
)

// LogSinkConfig holds durable-log destination configuration.
type LogSinkConfig struct {
	Hosts        []string
	Database     string
	Table        string
	Username     string
	Password     string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	MaxOpenConns int
	MaxIdleConns int
	Compression  string
}

// LogRow is the durable-log projection of a unified event. The store is a
// log of latest-known-state-per-event keyed by the composite identity, not
// an append-only ledger.
type LogRow struct {
	Key             string
	Tool            string
	DayBucket       string
	EventType       string
	SourceEventType string
	ToolEventID     string
	ExternalAgentID string
	MachineID       string
	Hostname        string
	OrganizationID  string
	OrgName         string
	Summary         string
	Payload         string
	OccurredAt      time.Time
	Visible         bool
}

// LogSink writes unified events to the ClickHouse durable log. CREATE, READ
// and UPDATE all resolve to the same idempotent upsert; the table engine
// collapses rows sharing a composite key.
type LogSink struct {
	config  LogSinkConfig
	mu      sync.Mutex
	conn    driver.Conn
	logger  *slog.Logger
	healthy atomic.Bool

	upserts    atomic.Uint64
	deleteNoop atomic.Uint64
	errors     atomic.Uint64
}

// NewLogSink connects to ClickHouse and returns the durable-log destination.
func NewLogSink(cfg LogSinkConfig, logger *slog.Logger) (*LogSink, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}

	s := &LogSink{
		config: cfg,
		logger: logger.With("component", "log-sink"),
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LogSink) connect() error {
	options := &clickhouse.Options{
		Addr: s.config.Hosts,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:     s.config.DialTimeout,
		MaxOpenConns:    s.config.MaxOpenConns,
		MaxIdleConns:    s.config.MaxIdleConns,
		ConnMaxLifetime: time.Hour,
	}

	switch s.config.Compression {
	case "lz4":
		options.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	case "zstd":
		options.Compression = &clickhouse.Compression{Method: clickhouse.CompressionZSTD}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return fmt.Errorf("open clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.conn = conn
	s.healthy.Store(true)
	s.logger.Info("connected to durable log store",
		"hosts", s.config.Hosts,
		"database", s.config.Database,
		"table", s.config.Table)
	return nil
}

// Name returns the destination name.
func (s *LogSink) Name() string { return "durable-log" }

// Transform projects a unified event into its durable-log row.
func (s *LogSink) Transform(ev *event.UnifiedEvent) (Payload, error) {
	var payload string
	if ev.ResultPayload != nil {
		data, err := json.Marshal(ev.ResultPayload)
		if err != nil {
			return nil, fmt.Errorf("%w: unencodable result payload", ErrRejected)
		}
		payload = string(data)
	}

	return &LogRow{
		Key:             ev.CompositeKey(),
		Tool:            ev.Tool,
		DayBucket:       ev.DayBucket(),
		EventType:       string(ev.Type),
		SourceEventType: ev.SourceEventType,
		ToolEventID:     ev.ToolEventID,
		ExternalAgentID: ev.ExternalAgentID,
		MachineID:       ev.Context.MachineID,
		Hostname:        ev.Context.Hostname,
		OrganizationID:  ev.Context.OrganizationID,
		OrgName:         ev.Context.OrganizationName,
		Summary:         ev.Summary,
		Payload:         payload,
		OccurredAt:      time.UnixMilli(ev.OccurredAtMs).UTC(),
		Visible:         ev.Visible,
	}, nil
}

// HandleCreate upserts the row.
func (s *LogSink) HandleCreate(ctx context.Context, p Payload) error {
	return s.upsert(ctx, p.(*LogRow))
}

// HandleRead upserts the row; snapshot reads replay latest known state.
func (s *LogSink) HandleRead(ctx context.Context, p Payload) error {
	return s.upsert(ctx, p.(*LogRow))
}

// HandleUpdate upserts the row.
func (s *LogSink) HandleUpdate(ctx context.Context, p Payload) error {
	return s.upsert(ctx, p.(*LogRow))
}

// HandleDelete is a no-op: this source family does not delete history rows,
// so a delete is logged and swallowed.
func (s *LogSink) HandleDelete(_ context.Context, p Payload) error {
	row := p.(*LogRow)
	s.deleteNoop.Add(1)
	s.logger.Warn("unexpected delete for durable log, ignoring",
		"key", row.Key, "tool", row.Tool)
	return nil
}

// reconnect replaces an unhealthy connection before the next write. Serialized
// so concurrent failing writers do not race to rebuild it.
func (s *LogSink) reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.healthy.Load() {
		return nil
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.logger.Info("reconnecting to durable log store")
	return s.connect()
}

func (s *LogSink) upsert(ctx context.Context, row *LogRow) error {
	if !s.healthy.Load() {
		if err := s.reconnect(); err != nil {
			s.errors.Add(1)
			return fmt.Errorf("reconnect durable log store: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
	defer cancel()

	err := s.conn.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			event_key, tool, day_bucket, event_type, source_event_type,
			tool_event_id, external_agent_id, machine_id, hostname,
			organization_id, organization_name, summary, payload,
			occurred_at, visible
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.config.Table),
		row.Key, row.Tool, row.DayBucket, row.EventType, row.SourceEventType,
		row.ToolEventID, row.ExternalAgentID, row.MachineID, row.Hostname,
		row.OrganizationID, row.OrgName, row.Summary, row.Payload,
		row.OccurredAt, row.Visible,
	)
	if err != nil {
		s.errors.Add(1)
		s.healthy.Store(false)
		return fmt.Errorf("upsert %s: %w", row.Key, err)
	}

	s.healthy.Store(true)
	s.upserts.Add(1)
	return nil
}

// IsHealthy reports whether the last write or ping succeeded.
func (s *LogSink) IsHealthy() bool { return s.healthy.Load() }

// Close closes the store connection.
func (s *LogSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Stats returns sink counters.
func (s *LogSink) Stats() map[string]interface{} {
	return map[string]interface{}{
		"upserts":      s.upserts.Load(),
		"delete_noops": s.deleteNoop.Load(),
		"errors":       s.errors.Load(),
		"healthy":      s.healthy.Load(),
	}
}
