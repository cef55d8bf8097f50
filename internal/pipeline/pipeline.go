// Package pipeline orchestrates the processing chain for one inbound
// message: deserialize, map the event type, resolve context, dispatch to
// the destinations. It also owns the error taxonomy separating structural
// problems (resolved locally, dropped) from transient ones (surfaced for
// bus redelivery).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/cdc"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/deserializer"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/enrichment"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/event"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/eventtype"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/handler"
)

// Outcome is the terminal classification of one message.
type Outcome int

const (
	// OutcomeProcessed: the event reached its destinations.
	OutcomeProcessed Outcome = iota
	// OutcomeDropped: routing or structural failure, resolved locally and
	// never retried.
	OutcomeDropped
	// OutcomeFailed: transient failure; the caller must not acknowledge so
	// the bus redelivers.
	OutcomeFailed
)

// Dispatcher is the downstream capability the pipeline drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *event.UnifiedEvent) ([]handler.Result, error)
}

// ContextResolver resolves agent ids to machine/org context.
type ContextResolver interface {
	Resolve(ctx context.Context, externalAgentID string) (enrichment.Context, error)
}

// Pipeline processes raw inbound messages end to end.
type Pipeline struct {
	registry   *deserializer.Registry
	mapper     *eventtype.Mapper
	resolver   ContextResolver
	dispatcher Dispatcher
	logger     *slog.Logger

	processed atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// New creates a pipeline.
func New(
	registry *deserializer.Registry,
	mapper *eventtype.Mapper,
	resolver ContextResolver,
	dispatcher Dispatcher,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		registry:   registry,
		mapper:     mapper,
		resolver:   resolver,
		dispatcher: dispatcher,
		logger:     logger.With("component", "pipeline"),
	}
}

// Process runs one message through the chain. The returned error is non-nil
// only for OutcomeFailed; it wraps the transient cause.
func (p *Pipeline) Process(ctx context.Context, mt deserializer.MessageType, value []byte) (Outcome, error) {
	des, err := p.registry.Resolve(mt)
	if err != nil {
		// Unknown routing header is a configuration error, not grounds for
		// a default route.
		p.dropped.Add(1)
		p.logger.Error("dropping message with unknown routing header",
			"message_type", string(mt), "payload_digest", cdc.Digest(value))
		return OutcomeDropped, nil
	}

	changeEvent, err := cdc.Parse(value)
	if err != nil {
		p.dropped.Add(1)
		p.logger.Warn("dropping undecodable change event",
			"message_type", string(mt), "payload_digest", cdc.Digest(value), "error", err)
		return OutcomeDropped, nil
	}

	toolEvent, err := des.Deserialize(changeEvent)
	if err != nil {
		var invalidErr *deserializer.InvalidMessageError
		if errors.As(err, &invalidErr) {
			p.dropped.Add(1)
			p.logger.Warn("rejecting invalid message",
				"tool", invalidErr.Tool,
				"reason", invalidErr.Reason,
				"payload_digest", cdc.Digest(value))
			return OutcomeDropped, nil
		}
		p.failed.Add(1)
		return OutcomeFailed, fmt.Errorf("deserialize: %w", err)
	}

	unifiedType := p.mapper.Map(toolEvent.Tool, toolEvent.SourceEventType)

	enriched, err := p.resolver.Resolve(ctx, toolEvent.ExternalAgentID)
	if err != nil {
		// Cache unreachable; a miss would have returned empty context.
		p.failed.Add(1)
		return OutcomeFailed, fmt.Errorf("enrich: %w", err)
	}

	unified := event.New(toolEvent, unifiedType, enriched)

	results, err := p.dispatcher.Dispatch(ctx, unified)
	if err != nil {
		p.failed.Add(1)
		return OutcomeFailed, err
	}

	for _, res := range results {
		if res.State == handler.StateRejected {
			p.dropped.Add(1)
			return OutcomeDropped, nil
		}
	}

	p.processed.Add(1)
	return OutcomeProcessed, nil
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() map[string]interface{} {
	return map[string]interface{}{
		"processed": p.processed.Load(),
		"dropped":   p.dropped.Load(),
		"failed":    p.failed.Load(),
	}
}
