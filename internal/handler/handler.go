// Package handler implements the shared message-handling lifecycle every
// destination specializes: validate, transform, map the CDC operation to a
// CRUD action, dispatch. Destinations plug in through a small capability
// interface instead of subclassing.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/cdc"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/event"
)

// State is a message's position in the handling lifecycle.
type State string

const (
	StateReceived    State = "RECEIVED"
	StateValidated   State = "VALIDATED"
	StateTransformed State = "TRANSFORMED"
	StateDispatched  State = "DISPATCHED"
	StateRejected    State = "REJECTED"
	StateFailed      State = "FAILED"
)

// CrudOp is the CRUD action a CDC operation code maps onto.
type CrudOp string

const (
	OpCreate CrudOp = "CREATE"
	OpRead   CrudOp = "READ"
	OpUpdate CrudOp = "UPDATE"
	OpDelete CrudOp = "DELETE"
)

// opTable is the operation mapping shared by all destinations.
var opTable = map[cdc.Operation]CrudOp{
	cdc.OpCreate: OpCreate,
	cdc.OpRead:   OpRead,
	cdc.OpUpdate: OpUpdate,
	cdc.OpDelete: OpDelete,
}

// ErrRejected marks a structurally malformed message: logged and dropped,
// never retried.
var ErrRejected = errors.New("message rejected")

// Payload is a destination-specific projection of a unified event.
type Payload interface{}

// Destination is the capability set a concrete destination implements.
type Destination interface {
	Name() string
	Transform(ev *event.UnifiedEvent) (Payload, error)
	HandleCreate(ctx context.Context, p Payload) error
	HandleRead(ctx context.Context, p Payload) error
	HandleUpdate(ctx context.Context, p Payload) error
	HandleDelete(ctx context.Context, p Payload) error
}

// Result records the terminal state a message reached at one destination.
type Result struct {
	Destination string
	State       State
	Err         error
}

// Dispatcher drives unified events through the lifecycle for a fixed set of
// destinations.
type Dispatcher struct {
	destinations []Destination
	logger       *slog.Logger

	dispatched atomic.Uint64
	rejected   atomic.Uint64
	failed     atomic.Uint64
}

// NewDispatcher creates a dispatcher over the given destinations.
func NewDispatcher(logger *slog.Logger, destinations ...Destination) *Dispatcher {
	return &Dispatcher{
		destinations: destinations,
		logger:       logger.With("component", "dispatcher"),
	}
}

// Dispatch runs the event through every destination concurrently. The
// destinations are independent: a failure in one never prevents or rolls
// back the other, and each is individually at-least-once. The returned
// error is non-nil when any destination failed transiently, so the caller
// can signal redelivery.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *event.UnifiedEvent) ([]Result, error) {
	if err := validate(ev); err != nil {
		d.rejected.Add(1)
		d.logger.Warn("rejecting malformed event",
			"tool", ev.Tool, "event_id", ev.ToolEventID, "error", err)
		results := make([]Result, len(d.destinations))
		for i, dest := range d.destinations {
			results[i] = Result{Destination: dest.Name(), State: StateRejected, Err: err}
		}
		return results, nil
	}

	results := make([]Result, len(d.destinations))
	var wg sync.WaitGroup
	for i, dest := range d.destinations {
		wg.Add(1)
		go func(i int, dest Destination) {
			defer wg.Done()
			results[i] = d.dispatchOne(ctx, dest, ev)
		}(i, dest)
	}
	wg.Wait()

	var retryable error
	for _, res := range results {
		switch res.State {
		case StateDispatched:
			d.dispatched.Add(1)
		case StateFailed:
			d.failed.Add(1)
			retryable = fmt.Errorf("destination %s: %w", res.Destination, res.Err)
		}
	}
	return results, retryable
}

func (d *Dispatcher) dispatchOne(ctx context.Context, dest Destination, ev *event.UnifiedEvent) Result {
	payload, err := dest.Transform(ev)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return Result{Destination: dest.Name(), State: StateRejected, Err: err}
		}
		return Result{Destination: dest.Name(), State: StateFailed, Err: err}
	}

	op, ok := opTable[ev.Operation]
	if !ok {
		return Result{
			Destination: dest.Name(),
			State:       StateRejected,
			Err:         fmt.Errorf("%w: unknown operation code %q", ErrRejected, ev.Operation),
		}
	}

	switch op {
	case OpCreate:
		err = dest.HandleCreate(ctx, payload)
	case OpRead:
		err = dest.HandleRead(ctx, payload)
	case OpUpdate:
		err = dest.HandleUpdate(ctx, payload)
	case OpDelete:
		err = dest.HandleDelete(ctx, payload)
	}
	if err != nil {
		return Result{Destination: dest.Name(), State: StateFailed, Err: err}
	}
	return Result{Destination: dest.Name(), State: StateDispatched}
}

// validate checks the structural invariants every destination relies on.
func validate(ev *event.UnifiedEvent) error {
	switch {
	case ev.Tool == "":
		return fmt.Errorf("%w: missing tool", ErrRejected)
	case ev.ExternalAgentID == "":
		return fmt.Errorf("%w: missing external agent id", ErrRejected)
	case ev.ToolEventID == "":
		return fmt.Errorf("%w: missing tool event id", ErrRejected)
	case ev.Type == "":
		return fmt.Errorf("%w: missing unified event type", ErrRejected)
	}
	return nil
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() map[string]interface{} {
	return map[string]interface{}{
		"dispatched": d.dispatched.Load(),
		"rejected":   d.rejected.Load(),
		"failed":     d.failed.Load(),
	}
}
