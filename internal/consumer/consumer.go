// Package consumer implements the ingress listener: it subscribes to the
// inbound CDC topics, reads the routing header, and hands messages to the
// join stage or the processing chain. Offsets are committed only after a
// message reaches a terminal outcome, never before; a transient failure
// rewinds the partition so the failed record is fetched again.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/deserializer"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/join"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/pipeline"
)

// headerKey is the record header carrying the routing message type.
const headerKey = "message_type"

// retryBackoff pauses the fetch loop after a rewind so a persistently
// failing destination is not hammered with immediate refetches.
const retryBackoff = time.Second

// Config holds ingress configuration.
type Config struct {
	Brokers           []string
	Group             string
	FleetTopic        string
	TacticalTopic     string
	MeshActivityTopic string
	MeshHostTopic     string
}

// busClient is the subset of *kgo.Client the consumer drives.
type busClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	SetOffsets(setOffsets map[string]map[int32]kgo.EpochOffset)
	Close()
}

// routeResult classifies what happened to one routed record.
type routeResult int

const (
	// routeDone: terminal outcome reached, the offset can commit.
	routeDone routeResult = iota
	// routeDeferred: handed to the join stage; committed when it acks.
	routeDeferred
	// routeFailed: transient failure, rewind to this record.
	routeFailed
)

// Consumer is the ingress listener/router.
type Consumer struct {
	config   Config
	client   busClient
	pipeline *pipeline.Pipeline
	joiner   *join.Joiner
	tracker  *ackTracker
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	consumed  atomic.Uint64
	committed atomic.Uint64
	deferred  atomic.Uint64
	rewound   atomic.Uint64
	noHeader  atomic.Uint64
}

// NewConsumer creates the ingress consumer. Auto-commit is disabled so the
// commit watermark only advances past processed records.
func NewConsumer(cfg Config, pl *pipeline.Pipeline, joiner *join.Joiner, logger *slog.Logger) (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(
			cfg.FleetTopic,
			cfg.TacticalTopic,
			cfg.MeshActivityTopic,
			cfg.MeshHostTopic,
		),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(250 * time.Millisecond),
		kgo.FetchMaxBytes(10 * 1024 * 1024),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		cancel()
		return nil, err
	}

	return &Consumer{
		config:   cfg,
		client:   client,
		pipeline: pl,
		joiner:   joiner,
		tracker:  newAckTracker(),
		logger:   logger.With("component", "ingress-consumer"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins consuming.
func (c *Consumer) Start() {
	c.logger.Info("starting ingress consumer",
		"group", c.config.Group,
		"topics", []string{
			c.config.FleetTopic, c.config.TacticalTopic,
			c.config.MeshActivityTopic, c.config.MeshHostTopic,
		})

	c.wg.Add(1)
	go c.consumeLoop()
}

// Stop stops accepting new messages and waits for in-flight processing to
// reach a terminal state before returning.
func (c *Consumer) Stop() {
	c.logger.Info("stopping ingress consumer")
	c.cancel()
	c.wg.Wait()
	c.client.Close()
	c.logger.Info("ingress consumer stopped")
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				if errors.Is(err.Err, context.Canceled) {
					continue
				}
				c.logger.Error("fetch error",
					"topic", err.Topic, "partition", err.Partition, "error", err.Err)
			}
		}

		var (
			mu      sync.Mutex
			commits []*kgo.Record
			rewinds []*kgo.Record
			partWG  sync.WaitGroup
		)

		// One worker per fetched partition keeps the upstream per-partition
		// ordering while partitions process concurrently.
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			records := p.Records
			if len(records) == 0 {
				return
			}
			partWG.Add(1)
			go func() {
				defer partWG.Done()
				done, failed := c.processPartition(records)
				mu.Lock()
				commits = append(commits, done...)
				if failed != nil {
					rewinds = append(rewinds, failed)
				}
				mu.Unlock()
			}()
		})
		partWG.Wait()

		if len(commits) > 0 {
			if err := c.client.CommitRecords(context.Background(), commits...); err != nil {
				c.logger.Error("failed to commit offsets", "error", err)
			} else {
				c.committed.Add(uint64(len(commits)))
			}
		}

		if len(rewinds) > 0 {
			c.rewind(rewinds)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
		}
	}
}

// processPartition handles one partition's records in order. It returns the
// records that reached a terminal outcome and, when one failed transiently,
// that record so the partition can be rewound to it; everything past the
// failure is left untouched for the refetch.
func (c *Consumer) processPartition(records []*kgo.Record) (done []*kgo.Record, failed *kgo.Record) {
	for _, record := range records {
		c.consumed.Add(1)

		switch c.route(record) {
		case routeFailed:
			return done, record
		case routeDeferred:
			// Committed later, when the join stage acknowledges it.
		default:
			done = append(done, record)
		}
	}
	return done, nil
}

func (c *Consumer) route(record *kgo.Record) routeResult {
	mt, ok := messageType(record)
	if !ok {
		c.noHeader.Add(1)
		c.logger.Error("dropping record without routing header",
			"topic", record.Topic, "partition", record.Partition, "offset", record.Offset)
		return routeDone
	}

	// The joined source's two topics are absorbed by the join stage, which
	// re-emits activity records into the chain on its own schedule. Their
	// offsets commit only once the joiner reports them terminal, so a crash
	// inside the join window redelivers the buffered records.
	switch mt {
	case deserializer.MeshCentralEvent:
		c.deferred.Add(1)
		c.tracker.track(record)
		c.joiner.OfferActivity(record.Value, c.deferredAck(record))
		return routeDeferred
	case deserializer.MeshCentralHostEvent:
		c.deferred.Add(1)
		c.tracker.track(record)
		c.joiner.OfferHost(record.Value, c.deferredAck(record))
		return routeDeferred
	}

	outcome, err := c.pipeline.Process(c.ctx, mt, record.Value)
	if err != nil {
		c.logger.Warn("transient processing failure, rewinding for redelivery",
			"topic", record.Topic, "partition", record.Partition,
			"offset", record.Offset, "error", err)
	}
	if outcome == pipeline.OutcomeFailed {
		return routeFailed
	}
	return routeDone
}

// deferredAck builds the callback the join stage fires when the record
// reaches a terminal state. Acks can arrive out of offset order; only the
// contiguous acknowledged prefix is released for commit.
func (c *Consumer) deferredAck(record *kgo.Record) join.AckFunc {
	return func() {
		commit := c.tracker.ack(record)
		if commit == nil {
			return
		}
		if err := c.client.CommitRecords(context.Background(), commit); err != nil {
			c.logger.Error("failed to commit deferred offset",
				"topic", commit.Topic, "partition", commit.Partition,
				"offset", commit.Offset, "error", err)
			return
		}
		c.committed.Add(1)
	}
}

// rewind moves the consume position back to each failed record. PollFetches
// has already advanced the in-memory position past the whole fetch, so
// without the seek the next poll would skip the failed record even though
// its offset was never committed.
func (c *Consumer) rewind(records []*kgo.Record) {
	for _, r := range records {
		c.logger.Warn("rewinding partition to failed record",
			"topic", r.Topic, "partition", r.Partition, "offset", r.Offset)
	}
	c.client.SetOffsets(rewindOffsets(records))
	c.rewound.Add(uint64(len(records)))
}

func rewindOffsets(records []*kgo.Record) map[string]map[int32]kgo.EpochOffset {
	offsets := make(map[string]map[int32]kgo.EpochOffset)
	for _, r := range records {
		if offsets[r.Topic] == nil {
			offsets[r.Topic] = make(map[int32]kgo.EpochOffset)
		}
		offsets[r.Topic][r.Partition] = kgo.EpochOffset{
			Epoch:  r.LeaderEpoch,
			Offset: r.Offset,
		}
	}
	return offsets
}

func messageType(record *kgo.Record) (deserializer.MessageType, bool) {
	for _, h := range record.Headers {
		if h.Key == headerKey && len(h.Value) > 0 {
			return deserializer.MessageType(h.Value), true
		}
	}
	return "", false
}

// Stats returns consumer counters.
func (c *Consumer) Stats() map[string]interface{} {
	return map[string]interface{}{
		"consumed":         c.consumed.Load(),
		"committed":        c.committed.Load(),
		"deferred":         c.deferred.Load(),
		"deferred_pending": c.tracker.pendingCount(),
		"rewound":          c.rewound.Load(),
		"no_header":        c.noHeader.Load(),
	}
}
