// Package join performs the time-windowed left join between MeshCentral
// activity records and their companion host-activity records. Activity rows
// arrive without a node id; the companion topic supplies it. Every activity
// record is forwarded exactly once, augmented when a match lands inside the
// window, unmatched otherwise. Host-activity records that miss the window
// are dropped: one join attempt, no retroactive correction.
//
// Source offsets are acknowledged through per-record callbacks, fired only
// when the record reaches a terminal state: forwarded downstream, dropped as
// malformed, or evicted. A record whose downstream emit fails stays
// unacknowledged, so the bus redelivers it after a rebalance or restart.
package join

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/deserializer"
)

const shardCount = 16

// EmitFunc receives a forwarded activity record carrying the original
// activity routing header, so it re-enters the ordinary deserializer path
// indistinguishably. A non-nil error reports a transient downstream failure;
// the joiner then leaves the source offsets unacknowledged.
type EmitFunc func(mt deserializer.MessageType, value []byte) error

// AckFunc acknowledges one source record once it reaches a terminal state.
type AckFunc func()

// Config holds joiner configuration.
type Config struct {
	Window        time.Duration
	SweepInterval time.Duration
}

// activityEntry is a buffered activity record awaiting a host match.
type activityEntry struct {
	row       map[string]interface{}
	raw       map[string]interface{}
	ack       AckFunc
	expiresAt time.Time
}

// hostEntry is a buffered host-activity record awaiting its activity.
// Only the first record per activity id is kept; ties inside the window
// resolve to the earliest arrival.
type hostEntry struct {
	nodeID    string
	hostID    string
	ack       AckFunc
	expiresAt time.Time
}

type shard struct {
	mu         sync.Mutex
	activities map[string]*activityEntry
	hosts      map[string]*hostEntry
}

// Joiner holds the bounded, sharded join buffers. Activity and host records
// for the same key may arrive concurrently on different partitions, so all
// per-key state sits behind its shard lock.
type Joiner struct {
	config Config
	shards [shardCount]*shard
	emit   EmitFunc
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	matched      atomic.Uint64
	unmatched    atomic.Uint64
	lateHosts    atomic.Uint64
	dupHosts     atomic.Uint64
	malformed    atomic.Uint64
	emitFailures atomic.Uint64
}

// NewJoiner creates a joiner that forwards through emit.
func NewJoiner(cfg Config, emit EmitFunc, logger *slog.Logger) *Joiner {
	if cfg.Window == 0 {
		cfg.Window = 5 * time.Second
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = cfg.Window / 5
	}

	j := &Joiner{
		config: cfg,
		emit:   emit,
		logger: logger.With("component", "activity-joiner"),
		stopCh: make(chan struct{}),
	}
	for i := range j.shards {
		j.shards[i] = &shard{
			activities: make(map[string]*activityEntry),
			hosts:      make(map[string]*hostEntry),
		}
	}

	j.wg.Add(1)
	go j.sweepLoop()
	return j
}

// Stop halts the eviction loop and forwards any still-buffered activity
// records unmatched, so a graceful shutdown never swallows them. Buffered
// host records stay unacknowledged and come back on the next start.
func (j *Joiner) Stop() {
	close(j.stopCh)
	j.wg.Wait()

	for _, s := range j.shards {
		s.mu.Lock()
		for id, entry := range s.activities {
			delete(s.activities, id)
			j.forward(entry, nil)
		}
		s.mu.Unlock()
	}
}

// OfferActivity handles an activity record from the activity topic. The
// value is the raw change-event JSON; ack fires when the record reaches a
// terminal state.
func (j *Joiner) OfferActivity(value []byte, ack AckFunc) {
	raw, row, ok := decodeRow(value)
	if !ok {
		j.malformed.Add(1)
		j.logger.Warn("dropping undecodable activity record")
		callAck(ack)
		return
	}

	id, ok := stringVal(row, "_id")
	if !ok {
		j.malformed.Add(1)
		j.logger.Warn("dropping activity record without id")
		callAck(ack)
		return
	}

	s := j.shard(id)
	s.mu.Lock()
	if host, found := s.hosts[id]; found && time.Now().Before(host.expiresAt) {
		delete(s.hosts, id)
		s.mu.Unlock()
		j.matched.Add(1)
		j.forward(&activityEntry{row: row, raw: raw, ack: ack}, host)
		return
	}
	s.activities[id] = &activityEntry{
		row:       row,
		raw:       raw,
		ack:       ack,
		expiresAt: time.Now().Add(j.config.Window),
	}
	s.mu.Unlock()
}

// OfferHost handles a host-activity record from the companion topic.
func (j *Joiner) OfferHost(value []byte, ack AckFunc) {
	_, row, ok := decodeRow(value)
	if !ok {
		j.malformed.Add(1)
		j.logger.Warn("dropping undecodable host-activity record")
		callAck(ack)
		return
	}

	id, ok := stringVal(row, "event_id")
	if !ok {
		j.malformed.Add(1)
		j.logger.Warn("dropping host-activity record without event id")
		callAck(ack)
		return
	}
	nodeID, _ := stringVal(row, "node_id")
	hostID, _ := stringVal(row, "host_id")

	s := j.shard(id)
	s.mu.Lock()
	if activity, found := s.activities[id]; found {
		delete(s.activities, id)
		s.mu.Unlock()
		j.matched.Add(1)
		j.forward(activity, &hostEntry{nodeID: nodeID, hostID: hostID, ack: ack})
		return
	}
	// Keep only the earliest host record per activity id; tie losers are
	// terminal on arrival.
	if _, exists := s.hosts[id]; exists {
		s.mu.Unlock()
		j.dupHosts.Add(1)
		callAck(ack)
		return
	}
	s.hosts[id] = &hostEntry{
		nodeID:    nodeID,
		hostID:    hostID,
		ack:       ack,
		expiresAt: time.Now().Add(j.config.Window),
	}
	s.mu.Unlock()
}

// forward re-encodes the activity with the host identifiers merged in (when
// matched) and emits it under the original activity header. The source
// records are acknowledged only when the downstream chain accepts the event.
func (j *Joiner) forward(entry *activityEntry, host *hostEntry) {
	if host != nil {
		if host.nodeID != "" {
			entry.row["node_id"] = host.nodeID
		}
		if host.hostID != "" {
			entry.row["host_id"] = host.hostID
		}
	}
	data, err := json.Marshal(entry.raw)
	if err != nil {
		j.malformed.Add(1)
		j.logger.Error("failed to re-encode joined activity", "error", err)
		callAck(entry.ack)
		if host != nil {
			callAck(host.ack)
		}
		return
	}
	if err := j.emit(deserializer.MeshCentralEvent, data); err != nil {
		j.emitFailures.Add(1)
		j.logger.Error("downstream processing of joined activity failed, leaving offsets unacknowledged",
			"error", err)
		return
	}
	callAck(entry.ack)
	if host != nil {
		callAck(host.ack)
	}
}

func (j *Joiner) sweepLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.sweep(time.Now())
		}
	}
}

// sweep forwards expired activities unmatched and drops expired host
// records.
func (j *Joiner) sweep(now time.Time) {
	var expired []*activityEntry

	for _, s := range j.shards {
		s.mu.Lock()
		for id, entry := range s.activities {
			if now.After(entry.expiresAt) {
				delete(s.activities, id)
				expired = append(expired, entry)
			}
		}
		for id, host := range s.hosts {
			if now.After(host.expiresAt) {
				delete(s.hosts, id)
				j.lateHosts.Add(1)
				callAck(host.ack)
			}
		}
		s.mu.Unlock()
	}

	for _, entry := range expired {
		j.unmatched.Add(1)
		j.forward(entry, nil)
	}
}

func (j *Joiner) shard(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return j.shards[h.Sum32()%shardCount]
}

// Stats returns joiner counters.
func (j *Joiner) Stats() map[string]interface{} {
	var buffered int
	for _, s := range j.shards {
		s.mu.Lock()
		buffered += len(s.activities) + len(s.hosts)
		s.mu.Unlock()
	}
	return map[string]interface{}{
		"matched":         j.matched.Load(),
		"unmatched":       j.unmatched.Load(),
		"late_hosts":      j.lateHosts.Load(),
		"duplicate_hosts": j.dupHosts.Load(),
		"malformed":       j.malformed.Load(),
		"emit_failures":   j.emitFailures.Load(),
		"buffered":        buffered,
	}
}

func callAck(fn AckFunc) {
	if fn != nil {
		fn()
	}
}

// decodeRow decodes a change-event value and returns both the full envelope
// map and the row payload inside it (after, or before for deletes).
func decodeRow(value []byte) (raw, row map[string]interface{}, ok bool) {
	if err := json.Unmarshal(value, &raw); err != nil {
		return nil, nil, false
	}

	field := "after"
	if op, _ := raw["op"].(string); op == "d" {
		field = "before"
	}
	row, ok = raw[field].(map[string]interface{})
	if !ok || row == nil {
		return nil, nil, false
	}
	return raw, row, true
}

func stringVal(row map[string]interface{}, key string) (string, bool) {
	s, ok := row[key].(string)
	return s, ok && s != ""
}
