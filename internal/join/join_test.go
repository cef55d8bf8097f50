package join

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/deserializer"
)

type collector struct {
	mu      sync.Mutex
	emitted []emitted
	failErr error
}

type emitted struct {
	mt    deserializer.MessageType
	value []byte
}

func (c *collector) emit(mt deserializer.MessageType, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	c.emitted = append(c.emitted, emitted{mt: mt, value: value})
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.emitted)
}

func (c *collector) nodeID(t *testing.T, i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Less(t, i, len(c.emitted))

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(c.emitted[i].value, &envelope))
	row, _ := envelope["after"].(map[string]interface{})
	require.NotNil(t, row)
	id, _ := row["node_id"].(string)
	return id
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func activityRecord(id string) []byte {
	return []byte(fmt.Sprintf(
		`{"op":"c","after":{"_id":%q,"action":"relaylog","msg":"session","time":1710498600000}}`, id))
}

func hostRecord(activityID, nodeID string) []byte {
	return []byte(fmt.Sprintf(
		`{"op":"c","after":{"event_id":%q,"node_id":%q,"host_id":"h-1"}}`, activityID, nodeID))
}

func newTestJoiner(c *collector, window time.Duration) *Joiner {
	return NewJoiner(Config{
		Window:        window,
		SweepInterval: 10 * time.Millisecond,
	}, c.emit, testLogger())
}

func counterAck(n *atomic.Int32) AckFunc {
	return func() { n.Add(1) }
}

func TestJoinWithinWindow(t *testing.T) {
	c := &collector{}
	j := newTestJoiner(c, 500*time.Millisecond)
	defer j.Stop()

	j.OfferActivity(activityRecord("act-1"), nil)
	// The companion arrives well inside the window.
	time.Sleep(100 * time.Millisecond)
	j.OfferHost(hostRecord("act-1", "node-7"), nil)

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, deserializer.MeshCentralEvent, c.emitted[0].mt)
	assert.Equal(t, "node-7", c.nodeID(t, 0))
}

func TestJoinSymmetricHostFirst(t *testing.T) {
	c := &collector{}
	j := newTestJoiner(c, 500*time.Millisecond)
	defer j.Stop()

	j.OfferHost(hostRecord("act-2", "node-9"), nil)
	j.OfferActivity(activityRecord("act-2"), nil)

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "node-9", c.nodeID(t, 0))
}

func TestLateHostDoesNotJoin(t *testing.T) {
	c := &collector{}
	j := newTestJoiner(c, 60*time.Millisecond)
	defer j.Stop()

	j.OfferActivity(activityRecord("act-3"), nil)

	// The activity expires and is forwarded unmatched exactly once.
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, c.nodeID(t, 0))

	// A host record after the window closes never causes a second emission.
	j.OfferHost(hostRecord("act-3", "node-late"), nil)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, c.count())
}

func TestEarliestHostRecordWinsTies(t *testing.T) {
	c := &collector{}
	j := newTestJoiner(c, 500*time.Millisecond)
	defer j.Stop()

	var loserAcks atomic.Int32
	j.OfferHost(hostRecord("act-4", "node-first"), nil)
	// The tie loser is terminal on arrival and acknowledged immediately.
	j.OfferHost(hostRecord("act-4", "node-second"), counterAck(&loserAcks))
	j.OfferActivity(activityRecord("act-4"), nil)

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "node-first", c.nodeID(t, 0))
	assert.Equal(t, int32(1), loserAcks.Load())
}

func TestStopFlushesBufferedActivities(t *testing.T) {
	c := &collector{}
	j := newTestJoiner(c, time.Hour)

	var acks atomic.Int32
	j.OfferActivity(activityRecord("act-5"), counterAck(&acks))
	j.Stop()

	require.Equal(t, 1, c.count())
	assert.Empty(t, c.nodeID(t, 0))
	assert.Equal(t, int32(1), acks.Load())
}

func TestMalformedRecordsDroppedAndAcked(t *testing.T) {
	c := &collector{}
	j := newTestJoiner(c, 100*time.Millisecond)
	defer j.Stop()

	var acks atomic.Int32
	j.OfferActivity([]byte("not json"), counterAck(&acks))
	j.OfferActivity([]byte(`{"op":"c","after":{"action":"relaylog"}}`), counterAck(&acks)) // no id
	j.OfferHost([]byte(`{"op":"c","after":{"node_id":"n"}}`), counterAck(&acks))           // no event id

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, c.count())
	assert.Equal(t, uint64(3), j.Stats()["malformed"])
	// Malformed drops are terminal, so their offsets must still be released.
	assert.Equal(t, int32(3), acks.Load())
}

func TestAcksFireOnForward(t *testing.T) {
	c := &collector{}
	j := newTestJoiner(c, 500*time.Millisecond)
	defer j.Stop()

	var activityAcks, hostAcks atomic.Int32
	j.OfferActivity(activityRecord("act-6"), counterAck(&activityAcks))
	j.OfferHost(hostRecord("act-6", "node-1"), counterAck(&hostAcks))

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), activityAcks.Load())
	assert.Equal(t, int32(1), hostAcks.Load())
}

func TestUnmatchedExpiryAcks(t *testing.T) {
	c := &collector{}
	j := newTestJoiner(c, 60*time.Millisecond)
	defer j.Stop()

	var acks atomic.Int32
	j.OfferActivity(activityRecord("act-7"), counterAck(&acks))

	require.Eventually(t, func() bool { return acks.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, c.count())
}

func TestLateHostEvictionAcks(t *testing.T) {
	c := &collector{}
	j := newTestJoiner(c, 60*time.Millisecond)
	defer j.Stop()

	var acks atomic.Int32
	j.OfferHost(hostRecord("act-8", "node-8"), counterAck(&acks))

	// No activity ever arrives; eviction is the host record's terminal state.
	require.Eventually(t, func() bool { return acks.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), j.Stats()["late_hosts"])
	assert.Equal(t, 0, c.count())
}

func TestEmitFailureLeavesRecordsUnacked(t *testing.T) {
	c := &collector{failErr: errors.New("pipeline down")}
	j := newTestJoiner(c, 500*time.Millisecond)
	defer j.Stop()

	var acks atomic.Int32
	j.OfferActivity(activityRecord("act-9"), counterAck(&acks))
	j.OfferHost(hostRecord("act-9", "node-9"), counterAck(&acks))

	// The match triggers a forward whose emit fails; neither offset may be
	// acknowledged, so the bus can redeliver both.
	require.Eventually(t, func() bool {
		return j.Stats()["emit_failures"] == uint64(1)
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), acks.Load())
}

func TestConcurrentOffersSameKey(t *testing.T) {
	c := &collector{}
	j := newTestJoiner(c, 500*time.Millisecond)
	defer j.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("act-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.OfferActivity(activityRecord(id), nil)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.OfferHost(hostRecord(id, "node-x"), nil)
		}()
	}
	wg.Wait()

	// Every activity is forwarded exactly once, matched or not.
	require.Eventually(t, func() bool { return c.count() == 50 }, 2*time.Second, 10*time.Millisecond)
}
