package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqID() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("u%d", n)
	}
}

// flushAll takes every sender due at now, in order.
func flushAll(table *pendingTable, now time.Time, ttl time.Duration, newID func() string) []FlushedUnit {
	var units []FlushedUnit
	for _, sender := range table.due(now, ttl) {
		if u, ok := table.take(sender, now, ttl, newID); ok {
			units = append(units, u)
		}
	}
	return units
}

// TestPendingTable_BurstFlushedOnceAfterIdle walks a 100ms tick over a burst
// of two lines 200ms apart with a 1000ms TTL: exactly one unit comes out, at
// the first tick where the sender has been idle for the full window.
func TestPendingTable_BurstFlushedOnceAfterIdle(t *testing.T) {
	const (
		ttl  = 1000 * time.Millisecond
		tick = 100 * time.Millisecond
	)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	table := newPendingTable()
	newID := seqID()

	table.record("alice", "hello", t0)

	var flushed []FlushedUnit
	var flushedAt time.Time
	for now := t0.Add(tick); now.Before(t0.Add(3 * time.Second)); now = now.Add(tick) {
		if now.Equal(t0.Add(200 * time.Millisecond)) {
			table.record("alice", "world", now)
		}
		units := flushAll(table, now, ttl, newID)
		if len(units) > 0 && flushedAt.IsZero() {
			flushedAt = now
		}
		flushed = append(flushed, units...)
	}

	require.Len(t, flushed, 1)
	assert.Equal(t, "alice", flushed[0].Sender)
	assert.Equal(t, "hello world", flushed[0].Text)
	assert.Equal(t, t0.Add(1200*time.Millisecond), flushedAt)
	assert.Equal(t, 0, table.len())
}

// TestPendingTable_NeverFlushesBeforeTTL checks, for several TTL/tick pairs,
// that no unit is produced while the sender has been idle for less than TTL.
func TestPendingTable_NeverFlushesBeforeTTL(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pairs := []struct{ ttl, tick time.Duration }{
		{1000 * time.Millisecond, 100 * time.Millisecond},
		{250 * time.Millisecond, 70 * time.Millisecond},
		{50 * time.Millisecond, 49 * time.Millisecond},
		{3 * time.Second, 1 * time.Second},
	}
	for _, p := range pairs {
		t.Run(fmt.Sprintf("ttl=%s/tick=%s", p.ttl, p.tick), func(t *testing.T) {
			table := newPendingTable()
			last := map[string]time.Time{}
			newID := seqID()

			// Lines from two senders at irregular offsets.
			arrivals := map[time.Duration]string{
				0:                      "a",
				p.tick / 2:             "b",
				p.ttl / 2:              "a",
				p.ttl + p.tick*3:       "b",
				p.ttl*2 + p.tick/3:     "a",
				p.ttl*2 + p.tick/3 + 1: "a",
			}

			for now := t0; now.Before(t0.Add(5 * p.ttl)); now = now.Add(p.tick / 3) {
				for off, sender := range arrivals {
					if t0.Add(off).After(now.Add(-p.tick/3)) && !t0.Add(off).After(now) {
						table.record(sender, "x", t0.Add(off))
						last[sender] = t0.Add(off)
					}
				}
				for _, u := range flushAll(table, now, p.ttl, newID) {
					idle := now.Sub(last[u.Sender])
					assert.GreaterOrEqual(t, idle, p.ttl, "sender %s flushed after %s idle", u.Sender, idle)
				}
			}
			assert.Equal(t, 0, table.len())
		})
	}
}

func TestPendingTable_FlushRemovesEntryUntilNextLine(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	table := newPendingTable()
	newID := seqID()

	table.record("bob", "one", t0)
	units := flushAll(table, t0.Add(time.Second), time.Second, newID)
	require.Len(t, units, 1)
	assert.Equal(t, 0, table.len())

	// Same idle period, later tick: nothing left to flush.
	assert.Empty(t, flushAll(table, t0.Add(5*time.Second), time.Second, newID))

	table.record("bob", "two", t0.Add(6*time.Second))
	units = flushAll(table, t0.Add(7*time.Second), time.Second, newID)
	require.Len(t, units, 1)
	assert.Equal(t, "two", units[0].Text)
}

func TestPendingTable_JoinsInArrivalOrder(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	table := newPendingTable()
	lines := []string{"the", "quick", "brown  fox", "", "jumps"}
	for i, l := range lines {
		table.record("carol", l, t0.Add(time.Duration(i)*time.Millisecond))
	}
	units := flushAll(table, t0.Add(time.Hour), time.Second, seqID())
	require.Len(t, units, 1)
	assert.Equal(t, "the quick brown  fox  jumps", units[0].Text)
}

func TestPendingTable_OrdersSendersWithinTick(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	table := newPendingTable()
	for _, s := range []string{"zed", "Alice", "bob", "alice"} {
		table.record(s, "hi", t0)
	}
	table.record("late", "hi", t0.Add(900*time.Millisecond))

	units := flushAll(table, t0.Add(time.Second), time.Second, seqID())
	var senders []string
	for _, u := range units {
		senders = append(senders, u.Sender)
	}
	assert.Equal(t, []string{"Alice", "alice", "bob", "zed"}, senders)
	assert.Equal(t, 1, table.len(), "late sender must stay pending")
}

// recordingSink collects units and can be made to block.
type recordingSink struct {
	mu    sync.Mutex
	units []FlushedUnit
	got   chan FlushedUnit
	block chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan FlushedUnit, 64)}
}

func (s *recordingSink) Send(ctx context.Context, u FlushedUnit) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.units = append(s.units, u)
	s.mu.Unlock()
	s.got <- u
	return nil
}

func startDebouncer(t *testing.T, cfg DebounceConfig, sink UnitSink) (*Debouncer, context.CancelFunc) {
	t.Helper()
	d := NewDebouncer(cfg, sink)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("debouncer did not stop")
		}
	})
	return d, cancel
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	sink := newRecordingSink()
	d, _ := startDebouncer(t, DebounceConfig{TTL: 80 * time.Millisecond, TickInterval: 10 * time.Millisecond}, sink)

	d.Record("alice", "hello")
	time.Sleep(20 * time.Millisecond)
	d.Record("alice", "world")

	select {
	case u := <-sink.got:
		assert.Equal(t, "alice", u.Sender)
		assert.Equal(t, "hello world", u.Text)
		assert.NotEmpty(t, u.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no unit flushed")
	}

	select {
	case u := <-sink.got:
		t.Fatalf("unexpected second unit %+v", u)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 0, d.Pending())
}

func TestPendingTable_TakeSkipsSenderActiveAgain(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	table := newPendingTable()
	table.record("dave", "one", t0)

	assert.Equal(t, []string{"dave"}, table.due(t0.Add(time.Second), time.Second))
	table.record("dave", "two", t0.Add(1500*time.Millisecond))

	_, ok := table.take("dave", t0.Add(2*time.Second), time.Second, seqID())
	assert.False(t, ok)
	assert.Equal(t, 1, table.len())

	u, ok := table.take("dave", t0.Add(3*time.Second), time.Second, seqID())
	require.True(t, ok)
	assert.Equal(t, "one two", u.Text)
	assert.Equal(t, 0, table.len())
}

// TestDebouncer_RecordingNotBlockedBySink verifies that a stalled sink does
// not stop new lines from being recorded, and that idle senders stay pending
// in the table until the sink accepts again.
func TestDebouncer_RecordingNotBlockedBySink(t *testing.T) {
	sink := newRecordingSink()
	sink.block = make(chan struct{})
	var recorded, flushedCount atomic.Int32
	d, _ := startDebouncer(t, DebounceConfig{
		TTL:          20 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
		OnRecord:     func(string) { recorded.Add(1) },
		OnFlush:      func(FlushedUnit) { flushedCount.Add(1) },
	}, sink)

	d.Record("a", "first")
	require.Eventually(t, func() bool { return flushedCount.Load() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 20; i++ {
		d.Record(fmt.Sprintf("s%02d", i), "line")
	}
	require.Eventually(t, func() bool { return recorded.Load() == 21 }, time.Second, 5*time.Millisecond)

	// Well past the TTL: nothing else leaves the table while "a" is stuck.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), flushedCount.Load())
	assert.Equal(t, 20, d.Pending())
	assert.Empty(t, sink.got)

	close(sink.block)
	seen := map[string]bool{}
	require.Eventually(t, func() bool {
		for {
			select {
			case u := <-sink.got:
				seen[u.Sender] = true
			default:
				return len(seen) == 21
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, d.Pending())
}

// TestDebouncer_BlockingQueueBoundsFlushes fills a one-slot blocking queue
// with no receiver: exactly one unit sits in the queue, one waits in Send,
// and every other sender stays pending.
func TestDebouncer_BlockingQueueBoundsFlushes(t *testing.T) {
	q := NewQueue(1, OverflowBlock)
	var flushedCount atomic.Int32
	d, _ := startDebouncer(t, DebounceConfig{
		TTL:          10 * time.Millisecond,
		TickInterval: 2 * time.Millisecond,
		OnFlush:      func(FlushedUnit) { flushedCount.Add(1) },
	}, q)

	const senders = 100
	for i := 0; i < senders; i++ {
		d.Record(fmt.Sprintf("s%03d", i), "hi")
	}

	require.Eventually(t, func() bool { return flushedCount.Load() == 2 }, time.Second, 2*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), flushedCount.Load())
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, senders-2, d.Pending())

	// Draining the queue lets the rest through in sender order.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < senders; i++ {
		u, ok := q.Receive(ctx)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("s%03d", i), u.Sender)
	}
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncer_DropsWhenQueueClosed(t *testing.T) {
	q := NewQueue(1, OverflowBlock)
	q.Close()

	dropped := make(chan error, 1)
	d, _ := startDebouncer(t, DebounceConfig{
		TTL:          10 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
		OnDrop:       func(_ FlushedUnit, err error) { dropped <- err },
	}, q)

	d.Record("alice", "lost")
	select {
	case err := <-dropped:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("unit was not dropped")
	}
}

func TestDebouncer_RunTwice(t *testing.T) {
	d := NewDebouncer(DebounceConfig{}, newRecordingSink())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Error(t, d.Run(context.Background()))

	// Record after stop must not block.
	d.Record("alice", "late")
}
