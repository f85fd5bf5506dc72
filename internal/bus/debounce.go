package bus

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultDebounceTTL is the idle time after a sender's last line before
	// the buffered lines are flushed as one unit.
	DefaultDebounceTTL = 1000 * time.Millisecond

	// DefaultTickInterval is how often the pending table is scanned.
	DefaultTickInterval = 100 * time.Millisecond

	defaultInboxSize = 256
)

// UnitSink receives flushed units. *Queue implements it.
type UnitSink interface {
	Send(ctx context.Context, u FlushedUnit) error
}

// DebounceConfig tunes a Debouncer. Zero values select the defaults.
type DebounceConfig struct {
	TTL          time.Duration
	TickInterval time.Duration
	InboxSize    int

	Now   func() time.Time // clock, time.Now when nil
	NewID func() string    // unit ID generator, short uuid when nil

	OnRecord func(sender string)
	OnFlush  func(FlushedUnit)
	OnDrop   func(FlushedUnit, error) // sink refused the unit; it is not retried
}

func (c DebounceConfig) withDefaults() DebounceConfig {
	if c.TTL <= 0 {
		c.TTL = DefaultDebounceTTL
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = func() string { return uuid.NewString()[:8] }
	}
	return c
}

// pendingAggregate holds one sender's unflushed lines.
// Never stored in the table with an empty messages slice.
type pendingAggregate struct {
	messages     []string
	lastActivity time.Time
}

// pendingTable maps sender → pending lines. Not safe for concurrent use:
// it is owned by the Debouncer goroutine.
type pendingTable struct {
	entries map[string]*pendingAggregate
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingAggregate)}
}

func (t *pendingTable) record(sender, text string, at time.Time) {
	e, ok := t.entries[sender]
	if !ok {
		e = &pendingAggregate{}
		t.entries[sender] = e
	}
	e.messages = append(e.messages, text)
	e.lastActivity = at
}

// due returns the senders idle for at least ttl, ordered lexicographically.
// Empty entries are dropped on the way.
func (t *pendingTable) due(now time.Time, ttl time.Duration) []string {
	var senders []string
	for sender, e := range t.entries {
		if len(e.messages) == 0 {
			delete(t.entries, sender)
			continue
		}
		if now.Sub(e.lastActivity) >= ttl {
			senders = append(senders, sender)
		}
	}
	slices.Sort(senders)
	return senders
}

// take removes sender's entry and returns its combined unit, provided the
// sender is still idle for at least ttl at now.
func (t *pendingTable) take(sender string, now time.Time, ttl time.Duration, newID func() string) (FlushedUnit, bool) {
	e, ok := t.entries[sender]
	if !ok || len(e.messages) == 0 || now.Sub(e.lastActivity) < ttl {
		return FlushedUnit{}, false
	}
	delete(t.entries, sender)
	return FlushedUnit{
		ID:        newID(),
		Sender:    sender,
		Text:      strings.Join(e.messages, " "),
		FlushedAt: now,
	}, true
}

func (t *pendingTable) len() int { return len(t.entries) }

type recordReq struct {
	sender string
	text   string
	at     time.Time
}

// Debouncer coalesces bursts of lines from the same sender into a single
// FlushedUnit. One goroutine owns the pending table; Record only posts to
// its inbox, so recording never waits on the sink.
//
// At most one flushed unit is outside the table and outside the sink at any
// time. While the sink is refusing units, idle senders stay in the table and
// are flushed once it accepts again.
type Debouncer struct {
	cfg   DebounceConfig
	sink  UnitSink
	table *pendingTable

	inbox   chan recordReq
	units   chan FlushedUnit
	sent    chan struct{}
	done    chan struct{}
	pending atomic.Int64
	runOnce sync.Once
}

// NewDebouncer creates a debouncer that emits into sink. Call Run to start it.
func NewDebouncer(cfg DebounceConfig, sink UnitSink) *Debouncer {
	cfg = cfg.withDefaults()
	return &Debouncer{
		cfg:   cfg,
		sink:  sink,
		table: newPendingTable(),
		inbox: make(chan recordReq, cfg.InboxSize),
		units: make(chan FlushedUnit),
		sent:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Record buffers a line for sender and refreshes its last-activity time.
// It is a no-op once the debouncer has stopped.
func (d *Debouncer) Record(sender, text string) {
	select {
	case d.inbox <- recordReq{sender: sender, text: text, at: d.cfg.Now()}:
	case <-d.done:
	}
}

// Pending returns the number of senders with unflushed lines.
func (d *Debouncer) Pending() int { return int(d.pending.Load()) }

// Run owns the pending table until ctx is done. Each tick collects the
// senders that went idle; they are flushed one at a time, each only after
// the emitter goroutine has handed the previous unit to the sink.
// Run may be called once.
func (d *Debouncer) Run(ctx context.Context) error {
	started := false
	d.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("debouncer already running")
	}
	defer close(d.done)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.emit(ctx)
	}()
	defer wg.Wait()
	defer close(d.units)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("inbound debounce started", "ttl", d.cfg.TTL, "tick", d.cfg.TickInterval)

	var (
		due      []string // idle senders found by the last scan, not yet flushed
		next     FlushedUnit
		haveNext bool
		busy     bool // emitter holds a unit the sink has not accepted yet
		lastTick time.Time
	)

	// advance flushes the next still-idle sender from due.
	advance := func() {
		for !haveNext && !busy && len(due) > 0 {
			sender := due[0]
			due = due[1:]
			u, ok := d.table.take(sender, lastTick, d.cfg.TTL, d.cfg.NewID)
			if !ok {
				continue
			}
			d.pending.Store(int64(d.table.len()))
			if d.cfg.OnFlush != nil {
				d.cfg.OnFlush(u)
			}
			next, haveNext = u, true
		}
	}

	for {
		// Only offer a unit when there is one; a nil channel never fires.
		var out chan<- FlushedUnit
		if haveNext {
			out = d.units
		}

		select {
		case <-ctx.Done():
			if haveNext {
				slog.Debug("dropping flushed unit on shutdown", "unit", next.ID, "sender", next.Sender)
				if d.cfg.OnDrop != nil {
					d.cfg.OnDrop(next, ctx.Err())
				}
			}
			if n := d.table.len(); n > 0 {
				slog.Info("inbound debounce stopped with unflushed lines", "pending_senders", n)
			}
			return nil

		case r := <-d.inbox:
			d.table.record(r.sender, r.text, r.at)
			d.pending.Store(int64(d.table.len()))
			if d.cfg.OnRecord != nil {
				d.cfg.OnRecord(r.sender)
			}

		case <-ticker.C:
			lastTick = d.cfg.Now()
			if busy || haveNext {
				continue
			}
			due = d.table.due(lastTick, d.cfg.TTL)
			advance()

		case out <- next:
			haveNext, busy = false, true

		case <-d.sent:
			busy = false
			advance()
		}
	}
}

// emit forwards flushed units to the sink, reporting back after each one.
// A refused unit is logged and dropped.
func (d *Debouncer) emit(ctx context.Context) {
	for u := range d.units {
		if err := d.sink.Send(ctx, u); err != nil {
			if ctx.Err() != nil {
				slog.Debug("dropping flushed unit on shutdown", "unit", u.ID, "sender", u.Sender)
			} else {
				slog.Error("failed to send buffered message to processor",
					"unit", u.ID, "sender", u.Sender, "error", err)
			}
			if d.cfg.OnDrop != nil {
				d.cfg.OnDrop(u, err)
			}
		}
		select {
		case d.sent <- struct{}{}:
		case <-ctx.Done():
		}
	}
}
