package relay

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nextlevelbuilder/ircrelay/internal/bus"
	"github.com/nextlevelbuilder/ircrelay/internal/history"
	"github.com/nextlevelbuilder/ircrelay/internal/metrics"
	"github.com/nextlevelbuilder/ircrelay/internal/providers"
	"github.com/nextlevelbuilder/ircrelay/pkg/protocol"
)

// DefaultChunkSize is the longest line posted to the channel.
const DefaultChunkSize = 500

// UnitSource yields flushed units. *bus.Queue implements it.
type UnitSource interface {
	Receive(ctx context.Context) (bus.FlushedUnit, bool)
	Close()
}

// Sender posts one line to the channel. channels.Channel implements it.
type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Queue    UnitSource
	History  *history.Store
	Provider providers.Provider
	Sender   Sender
	Pacer    Pacer                  // nil = NewRatePacer(DefaultChunkDelay)
	Events   bus.EventPublisher     // optional
	Metrics  *metrics.Metrics       // optional
	Tracer   trace.Tracer           // nil = noop
	Options  map[string]interface{} // extra completion options (max_tokens, temperature)

	Transport string // outbound message channel label, e.g. "irc"
	Channel   string // chat target replies are posted to
	Nickname  string // own identity; its turns are sent as assistant turns
	Model     string
	Leader    bool
	ChunkSize int // 0 = DefaultChunkSize
}

// Processor is the single consumer of the dispatch queue. For every unit it
// records the user's turn, asks the backend for a reply, and posts the reply
// in paced chunks.
type Processor struct {
	queue    UnitSource
	history  *history.Store
	provider providers.Provider
	sender   Sender
	pacer    Pacer
	events   bus.EventPublisher
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	options  map[string]interface{}

	transport string
	channel   string
	nickname  string
	model     string
	leader    bool
	chunkSize int
}

// NewProcessor creates a processor from cfg.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Pacer == nil {
		cfg.Pacer = NewRatePacer(DefaultChunkDelay)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("relay")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.History == nil {
		cfg.History = history.NewStore()
	}

	return &Processor{
		queue:     cfg.Queue,
		history:   cfg.History,
		provider:  cfg.Provider,
		sender:    cfg.Sender,
		pacer:     cfg.Pacer,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		options:   cfg.Options,
		transport: cfg.Transport,
		channel:   cfg.Channel,
		nickname:  cfg.Nickname,
		model:     cfg.Model,
		leader:    cfg.Leader,
		chunkSize: cfg.ChunkSize,
	}
}

// History returns the store the processor appends to.
func (p *Processor) History() *history.Store { return p.history }

// Run drains the queue until ctx is done or the queue is closed. Units are
// handled strictly one at a time. On return the queue is closed so that
// further flushes are dropped instead of piling up.
func (p *Processor) Run(ctx context.Context) error {
	defer p.queue.Close()

	slog.Info("processor started", "model", p.model, "channel", p.channel, "nickname", p.nickname, "leader", p.leader)
	for {
		u, ok := p.queue.Receive(ctx)
		if !ok {
			slog.Info("processor stopped")
			return nil
		}
		p.handleUnit(ctx, u)
	}
}

// handleUnit runs one unit through the pipeline. Failures are logged and the
// unit is abandoned; history keeps the user's turn either way.
func (p *Processor) handleUnit(ctx context.Context, u bus.FlushedUnit) {
	ctx, span := p.tracer.Start(ctx, "relay.unit", trace.WithAttributes(
		attribute.String("relay.unit_id", u.ID),
		attribute.String("relay.sender", u.Sender),
	))
	defer span.End()

	slog.Debug("<Buffered>", "unit", u.ID, "sender", u.Sender, "text", u.Text)

	userTurn := history.Entry{Author: u.Sender, Text: u.Text}
	snapshot := p.history.Append(userTurn)
	p.publish(protocol.EventHistory, historyPayload(userTurn, snapshot.Len()))
	span.SetAttributes(attribute.Int("relay.history_len", snapshot.Len()))

	if !ShouldRespond(snapshot.Len(), p.leader) {
		slog.Info("skipping first message", "unit", u.ID, "sender", u.Sender)
		p.metrics.IncSuppressed()
		p.publish(protocol.EventReplySkipped, map[string]interface{}{
			"unit":        u.ID,
			"sender":      u.Sender,
			"history_len": snapshot.Len(),
		})
		return
	}

	req := BuildRequest(snapshot, p.nickname, p.model)
	req.Options = p.options

	reply, err := p.complete(ctx, req)
	if err != nil {
		slog.Error("completion request failed", "unit", u.ID, "sender", u.Sender, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		p.publish(protocol.EventReplyFailed, map[string]interface{}{
			"unit":   u.ID,
			"sender": u.Sender,
			"error":  err.Error(),
		})
		return
	}

	reply = NormalizeReply(reply)
	chunks := SplitChunks(reply, p.chunkSize)
	span.SetAttributes(attribute.Int("relay.chunks", len(chunks)))
	p.sendChunks(ctx, u, chunks)

	botTurn := history.Entry{Author: p.nickname, Text: reply}
	snapshot = p.history.Append(botTurn)
	p.publish(protocol.EventHistory, historyPayload(botTurn, snapshot.Len()))
	slog.Debug("history updated", "unit", u.ID, "history_len", snapshot.Len())
}

// complete calls the backend and returns the first choice's content, or
// NoResponseReply when the backend returned no choices.
func (p *Processor) complete(ctx context.Context, req providers.ChatRequest) (string, error) {
	ctx, span := p.tracer.Start(ctx, "relay.completion", trace.WithAttributes(
		attribute.String("llm.provider", p.provider.Name()),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.turns", len(req.Messages)),
	))
	defer span.End()

	start := time.Now()
	resp, err := p.provider.Chat(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		p.metrics.ObserveCompletion(metrics.StatusError, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
		)
	}

	content, ok := resp.FirstContent()
	if !ok {
		slog.Warn("completion returned no choices", "model", req.Model)
		p.metrics.ObserveCompletion(metrics.StatusEmpty, elapsed)
		return NoResponseReply, nil
	}
	p.metrics.ObserveCompletion(metrics.StatusOK, elapsed)
	slog.Debug("completion received", "model", req.Model, "duration", elapsed, "chars", len(content))
	return content, nil
}

// sendChunks posts chunks in order, pacing each send. A failed send is logged
// and the remaining chunks are still attempted.
func (p *Processor) sendChunks(ctx context.Context, u bus.FlushedUnit, chunks []string) {
	for i, chunk := range chunks {
		if err := p.pacer.Wait(ctx); err != nil {
			slog.Warn("reply abandoned", "unit", u.ID, "sent", i, "total", len(chunks), "error", err)
			return
		}
		err := p.sender.Send(ctx, bus.OutboundMessage{
			Channel: p.transport,
			ChatID:  p.channel,
			Content: chunk,
		})
		if err != nil {
			slog.Error("failed to send message chunk", "unit", u.ID, "chunk", i, "error", err)
			p.metrics.IncChunk(metrics.StatusError)
			continue
		}
		p.metrics.IncChunk(metrics.StatusOK)
	}
}

func (p *Processor) publish(name string, payload interface{}) {
	if p.events == nil {
		return
	}
	p.events.Broadcast(bus.Event{Name: name, Payload: payload})
}

func historyPayload(e history.Entry, length int) map[string]interface{} {
	return map[string]interface{}{
		"author": e.Author,
		"text":   e.Text,
		"len":    length,
	}
}
