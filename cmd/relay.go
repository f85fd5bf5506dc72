package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/ircrelay/internal/bus"
	"github.com/nextlevelbuilder/ircrelay/internal/channels/irc"
	"github.com/nextlevelbuilder/ircrelay/internal/config"
	"github.com/nextlevelbuilder/ircrelay/internal/gateway"
	"github.com/nextlevelbuilder/ircrelay/internal/history"
	"github.com/nextlevelbuilder/ircrelay/internal/metrics"
	"github.com/nextlevelbuilder/ircrelay/internal/providers"
	"github.com/nextlevelbuilder/ircrelay/internal/relay"
	"github.com/nextlevelbuilder/ircrelay/internal/tracing"
	"github.com/nextlevelbuilder/ircrelay/pkg/protocol"
)

// gaugeSampleInterval is how often queue depth and pending senders are sampled.
const gaugeSampleInterval = time.Second

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// loadConfig reads the config file, overlays env vars and then any flags
// given on the command line, and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("model") {
		cfg.Provider.Model = flags.model
	}
	if f.Changed("server") {
		cfg.IRC.Server = flags.server
	}
	if f.Changed("port") {
		cfg.IRC.Port = flags.port
	}
	if f.Changed("channel") {
		cfg.IRC.Channel = flags.channel
	}
	if f.Changed("nickname") {
		cfg.IRC.Nickname = flags.nickname
	}
	if f.Changed("tls") {
		cfg.IRC.TLS = flags.tls
	}
	if f.Changed("leader") {
		cfg.Relay.Leader = flags.leader
	}
}

func completionOptions(p config.ProviderConfig) map[string]interface{} {
	opts := map[string]interface{}{}
	if p.MaxTokens > 0 {
		opts[providers.OptMaxTokens] = p.MaxTokens
	}
	if p.Temperature > 0 {
		opts[providers.OptTemperature] = p.Temperature
	}
	return opts
}

func newProvider(p config.ProviderConfig) *providers.OpenAIProvider {
	return providers.NewOpenAIProvider(p.Name, p.APIKey, p.APIBase, p.Model).WithChatPath(p.ChatPath)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, bus.ErrQueueClosed):
		return protocol.DropReasonQueueClosed
	case errors.Is(err, bus.ErrQueueFull):
		return protocol.DropReasonQueueFull
	default:
		return protocol.DropReasonShutdown
	}
}

func unitPayload(u bus.FlushedUnit) map[string]interface{} {
	return map[string]interface{}{
		"id":     u.ID,
		"sender": u.Sender,
		"chars":  len([]rune(u.Text)),
	}
}

func runRelay(cmd *cobra.Command) error {
	setupLogging()

	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}
	if cfg.Provider.APIKey == "" {
		slog.Warn("no API key set (OPENROUTER_API_KEY); requests are sent unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("otel tracing disabled", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNewMetrics(reg)

	hub := bus.NewEventHub()
	hist := history.NewStore()

	policy, err := bus.ParseOverflowPolicy(cfg.Relay.Overflow)
	if err != nil {
		return err
	}
	queue := bus.NewQueue(cfg.Relay.QueueCapacity, policy)
	queue.OnEvict(func(u bus.FlushedUnit) {
		slog.Warn("dispatch queue full, evicted oldest unit", "unit", u.ID, "sender", u.Sender)
		m.IncDropped(protocol.DropReasonEvicted)
		payload := unitPayload(u)
		payload["reason"] = protocol.DropReasonEvicted
		hub.Broadcast(bus.Event{Name: protocol.EventUnitDropped, Payload: payload})
	})

	debouncer := bus.NewDebouncer(bus.DebounceConfig{
		TTL:          cfg.Relay.DebounceTTL(),
		TickInterval: cfg.Relay.TickInterval(),
		OnRecord: func(string) {
			m.IncRecorded()
		},
		OnFlush: func(u bus.FlushedUnit) {
			m.IncFlushed()
			hub.Broadcast(bus.Event{Name: protocol.EventUnitFlushed, Payload: unitPayload(u)})
		},
		OnDrop: func(u bus.FlushedUnit, err error) {
			reason := dropReason(err)
			m.IncDropped(reason)
			payload := unitPayload(u)
			payload["reason"] = reason
			hub.Broadcast(bus.Event{Name: protocol.EventUnitDropped, Payload: payload})
		},
	}, queue)

	ircCh := irc.New(cfg.IRC, relay.InboundHandler(cfg.IRC.Channel, debouncer))

	provider := newProvider(cfg.Provider)

	processor := relay.NewProcessor(relay.ProcessorConfig{
		Queue:     queue,
		History:   hist,
		Provider:  provider,
		Sender:    ircCh,
		Pacer:     relay.NewRatePacer(cfg.Relay.ChunkDelay()),
		Events:    hub,
		Metrics:   m,
		Tracer:    tracing.Tracer(),
		Options:   completionOptions(cfg.Provider),
		Transport: ircCh.Name(),
		Channel:   cfg.IRC.Channel,
		Nickname:  cfg.IRC.Nickname,
		Model:     cfg.Provider.Model,
		Leader:    cfg.Relay.Leader,
		ChunkSize: cfg.Relay.ChunkSize,
	})

	if err := ircCh.Start(ctx); err != nil {
		slog.Error("failed to connect to irc", "server", cfg.IRC.Addr(), "error", err)
		return err
	}
	defer func() {
		_ = ircCh.Stop(context.Background())
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return debouncer.Run(gctx) })
	g.Go(func() error { return processor.Run(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-ircCh.Err():
			return fmt.Errorf("irc connection lost: %w", err)
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(gaugeSampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				m.SetQueueDepth(queue.Len())
				m.SetPendingSenders(debouncer.Pending())
			}
		}
	})

	if cfg.Gateway.Enabled {
		server := gateway.NewServer(cfg.Gateway, hub, hist, reg)
		server.SetStatusFunc(func() map[string]interface{} {
			return map[string]interface{}{
				"channel":         cfg.IRC.Channel,
				"nickname":        cfg.IRC.Nickname,
				"model":           cfg.Provider.Model,
				"leader":          cfg.Relay.Leader,
				"irc_connected":   ircCh.IsRunning(),
				"pending_senders": debouncer.Pending(),
				"queue_depth":     queue.Len(),
				"queue_capacity":  queue.Cap(),
				"overflow":        string(queue.Policy()),
				"history_len":     hist.Snapshot().Len(),
				"observers":       server.Clients(),
			}
		})
		g.Go(func() error { return server.Start(gctx) })
	}

	slog.Info("ircrelay starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"server", cfg.IRC.Addr(),
		"channel", cfg.IRC.Channel,
		"model", cfg.Provider.Model,
		"status_server", cfg.Gateway.Enabled,
	)

	if err := g.Wait(); err != nil {
		slog.Error("relay stopped", "error", err)
		return err
	}
	slog.Info("graceful shutdown complete")
	return nil
}
