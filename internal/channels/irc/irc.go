// Package irc connects the relay to a single IRC channel.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"gopkg.in/irc.v4"

	"github.com/nextlevelbuilder/ircrelay/internal/bus"
	"github.com/nextlevelbuilder/ircrelay/internal/channels"
	"github.com/nextlevelbuilder/ircrelay/internal/config"
)

const (
	// registrationTimeout bounds the wait for the server's welcome (001).
	registrationTimeout = 60 * time.Second

	// unknownSender identifies lines that arrive without a source nickname.
	unknownSender = "unknown"
)

// DialFunc opens the raw connection to the server.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Channel is an IRC client joined to one channel.
type Channel struct {
	*channels.BaseChannel
	config config.IRCConfig
	dial   DialFunc

	mu      sync.Mutex
	client  *irc.Client
	conn    net.Conn
	cancel  context.CancelFunc
	welcome chan struct{}
	errCh   chan error

	registered bool // welcome received on the current connection
	closing    bool // Stop or a failed Start is tearing the connection down
}

var _ channels.Channel = (*Channel)(nil)

// New creates an IRC channel from config. handler receives every PRIVMSG
// from an allowed sender.
func New(cfg config.IRCConfig, handler channels.InboundHandler) *Channel {
	c := &Channel{
		BaseChannel: channels.NewBaseChannel("irc", handler, cfg.AllowFrom),
		config:      cfg,
		errCh:       make(chan error, 1),
	}
	c.dial = c.dialNetwork
	return c
}

// WithDialer overrides how the connection is opened (used by tests).
func (c *Channel) WithDialer(dial DialFunc) *Channel {
	c.dial = dial
	return c
}

func (c *Channel) dialNetwork(ctx context.Context) (net.Conn, error) {
	addr := c.config.Addr()
	if c.config.TLS {
		d := &tls.Dialer{Config: &tls.Config{ServerName: c.config.Server, MinVersion: tls.VersionTLS12}}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// Start connects, registers and waits for the server's welcome. The channel
// is joined as soon as the welcome arrives. Any failure before that point is
// returned; failures after it are delivered on Err.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("connecting to irc", "server", c.config.Addr(), "tls", c.config.TLS, "nickname", c.config.Nickname)

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("irc connect %s: %w", c.config.Addr(), err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	welcome := make(chan struct{})
	client := irc.NewClient(conn, irc.ClientConfig{
		Nick:    c.config.Nickname,
		Pass:    c.config.Password,
		User:    c.config.User(),
		Name:    c.config.Name(),
		Handler: irc.HandlerFunc(c.handle),
	})

	c.mu.Lock()
	c.client = client
	c.conn = conn
	c.cancel = cancel
	c.welcome = welcome
	c.registered = false
	c.closing = false
	c.mu.Unlock()

	runErr := make(chan error, 1)
	go func() {
		err := client.RunContext(runCtx)
		runErr <- err
		c.SetRunning(false)

		c.mu.Lock()
		report := c.registered && !c.closing
		c.mu.Unlock()
		if !report {
			return
		}
		if err == nil {
			err = errors.New("connection closed by server")
		}
		select {
		case c.errCh <- fmt.Errorf("irc: %w", err):
		default:
		}
	}()

	timer := time.NewTimer(registrationTimeout)
	defer timer.Stop()

	select {
	case <-welcome:
		c.SetRunning(true)
		slog.Info("irc registered", "server", c.config.Addr(), "channel", c.config.Channel)
		return nil
	case err := <-runErr:
		c.abort()
		if err == nil {
			err = errors.New("connection closed during registration")
		}
		return fmt.Errorf("irc register: %w", err)
	case <-timer.C:
		c.abort()
		return fmt.Errorf("irc register: no welcome from %s after %s", c.config.Addr(), registrationTimeout)
	case <-ctx.Done():
		c.abort()
		return ctx.Err()
	}
}

func (c *Channel) abort() {
	c.mu.Lock()
	c.closing = true
	cancel, conn := c.cancel, c.conn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Err delivers the error that ended the connection after a successful Start.
func (c *Channel) Err() <-chan error { return c.errCh }

// Stop sends QUIT and closes the connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping irc channel")

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client != nil && c.IsRunning() {
		_ = client.WriteMessage(&irc.Message{Command: "QUIT", Params: []string{"bye"}})
	}

	c.SetRunning(false)
	c.abort()
	return nil
}

// Send posts one PRIVMSG line to msg.ChatID. Content must already be a
// single line.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("irc channel not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat ID for irc send")
	}
	if strings.ContainsAny(msg.Content, "\r\n") {
		return fmt.Errorf("irc send: line break in outbound content")
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	slog.Debug("irc send", "target", msg.ChatID, "text", channels.Truncate(msg.Content, 80))
	if err := client.WriteMessage(&irc.Message{
		Command: "PRIVMSG",
		Params:  []string{msg.ChatID, msg.Content},
	}); err != nil {
		return fmt.Errorf("irc send to %s: %w", msg.ChatID, err)
	}
	return nil
}

// handle dispatches server messages. It runs on the client's read loop.
func (c *Channel) handle(client *irc.Client, m *irc.Message) {
	switch m.Command {
	case "001":
		if err := client.WriteMessage(&irc.Message{Command: "JOIN", Params: []string{c.config.Channel}}); err != nil {
			slog.Error("irc join failed", "channel", c.config.Channel, "error", err)
		}
		c.mu.Lock()
		welcome := c.welcome
		c.welcome = nil
		c.registered = true
		c.mu.Unlock()
		if welcome != nil {
			close(welcome)
		}

	case "JOIN":
		if m.Prefix != nil && m.Prefix.Name == client.CurrentNick() && len(m.Params) > 0 {
			slog.Info("joined irc channel", "channel", m.Params[0])
		}

	case "PRIVMSG":
		if len(m.Params) < 2 {
			return
		}
		sender := unknownSender
		if m.Prefix != nil && m.Prefix.Name != "" {
			sender = m.Prefix.Name
		}
		c.HandleMessage(sender, m.Params[0], m.Trailing())

	case "ERROR":
		slog.Warn("irc server error", "message", m.Trailing())
	}
}
