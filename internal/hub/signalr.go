// Package hub forwards service events to the downstream SignalR hub.
package hub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/philippseith/signalr"
)

// ErrNotConnected is returned by Invoke while the hub is unreachable.
var ErrNotConnected = errors.New("hub not connected")

// Options configures a hub connection.
type Options struct {
	URL                string
	InsecureSkipVerify bool
	ReconnectDelay     time.Duration
	KeepAliveInterval  time.Duration
	HandshakeTimeout   time.Duration
	// ServerTimeout closes the connection when the hub stays silent longer.
	ServerTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = 15 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 15 * time.Second
	}
	if o.ServerTimeout <= 0 {
		o.ServerTimeout = 30 * time.Second
	}
}

// Conn is a client connection to a SignalR hub. It keeps itself connected
// until the context passed to Run is cancelled.
type Conn struct {
	opts       Options
	httpClient *http.Client
	log        *slog.Logger

	mu     sync.RWMutex
	client signalr.Client
}

// NewConn creates a hub connection. Call Run to connect.
func NewConn(opts Options, log *slog.Logger) *Conn {
	opts.setDefaults()
	if log == nil {
		log = slog.Default()
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify} //nolint:gosec // development hubs use self-signed certificates

	return &Conn{
		opts: opts,
		httpClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig, Proxy: http.ProxyFromEnvironment},
		},
		log: log.With("component", "hub"),
	}
}

// Connected reports whether the hub handshake has completed and the
// connection is still open.
func (c *Conn) Connected() bool {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	return client != nil && client.State() == signalr.ClientConnected
}

// Run connects to the hub and reconnects after every failure until ctx is
// cancelled.
func (c *Conn) Run(ctx context.Context) {
	client, err := signalr.NewClient(ctx,
		signalr.WithConnector(func() (signalr.Connection, error) {
			dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
			defer cancel()
			return signalr.NewHTTPConnection(dialCtx, c.opts.URL, signalr.WithHTTPClient(c.httpClient))
		}),
		signalr.WithBackoff(func() backoff.BackOff {
			return backoff.NewConstantBackOff(c.opts.ReconnectDelay)
		}),
		signalr.KeepAliveInterval(c.opts.KeepAliveInterval),
		signalr.HandshakeTimeout(c.opts.HandshakeTimeout),
		signalr.TimeoutInterval(c.opts.ServerTimeout),
		signalr.Logger(&logAdapter{log: c.log}, c.log.Enabled(ctx, slog.LevelDebug)),
	)
	if err != nil {
		c.log.Error("failed to create hub client", "error", err)
		return
	}

	states := make(chan signalr.ClientState, 8)
	stopObserving := client.ObserveStateChanged(states)
	defer stopObserving()

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	client.Start()

	for {
		select {
		case <-ctx.Done():
			client.Stop()
			c.log.Info("hub connection closed")
			return
		case st := <-states:
			switch st {
			case signalr.ClientConnected:
				c.log.Info("connected to hub", "url", c.opts.URL)
			case signalr.ClientConnecting:
				c.log.Warn("hub connection lost, reconnecting", "delay", c.opts.ReconnectDelay, "error", client.Err())
			case signalr.ClientClosed:
				c.log.Warn("hub connection closed", "error", client.Err())
			}
		}
	}
}

// Invoke calls a hub method and waits for its completion.
func (c *Conn) Invoke(ctx context.Context, target string, args ...any) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil || client.State() != signalr.ClientConnected {
		return ErrNotConnected
	}

	select {
	case res := <-client.Invoke(target, args...):
		if res.Error != nil {
			return fmt.Errorf("hub method failed: %w", res.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logAdapter routes the hub client's key/value logs into slog.
type logAdapter struct {
	log *slog.Logger
}

func (a *logAdapter) Log(keyVals ...interface{}) error {
	level := slog.LevelDebug
	msg := "signalr"
	attrs := make([]any, 0, len(keyVals))

	for i := 0; i+1 < len(keyVals); i += 2 {
		key := fmt.Sprint(keyVals[i])
		val := keyVals[i+1]
		switch key {
		case "level":
			level = parseLevel(fmt.Sprint(val))
		case "msg", "message":
			msg = fmt.Sprint(val)
		case "ts", "caller":
		default:
			attrs = append(attrs, key, val)
		}
	}

	a.log.Log(context.Background(), level, msg, attrs...)
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
