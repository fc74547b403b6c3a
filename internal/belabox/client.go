package belabox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/715209/belabot/internal/buildinfo"
)

const (
	// DefaultEndpoint is the BELABOX Cloud remote relay.
	DefaultEndpoint = "wss://remote.belabox.net/ws/remote"

	// keepaliveInterval is how often a liveness frame is written while
	// the connection is up.
	keepaliveInterval = 5 * time.Second

	// maxBackoffShift caps the reconnect delay at 2^5 = 32 seconds.
	maxBackoffShift = 5
)

// Client is the session handle: it supervises the connection to BELABOX
// Cloud and exposes request submission and event subscription. Create
// one with NewClient, then call Run exactly once; Run blocks until ctx
// is cancelled and reconnects indefinitely in between.
type Client struct {
	endpoint string
	key      string
	logger   *slog.Logger

	writer   writer
	requests chan request
	bus      *bus
	done     chan struct{}
}

// request pairs one encoded frame with its completion channel. The
// channel is buffered so the gateway can always resolve it exactly
// once, even when the submitter has already given up.
type request struct {
	frame []byte
	resp  chan error
}

// writer is the exclusive write half of the active connection, shared
// by the request gateway and the keepalive ticker. conn is nil while
// disconnected; it is replaced wholesale on every reconnect.
type writer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// install makes conn the active connection and writes first before any
// other writer can run, so authentication always precedes queued frames.
func (w *writer) install(conn *websocket.Conn, first []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn = conn
	if err := conn.WriteMessage(websocket.TextMessage, first); err != nil {
		w.conn = nil
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// revoke removes the active connection; subsequent writes fail with
// ErrDisconnected until the next install.
func (w *writer) revoke() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn = nil
}

func (w *writer) write(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return ErrDisconnected
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (w *writer) connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

// NewClient creates a session client for the given relay endpoint.
// An empty endpoint means DefaultEndpoint. The client does not connect
// until Run is called, but requests may be submitted immediately; they
// resolve with ErrDisconnected while no connection is live.
func NewClient(endpoint, key string, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		endpoint: endpoint,
		key:      key,
		logger:   logger,
		requests: make(chan request, 64),
		bus:      newBus(),
		done:     make(chan struct{}),
	}
	go c.gateway()
	return c
}

// Run drives the session: connect, authenticate, dispatch inbound
// frames, and reconnect with backoff on any failure. It never gives up;
// it returns only when ctx is cancelled, with ctx.Err(). After Run
// returns the session is closed for good.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.bus.close()

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		c.runConnection(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Connected reports whether a connection to the relay is currently up.
func (c *Client) Connected() bool { return c.writer.connected() }

// Subscribe attaches a new event subscriber with the given channel
// buffer. It fails with ErrSessionClosed once Run has returned.
func (c *Client) Subscribe(buf int) (*Subscription, error) {
	return c.bus.subscribe(buf)
}

// Send submits a request and waits for its outcome: nil after a
// successful write, ErrSendFailed on a write error, ErrDisconnected
// immediately when no connection is live.
func (c *Client) Send(ctx context.Context, r Request) error {
	frame, err := Encode(r)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req := request{frame: frame, resp: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.resp:
		return err
	case <-c.done:
		// The gateway may have resolved the request just before the
		// session closed; prefer that outcome when it is already there.
		select {
		case err := <-req.resp:
			return err
		default:
		}
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start asks the appliance to begin streaming.
func (c *Client) Start(ctx context.Context, s Start) error { return c.Send(ctx, s) }

// Stop asks the appliance to stop streaming.
func (c *Client) Stop(ctx context.Context) error { return c.Send(ctx, Stop{}) }

// SetBitrate changes the maximum video bitrate in kbps.
func (c *Client) SetBitrate(ctx context.Context, kbps int) error {
	return c.Send(ctx, Bitrate{MaxBr: kbps})
}

// ToggleNetif enables or disables a network interface.
func (c *Client) ToggleNetif(ctx context.Context, name, ip string, enabled bool) error {
	return c.Send(ctx, Netif{Name: name, IP: ip, Enabled: enabled})
}

// Reboot restarts the appliance.
func (c *Client) Reboot(ctx context.Context) error { return c.Send(ctx, CommandReboot) }

// Poweroff shuts the appliance down.
func (c *Client) Poweroff(ctx context.Context) error { return c.Send(ctx, CommandPoweroff) }

// gateway resolves each submitted request against the current
// connection. It runs for the lifetime of the client so submissions
// made while disconnected still resolve immediately.
func (c *Client) gateway() {
	for {
		select {
		case <-c.done:
			// Resolve anything still queued so no submitter is left
			// waiting on a request the session will never write.
			for {
				select {
				case req := <-c.requests:
					req.resp <- ErrDisconnected
				default:
					return
				}
			}
		case req := <-c.requests:
			req.resp <- c.writer.write(req.frame)
		}
	}
}

// dial opens a connection to the relay, retrying indefinitely with
// capped exponential backoff. A successful dial resets the backoff.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	failures := 0
	for {
		c.logger.Info("connecting to BELABOX Cloud", "endpoint", c.endpoint)
		header := http.Header{"User-Agent": {buildinfo.UserAgent()}}
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, header)
		if err == nil {
			c.logger.Info("connected")
			return conn, nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		failures++
		wait := reconnectDelay(failures)
		c.logger.Warn("unable to connect", "error", err, "retry_in", wait.String())
		if !sleepCtx(ctx, wait) {
			return nil, ctx.Err()
		}
	}
}

// reconnectDelay returns min(2^n, 32) seconds for the nth consecutive
// connect failure (n >= 1).
func reconnectDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > maxBackoffShift {
		n = maxBackoffShift
	}
	return time.Duration(1<<uint(n)) * time.Second
}

// runConnection owns one connection instance from authentication to
// teardown. On return the connection is closed, the writer is revoked,
// and the keepalive ticker has exited.
func (c *Client) runConnection(ctx context.Context, conn *websocket.Conn) {
	logger := c.logger.With("conn_id", uuid.NewString())

	authFrame, err := Encode(AuthKey{Key: c.key, Version: remoteProtocolVersion})
	if err != nil {
		logger.Error("encode auth request", "error", err)
		conn.Close()
		return
	}
	if err := c.writer.install(conn, authFrame); err != nil {
		logger.Error("sending auth request failed", "error", err)
		conn.Close()
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	kaDone := make(chan struct{})
	go func() {
		defer close(kaDone)
		c.keepalive(connCtx, logger)
	}()

	err = c.readLoop(conn, logger)

	cancel()
	c.writer.revoke()
	conn.Close()
	<-kaDone

	if errors.Is(err, ErrAuthFailed) {
		logger.Error("BELABOX Cloud rejected the remote key, reconnecting", "error", err)
	}
}

// keepalive writes a liveness frame every keepaliveInterval until the
// connection's context is cancelled. A write failure ends the ticker
// silently; the supervisor is already tearing the connection down.
func (c *Client) keepalive(ctx context.Context, logger *slog.Logger) {
	frame, err := Encode(Keepalive{})
	if err != nil {
		logger.Error("encode keepalive", "error", err)
		return
	}
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("keepalive cancelled")
			return
		case <-ticker.C:
			logger.Debug("sending keepalive")
			if err := c.writer.write(frame); err != nil {
				logger.Debug("keepalive write failed", "error", err)
				return
			}
		}
	}
}

// readLoop is the inbound dispatcher: it reads frames until the
// transport ends, decodes each envelope field independently, and
// broadcasts every decoded message. A rejected auth result is fatal
// for this connection and returns ErrAuthFailed.
func (c *Client) readLoop(conn *websocket.Conn, logger *slog.Logger) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				logger.Info("connection closed", "code", closeErr.Code, "reason", closeErr.Text)
			} else {
				logger.Warn("disconnected from BELABOX Cloud", "error", err)
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msgs, errs := Decode(data)
		for _, derr := range errs {
			if errors.Is(derr, ErrUnknownKey) {
				logger.Debug("unknown envelope key", "key", derr.Key)
			} else {
				logger.Warn("failed to decode envelope field", "key", derr.Key, "error", derr.Err)
			}
		}
		for _, m := range msgs {
			if auth, ok := m.(RemoteAuth); ok {
				if !auth.OK {
					return ErrAuthFailed
				}
				logger.Info("authenticated")
			}
			c.bus.publish(m)
		}
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
