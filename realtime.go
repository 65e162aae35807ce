package parley

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/parley-chat/parley-go/internal/logger/sl"
)

// ErrNotConnected is returned by Emit while there is no live connection.
var ErrNotConnected = errors.New("parley: realtime not connected")

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the push connection.
type RealtimeConfig struct {
	Token         string
	AutoReconnect bool
	// MaxReconnectAttempts bounds consecutive reconnects; negative means
	// unlimited.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
	Logger               *slog.Logger
	Metrics              *Metrics
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Handlers
// ============================================================================

type realtimeHandlers struct {
	mu             sync.RWMutex
	onEnvelope     []func(Envelope)
	onConnected    []func()
	onReconnected  []func()
	onDisconnected []func(int, string)
	onReconnecting []func(int, time.Duration)
}

// envelope runs on the read loop so events are applied in delivery order.
func (h *realtimeHandlers) envelope(env Envelope) {
	h.mu.RLock()
	handlers := append([]func(Envelope){}, h.onEnvelope...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(env)
	}
}

func (h *realtimeHandlers) connected(reconnect bool) {
	h.mu.RLock()
	handlers := append([]func(){}, h.onConnected...)
	if reconnect {
		handlers = append(handlers, h.onReconnected...)
	}
	h.mu.RUnlock()
	for _, fn := range handlers {
		go fn()
	}
}

func (h *realtimeHandlers) disconnected(code int, reason string) {
	h.mu.RLock()
	handlers := append([]func(int, string){}, h.onDisconnected...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		go fn(code, reason)
	}
}

func (h *realtimeHandlers) reconnecting(attempt int, delay time.Duration) {
	h.mu.RLock()
	handlers := append([]func(int, time.Duration){}, h.onReconnecting...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		go fn(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay is exponential with up to 50% jitter, capped at maxDelay. A
// connection that stayed up for a minute resets the attempt count.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient is the WebSocket push connection. Inbound frames are
// decoded into Envelopes and handed to OnEnvelope handlers on the read
// loop; outbound events go through Emit.
type RealtimeClient struct {
	url      string
	config   *RealtimeConfig
	log      *slog.Logger
	handlers realtimeHandlers
	recon    *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	everConnected    bool
	parent           context.Context
	cancelFn         context.CancelFunc
}

// NewRealtimeClient creates a client for the socket endpoint at rawURL.
// http(s) URLs are mapped to ws(s).
func NewRealtimeClient(rawURL string, config *RealtimeConfig) *RealtimeClient {
	if config == nil {
		config = &RealtimeConfig{}
	}
	cfg := *config
	cfg.defaults()
	return &RealtimeClient{
		url:    rawURL,
		config: &cfg,
		log:    cfg.Logger.With(slog.String("component", "realtime")),
		recon:  newReconnector(&cfg),
		state:  StateDisconnected,
	}
}

// OnEnvelope registers a handler for every inbound frame.
func (rc *RealtimeClient) OnEnvelope(h func(Envelope)) {
	rc.handlers.mu.Lock()
	rc.handlers.onEnvelope = append(rc.handlers.onEnvelope, h)
	rc.handlers.mu.Unlock()
}

// OnConnected registers a handler for every successful connect.
func (rc *RealtimeClient) OnConnected(h func()) {
	rc.handlers.mu.Lock()
	rc.handlers.onConnected = append(rc.handlers.onConnected, h)
	rc.handlers.mu.Unlock()
}

// OnReconnected registers a handler that runs when a connection is
// re-established after a drop. Events may have been missed in between.
func (rc *RealtimeClient) OnReconnected(h func()) {
	rc.handlers.mu.Lock()
	rc.handlers.onReconnected = append(rc.handlers.onReconnected, h)
	rc.handlers.mu.Unlock()
}

func (rc *RealtimeClient) OnDisconnected(h func(code int, reason string)) {
	rc.handlers.mu.Lock()
	rc.handlers.onDisconnected = append(rc.handlers.onDisconnected, h)
	rc.handlers.mu.Unlock()
}

func (rc *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rc.handlers.mu.Lock()
	rc.handlers.onReconnecting = append(rc.handlers.onReconnecting, h)
	rc.handlers.mu.Unlock()
}

// State returns the current connection state.
func (rc *RealtimeClient) State() RealtimeState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

func (rc *RealtimeClient) setState(s RealtimeState) {
	rc.mu.Lock()
	rc.state = s
	rc.mu.Unlock()
}

// socketURL maps the configured URL to a ws(s) URL carrying the token.
func (rc *RealtimeClient) socketURL() (string, error) {
	u, err := url.Parse(rc.url)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if rc.config.Token != "" {
		q := u.Query()
		q.Set("token", rc.config.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect dials the socket and starts the read and heartbeat loops. The
// loops live until ctx is cancelled or Disconnect is called.
func (rc *RealtimeClient) Connect(ctx context.Context) error {
	const op = "parley.RealtimeClient.Connect"
	log := rc.log.With(slog.String("op", op))

	rc.mu.Lock()
	if rc.state == StateConnected || rc.state == StateConnecting {
		rc.mu.Unlock()
		return nil
	}
	rc.state = StateConnecting
	rc.intentionalClose = false
	rc.parent = ctx
	rc.mu.Unlock()

	wsURL, err := rc.socketURL()
	if err != nil {
		rc.setState(StateDisconnected)
		return err
	}

	opts := &websocket.DialOptions{HTTPClient: rc.config.HTTPClient}
	if rc.config.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + rc.config.Token}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		rc.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	rc.mu.Lock()
	rc.conn = conn
	rc.state = StateConnected
	rc.cancelFn = cancel
	reconnect := rc.everConnected
	rc.everConnected = true
	rc.mu.Unlock()
	rc.recon.markConnected()

	log.Info("connected", slog.Bool("reconnect", reconnect))
	rc.handlers.connected(reconnect)

	go rc.readLoop(connCtx, cancel, conn)
	go rc.heartbeatLoop(connCtx, conn)
	return nil
}

// Disconnect closes the connection without reconnecting.
func (rc *RealtimeClient) Disconnect() error {
	rc.mu.Lock()
	rc.intentionalClose = true
	if rc.cancelFn != nil {
		rc.cancelFn()
		rc.cancelFn = nil
	}
	conn := rc.conn
	rc.conn = nil
	rc.state = StateDisconnected
	rc.mu.Unlock()

	rc.handlers.disconnected(int(websocket.StatusNormalClosure), "client disconnect")
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Emit sends one outbound event. It implements Emitter.
func (rc *RealtimeClient) Emit(ctx context.Context, event string, payload any) error {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

// readLoop owns conn until it fails. Reconnecting happens under the
// context Connect was called with, not the dead connection's.
func (rc *RealtimeClient) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			cancel()
			rc.mu.Lock()
			intentional := rc.intentionalClose
			if rc.conn == conn {
				rc.conn = nil
				rc.state = StateDisconnected
			}
			parent := rc.parent
			rc.mu.Unlock()
			if intentional || parent.Err() != nil {
				return
			}

			rc.log.Warn("connection lost", sl.Err(err))
			rc.handlers.disconnected(int(websocket.CloseStatus(err)), err.Error())

			if rc.config.AutoReconnect {
				rc.reconnect(parent)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			rc.log.Debug("dropping malformed frame", slog.Int("bytes", len(data)))
			continue
		}
		rc.handlers.envelope(env)
	}
}

func (rc *RealtimeClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rc.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					rc.log.Warn("heartbeat failed", sl.Err(err))
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (rc *RealtimeClient) reconnect(ctx context.Context) {
	for rc.recon.shouldReconnect() {
		delay := rc.recon.nextDelay()
		rc.setState(StateReconnecting)
		rc.config.Metrics.reconnect()
		rc.handlers.reconnecting(rc.recon.attempt, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			rc.setState(StateDisconnected)
			return
		case <-timer.C:
		}

		rc.mu.Lock()
		stop := rc.intentionalClose
		rc.mu.Unlock()
		if stop {
			return
		}
		rc.setState(StateDisconnected)
		if err := rc.Connect(ctx); err != nil {
			rc.log.Debug("reconnect failed", slog.Int("attempt", rc.recon.attempt), sl.Err(err))
			continue
		}
		return
	}
	rc.setState(StateDisconnected)
	rc.log.Error("giving up on reconnect", slog.Int("attempts", rc.recon.attempt))
}
