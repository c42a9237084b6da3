package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/st-keller/taskrouter-client/backoff"
	"github.com/st-keller/taskrouter-client/config"
	"github.com/st-keller/taskrouter-client/credential"
	"github.com/st-keller/taskrouter-client/heartbeat"
	"github.com/st-keller/taskrouter-client/logging"
	"github.com/st-keller/taskrouter-client/metrics"
)

// ErrAlreadyStarted is returned by Start on a running transport.
var ErrAlreadyStarted = errors.New("signaling transport already started")

// Options configures a Transport.
type Options struct {
	Endpoints             config.Endpoints
	CloseExistingSessions bool
	Dialer                Dialer        // defaults to WebSocketDialer
	HeartbeatInterval     time.Duration // defaults to heartbeat.DefaultIntervalSec
	Handler               Handler
	Logger                *slog.Logger
	Metrics               *metrics.Metrics
}

// Transport owns a single push connection at a time and reconnects with backoff whenever it closes.
//
// Notifications are delivered sequentially from the transport goroutine, so a handler that blocks
// delays reading. The one exception is EventTokenExpired, which arrives from the expiry timer.
type Transport struct {
	log           *slog.Logger
	metrics       *metrics.Metrics
	dialer        Dialer
	endpoints     config.Endpoints
	closeExisting bool
	handler       Handler
	watchdog      *heartbeat.Watchdog
	monitor       *credential.Monitor
	delay         func(attempt int) time.Duration // for testing

	mu      sync.Mutex
	token   string
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	attempt int
}

// New validates token and arms the expiry monitor. The connection is opened by Start.
func New(token string, opts Options) (*Transport, error) {
	claims, err := credential.Parse(token)
	if err != nil {
		return nil, err
	}
	if opts.Endpoints.WebSocket == "" {
		return nil, fmt.Errorf("websocket endpoint is required: %w", credential.ErrInvalidArgument)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	handler := opts.Handler
	if handler == nil {
		handler = func(Notification) {}
	}

	t := &Transport{
		log:           logging.Component(opts.Logger, "signaling"),
		metrics:       opts.Metrics,
		dialer:        dialer,
		endpoints:     opts.Endpoints,
		closeExisting: opts.CloseExistingSessions,
		handler:       handler,
		watchdog:      heartbeat.New(opts.HeartbeatInterval),
		delay:         backoff.Delay,
		token:         token,
		attempt:       1,
	}
	t.monitor = credential.NewMonitor(func() {
		t.log.Info("token expired", "worker_sid", claims.WorkerSID())
		t.handler(Notification{Name: EventTokenExpired})
	})
	t.arm(claims)

	return t, nil
}

// UpdateToken validates token and re-arms the expiry monitor. The open connection is kept;
// the new token is used from the next reconnect on.
func (t *Transport) UpdateToken(token string) error {
	claims, err := credential.Parse(token)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.token = token
	t.mu.Unlock()

	t.arm(claims)
	t.log.Info("updated token", "worker_sid", claims.WorkerSID())
	return nil
}

func (t *Transport) arm(claims *credential.Claims) {
	if exp := claims.Expiry(); !exp.IsZero() {
		t.monitor.Arm(exp)
	}
}

// Token returns the token currently in force.
func (t *Transport) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

// Attempt returns the number of the next connection attempt.
func (t *Transport) Attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// Start connects in the background and keeps reconnecting until ctx is done or Stop is called.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.run(ctx, t.done)
	return nil
}

// Stop closes the connection, ends the reconnect loop and waits for it to exit.
func (t *Transport) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	t.watchdog.Stop()
	t.monitor.Stop()
}

func (t *Transport) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	t.log.Debug("reconnect schedule", "delays", backoff.Sequence(6), "cap", backoff.MaxDelaySec*time.Second)

	for {
		t.session(ctx)
		if ctx.Err() != nil {
			return
		}

		t.mu.Lock()
		attempt := t.attempt
		t.attempt++
		t.mu.Unlock()

		wait := t.delay(attempt)
		t.log.Info("reconnecting", "attempt", attempt, "delay", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one connection from dial to close.
func (t *Transport) session(ctx context.Context) {
	url, err := t.endpoints.ConnectURL(t.Token(), t.closeExisting)
	if err != nil {
		t.emitError(fmt.Errorf("%w: %v", ErrGatewayConnectionFailed, err))
		return
	}

	conn, err := t.dialer.Dial(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.log.Error("websocket connection failed", "error", err)
		t.emitError(fmt.Errorf("%w: %v", ErrGatewayConnectionFailed, err))
		return
	}

	t.mu.Lock()
	t.conn = conn
	t.attempt = 1
	t.mu.Unlock()

	t.metrics.Connected(ctx)
	t.log.Info("websocket connected")
	t.handler(Notification{Name: EventConnected})

	var slept atomic.Bool
	t.watchdog.SetOnSleep(func() {
		t.log.Info("heartbeat not received, closing websocket", "interval", t.watchdog.Interval())
		slept.Store(true)
		_ = conn.Close()
	})
	t.watchdog.Beat()

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			t.log.Debug("websocket read ended", "error", err)
			break
		}
		t.watchdog.Beat()
		t.handleFrame(ctx, data)
	}

	t.watchdog.SetOnSleep(nil)
	t.watchdog.Stop()
	_ = conn.Close()

	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()

	reason := "network"
	switch {
	case ctx.Err() != nil:
		reason = "stopped"
	case slept.Load():
		reason = "heartbeat"
	}
	t.metrics.Disconnected(context.WithoutCancel(ctx), reason)
	t.log.Info("websocket connection closed", "reason", reason)
	t.handler(Notification{Name: EventDisconnected})
}

func (t *Transport) handleFrame(ctx context.Context, data []byte) {
	if len(bytes.TrimSpace(data)) == 0 {
		t.metrics.Frame(ctx, true)
		return
	}
	t.metrics.Frame(ctx, false)

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.metrics.Malformed(ctx)
		t.log.Error("received data is not valid JSON", "error", err, "bytes", len(data))
		t.emitError(ErrInvalidGatewayMessage)
		return
	}

	n, ok := Map(env.EventType, env.Payload)
	if !ok {
		t.log.Debug("dropping unmapped event", "event_type", env.EventType)
		return
	}
	t.handler(n)
}

func (t *Transport) emitError(err error) {
	t.handler(Notification{Name: EventError, Err: err})
}
