// Package taskrouter is a real-time worker client for a task-distribution backend.
//
// A Worker keeps an in-memory model of one worker (its current activity, its channels and its
// pending reservations) in sync with the backend using two channels:
//   - the signaling transport: a push connection with heartbeat liveness and backoff reconnects
//   - the command channel: request/response calls relayed through the event gateway
//
// Every (re)connect triggers a bulk fetch that replaces the model and then emits EventReady.
// Pushes and command responses patch the model under a single lock; events are delivered to
// subscribers after the lock is released.
package taskrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/st-keller/taskrouter-client/command"
	"github.com/st-keller/taskrouter-client/config"
	"github.com/st-keller/taskrouter-client/credential"
	"github.com/st-keller/taskrouter-client/logging"
	"github.com/st-keller/taskrouter-client/signaling"
	"github.com/st-keller/taskrouter-client/transport"
)

// Worker is the synchronized model of one worker.
type Worker struct {
	log       *slog.Logger
	opts      Options
	endpoints config.Endpoints
	sender    command.Sender
	client    *command.Client // nil when Options.Sender is set
	signaling *signaling.Transport

	accountSID   string
	workspaceSID string
	sid          string

	// mu guards the worker fields below and every Activity, Channel and Reservation reachable from them.
	mu                sync.RWMutex
	ctx               context.Context
	cancel            context.CancelFunc
	token             string
	ready             bool
	name              string
	attributes        json.RawMessage
	dateCreated       time.Time
	dateUpdated       time.Time
	dateStatusChanged time.Time
	activity          *Activity
	activities        map[string]*Activity
	channels          map[string]*Channel
	reservations      map[string]*Reservation

	subMu   sync.RWMutex
	subs    []subscriber
	nextSub int
}

// New validates token and prepares the worker. Nothing is dialed until Start.
func New(token string, opts Options) (*Worker, error) {
	claims, err := credential.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("unable to create worker: %w", err)
	}
	opts = opts.withDefaults()

	endpoints := opts.Endpoints
	if endpoints.WebSocket == "" {
		endpoints = config.NewEndpoints(opts.Environment, claims.AccountSID(), claims.WorkspaceSID(), claims.WorkerSID())
	}

	w := &Worker{
		log:          logging.Component(opts.Logger, "worker").With("worker_sid", claims.WorkerSID()),
		opts:         opts,
		endpoints:    endpoints,
		accountSID:   claims.AccountSID(),
		workspaceSID: claims.WorkspaceSID(),
		sid:          claims.WorkerSID(),
		ctx:          context.Background(),
		token:        token,
		activities:   make(map[string]*Activity),
		channels:     make(map[string]*Channel),
		reservations: make(map[string]*Reservation),
	}

	w.sender = opts.Sender
	if w.sender == nil {
		httpClient := opts.HTTPClient
		if httpClient == nil {
			httpClient, err = transport.BuildHTTP2Client(transport.Options{Timeout: opts.CommandTimeout})
			if err != nil {
				return nil, fmt.Errorf("failed to build HTTP client: %w", err)
			}
		}
		w.client = command.NewClient(endpoints.EventBridge, command.ClientOptions{
			HTTPClient: httpClient,
			Timeout:    opts.CommandTimeout,
			Logger:     opts.Logger,
			Metrics:    opts.Metrics,
		})
		w.sender = w.client
	}

	w.signaling, err = signaling.New(token, signaling.Options{
		Endpoints:             endpoints,
		CloseExistingSessions: opts.CloseExistingSessions,
		Dialer:                opts.Dialer,
		HeartbeatInterval:     opts.HeartbeatInterval,
		Handler:               w.handle,
		Logger:                opts.Logger,
		Metrics:               opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create signaling: %w", err)
	}

	return w, nil
}

// Start opens the push connection. Initialization runs on every connect and ends in EventReady
// or EventError.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return signaling.ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	w.ctx = ctx
	w.cancel = cancel
	w.mu.Unlock()

	if err := w.signaling.Start(ctx); err != nil {
		cancel()
		return err
	}
	return nil
}

// Stop aborts any in-flight initialization, closes the push connection and waits for the final
// EventDisconnected to be handled.
func (w *Worker) Stop() {
	w.mu.RLock()
	cancel := w.cancel
	w.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	w.signaling.Stop()
}

// SID returns the worker sid.
func (w *Worker) SID() string { return w.sid }

// AccountSID returns the account that owns the worker.
func (w *Worker) AccountSID() string { return w.accountSID }

// WorkspaceSID returns the workspace the worker belongs to.
func (w *Worker) WorkspaceSID() string { return w.workspaceSID }

// ConnectActivitySID returns the activity entered after initialization, if any.
func (w *Worker) ConnectActivitySID() string { return w.opts.ConnectActivitySID }

// DisconnectActivitySID returns the activity entered on disconnect, if any.
func (w *Worker) DisconnectActivitySID() string { return w.opts.DisconnectActivitySID }

// Ready reports whether initialization completed since the last connect.
func (w *Worker) Ready() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ready
}

// Name returns the worker friendly name.
func (w *Worker) Name() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.name
}

// Attributes returns a copy of the worker attributes document.
func (w *Worker) Attributes() json.RawMessage {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append(json.RawMessage(nil), w.attributes...)
}

// DateCreated returns when the worker was created.
func (w *Worker) DateCreated() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dateCreated
}

// DateUpdated returns when the worker was last updated.
func (w *Worker) DateUpdated() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dateUpdated
}

// DateStatusChanged returns when the worker last changed activity.
func (w *Worker) DateStatusChanged() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dateStatusChanged
}

// Activity returns the current activity, or nil before initialization.
func (w *Worker) Activity() *Activity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.activity
}

// Activities returns a snapshot of the activity catalog keyed by sid.
func (w *Worker) Activities() map[string]*Activity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return maps.Clone(w.activities)
}

// Channels returns a snapshot of the worker's channels keyed by sid.
func (w *Worker) Channels() map[string]*Channel {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return maps.Clone(w.channels)
}

// Reservations returns a snapshot of the held reservations keyed by sid.
func (w *Worker) Reservations() map[string]*Reservation {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return maps.Clone(w.reservations)
}

// Reservation returns the held reservation with the given sid.
func (w *Worker) Reservation(sid string) (*Reservation, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.reservations[sid]
	return r, ok
}

// Channel returns the worker channel with the given sid.
func (w *Worker) Channel(sid string) (*Channel, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.channels[sid]
	return c, ok
}

// Token returns the token used for commands.
func (w *Worker) Token() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.token
}

// Connectivity reports recent command outcomes per backend resource. It is empty when a custom
// Sender is configured.
func (w *Worker) Connectivity() []command.EndpointStats {
	if w.client == nil {
		return nil
	}
	return w.client.Connectivity().Snapshot()
}

// UpdateToken re-arms expiry tracking and makes token the one used by later commands and
// reconnects. The open push connection is kept. An invalid token is rejected and the old one
// stays in force.
func (w *Worker) UpdateToken(token string) error {
	if err := w.signaling.UpdateToken(token); err != nil {
		return fmt.Errorf("unable to update token: %w", err)
	}

	w.mu.Lock()
	w.token = token
	w.mu.Unlock()

	w.log.Info("updated the worker's active token")
	w.log.Debug("new token", "token", token)
	w.emit(Event{Type: EventTokenUpdated})
	return nil
}

// SetCurrentActivity moves the worker into activitySID. The current activity only changes
// once the backend confirms.
func (w *Worker) SetCurrentActivity(ctx context.Context, activitySID string) error {
	if activitySID == "" {
		return fmt.Errorf("activity sid is required: %w", ErrInvalidArgument)
	}

	w.mu.RLock()
	loaded := len(w.activities) > 0
	_, known := w.activities[activitySID]
	w.mu.RUnlock()

	if !loaded {
		return ErrNotReady
	}
	if !known {
		return fmt.Errorf("%s: %w", activitySID, ErrUnknownActivity)
	}

	payload, err := w.send(ctx, http.MethodPost, w.workerURL(), command.Params{"ActivitySid": activitySID}, "activityUpdated")
	if err != nil {
		return err
	}

	var p workerPatch
	if err := decode(payload, &p); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	next, ok := w.activities[activitySID]
	if !ok {
		return fmt.Errorf("%s: %w", activitySID, ErrUnknownActivity)
	}
	w.swapActivity(next)
	w.apply(p)
	return nil
}

// SetAttributes replaces the worker attributes with the JSON encoding of attributes.
func (w *Worker) SetAttributes(ctx context.Context, attributes any) error {
	if attributes == nil {
		return fmt.Errorf("attributes are required: %w", ErrInvalidArgument)
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %v: %w", err, ErrInvalidArgument)
	}

	payload, err := w.send(ctx, http.MethodPost, w.workerURL(), command.Params{"Attributes": string(encoded)}, "attributesUpdated")
	if err != nil {
		return err
	}

	var p workerPatch
	if err := decode(payload, &p); err != nil {
		return err
	}

	w.mu.Lock()
	w.apply(p)
	w.mu.Unlock()
	return nil
}

// Tasks fetches the task of every held reservation, keyed by task sid.
func (w *Worker) Tasks(ctx context.Context) (map[string]*Task, error) {
	reservations := w.Reservations()
	tasks := make(map[string]*Task, len(reservations))
	if len(reservations) == 0 {
		return tasks, nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range reservations {
		r := r
		g.Go(func() error {
			task, err := r.Task(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			tasks[task.SID()] = task
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// apply patches the worker fields present in p. Caller holds w.mu.
func (w *Worker) apply(p workerPatch) {
	setString(&w.name, p.FriendlyName)
	if p.Attributes != nil {
		w.attributes = p.Attributes.raw()
	}
	setTime(&w.dateCreated, p.DateCreated)
	setTime(&w.dateUpdated, p.DateUpdated)
	setTime(&w.dateStatusChanged, p.DateStatusChanged)
}

// swapActivity makes next the only current activity. Caller holds w.mu.
func (w *Worker) swapActivity(next *Activity) {
	if w.activity != nil {
		w.activity.isCurrent = false
	}
	w.activity = next
	next.isCurrent = true
}

func (w *Worker) workerURL() string {
	return w.endpoints.TaskRouter + "/Workers/" + w.sid
}

func (w *Worker) runCtx() context.Context {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ctx
}

func (w *Worker) send(ctx context.Context, method, url string, params command.Params, eventType string) (json.RawMessage, error) {
	return w.sender.Send(ctx, command.Request{
		URL:       url,
		Method:    method,
		Params:    params,
		EventType: eventType,
		Token:     w.Token(),
	})
}
