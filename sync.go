package taskrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/st-keller/taskrouter-client/command"
	"github.com/st-keller/taskrouter-client/signaling"
)

var reservationTransitions = map[string]Transition{
	signaling.EventReservationAccepted:  TransitionAccepted,
	signaling.EventReservationRejected:  TransitionRejected,
	signaling.EventReservationTimedOut:  TransitionTimedOut,
	signaling.EventReservationCanceled:  TransitionCanceled,
	signaling.EventReservationRescinded: TransitionRescinded,
}

// handle applies one signaling notification. It runs on the signaling goroutine.
func (w *Worker) handle(n signaling.Notification) {
	switch n.Name {
	case signaling.EventConnected:
		w.initialize(w.runCtx())
	case signaling.EventDisconnected:
		w.disconnected()
	case signaling.EventError:
		w.emit(Event{Type: EventError, Err: n.Err})
	case signaling.EventTokenExpired:
		w.log.Info("token has expired")
		w.emit(Event{Type: EventTokenExpired})

	case signaling.EventWorkerActivityUpdated:
		w.workerActivityUpdated(n.Payload)
	case signaling.EventWorkerAttributesUpdated:
		w.workerAttributesUpdated(n.Payload)
	case signaling.EventWorkerCapacityUpdated:
		w.channelUpdated(n.Payload, EventChannelCapacityUpdated)
	case signaling.EventWorkerChannelAvailabilityUpdated:
		w.channelUpdated(n.Payload, EventChannelAvailabilityUpdated)
	case signaling.EventActivityUpdated:
		w.activityUpdated(n.Payload)
	case signaling.EventReservationCreated:
		w.reservationCreated(n.Payload)

	default:
		if t, ok := reservationTransitions[n.Name]; ok {
			w.reservationTransition(t, n.Payload)
			return
		}
		w.log.Debug("ignoring notification", "name", n.Name)
	}
}

type initialState struct {
	worker       workerPatch
	activities   []activityPatch
	channels     []channelPatch
	reservations []reservationPatch
}

// initialize fetches the worker, its activity catalog, channels and pending reservations
// concurrently and replaces the model with the result.
func (w *Worker) initialize(ctx context.Context) {
	w.log.Info("initializing worker")

	w.mu.Lock()
	w.ready = false
	w.mu.Unlock()

	state, err := w.fetchInitialState(ctx)
	if ctx.Err() != nil {
		w.log.Info("initialization canceled")
		return
	}
	if err != nil {
		w.log.Error("unable to initialize worker", "error", err)
		w.emit(Event{Type: EventError, Err: fmt.Errorf("unable to initialize worker: %w", err)})
		return
	}

	activities := make(map[string]*Activity, len(state.activities))
	for _, p := range state.activities {
		activities[p.SID] = newActivity(w, p)
	}
	channels := make(map[string]*Channel, len(state.channels))
	for _, p := range state.channels {
		channels[p.SID] = newChannel(w, p)
	}
	reservations := make(map[string]*Reservation, len(state.reservations))
	for _, p := range state.reservations {
		r := newReservation(w, p)
		reservations[r.sid] = r
	}

	w.mu.Lock()
	if w.activity != nil {
		w.activity.isCurrent = false
		w.activity = nil
	}
	w.activities = activities
	w.channels = channels
	w.reservations = reservations
	w.apply(state.worker)
	if sid := deref(state.worker.ActivitySID); sid != "" {
		if a, ok := activities[sid]; ok {
			w.swapActivity(a)
		} else {
			w.log.Warn("current activity is not in the catalog", "activity_sid", sid)
		}
	}
	w.mu.Unlock()

	w.log.Info("worker state loaded",
		"activities", len(activities),
		"channels", len(channels),
		"pending_reservations", len(reservations))

	if sid := w.opts.ConnectActivitySID; sid != "" {
		if err := w.SetCurrentActivity(ctx, sid); err != nil {
			w.log.Warn("unable to set activity on connect", "activity_sid", sid, "error", err)
		} else {
			w.log.Info("set activity on connect", "activity_sid", sid)
		}
	}

	if ctx.Err() != nil {
		w.log.Info("initialization canceled")
		return
	}

	w.mu.Lock()
	w.ready = true
	w.mu.Unlock()

	w.log.Info("worker successfully initialized")
	w.emit(Event{Type: EventReady})
}

// fetchInitialState waits for all four fetches and fails on the first error.
func (w *Worker) fetchInitialState(ctx context.Context) (initialState, error) {
	var (
		state        initialState
		activities   struct{ Activities []activityPatch `json:"activities"` }
		channels     struct{ Channels []channelPatch `json:"channels"` }
		reservations struct{ Reservations []reservationPatch `json:"reservations"` }
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.fetch(ctx, w.workerURL(), nil, &state.worker)
	})
	g.Go(func() error {
		return w.fetch(ctx, w.endpoints.TaskRouter+"/Activities", nil, &activities)
	})
	g.Go(func() error {
		return w.fetch(ctx, w.workerURL()+"/Channels", nil, &channels)
	})
	g.Go(func() error {
		params := command.Params{"ReservationStatus": string(StatusPending)}
		return w.fetch(ctx, w.workerURL()+"/Reservations", params, &reservations)
	})
	if err := g.Wait(); err != nil {
		return initialState{}, err
	}

	state.activities = activities.Activities
	state.channels = channels.Channels
	state.reservations = reservations.Reservations
	return state, nil
}

func (w *Worker) fetch(ctx context.Context, url string, params command.Params, out any) error {
	payload, err := w.send(ctx, http.MethodGet, url, params, "")
	if err != nil {
		return err
	}
	if err := decode(payload, out); err != nil {
		return fmt.Errorf("%s: %w", url, err)
	}
	return nil
}

func (w *Worker) disconnected() {
	w.mu.Lock()
	w.ready = false
	w.mu.Unlock()

	w.emit(Event{Type: EventDisconnected})

	sid := w.opts.DisconnectActivitySID
	if sid == "" {
		return
	}
	ctx := context.WithoutCancel(w.runCtx())
	if err := w.SetCurrentActivity(ctx, sid); err != nil {
		w.log.Error("unable to set activity on disconnect", "activity_sid", sid, "error", err)
		return
	}
	w.log.Info("set activity on disconnect", "activity_sid", sid)
}

func (w *Worker) pushFailed(name string, err error) {
	w.log.Error("unable to apply push", "event", name, "error", err)
	w.emit(Event{Type: EventError, Err: fmt.Errorf("%s: %w", name, err)})
}

func (w *Worker) workerActivityUpdated(payload json.RawMessage) {
	var p workerPatch
	if err := decode(payload, &p); err != nil {
		w.pushFailed(signaling.EventWorkerActivityUpdated, err)
		return
	}
	sid := deref(p.ActivitySID)

	w.mu.Lock()
	next, ok := w.activities[sid]
	if ok {
		w.swapActivity(next)
		w.apply(p)
	}
	w.mu.Unlock()

	if !ok {
		w.pushFailed(signaling.EventWorkerActivityUpdated, fmt.Errorf("%q: %w", sid, ErrUnknownActivity))
		return
	}
	w.emit(Event{Type: EventActivityUpdated})
}

func (w *Worker) workerAttributesUpdated(payload json.RawMessage) {
	var p workerPatch
	if err := decode(payload, &p); err != nil {
		w.pushFailed(signaling.EventWorkerAttributesUpdated, err)
		return
	}

	w.mu.Lock()
	w.apply(p)
	w.mu.Unlock()

	w.emit(Event{Type: EventAttributesUpdated})
}

func (w *Worker) channelUpdated(payload json.RawMessage, event EventType) {
	var p channelPatch
	if err := decode(payload, &p); err != nil {
		w.pushFailed(string(event), err)
		return
	}

	w.mu.Lock()
	c, ok := w.channels[p.SID]
	if ok {
		c.apply(p)
	}
	w.mu.Unlock()

	if !ok {
		w.log.Error("channel not found, dropping update", "channel_sid", p.SID, "event", event)
		return
	}
	w.emit(Event{Type: event, Channel: c})
}

func (w *Worker) activityUpdated(payload json.RawMessage) {
	var p activityPatch
	if err := decode(payload, &p); err != nil {
		w.pushFailed(signaling.EventActivityUpdated, err)
		return
	}

	w.mu.Lock()
	a, ok := w.activities[p.SID]
	if ok {
		a.apply(p)
	}
	w.mu.Unlock()

	if !ok {
		w.log.Error("activity not found, dropping update", "activity_sid", p.SID)
		return
	}
	w.emit(Event{Type: EventActivityNameUpdated, Activity: a})
}

func (w *Worker) reservationCreated(payload json.RawMessage) {
	var p reservationPatch
	if err := decode(payload, &p); err != nil {
		w.pushFailed(signaling.EventReservationCreated, err)
		return
	}
	if p.id() == "" {
		w.pushFailed(signaling.EventReservationCreated, fmt.Errorf("reservation sid missing: %w", ErrInvalidPayload))
		return
	}

	r := newReservation(w, p)
	w.mu.Lock()
	w.reservations[r.sid] = r
	w.mu.Unlock()

	w.emit(Event{Type: EventReservationCreated, Reservation: r})
}

// reservationTransition patches the reservation, sets the transition status, removes it when
// the transition is terminal, then emits.
func (w *Worker) reservationTransition(t Transition, payload json.RawMessage) {
	var p reservationPatch
	if err := decode(payload, &p); err != nil {
		w.pushFailed(string(t.Event()), err)
		return
	}
	sid := p.id()

	w.mu.Lock()
	r, ok := w.reservations[sid]
	if ok {
		r.apply(p)
		r.status = t.Status()
		if t.Removes() {
			delete(w.reservations, sid)
		}
	}
	w.mu.Unlock()

	if !ok {
		w.log.Error("reservation not found, unable to emit event", "reservation_sid", sid, "event", t.Event())
		return
	}
	w.emit(Event{Type: t.Event(), Reservation: r})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
