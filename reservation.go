package taskrouter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/st-keller/taskrouter-client/command"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusAccepted  ReservationStatus = "accepted"
	StatusRejected  ReservationStatus = "rejected"
	StatusTimeout   ReservationStatus = "timeout"
	StatusCanceled  ReservationStatus = "canceled"
	StatusRescinded ReservationStatus = "rescinded"
)

// Transition is a pushed reservation status change.
type Transition int

const (
	TransitionAccepted Transition = iota
	TransitionRejected
	TransitionTimedOut
	TransitionCanceled
	TransitionRescinded
)

// transitions is indexed by Transition. Accepted reservations stay in the worker's collection;
// every other transition removes them.
var transitions = [...]struct {
	status ReservationStatus
	event  EventType
	remove bool
}{
	TransitionAccepted:  {StatusAccepted, EventReservationAccepted, false},
	TransitionRejected:  {StatusRejected, EventReservationRejected, true},
	TransitionTimedOut:  {StatusTimeout, EventReservationTimedOut, true},
	TransitionCanceled:  {StatusCanceled, EventReservationCanceled, true},
	TransitionRescinded: {StatusRescinded, EventReservationRescinded, true},
}

// Status returns the reservation status the transition moves to.
func (t Transition) Status() ReservationStatus { return transitions[t].status }

// Event returns the domain event emitted for the transition.
func (t Transition) Event() EventType { return transitions[t].event }

// Removes reports whether the reservation leaves the worker's collection.
func (t Transition) Removes() bool { return transitions[t].remove }

// String returns the target status name.
func (t Transition) String() string { return string(transitions[t].status) }

// Reservation is an offer of a task to the worker.
type Reservation struct {
	w   *Worker
	sid string

	taskSID               string
	workerSID             string
	workerName            string
	status                ReservationStatus
	taskChannelSID        string
	taskChannelUniqueName string
	dateCreated           time.Time
	dateUpdated           time.Time
}

// newReservation starts every reservation as pending, whatever status the payload reports.
func newReservation(w *Worker, p reservationPatch) *Reservation {
	r := &Reservation{
		w:         w,
		sid:       p.id(),
		taskSID:   p.taskID(),
		workerSID: w.sid,
	}
	r.apply(p)
	r.taskSID = p.taskID()
	r.status = StatusPending
	return r
}

// apply patches the fields present in p. Caller holds w.mu.
func (r *Reservation) apply(p reservationPatch) {
	setString(&r.taskSID, p.TaskSID)
	setString(&r.workerSID, p.WorkerSID)
	setString(&r.workerName, p.WorkerName)
	if p.ReservationStatus != nil {
		r.status = ReservationStatus(*p.ReservationStatus)
	}
	setString(&r.taskChannelSID, p.TaskChannelSID)
	setString(&r.taskChannelUniqueName, p.TaskChannelUniqueName)
	setTime(&r.dateCreated, p.DateCreated)
	setTime(&r.dateUpdated, p.DateUpdated)
}

// SID returns the reservation sid.
func (r *Reservation) SID() string { return r.sid }

// AccountSID returns the account that owns the reservation.
func (r *Reservation) AccountSID() string { return r.w.accountSID }

// WorkspaceSID returns the workspace the reservation belongs to.
func (r *Reservation) WorkspaceSID() string { return r.w.workspaceSID }

// TaskSID returns the reserved task sid.
func (r *Reservation) TaskSID() string {
	r.w.mu.RLock()
	defer r.w.mu.RUnlock()
	return r.taskSID
}

// WorkerSID returns the worker the reservation belongs to.
func (r *Reservation) WorkerSID() string {
	r.w.mu.RLock()
	defer r.w.mu.RUnlock()
	return r.workerSID
}

// WorkerName returns the friendly name of the reserved worker.
func (r *Reservation) WorkerName() string {
	r.w.mu.RLock()
	defer r.w.mu.RUnlock()
	return r.workerName
}

// Status returns the reservation status.
func (r *Reservation) Status() ReservationStatus {
	r.w.mu.RLock()
	defer r.w.mu.RUnlock()
	return r.status
}

// TaskChannelSID returns the task channel sid (voice, chat, ...).
func (r *Reservation) TaskChannelSID() string {
	r.w.mu.RLock()
	defer r.w.mu.RUnlock()
	return r.taskChannelSID
}

// TaskChannelUniqueName returns the task channel unique name.
func (r *Reservation) TaskChannelUniqueName() string {
	r.w.mu.RLock()
	defer r.w.mu.RUnlock()
	return r.taskChannelUniqueName
}

// DateCreated returns when the reservation was created.
func (r *Reservation) DateCreated() time.Time {
	r.w.mu.RLock()
	defer r.w.mu.RUnlock()
	return r.dateCreated
}

// DateUpdated returns when the reservation was last updated.
func (r *Reservation) DateUpdated() time.Time {
	r.w.mu.RLock()
	defer r.w.mu.RUnlock()
	return r.dateUpdated
}

// Task fetches the reserved task. The reservation is not modified.
func (r *Reservation) Task(ctx context.Context) (*Task, error) {
	url := r.w.endpoints.TaskRouter + "/Tasks/" + r.TaskSID()
	payload, err := r.w.send(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, err
	}

	var p taskPatch
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return newTask(r.w, p), nil
}

// Accept accepts the reservation.
func (r *Reservation) Accept(ctx context.Context) error {
	return r.update(ctx, command.Params{"ReservationStatus": string(StatusAccepted)}, "accepted")
}

// RejectOptions configures Reject.
type RejectOptions struct {
	ActivitySID string // activity to move the worker into after rejecting
}

// Reject rejects the reservation.
func (r *Reservation) Reject(ctx context.Context, opts RejectOptions) error {
	params := command.Params{"ReservationStatus": string(StatusRejected)}
	params.Set("WorkerActivitySid", opts.ActivitySID)
	return r.update(ctx, params, "rejected")
}

// CallOptions configures the call instruction.
type CallOptions struct {
	To                string
	Accept            bool
	Record            string
	Timeout           int // seconds
	StatusCallbackURL string
}

// Call issues the call instruction: the backend dials the worker and connects it to url.
func (r *Reservation) Call(ctx context.Context, from, url string, opts CallOptions) error {
	if from == "" {
		return fmt.Errorf("call instruction needs a from number: %w", ErrInvalidArgument)
	}
	if url == "" {
		return fmt.Errorf("call instruction needs a url: %w", ErrInvalidArgument)
	}

	params := command.Params{
		"Instruction": "call",
		"CallFrom":    from,
		"CallUrl":     url,
	}
	params.Set("CallTo", opts.To).
		Set("CallRecord", opts.Record).
		Set("CallStatusCallbackUrl", opts.StatusCallbackURL)
	if opts.Accept {
		params["CallAccept"] = "true"
	}
	if opts.Timeout > 0 {
		params["CallTimeout"] = strconv.Itoa(opts.Timeout)
	}
	return r.update(ctx, params, "")
}

// DequeueOptions configures the dequeue instruction.
type DequeueOptions struct {
	To                   string
	From                 string
	PostWorkActivitySID  string
	Record               string
	Timeout              int // seconds
	StatusCallbackURL    string
	StatusCallbackEvents []string
}

// Dequeue issues the dequeue instruction for a queued voice call.
func (r *Reservation) Dequeue(ctx context.Context, opts DequeueOptions) error {
	params := command.Params{"Instruction": "dequeue"}
	params.Set("DequeueTo", opts.To).
		Set("DequeueFrom", opts.From).
		Set("DequeuePostWorkActivitySid", opts.PostWorkActivitySID).
		Set("DequeueRecord", opts.Record).
		Set("DequeueStatusCallbackUrl", opts.StatusCallbackURL).
		Set("DequeueStatusCallbackEvent", strings.Join(opts.StatusCallbackEvents, ","))
	if opts.Timeout > 0 {
		params["DequeueTimeout"] = strconv.Itoa(opts.Timeout)
	}
	return r.update(ctx, params, "")
}

// RedirectOptions configures the redirect instruction.
type RedirectOptions struct {
	Accept bool
}

// Redirect moves an active call to new TwiML at url.
func (r *Reservation) Redirect(ctx context.Context, callSID, url string, opts RedirectOptions) error {
	if callSID == "" {
		return fmt.Errorf("redirect instruction needs a call sid: %w", ErrInvalidArgument)
	}
	if url == "" {
		return fmt.Errorf("redirect instruction needs a url: %w", ErrInvalidArgument)
	}

	params := command.Params{
		"Instruction":     "redirect",
		"RedirectCallSid": callSID,
		"RedirectUrl":     url,
		"RedirectAccept":  strconv.FormatBool(opts.Accept),
	}
	return r.update(ctx, params, "")
}

// update posts params to the reservation and applies the response. On failure nothing changes.
func (r *Reservation) update(ctx context.Context, params command.Params, eventType string) error {
	url := r.w.endpoints.TaskRouter + "/Tasks/" + r.TaskSID() + "/Reservations/" + r.sid
	payload, err := r.w.send(ctx, http.MethodPost, url, params, eventType)
	if err != nil {
		return err
	}

	var p reservationPatch
	if err := decode(payload, &p); err != nil {
		return err
	}

	r.w.mu.Lock()
	r.apply(p)
	r.w.mu.Unlock()
	return nil
}
