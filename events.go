package taskrouter

import "slices"

// EventType names a domain event.
type EventType string

// Worker-level events.
const (
	EventReady             EventType = "ready"
	EventError             EventType = "error"
	EventDisconnected      EventType = "disconnected"
	EventTokenExpired      EventType = "tokenExpired"
	EventTokenUpdated      EventType = "tokenUpdated"
	EventActivityUpdated   EventType = "activityUpdated"
	EventAttributesUpdated EventType = "attributesUpdated"
)

// Entity events. Event.Activity, Event.Channel or Event.Reservation is set accordingly.
const (
	EventActivityNameUpdated EventType = "activityNameUpdated"

	EventChannelCapacityUpdated     EventType = "capacityUpdated"
	EventChannelAvailabilityUpdated EventType = "availabilityUpdated"

	EventReservationCreated   EventType = "reservationCreated"
	EventReservationAccepted  EventType = "accepted"
	EventReservationRejected  EventType = "rejected"
	EventReservationTimedOut  EventType = "timedOut"
	EventReservationCanceled  EventType = "canceled"
	EventReservationRescinded EventType = "rescinded"
)

// Event is delivered to subscribers after the model has been updated.
type Event struct {
	Type        EventType
	Worker      *Worker
	Activity    *Activity
	Channel     *Channel
	Reservation *Reservation
	Err         error
}

type subscriber struct {
	id int
	fn func(Event)
}

// Subscribe registers fn for every event and returns a function that removes it.
//
// Handlers run in registration order on the goroutine that produced the event. Connection,
// push and initialization events come from the signaling goroutine, one at a time.
// EventTokenExpired comes from the expiry timer and EventTokenUpdated from the UpdateToken
// caller, so those may run concurrently with the others. A handler may call back into the
// Worker, including UpdateToken, but must not call Stop.
func (w *Worker) Subscribe(fn func(Event)) (unsubscribe func()) {
	w.subMu.Lock()
	defer w.subMu.Unlock()

	id := w.nextSub
	w.nextSub++
	w.subs = append(w.subs, subscriber{id: id, fn: fn})

	return func() {
		w.subMu.Lock()
		defer w.subMu.Unlock()
		w.subs = slices.DeleteFunc(w.subs, func(s subscriber) bool { return s.id == id })
	}
}

func (w *Worker) emit(ev Event) {
	ev.Worker = w

	w.subMu.RLock()
	subs := slices.Clone(w.subs)
	w.subMu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
