package taskrouter

import (
	"context"
	"time"
)

// Activity is a state a worker can occupy. Exactly one activity of a ready worker is current.
type Activity struct {
	w   *Worker
	sid string

	name        string
	available   bool
	isCurrent   bool
	dateCreated time.Time
	dateUpdated time.Time
}

func newActivity(w *Worker, p activityPatch) *Activity {
	a := &Activity{w: w, sid: p.SID}
	a.apply(p)
	return a
}

// apply patches the mutable fields present in p. Caller holds w.mu.
func (a *Activity) apply(p activityPatch) {
	setString(&a.name, p.FriendlyName)
	if p.Available != nil {
		a.available = *p.Available
	}
	setTime(&a.dateCreated, p.DateCreated)
	setTime(&a.dateUpdated, p.DateUpdated)
}

// SID returns the activity sid.
func (a *Activity) SID() string { return a.sid }

// WorkspaceSID returns the workspace the activity belongs to.
func (a *Activity) WorkspaceSID() string { return a.w.workspaceSID }

// AccountSID returns the account that owns the activity.
func (a *Activity) AccountSID() string { return a.w.accountSID }

// Name returns the activity friendly name.
func (a *Activity) Name() string {
	a.w.mu.RLock()
	defer a.w.mu.RUnlock()
	return a.name
}

// Available reports whether the worker can receive work while in this activity.
func (a *Activity) Available() bool {
	a.w.mu.RLock()
	defer a.w.mu.RUnlock()
	return a.available
}

// IsCurrent reports whether this is the worker's current activity.
func (a *Activity) IsCurrent() bool {
	a.w.mu.RLock()
	defer a.w.mu.RUnlock()
	return a.isCurrent
}

// DateCreated returns when the activity was created.
func (a *Activity) DateCreated() time.Time {
	a.w.mu.RLock()
	defer a.w.mu.RUnlock()
	return a.dateCreated
}

// DateUpdated returns when the activity was last updated.
func (a *Activity) DateUpdated() time.Time {
	a.w.mu.RLock()
	defer a.w.mu.RUnlock()
	return a.dateUpdated
}

// SetAsCurrent moves the worker into this activity.
func (a *Activity) SetAsCurrent(ctx context.Context) error {
	return a.w.SetCurrentActivity(ctx, a.sid)
}
