package taskrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/st-keller/taskrouter-client/command"
)

// Task is a point-in-time snapshot of a unit of work. Pushes never update it.
type Task struct {
	w *Worker

	mu                    sync.RWMutex
	sid                   string
	workflowSID           string
	workflowName          string
	taskQueueSID          string
	taskQueueName         string
	taskChannelSID        string
	taskChannelUniqueName string
	status                string
	attributes            json.RawMessage
	addons                json.RawMessage
	age                   int
	priority              int
	reason                string
	timeout               int
	dateCreated           time.Time
	dateUpdated           time.Time
}

func newTask(w *Worker, p taskPatch) *Task {
	t := &Task{w: w}
	t.apply(p)
	return t
}

// apply patches the fields present in p. Caller holds t.mu or owns t exclusively.
func (t *Task) apply(p taskPatch) {
	setString(&t.sid, p.SID)
	setString(&t.workflowSID, p.WorkflowSID)
	setString(&t.workflowName, p.WorkflowFriendlyName)
	setString(&t.taskQueueSID, p.TaskQueueSID)
	setString(&t.taskQueueName, p.TaskQueueFriendlyName)
	setString(&t.taskChannelSID, p.TaskChannelSID)
	setString(&t.taskChannelUniqueName, p.TaskChannelUniqueName)
	setString(&t.status, p.AssignmentStatus)
	if p.Attributes != nil {
		t.attributes = p.Attributes.raw()
	}
	if p.Addons != nil {
		t.addons = p.Addons.raw()
	}
	if p.Age != nil {
		t.age = *p.Age
	}
	if p.Priority != nil {
		t.priority = *p.Priority
	}
	setString(&t.reason, p.Reason)
	if p.Timeout != nil {
		t.timeout = *p.Timeout
	}
	setTime(&t.dateCreated, p.DateCreated)
	setTime(&t.dateUpdated, p.DateUpdated)
}

// SID returns the task sid.
func (t *Task) SID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sid
}

// AccountSID returns the account that owns the task.
func (t *Task) AccountSID() string { return t.w.accountSID }

// WorkspaceSID returns the workspace the task belongs to.
func (t *Task) WorkspaceSID() string { return t.w.workspaceSID }

// WorkflowSID returns the workflow that routed the task.
func (t *Task) WorkflowSID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.workflowSID
}

// WorkflowName returns the workflow friendly name.
func (t *Task) WorkflowName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.workflowName
}

// TaskQueueSID returns the queue the task waited in.
func (t *Task) TaskQueueSID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.taskQueueSID
}

// TaskQueueName returns the queue friendly name.
func (t *Task) TaskQueueName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.taskQueueName
}

// TaskChannelSID returns the task channel sid (voice, chat, ...).
func (t *Task) TaskChannelSID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.taskChannelSID
}

// TaskChannelUniqueName returns the task channel unique name.
func (t *Task) TaskChannelUniqueName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.taskChannelUniqueName
}

// Status is the assignment status (pending, reserved, assigned, wrapping, completed, canceled).
func (t *Task) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Attributes returns a copy of the task attributes document.
func (t *Task) Attributes() json.RawMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append(json.RawMessage(nil), t.attributes...)
}

// Addons returns a copy of the add-ons document.
func (t *Task) Addons() json.RawMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append(json.RawMessage(nil), t.addons...)
}

// Age is the task age in seconds at fetch time.
func (t *Task) Age() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.age
}

// Priority returns the task priority.
func (t *Task) Priority() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.priority
}

// Reason returns the reason given when the task was completed or canceled.
func (t *Task) Reason() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reason
}

// Timeout returns the task timeout in seconds.
func (t *Task) Timeout() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.timeout
}

// DateCreated returns when the task was created.
func (t *Task) DateCreated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dateCreated
}

// DateUpdated returns when the task was last updated.
func (t *Task) DateUpdated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dateUpdated
}

// Complete moves the task to completed. reason is required. On failure the task is untouched.
func (t *Task) Complete(ctx context.Context, reason string) error {
	if reason == "" {
		return fmt.Errorf("a reason is required to complete a task: %w", ErrInvalidArgument)
	}

	params := command.Params{
		"AssignmentStatus": "completed",
		"Reason":           reason,
	}
	url := t.w.endpoints.TaskRouter + "/Tasks/" + t.SID()
	payload, err := t.w.send(ctx, http.MethodPost, url, params, "taskCompleted")
	if err != nil {
		return err
	}

	var p taskPatch
	if err := decode(payload, &p); err != nil {
		return err
	}

	t.mu.Lock()
	t.apply(p)
	t.mu.Unlock()
	return nil
}
