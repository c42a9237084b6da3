package taskrouter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/st-keller/taskrouter-client/command"
)

// Channel is the worker's capacity and availability for one task channel (voice, chat, ...).
type Channel struct {
	w                     *Worker
	sid                   string
	taskChannelSID        string
	taskChannelUniqueName string

	capacity                    int
	assignedTasks               int
	available                   bool
	availableCapacityPercentage float64
	dateCreated                 time.Time
	dateUpdated                 time.Time
}

func newChannel(w *Worker, p channelPatch) *Channel {
	c := &Channel{w: w, sid: p.SID}
	setString(&c.taskChannelSID, p.TaskChannelSID)
	setString(&c.taskChannelUniqueName, p.TaskChannelUniqueName)
	c.apply(p)
	return c
}

// apply patches capacity, availability, load and dates. The task channel identity never changes.
// Caller holds w.mu.
func (c *Channel) apply(p channelPatch) {
	if p.ConfiguredCapacity != nil {
		c.capacity = *p.ConfiguredCapacity
	}
	if p.Available != nil {
		c.available = *p.Available
	}
	if p.AssignedTasks != nil {
		c.assignedTasks = *p.AssignedTasks
	}
	if p.AvailableCapacityPercentage != nil {
		c.availableCapacityPercentage = *p.AvailableCapacityPercentage
	}
	setTime(&c.dateCreated, p.DateCreated)
	setTime(&c.dateUpdated, p.DateUpdated)
}

// SID returns the channel sid.
func (c *Channel) SID() string { return c.sid }

// TaskChannelSID returns the task channel sid (voice, chat, ...).
func (c *Channel) TaskChannelSID() string { return c.taskChannelSID }

// TaskChannelUniqueName returns the task channel unique name.
func (c *Channel) TaskChannelUniqueName() string { return c.taskChannelUniqueName }

// WorkerSID returns the worker the channel belongs to.
func (c *Channel) WorkerSID() string { return c.w.sid }

// WorkspaceSID returns the workspace the channel belongs to.
func (c *Channel) WorkspaceSID() string { return c.w.workspaceSID }

// Capacity returns the configured number of concurrent tasks.
func (c *Channel) Capacity() int {
	c.w.mu.RLock()
	defer c.w.mu.RUnlock()
	return c.capacity
}

// AssignedTasks returns how many tasks are currently assigned on the channel.
func (c *Channel) AssignedTasks() int {
	c.w.mu.RLock()
	defer c.w.mu.RUnlock()
	return c.assignedTasks
}

// Available reports whether the channel accepts new work.
func (c *Channel) Available() bool {
	c.w.mu.RLock()
	defer c.w.mu.RUnlock()
	return c.available
}

// AvailableCapacityPercentage returns the share of capacity still free, 0 to 100.
func (c *Channel) AvailableCapacityPercentage() float64 {
	c.w.mu.RLock()
	defer c.w.mu.RUnlock()
	return c.availableCapacityPercentage
}

// DateCreated returns when the channel was created.
func (c *Channel) DateCreated() time.Time {
	c.w.mu.RLock()
	defer c.w.mu.RUnlock()
	return c.dateCreated
}

// DateUpdated returns when the channel was last updated.
func (c *Channel) DateUpdated() time.Time {
	c.w.mu.RLock()
	defer c.w.mu.RUnlock()
	return c.dateUpdated
}

// SetAvailability marks the channel available or unavailable for new work.
func (c *Channel) SetAvailability(ctx context.Context, available bool) error {
	params := command.Params{"Available": strconv.FormatBool(available)}
	return c.update(ctx, params, "availabilityUpdated")
}

// SetCapacity sets how many concurrent tasks the worker accepts on this channel.
func (c *Channel) SetCapacity(ctx context.Context, capacity int) error {
	if capacity < 0 {
		return fmt.Errorf("capacity must not be negative, got %d: %w", capacity, ErrInvalidArgument)
	}
	params := command.Params{"Capacity": strconv.Itoa(capacity)}
	return c.update(ctx, params, "capacityUpdated")
}

// update posts params and applies the response. On failure the channel is left untouched.
func (c *Channel) update(ctx context.Context, params command.Params, eventType string) error {
	url := c.w.endpoints.TaskRouter + "/Workers/" + c.w.sid + "/Channels/" + c.sid
	payload, err := c.w.send(ctx, http.MethodPost, url, params, eventType)
	if err != nil {
		return err
	}

	var p channelPatch
	if err := decode(payload, &p); err != nil {
		return err
	}

	c.w.mu.Lock()
	c.apply(p)
	c.w.mu.Unlock()
	return nil
}
