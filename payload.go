package taskrouter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// flexTime decodes the date formats the backend mixes across resources:
// epoch seconds (number or numeric string), RFC 3339 and RFC 1123 with numeric zone.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] != '"' {
		secs, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("invalid date %s: %w", b, err)
		}
		t.Time = epoch(secs)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC1123Z} {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts
			return nil
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		t.Time = epoch(secs)
		return nil
	}
	return fmt.Errorf("invalid date %q", s)
}

func epoch(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

// jsonText holds an opaque JSON document that the backend sends either inline
// or encoded as a string (attributes, addons).
type jsonText json.RawMessage

func (j *jsonText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*j = nil
			return nil
		}
		if !json.Valid([]byte(s)) {
			return fmt.Errorf("embedded JSON is not valid: %q", s)
		}
		*j = jsonText(s)
		return nil
	}
	*j = append((*j)[:0], b...)
	return nil
}

func (j jsonText) raw() json.RawMessage {
	if j == nil {
		return nil
	}
	return append(json.RawMessage(nil), j...)
}

func setTime(dst *time.Time, src *flexTime) {
	if src != nil {
		*dst = src.Time
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func decode(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return fmt.Errorf("empty payload: %w", ErrInvalidPayload)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// workerPatch lists the worker fields an inbound payload may change.
type workerPatch struct {
	ActivitySID       *string   `json:"activity_sid"`
	FriendlyName      *string   `json:"friendly_name"`
	Attributes        *jsonText `json:"attributes"`
	DateCreated       *flexTime `json:"date_created"`
	DateUpdated       *flexTime `json:"date_updated"`
	DateStatusChanged *flexTime `json:"date_status_changed"`
}

type activityPatch struct {
	SID          string    `json:"sid"`
	FriendlyName *string   `json:"friendly_name"`
	Available    *bool     `json:"available"`
	DateCreated  *flexTime `json:"date_created"`
	DateUpdated  *flexTime `json:"date_updated"`
}

type channelPatch struct {
	SID                         string    `json:"sid"`
	TaskChannelSID              *string   `json:"task_channel_sid"`
	TaskChannelUniqueName       *string   `json:"task_channel_unique_name"`
	ConfiguredCapacity          *int      `json:"configured_capacity"`
	Available                   *bool     `json:"available"`
	AssignedTasks               *int      `json:"assigned_tasks"`
	AvailableCapacityPercentage *float64  `json:"available_capacity_percentage"`
	DateCreated                 *flexTime `json:"date_created"`
	DateUpdated                 *flexTime `json:"date_updated"`
}

type reservationPatch struct {
	SID                   *string   `json:"sid"`
	ReservationSID        *string   `json:"reservation_sid"`
	TaskSID               *string   `json:"task_sid"`
	WorkerSID             *string   `json:"worker_sid"`
	WorkerName            *string   `json:"worker_name"`
	ReservationStatus     *string   `json:"reservation_status"`
	TaskChannelSID        *string   `json:"task_channel_sid"`
	TaskChannelUniqueName *string   `json:"task_channel_unique_name"`
	DateCreated           *flexTime `json:"date_created"`
	DateUpdated           *flexTime `json:"date_updated"`
}

// id resolves the reservation sid: offers carry reservation_sid, the backlog only sid.
func (p reservationPatch) id() string {
	if p.ReservationSID != nil && *p.ReservationSID != "" {
		return *p.ReservationSID
	}
	if p.SID != nil {
		return *p.SID
	}
	return ""
}

func (p reservationPatch) taskID() string {
	if p.TaskSID != nil && *p.TaskSID != "" {
		return *p.TaskSID
	}
	if p.SID != nil {
		return *p.SID
	}
	return ""
}

type taskPatch struct {
	SID                   *string   `json:"sid"`
	WorkflowSID           *string   `json:"workflow_sid"`
	WorkflowFriendlyName  *string   `json:"workflow_friendly_name"`
	TaskQueueSID          *string   `json:"task_queue_sid"`
	TaskQueueFriendlyName *string   `json:"task_queue_friendly_name"`
	TaskChannelSID        *string   `json:"task_channel_sid"`
	TaskChannelUniqueName *string   `json:"task_channel_unique_name"`
	AssignmentStatus      *string   `json:"assignment_status"`
	Attributes            *jsonText `json:"attributes"`
	Addons                *jsonText `json:"addons"`
	Age                   *int      `json:"age"`
	Priority              *int      `json:"priority"`
	Reason                *string   `json:"reason"`
	Timeout               *int      `json:"timeout"`
	DateCreated           *flexTime `json:"date_created"`
	DateUpdated           *flexTime `json:"date_updated"`
}
