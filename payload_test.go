package taskrouter

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFlexTime(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"epoch seconds", `1704164645`, want},
		{"fractional epoch", `1704164645.5`, want.Add(500 * time.Millisecond)},
		{"epoch string", `"1704164645"`, want},
		{"rfc3339", `"2024-01-02T03:04:05Z"`, want},
		{"rfc1123z", `"Tue, 02 Jan 2024 03:04:05 +0000"`, want},
		{"null", `null`, time.Time{}},
		{"empty string", `""`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v struct {
				At flexTime `json:"at"`
			}
			if err := json.Unmarshal([]byte(`{"at":`+tt.input+`}`), &v); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !v.At.Equal(tt.want) {
				t.Fatalf("expected %s, got %s", tt.want, v.At.Time)
			}
		})
	}
}

func TestFlexTimeRejectsGarbage(t *testing.T) {
	var v flexTime
	if err := json.Unmarshal([]byte(`"yesterday"`), &v); err == nil {
		t.Fatal("expected an error")
	}
}

func TestJSONText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"embedded string", `"{\"skills\":[\"en\"]}"`, `{"skills":["en"]}`},
		{"inline object", `{"skills":["en"]}`, `{"skills":["en"]}`},
		{"empty string", `""`, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p workerPatch
			if err := json.Unmarshal([]byte(`{"attributes":`+tt.input+`}`), &p); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got := string(p.Attributes.raw()); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestJSONTextRejectsInvalidEmbeddedDocument(t *testing.T) {
	var p workerPatch
	if err := json.Unmarshal([]byte(`{"attributes":"{not json"}`), &p); err == nil {
		t.Fatal("expected an error")
	}
}

func TestDecode(t *testing.T) {
	var p workerPatch
	if err := decode(nil, &p); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if err := decode(json.RawMessage(`[1,2]`), &p); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if err := decode(json.RawMessage(`{"activity_sid":"WA1","friendly_name":null}`), &p); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if deref(p.ActivitySID) != "WA1" || p.FriendlyName != nil {
		t.Fatalf("unexpected patch %+v", p)
	}
}

func TestReservationPatchIdentity(t *testing.T) {
	tests := []struct {
		input   string
		id      string
		taskSID string
	}{
		{`{"sid":"WRxxx","task_sid":"WTxxx"}`, "WRxxx", "WTxxx"},
		{`{"reservation_sid":"WRxxx","sid":"WTxxx"}`, "WRxxx", "WTxxx"},
		{`{"reservation_sid":"WRxxx","sid":"WTyyy","task_sid":"WTxxx"}`, "WRxxx", "WTxxx"},
	}
	for _, tt := range tests {
		var p reservationPatch
		if err := decode(json.RawMessage(tt.input), &p); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if p.id() != tt.id || p.taskID() != tt.taskSID {
			t.Fatalf("%s: expected %s/%s, got %s/%s", tt.input, tt.id, tt.taskSID, p.id(), p.taskID())
		}
	}
}
